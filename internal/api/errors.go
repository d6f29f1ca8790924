package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/clawbridge/clawbridge/internal/backend"
	"github.com/clawbridge/clawbridge/internal/httputil"
	"github.com/clawbridge/clawbridge/internal/metrics"
)

// Error code constants used as metrics labels.
const (
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeInternalError  = "internal_error"
	ErrCodeUpstream       = "upstream_error"
)

// maxUpstreamDetail caps how much backend error text reaches a caller.
const maxUpstreamDetail = 200

// respondError writes the standard error body and counts it.
func respondError(c *gin.Context, status int, code, message string) {
	metrics.ErrorsTotal.WithLabelValues(code).Inc()
	httputil.RespondError(c, status, code, message)
}

// respondErr maps err to its status. Upstream and internal failures are logged
// and answered with generic text; service calls set detail to pass a
// truncated upstream message through.
func respondErr(c *gin.Context, log *logrus.Logger, err error, detail bool) {
	status, code := httputil.StatusFor(err)

	switch status {
	case http.StatusBadGateway:
		log.WithError(err).WithField("path", c.Request.URL.Path).Warn("upstream request failed")

		msg := "backend request failed"
		var upErr *backend.UpstreamError
		if detail && errors.As(err, &upErr) {
			msg = truncate(upErr.Error(), maxUpstreamDetail)
		}
		respondError(c, status, code, msg)
	case http.StatusInternalServerError:
		log.WithError(err).WithField("path", c.Request.URL.Path).Error("request failed")
		respondError(c, status, code, "internal error")
	default:
		respondError(c, status, code, err.Error())
	}
}

// respondInvalid answers a malformed body or parameter.
func respondInvalid(c *gin.Context, message string) {
	respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, message)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n]
}
