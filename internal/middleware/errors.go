package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/clawbridge/clawbridge/internal/httputil"
	"github.com/clawbridge/clawbridge/internal/metrics"
)

// respondError counts the error and writes the shared error body.
func respondError(c *gin.Context, code int, errCode, message string) {
	metrics.ErrorsTotal.WithLabelValues(errCode).Inc()
	httputil.RespondError(c, code, errCode, message)
}

// abortWithError maps a sentinel error to its status. The sentinel's text is
// the caller-facing message.
func abortWithError(c *gin.Context, err error) {
	status, code := httputil.StatusFor(err)
	respondError(c, status, code, err.Error())
}
