// Package httputil provides shared HTTP response helpers.
package httputil

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clawbridge/clawbridge/internal/models"
)

// RespondError writes the single-field JSON error body and aborts the request.
// The code is not part of the body; callers use it for metrics labels only.
func RespondError(c *gin.Context, status int, _, message string) {
	c.AbortWithStatusJSON(status, gin.H{"message": message})
}

// StatusFor maps a sentinel error to an HTTP status and a metrics code.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrIPNotAllowed),
		errors.Is(err, models.ErrEntityNotExposed),
		errors.Is(err, models.ErrReadOnly),
		errors.Is(err, models.ErrDomainMismatch),
		errors.Is(err, models.ErrOutsideSchedule),
		errors.Is(err, models.ErrNoTargets):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, models.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, models.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, models.ErrConfirmationExpired):
		return http.StatusGone, "expired"
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrActionResolved), errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict, "conflict"
	case errors.Is(err, models.ErrUpstream):
		return http.StatusBadGateway, "upstream_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
