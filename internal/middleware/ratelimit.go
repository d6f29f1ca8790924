// Package middleware provides HTTP middleware for the gateway.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/clawbridge/clawbridge/internal/ratelimit"
)

// RateLimit returns Gin middleware that charges one token per request to the
// client IP's bucket in l, prefixed by scope so planes do not share budgets.
func RateLimit(l *ratelimit.Limiter, scope string, perMinute int, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// c.ClientIP() is safe from X-Forwarded-For spoofing because
		// SetTrustedProxies(nil) in router.go disables proxy header trust.
		ip := c.ClientIP()

		if !l.Allow(scope+":"+ip, perMinute) {
			log.WithFields(logrus.Fields{
				"client_ip": ip,
				"scope":     scope,
			}).Info("request rate limited")
			respondError(c, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")

			return
		}

		c.Next()
	}
}
