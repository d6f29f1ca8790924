package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/clawbridge/clawbridge/internal/gateway"
	"github.com/clawbridge/clawbridge/internal/security"
)

// authTimingFloor is the minimum response time for rejected credentials so
// valid and invalid tokens cannot be told apart by latency.
const authTimingFloor = 50 * time.Millisecond

// IdentityKey is the gin context key holding the data-plane *gateway.Identity.
const IdentityKey = "identity"

// Gatekeeper admits data-plane callers.
type Gatekeeper interface {
	CheckIP(addr string) error
	Authenticate(ctx context.Context, token, addr string) (*gateway.Identity, error)
}

// truncateKey returns at most the first 4 characters of key followed by "...".
func truncateKey(key string) string {
	if len(key) > 4 {
		return key[:4] + "..."
	}
	return key
}

// enforceTimingFloor sleeps if needed so the response takes at least authTimingFloor.
func enforceTimingFloor(start time.Time) {
	if elapsed := time.Since(start); elapsed < authTimingFloor {
		time.Sleep(authTimingFloor - elapsed)
	}
}

// Gateway admits data-plane requests: the source address must pass the
// allowlist and the bearer token must name an API key unless none exist.
func Gateway(g Gatekeeper, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		defer func() {
			if c.Writer.Status() == http.StatusUnauthorized {
				enforceTimingFloor(start)
			}
		}()

		if err := g.CheckIP(c.ClientIP()); err != nil {
			abortWithError(c, err)
			return
		}

		token := ExtractBearerToken(c)

		id, err := g.Authenticate(c.Request.Context(), token, c.ClientIP())
		if err != nil {
			logAuthFailure(log, c, token)
			abortWithError(c, err)

			return
		}

		c.Set(IdentityKey, id)
		c.Next()
	}
}

// IdentityFrom returns the identity stored by Gateway.
func IdentityFrom(c *gin.Context) *gateway.Identity {
	if v, ok := c.Get(IdentityKey); ok {
		if id, ok := v.(*gateway.Identity); ok {
			return id
		}
	}

	return &gateway.Identity{Addr: c.ClientIP()}
}

// ManagementAuth protects the management plane with a single shared bearer
// token. Failures are tracked per client address by guard.
func ManagementAuth(token string, guard *security.BruteForceGuard, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		defer func() {
			if c.Writer.Status() == http.StatusUnauthorized {
				enforceTimingFloor(start)
			}
		}()

		ip := c.ClientIP()
		if guard.IsBlocked(ip) {
			respondError(c, http.StatusTooManyRequests, "rate_limited", "too many failed attempts")
			return
		}

		got := ExtractBearerToken(c)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			logAuthFailure(log, c, got)
			guard.RecordFailure(ip)
			respondError(c, http.StatusUnauthorized, "unauthorized", "invalid management token")

			return
		}

		guard.Reset(ip)
		c.Next()
	}
}

// ExtractBearerToken extracts the token from the Authorization header.
func ExtractBearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

// logAuthFailure logs a failed authentication attempt.
func logAuthFailure(log *logrus.Logger, c *gin.Context, token string) {
	log.WithFields(logrus.Fields{
		"client_ip":  c.ClientIP(),
		"method":     c.Request.Method,
		"path":       c.Request.URL.Path,
		"user_agent": c.Request.UserAgent(),
		"request_id": c.GetString(RequestIDKey),
		"key_prefix": truncateKey(token),
	}).Warn("authentication failed")
}
