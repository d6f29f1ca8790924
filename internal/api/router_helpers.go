package api

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/clawbridge/clawbridge/internal/middleware"
	"github.com/clawbridge/clawbridge/internal/models"
	"github.com/clawbridge/clawbridge/internal/ws"
)

func wsHandler(appCtx context.Context, log *logrus.Logger, hub *ws.Hub, corsOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// CORS origins are reused as WebSocket origin patterns. The config
		// validator ensures these are safe host patterns (no wildcards etc.).
		conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
			OriginPatterns:       corsOrigins,
			CompressionMode:      websocket.CompressionContextTakeover,
			CompressionThreshold: 128,
		})
		if err != nil {
			log.WithError(err).Error("websocket accept failed")

			return
		}

		// Derive a context that cancels when either the server shuts down or the request ends.
		wsCtx, wsCancel := context.WithCancel(appCtx)
		defer wsCancel()
		go func() {
			select {
			case <-c.Request.Context().Done():
				wsCancel()
			case <-wsCtx.Done():
			}
		}()

		hub.Serve(wsCtx, conn, c.ClientIP())
	}
}

func ginLogger(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		fields := logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"client":   c.ClientIP(),
		}
		if rid, exists := c.Get(middleware.RequestIDKey); exists {
			fields["request_id"] = rid
		}
		if _, exists := c.Get(middleware.IdentityKey); exists {
			if kid := middleware.IdentityFrom(c).KeyID(); kid != "" {
				fields["key_id"] = kid
			}
		}
		log.WithFields(fields).Info("request")
	}
}

// maxQueryLimit caps list sizes requested through ?limit=.
const maxQueryLimit = 1000

func parseInt(s string, fallback int) int {
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return fallback
	}

	if v > maxQueryLimit {
		return maxQueryLimit
	}

	return v
}

// entityParam reads and validates the :entity_id path parameter.
func entityParam(c *gin.Context) (string, bool) {
	id := c.Param("entity_id")
	if !models.ValidEntityID(id) {
		respondInvalid(c, "invalid entity id")
		return "", false
	}

	return id, true
}

// pathID reads a generated identifier from the :id path parameter.
func pathID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if id == "" || len(id) > 64 {
		respondInvalid(c, "invalid id")
		return "", false
	}

	return id, true
}

// splitList splits a comma-separated query value, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}
