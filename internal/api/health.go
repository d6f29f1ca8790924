package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Pinger verifies a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves health check endpoints.
type HealthHandler struct {
	backend   BackendStatus
	policy    Pinger
	clients   ClientCounter
	log       *logrus.Logger
	version   string
	startTime time.Time
}

// NewHealthHandler creates a HealthHandler with the given dependencies.
func NewHealthHandler(backend BackendStatus, policy Pinger, clients ClientCounter, log *logrus.Logger, version string) *HealthHandler {
	return &HealthHandler{
		backend:   backend,
		policy:    policy,
		clients:   clients,
		log:       log,
		version:   version,
		startTime: time.Now(),
	}
}

// readinessResponse is the JSON payload returned by the readiness endpoint.
type readinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// healthResponse is the JSON payload returned by the health/liveness endpoint.
type healthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	Backend       string  `json:"backend"`
	WSClients     int     `json:"ws_clients"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// Liveness handles GET /health. It always answers 200 while the process runs.
func (h *HealthHandler) Liveness(c *gin.Context) {
	resp := healthResponse{
		Status:        "ok",
		Version:       h.version,
		Backend:       "disconnected",
		UptimeSeconds: time.Since(h.startTime).Seconds(),
	}

	if h.backend != nil && h.backend.Connected() {
		resp.Backend = "connected"
	}

	if h.clients != nil {
		resp.WSClients = h.clients.ClientCount()
	}

	c.JSON(http.StatusOK, resp)
}

// Readiness handles GET /ready: the backend push connection must be up and
// the policy store readable.
func (h *HealthHandler) Readiness(c *gin.Context) {
	checks := map[string]string{
		"backend": "ok",
		"policy":  "ok",
	}
	status := "ready"
	statusCode := http.StatusOK

	if h.backend == nil || !h.backend.Connected() {
		checks["backend"] = "disconnected"
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	if err := h.policy.Ping(ctx); err != nil {
		h.log.WithError(err).Error("readiness: policy store check failed")
		checks["policy"] = "error"
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, readinessResponse{
		Status: status,
		Checks: checks,
	})
}
