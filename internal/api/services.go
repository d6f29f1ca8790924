package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/clawbridge/clawbridge/internal/gateway"
	"github.com/clawbridge/clawbridge/internal/middleware"
	"github.com/clawbridge/clawbridge/internal/models"
)

var serviceNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ServiceHandler serves the service catalog and service invocation.
type ServiceHandler struct {
	gw  Gateway
	log *logrus.Logger
}

// NewServiceHandler creates a ServiceHandler.
func NewServiceHandler(gw Gateway, log *logrus.Logger) *ServiceHandler {
	return &ServiceHandler{gw: gw, log: log}
}

// callResponse is returned when a call was forwarded.
type callResponse struct {
	EntityIDs  []string           `json:"entity_ids"`
	Result     json.RawMessage    `json:"result"`
	Violations []models.Violation `json:"violations,omitempty"`
}

// pendingResponse is returned when a call awaits confirmation.
type pendingResponse struct {
	ActionID   string             `json:"action_id"`
	Status     string             `json:"status"`
	EntityID   string             `json:"entity_id"`
	ExpiresAt  time.Time          `json:"expires_at"`
	Violations []models.Violation `json:"violations,omitempty"`
	Message    string             `json:"message"`
}

// List handles GET /api/services.
func (h *ServiceHandler) List(c *gin.Context) {
	services, err := h.gw.VisibleServices(c.Request.Context(), middleware.IdentityFrom(c))
	if err != nil {
		respondErr(c, h.log, err, false)
		return
	}

	c.JSON(http.StatusOK, services)
}

// Call handles POST /api/services/:domain/:service.
func (h *ServiceHandler) Call(c *gin.Context) {
	domain, service := c.Param("domain"), c.Param("service")
	if !serviceNamePattern.MatchString(domain) || !serviceNamePattern.MatchString(service) {
		respondInvalid(c, "invalid domain or service name")
		return
	}

	payload, err := decodePayload(c)
	if err != nil {
		respondInvalid(c, "request body must be a JSON object")
		return
	}

	res, err := h.gw.Call(c.Request.Context(), middleware.IdentityFrom(c), gateway.CallRequest{
		Domain:  domain,
		Service: service,
		Payload: payload,
	})
	if err != nil {
		respondErr(c, h.log, err, true)
		return
	}

	if res.Pending() {
		c.JSON(http.StatusAccepted, pendingResponse{
			ActionID:   res.Action.ID,
			Status:     string(res.Action.Status),
			EntityID:   res.Action.EntityID,
			ExpiresAt:  res.Action.ExpiresAt,
			Violations: res.Violations,
			Message:    "awaiting confirmation",
		})

		return
	}

	c.JSON(http.StatusOK, callResponse{
		EntityIDs:  res.EntityIDs,
		Result:     res.Result,
		Violations: res.Violations,
	})
}

// ConfirmStatus handles GET /api/confirm/:action_id.
func (h *ServiceHandler) ConfirmStatus(c *gin.Context) {
	actionID := c.Param("action_id")
	if actionID == "" || len(actionID) > 64 {
		respondInvalid(c, "invalid action id")
		return
	}

	action, err := h.gw.ActionStatus(c.Request.Context(), middleware.IdentityFrom(c), actionID)
	if err != nil {
		respondErr(c, h.log, err, false)
		return
	}

	c.JSON(http.StatusOK, action)
}

// decodePayload reads the call body. An empty body is an empty payload.
func decodePayload(c *gin.Context) (map[string]any, error) {
	raw, err := c.GetRawData()
	if err != nil {
		return nil, err
	}

	payload := map[string]any{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return payload, nil
	}

	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}

	if payload == nil {
		payload = map[string]any{}
	}

	return payload, nil
}
