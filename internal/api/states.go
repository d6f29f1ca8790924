package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/clawbridge/clawbridge/internal/gateway"
	"github.com/clawbridge/clawbridge/internal/middleware"
)

// StateHandler serves entity state and capability endpoints.
type StateHandler struct {
	gw  Gateway
	log *logrus.Logger
}

// NewStateHandler creates a StateHandler.
func NewStateHandler(gw Gateway, log *logrus.Logger) *StateHandler {
	return &StateHandler{gw: gw, log: log}
}

// List handles GET /api/states.
func (h *StateHandler) List(c *gin.Context) {
	filter := gateway.StateFilter{
		Domain:  c.Query("domain"),
		Area:    c.Query("area"),
		Compact: c.Query("compact") == "true",
	}

	states, err := h.gw.VisibleStates(c.Request.Context(), middleware.IdentityFrom(c), filter)
	if err != nil {
		respondErr(c, h.log, err, false)
		return
	}

	c.JSON(http.StatusOK, states)
}

// Get handles GET /api/states/:entity_id.
func (h *StateHandler) Get(c *gin.Context) {
	entityID, ok := entityParam(c)
	if !ok {
		return
	}

	state, err := h.gw.VisibleState(c.Request.Context(), middleware.IdentityFrom(c), entityID)
	if err != nil {
		respondErr(c, h.log, err, false)
		return
	}

	c.JSON(http.StatusOK, state)
}

// Context handles GET /api/context.
func (h *StateHandler) Context(c *gin.Context) {
	caps, err := h.gw.Context(c.Request.Context(), middleware.IdentityFrom(c))
	if err != nil {
		respondErr(c, h.log, err, false)
		return
	}

	c.JSON(http.StatusOK, caps)
}
