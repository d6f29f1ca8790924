package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/clawbridge/clawbridge/internal/gateway"
	"github.com/clawbridge/clawbridge/internal/middleware"
)

// HistoryHandler serves entity history.
type HistoryHandler struct {
	gw  Gateway
	log *logrus.Logger
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(gw Gateway, log *logrus.Logger) *HistoryHandler {
	return &HistoryHandler{gw: gw, log: log}
}

// Period handles GET /api/history/period/:start.
func (h *HistoryHandler) Period(c *gin.Context) {
	start := c.Param("start")
	if _, err := time.Parse(time.RFC3339, start); err != nil {
		respondInvalid(c, "invalid start time, use RFC3339")
		return
	}

	end := c.Query("end_time")
	if end != "" {
		if _, err := time.Parse(time.RFC3339, end); err != nil {
			respondInvalid(c, "invalid end_time, use RFC3339")
			return
		}
	}

	raw, err := h.gw.History(c.Request.Context(), middleware.IdentityFrom(c), gateway.HistoryRequest{
		Start:     start,
		End:       end,
		EntityIDs: splitList(c.Query("filter_entity_id")),
	})
	if err != nil {
		respondErr(c, h.log, err, false)
		return
	}

	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}
