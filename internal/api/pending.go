package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// PendingHandler serves the confirmation queue on the management plane.
type PendingHandler struct {
	pending PendingAdmin
	log     *logrus.Logger
}

// NewPendingHandler creates a PendingHandler.
func NewPendingHandler(pending PendingAdmin, log *logrus.Logger) *PendingHandler {
	return &PendingHandler{pending: pending, log: log}
}

// List handles GET /admin/pending.
func (h *PendingHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"actions": h.pending.List(c.Request.Context())})
}

// Approve handles POST /admin/pending/:action_id/approve. The buffered call
// is executed before the response is written.
func (h *PendingHandler) Approve(c *gin.Context) {
	action, err := h.pending.Approve(c.Request.Context(), c.Param("action_id"))
	if err != nil {
		respondErr(c, h.log, err, true)
		return
	}

	c.JSON(http.StatusOK, action)
}

// Deny handles POST /admin/pending/:action_id/deny.
func (h *PendingHandler) Deny(c *gin.Context) {
	action, err := h.pending.Deny(c.Request.Context(), c.Param("action_id"))
	if err != nil {
		respondErr(c, h.log, err, false)
		return
	}

	c.JSON(http.StatusOK, action)
}
