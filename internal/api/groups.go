package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/clawbridge/clawbridge/internal/models"
)

// GroupHandler serves entity group management.
type GroupHandler struct {
	policy PolicyAdmin
	log    *logrus.Logger
}

// NewGroupHandler creates a GroupHandler.
func NewGroupHandler(policy PolicyAdmin, log *logrus.Logger) *GroupHandler {
	return &GroupHandler{policy: policy, log: log}
}

// List handles GET /admin/groups.
func (h *GroupHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"groups": h.policy.Snapshot().Groups})
}

// Create handles POST /admin/groups.
func (h *GroupHandler) Create(c *gin.Context) {
	var req models.GroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, "invalid request body")
		return
	}

	group, err := h.policy.CreateGroup(c.Request.Context(), req)
	if err != nil {
		respondErr(c, h.log, err, false)
		return
	}

	c.JSON(http.StatusCreated, group)
}

// Update handles PUT /admin/groups/:id.
func (h *GroupHandler) Update(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req models.GroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, "invalid request body")
		return
	}

	group, err := h.policy.UpdateGroup(c.Request.Context(), id, req)
	if err != nil {
		respondErr(c, h.log, err, false)
		return
	}

	c.JSON(http.StatusOK, group)
}

// Delete handles DELETE /admin/groups/:id.
func (h *GroupHandler) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.policy.DeleteGroup(c.Request.Context(), id); err != nil {
		respondErr(c, h.log, err, false)
		return
	}

	c.Status(http.StatusNoContent)
}

// SetAccess handles POST /admin/groups/:id/access, applying one tier to every
// member. "off" writes an explicit none.
func (h *GroupHandler) SetAccess(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req accessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, "invalid request body")
		return
	}

	level, err := models.ParseAccessLevel(req.Access)
	if err != nil {
		respondErr(c, h.log, err, false)
		return
	}

	updated, err := h.policy.SetGroupAccess(c.Request.Context(), id, level)
	if err != nil {
		respondErr(c, h.log, err, false)
		return
	}

	h.log.WithFields(logrus.Fields{"group_id": id, "access": level, "updated": updated}).Info("group access applied")
	c.JSON(http.StatusOK, gin.H{"group_id": id, "access": level, "updated": updated})
}
