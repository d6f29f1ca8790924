package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/clawbridge/clawbridge/internal/models"
)

// ScheduleHandler serves schedule management.
type ScheduleHandler struct {
	policy PolicyAdmin
	log    *logrus.Logger
}

// NewScheduleHandler creates a ScheduleHandler.
func NewScheduleHandler(policy PolicyAdmin, log *logrus.Logger) *ScheduleHandler {
	return &ScheduleHandler{policy: policy, log: log}
}

type assignRequest struct {
	ScheduleID string `json:"schedule_id"`
}

// List handles GET /admin/schedules.
func (h *ScheduleHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"schedules": h.policy.Snapshot().Schedules})
}

// Create handles POST /admin/schedules.
func (h *ScheduleHandler) Create(c *gin.Context) {
	var req models.ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, "invalid request body")
		return
	}

	sched, err := h.policy.CreateSchedule(c.Request.Context(), req)
	if err != nil {
		respondErr(c, h.log, err, false)
		return
	}

	c.JSON(http.StatusCreated, sched)
}

// Update handles PUT /admin/schedules/:id.
func (h *ScheduleHandler) Update(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req models.ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, "invalid request body")
		return
	}

	sched, err := h.policy.UpdateSchedule(c.Request.Context(), id, req)
	if err != nil {
		respondErr(c, h.log, err, false)
		return
	}

	c.JSON(http.StatusOK, sched)
}

// Delete handles DELETE /admin/schedules/:id. Assignments to the schedule are removed.
func (h *ScheduleHandler) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.policy.DeleteSchedule(c.Request.Context(), id); err != nil {
		respondErr(c, h.log, err, false)
		return
	}

	c.Status(http.StatusNoContent)
}

// Assignments handles GET /admin/entity-schedules.
func (h *ScheduleHandler) Assignments(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"entity_schedules": h.policy.Snapshot().EntitySchedules})
}

// Assign handles PUT /admin/entity-schedules/:entity_id. An empty
// schedule_id clears the assignment.
func (h *ScheduleHandler) Assign(c *gin.Context) {
	entityID, ok := entityParam(c)
	if !ok {
		return
	}

	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, "invalid request body")
		return
	}

	if err := h.policy.SetEntitySchedule(c.Request.Context(), entityID, req.ScheduleID); err != nil {
		respondErr(c, h.log, err, false)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entity_id": entityID, "schedule_id": req.ScheduleID})
}
