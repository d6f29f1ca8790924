package api

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/clawbridge/clawbridge/internal/models"
)

// EntityHandler serves the management endpoints for per-entity policy and settings.
type EntityHandler struct {
	policy PolicyAdmin
	log    *logrus.Logger
}

// NewEntityHandler creates an EntityHandler.
func NewEntityHandler(policy PolicyAdmin, log *logrus.Logger) *EntityHandler {
	return &EntityHandler{policy: policy, log: log}
}

type entitiesRequest struct {
	Entities map[string]models.AccessLevel `json:"entities"`
}

type accessRequest struct {
	Access string `json:"access"`
}

type annotationRequest struct {
	Annotation string `json:"annotation"`
}

type constraintsRequest struct {
	Constraints models.Constraints `json:"constraints"`
}

// List handles GET /admin/entities.
func (h *EntityHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"entities": h.policy.Snapshot().Entities})
}

// Replace handles PUT /admin/entities.
func (h *EntityHandler) Replace(c *gin.Context) {
	var req entitiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, "invalid request body")
		return
	}

	for id, level := range req.Entities {
		if level == "off" {
			req.Entities[id] = models.AccessNone
		}
	}

	if err := h.policy.SetEntities(c.Request.Context(), req.Entities); err != nil {
		respondErr(c, h.log, err, false)
		return
	}

	h.log.WithField("count", len(req.Entities)).Info("entity access replaced")
	c.JSON(http.StatusOK, gin.H{"entities": h.policy.Snapshot().Entities})
}

// SetAccess handles PUT /admin/entities/:entity_id.
func (h *EntityHandler) SetAccess(c *gin.Context) {
	entityID, ok := entityParam(c)
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

	if err := h.policy.SetEntityAccess(c.Request.Context(), entityID, level); err != nil {
		respondErr(c, h.log, err, false)
		return
	}

	h.log.WithFields(logrus.Fields{"entity_id": entityID, "access": level}).Info("entity access changed")
	c.JSON(http.StatusOK, gin.H{"entity_id": entityID, "access": level})
}

// Remove handles DELETE /admin/entities/:entity_id.
func (h *EntityHandler) Remove(c *gin.Context) {
	entityID, ok := entityParam(c)
	if !ok {
		return
	}

	if err := h.policy.RemoveEntity(c.Request.Context(), entityID); err != nil {
		respondErr(c, h.log, err, false)
		return
	}

	c.Status(http.StatusNoContent)
}

// Annotations handles GET /admin/annotations.
func (h *EntityHandler) Annotations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"annotations": h.policy.Snapshot().Annotations})
}

// SetAnnotation handles PUT /admin/annotations/:entity_id. Empty text removes the note.
func (h *EntityHandler) SetAnnotation(c *gin.Context) {
	entityID, ok := entityParam(c)
	if !ok {
		return
	}

	var req annotationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, "invalid request body")
		return
	}

	if err := h.policy.SetAnnotation(c.Request.Context(), entityID, req.Annotation); err != nil {
		respondErr(c, h.log, err, false)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entity_id": entityID, "annotation": h.policy.Snapshot().Annotations[entityID]})
}

// Constraints handles GET /admin/constraints.
func (h *EntityHandler) Constraints(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"constraints": h.policy.Snapshot().Constraints})
}

// SetConstraints handles PUT /admin/constraints/:entity_id.
func (h *EntityHandler) SetConstraints(c *gin.Context) {
	entityID, ok := entityParam(c)
	if !ok {
		return
	}

	var req constraintsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, "invalid request body")
		return
	}

	if err := h.policy.SetConstraints(c.Request.Context(), entityID, req.Constraints); err != nil {
		respondErr(c, h.log, err, false)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entity_id": entityID, "constraints": req.Constraints})
}

// Settings handles GET /admin/settings.
func (h *EntityHandler) Settings(c *gin.Context) {
	c.JSON(http.StatusOK, h.policy.Snapshot().Settings)
}

// UpdateSettings handles PUT /admin/settings. Fields absent from the body
// keep their current values.
func (h *EntityHandler) UpdateSettings(c *gin.Context) {
	settings := h.policy.Snapshot().Settings
	settings.AllowedIPs = slices.Clone(settings.AllowedIPs)

	if err := c.ShouldBindJSON(&settings); err != nil {
		respondInvalid(c, "invalid request body")
		return
	}

	saved, err := h.policy.UpdateSettings(c.Request.Context(), settings)
	if err != nil {
		respondErr(c, h.log, err, false)
		return
	}

	h.log.Info("settings updated")
	c.JSON(http.StatusOK, saved)
}
