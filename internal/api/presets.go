package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/clawbridge/clawbridge/internal/models"
)

// PresetHandler serves named entity-selection presets.
type PresetHandler struct {
	policy PolicyAdmin
	log    *logrus.Logger
}

// NewPresetHandler creates a PresetHandler.
func NewPresetHandler(policy PolicyAdmin, log *logrus.Logger) *PresetHandler {
	return &PresetHandler{policy: policy, log: log}
}

// presetRequest carries either explicit tiers or a bare id list that is
// saved at current tiers.
type presetRequest struct {
	Name      string            `json:"name"`
	Entities  map[string]string `json:"entities"`
	EntityIDs []string          `json:"entity_ids"`
}

// List handles GET /admin/presets.
func (h *PresetHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"presets": h.policy.Snapshot().Presets})
}

// Save handles POST /admin/presets.
func (h *PresetHandler) Save(c *gin.Context) {
	var req presetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, "invalid request body")
		return
	}

	ctx := c.Request.Context()

	if req.Entities == nil {
		saved, err := h.policy.SavePresetSelection(ctx, req.Name, req.EntityIDs)
		if err != nil {
			respondErr(c, h.log, err, false)
			return
		}

		c.JSON(http.StatusOK, gin.H{"name": req.Name, "entities": saved})

		return
	}

	entities := make(map[string]models.AccessLevel, len(req.Entities))
	for id, raw := range req.Entities {
		level, err := models.ParseAccessLevel(raw)
		if err != nil {
			respondErr(c, h.log, err, false)
			return
		}
		entities[id] = level
	}

	if err := h.policy.SavePreset(ctx, req.Name, entities); err != nil {
		respondErr(c, h.log, err, false)
		return
	}

	c.JSON(http.StatusOK, gin.H{"name": req.Name, "entities": entities})
}

// Get handles GET /admin/presets/:name.
func (h *PresetHandler) Get(c *gin.Context) {
	name := c.Param("name")

	entities, err := h.policy.Preset(name)
	if err != nil {
		respondErr(c, h.log, err, false)
		return
	}

	c.JSON(http.StatusOK, gin.H{"name": name, "entities": entities})
}

// Apply handles POST /admin/presets/:name/apply, replacing the global access
// map with the preset.
func (h *PresetHandler) Apply(c *gin.Context) {
	name := c.Param("name")

	applied, err := h.policy.ApplyPreset(c.Request.Context(), name)
	if err != nil {
		respondErr(c, h.log, err, false)
		return
	}

	h.log.WithFields(logrus.Fields{"preset": name, "entities": applied}).Info("preset applied")
	c.JSON(http.StatusOK, gin.H{"name": name, "applied": applied})
}

// Delete handles DELETE /admin/presets/:name.
func (h *PresetHandler) Delete(c *gin.Context) {
	if err := h.policy.DeletePreset(c.Request.Context(), c.Param("name")); err != nil {
		respondErr(c, h.log, err, false)
		return
	}

	c.Status(http.StatusNoContent)
}
