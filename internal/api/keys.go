package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/clawbridge/clawbridge/internal/models"
)

// KeyHandler serves API key management.
type KeyHandler struct {
	policy PolicyAdmin
	log    *logrus.Logger
}

// NewKeyHandler creates a KeyHandler.
func NewKeyHandler(policy PolicyAdmin, log *logrus.Logger) *KeyHandler {
	return &KeyHandler{policy: policy, log: log}
}

// List handles GET /admin/keys. Tokens are masked.
func (h *KeyHandler) List(c *gin.Context) {
	keys := h.policy.Snapshot().APIKeys
	views := make([]models.APIKeyView, 0, len(keys))
	for i := range keys {
		views = append(views, keys[i].View())
	}

	c.JSON(http.StatusOK, gin.H{"keys": views})
}

// Create handles POST /admin/keys. The response is the only time the full
// token is returned.
func (h *KeyHandler) Create(c *gin.Context) {
	var req models.CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalid(c, "invalid request body")
		return
	}

	key, err := h.policy.CreateAPIKey(c.Request.Context(), req)
	if err != nil {
		respondErr(c, h.log, err, false)
		return
	}

	h.log.WithFields(logrus.Fields{"key_id": key.ID, "name": key.Name}).Info("api key created")
	c.JSON(http.StatusCreated, key)
}

// Delete handles DELETE /admin/keys/:id.
func (h *KeyHandler) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.policy.DeleteAPIKey(c.Request.Context(), id); err != nil {
		respondErr(c, h.log, err, false)
		return
	}

	h.log.WithField("key_id", id).Info("api key deleted")
	c.Status(http.StatusNoContent)
}
