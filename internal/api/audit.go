package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/clawbridge/clawbridge/internal/models"
)

// Audit query bounds.
const (
	defaultAuditLimit = 100
	defaultStatsHours = 24
	maxStatsHours     = 24 * 365
	maxRetentionDays  = 365
)

// AuditHandler serves audit log endpoints.
type AuditHandler struct {
	repo AuditRepository
	log  *logrus.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(repo AuditRepository, log *logrus.Logger) *AuditHandler {
	return &AuditHandler{repo: repo, log: log}
}

// Query handles GET /admin/audit.
func (h *AuditHandler) Query(c *gin.Context) {
	filter := models.AuditFilter{
		EntityID: c.Query("entity_id"),
		Result:   models.AuditResult(c.Query("result")),
		Limit:    parseInt(c.Query("limit"), defaultAuditLimit),
	}

	for param, dst := range map[string]**time.Time{"since": &filter.Since, "until": &filter.Until} {
		v := c.Query(param)
		if v == "" {
			continue
		}

		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondInvalid(c, "invalid "+param+" format, use RFC3339")
			return
		}
		*dst = &t
	}

	entries, err := h.repo.Query(c.Request.Context(), filter)
	if err != nil {
		h.log.WithError(err).Error("failed to query audit log")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "failed to query audit log")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// Stats handles GET /admin/audit/stats.
func (h *AuditHandler) Stats(c *gin.Context) {
	hours := defaultStatsHours
	if v := c.Query("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxStatsHours {
			respondInvalid(c, "hours must be between 1 and 8760")
			return
		}
		hours = n
	}

	stats, err := h.repo.Stats(c.Request.Context(), hours)
	if err != nil {
		h.log.WithError(err).Error("failed to compute audit stats")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "failed to compute audit stats")
		return
	}

	c.JSON(http.StatusOK, stats)
}

// Clear handles DELETE /admin/audit.
func (h *AuditHandler) Clear(c *gin.Context) {
	if err := h.repo.Clear(c.Request.Context()); err != nil {
		h.log.WithError(err).Error("failed to clear audit log")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "failed to clear audit log")
		return
	}

	h.log.Info("audit log cleared")
	c.Status(http.StatusNoContent)
}

// Retain handles POST /admin/audit/retain?days=N, dropping older entries.
func (h *AuditHandler) Retain(c *gin.Context) {
	days, err := strconv.Atoi(c.Query("days"))
	if err != nil || days < 1 || days > maxRetentionDays {
		respondInvalid(c, "days must be between 1 and 365")
		return
	}

	removed, err := h.repo.Retain(c.Request.Context(), days)
	if err != nil {
		h.log.WithError(err).Error("failed to apply audit retention")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "failed to apply audit retention")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"removed":        removed,
		"retention_days": days,
	})
}
