package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/clawbridge/clawbridge/internal/policy"
)

// ExportImportHandler serves policy backup and restore endpoints.
type ExportImportHandler struct {
	policy PolicyAdmin
	log    *logrus.Logger
}

// NewExportImportHandler creates an ExportImportHandler.
func NewExportImportHandler(policy PolicyAdmin, log *logrus.Logger) *ExportImportHandler {
	return &ExportImportHandler{policy: policy, log: log}
}

// Export handles GET /admin/config/export.
// Returns the full policy, tokens included, as a JSON file attachment.
func (h *ExportImportHandler) Export(c *gin.Context) {
	data := h.policy.Export()

	filename := fmt.Sprintf("clawbridge-policy-%s.json", time.Now().UTC().Format("20060102T150405Z"))
	c.Header("Content-Disposition", "attachment; filename="+filename)

	h.log.WithFields(logrus.Fields{
		"action":   "export",
		"entities": len(data.Entities),
		"keys":     len(data.APIKeys),
	}).Info("policy exported")

	c.JSON(http.StatusOK, data)
}

// Import handles POST /admin/config/import.
// Replaces the whole policy with an ExportFormat body.
func (h *ExportImportHandler) Import(c *gin.Context) {
	var data policy.ExportFormat
	if err := c.ShouldBindJSON(&data); err != nil {
		respondInvalid(c, "invalid request body")
		return
	}

	if err := h.policy.Import(c.Request.Context(), &data); err != nil {
		respondErr(c, h.log, err, false)
		return
	}

	h.log.WithFields(logrus.Fields{
		"action":   "import",
		"entities": len(data.Entities),
		"keys":     len(data.APIKeys),
	}).Info("policy imported")

	c.JSON(http.StatusOK, gin.H{"imported": true})
}

// Validate handles POST /admin/config/import/validate.
// Checks the payload without writing anything.
func (h *ExportImportHandler) Validate(c *gin.Context) {
	var data policy.ExportFormat
	if err := c.ShouldBindJSON(&data); err != nil {
		respondInvalid(c, "invalid request body")
		return
	}

	errs := policy.ValidateImport(&data)
	c.JSON(http.StatusOK, gin.H{"errors": errs, "valid": len(errs) == 0})
}
