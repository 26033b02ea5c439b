package server

import (
	"bytes"
	"net/http"

	"github.com/MarcoPoloResearchLab/fieldtrack/internal/catalog"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const catalogFileFormField = "file"

func (h *httpHandler) handleListMaterials(c *gin.Context) {
	items, err := h.catalog.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"materials": items})
}

func (h *httpHandler) handleImportMaterials(c *gin.Context) {
	mode, err := catalog.ParseImportMode(c.PostForm("mode"))
	if err != nil {
		h.badRequest(c, "catalog.import.invalid_mode", err)
		return
	}
	header, err := c.FormFile(catalogFileFormField)
	if err != nil {
		h.badRequest(c, "catalog.import.missing_file", err)
		return
	}
	file, err := header.Open()
	if err != nil {
		h.badRequest(c, "catalog.import.missing_file", err)
		return
	}
	defer func() { _ = file.Close() }()

	result, err := h.catalog.ImportUpload(c.Request.Context(), mode, header.Filename, file)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.logger.Info("materials catalog import completed",
		zap.String("user_id", c.GetString(userIDContextKey)),
		zap.String("filename", header.Filename),
		zap.Int("written", result.Written))
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleExportMaterials(c *gin.Context) {
	var buffer bytes.Buffer
	if err := h.catalog.Export(c.Request.Context(), &buffer); err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="materials.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buffer.Bytes())
}
