package server

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/fieldtrack/internal/crew"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/reports"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/timeentries"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	maxPhotoUploadBytes = 32 << 20
	photosFormField     = "photos"
)

type manualEntryRequestPayload struct {
	ComponentID   string   `json:"component_id" form:"component_id"`
	ComponentName string   `json:"component_name" form:"component_name"`
	Date          string   `json:"date" form:"date"`
	Hours         float64  `json:"hours" form:"hours"`
	Minutes       float64  `json:"minutes" form:"minutes"`
	CrewMode      string   `json:"crew_mode" form:"crew_mode"`
	CrewCount     int      `json:"crew_count" form:"crew_count"`
	WorkerIDs     []string `json:"worker_ids" form:"worker_ids"`
	Notes         string   `json:"notes" form:"notes"`
}

type saveResultPayload struct {
	Entry        timeentries.TimeEntry `json:"entry"`
	PhotosStored int                   `json:"photos_stored"`
	Warnings     []string              `json:"warnings"`
	Totals       timeentries.Totals    `json:"totals"`
}

func newSaveResultPayload(result timeentries.SaveResult) saveResultPayload {
	warnings := result.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return saveResultPayload{
		Entry:        result.Entry,
		PhotosStored: result.PhotosStored,
		Warnings:     warnings,
		Totals:       result.Totals,
	}
}

func (h *httpHandler) handleListEntries(c *gin.Context) {
	entries, err := h.entries.ListForJob(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *httpHandler) handleCreateManualEntry(c *gin.Context) {
	var request manualEntryRequestPayload
	var photos []timeentries.PhotoUpload
	var files []multipart.File
	defer func() {
		for _, file := range files {
			_ = file.Close()
		}
	}()

	if strings.HasPrefix(c.ContentType(), gin.MIMEMultipartPOSTForm) {
		if err := c.Request.ParseMultipartForm(maxPhotoUploadBytes); err != nil {
			h.badRequest(c, "timeentries.create_manual.invalid_request", err)
			return
		}
		if err := c.ShouldBind(&request); err != nil {
			h.badRequest(c, "timeentries.create_manual.invalid_request", err)
			return
		}
		if c.Request.MultipartForm != nil {
			for _, header := range c.Request.MultipartForm.File[photosFormField] {
				file, err := header.Open()
				if err != nil {
					h.badRequest(c, "timeentries.create_manual.invalid_photo", err)
					return
				}
				files = append(files, file)
				photos = append(photos, timeentries.PhotoUpload{Filename: header.Filename, Body: file})
			}
		}
	} else if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "timeentries.create_manual.invalid_request", err)
		return
	}

	mode, err := crew.ParseMode(request.CrewMode)
	if err != nil {
		h.badRequest(c, "timeentries.create_manual.invalid_crew", err)
		return
	}

	userID := c.GetString(userIDContextKey)
	jobID := c.Param("jobId")
	result, err := h.entries.CreateManual(c.Request.Context(), timeentries.ManualEntryRequest{
		UserID:        userID,
		JobID:         jobID,
		ComponentID:   request.ComponentID,
		ComponentName: request.ComponentName,
		Date:          request.Date,
		Hours:         request.Hours,
		Minutes:       request.Minutes,
		CrewMode:      mode,
		CrewCount:     request.CrewCount,
		WorkerIDs:     request.WorkerIDs,
		Notes:         request.Notes,
		Photos:        photos,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.publishTimeEntry(userID, jobID, result.Entry.ID)
	c.JSON(http.StatusCreated, newSaveResultPayload(result))
}

func (h *httpHandler) handleEntryTotals(c *gin.Context) {
	totals, err := h.entries.Totals(c.Request.Context(), c.Param("jobId"), strings.TrimSpace(c.Query("component_id")))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, totals)
}

func (h *httpHandler) handleLaborReport(c *gin.Context) {
	jobID := c.Param("jobId")
	entries, err := h.entries.ListForJob(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	var buffer bytes.Buffer
	if err := reports.RenderLabor(&buffer, reports.LaborReport{
		JobID:          jobID,
		GeneratedAt:    h.timers.Now(),
		Location:       h.location,
		Entries:        entries,
		ComponentNames: reports.ComponentNames(entries),
	}); err != nil {
		h.logger.Error("labor report rendering failed", zap.String("job_id", jobID), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "render_failed", "code": "reports.labor.render_failed"})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", "labor-"+jobID+".pdf"))
	c.Data(http.StatusOK, "application/pdf", buffer.Bytes())
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	if h.notifications == nil {
		c.JSON(http.StatusOK, gin.H{"notifications": []any{}})
		return
	}
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.badRequest(c, "notifications.list.invalid_limit", fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	items, err := h.notifications.ListForJob(c.Request.Context(), c.Param("jobId"), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items})
}
