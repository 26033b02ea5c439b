package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/fieldtrack/internal/crew"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/timeentries"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/timers"
	"github.com/gin-gonic/gin"
)

type startTimerRequestPayload struct {
	ComponentID    string   `json:"component_id"`
	ComponentName  string   `json:"component_name"`
	CrewMode       string   `json:"crew_mode"`
	AdditionalCrew int      `json:"additional_crew"`
	WorkerIDs      []string `json:"worker_ids"`
}

type saveTimerRequestPayload struct {
	ElapsedMs      *int64   `json:"elapsed_ms"`
	CrewMode       string   `json:"crew_mode"`
	AdditionalCrew int      `json:"additional_crew"`
	WorkerIDs      []string `json:"worker_ids"`
	Notes          string   `json:"notes"`
}

type timerPayload struct {
	ID             string     `json:"id"`
	JobID          string     `json:"job_id"`
	ComponentID    string     `json:"component_id"`
	ComponentName  string     `json:"component_name"`
	State          string     `json:"state"`
	StartTime      time.Time  `json:"start_time"`
	PauseTime      *time.Time `json:"pause_time,omitempty"`
	TotalElapsedMs int64      `json:"total_elapsed_ms"`
	ElapsedMs      int64      `json:"elapsed_ms"`
	CrewCount      int        `json:"crew_count"`
	WorkerNames    []string   `json:"worker_names"`
}

type reviewPayload struct {
	Timer          timerPayload `json:"timer"`
	ElapsedMs      int64        `json:"elapsed_ms"`
	Hours          float64      `json:"hours"`
	StoppedAt      time.Time    `json:"stopped_at"`
	CrewMode       string       `json:"crew_mode"`
	AdditionalCrew int          `json:"additional_crew"`
	WorkerNames    []string     `json:"worker_names"`
}

type timersResponsePayload struct {
	JobID      string         `json:"job_id"`
	ServerTime time.Time      `json:"server_time"`
	Timers     []timerPayload `json:"timers"`
}

func newTimerPayload(timer timers.LocalTimer, elapsedMs int64) timerPayload {
	names := timer.WorkerNames
	if names == nil {
		names = []string{}
	}
	return timerPayload{
		ID:             timer.ID,
		JobID:          timer.JobID,
		ComponentID:    timer.ComponentID,
		ComponentName:  timer.ComponentName,
		State:          string(timer.State),
		StartTime:      timer.StartTime,
		PauseTime:      timer.PauseTime,
		TotalElapsedMs: timer.TotalElapsedMs,
		ElapsedMs:      elapsedMs,
		CrewCount:      timer.CrewCount,
		WorkerNames:    names,
	}
}

func (h *httpHandler) timersSnapshot(c *gin.Context, userID, jobID string) (timersResponsePayload, error) {
	views, err := h.timers.List(c.Request.Context(), userID, jobID)
	if err != nil {
		return timersResponsePayload{}, err
	}
	response := timersResponsePayload{
		JobID:      jobID,
		ServerTime: h.timers.Now(),
		Timers:     make([]timerPayload, 0, len(views)),
	}
	for _, view := range views {
		response.Timers = append(response.Timers, newTimerPayload(view.LocalTimer, view.ElapsedMs))
	}
	return response, nil
}

func (h *httpHandler) handleListTimers(c *gin.Context) {
	response, err := h.timersSnapshot(c, c.GetString(userIDContextKey), c.Param("jobId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleStartTimer(c *gin.Context) {
	var request startTimerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "timers.start.invalid_request", err)
		return
	}
	mode, err := crew.ParseMode(request.CrewMode)
	if err != nil {
		h.badRequest(c, "timers.start.invalid_crew", err)
		return
	}

	userID := c.GetString(userIDContextKey)
	jobID := c.Param("jobId")
	timer, err := h.timers.Start(c.Request.Context(), timers.StartRequest{
		UserID:         userID,
		JobID:          jobID,
		ComponentID:    request.ComponentID,
		ComponentName:  request.ComponentName,
		CrewMode:       mode,
		AdditionalCrew: request.AdditionalCrew,
		WorkerIDs:      request.WorkerIDs,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.publishTimerChange(userID, jobID, timer.ID)
	c.JSON(http.StatusCreated, newTimerPayload(timer, timers.ElapsedMs(timer, h.timers.Now())))
}

func (h *httpHandler) handlePauseTimer(c *gin.Context) {
	h.applyTransition(c, h.timers.Pause)
}

func (h *httpHandler) handleResumeTimer(c *gin.Context) {
	h.applyTransition(c, h.timers.Resume)
}

func (h *httpHandler) applyTransition(c *gin.Context, action func(context.Context, string, string, string) (timers.LocalTimer, error)) {
	userID := c.GetString(userIDContextKey)
	jobID := c.Param("jobId")
	timer, err := action(c.Request.Context(), userID, jobID, c.Param("timerId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.publishTimerChange(userID, jobID, timer.ID)
	c.JSON(http.StatusOK, newTimerPayload(timer, timers.ElapsedMs(timer, h.timers.Now())))
}

func (h *httpHandler) handleStopTimer(c *gin.Context) {
	review, err := h.timers.Stop(c.Request.Context(), c.GetString(userIDContextKey), c.Param("jobId"), c.Param("timerId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	names := review.WorkerNames
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, reviewPayload{
		Timer:          newTimerPayload(review.Timer, review.ElapsedMs),
		ElapsedMs:      review.ElapsedMs,
		Hours:          timeentries.HoursFromMilliseconds(review.ElapsedMs),
		StoppedAt:      review.StoppedAt,
		CrewMode:       string(review.CrewMode),
		AdditionalCrew: review.AdditionalCrew,
		WorkerNames:    names,
	})
}

func (h *httpHandler) handleSaveTimer(c *gin.Context) {
	var request saveTimerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		h.badRequest(c, "timeentries.save_timer.invalid_request", err)
		return
	}
	mode, err := crew.ParseMode(request.CrewMode)
	if err != nil {
		h.badRequest(c, "timeentries.save_timer.invalid_crew", err)
		return
	}

	userID := c.GetString(userIDContextKey)
	jobID := c.Param("jobId")
	timerID := c.Param("timerId")
	result, err := h.entries.SaveTimer(c.Request.Context(), timeentries.SaveTimerRequest{
		UserID:         userID,
		JobID:          jobID,
		TimerID:        timerID,
		ElapsedMs:      request.ElapsedMs,
		CrewMode:       mode,
		AdditionalCrew: request.AdditionalCrew,
		WorkerIDs:      request.WorkerIDs,
		Notes:          request.Notes,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.publishTimerChange(userID, jobID, timerID)
	h.publishTimeEntry(userID, jobID, result.Entry.ID)
	c.JSON(http.StatusCreated, newSaveResultPayload(result))
}

func (h *httpHandler) handleDiscardTimer(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	jobID := c.Param("jobId")
	timerID := c.Param("timerId")
	if err := h.timers.Discard(c.Request.Context(), userID, jobID, timerID); err != nil {
		h.respondError(c, err)
		return
	}
	h.publishTimerChange(userID, jobID, timerID)
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) publishTimerChange(userID, jobID, timerID string) {
	h.realtime.Publish(RealtimeMessage{
		UserID:    userID,
		JobID:     jobID,
		EventType: RealtimeEventTimerChanged,
		TimerIDs:  []string{timerID},
		Timestamp: h.timers.Now(),
	})
}

func (h *httpHandler) publishTimeEntry(userID, jobID string, entryID uint) {
	h.realtime.Publish(RealtimeMessage{
		UserID:    userID,
		JobID:     jobID,
		EventType: RealtimeEventTimeEntry,
		EntryID:   entryID,
		Timestamp: h.timers.Now(),
	})
}
