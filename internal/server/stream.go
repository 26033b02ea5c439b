package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type streamEventPayload struct {
	Source    string    `json:"source"`
	JobID     string    `json:"job_id"`
	TimerIDs  []string  `json:"timer_ids,omitempty"`
	EntryID   uint      `json:"entry_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// handleTimerStream pushes a timers snapshot every tick plus dispatcher events for the job.
func (h *httpHandler) handleTimerStream(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	jobID := c.Param("jobId")
	ctx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	messages, cleanup := h.realtime.Subscribe(ctx, userID, jobID)
	defer cleanup()

	ticker := time.NewTicker(h.tickInterval)
	defer ticker.Stop()

	if !h.writeTimersEvent(c, userID, jobID) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-messages:
			if !ok {
				return
			}
			c.SSEvent(message.EventType, streamEventPayload{
				Source:    realtimeSourceBackend,
				JobID:     message.JobID,
				TimerIDs:  message.TimerIDs,
				EntryID:   message.EntryID,
				Timestamp: message.Timestamp,
			})
			c.Writer.Flush()
		case <-ticker.C:
			if !h.writeTimersEvent(c, userID, jobID) {
				return
			}
		}
	}
}

func (h *httpHandler) writeTimersEvent(c *gin.Context, userID, jobID string) bool {
	snapshot, err := h.timersSnapshot(c, userID, jobID)
	if err != nil {
		h.logger.Warn("timer stream snapshot failed",
			zap.String("job_id", jobID),
			zap.Error(err))
		return false
	}
	c.SSEvent(RealtimeEventTimers, snapshot)
	c.Writer.Flush()
	return true
}
