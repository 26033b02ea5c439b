package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/fieldtrack/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type workerPayload struct {
	WorkerID    string `json:"worker_id"`
	DisplayName string `json:"display_name"`
	UserID      string `json:"user_id"`
	Active      *bool  `json:"active"`
}

func (h *httpHandler) handleListWorkers(c *gin.Context) {
	workers, err := h.users.ListWorkers(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list workers", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query_failed", "code": "users.list_workers.query_failed"})
		return
	}
	response := make([]workerPayload, 0, len(workers))
	for _, worker := range workers {
		active := worker.Active
		response = append(response, workerPayload{
			WorkerID:    worker.WorkerID,
			DisplayName: worker.DisplayName,
			UserID:      worker.UserID,
			Active:      &active,
		})
	}
	c.JSON(http.StatusOK, gin.H{"workers": response})
}

func (h *httpHandler) handleUpsertWorker(c *gin.Context) {
	var request workerPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "users.upsert_worker.invalid_request", err)
		return
	}
	active := true
	if request.Active != nil {
		active = *request.Active
	}
	worker, err := h.users.UpsertWorker(c.Request.Context(), users.Worker{
		WorkerID:    request.WorkerID,
		DisplayName: request.DisplayName,
		UserID:      request.UserID,
		Active:      active,
	})
	if err != nil {
		if errors.Is(err, users.ErrInvalidWorker) {
			h.badRequest(c, "users.upsert_worker.invalid_worker", err)
			return
		}
		h.logger.Error("failed to upsert worker", zap.String("worker_id", request.WorkerID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upsert_failed", "code": "users.upsert_worker.upsert_failed"})
		return
	}
	c.JSON(http.StatusOK, workerPayload{
		WorkerID:    worker.WorkerID,
		DisplayName: worker.DisplayName,
		UserID:      worker.UserID,
		Active:      &worker.Active,
	})
}
