package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/fieldtrack/internal/apperr"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/auth"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/catalog"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/notifications"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/timeentries"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/timers"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey    = "fieldtrack_user_id"
	defaultTickInterval = time.Second
	accessTokenQuery    = "access_token"
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingUserDirectory    = errors.New("user directory dependency required")
	errMissingTimerEngine      = errors.New("timer engine dependency required")
	errMissingEntryService     = errors.New("time entry service dependency required")
	errMissingCatalogService   = errors.New("catalog service dependency required")
)

// SessionValidator authenticates requests carrying a session JWT.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// UserDirectory resolves session users and manages crew workers.
type UserDirectory interface {
	ResolveCanonicalUserID(ctx context.Context, claims auth.SessionClaims) (string, error)
	ListWorkers(ctx context.Context) ([]users.Worker, error)
	UpsertWorker(ctx context.Context, worker users.Worker) (users.Worker, error)
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	Sessions       SessionValidator
	Users          UserDirectory
	Timers         *timers.Engine
	Entries        *timeentries.Service
	Catalog        *catalog.Service
	Notifications  *notifications.Service
	Files          http.FileSystem
	FilesBucket    string
	Realtime       *RealtimeDispatcher
	AllowedOrigins []string
	TickInterval   time.Duration
	Location       *time.Location
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin router serving the fieldtrack API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Users == nil {
		return nil, errMissingUserDirectory
	}
	if deps.Timers == nil {
		return nil, errMissingTimerEngine
	}
	if deps.Entries == nil {
		return nil, errMissingEntryService
	}
	if deps.Catalog == nil {
		return nil, errMissingCatalogService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	tickInterval := deps.TickInterval
	if tickInterval <= 0 {
		tickInterval = defaultTickInterval
	}
	location := deps.Location
	if location == nil {
		location = time.Local
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		sessions:      deps.Sessions,
		users:         deps.Users,
		timers:        deps.Timers,
		entries:       deps.Entries,
		catalog:       deps.Catalog,
		notifications: deps.Notifications,
		realtime:      realtime,
		tickInterval:  tickInterval,
		location:      location,
		logger:        logger,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.Files != nil {
		bucket := strings.Trim(deps.FilesBucket, "/")
		router.GET("/files/"+bucket+"/*filepath", serveFiles(deps.Files))
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.GET("/workers", handler.handleListWorkers)
	protected.POST("/workers", handler.handleUpsertWorker)

	jobs := protected.Group("/jobs/:jobId")
	jobs.GET("/timers", handler.handleListTimers)
	jobs.POST("/timers", handler.handleStartTimer)
	jobs.GET("/timers/stream", handler.handleTimerStream)
	jobs.POST("/timers/:timerId/pause", handler.handlePauseTimer)
	jobs.POST("/timers/:timerId/resume", handler.handleResumeTimer)
	jobs.POST("/timers/:timerId/stop", handler.handleStopTimer)
	jobs.POST("/timers/:timerId/save", handler.handleSaveTimer)
	jobs.DELETE("/timers/:timerId", handler.handleDiscardTimer)

	jobs.GET("/time-entries", handler.handleListEntries)
	jobs.POST("/time-entries", handler.handleCreateManualEntry)
	jobs.GET("/time-entries/totals", handler.handleEntryTotals)
	jobs.GET("/time-entries/report.pdf", handler.handleLaborReport)
	jobs.GET("/notifications", handler.handleListNotifications)

	protected.GET("/materials", handler.handleListMaterials)
	protected.POST("/materials/import", handler.handleImportMaterials)
	protected.GET("/materials/export.csv", handler.handleExportMaterials)

	return router, nil
}

type httpHandler struct {
	sessions      SessionValidator
	users         UserDirectory
	timers        *timers.Engine
	entries       *timeentries.Service
	catalog       *catalog.Service
	notifications *notifications.Service
	realtime      *RealtimeDispatcher
	tickInterval  time.Duration
	location      *time.Location
	logger        *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	origins := make([]string, 0)
	for _, origin := range allowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 || containsWildcard(origins) {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

func containsWildcard(origins []string) bool {
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return false
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	request := c.Request
	if token := strings.TrimSpace(c.Query(accessTokenQuery)); token != "" && request.Header.Get("Authorization") == "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	claims, err := h.sessions.ValidateRequest(request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "auth.unauthorized"})
		return
	}
	userID, err := h.users.ResolveCanonicalUserID(request.Context(), claims)
	if err != nil {
		h.logger.Error("failed to resolve canonical user id", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "user_resolution_failed", "code": "auth.user_resolution_failed"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

// respondError maps a failed action to an error body. Service errors were
// logged where they happened; only rejections and untyped failures are logged here.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, timers.ErrTimerNotFound):
		status = http.StatusNotFound
	case errors.Is(err, timers.ErrInvalidTransition):
		status = http.StatusConflict
	}

	body := gin.H{"error": "internal_error", "code": "internal"}
	serviceErr, ok := apperr.As(err)
	if ok {
		body["error"] = serviceErr.Reason()
		body["code"] = serviceErr.Code()
		if serviceErr.IsValidation() {
			if status == http.StatusInternalServerError {
				status = http.StatusBadRequest
			}
			body["message"] = err.Error()
		}
	}

	switch {
	case status < http.StatusInternalServerError:
		h.logger.Info("request rejected",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
	case !ok:
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, body)
}

func (h *httpHandler) badRequest(c *gin.Context, code string, err error) {
	h.logger.Info("request rejected",
		zap.String("path", c.FullPath()),
		zap.String("code", code),
		zap.Error(err))
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "code": code, "message": err.Error()})
}

func serveFiles(files http.FileSystem) gin.HandlerFunc {
	return func(c *gin.Context) {
		filepath := c.Param("filepath")
		if filepath == "" || strings.HasSuffix(filepath, "/") {
			c.Status(http.StatusNotFound)
			return
		}
		c.FileFromFS(filepath, files)
	}
}
