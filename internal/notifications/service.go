package notifications

import (
	"context"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/fieldtrack/internal/apperr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opCreate = "notifications.create"
	opList   = "notifications.list"

	defaultListLimit = 50
)

var (
	// ErrInvalidNotification indicates a notification without job, author, type or brief.
	ErrInvalidNotification = errors.New("notifications: job, creator, type and brief are required")
	errMissingDatabase     = errors.New("database handle is required")
)

// Service persists job notifications.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService constructs a notification Service.
func NewService(db *gorm.DB, logger *zap.Logger) (*Service, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, logger: logger}, nil
}

// CreateNotification records a notification and returns it.
func (s *Service) CreateNotification(ctx context.Context, request Request) (Notification, error) {
	notification := Notification{
		JobID:         strings.TrimSpace(request.JobID),
		CreatedBy:     strings.TrimSpace(request.CreatedBy),
		Type:          strings.TrimSpace(request.Type),
		Brief:         strings.TrimSpace(request.Brief),
		ReferenceID:   request.ReferenceID,
		ReferenceData: request.ReferenceData,
	}
	if notification.JobID == "" || notification.CreatedBy == "" || notification.Type == "" || notification.Brief == "" {
		return Notification{}, apperr.Validation(opCreate, "invalid_request", ErrInvalidNotification)
	}
	if notification.ReferenceData == nil {
		notification.ReferenceData = map[string]any{}
	}
	if err := s.db.WithContext(ctx).Create(&notification).Error; err != nil {
		s.logger.Error("notification insert failed",
			zap.String("operation", opCreate),
			zap.String("job_id", notification.JobID),
			zap.Error(err))
		return Notification{}, apperr.New(opCreate, "insert_failed", err)
	}
	return notification, nil
}

// ListForJob returns the most recent notifications of a job, newest first.
func (s *Service) ListForJob(ctx context.Context, jobID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var notifications []Notification
	if err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&notifications).Error; err != nil {
		s.logger.Error("notification query failed",
			zap.String("operation", opList),
			zap.String("job_id", jobID),
			zap.Error(err))
		return nil, apperr.New(opList, "query_failed", err)
	}
	return notifications, nil
}
