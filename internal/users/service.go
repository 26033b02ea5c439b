package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/fieldtrack/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrInvalidWorker indicates a worker without an id or display name.
	ErrInvalidWorker = errors.New("users: invalid worker")
)

// ServiceConfig describes the dependencies required for user identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages canonical user identifiers and the crew worker directory.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
	names  sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     cfg.Database,
		now:    clock,
		logger: logger,
	}, nil
}

// ResolveCanonicalUserID returns the canonical user id for the provided session claims.
// It creates a new identity mapping, and a matching crew worker, when the provider+subject
// pair has not been seen before.
func (s *Service) ResolveCanonicalUserID(ctx context.Context, claims auth.SessionClaims) (string, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return "", ErrInvalidIdentity
	}

	cacheKey := provider + ":" + subject
	if cachedIdentifier, ok := s.cache.Load(cacheKey); ok {
		if canonicalIdentifier, ok := cachedIdentifier.(string); ok {
			return canonicalIdentifier, nil
		}
	}

	db := s.db.WithContext(ctx)
	var identity Identity
	err := db.
		Where("provider = ? AND subject = ?", provider, subject).
		First(&identity).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		identity = Identity{
			Provider:    provider,
			Subject:     subject,
			UserID:      subject,
			Email:       normalize(claims.UserEmail),
			DisplayName: normalize(claims.UserDisplayName),
			LastSeenAt:  s.now(),
		}
		if err := db.Create(&identity).Error; err != nil {
			return "", err
		}
		displayName := identity.DisplayName
		if displayName == "" {
			displayName = identity.Email
		}
		if displayName != "" {
			worker := Worker{WorkerID: identity.UserID, DisplayName: displayName, UserID: identity.UserID, Active: true}
			if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&worker).Error; err != nil {
				s.logger.Warn("worker registration failed", zap.String("user_id", identity.UserID), zap.Error(err))
			}
		}
	} else if err != nil {
		return "", err
	} else {
		updates := map[string]interface{}{}
		if email := normalize(claims.UserEmail); email != "" && email != identity.Email {
			updates["user_email"] = email
		}
		if display := normalize(claims.UserDisplayName); display != "" && display != identity.DisplayName {
			updates["user_display_name"] = display
		}
		updates["last_seen_at"] = s.now()
		_ = db.Model(&Identity{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Updates(updates).
			Error
	}

	s.cache.Store(cacheKey, identity.UserID)
	return identity.UserID, nil
}

// UpsertWorker creates or renames a crew worker.
func (s *Service) UpsertWorker(ctx context.Context, worker Worker) (Worker, error) {
	worker.WorkerID = normalize(worker.WorkerID)
	worker.DisplayName = normalize(worker.DisplayName)
	if worker.WorkerID == "" || worker.DisplayName == "" {
		return Worker{}, ErrInvalidWorker
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "worker_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "user_id", "active", "updated_at"}),
	}).Create(&worker).Error
	if err != nil {
		return Worker{}, err
	}
	s.names.Store(worker.WorkerID, worker.DisplayName)
	return worker, nil
}

// ListWorkers returns active workers ordered by display name.
func (s *Service) ListWorkers(ctx context.Context) ([]Worker, error) {
	var workers []Worker
	if err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Order("display_name ASC").
		Find(&workers).Error; err != nil {
		return nil, err
	}
	return workers, nil
}

// ResolveDisplayNames maps worker ids to display names, preserving selection order.
// Unknown ids are dropped.
func (s *Service) ResolveDisplayNames(ctx context.Context, workerIDs []string) ([]string, error) {
	names := make([]string, 0, len(workerIDs))
	missing := make([]string, 0)
	for _, workerID := range workerIDs {
		trimmed := normalize(workerID)
		if trimmed == "" {
			continue
		}
		if _, ok := s.names.Load(trimmed); !ok {
			missing = append(missing, trimmed)
		}
	}

	if len(missing) > 0 {
		var workers []Worker
		if err := s.db.WithContext(ctx).Where("worker_id IN ?", missing).Find(&workers).Error; err != nil {
			return nil, err
		}
		for _, worker := range workers {
			s.names.Store(worker.WorkerID, worker.DisplayName)
		}
	}

	for _, workerID := range workerIDs {
		trimmed := normalize(workerID)
		if trimmed == "" {
			continue
		}
		cached, ok := s.names.Load(trimmed)
		if !ok {
			s.logger.Warn("unknown worker id dropped", zap.String("worker_id", trimmed))
			continue
		}
		if displayName, ok := cached.(string); ok {
			names = append(names, displayName)
		}
	}
	return names, nil
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := "default"
	subject := normalize(claims.Subject)

	raw := normalize(claims.UserID)
	if raw != "" {
		if strings.Contains(raw, ":") {
			segments := strings.SplitN(raw, ":", 2)
			if normalize(segments[0]) != "" && normalize(segments[1]) != "" {
				provider = normalize(segments[0])
				subject = normalize(segments[1])
			}
		} else if subject == "" {
			subject = raw
		}
	}

	if subject == "" {
		subject = normalize(claims.UserEmail)
	}

	return provider, subject
}
