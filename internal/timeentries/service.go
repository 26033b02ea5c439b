package timeentries

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/fieldtrack/internal/apperr"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/crew"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/notifications"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/timers"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	// maxManualHours bounds one manual entry to a single day of labor.
	maxManualHours = 24

	opServiceNew   = "timeentries.service.new"
	opSaveTimer    = "timeentries.save_timer"
	opCreateManual = "timeentries.create_manual"
	opListForJob   = "timeentries.list_for_job"
	opTotals       = "timeentries.totals"

	reasonMissingDatabase   = "missing_database"
	reasonMissingTimers     = "missing_timers"
	reasonInvalidJob        = "invalid_job"
	reasonComponentRequired = "component_required"
	reasonInvalidHours      = "invalid_hours"
	reasonInvalidDate       = "invalid_date"
	reasonInvalidElapsed    = "invalid_elapsed"
	reasonInvalidCrew       = "invalid_crew"
	reasonWorkersRequired   = "workers_required"
	reasonWorkerLookup      = "worker_lookup_failed"
	reasonInsertFailed      = "insert_failed"
	reasonQueryFailed       = "query_failed"

	dateLayout = "2006-01-02"
	middayHour = 12
)

var (
	// ErrComponentRequired indicates a manual entry without a component.
	ErrComponentRequired = errors.New("timeentries: component is required")
	// ErrInvalidHours indicates a manual entry whose hours and minutes add up to zero or less.
	ErrInvalidHours = errors.New("timeentries: hours must be greater than zero")
	// ErrWorkersRequired indicates worker-select mode with nobody selected.
	ErrWorkersRequired = errors.New("timeentries: at least one worker is required")
	// ErrInvalidDate indicates a manual entry date that is not YYYY-MM-DD.
	ErrInvalidDate = errors.New("timeentries: invalid date")
	// ErrInvalidElapsed indicates a reviewed elapsed time outside the timer's range.
	ErrInvalidElapsed = errors.New("timeentries: invalid elapsed time")
	// ErrInvalidJobID indicates an empty job identifier.
	ErrInvalidJobID = errors.New("timeentries: invalid job id")

	errMissingDatabase = errors.New("database handle is required")
	errMissingTimers   = errors.New("timer engine is required")
)

// TimerSource is the slice of the timer engine the normalizer consumes.
type TimerSource interface {
	Get(ctx context.Context, userID, jobID, timerID string) (timers.LocalTimer, error)
	Remove(ctx context.Context, userID, jobID, timerID string) error
}

// WorkerDirectory resolves selected worker ids to display names.
type WorkerDirectory interface {
	ResolveDisplayNames(ctx context.Context, workerIDs []string) ([]string, error)
}

// Notifier receives a notification for every saved entry.
type Notifier interface {
	CreateNotification(ctx context.Context, request notifications.Request) (notifications.Notification, error)
}

// PhotoStorage stores attached photos.
type PhotoStorage interface {
	ObjectPath(jobID, filename string) (string, error)
	Upload(ctx context.Context, objectPath string, body io.Reader) error
	PublicURL(objectPath string) string
}

// ServiceConfig describes the dependencies of the time-entry Service.
type ServiceConfig struct {
	Database *gorm.DB
	Timers   TimerSource
	Workers  WorkerDirectory
	Notifier Notifier
	Photos   PhotoStorage
	Clock    func() time.Time
	Location *time.Location
	Logger   *zap.Logger
}

// Service turns reviewed timers and manual forms into persisted time entries.
type Service struct {
	db       *gorm.DB
	timers   TimerSource
	workers  WorkerDirectory
	notifier Notifier
	photos   PhotoStorage
	clock    func() time.Time
	location *time.Location
	logger   *zap.Logger
}

// NewService constructs a time-entry Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.New(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.Timers == nil {
		return nil, apperr.New(opServiceNew, reasonMissingTimers, errMissingTimers)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	location := cfg.Location
	if location == nil {
		location = time.Local
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:       cfg.Database,
		timers:   cfg.Timers,
		workers:  cfg.Workers,
		notifier: cfg.Notifier,
		photos:   cfg.Photos,
		clock:    clock,
		location: location,
		logger:   logger,
	}, nil
}

// SaveTimerRequest carries the reviewer's final selections for a stopped timer.
// ElapsedMs is the value frozen at stop; nil uses the timer's live elapsed time.
type SaveTimerRequest struct {
	UserID         string
	JobID          string
	TimerID        string
	ElapsedMs      *int64
	CrewMode       crew.Mode
	AdditionalCrew int
	WorkerIDs      []string
	Notes          string
}

// ManualEntryRequest carries a manual time-entry form.
type ManualEntryRequest struct {
	UserID        string
	JobID         string
	ComponentID   string
	ComponentName string
	Date          string
	Hours         float64
	Minutes       float64
	CrewMode      crew.Mode
	CrewCount     int
	WorkerIDs     []string
	Notes         string
	Photos        []PhotoUpload
}

// SaveTimer persists the reviewed timer as a time entry and removes the timer.
// The timer stays stored when the insert fails so the reviewer can retry.
func (s *Service) SaveTimer(ctx context.Context, request SaveTimerRequest) (SaveResult, error) {
	jobID := strings.TrimSpace(request.JobID)
	if jobID == "" {
		return SaveResult{}, apperr.Validation(opSaveTimer, reasonInvalidJob, ErrInvalidJobID)
	}
	timer, err := s.timers.Get(ctx, request.UserID, jobID, request.TimerID)
	if err != nil {
		return SaveResult{}, err
	}

	now := s.clock().UTC()
	liveMs := timers.ElapsedMs(timer, now)
	elapsedMs := liveMs
	if request.ElapsedMs != nil {
		elapsedMs = *request.ElapsedMs
	}
	if elapsedMs < 0 || elapsedMs > liveMs {
		return SaveResult{}, apperr.Validation(opSaveTimer, reasonInvalidElapsed,
			fmt.Errorf("%w: %d outside [0, %d]", ErrInvalidElapsed, elapsedMs, liveMs))
	}

	mode := defaultMode(request.CrewMode)
	names, err := s.resolveNames(ctx, opSaveTimer, mode, request.WorkerIDs)
	if err != nil {
		return SaveResult{}, err
	}
	composition, err := crew.Resolve(crew.Timer{Mode: mode, EnteredCount: request.AdditionalCrew, WorkerNames: names})
	if err != nil {
		return SaveResult{}, apperr.Validation(opSaveTimer, reasonInvalidCrew, err)
	}

	componentID := timer.ComponentID
	entry := TimeEntry{
		JobID:         jobID,
		ComponentID:   &componentID,
		ComponentName: strings.TrimSpace(timer.ComponentName),
		UserID:        request.UserID,
		StartTime:     now.Add(-time.Duration(elapsedMs) * time.Millisecond),
		EndTime:       now,
		TotalHours:    HoursFromMilliseconds(elapsedMs),
		CrewCount:     composition.Count,
		IsManual:      false,
		IsActive:      false,
		Notes:         strings.TrimSpace(request.Notes),
		WorkerNames:   datatypes.NewJSONSlice(composition.Names),
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		s.logError(opSaveTimer, reasonInsertFailed, err, zap.String("job_id", jobID), zap.String("timer_id", timer.ID))
		return SaveResult{}, apperr.New(opSaveTimer, reasonInsertFailed, err)
	}

	result := SaveResult{Entry: entry, Warnings: []string{}}
	if err := s.timers.Remove(ctx, request.UserID, jobID, timer.ID); err != nil {
		s.logger.Warn("saved timer could not be removed",
			zap.String("job_id", jobID),
			zap.String("timer_id", timer.ID),
			zap.Uint("time_entry_id", entry.ID),
			zap.Error(err))
		result.Warnings = append(result.Warnings, "timer_remove_failed")
	}

	brief := fmt.Sprintf("Timer: %sh logged on %s, crew of %d",
		formatHours(entry.TotalHours), componentLabel(timer.ComponentName, componentID), entry.CrewCount)
	s.notify(ctx, &result, brief)
	s.refreshTotals(ctx, &result)
	return result, nil
}

// CreateManual validates and persists a manual time entry with its photos.
func (s *Service) CreateManual(ctx context.Context, request ManualEntryRequest) (SaveResult, error) {
	jobID := strings.TrimSpace(request.JobID)
	if jobID == "" {
		return SaveResult{}, apperr.Validation(opCreateManual, reasonInvalidJob, ErrInvalidJobID)
	}
	componentID := strings.TrimSpace(request.ComponentID)
	if componentID == "" {
		return SaveResult{}, apperr.Validation(opCreateManual, reasonComponentRequired, ErrComponentRequired)
	}
	rawHours := request.Hours + request.Minutes/60
	if math.IsNaN(rawHours) || rawHours <= 0 || rawHours > maxManualHours {
		return SaveResult{}, apperr.Validation(opCreateManual, reasonInvalidHours, ErrInvalidHours)
	}
	mode := defaultMode(request.CrewMode)
	if mode == crew.ModeWorkers && len(request.WorkerIDs) == 0 {
		return SaveResult{}, apperr.Validation(opCreateManual, reasonWorkersRequired, ErrWorkersRequired)
	}
	entryDate, err := s.entryDate(request.Date)
	if err != nil {
		return SaveResult{}, apperr.Validation(opCreateManual, reasonInvalidDate, err)
	}

	names, err := s.resolveNames(ctx, opCreateManual, mode, request.WorkerIDs)
	if err != nil {
		return SaveResult{}, err
	}
	if mode == crew.ModeWorkers && len(names) == 0 {
		return SaveResult{}, apperr.Validation(opCreateManual, reasonWorkersRequired, ErrWorkersRequired)
	}
	composition, err := crew.Resolve(crew.Manual{Mode: mode, EnteredCount: request.CrewCount, WorkerNames: names})
	if err != nil {
		return SaveResult{}, apperr.Validation(opCreateManual, reasonInvalidCrew, err)
	}

	entry := TimeEntry{
		JobID:         jobID,
		ComponentID:   &componentID,
		ComponentName: strings.TrimSpace(request.ComponentName),
		UserID:        request.UserID,
		StartTime:     entryDate,
		EndTime:       entryDate,
		TotalHours:    RoundToQuarterHour(rawHours),
		CrewCount:     composition.Count,
		IsManual:      true,
		IsActive:      false,
		Notes:         strings.TrimSpace(request.Notes),
		WorkerNames:   datatypes.NewJSONSlice(composition.Names),
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		s.logError(opCreateManual, reasonInsertFailed, err, zap.String("job_id", jobID))
		return SaveResult{}, apperr.New(opCreateManual, reasonInsertFailed, err)
	}

	result := SaveResult{Entry: entry, Warnings: []string{}}
	s.storePhotos(ctx, &result, request.Photos, entryDate.Format(dateLayout))

	brief := fmt.Sprintf("Manual entry: %sh logged on %s, crew of %d",
		formatHours(entry.TotalHours), componentLabel(request.ComponentName, componentID), entry.CrewCount)
	if result.PhotosStored > 0 {
		brief += fmt.Sprintf(", %d %s", result.PhotosStored, plural(result.PhotosStored, "photo", "photos"))
	}
	s.notify(ctx, &result, brief)
	s.refreshTotals(ctx, &result)
	return result, nil
}

// ListForJob returns a job's time entries, newest first.
func (s *Service) ListForJob(ctx context.Context, jobID string) ([]TimeEntry, error) {
	var entries []TimeEntry
	if err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("start_time DESC").
		Order("id DESC").
		Find(&entries).Error; err != nil {
		s.logError(opListForJob, reasonQueryFailed, err, zap.String("job_id", jobID))
		return nil, apperr.New(opListForJob, reasonQueryFailed, err)
	}
	return entries, nil
}

// Totals returns the component-hours and clock-in-hours aggregates of a job.
func (s *Service) Totals(ctx context.Context, jobID, componentID string) (Totals, error) {
	var totals Totals
	db := s.db.WithContext(ctx).Model(&TimeEntry{})
	if componentID != "" {
		if err := db.Session(&gorm.Session{}).
			Select("COALESCE(SUM(total_hours), 0)").
			Where("job_id = ? AND component_id = ?", jobID, componentID).
			Scan(&totals.ComponentHours).Error; err != nil {
			s.logError(opTotals, reasonQueryFailed, err, zap.String("job_id", jobID))
			return Totals{}, apperr.New(opTotals, reasonQueryFailed, err)
		}
	}
	if err := db.Session(&gorm.Session{}).
		Select("COALESCE(SUM(total_hours), 0)").
		Where("job_id = ? AND component_id IS NULL", jobID).
		Scan(&totals.ClockInHours).Error; err != nil {
		s.logError(opTotals, reasonQueryFailed, err, zap.String("job_id", jobID))
		return Totals{}, apperr.New(opTotals, reasonQueryFailed, err)
	}
	return totals, nil
}

func (s *Service) resolveNames(ctx context.Context, operation string, mode crew.Mode, workerIDs []string) ([]string, error) {
	if mode != crew.ModeWorkers || len(workerIDs) == 0 {
		return []string{}, nil
	}
	if s.workers == nil {
		return append([]string{}, workerIDs...), nil
	}
	names, err := s.workers.ResolveDisplayNames(ctx, workerIDs)
	if err != nil {
		s.logError(operation, reasonWorkerLookup, err)
		return nil, apperr.New(operation, reasonWorkerLookup, err)
	}
	return names, nil
}

func (s *Service) entryDate(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	var day time.Time
	if trimmed == "" {
		day = s.clock().In(s.location)
	} else {
		parsed, err := time.ParseInLocation(dateLayout, trimmed, s.location)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
		}
		day = parsed
	}
	year, month, date := day.Date()
	return time.Date(year, month, date, middayHour, 0, 0, 0, s.location), nil
}

func (s *Service) storePhotos(ctx context.Context, result *SaveResult, uploads []PhotoUpload, photoDate string) {
	if len(uploads) == 0 {
		return
	}
	if s.photos == nil {
		result.Warnings = append(result.Warnings, "photo_storage_unavailable")
		return
	}
	entry := result.Entry
	for _, upload := range uploads {
		objectPath, err := s.photos.ObjectPath(entry.JobID, upload.Filename)
		if err == nil {
			err = s.photos.Upload(ctx, objectPath, upload.Body)
		}
		if err != nil {
			s.logger.Warn("photo upload failed",
				zap.String("job_id", entry.JobID),
				zap.Uint("time_entry_id", entry.ID),
				zap.String("filename", upload.Filename),
				zap.Error(err))
			result.Warnings = append(result.Warnings, "photo_upload_failed")
			continue
		}
		photo := Photo{
			TimeEntryID: entry.ID,
			ComponentID: entry.ComponentID,
			JobID:       entry.JobID,
			PhotoURL:    s.photos.PublicURL(objectPath),
			PhotoDate:   photoDate,
			UploadedBy:  entry.UserID,
			Caption:     entry.Notes,
		}
		if err := s.db.WithContext(ctx).Create(&photo).Error; err != nil {
			s.logger.Warn("photo record insert failed",
				zap.String("job_id", entry.JobID),
				zap.Uint("time_entry_id", entry.ID),
				zap.String("object_path", objectPath),
				zap.Error(err))
			result.Warnings = append(result.Warnings, "photo_record_failed")
			continue
		}
		result.PhotosStored++
	}
}

func (s *Service) notify(ctx context.Context, result *SaveResult, brief string) {
	if s.notifier == nil {
		return
	}
	entry := result.Entry
	referenceID := entry.ID
	_, err := s.notifier.CreateNotification(ctx, notifications.Request{
		JobID:       entry.JobID,
		CreatedBy:   entry.UserID,
		Type:        notifications.TypeTimeEntry,
		Brief:       brief,
		ReferenceID: &referenceID,
		ReferenceData: map[string]any{
			"hours":        entry.TotalHours,
			"crew_count":   entry.CrewCount,
			"is_manual":    entry.IsManual,
			"worker_names": []string(entry.WorkerNames),
			"photo_count":  result.PhotosStored,
		},
	})
	if err != nil {
		s.logger.Warn("time entry notification failed",
			zap.String("job_id", entry.JobID),
			zap.Uint("time_entry_id", entry.ID),
			zap.Error(err))
		result.Warnings = append(result.Warnings, "notification_failed")
	}
}

func (s *Service) refreshTotals(ctx context.Context, result *SaveResult) {
	componentID := ""
	if result.Entry.ComponentID != nil {
		componentID = *result.Entry.ComponentID
	}
	totals, err := s.Totals(ctx, result.Entry.JobID, componentID)
	if err != nil {
		result.Warnings = append(result.Warnings, "totals_refresh_failed")
		return
	}
	result.Totals = totals
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("time entry service error", attrs...)
}

func defaultMode(mode crew.Mode) crew.Mode {
	if mode == "" {
		return crew.ModeCount
	}
	return mode
}

func formatHours(hours float64) string {
	return strconv.FormatFloat(hours, 'f', -1, 64)
}

func componentLabel(name, componentID string) string {
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		return trimmed
	}
	return "component " + componentID
}

func plural(count int, singular, pluralForm string) string {
	if count == 1 {
		return singular
	}
	return pluralForm
}
