package timers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/fieldtrack/internal/apperr"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/crew"
	"go.uber.org/zap"
)

const (
	opEngineNew = "timers.engine.new"
	opStart     = "timers.start"
	opPause     = "timers.pause"
	opResume    = "timers.resume"
	opStop      = "timers.stop"
	opDiscard   = "timers.discard"
	opRemove    = "timers.remove"
	opGet       = "timers.get"

	reasonInvalidScope      = "invalid_scope"
	reasonComponentRequired = "component_required"
	reasonInvalidCrew       = "invalid_crew"
	reasonWorkerLookup      = "worker_lookup_failed"
	reasonIDGeneration      = "id_generation_failed"
	reasonNotFound          = "not_found"
	reasonInvalidTransition = "invalid_transition"
	reasonPersistFailed     = "persist_failed"
)

var (
	// ErrComponentRequired indicates a timer start without a selected component.
	ErrComponentRequired = errors.New("timers: component is required")
	// ErrTimerNotFound indicates the timer does not exist for the job.
	ErrTimerNotFound = errors.New("timers: timer not found")
	// ErrInvalidTransition indicates an action that does not apply to the timer's state.
	ErrInvalidTransition = errors.New("timers: invalid state transition")

	errMissingStore = errors.New("timer store is required")
)

// WorkerDirectory resolves selected worker ids to display names.
type WorkerDirectory interface {
	ResolveDisplayNames(ctx context.Context, workerIDs []string) ([]string, error)
}

// EngineConfig describes the dependencies of the lifecycle engine.
type EngineConfig struct {
	Store      *Store
	Workers    WorkerDirectory
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Engine drives the running/paused state machine of LocalTimers.
type Engine struct {
	store      *Store
	workers    WorkerDirectory
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewEngine constructs an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, apperr.New(opEngineNew, "missing_store", errMissingStore)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:      cfg.Store,
		workers:    cfg.Workers,
		clock:      clock,
		idProvider: idProvider,
		logger:     logger,
	}, nil
}

// StartRequest carries the selections made when starting a timer.
type StartRequest struct {
	UserID         string
	JobID          string
	ComponentID    string
	ComponentName  string
	CrewMode       crew.Mode
	AdditionalCrew int
	WorkerIDs      []string
}

// TimerView is a timer with its elapsed time computed at read time.
type TimerView struct {
	LocalTimer
	ElapsedMs int64 `json:"elapsedMs"`
}

// Review is the frozen result of stopping a timer, awaiting Save or Cancel.
type Review struct {
	Timer          LocalTimer
	ElapsedMs      int64
	StoppedAt      time.Time
	CrewMode       crew.Mode
	AdditionalCrew int
	WorkerNames    []string
}

// Start creates a running timer for the selected component.
func (e *Engine) Start(ctx context.Context, request StartRequest) (LocalTimer, error) {
	userID, jobID, err := validateScope(request.UserID, request.JobID)
	if err != nil {
		return LocalTimer{}, apperr.Validation(opStart, reasonInvalidScope, err)
	}
	componentID := strings.TrimSpace(request.ComponentID)
	if componentID == "" {
		return LocalTimer{}, apperr.Validation(opStart, reasonComponentRequired, ErrComponentRequired)
	}

	mode := request.CrewMode
	if mode == "" {
		mode = crew.ModeCount
	}
	names := []string{}
	if mode == crew.ModeWorkers && len(request.WorkerIDs) > 0 {
		if e.workers == nil {
			names = append(names, request.WorkerIDs...)
		} else {
			names, err = e.workers.ResolveDisplayNames(ctx, request.WorkerIDs)
			if err != nil {
				e.logError(opStart, reasonWorkerLookup, err, zap.String("job_id", jobID))
				return LocalTimer{}, apperr.New(opStart, reasonWorkerLookup, err)
			}
		}
	}
	composition, err := crew.Resolve(crew.Timer{
		Mode:         mode,
		EnteredCount: request.AdditionalCrew,
		WorkerNames:  names,
	})
	if err != nil {
		return LocalTimer{}, apperr.Validation(opStart, reasonInvalidCrew, err)
	}

	timerID, err := e.idProvider.NewID()
	if err != nil {
		e.logError(opStart, reasonIDGeneration, err)
		return LocalTimer{}, apperr.New(opStart, reasonIDGeneration, err)
	}

	timer := LocalTimer{
		ID:             timerID,
		JobID:          jobID,
		ComponentID:    componentID,
		ComponentName:  strings.TrimSpace(request.ComponentName),
		StartTime:      e.clock().UTC(),
		TotalElapsedMs: 0,
		CrewCount:      composition.Count,
		State:          StateRunning,
		WorkerNames:    composition.Names,
	}

	_, err = e.store.Mutate(ctx, userID, jobID, func(current []LocalTimer) ([]LocalTimer, error) {
		return append(current, timer), nil
	})
	if err != nil {
		e.logError(opStart, reasonPersistFailed, err, zap.String("user_id", userID), zap.String("job_id", jobID))
		return LocalTimer{}, apperr.New(opStart, reasonPersistFailed, err)
	}
	return timer, nil
}

// Pause folds the current interval into TotalElapsedMs and stamps PauseTime.
func (e *Engine) Pause(ctx context.Context, userID, jobID, timerID string) (LocalTimer, error) {
	return e.transition(ctx, opPause, userID, jobID, timerID, func(timer *LocalTimer, now time.Time) error {
		if timer.State != StateRunning {
			return ErrInvalidTransition
		}
		if interval := now.Sub(timer.StartTime); interval > 0 {
			timer.TotalElapsedMs += interval.Milliseconds()
		}
		pausedAt := now
		timer.PauseTime = &pausedAt
		timer.State = StatePaused
		return nil
	})
}

// Resume restarts the accounting boundary at now; TotalElapsedMs carries forward unchanged.
func (e *Engine) Resume(ctx context.Context, userID, jobID, timerID string) (LocalTimer, error) {
	return e.transition(ctx, opResume, userID, jobID, timerID, func(timer *LocalTimer, now time.Time) error {
		if timer.State != StatePaused {
			return ErrInvalidTransition
		}
		timer.PauseTime = nil
		timer.StartTime = now
		timer.State = StateRunning
		return nil
	})
}

// Stop freezes the elapsed time for review. The stored timer is left untouched until the
// review is saved or discarded.
func (e *Engine) Stop(ctx context.Context, userID, jobID, timerID string) (Review, error) {
	timer, err := e.get(ctx, opStop, userID, jobID, timerID)
	if err != nil {
		return Review{}, err
	}
	now := e.clock().UTC()
	review := Review{
		Timer:          timer,
		ElapsedMs:      ElapsedMs(timer, now),
		StoppedAt:      now,
		CrewMode:       crew.ModeCount,
		AdditionalCrew: timer.CrewCount - 1,
		WorkerNames:    append([]string{}, timer.WorkerNames...),
	}
	if len(timer.WorkerNames) > 0 {
		review.CrewMode = crew.ModeWorkers
	}
	if review.AdditionalCrew < 0 {
		review.AdditionalCrew = 0
	}
	return review, nil
}

// Get returns one stored timer.
func (e *Engine) Get(ctx context.Context, userID, jobID, timerID string) (LocalTimer, error) {
	return e.get(ctx, opGet, userID, jobID, timerID)
}

// Discard deletes a stopped timer without recording time.
func (e *Engine) Discard(ctx context.Context, userID, jobID, timerID string) error {
	return e.delete(ctx, opDiscard, userID, jobID, timerID)
}

// Remove deletes a timer whose time entry has been saved.
func (e *Engine) Remove(ctx context.Context, userID, jobID, timerID string) error {
	return e.delete(ctx, opRemove, userID, jobID, timerID)
}

// List returns the job's timers with elapsed time computed now.
func (e *Engine) List(ctx context.Context, userID, jobID string) ([]TimerView, error) {
	userID, jobID, err := validateScope(userID, jobID)
	if err != nil {
		return nil, err
	}
	now := e.clock().UTC()
	stored := e.store.LoadForJob(ctx, userID, jobID)
	views := make([]TimerView, 0, len(stored))
	for _, timer := range stored {
		views = append(views, TimerView{LocalTimer: timer, ElapsedMs: ElapsedMs(timer, now)})
	}
	return views, nil
}

// Now exposes the engine clock.
func (e *Engine) Now() time.Time {
	return e.clock().UTC()
}

func (e *Engine) transition(ctx context.Context, operation, userID, jobID, timerID string, apply func(*LocalTimer, time.Time) error) (LocalTimer, error) {
	userID, jobID, err := validateScope(userID, jobID)
	if err != nil {
		return LocalTimer{}, apperr.Validation(operation, reasonInvalidScope, err)
	}
	now := e.clock().UTC()
	var updated LocalTimer
	_, err = e.store.Mutate(ctx, userID, jobID, func(current []LocalTimer) ([]LocalTimer, error) {
		next := make([]LocalTimer, len(current))
		copy(next, current)
		for index := range next {
			if next[index].ID != timerID {
				continue
			}
			if applyErr := apply(&next[index], now); applyErr != nil {
				return nil, applyErr
			}
			updated = next[index]
			return next, nil
		}
		return nil, ErrTimerNotFound
	})
	return updated, e.classify(operation, err, userID, jobID, timerID)
}

func (e *Engine) delete(ctx context.Context, operation, userID, jobID, timerID string) error {
	userID, jobID, err := validateScope(userID, jobID)
	if err != nil {
		return apperr.Validation(operation, reasonInvalidScope, err)
	}
	_, err = e.store.Mutate(ctx, userID, jobID, func(current []LocalTimer) ([]LocalTimer, error) {
		next := make([]LocalTimer, 0, len(current))
		found := false
		for _, timer := range current {
			if timer.ID == timerID {
				found = true
				continue
			}
			next = append(next, timer)
		}
		if !found {
			return nil, ErrTimerNotFound
		}
		return next, nil
	})
	return e.classify(operation, err, userID, jobID, timerID)
}

func (e *Engine) get(ctx context.Context, operation, userID, jobID, timerID string) (LocalTimer, error) {
	userID, jobID, err := validateScope(userID, jobID)
	if err != nil {
		return LocalTimer{}, apperr.Validation(operation, reasonInvalidScope, err)
	}
	for _, timer := range e.store.LoadForJob(ctx, userID, jobID) {
		if timer.ID == timerID {
			return timer, nil
		}
	}
	return LocalTimer{}, apperr.Validation(operation, reasonNotFound, ErrTimerNotFound)
}

func (e *Engine) classify(operation string, err error, userID, jobID, timerID string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTimerNotFound):
		return apperr.Validation(operation, reasonNotFound, err)
	case errors.Is(err, ErrInvalidTransition):
		return apperr.Validation(operation, reasonInvalidTransition, err)
	default:
		e.logError(operation, reasonPersistFailed, err,
			zap.String("user_id", userID),
			zap.String("job_id", jobID),
			zap.String("timer_id", timerID))
		return apperr.New(operation, reasonPersistFailed, err)
	}
}

func (e *Engine) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	e.logger.Error("timer engine error", attrs...)
}
