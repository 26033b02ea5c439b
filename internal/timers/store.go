package timers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

var (
	// ErrCorruptBlob indicates a stored timer blob that cannot be decoded.
	ErrCorruptBlob = errors.New("timers: stored timer blob is corrupt")

	errMissingBlobStore = errors.New("blob store is required")
	timerCodec          = sonic.ConfigStd
)

// Store keeps every in-progress timer of a user in a single serialized blob and exposes
// job-scoped reads and replace-by-job writes over it.
type Store struct {
	blobs  BlobStore
	logger *zap.Logger
	locks  sync.Map
}

// NewStore constructs a Store over blobs.
func NewStore(blobs BlobStore, logger *zap.Logger) (*Store, error) {
	if blobs == nil {
		return nil, errMissingBlobStore
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{blobs: blobs, logger: logger}, nil
}

// LoadForJob returns the timers of userID that belong to jobID.
// Failures are logged and yield an empty list.
func (s *Store) LoadForJob(ctx context.Context, userID, jobID string) []LocalTimer {
	unlock := s.lock(userID)
	defer unlock()

	all, err := s.readAll(ctx, userID)
	if err != nil {
		s.logger.Warn("timer load failed",
			zap.String("user_id", userID),
			zap.String("job_id", jobID),
			zap.Error(err))
		return []LocalTimer{}
	}
	return filterJob(all, jobID)
}

// SaveForJob replaces every stored timer of jobID with timers, leaving other jobs untouched.
// Callers pass the complete desired set for the job.
func (s *Store) SaveForJob(ctx context.Context, userID, jobID string, timers []LocalTimer) error {
	unlock := s.lock(userID)
	defer unlock()

	all, err := s.readAll(ctx, userID)
	if err != nil {
		return err
	}
	return s.writeAll(ctx, userID, replaceJob(all, jobID, timers))
}

// Mutate loads the job's timers, applies fn and saves the result under one per-user lock.
// A read or decode failure aborts before fn runs, so the stored blob is never overwritten
// with a partial view of the user's timers.
func (s *Store) Mutate(ctx context.Context, userID, jobID string, fn func([]LocalTimer) ([]LocalTimer, error)) ([]LocalTimer, error) {
	unlock := s.lock(userID)
	defer unlock()

	all, err := s.readAll(ctx, userID)
	if err != nil {
		return nil, err
	}
	next, err := fn(filterJob(all, jobID))
	if err != nil {
		return nil, err
	}
	if err := s.writeAll(ctx, userID, replaceJob(all, jobID, next)); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *Store) readAll(ctx context.Context, userID string) ([]LocalTimer, error) {
	raw, found, err := s.blobs.Get(ctx, StorageKey(userID))
	if err != nil {
		return nil, err
	}
	if !found || raw == "" {
		return []LocalTimer{}, nil
	}
	var all []LocalTimer
	if err := timerCodec.UnmarshalFromString(raw, &all); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBlob, err)
	}
	return all, nil
}

func (s *Store) writeAll(ctx context.Context, userID string, all []LocalTimer) error {
	encoded, err := timerCodec.MarshalToString(all)
	if err != nil {
		return err
	}
	return s.blobs.Put(ctx, StorageKey(userID), encoded)
}

func (s *Store) lock(userID string) func() {
	value, _ := s.locks.LoadOrStore(userID, &sync.Mutex{})
	mutex := value.(*sync.Mutex)
	mutex.Lock()
	return mutex.Unlock
}

func filterJob(all []LocalTimer, jobID string) []LocalTimer {
	filtered := make([]LocalTimer, 0, len(all))
	for _, timer := range all {
		if timer.JobID == jobID {
			filtered = append(filtered, timer)
		}
	}
	return filtered
}

func replaceJob(all []LocalTimer, jobID string, timers []LocalTimer) []LocalTimer {
	merged := make([]LocalTimer, 0, len(all)+len(timers))
	for _, timer := range all {
		if timer.JobID != jobID {
			merged = append(merged, timer)
		}
	}
	for _, timer := range timers {
		timer.JobID = jobID
		merged = append(merged, timer)
	}
	return merged
}
