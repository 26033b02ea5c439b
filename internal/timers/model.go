package timers

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// State enumerates the lifecycle states of a LocalTimer.
type State string

const (
	// StateRunning marks a timer whose current interval is accumulating.
	StateRunning State = "running"
	// StatePaused marks a timer whose elapsed time is frozen.
	StatePaused State = "paused"
)

const (
	storageKeyPrefix    = "fieldtrack_timers_"
	maxIdentifierLength = 190
)

var (
	// ErrInvalidUserID indicates an empty or oversized user identifier.
	ErrInvalidUserID = errors.New("timers: invalid user id")
	// ErrInvalidJobID indicates an empty or oversized job identifier.
	ErrInvalidJobID = errors.New("timers: invalid job id")
)

// LocalTimer is a crew's in-progress work session on one job component.
//
// StartTime marks the beginning of the current running interval and resets on every
// resume. TotalElapsedMs holds completed intervals only.
type LocalTimer struct {
	ID             string     `json:"id"`
	JobID          string     `json:"jobId"`
	ComponentID    string     `json:"componentId"`
	ComponentName  string     `json:"componentName"`
	StartTime      time.Time  `json:"startTime"`
	PauseTime      *time.Time `json:"pauseTime,omitempty"`
	TotalElapsedMs int64      `json:"totalElapsedMs"`
	CrewCount      int        `json:"crewCount"`
	State          State      `json:"state"`
	WorkerNames    []string   `json:"workerNames"`
}

// Elapsed returns the true elapsed time of timer at now.
// Running timers add the live interval; paused timers report TotalElapsedMs exactly.
func Elapsed(timer LocalTimer, now time.Time) time.Duration {
	elapsed := time.Duration(timer.TotalElapsedMs) * time.Millisecond
	if timer.State == StateRunning {
		if live := now.Sub(timer.StartTime); live > 0 {
			elapsed += live
		}
	}
	return elapsed
}

// ElapsedMs is Elapsed in whole milliseconds.
func ElapsedMs(timer LocalTimer, now time.Time) int64 {
	return Elapsed(timer, now).Milliseconds()
}

// StorageKey returns the blob key that holds every timer of userID.
func StorageKey(userID string) string {
	return storageKeyPrefix + userID
}

func validateScope(userID, jobID string) (string, string, error) {
	trimmedUser := strings.TrimSpace(userID)
	if trimmedUser == "" || len(trimmedUser) > maxIdentifierLength {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	}
	trimmedJob := strings.TrimSpace(jobID)
	if trimmedJob == "" || len(trimmedJob) > maxIdentifierLength {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidJobID, jobID)
	}
	return trimmedUser, trimmedJob, nil
}
