// Package crew resolves how many people a time entry represents.
package crew

import (
	"errors"
	"fmt"
	"strings"
)

// Mode enumerates how crew size is captured.
type Mode string

const (
	// ModeCount captures a bare head count.
	ModeCount Mode = "count"
	// ModeWorkers captures individually selected workers.
	ModeWorkers Mode = "workers"
)

var (
	// ErrInvalidMode indicates an unknown crew capture mode.
	ErrInvalidMode = errors.New("crew: invalid mode")
	// ErrNegativeCount indicates a negative entered crew count.
	ErrNegativeCount = errors.New("crew: negative count")
)

// ParseMode validates raw input and returns a Mode. Empty input selects ModeCount.
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(ModeCount):
		return ModeCount, nil
	case string(ModeWorkers), "worker":
		return ModeWorkers, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, raw)
	}
}

// Source is the origin of a time entry: Timer or Manual.
type Source interface {
	source()
}

// Timer is a timer-sourced selection. EnteredCount holds the additional crew beyond
// the person operating the timer.
type Timer struct {
	Mode         Mode
	EnteredCount int
	WorkerNames  []string
}

// Manual is a manual-entry selection. EnteredCount is the whole crew.
type Manual struct {
	Mode         Mode
	EnteredCount int
	WorkerNames  []string
}

func (Timer) source()  {}
func (Manual) source() {}

// Composition is the resolved crew for a single entry.
type Composition struct {
	Count int
	Names []string
}

// Resolve computes crew composition for source.
//
// Timer entries always count the person logging time, so both modes add one.
// Manual entries never do: worker mode counts the selected workers and count mode
// stores the entered value as is.
func Resolve(source Source) (Composition, error) {
	switch selection := source.(type) {
	case Timer:
		switch selection.Mode {
		case ModeWorkers:
			names := cleanNames(selection.WorkerNames)
			return Composition{Count: len(names) + 1, Names: names}, nil
		case ModeCount:
			if selection.EnteredCount < 0 {
				return Composition{}, fmt.Errorf("%w: %d", ErrNegativeCount, selection.EnteredCount)
			}
			return Composition{Count: selection.EnteredCount + 1, Names: []string{}}, nil
		}
		return Composition{}, fmt.Errorf("%w: %q", ErrInvalidMode, selection.Mode)
	case Manual:
		switch selection.Mode {
		case ModeWorkers:
			names := cleanNames(selection.WorkerNames)
			return Composition{Count: len(names), Names: names}, nil
		case ModeCount:
			if selection.EnteredCount < 0 {
				return Composition{}, fmt.Errorf("%w: %d", ErrNegativeCount, selection.EnteredCount)
			}
			return Composition{Count: selection.EnteredCount, Names: []string{}}, nil
		}
		return Composition{}, fmt.Errorf("%w: %q", ErrInvalidMode, selection.Mode)
	default:
		return Composition{}, fmt.Errorf("%w: unsupported source %T", ErrInvalidMode, source)
	}
}

func cleanNames(names []string) []string {
	cleaned := make([]string, 0, len(names))
	for _, name := range names {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		cleaned = append(cleaned, trimmed)
	}
	return cleaned
}
