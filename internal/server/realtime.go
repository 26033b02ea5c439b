package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// RealtimeEventTimerChanged announces a started, paused, resumed or removed timer.
	RealtimeEventTimerChanged = "timer-change"
	// RealtimeEventTimeEntry announces a saved time entry.
	RealtimeEventTimeEntry = "time-entry"
	// RealtimeEventTimers carries the periodic elapsed-time snapshot.
	RealtimeEventTimers   = "timers"
	realtimeSourceBackend = "fieldtrack-backend"

	realtimeBufferSize = 16
)

// RealtimeMessage is one event fanned out to the streams watching a user's job.
type RealtimeMessage struct {
	UserID    string
	JobID     string
	EventType string
	TimerIDs  []string
	EntryID   uint
	Timestamp time.Time
}

type streamScope struct {
	userID string
	jobID  string
}

// RealtimeDispatcher fans messages out to the streams open on a user's job.
// A full stream drops the message instead of blocking the publisher.
type RealtimeDispatcher struct {
	mu      sync.RWMutex
	streams map[streamScope]map[uint64]chan RealtimeMessage
	nextID  atomic.Uint64
	clock   func() time.Time
}

// NewRealtimeDispatcher constructs an empty dispatcher.
func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		streams: make(map[streamScope]map[uint64]chan RealtimeMessage),
		clock:   time.Now,
	}
}

// Subscribe opens a stream for one user's job. The stream closes when ctx ends
// or cleanup runs, whichever comes first.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, userID, jobID string) (<-chan RealtimeMessage, func()) {
	scope := streamScope{userID: userID, jobID: jobID}
	if scope.userID == "" || scope.jobID == "" {
		closed := make(chan RealtimeMessage)
		close(closed)
		return closed, func() {}
	}

	id := d.nextID.Add(1)
	stream := make(chan RealtimeMessage, realtimeBufferSize)
	d.mu.Lock()
	if d.streams[scope] == nil {
		d.streams[scope] = make(map[uint64]chan RealtimeMessage)
	}
	d.streams[scope][id] = stream
	d.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() { d.close(scope, id) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return stream, cleanup
}

// Publish delivers message to every stream open on its user's job.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.UserID == "" || message.JobID == "" || message.EventType == "" {
		return
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = d.clock().UTC()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, stream := range d.streams[streamScope{userID: message.UserID, jobID: message.JobID}] {
		select {
		case stream <- message:
		default:
		}
	}
}

// Streams reports how many streams are open on a user's job.
func (d *RealtimeDispatcher) Streams(userID, jobID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.streams[streamScope{userID: userID, jobID: jobID}])
}

func (d *RealtimeDispatcher) close(scope streamScope, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	streams := d.streams[scope]
	stream, ok := streams[id]
	if !ok {
		return
	}
	delete(streams, id)
	if len(streams) == 0 {
		delete(d.streams, scope)
	}
	close(stream)
}
