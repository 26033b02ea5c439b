package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type sseEvent struct {
	name string
	data string
}

func readEvents(t *testing.T, reader *bufio.Reader) <-chan sseEvent {
	t.Helper()
	events := make(chan sseEvent, 16)
	go func() {
		defer close(events)
		current := sseEvent{}
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
				if current.name != "" {
					events <- current
				}
				current = sseEvent{}
			case strings.HasPrefix(line, "event:"):
				current.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				current.data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			}
		}
	}()
	return events
}

func waitForEvent(t *testing.T, events <-chan sseEvent, name string) sseEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", name)
		case event, ok := <-events:
			if !ok {
				t.Fatalf("stream closed before %q event", name)
			}
			if event.name == name {
				return event
			}
		}
	}
}

func TestTimerStreamEmitsSnapshotsAndTimerChanges(t *testing.T) {
	env := newTestEnvironment(t)
	server := httptest.NewServer(env.handler)
	t.Cleanup(server.Close)

	token := env.token(t, "user-1")
	streamResp, err := http.Get(server.URL + "/jobs/job-1/timers/stream?access_token=" + token)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}
	if contentType := streamResp.Header.Get("Content-Type"); !strings.HasPrefix(contentType, "text/event-stream") {
		t.Fatalf("unexpected content type: %q", contentType)
	}

	events := readEvents(t, bufio.NewReader(streamResp.Body))
	snapshot := waitForEvent(t, events, RealtimeEventTimers)
	var initial timersResponsePayload
	if err := json.Unmarshal([]byte(snapshot.data), &initial); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if initial.JobID != "job-1" || len(initial.Timers) != 0 {
		t.Fatalf("unexpected initial snapshot: %#v", initial)
	}

	body := bytes.NewBufferString(`{"component_id":"comp-roof","component_name":"Roofing","additional_crew":1}`)
	startReq, err := http.NewRequest(http.MethodPost, server.URL+"/jobs/job-1/timers", body)
	if err != nil {
		t.Fatalf("failed to construct start request: %v", err)
	}
	startReq.Header.Set("Authorization", "Bearer "+token)
	startReq.Header.Set("Content-Type", "application/json")
	startResp, err := http.DefaultClient.Do(startReq)
	if err != nil {
		t.Fatalf("start request failed: %v", err)
	}
	var started timerPayload
	if err := json.NewDecoder(startResp.Body).Decode(&started); err != nil {
		t.Fatalf("failed to decode start response: %v", err)
	}
	_ = startResp.Body.Close()
	if startResp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected start status: %d", startResp.StatusCode)
	}

	change := waitForEvent(t, events, RealtimeEventTimerChanged)
	var payload streamEventPayload
	if err := json.Unmarshal([]byte(change.data), &payload); err != nil {
		t.Fatalf("failed to decode change payload: %v", err)
	}
	if payload.Source != realtimeSourceBackend || payload.JobID != "job-1" {
		t.Fatalf("unexpected change payload: %#v", payload)
	}
	if len(payload.TimerIDs) != 1 || payload.TimerIDs[0] != started.ID {
		t.Fatalf("unexpected timer ids: %#v", payload.TimerIDs)
	}

	for {
		next := waitForEvent(t, events, RealtimeEventTimers)
		var refreshed timersResponsePayload
		if err := json.Unmarshal([]byte(next.data), &refreshed); err != nil {
			t.Fatalf("failed to decode snapshot: %v", err)
		}
		if len(refreshed.Timers) == 1 {
			if refreshed.Timers[0].CrewCount != 2 {
				t.Fatalf("expected crew of 2 in snapshot, got %d", refreshed.Timers[0].CrewCount)
			}
			return
		}
	}
}

func TestTimerStreamRequiresToken(t *testing.T) {
	env := newTestEnvironment(t)
	recorder := env.do(t, http.MethodGet, "/jobs/job-1/timers/stream", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}
