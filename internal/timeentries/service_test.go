package timeentries

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/fieldtrack/internal/apperr"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/crew"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/notifications"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/objectstore"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/timers"
	sqlite "github.com/glebarez/sqlite"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

type stubDirectory map[string]string

func (d stubDirectory) ResolveDisplayNames(_ context.Context, ids []string) ([]string, error) {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if name, ok := d[id]; ok {
			names = append(names, name)
		}
	}
	return names, nil
}

type recordingNotifier struct {
	requests []notifications.Request
	err      error
}

func (n *recordingNotifier) CreateNotification(_ context.Context, request notifications.Request) (notifications.Notification, error) {
	if n.err != nil {
		return notifications.Notification{}, n.err
	}
	n.requests = append(n.requests, request)
	return notifications.Notification{JobID: request.JobID, Brief: request.Brief}, nil
}

type fixture struct {
	service  *Service
	engine   *timers.Engine
	clock    *testClock
	db       *gorm.DB
	notifier *recordingNotifier
	fs       afero.Fs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&TimeEntry{}, &Photo{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := &testClock{now: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	directory := stubDirectory{"w-1": "Ana", "w-2": "Luis", "w-3": "Marta"}
	store, err := timers.NewStore(timers.NewMemoryBlobStore(), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to construct timer store: %v", err)
	}
	engine, err := timers.NewEngine(timers.EngineConfig{
		Store:   store,
		Workers: directory,
		Clock:   clock.Now,
		Logger:  zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct engine: %v", err)
	}

	fs := afero.NewMemMapFs()
	bucket, err := objectstore.NewBucket(objectstore.BucketConfig{
		Filesystem:    fs,
		PublicBaseURL: "https://field.example.com",
		Clock:         clock.Now,
		Random:        bytes.NewReader(bytes.Repeat([]byte{0xab}, 64)),
	})
	if err != nil {
		t.Fatalf("failed to construct bucket: %v", err)
	}

	notifier := &recordingNotifier{}
	service, err := NewService(ServiceConfig{
		Database: db,
		Timers:   engine,
		Workers:  directory,
		Notifier: notifier,
		Photos:   bucket,
		Clock:    clock.Now,
		Location: time.UTC,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return &fixture{service: service, engine: engine, clock: clock, db: db, notifier: notifier, fs: fs}
}

func (f *fixture) startTimer(t *testing.T, jobID string) timers.LocalTimer {
	t.Helper()
	timer, err := f.engine.Start(context.Background(), timers.StartRequest{
		UserID:        "user-1",
		JobID:         jobID,
		ComponentID:   "comp-1",
		ComponentName: "Framing",
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	return timer
}

func TestSaveTimerWithWorkersCountsLogger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	timer := f.startTimer(t, "job-1")
	f.clock.now = f.clock.now.Add(2 * time.Hour)

	result, err := f.service.SaveTimer(ctx, SaveTimerRequest{
		UserID:    "user-1",
		JobID:     "job-1",
		TimerID:   timer.ID,
		CrewMode:  crew.ModeWorkers,
		WorkerIDs: []string{"w-1", "w-2"},
		Notes:     " east wall ",
	})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	entry := result.Entry
	if entry.TotalHours != 2 || entry.CrewCount != 3 {
		t.Fatalf("unexpected hours/crew: %v/%d", entry.TotalHours, entry.CrewCount)
	}
	if entry.IsManual || entry.IsActive {
		t.Fatalf("timer entry must be neither manual nor active")
	}
	if entry.ComponentID == nil || *entry.ComponentID != "comp-1" || entry.ComponentName != "Framing" {
		t.Fatalf("unexpected component: %v %q", entry.ComponentID, entry.ComponentName)
	}
	if got := []string(entry.WorkerNames); len(got) != 2 || got[0] != "Ana" || got[1] != "Luis" {
		t.Fatalf("unexpected worker names: %v", got)
	}
	if entry.Notes != "east wall" {
		t.Fatalf("notes not trimmed: %q", entry.Notes)
	}
	if !entry.EndTime.Equal(f.clock.now) || !entry.StartTime.Equal(f.clock.now.Add(-2*time.Hour)) {
		t.Fatalf("unexpected interval %s to %s", entry.StartTime, entry.EndTime)
	}

	if _, err := f.engine.Get(ctx, "user-1", "job-1", timer.ID); !errors.Is(err, timers.ErrTimerNotFound) {
		t.Fatalf("expected timer removed, got %v", err)
	}
	if len(f.notifier.requests) != 1 {
		t.Fatalf("expected one notification, got %d", len(f.notifier.requests))
	}
	notification := f.notifier.requests[0]
	if notification.Brief != "Timer: 2h logged on Framing, crew of 3" {
		t.Fatalf("unexpected brief %q", notification.Brief)
	}
	if notification.ReferenceID == nil || *notification.ReferenceID != entry.ID {
		t.Fatalf("notification must reference the entry")
	}
	if result.Totals.ComponentHours != 2 {
		t.Fatalf("unexpected totals: %+v", result.Totals)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", result.Warnings)
	}
}

func TestSaveTimerShortRunRoundsToZero(t *testing.T) {
	f := newFixture(t)
	timer := f.startTimer(t, "job-1")
	f.clock.now = f.clock.now.Add(240 * time.Second)

	result, err := f.service.SaveTimer(context.Background(), SaveTimerRequest{
		UserID:         "user-1",
		JobID:          "job-1",
		TimerID:        timer.ID,
		AdditionalCrew: 0,
	})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if result.Entry.TotalHours != 0 {
		t.Fatalf("expected 0 hours, got %v", result.Entry.TotalHours)
	}
	if result.Entry.CrewCount != 1 {
		t.Fatalf("expected crew of 1, got %d", result.Entry.CrewCount)
	}
}

func TestSaveTimerUsesReviewedElapsed(t *testing.T) {
	f := newFixture(t)
	timer := f.startTimer(t, "job-1")
	f.clock.now = f.clock.now.Add(90 * time.Minute)
	frozen := int64(time.Hour / time.Millisecond)

	result, err := f.service.SaveTimer(context.Background(), SaveTimerRequest{
		UserID:         "user-1",
		JobID:          "job-1",
		TimerID:        timer.ID,
		ElapsedMs:      &frozen,
		AdditionalCrew: 2,
	})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if result.Entry.TotalHours != 1 || result.Entry.CrewCount != 3 {
		t.Fatalf("unexpected entry %+v", result.Entry)
	}
}

func TestSaveTimerRejectsElapsedBeyondLive(t *testing.T) {
	f := newFixture(t)
	timer := f.startTimer(t, "job-1")
	f.clock.now = f.clock.now.Add(time.Minute)
	tooLong := int64(time.Hour / time.Millisecond)

	_, err := f.service.SaveTimer(context.Background(), SaveTimerRequest{
		UserID:    "user-1",
		JobID:     "job-1",
		TimerID:   timer.ID,
		ElapsedMs: &tooLong,
	})
	if !errors.Is(err, ErrInvalidElapsed) {
		t.Fatalf("expected ErrInvalidElapsed, got %v", err)
	}
	serviceErr, ok := apperr.As(err)
	if !ok || !serviceErr.IsValidation() {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSaveTimerInsertFailureKeepsTimer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	timer := f.startTimer(t, "job-1")
	f.clock.now = f.clock.now.Add(time.Hour)
	if err := f.db.Migrator().DropTable(&TimeEntry{}); err != nil {
		t.Fatalf("failed to drop table: %v", err)
	}

	_, err := f.service.SaveTimer(ctx, SaveTimerRequest{UserID: "user-1", JobID: "job-1", TimerID: timer.ID})
	serviceErr, ok := apperr.As(err)
	if !ok || serviceErr.Code() != "timeentries.save_timer.insert_failed" {
		t.Fatalf("expected insert_failed, got %v", err)
	}
	if _, err := f.engine.Get(ctx, "user-1", "job-1", timer.ID); err != nil {
		t.Fatalf("timer must survive a failed save: %v", err)
	}
	if len(f.notifier.requests) != 0 {
		t.Fatalf("no notification expected after a failed save")
	}
}

func TestSaveTimerNotificationFailureIsWarning(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("notification store down")
	timer := f.startTimer(t, "job-1")
	f.clock.now = f.clock.now.Add(time.Hour)

	result, err := f.service.SaveTimer(context.Background(), SaveTimerRequest{UserID: "user-1", JobID: "job-1", TimerID: timer.ID})
	if err != nil {
		t.Fatalf("save must succeed when notification fails: %v", err)
	}
	if len(result.Warnings) != 1 || result.Warnings[0] != "notification_failed" {
		t.Fatalf("unexpected warnings %v", result.Warnings)
	}
}

func TestSaveTimerUnknownTimer(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.SaveTimer(context.Background(), SaveTimerRequest{UserID: "user-1", JobID: "job-1", TimerID: "missing"})
	if !errors.Is(err, timers.ErrTimerNotFound) {
		t.Fatalf("expected ErrTimerNotFound, got %v", err)
	}
}

func TestCreateManualWithWorkersAndPhotos(t *testing.T) {
	f := newFixture(t)
	result, err := f.service.CreateManual(context.Background(), ManualEntryRequest{
		UserID:        "user-1",
		JobID:         "job-1",
		ComponentID:   "comp-2",
		ComponentName: "Roofing",
		Date:          "2024-04-29",
		Hours:         2,
		Minutes:       30,
		CrewMode:      crew.ModeWorkers,
		WorkerIDs:     []string{"w-1", "w-2", "w-3"},
		Notes:         "ridge cap",
		Photos: []PhotoUpload{
			{Filename: "ridge.JPG", Body: strings.NewReader("jpeg-bytes")},
		},
	})
	if err != nil {
		t.Fatalf("create manual failed: %v", err)
	}
	entry := result.Entry
	if entry.TotalHours != 2.5 || entry.CrewCount != 3 || !entry.IsManual {
		t.Fatalf("unexpected entry %+v", entry)
	}
	midday := time.Date(2024, 4, 29, 12, 0, 0, 0, time.UTC)
	if !entry.StartTime.Equal(midday) || !entry.EndTime.Equal(midday) {
		t.Fatalf("manual entry must sit at midday, got %s/%s", entry.StartTime, entry.EndTime)
	}
	if result.PhotosStored != 1 {
		t.Fatalf("expected one stored photo, got %d (warnings %v)", result.PhotosStored, result.Warnings)
	}

	var stored TimeEntry
	if err := f.db.First(&stored, entry.ID).Error; err != nil {
		t.Fatalf("failed to reload entry: %v", err)
	}
	if stored.ComponentName != "Roofing" {
		t.Fatalf("component name not persisted: %q", stored.ComponentName)
	}

	var photos []Photo
	if err := f.db.Where("time_entry_id = ?", entry.ID).Find(&photos).Error; err != nil {
		t.Fatalf("failed to load photos: %v", err)
	}
	if len(photos) != 1 {
		t.Fatalf("expected one photo record, got %d", len(photos))
	}
	photo := photos[0]
	if photo.PhotoDate != "2024-04-29" || photo.Caption != "ridge cap" || photo.UploadedBy != "user-1" {
		t.Fatalf("unexpected photo %+v", photo)
	}
	if !strings.HasPrefix(photo.PhotoURL, "https://field.example.com/files/job-files/job-1/") || !strings.HasSuffix(photo.PhotoURL, ".jpg") {
		t.Fatalf("unexpected photo url %q", photo.PhotoURL)
	}
	objectPath := strings.TrimPrefix(photo.PhotoURL, "https://field.example.com/files/")
	content, err := afero.ReadFile(f.fs, objectPath)
	if err != nil || string(content) != "jpeg-bytes" {
		t.Fatalf("photo object missing: %v %q", err, content)
	}

	brief := f.notifier.requests[0].Brief
	if brief != "Manual entry: 2.5h logged on Roofing, crew of 3, 1 photo" {
		t.Fatalf("unexpected brief %q", brief)
	}
}

func TestCreateManualCountModeDoesNotAddLogger(t *testing.T) {
	f := newFixture(t)
	result, err := f.service.CreateManual(context.Background(), ManualEntryRequest{
		UserID:      "user-1",
		JobID:       "job-1",
		ComponentID: "comp-2",
		Date:        "2024-04-29",
		Hours:       0,
		Minutes:     50,
		CrewCount:   4,
	})
	if err != nil {
		t.Fatalf("create manual failed: %v", err)
	}
	if result.Entry.CrewCount != 4 {
		t.Fatalf("expected crew of 4, got %d", result.Entry.CrewCount)
	}
	if result.Entry.TotalHours != 0.75 {
		t.Fatalf("expected 0.75 hours, got %v", result.Entry.TotalHours)
	}
}

func TestCreateManualDefaultsToToday(t *testing.T) {
	f := newFixture(t)
	result, err := f.service.CreateManual(context.Background(), ManualEntryRequest{
		UserID:      "user-1",
		JobID:       "job-1",
		ComponentID: "comp-2",
		Hours:       1,
		CrewCount:   1,
	})
	if err != nil {
		t.Fatalf("create manual failed: %v", err)
	}
	expected := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if !result.Entry.StartTime.Equal(expected) {
		t.Fatalf("expected %s, got %s", expected, result.Entry.StartTime)
	}
}

func TestCreateManualValidation(t *testing.T) {
	f := newFixture(t)
	testCases := []struct {
		name    string
		request ManualEntryRequest
		target  error
		code    string
	}{
		{
			name:    "missing component",
			request: ManualEntryRequest{UserID: "user-1", JobID: "job-1", Hours: 1},
			target:  ErrComponentRequired,
			code:    "timeentries.create_manual.component_required",
		},
		{
			name:    "zero duration",
			request: ManualEntryRequest{UserID: "user-1", JobID: "job-1", ComponentID: "comp-1"},
			target:  ErrInvalidHours,
			code:    "timeentries.create_manual.invalid_hours",
		},
		{
			name:    "infinite hours",
			request: ManualEntryRequest{UserID: "user-1", JobID: "job-1", ComponentID: "comp-1", Hours: math.Inf(1)},
			target:  ErrInvalidHours,
			code:    "timeentries.create_manual.invalid_hours",
		},
		{
			name:    "not a number",
			request: ManualEntryRequest{UserID: "user-1", JobID: "job-1", ComponentID: "comp-1", Hours: math.NaN()},
			target:  ErrInvalidHours,
			code:    "timeentries.create_manual.invalid_hours",
		},
		{
			name:    "infinite minutes",
			request: ManualEntryRequest{UserID: "user-1", JobID: "job-1", ComponentID: "comp-1", Minutes: math.Inf(-1), Hours: 2},
			target:  ErrInvalidHours,
			code:    "timeentries.create_manual.invalid_hours",
		},
		{
			name:    "more than a day",
			request: ManualEntryRequest{UserID: "user-1", JobID: "job-1", ComponentID: "comp-1", Hours: 24, Minutes: 15},
			target:  ErrInvalidHours,
			code:    "timeentries.create_manual.invalid_hours",
		},
		{
			name:    "workers mode without selection",
			request: ManualEntryRequest{UserID: "user-1", JobID: "job-1", ComponentID: "comp-1", Hours: 1, CrewMode: crew.ModeWorkers},
			target:  ErrWorkersRequired,
			code:    "timeentries.create_manual.workers_required",
		},
		{
			name:    "malformed date",
			request: ManualEntryRequest{UserID: "user-1", JobID: "job-1", ComponentID: "comp-1", Hours: 1, Date: "04/29/2024"},
			target:  ErrInvalidDate,
			code:    "timeentries.create_manual.invalid_date",
		},
		{
			name:    "negative crew",
			request: ManualEntryRequest{UserID: "user-1", JobID: "job-1", ComponentID: "comp-1", Hours: 1, CrewCount: -1},
			target:  crew.ErrNegativeCount,
			code:    "timeentries.create_manual.invalid_crew",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := f.service.CreateManual(context.Background(), testCase.request)
			if !errors.Is(err, testCase.target) {
				t.Fatalf("expected %v, got %v", testCase.target, err)
			}
			serviceErr, ok := apperr.As(err)
			if !ok || serviceErr.Code() != testCase.code || !serviceErr.IsValidation() {
				t.Fatalf("expected validation code %s, got %v", testCase.code, err)
			}
		})
	}

	var count int64
	if err := f.db.Model(&TimeEntry{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count entries: %v", err)
	}
	if count != 0 {
		t.Fatalf("rejected forms must not persist, found %d", count)
	}
}

func TestTotalsSeparatesClockInHours(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	componentA := "comp-a"
	componentB := "comp-b"
	now := f.clock.now
	entries := []TimeEntry{
		{JobID: "job-1", ComponentID: &componentA, UserID: "user-1", StartTime: now, EndTime: now, TotalHours: 1.5},
		{JobID: "job-1", ComponentID: &componentA, UserID: "user-1", StartTime: now, EndTime: now, TotalHours: 0.25},
		{JobID: "job-1", ComponentID: &componentB, UserID: "user-1", StartTime: now, EndTime: now, TotalHours: 4},
		{JobID: "job-1", UserID: "user-1", StartTime: now, EndTime: now, TotalHours: 8},
		{JobID: "job-2", ComponentID: &componentA, UserID: "user-1", StartTime: now, EndTime: now, TotalHours: 3},
	}
	if err := f.db.Create(&entries).Error; err != nil {
		t.Fatalf("failed to seed entries: %v", err)
	}

	totals, err := f.service.Totals(ctx, "job-1", componentA)
	if err != nil {
		t.Fatalf("totals failed: %v", err)
	}
	if totals.ComponentHours != 1.75 || totals.ClockInHours != 8 {
		t.Fatalf("unexpected totals %+v", totals)
	}

	listed, err := f.service.ListForJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(listed) != 4 {
		t.Fatalf("expected 4 job-1 entries, got %d", len(listed))
	}
}

func TestQuarterHourRounding(t *testing.T) {
	testCases := []struct {
		elapsed time.Duration
		hours   float64
	}{
		{elapsed: 240 * time.Second, hours: 0},
		{elapsed: 8 * time.Minute, hours: 0.25},
		{elapsed: 52 * time.Minute, hours: 0.75},
		{elapsed: 2*time.Hour + 7*time.Minute, hours: 2},
		{elapsed: 2*time.Hour + 8*time.Minute, hours: 2.25},
	}
	for _, testCase := range testCases {
		got := HoursFromMilliseconds(testCase.elapsed.Milliseconds())
		if got != testCase.hours {
			t.Fatalf("%s: expected %v, got %v", testCase.elapsed, testCase.hours, got)
		}
	}
}
