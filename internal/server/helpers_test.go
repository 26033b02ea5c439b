package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/fieldtrack/internal/auth"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/catalog"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/database"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/notifications"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/objectstore"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/timeentries"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/timers"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSigningSecret = "test-signing-secret"
	testCookieName    = "app_session"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

type testEnvironment struct {
	handler    http.Handler
	issuer     *auth.TokenIssuer
	clock      *testClock
	db         *gorm.DB
	users      *users.Service
	dispatcher *RealtimeDispatcher
}

func newTestEnvironment(t *testing.T) *testEnvironment {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.Migrate(db, zap.NewNop()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := &testClock{now: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	userService, err := users.NewService(users.ServiceConfig{Database: db, Clock: clock.Now, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("failed to construct user service: %v", err)
	}
	blobs, err := timers.NewGormBlobStore(db)
	if err != nil {
		t.Fatalf("failed to construct blob store: %v", err)
	}
	store, err := timers.NewStore(blobs, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to construct timer store: %v", err)
	}
	engine, err := timers.NewEngine(timers.EngineConfig{Store: store, Workers: userService, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to construct engine: %v", err)
	}
	notificationService, err := notifications.NewService(db, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to construct notification service: %v", err)
	}
	bucket, err := objectstore.NewBucket(objectstore.BucketConfig{Filesystem: afero.NewMemMapFs(), Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to construct bucket: %v", err)
	}
	entryService, err := timeentries.NewService(timeentries.ServiceConfig{
		Database: db,
		Timers:   engine,
		Workers:  userService,
		Notifier: notificationService,
		Photos:   bucket,
		Clock:    clock.Now,
		Location: time.UTC,
	})
	if err != nil {
		t.Fatalf("failed to construct entry service: %v", err)
	}
	catalogService, err := catalog.NewService(db, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to construct catalog service: %v", err)
	}

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		CookieName:    testCookieName,
		Clock:         clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        "fieldtrack-auth",
		TokenTTL:      time.Hour,
		Clock:         clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}

	dispatcher := NewRealtimeDispatcher()
	handler, err := NewHTTPHandler(Dependencies{
		Sessions:      validator,
		Users:         userService,
		Timers:        engine,
		Entries:       entryService,
		Catalog:       catalogService,
		Notifications: notificationService,
		Files:         bucket.FileSystem(),
		FilesBucket:   bucket.Name(),
		Realtime:      dispatcher,
		TickInterval:  20 * time.Millisecond,
		Location:      time.UTC,
		Logger:        zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}

	return &testEnvironment{
		handler:    handler,
		issuer:     issuer,
		clock:      clock,
		db:         db,
		users:      userService,
		dispatcher: dispatcher,
	}
}

func (e *testEnvironment) token(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := e.issuer.IssueSessionToken(auth.SessionClaims{UserID: userID, UserDisplayName: "Crew Lead"})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (e *testEnvironment) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeJSON(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}
