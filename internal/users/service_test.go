package users

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/fieldtrack/internal/auth"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, name string) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Identity{}, &Worker{}); err != nil {
		t.Fatalf("failed to migrate identity schema: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock: func() time.Time {
			return time.Unix(1, 0)
		},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func TestResolveCanonicalUserIDStripsProviderPrefix(t *testing.T) {
	service := newTestService(t, "users_prefix")

	claims := auth.SessionClaims{
		UserID:          "google:12345",
		UserEmail:       "user@example.com",
		UserDisplayName: "Example User",
	}
	userID, err := service.ResolveCanonicalUserID(context.Background(), claims)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if userID != "12345" {
		t.Fatalf("expected canonical user id without provider prefix, got %q", userID)
	}

	// second call should hit cache and not create a duplicate record.
	userID, err = service.ResolveCanonicalUserID(context.Background(), claims)
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if userID != "12345" {
		t.Fatalf("expected canonical user id to remain stable, got %q", userID)
	}

	names, err := service.ResolveDisplayNames(context.Background(), []string{"12345"})
	if err != nil {
		t.Fatalf("resolve names failed: %v", err)
	}
	if len(names) != 1 || names[0] != "Example User" {
		t.Fatalf("expected first login to register a worker, got %v", names)
	}
}

func TestResolveCanonicalUserIDRejectsEmptyClaims(t *testing.T) {
	service := newTestService(t, "users_empty")
	if _, err := service.ResolveCanonicalUserID(context.Background(), auth.SessionClaims{}); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected invalid identity error, got %v", err)
	}
}

func TestResolveDisplayNamesPreservesOrderAndDropsUnknown(t *testing.T) {
	service := newTestService(t, "users_names")
	ctx := context.Background()
	for _, worker := range []Worker{
		{WorkerID: "w-1", DisplayName: "Ana", Active: true},
		{WorkerID: "w-2", DisplayName: "Luis", Active: true},
	} {
		if _, err := service.UpsertWorker(ctx, worker); err != nil {
			t.Fatalf("upsert worker failed: %v", err)
		}
	}

	names, err := service.ResolveDisplayNames(ctx, []string{"w-2", "ghost", "w-1"})
	if err != nil {
		t.Fatalf("resolve names failed: %v", err)
	}
	if len(names) != 2 || names[0] != "Luis" || names[1] != "Ana" {
		t.Fatalf("unexpected names %v", names)
	}

	workers, err := service.ListWorkers(ctx)
	if err != nil {
		t.Fatalf("list workers failed: %v", err)
	}
	if len(workers) != 2 || workers[0].DisplayName != "Ana" {
		t.Fatalf("expected workers ordered by name, got %#v", workers)
	}
}

func TestUpsertWorkerRejectsBlankFields(t *testing.T) {
	service := newTestService(t, "users_blank")
	if _, err := service.UpsertWorker(context.Background(), Worker{WorkerID: "w-1"}); !errors.Is(err, ErrInvalidWorker) {
		t.Fatalf("expected invalid worker error, got %v", err)
	}
}
