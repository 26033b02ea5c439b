package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/fieldtrack/internal/catalog"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/notifications"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/timeentries"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/timers"
	"github.com/MarcoPoloResearchLab/fieldtrack/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// Migrate creates the schema and applies pending data migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(models()...); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}

func models() []any {
	return []any{
		&users.Identity{},
		&users.Worker{},
		&timers.StateBlob{},
		&timeentries.TimeEntry{},
		&timeentries.Photo{},
		&notifications.Notification{},
		&catalog.MaterialCatalogItem{},
		&migrationRecord{},
	}
}
