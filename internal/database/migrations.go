package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/fieldtrack/internal/timeentries"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationRoundEntryHours    = "2024-06-03_round_time_entry_hours"
	migrationBackfillCrewCounts = "2024-06-10_backfill_timer_crew_counts"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationRoundEntryHours, apply: roundEntryHours},
		{name: migrationBackfillCrewCounts, apply: backfillTimerCrewCounts},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Rows written before quarter-hour rounding was enforced.
func roundEntryHours(db *gorm.DB) error {
	return db.Model(&timeentries.TimeEntry{}).
		Where("total_hours * 4 <> ROUND(total_hours * 4)").
		Update("total_hours", gorm.Expr("ROUND(total_hours * 4) / 4.0")).Error
}

// Timer entries always include the person logging time.
func backfillTimerCrewCounts(db *gorm.DB) error {
	return db.Model(&timeentries.TimeEntry{}).
		Where("is_manual = ? AND crew_count < 1", false).
		Update("crew_count", 1).Error
}
