package migrations

import (
	"gorm.io/gorm"

	"github.com/jmylchreest/vidsift/internal/models"
)

// AllMigrations returns all registered migrations in order.
//   - 001: queue, run state, outcome and report tables
//   - 002: composite index for per-run outcome lookups
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
		migration002OutcomeRunVideoIndex(),
	}
}

// schemaTables lists the tables created by migration 001, parents last so the
// slice can be walked in order when dropping.
var schemaTables = []string{
	"reports",
	"video_outcomes",
	"run_state",
	"queue_items",
}

func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create queue, run state, outcome and report tables",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&models.QueueItem{},
				&models.RunState{},
				&models.VideoOutcome{},
				&models.Report{},
			)
		},
		Down: func(tx *gorm.DB) error {
			for _, table := range schemaTables {
				if tx.Migrator().HasTable(table) {
					if err := tx.Migrator().DropTable(table); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}

const outcomeRunVideoIndex = "idx_video_outcomes_run_video"

func migration002OutcomeRunVideoIndex() Migration {
	return Migration{
		Version:     "002",
		Description: "Index video outcomes by run and video",
		Up: func(tx *gorm.DB) error {
			if tx.Migrator().HasIndex(&models.VideoOutcome{}, outcomeRunVideoIndex) {
				return nil
			}
			return tx.Exec("CREATE INDEX " + outcomeRunVideoIndex + " ON video_outcomes (run_id, video_id)").Error
		},
		Down: func(tx *gorm.DB) error {
			if !tx.Migrator().HasIndex(&models.VideoOutcome{}, outcomeRunVideoIndex) {
				return nil
			}
			return tx.Migrator().DropIndex(&models.VideoOutcome{}, outcomeRunVideoIndex)
		},
	}
}
