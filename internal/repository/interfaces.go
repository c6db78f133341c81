// Package repository defines data access interfaces for vidsift entities and
// their GORM implementations. Lookups that find nothing return nil, nil.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/vidsift/internal/models"
)

// RunStateRepository persists the single active-run snapshot.
type RunStateRepository interface {
	// Get returns the persisted state, or nil when there is none.
	Get(ctx context.Context) (*models.RunState, error)
	// Save upserts the state row.
	Save(ctx context.Context, state *models.RunState) error
	// Clear removes the state row. Clearing an empty table is not an error.
	Clear(ctx context.Context) error
}

// QueueRepository persists the durable video queue.
type QueueRepository interface {
	// Add appends jobs to the end of the queue. Ids already queued are rejected
	// with models.ErrDuplicateVideo and nothing is added.
	Add(ctx context.Context, jobs []models.VideoJob) ([]*models.QueueItem, error)
	// GetAll returns the queue in run order.
	GetAll(ctx context.Context) ([]*models.QueueItem, error)
	// GetByVideoID returns one queued item.
	GetByVideoID(ctx context.Context, videoID string) (*models.QueueItem, error)
	// Remove deletes one item and reports whether it existed.
	Remove(ctx context.Context, videoID string) (bool, error)
	// Clear empties the queue and returns how many items were removed.
	Clear(ctx context.Context) (int64, error)
	// Count returns the queue length.
	Count(ctx context.Context) (int64, error)
}

// OutcomeRepository persists per-video outcome summaries.
type OutcomeRepository interface {
	// Save creates or updates an outcome.
	Save(ctx context.Context, outcome *models.VideoOutcome) error
	// GetByRunID returns a run's outcomes in processing order.
	GetByRunID(ctx context.Context, runID models.ULID) ([]*models.VideoOutcome, error)
	// GetRecent returns the newest outcomes across runs.
	GetRecent(ctx context.Context, limit int) ([]*models.VideoOutcome, error)
	// DeleteOlderThan removes outcomes created before cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ReportFilter narrows a report listing.
type ReportFilter struct {
	RunID   models.ULID
	VideoID string
	Offset  int
	Limit   int
}

// ReportRepository persists segment reports.
type ReportRepository interface {
	// Create stores a report.
	Create(ctx context.Context, report *models.Report) error
	// GetByID returns one report.
	GetByID(ctx context.Context, id models.ULID) (*models.Report, error)
	// List returns matching reports, newest first, and the total match count.
	List(ctx context.Context, filter ReportFilter) ([]*models.Report, int64, error)
}
