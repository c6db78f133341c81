// Package jobstore persists what the orchestrator needs to survive a restart:
// the run snapshot, the durable queue and per-video outcomes.
package jobstore

import (
	"context"

	"github.com/jmylchreest/vidsift/internal/models"
)

// Store is the persistence contract used by the orchestrator. SaveRunState is
// an idempotent upsert of a single record, so repeated writes are safe.
type Store interface {
	SaveRunState(ctx context.Context, state *models.RunState) error
	// LoadRunState returns nil when no run is persisted.
	LoadRunState(ctx context.Context) (*models.RunState, error)
	ClearRunState(ctx context.Context) error

	Enqueue(ctx context.Context, jobs []models.VideoJob) error
	Queue(ctx context.Context) ([]models.VideoJob, error)
	// Dequeue removes a video from the durable queue; unknown ids are ignored.
	Dequeue(ctx context.Context, videoID string) (bool, error)
	ClearQueue(ctx context.Context) (int64, error)

	RecordOutcome(ctx context.Context, outcome *models.VideoOutcome) error
	Outcomes(ctx context.Context, runID models.ULID) ([]*models.VideoOutcome, error)
}
