package jobstore

import (
	"context"

	"gorm.io/gorm"

	"github.com/jmylchreest/vidsift/internal/models"
	"github.com/jmylchreest/vidsift/internal/repository"
)

// SQLStore implements Store on the GORM repositories.
type SQLStore struct {
	runState repository.RunStateRepository
	queue    repository.QueueRepository
	outcomes repository.OutcomeRepository
}

// NewSQLStore creates a store from explicit repositories.
func NewSQLStore(runState repository.RunStateRepository, queue repository.QueueRepository, outcomes repository.OutcomeRepository) *SQLStore {
	return &SQLStore{runState: runState, queue: queue, outcomes: outcomes}
}

// NewSQLStoreFromDB creates a store backed by db.
func NewSQLStoreFromDB(db *gorm.DB) *SQLStore {
	return NewSQLStore(
		repository.NewRunStateRepository(db),
		repository.NewQueueRepository(db),
		repository.NewOutcomeRepository(db),
	)
}

func (s *SQLStore) SaveRunState(ctx context.Context, state *models.RunState) error {
	return s.runState.Save(ctx, state)
}

func (s *SQLStore) LoadRunState(ctx context.Context) (*models.RunState, error) {
	return s.runState.Get(ctx)
}

func (s *SQLStore) ClearRunState(ctx context.Context) error {
	return s.runState.Clear(ctx)
}

func (s *SQLStore) Enqueue(ctx context.Context, jobs []models.VideoJob) error {
	_, err := s.queue.Add(ctx, jobs)
	return err
}

func (s *SQLStore) Queue(ctx context.Context) ([]models.VideoJob, error) {
	items, err := s.queue.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	jobs := make([]models.VideoJob, len(items))
	for i, item := range items {
		jobs[i] = item.Job()
	}
	return jobs, nil
}

func (s *SQLStore) Dequeue(ctx context.Context, videoID string) (bool, error) {
	return s.queue.Remove(ctx, videoID)
}

func (s *SQLStore) ClearQueue(ctx context.Context) (int64, error) {
	return s.queue.Clear(ctx)
}

func (s *SQLStore) RecordOutcome(ctx context.Context, outcome *models.VideoOutcome) error {
	return s.outcomes.Save(ctx, outcome)
}

func (s *SQLStore) Outcomes(ctx context.Context, runID models.ULID) ([]*models.VideoOutcome, error) {
	return s.outcomes.GetByRunID(ctx, runID)
}

var _ Store = (*SQLStore)(nil)
