package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jmylchreest/vidsift/internal/models"
)

// outcomeRepo implements OutcomeRepository using GORM.
type outcomeRepo struct {
	db *gorm.DB
}

// NewOutcomeRepository creates a new OutcomeRepository.
func NewOutcomeRepository(db *gorm.DB) OutcomeRepository {
	return &outcomeRepo{db: db}
}

func (r *outcomeRepo) Save(ctx context.Context, outcome *models.VideoOutcome) error {
	if err := r.db.WithContext(ctx).Save(outcome).Error; err != nil {
		return fmt.Errorf("saving video outcome: %w", err)
	}
	return nil
}

func (r *outcomeRepo) GetByRunID(ctx context.Context, runID models.ULID) ([]*models.VideoOutcome, error) {
	var outcomes []*models.VideoOutcome
	if err := r.db.WithContext(ctx).Where("run_id = ?", runID).Order("id ASC").Find(&outcomes).Error; err != nil {
		return nil, fmt.Errorf("getting outcomes for run: %w", err)
	}
	return outcomes, nil
}

func (r *outcomeRepo) GetRecent(ctx context.Context, limit int) ([]*models.VideoOutcome, error) {
	if limit <= 0 {
		limit = 50
	}
	var outcomes []*models.VideoOutcome
	if err := r.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&outcomes).Error; err != nil {
		return nil, fmt.Errorf("getting recent outcomes: %w", err)
	}
	return outcomes, nil
}

func (r *outcomeRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Unscoped().Where("created_at < ?", cutoff).Delete(&models.VideoOutcome{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting old outcomes: %w", result.Error)
	}
	return result.RowsAffected, nil
}

var _ OutcomeRepository = (*outcomeRepo)(nil)
