package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jmylchreest/vidsift/internal/models"
)

// runStateRepo implements RunStateRepository using GORM.
type runStateRepo struct {
	db *gorm.DB
}

// NewRunStateRepository creates a new RunStateRepository.
func NewRunStateRepository(db *gorm.DB) RunStateRepository {
	return &runStateRepo{db: db}
}

func (r *runStateRepo) Get(ctx context.Context) (*models.RunState, error) {
	var state models.RunState
	if err := r.db.WithContext(ctx).Where(&models.RunState{Key: models.RunStateKey}).First(&state).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting run state: %w", err)
	}
	return &state, nil
}

func (r *runStateRepo) Save(ctx context.Context, state *models.RunState) error {
	state.Key = models.RunStateKey
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		UpdateAll: true,
	}).Create(state).Error
	if err != nil {
		return fmt.Errorf("saving run state: %w", err)
	}
	return nil
}

func (r *runStateRepo) Clear(ctx context.Context) error {
	if err := r.db.WithContext(ctx).Delete(&models.RunState{Key: models.RunStateKey}).Error; err != nil {
		return fmt.Errorf("clearing run state: %w", err)
	}
	return nil
}
