package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/jmylchreest/vidsift/internal/models"
)

// queueRepo implements QueueRepository using GORM. Items are hard-deleted so
// a removed video id can be queued again.
type queueRepo struct {
	db *gorm.DB
}

// NewQueueRepository creates a new QueueRepository.
func NewQueueRepository(db *gorm.DB) QueueRepository {
	return &queueRepo{db: db}
}

func (r *queueRepo) Add(ctx context.Context, jobs []models.VideoJob) ([]*models.QueueItem, error) {
	if len(jobs) == 0 {
		return nil, nil
	}
	if err := models.ValidateQueue(jobs); err != nil {
		return nil, err
	}

	ids := make([]string, len(jobs))
	for i := range jobs {
		ids[i] = jobs[i].ID
	}

	var items []*models.QueueItem
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []string
		if err := tx.Model(&models.QueueItem{}).Where("video_id IN ?", ids).Pluck("video_id", &existing).Error; err != nil {
			return fmt.Errorf("checking queued ids: %w", err)
		}
		if len(existing) > 0 {
			return fmt.Errorf("%w: %s", models.ErrDuplicateVideo, existing[0])
		}

		var tail int64
		if err := tx.Model(&models.QueueItem{}).Select("COALESCE(MAX(position), -1)").Row().Scan(&tail); err != nil {
			return fmt.Errorf("getting queue tail: %w", err)
		}
		next := tail + 1

		items = make([]*models.QueueItem, len(jobs))
		for i := range jobs {
			items[i] = models.NewQueueItem(jobs[i])
			items[i].Position = next + int64(i)
		}
		if err := tx.Create(&items).Error; err != nil {
			return fmt.Errorf("adding queue items: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *queueRepo) GetAll(ctx context.Context) ([]*models.QueueItem, error) {
	var items []*models.QueueItem
	if err := r.db.WithContext(ctx).Order("position ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("getting queue: %w", err)
	}
	return items, nil
}

func (r *queueRepo) GetByVideoID(ctx context.Context, videoID string) (*models.QueueItem, error) {
	var item models.QueueItem
	if err := r.db.WithContext(ctx).Where("video_id = ?", videoID).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting queue item: %w", err)
	}
	return &item, nil
}

func (r *queueRepo) Remove(ctx context.Context, videoID string) (bool, error) {
	result := r.db.WithContext(ctx).Unscoped().Where("video_id = ?", videoID).Delete(&models.QueueItem{})
	if result.Error != nil {
		return false, fmt.Errorf("removing queue item: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *queueRepo) Clear(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Unscoped().Where("1 = 1").Delete(&models.QueueItem{})
	if result.Error != nil {
		return 0, fmt.Errorf("clearing queue: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *queueRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.QueueItem{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting queue: %w", err)
	}
	return count, nil
}
