package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/jmylchreest/vidsift/internal/models"
)

const defaultReportPageSize = 50

// reportRepo implements ReportRepository using GORM.
type reportRepo struct {
	db *gorm.DB
}

// NewReportRepository creates a new ReportRepository.
func NewReportRepository(db *gorm.DB) ReportRepository {
	return &reportRepo{db: db}
}

func (r *reportRepo) Create(ctx context.Context, report *models.Report) error {
	if err := report.Validate(); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(report).Error; err != nil {
		return fmt.Errorf("creating report: %w", err)
	}
	return nil
}

func (r *reportRepo) GetByID(ctx context.Context, id models.ULID) (*models.Report, error) {
	var report models.Report
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&report).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting report by ID: %w", err)
	}
	return &report, nil
}

func (r *reportRepo) List(ctx context.Context, filter ReportFilter) ([]*models.Report, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Report{})
	if !filter.RunID.IsZero() {
		query = query.Where("run_id = ?", filter.RunID)
	}
	if filter.VideoID != "" {
		query = query.Where("video_id = ?", filter.VideoID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting reports: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultReportPageSize
	}
	var reports []*models.Report
	err := query.Order("id DESC").Offset(max(filter.Offset, 0)).Limit(limit).Find(&reports).Error
	if err != nil {
		return nil, 0, fmt.Errorf("listing reports: %w", err)
	}
	return reports, total, nil
}
