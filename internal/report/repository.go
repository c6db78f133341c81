package report

import (
	"context"
	"fmt"

	"github.com/jmylchreest/vidsift/internal/models"
	"github.com/jmylchreest/vidsift/internal/repository"
)

// RepositorySink stores reports in the database.
type RepositorySink struct {
	repo repository.ReportRepository
}

// NewRepositorySink creates a RepositorySink.
func NewRepositorySink(repo repository.ReportRepository) *RepositorySink {
	return &RepositorySink{repo: repo}
}

// Name implements Sink.
func (s *RepositorySink) Name() string { return "database" }

// Submit implements Sink. The stored copy gets its own id so the caller's
// report can be submitted to other sinks unchanged.
func (s *RepositorySink) Submit(ctx context.Context, report *models.Report) error {
	stored := *report
	stored.BaseModel = models.BaseModel{}
	if err := s.repo.Create(ctx, &stored); err != nil {
		return fmt.Errorf("storing report: %w", err)
	}
	return nil
}

var _ Sink = (*RepositorySink)(nil)
