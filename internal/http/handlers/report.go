package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/vidsift/internal/models"
	"github.com/jmylchreest/vidsift/internal/repository"
)

// ReportHandler serves stored segment reports.
type ReportHandler struct {
	reports repository.ReportRepository
}

// NewReportHandler creates a new report handler.
func NewReportHandler(reports repository.ReportRepository) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// Register registers the report routes with the API.
func (h *ReportHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listReports",
		Method:      "GET",
		Path:        "/api/v1/reports",
		Summary:     "List reports",
		Description: "Returns stored segment reports, newest first",
		Tags:        []string{"Reports"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getReport",
		Method:      "GET",
		Path:        "/api/v1/reports/{id}",
		Summary:     "Get report",
		Tags:        []string{"Reports"},
	}, h.GetByID)
}

// ListReportsInput is the input for listing reports.
type ListReportsInput struct {
	Pagination
	RunID   string `query:"run_id" doc:"Only reports from this run"`
	VideoID string `query:"video_id" doc:"Only reports for this video"`
}

// ListReportsOutput is the output for listing reports.
type ListReportsOutput struct {
	Body struct {
		Reports    []*models.Report `json:"reports"`
		Pagination PaginationMeta   `json:"pagination"`
	}
}

// List returns a page of reports.
func (h *ReportHandler) List(ctx context.Context, input *ListReportsInput) (*ListReportsOutput, error) {
	filter := repository.ReportFilter{
		VideoID: input.VideoID,
		Offset:  input.Offset(),
		Limit:   input.Limit,
	}
	if input.RunID != "" {
		runID, err := models.ParseULID(input.RunID)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid run ID format", err)
		}
		filter.RunID = runID
	}

	reports, total, err := h.reports.List(ctx, filter)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list reports", err)
	}

	resp := &ListReportsOutput{}
	resp.Body.Reports = reports
	if resp.Body.Reports == nil {
		resp.Body.Reports = []*models.Report{}
	}
	resp.Body.Pagination = NewPaginationMeta(input.Pagination, total)
	return resp, nil
}

// GetReportInput is the input for fetching one report.
type GetReportInput struct {
	ID string `path:"id" doc:"Report ID (ULID)"`
}

// GetReportOutput is the output for fetching one report.
type GetReportOutput struct {
	Body *models.Report
}

// GetByID returns a report by ID.
func (h *ReportHandler) GetByID(ctx context.Context, input *GetReportInput) (*GetReportOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid report ID format", err)
	}

	report, err := h.reports.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get report", err)
	}
	if report == nil {
		return nil, huma.Error404NotFound("report not found")
	}
	return &GetReportOutput{Body: report}, nil
}
