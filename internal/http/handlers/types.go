// Package handlers provides HTTP API handlers for vidsift.
package handlers

import (
	"errors"
	"fmt"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/vidsift/internal/models"
	"github.com/jmylchreest/vidsift/internal/orchestrator"
	"github.com/jmylchreest/vidsift/pkg/duration"
)

// Pagination contains pagination parameters for list requests.
type Pagination struct {
	Page  int `query:"page" default:"1" minimum:"1" doc:"Page number (1-indexed)"`
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"1000" doc:"Items per page"`
}

// Offset returns the number of items before the requested page.
func (p Pagination) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

// PaginationMeta contains pagination metadata in responses.
type PaginationMeta struct {
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
	TotalItems  int64 `json:"total_items"`
	TotalPages  int64 `json:"total_pages"`
}

// NewPaginationMeta builds metadata for a page of total items.
func NewPaginationMeta(p Pagination, total int64) PaginationMeta {
	pages := int64(0)
	if p.Limit > 0 {
		pages = (total + int64(p.Limit) - 1) / int64(p.Limit)
	}
	return PaginationMeta{
		CurrentPage: p.Page,
		PageSize:    p.Limit,
		TotalItems:  total,
		TotalPages:  pages,
	}
}

// RunConfigInput overrides run settings for one start request. Durations
// accept human forms like "45m", "12 minutes" or "2s". Omitted fields keep
// the server defaults.
type RunConfigInput struct {
	MaxSegmentDuration string `json:"max_segment_duration,omitempty" doc:"Longest segment, e.g. 45m. 0 disables splitting"`
	TaskTimeout        string `json:"task_timeout,omitempty" doc:"Per-attempt segment task timeout, e.g. 12m"`
	MeasureTimeout     string `json:"measure_timeout,omitempty" doc:"Duration measurement timeout, e.g. 60s"`
	MaxRetries         *int   `json:"max_retries,omitempty" minimum:"1" maximum:"20" doc:"Total attempts per task"`
	RetryBaseDelay     string `json:"retry_base_delay,omitempty" doc:"Wait after the first failed attempt"`
	RetryMaxDelay      string `json:"retry_max_delay,omitempty" doc:"Cap on a single retry wait"`
	InterSegmentDelay  string `json:"inter_segment_delay,omitempty" doc:"Pause between segments"`
	InterVideoDelay    string `json:"inter_video_delay,omitempty" doc:"Pause between videos"`
}

// Apply overlays the input on base.
func (in *RunConfigInput) Apply(base models.RunConfig) (models.RunConfig, error) {
	if in == nil {
		return base, nil
	}
	out := base
	fields := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"max_segment_duration", in.MaxSegmentDuration, &out.MaxSegmentDuration},
		{"task_timeout", in.TaskTimeout, &out.TaskTimeout},
		{"measure_timeout", in.MeasureTimeout, &out.MeasureTimeout},
		{"retry_base_delay", in.RetryBaseDelay, &out.RetryBaseDelay},
		{"retry_max_delay", in.RetryMaxDelay, &out.RetryMaxDelay},
		{"inter_segment_delay", in.InterSegmentDelay, &out.InterSegmentDelay},
		{"inter_video_delay", in.InterVideoDelay, &out.InterVideoDelay},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		d, err := duration.Parse(f.value)
		if err != nil {
			return base, fmt.Errorf("%s: %w", f.name, err)
		}
		if d < 0 {
			return base, fmt.Errorf("%s: must not be negative", f.name)
		}
		*f.dst = d
	}
	if in.MaxRetries != nil {
		out.MaxRetries = *in.MaxRetries
	}
	return out, nil
}

// RunConfigResponse shows run settings with human-readable durations.
type RunConfigResponse struct {
	MaxSegmentDuration string `json:"max_segment_duration"`
	TaskTimeout        string `json:"task_timeout"`
	MeasureTimeout     string `json:"measure_timeout"`
	MaxRetries         int    `json:"max_retries"`
	RetryBaseDelay     string `json:"retry_base_delay"`
	RetryMaxDelay      string `json:"retry_max_delay"`
	InterSegmentDelay  string `json:"inter_segment_delay"`
	InterVideoDelay    string `json:"inter_video_delay"`
	PausePollInterval  string `json:"pause_poll_interval"`
	StaleAfter         string `json:"stale_after"`
}

// RunConfigFromModel converts run settings for display.
func RunConfigFromModel(c models.RunConfig) RunConfigResponse {
	return RunConfigResponse{
		MaxSegmentDuration: duration.Format(c.MaxSegmentDuration),
		TaskTimeout:        duration.Format(c.TaskTimeout),
		MeasureTimeout:     duration.Format(c.MeasureTimeout),
		MaxRetries:         c.MaxRetries,
		RetryBaseDelay:     duration.Format(c.RetryBaseDelay),
		RetryMaxDelay:      duration.Format(c.RetryMaxDelay),
		InterSegmentDelay:  duration.Format(c.InterSegmentDelay),
		InterVideoDelay:    duration.Format(c.InterVideoDelay),
		PausePollInterval:  duration.Format(c.PausePollInterval),
		StaleAfter:         duration.Format(c.StaleAfter),
	}
}

// validationError reports whether err is a job validation failure.
func validationError(err error) bool {
	var ve models.ErrValidation
	return errors.As(err, &ve) ||
		errors.Is(err, models.ErrVideoIDRequired) ||
		errors.Is(err, models.ErrURLRequired) ||
		errors.Is(err, models.ErrInvalidURL) ||
		errors.Is(err, models.ErrInvalidDuration) ||
		errors.Is(err, models.ErrDuplicateVideo)
}

// automationError maps orchestrator and store errors to HTTP errors.
func automationError(msg string, err error) error {
	switch {
	case errors.Is(err, orchestrator.ErrAlreadyRunning):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, orchestrator.ErrEmptyQueue):
		return huma.Error400BadRequest(err.Error())
	case validationError(err):
		return huma.Error422UnprocessableEntity(err.Error())
	default:
		return huma.Error500InternalServerError(msg, err)
	}
}
