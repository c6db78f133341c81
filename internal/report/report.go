// Package report delivers segment reports to their destinations: the
// backend API, markdown files and the local database.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/vidsift/internal/models"
)

// Sink accepts finished segment reports.
type Sink interface {
	Submit(ctx context.Context, report *models.Report) error
	Name() string
}

// Multi fans a report out to several sinks. Every sink is tried; failures
// are joined.
type Multi struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewMulti creates a Multi over the non-nil sinks.
func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{logger: slog.Default()}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// WithLogger sets the logger.
func (m *Multi) WithLogger(logger *slog.Logger) *Multi {
	m.logger = logger
	return m
}

// Name implements Sink.
func (m *Multi) Name() string { return "multi" }

// Len returns the number of sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// Submit implements Sink.
func (m *Multi) Submit(ctx context.Context, report *models.Report) error {
	if err := report.Validate(); err != nil {
		return fmt.Errorf("invalid report: %w", err)
	}

	var errs []error
	for _, s := range m.sinks {
		if err := s.Submit(ctx, report); err != nil {
			m.logger.Warn("report sink failed",
				slog.String("sink", s.Name()),
				slog.String("video_id", report.VideoID),
				slog.Int("segment_index", report.SegmentIndex),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		m.logger.Debug("report submitted",
			slog.String("sink", s.Name()),
			slog.String("video_id", report.VideoID),
			slog.Int("segment_index", report.SegmentIndex),
		)
	}
	return errors.Join(errs...)
}

// Discard drops every report.
type Discard struct{}

func (Discard) Submit(context.Context, *models.Report) error { return nil }
func (Discard) Name() string                                  { return "discard" }

var (
	_ Sink = (*Multi)(nil)
	_ Sink = Discard{}
)
