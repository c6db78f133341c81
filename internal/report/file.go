package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmylchreest/vidsift/internal/models"
	"github.com/jmylchreest/vidsift/internal/storage"
)

// FileSink writes each report as a markdown file in a sandboxed directory.
// Resubmitting a segment overwrites its file.
type FileSink struct {
	sandbox *storage.Sandbox
}

// NewFileSink creates a FileSink writing into sandbox.
func NewFileSink(sandbox *storage.Sandbox) *FileSink {
	return &FileSink{sandbox: sandbox}
}

// Name implements Sink.
func (s *FileSink) Name() string { return "file" }

// Submit implements Sink.
func (s *FileSink) Submit(ctx context.Context, report *models.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	content := report.Content
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if err := s.sandbox.AtomicWrite(report.FileName(), []byte(content)); err != nil {
		return fmt.Errorf("writing report file: %w", err)
	}
	return nil
}

var _ Sink = (*FileSink)(nil)
