package worker

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/vidsift/internal/messaging"
	"github.com/jmylchreest/vidsift/internal/segment"
)

// InProcessLauncher launches sessions that run tasks on an executor in the
// current process. Each launch gets its own session id.
type InProcessLauncher struct {
	executor   messaging.TaskExecutor
	readyAfter time.Duration
	launched   atomic.Int64
	closed     atomic.Int64
}

// NewInProcessLauncher creates a launcher around exec.
func NewInProcessLauncher(exec messaging.TaskExecutor) *InProcessLauncher {
	return &InProcessLauncher{executor: exec}
}

// WithReadyDelay makes sessions report ready only after d has elapsed.
func (l *InProcessLauncher) WithReadyDelay(d time.Duration) *InProcessLauncher {
	l.readyAfter = d
	return l
}

// Launch implements Launcher.
func (l *InProcessLauncher) Launch(_ context.Context, _ string) (Session, error) {
	l.launched.Add(1)
	return &inProcessSession{
		id:       uuid.NewString(),
		executor: l.executor,
		readyAt:  time.Now().Add(l.readyAfter),
		onClose:  func() { l.closed.Add(1) },
	}, nil
}

// Launched returns how many sessions have been launched.
func (l *InProcessLauncher) Launched() int64 { return l.launched.Load() }

// Closed returns how many sessions have been closed.
func (l *InProcessLauncher) Closed() int64 { return l.closed.Load() }

type inProcessSession struct {
	id       string
	executor messaging.TaskExecutor
	readyAt  time.Time
	closed   atomic.Bool
	onClose  func()
}

func (s *inProcessSession) ID() string { return s.id }

func (s *inProcessSession) Ready(context.Context) (bool, error) {
	return !time.Now().Before(s.readyAt), nil
}

func (s *inProcessSession) MeasureDuration(ctx context.Context, task messaging.MeasureDuration) (float64, error) {
	return s.executor.MeasureDuration(ctx, task)
}

func (s *inProcessSession) ProcessSegment(ctx context.Context, task messaging.ProcessSegment) (string, error) {
	return s.executor.ProcessSegment(ctx, task)
}

func (s *inProcessSession) Close(context.Context) error {
	if s.closed.CompareAndSwap(false, true) && s.onClose != nil {
		s.onClose()
	}
	return nil
}

// DryRunExecutor performs no analysis. It reports every video as having an
// unknown length and returns a placeholder report per segment, which is
// enough to exercise a full run end to end.
type DryRunExecutor struct {
	// Delay simulates work time for each task.
	Delay time.Duration
}

// MeasureDuration implements messaging.TaskExecutor.
func (e DryRunExecutor) MeasureDuration(ctx context.Context, task messaging.MeasureDuration) (float64, error) {
	messaging.Notify(ctx, messaging.NoticeStatus, "dry run: skipping duration lookup for "+task.URL)
	if err := sleepCtx(ctx, e.Delay); err != nil {
		return 0, err
	}
	return 0, nil
}

// ProcessSegment implements messaging.TaskExecutor.
func (e DryRunExecutor) ProcessSegment(ctx context.Context, task messaging.ProcessSegment) (string, error) {
	messaging.Notify(ctx, messaging.NoticeProgress, "dry run: processing "+task.String())
	if err := sleepCtx(ctx, e.Delay); err != nil {
		return "", err
	}
	return placeholderReport(task), nil
}

func placeholderReport(task messaging.ProcessSegment) string {
	var b strings.Builder
	title := task.Title
	if title == "" {
		title = task.VideoID
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "- URL: %s\n", task.URL)
	fmt.Fprintf(&b, "- Window: %s\n\n", windowText(task.Segment))
	b.WriteString("_Dry run: no analysis was performed._\n")
	return b.String()
}

func windowText(s segment.Segment) string {
	if s.End == nil {
		return "full video"
	}
	return fmt.Sprintf("%.0fs to %.0fs", s.Start, *s.End)
}

var (
	_ Launcher               = (*InProcessLauncher)(nil)
	_ Session                = (*inProcessSession)(nil)
	_ messaging.TaskExecutor = DryRunExecutor{}
)
