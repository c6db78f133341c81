// Package scheduler runs recurring maintenance jobs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler errors.
var (
	ErrAlreadyStarted = errors.New("scheduler already started")
	ErrDuplicateJob   = errors.New("job already registered")
	ErrUnknownJob     = errors.New("unknown job")
)

// JobFunc is the body of a scheduled job.
type JobFunc func(ctx context.Context) error

// Entry describes a registered job.
type Entry struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next,omitempty"`
	Prev     time.Time `json:"prev,omitempty"`
}

type job struct {
	name     string
	schedule string
	fn       JobFunc
	id       cron.EntryID
	mu       sync.Mutex
}

// Scheduler wraps a cron runner. Jobs run with the scheduler's context, a
// job still running when its next tick arrives is skipped, and panics are
// recovered and logged.
type Scheduler struct {
	mu sync.RWMutex

	cron   *cron.Cron
	parser cron.Parser
	logger *slog.Logger
	jobs   map[string]*job

	// Running state
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler for standard 5-field cron expressions.
func NewScheduler() *Scheduler {
	s := &Scheduler{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger: slog.Default(),
		jobs:   make(map[string]*job),
	}
	s.cron = s.newCron()
	return s
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
	if s.ctx == nil && len(s.jobs) == 0 {
		s.cron = s.newCron()
	}
	return s
}

func (s *Scheduler) newCron() *cron.Cron {
	cl := cronLogger{logger: s.logger}
	return cron.New(
		cron.WithParser(s.parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
}

// Add registers fn under name on the given cron schedule.
func (s *Scheduler) Add(name, schedule string, fn JobFunc) error {
	if _, err := s.parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression for %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}

	j := &job{name: name, schedule: schedule, fn: fn}
	id, err := s.cron.AddFunc(schedule, func() { s.run(j) })
	if err != nil {
		return fmt.Errorf("scheduling %s: %w", name, err)
	}
	j.id = id
	s.jobs[name] = j

	s.logger.Debug("scheduled job registered",
		slog.String("job", name),
		slog.String("schedule", schedule))
	return nil
}

// Start begins running jobs on their schedules until ctx is cancelled or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return ErrAlreadyStarted
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()

	s.logger.Info("scheduler started", slog.Int("jobs", len(s.jobs)))
	return nil
}

// Stop halts the schedule and waits for running jobs to return, or for ctx
// to be done.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.ctx == nil {
		s.mu.Unlock()
		return
	}
	s.cancel()
	stopped := s.cron.Stop()
	s.mu.Unlock()

	select {
	case <-stopped.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out waiting for jobs")
	}

	s.mu.Lock()
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

// RunNow runs the named job synchronously with ctx. It waits for an
// in-progress scheduled run of the same job to finish first.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.execute(ctx, j)
}

// Entries lists the registered jobs ordered by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]Entry, 0, len(s.jobs))
	for _, j := range s.jobs {
		e := s.cron.Entry(j.id)
		entries = append(entries, Entry{
			Name:     j.name,
			Schedule: j.schedule,
			Next:     e.Next,
			Prev:     e.Prev,
		})
	}
	sort.Slice(entries, func(a, b int) bool { return entries[a].Name < entries[b].Name })
	return entries
}

// ParseCron validates a cron expression and returns the next run time.
func (s *Scheduler) ParseCron(expr string) (time.Time, error) {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule.Next(time.Now()), nil
}

// ValidateCron validates a cron expression.
func (s *Scheduler) ValidateCron(expr string) error {
	_, err := s.parser.Parse(expr)
	return err
}

// run is the cron callback.
func (s *Scheduler) run(j *job) {
	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	_ = s.execute(ctx, j)
}

func (s *Scheduler) execute(ctx context.Context, j *job) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	start := time.Now()
	err := j.fn(ctx)
	if err != nil {
		s.logger.Error("scheduled job failed",
			slog.String("job", j.name),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return err
	}
	s.logger.Debug("scheduled job completed",
		slog.String("job", j.name),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	args := append([]any{slog.String("error", err.Error())}, keysAndValues...)
	l.logger.Error("cron: "+msg, args...)
}
