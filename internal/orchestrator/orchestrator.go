// Package orchestrator runs automation over a queue of videos: it resolves
// each video's duration, splits it into segments and drives every segment
// through a fresh worker context with bounded retries, persisting progress
// so a run can be observed, paused, stopped and resumed.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/vidsift/internal/jobstore"
	"github.com/jmylchreest/vidsift/internal/messaging"
	"github.com/jmylchreest/vidsift/internal/models"
	"github.com/jmylchreest/vidsift/internal/report"
	"github.com/jmylchreest/vidsift/internal/retry"
	"github.com/jmylchreest/vidsift/internal/service/progress"
	"github.com/jmylchreest/vidsift/internal/worker"
)

// Orchestrator errors.
var (
	ErrAlreadyRunning = errors.New("automation is already running")
	ErrEmptyQueue     = errors.New("no videos to process")
)

// WorkerPool creates and destroys worker contexts.
type WorkerPool interface {
	Create(ctx context.Context) (*worker.Context, error)
	Destroy(ctx context.Context, wc *worker.Context)
}

// TaskSender delivers a task to a worker context and waits for its outcome.
type TaskSender interface {
	SendAndAwait(ctx context.Context, contextID string, task messaging.Task, timeout time.Duration) messaging.Outcome
}

// Summary counts what a run has done so far.
type Summary struct {
	VideosCompleted   int `json:"videos_completed"`
	VideosFailed      int `json:"videos_failed"`
	VideosSkipped     int `json:"videos_skipped"`
	SegmentsSucceeded int `json:"segments_succeeded"`
	SegmentsFailed    int `json:"segments_failed"`
	Timeouts          int `json:"timeouts"`
}

// Status is a point-in-time view of the orchestrator.
type Status struct {
	RunID               string                `json:"run_id,omitempty"`
	Phase               models.RunPhase       `json:"phase"`
	IsRunning           bool                  `json:"is_running"`
	IsPaused            bool                  `json:"is_paused"`
	StopRequested       bool                  `json:"stop_requested"`
	CurrentVideoIndex   int                   `json:"current_video_index"`
	CurrentVideo        string                `json:"current_video,omitempty"`
	CurrentSegmentIndex int                   `json:"current_segment_index"`
	SegmentCount        int                   `json:"segment_count"`
	TotalCount          int                   `json:"total_count"`
	StartedAt           *time.Time            `json:"started_at,omitempty"`
	LastUpdated         *time.Time            `json:"last_updated,omitempty"`
	Summary             Summary               `json:"summary"`
	Videos              []models.VideoOutcome `json:"videos"`
}

// run is one pass over a queue.
type run struct {
	id   models.ULID
	jobs []models.VideoJob
	// start and startSegment locate the first unprocessed segment of a
	// resumed run.
	start        int
	startSegment int
	cfg          models.RunConfig
	policy       retry.Policy
	cancel       context.CancelFunc
	done         chan struct{}

	// ending is set under Orchestrator.mu once finish begins. Control calls
	// and persist ignore the run from then on.
	ending bool
}

// Orchestrator owns the automation state machine. Control calls may come
// from any goroutine; the run loop itself is a single goroutine.
type Orchestrator struct {
	store    jobstore.Store
	workers  WorkerPool
	bus      TaskSender
	reports  report.Sink
	events   progress.Broadcaster
	defaults models.RunConfig
	logger   *slog.Logger
	now      func() time.Time

	startMu sync.Mutex
	saveMu  sync.Mutex

	mu           sync.Mutex
	current      *run
	state        *models.RunState
	phase        models.RunPhase
	segmentCount int
	summary      Summary
	videos       []models.VideoOutcome

	stopRequested  atomic.Bool
	pauseRequested atomic.Bool
}

// New creates an idle orchestrator.
func New(store jobstore.Store, workers WorkerPool, bus TaskSender) *Orchestrator {
	return &Orchestrator{
		store:    store,
		workers:  workers,
		bus:      bus,
		reports:  report.Discard{},
		events:   progress.Nop{},
		defaults: DefaultRunConfig(),
		logger:   slog.Default(),
		now:      time.Now,
		phase:    models.RunPhaseIdle,
	}
}

// WithLogger sets the logger.
func (o *Orchestrator) WithLogger(logger *slog.Logger) *Orchestrator {
	o.logger = logger
	return o
}

// WithReports sets where segment reports are submitted.
func (o *Orchestrator) WithReports(sink report.Sink) *Orchestrator {
	if sink != nil {
		o.reports = sink
	}
	return o
}

// WithBroadcaster sets where progress events are published.
func (o *Orchestrator) WithBroadcaster(b progress.Broadcaster) *Orchestrator {
	if b != nil {
		o.events = b
	}
	return o
}

// WithDefaults sets the run settings used when Start is given none.
func (o *Orchestrator) WithDefaults(cfg models.RunConfig) *Orchestrator {
	o.defaults = normalize(cfg)
	return o
}

// Defaults returns the default run settings.
func (o *Orchestrator) Defaults() models.RunConfig {
	return o.defaults
}

// Start begins a run over jobs and returns its id without waiting for it.
// With no jobs the durable queue is used. A zero cfg means the defaults.
func (o *Orchestrator) Start(ctx context.Context, jobs []models.VideoJob, cfg models.RunConfig) (models.ULID, error) {
	o.startMu.Lock()
	defer o.startMu.Unlock()

	if o.Running() {
		return models.ULID{}, ErrAlreadyRunning
	}
	if cfg == (models.RunConfig{}) {
		cfg = o.defaults
	}
	cfg = normalize(cfg)

	persisted, err := o.store.LoadRunState(ctx)
	if err != nil {
		return models.ULID{}, fmt.Errorf("loading run state: %w", err)
	}
	if persisted != nil && (persisted.IsRunning || persisted.Phase.IsActive()) {
		if !persisted.IsStale(o.now(), cfg.StaleAfter) {
			return models.ULID{}, ErrAlreadyRunning
		}
		o.logger.Warn("resetting stale run state",
			slog.String("run_id", persisted.RunID.String()),
			slog.Time("last_updated", persisted.LastUpdated),
		)
		if err := o.store.ClearRunState(ctx); err != nil {
			return models.ULID{}, fmt.Errorf("clearing stale run state: %w", err)
		}
	}

	if len(jobs) == 0 {
		jobs, err = o.store.Queue(ctx)
		if err != nil {
			return models.ULID{}, fmt.Errorf("loading queue: %w", err)
		}
	}
	if len(jobs) == 0 {
		return models.ULID{}, ErrEmptyQueue
	}
	if err := models.ValidateQueue(jobs); err != nil {
		return models.ULID{}, fmt.Errorf("invalid queue: %w", err)
	}
	jobs = append([]models.VideoJob(nil), jobs...)

	now := o.now().UTC()
	state := &models.RunState{
		Key:        models.RunStateKey,
		RunID:      models.NewULID(),
		Phase:      models.RunPhaseRunning,
		IsRunning:  true,
		Queue:      jobs,
		TotalCount: len(jobs),
		Config:     cfg,
		StartedAt:  now,
	}
	state.Touch()
	if err := o.store.SaveRunState(ctx, state); err != nil {
		return models.ULID{}, fmt.Errorf("saving run state: %w", err)
	}

	o.logger.Info("automation started",
		slog.String("run_id", state.RunID.String()),
		slog.Int("videos", len(jobs)),
	)
	o.launch(&run{id: state.RunID, jobs: jobs, cfg: cfg}, state,
		fmt.Sprintf("Automation started: %d videos", len(jobs)))
	return state.RunID, nil
}

// Recover inspects the persisted run state at process start. An abandoned
// run older than its staleness threshold is cleared; a recent one is resumed
// from the segment it was on. It reports whether a run was resumed.
func (o *Orchestrator) Recover(ctx context.Context) (bool, error) {
	o.startMu.Lock()
	defer o.startMu.Unlock()

	if o.Running() {
		return false, nil
	}

	st, err := o.store.LoadRunState(ctx)
	if err != nil {
		return false, fmt.Errorf("loading run state: %w", err)
	}
	if st == nil || !(st.IsRunning || st.Phase.IsActive()) {
		return false, nil
	}

	cfg := st.Config
	if cfg == (models.RunConfig{}) {
		cfg = o.defaults
	}
	cfg = normalize(cfg)

	if st.IsStale(o.now(), cfg.StaleAfter) || st.CurrentVideoIndex >= len(st.Queue) {
		o.logger.Warn("discarding abandoned run",
			slog.String("run_id", st.RunID.String()),
			slog.Time("last_updated", st.LastUpdated),
			slog.Int("current_video_index", st.CurrentVideoIndex),
			slog.Int("total", len(st.Queue)),
		)
		if err := o.store.ClearRunState(ctx); err != nil {
			return false, fmt.Errorf("clearing run state: %w", err)
		}
		return false, nil
	}

	st.Key = models.RunStateKey
	st.IsRunning = true
	st.Phase = models.RunPhaseRunning
	if st.IsPaused {
		st.Phase = models.RunPhasePaused
	}
	st.Config = cfg
	st.TotalCount = len(st.Queue)
	st.Touch()
	if err := o.store.SaveRunState(ctx, st); err != nil {
		return false, fmt.Errorf("saving run state: %w", err)
	}

	o.logger.Info("automation resumed after restart",
		slog.String("run_id", st.RunID.String()),
		slog.Int("from_video", st.CurrentVideoIndex),
		slog.Int("from_segment", st.CurrentSegmentIndex),
		slog.Int("total", len(st.Queue)),
	)
	r := &run{
		id:           st.RunID,
		jobs:         st.Queue,
		start:        st.CurrentVideoIndex,
		startSegment: max(st.CurrentSegmentIndex, 0),
		cfg:          cfg,
	}
	o.launch(r, st,
		fmt.Sprintf("Automation resumed at video %d of %d", st.CurrentVideoIndex+1, len(st.Queue)))
	return true, nil
}

// ResetStale clears a persisted run that no loop in this process owns and
// that has not been updated within the staleness threshold.
func (o *Orchestrator) ResetStale(ctx context.Context) (bool, error) {
	if o.Running() {
		return false, nil
	}
	st, err := o.store.LoadRunState(ctx)
	if err != nil {
		return false, fmt.Errorf("loading run state: %w", err)
	}
	if st == nil {
		return false, nil
	}
	maxAge := st.Config.StaleAfter
	if maxAge <= 0 {
		maxAge = o.defaults.StaleAfter
	}
	if !st.IsStale(o.now(), maxAge) {
		return false, nil
	}
	if err := o.store.ClearRunState(ctx); err != nil {
		return false, fmt.Errorf("clearing run state: %w", err)
	}
	o.logger.Warn("cleared stale run state",
		slog.String("run_id", st.RunID.String()),
		slog.Time("last_updated", st.LastUpdated),
	)
	return true, nil
}

// Reset clears any persisted run state. It refuses while a run is active in
// this process.
func (o *Orchestrator) Reset(ctx context.Context) error {
	if o.Running() {
		return ErrAlreadyRunning
	}
	if err := o.store.ClearRunState(ctx); err != nil {
		return fmt.Errorf("clearing run state: %w", err)
	}
	o.mu.Lock()
	o.state = nil
	o.phase = models.RunPhaseIdle
	o.summary = Summary{}
	o.videos = nil
	o.mu.Unlock()
	return nil
}

// Pause holds the run at the next segment boundary. Without an active run
// it does nothing.
func (o *Orchestrator) Pause(ctx context.Context) error {
	o.mu.Lock()
	if !o.activeLocked() {
		o.mu.Unlock()
		return nil
	}
	if o.pauseRequested.Swap(true) {
		o.mu.Unlock()
		return nil
	}
	o.state.IsPaused = true
	o.state.Phase = models.RunPhasePaused
	o.phase = models.RunPhasePaused
	o.mu.Unlock()

	o.persist(ctx)
	o.logger.Info("automation paused")
	o.emit(progress.EventProgress, "Automation paused", "")
	return nil
}

// Resume releases a paused run. Without an active run it does nothing.
func (o *Orchestrator) Resume(ctx context.Context) error {
	o.mu.Lock()
	if !o.activeLocked() {
		o.mu.Unlock()
		return nil
	}
	if !o.pauseRequested.Swap(false) {
		o.mu.Unlock()
		return nil
	}
	o.state.IsPaused = false
	o.state.Phase = models.RunPhaseRunning
	o.phase = models.RunPhaseRunning
	o.mu.Unlock()

	o.persist(ctx)
	o.logger.Info("automation resumed")
	o.emit(progress.EventProgress, "Automation resumed", "")
	return nil
}

// Stop asks the run to halt at the next boundary. A task already in flight
// finishes or times out first. Without an active run it does nothing.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	active := o.activeLocked()
	o.mu.Unlock()
	if !active {
		return nil
	}
	if o.stopRequested.Swap(true) {
		return nil
	}
	o.logger.Info("automation stop requested")
	o.emit(progress.EventLog, "Stop requested, finishing the current task", "")
	return nil
}

// activeLocked reports whether a run exists and has not started finishing.
// Callers hold mu.
func (o *Orchestrator) activeLocked() bool {
	return o.current != nil && !o.current.ending
}

// Running reports whether a run loop is active in this process.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current != nil
}

// Wait blocks until the current run ends or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	r := o.current
	o.mu.Unlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown interrupts the current run and waits for the loop to exit. The
// persisted state is kept so Recover can resume the run later.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	r := o.current
	o.mu.Unlock()
	if r == nil {
		return nil
	}
	r.cancel()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a snapshot of the orchestrator.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Status{
		Phase:         o.phase,
		IsRunning:     o.current != nil,
		IsPaused:      o.current != nil && o.pauseRequested.Load(),
		StopRequested: o.current != nil && o.stopRequested.Load(),
		SegmentCount:  o.segmentCount,
		Summary:       o.summary,
		Videos:        append([]models.VideoOutcome(nil), o.videos...),
	}
	if st := o.state; st != nil {
		s.RunID = st.RunID.String()
		s.CurrentVideoIndex = st.CurrentVideoIndex
		s.CurrentVideo = st.CurrentVideo
		s.CurrentSegmentIndex = st.CurrentSegmentIndex
		s.TotalCount = st.TotalCount
		startedAt, lastUpdated := st.StartedAt, st.LastUpdated
		s.StartedAt = &startedAt
		s.LastUpdated = &lastUpdated
	}
	return s
}

// HandleNotice relays a worker notice to observers as a log event.
func (o *Orchestrator) HandleNotice(n messaging.Notice) {
	o.logger.Debug("worker notice",
		slog.String("context_id", n.ContextID),
		slog.String("kind", string(n.Kind)),
		slog.String("text", n.Text),
	)
	o.emit(progress.EventLog, n.Text, "")
}

// launch installs r as the current run, announces it and starts its loop.
func (o *Orchestrator) launch(r *run, state *models.RunState, announcement string) {
	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.policy = retryPolicy(r.cfg)

	o.stopRequested.Store(false)
	o.pauseRequested.Store(state.IsPaused)

	o.mu.Lock()
	o.current = r
	o.state = state.Clone()
	o.phase = state.Phase
	o.segmentCount = 0
	o.summary = Summary{}
	o.videos = nil
	o.mu.Unlock()

	o.emit(progress.EventProgress, announcement, "")
	go o.loop(runCtx, r)
}

// persist writes the current state. Failures are logged; the next write
// carries the same information again.
func (o *Orchestrator) persist(ctx context.Context) {
	o.saveMu.Lock()
	defer o.saveMu.Unlock()

	o.mu.Lock()
	if o.state == nil || !o.activeLocked() {
		o.mu.Unlock()
		return
	}
	o.state.Touch()
	snap := o.state.Clone()
	o.mu.Unlock()

	if err := o.store.SaveRunState(context.WithoutCancel(ctx), snap); err != nil {
		o.logger.Warn("saving run state failed",
			slog.String("run_id", snap.RunID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// emit publishes an event stamped with the current run position.
func (o *Orchestrator) emit(typ progress.EventType, message, videoID string) {
	o.mu.Lock()
	e := progress.Event{
		Type:    typ,
		State:   string(o.phase),
		Message: message,
		VideoID: videoID,
	}
	if st := o.state; st != nil {
		e.RunID = st.RunID.String()
		e.Current = st.CurrentVideoIndex
		e.Total = st.TotalCount
	}
	o.mu.Unlock()

	o.events.Broadcast(e)
}
