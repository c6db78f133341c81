package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/jmylchreest/vidsift/internal/messaging"
	"github.com/jmylchreest/vidsift/internal/models"
	"github.com/jmylchreest/vidsift/internal/retry"
	"github.com/jmylchreest/vidsift/internal/segment"
	"github.com/jmylchreest/vidsift/internal/service/progress"
)

var (
	errStopRequested = errors.New("stop requested")
	errEmptyReport   = errors.New("task returned an empty report")
)

// loop is the run goroutine. It always ends with finish, including after a
// panic that escaped per-video containment.
func (o *Orchestrator) loop(ctx context.Context, r *run) {
	defer close(r.done)
	defer r.cancel()
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error("automation run crashed",
				slog.String("run_id", r.id.String()),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			o.finish(ctx, r, models.RunPhaseFailed, fmt.Errorf("%v", rec))
		}
	}()

	phase := o.processQueue(ctx, r)
	o.finish(ctx, r, phase, nil)
}

func (o *Orchestrator) processQueue(ctx context.Context, r *run) models.RunPhase {
	total := len(r.jobs)
	for i := r.start; i < total; i++ {
		if o.halted(ctx) {
			return models.RunPhaseStopped
		}
		if !o.waitWhilePaused(ctx, r) {
			return models.RunPhaseStopped
		}

		job := r.jobs[i]
		from := 0
		if i == r.start {
			from = r.startSegment
		}
		o.beginVideo(ctx, i, job, from)

		outcome := o.processVideo(ctx, r, job, from)
		o.recordOutcome(ctx, job, outcome)
		if outcome.Status == models.VideoStatusSkipped {
			return models.RunPhaseStopped
		}

		if i < total-1 && !o.halted(ctx) {
			sleep(ctx, r.cfg.InterVideoDelay)
		}
		o.advance(ctx, i+1)
	}
	return models.RunPhaseCompleted
}

// processVideo resolves, plans and runs the segments of one video starting
// at index from; earlier segments were processed before a restart. Panics
// are contained here and fail only this video.
func (o *Orchestrator) processVideo(ctx context.Context, r *run, job models.VideoJob, from int) (out *models.VideoOutcome) {
	out = models.NewVideoOutcome(r.id, job)
	logger := o.logger.With(
		slog.String("run_id", r.id.String()),
		slog.String("video_id", job.ID),
	)

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("video processing panicked",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			out.MarkFailed(fmt.Errorf("panic: %v", rec))
		}
	}()

	duration, measured := o.resolveDuration(ctx, r, job)
	if measured {
		out.DurationSeconds = &duration
		out.DurationMeasured = true
	}

	segments := segment.Plan(duration, r.cfg.MaxSegmentDuration.Seconds())
	out.SegmentsTotal = len(segments)
	o.mu.Lock()
	o.segmentCount = len(segments)
	o.mu.Unlock()
	logger.Info("processing video",
		slog.String("title", job.DisplayName()),
		slog.Float64("duration_seconds", duration),
		slog.Int("segments", len(segments)),
	)
	if from > 0 {
		logger.Info("resuming video", slog.Int("from_segment", from))
	}

	for _, seg := range segments {
		if seg.Index < from {
			out.SegmentsSucceeded++
			continue
		}
		label := seg.Label(len(segments))
		if o.halted(ctx) || !o.waitWhilePaused(ctx, r) {
			out.LastError = fmt.Sprintf("stopped before %s", label)
			out.MarkSkipped()
			return out
		}

		o.beginSegment(ctx, seg.Index)
		o.emit(progress.EventLog, fmt.Sprintf("%s: %s", job.DisplayName(), label), job.ID)

		text, err := o.runSegment(ctx, r, job, seg, out)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, errStopRequested) {
				out.LastError = fmt.Sprintf("stopped during %s", label)
				out.MarkSkipped()
				return out
			}
			logger.Warn("segment failed, skipping the rest of the video",
				slog.Int("segment_index", seg.Index),
				slog.Int("attempts", out.Attempts),
				slog.String("error", err.Error()),
			)
			out.MarkFailed(fmt.Errorf("%s: %w", label, err))
			return out
		}

		out.SegmentsSucceeded++
		o.submitReport(ctx, r, job, seg, text)
		o.emit(progress.EventProgress,
			fmt.Sprintf("Segment %d/%d of %s complete", seg.Index+1, len(segments), job.DisplayName()), job.ID)

		if seg.Index < len(segments)-1 {
			sleep(ctx, r.cfg.InterSegmentDelay)
		}
	}

	out.MarkCompleted()
	return out
}

// resolveDuration returns the known duration or measures it. A failed or
// non-positive measurement means unknown, which plans a single segment.
func (o *Orchestrator) resolveDuration(ctx context.Context, r *run, job models.VideoJob) (float64, bool) {
	if d := job.KnownDuration(); d > 0 {
		return d, false
	}

	o.emit(progress.EventLog, fmt.Sprintf("Measuring duration of %s", job.DisplayName()), job.ID)
	task := messaging.MeasureDuration{URL: job.URL}
	secs, err := retry.Do(ctx, r.policy, func(ctx context.Context, attempt int) (float64, error) {
		if attempt > 0 && o.stopRequested.Load() {
			return 0, retry.Permanent(errStopRequested)
		}
		outcome := o.execute(ctx, task, r.cfg.MeasureTimeout)
		if err := outcome.Err(); err != nil {
			return 0, err
		}
		return outcome.Payload.DurationSeconds, nil
	}, retry.OnRetry(func(a retry.Attempt, wait time.Duration) {
		o.logger.Warn("duration measurement failed, retrying",
			slog.String("video_id", job.ID),
			slog.Int("attempt", a.Number),
			slog.Duration("wait", wait),
			slog.String("error", a.Err.Error()),
		)
	}))
	if err != nil {
		o.logger.Warn("duration measurement failed, processing as a single segment",
			slog.String("video_id", job.ID),
			slog.String("error", err.Error()),
		)
		o.emit(progress.EventLog,
			fmt.Sprintf("Could not measure %s, processing the whole video at once", job.DisplayName()), job.ID)
		return 0, false
	}
	if secs <= 0 {
		o.logger.Info("video duration unknown, processing as a single segment",
			slog.String("video_id", job.ID),
		)
		return 0, false
	}
	return secs, true
}

// runSegment drives one segment through the retry policy, each attempt in a
// fresh worker context.
func (o *Orchestrator) runSegment(ctx context.Context, r *run, job models.VideoJob, seg segment.Segment, out *models.VideoOutcome) (string, error) {
	task := messaging.ProcessSegment{
		VideoID: job.ID,
		URL:     job.URL,
		Title:   job.Title,
		Segment: seg,
	}

	return retry.Do(ctx, r.policy, func(ctx context.Context, attempt int) (string, error) {
		if attempt > 0 && o.stopRequested.Load() {
			return "", retry.Permanent(errStopRequested)
		}
		out.Attempts++

		outcome := o.execute(ctx, task, r.cfg.TaskTimeout)
		switch outcome.Status {
		case messaging.StatusTimeout:
			out.Timeouts++
			o.logger.Warn("segment task timed out, the page may be hung",
				slog.String("video_id", job.ID),
				slog.Int("segment_index", seg.Index),
				slog.Duration("timeout", r.cfg.TaskTimeout),
			)
			return "", outcome.Err()
		case messaging.StatusSuccess:
			if outcome.Payload.Text == "" {
				return "", errEmptyReport
			}
			return outcome.Payload.Text, nil
		default:
			return "", outcome.Err()
		}
	}, retry.OnRetry(func(a retry.Attempt, wait time.Duration) {
		o.logger.Warn("segment attempt failed, retrying",
			slog.String("video_id", job.ID),
			slog.Int("segment_index", seg.Index),
			slog.Int("attempt", a.Number),
			slog.Duration("wait", wait),
			slog.String("error", a.Err.Error()),
		)
		o.emit(progress.EventLog,
			fmt.Sprintf("Attempt %d for %s failed (%v), retrying in %s", a.Number, job.DisplayName(), a.Err, wait), job.ID)
	}))
}

// execute runs one task in a context created for it and destroyed after.
// Context creation failure is reported as a failed outcome.
func (o *Orchestrator) execute(ctx context.Context, task messaging.Task, timeout time.Duration) messaging.Outcome {
	wc, err := o.workers.Create(ctx)
	if err != nil {
		return messaging.Outcome{
			Status: messaging.StatusError,
			Error:  fmt.Sprintf("creating worker context: %v", err),
		}
	}
	defer o.workers.Destroy(ctx, wc)

	if !wc.Ready() {
		o.logger.Debug("sending task to a context that never reported ready",
			slog.String("context_id", wc.ID()),
			slog.String("task", task.String()),
		)
	}
	return o.bus.SendAndAwait(ctx, wc.ID(), task, timeout)
}

func (o *Orchestrator) submitReport(ctx context.Context, r *run, job models.VideoJob, seg segment.Segment, text string) {
	rep := &models.Report{
		RunID:        r.id,
		VideoID:      job.ID,
		SegmentIndex: seg.Index,
		Title:        job.Title,
		StartSeconds: seg.Start,
		EndSeconds:   seg.End,
		Content:      text,
	}
	if err := o.reports.Submit(ctx, rep); err != nil {
		o.logger.Warn("report submission failed",
			slog.String("video_id", job.ID),
			slog.Int("segment_index", seg.Index),
			slog.String("error", err.Error()),
		)
		o.emit(progress.EventLog, fmt.Sprintf("Report for %s could not be submitted: %v", job.DisplayName(), err), job.ID)
	}
}

// waitWhilePaused polls until the run is not paused. It returns false when
// the run should halt instead.
func (o *Orchestrator) waitWhilePaused(ctx context.Context, r *run) bool {
	for o.pauseRequested.Load() {
		if o.halted(ctx) {
			return false
		}
		sleep(ctx, r.cfg.PausePollInterval)
	}
	return !o.halted(ctx)
}

func (o *Orchestrator) halted(ctx context.Context) bool {
	return o.stopRequested.Load() || ctx.Err() != nil
}

func (o *Orchestrator) beginVideo(ctx context.Context, index int, job models.VideoJob, segmentIndex int) {
	o.mu.Lock()
	o.state.CurrentVideoIndex = index
	o.state.CurrentVideo = job.DisplayName()
	o.state.CurrentSegmentIndex = segmentIndex
	o.segmentCount = 0
	total := o.state.TotalCount
	o.mu.Unlock()

	o.persist(ctx)
	o.emit(progress.EventProgress, fmt.Sprintf("Processing video %d of %d: %s", index+1, total, job.DisplayName()), job.ID)
}

func (o *Orchestrator) beginSegment(ctx context.Context, index int) {
	o.mu.Lock()
	o.state.CurrentSegmentIndex = index
	o.mu.Unlock()
	o.persist(ctx)
}

func (o *Orchestrator) advance(ctx context.Context, next int) {
	o.mu.Lock()
	o.state.CurrentVideoIndex = next
	o.state.CurrentVideo = ""
	o.state.CurrentSegmentIndex = 0
	total := o.state.TotalCount
	o.mu.Unlock()

	o.persist(ctx)
	o.emit(progress.EventProgress, fmt.Sprintf("Completed %d of %d videos", next, total), "")
}

// recordOutcome stores the video's summary. Finished videos leave the
// durable queue; skipped ones stay for the next run.
func (o *Orchestrator) recordOutcome(ctx context.Context, job models.VideoJob, out *models.VideoOutcome) {
	storeCtx := context.WithoutCancel(ctx)
	if err := o.store.RecordOutcome(storeCtx, out); err != nil {
		o.logger.Warn("recording video outcome failed",
			slog.String("video_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
	if out.Status != models.VideoStatusSkipped {
		if _, err := o.store.Dequeue(storeCtx, job.ID); err != nil {
			o.logger.Warn("removing video from queue failed",
				slog.String("video_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	o.mu.Lock()
	o.videos = append(o.videos, *out)
	o.summary.SegmentsSucceeded += out.SegmentsSucceeded
	o.summary.Timeouts += out.Timeouts
	switch out.Status {
	case models.VideoStatusCompleted:
		o.summary.VideosCompleted++
	case models.VideoStatusFailed:
		o.summary.VideosFailed++
		if out.SegmentsSucceeded < out.SegmentsTotal {
			o.summary.SegmentsFailed++
		}
	case models.VideoStatusSkipped:
		o.summary.VideosSkipped++
	}
	o.mu.Unlock()

	switch out.Status {
	case models.VideoStatusCompleted:
		o.logger.Info("video completed",
			slog.String("video_id", job.ID),
			slog.Int("segments", out.SegmentsSucceeded),
			slog.Duration("elapsed", out.Elapsed()),
		)
		o.emit(progress.EventLog, fmt.Sprintf("Finished %s", job.DisplayName()), job.ID)
	case models.VideoStatusFailed:
		o.logger.Error("video failed",
			slog.String("video_id", job.ID),
			slog.Int("segments_succeeded", out.SegmentsSucceeded),
			slog.Int("segments_total", out.SegmentsTotal),
			slog.String("error", out.LastError),
		)
		o.emit(progress.EventError, fmt.Sprintf("Video %s failed: %s", job.DisplayName(), out.LastError), job.ID)
	default:
		o.emit(progress.EventLog, fmt.Sprintf("Skipped %s: %s", job.DisplayName(), out.LastError), job.ID)
	}
}

// finish ends the run. A run cut short by shutdown keeps its persisted state
// so it can be resumed; every other ending clears it. The complete event is
// always published.
func (o *Orchestrator) finish(ctx context.Context, r *run, phase models.RunPhase, fatal error) {
	interrupted := fatal == nil && phase != models.RunPhaseCompleted && ctx.Err() != nil && !o.stopRequested.Load()
	if interrupted {
		phase = models.RunPhaseStopped
	}

	o.mu.Lock()
	r.ending = true
	o.mu.Unlock()

	if !interrupted {
		// saveMu orders the clear after any write already in flight.
		o.saveMu.Lock()
		err := o.store.ClearRunState(context.Background())
		o.saveMu.Unlock()
		if err != nil {
			o.logger.Warn("clearing run state failed",
				slog.String("run_id", r.id.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	o.mu.Lock()
	o.phase = phase
	if o.state != nil {
		o.state.Phase = phase
		o.state.IsRunning = false
		o.state.IsPaused = false
	}
	summary := o.summary
	total := len(r.jobs)
	o.mu.Unlock()

	var message string
	switch {
	case fatal != nil:
		message = fmt.Sprintf("Automation failed: %v", fatal)
		o.emit(progress.EventError, message, "")
	case interrupted:
		message = "Automation interrupted, it will resume on restart"
	case phase == models.RunPhaseStopped:
		message = fmt.Sprintf("Automation stopped: %d of %d videos processed", summary.VideosCompleted+summary.VideosFailed, total)
	default:
		message = fmt.Sprintf("Automation complete: %d of %d videos succeeded, %d failed",
			summary.VideosCompleted, total, summary.VideosFailed)
	}

	o.logger.Info("automation finished",
		slog.String("run_id", r.id.String()),
		slog.String("phase", string(phase)),
		slog.Bool("interrupted", interrupted),
		slog.Int("videos_completed", summary.VideosCompleted),
		slog.Int("videos_failed", summary.VideosFailed),
		slog.Int("segments_succeeded", summary.SegmentsSucceeded),
		slog.Int("timeouts", summary.Timeouts),
	)

	complete := progress.Event{
		Type:    progress.EventComplete,
		RunID:   r.id.String(),
		State:   string(phase),
		Current: summary.VideosCompleted + summary.VideosFailed,
		Total:   total,
		Message: message,
	}

	o.stopRequested.Store(false)
	o.pauseRequested.Store(false)
	o.mu.Lock()
	o.current = nil
	o.mu.Unlock()

	o.events.Broadcast(complete)
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
