package models

import "time"

// VideoStatus is the final status of one video within a run.
type VideoStatus string

const (
	VideoStatusPending   VideoStatus = "pending"
	VideoStatusRunning   VideoStatus = "running"
	VideoStatusCompleted VideoStatus = "completed"
	VideoStatusFailed    VideoStatus = "failed"
	VideoStatusSkipped   VideoStatus = "skipped"
)

// VideoOutcome is the persisted summary of processing one video.
type VideoOutcome struct {
	BaseModel

	RunID   ULID        `gorm:"type:varchar(26);not null;index" json:"run_id"`
	VideoID string      `gorm:"not null;size:255;index" json:"video_id"`
	Title   string      `gorm:"size:512" json:"title,omitempty"`
	Status  VideoStatus `gorm:"not null;size:20;index" json:"status"`

	DurationSeconds   *float64 `json:"duration_seconds,omitempty"`
	DurationMeasured  bool     `json:"duration_measured"`
	SegmentsTotal     int      `json:"segments_total"`
	SegmentsSucceeded int      `json:"segments_succeeded"`
	Attempts          int      `json:"attempts"`
	Timeouts          int      `json:"timeouts"`
	LastError         string   `gorm:"size:4096" json:"last_error,omitempty"`

	StartedAt   *Time `json:"started_at,omitempty"`
	CompletedAt *Time `json:"completed_at,omitempty"`
	DurationMs  int64 `json:"duration_ms,omitempty"`
}

// TableName returns the table name for VideoOutcome.
func (VideoOutcome) TableName() string {
	return "video_outcomes"
}

// NewVideoOutcome starts tracking a video.
func NewVideoOutcome(runID ULID, job VideoJob) *VideoOutcome {
	now := Now()
	return &VideoOutcome{
		RunID:           runID,
		VideoID:         job.ID,
		Title:           job.Title,
		Status:          VideoStatusRunning,
		DurationSeconds: job.DurationSeconds,
		StartedAt:       &now,
	}
}

// MarkCompleted marks the video as fully processed.
func (o *VideoOutcome) MarkCompleted() {
	o.finish(VideoStatusCompleted)
	o.LastError = ""
}

// MarkFailed marks the video as failed with an error message.
func (o *VideoOutcome) MarkFailed(err error) {
	o.finish(VideoStatusFailed)
	if err != nil {
		o.LastError = err.Error()
	}
}

// MarkSkipped marks the video as never started or abandoned on stop.
func (o *VideoOutcome) MarkSkipped() {
	o.finish(VideoStatusSkipped)
}

func (o *VideoOutcome) finish(status VideoStatus) {
	o.Status = status
	now := Now()
	o.CompletedAt = &now
	if o.StartedAt != nil {
		o.DurationMs = now.Sub(*o.StartedAt).Milliseconds()
	}
}

// IsFinished returns true once the outcome has a final status.
func (o *VideoOutcome) IsFinished() bool {
	switch o.Status {
	case VideoStatusCompleted, VideoStatusFailed, VideoStatusSkipped:
		return true
	}
	return false
}

// Elapsed returns how long the video took, or has taken so far.
func (o *VideoOutcome) Elapsed() time.Duration {
	if o.StartedAt == nil {
		return 0
	}
	if o.CompletedAt != nil {
		return o.CompletedAt.Sub(*o.StartedAt)
	}
	return time.Since(*o.StartedAt)
}
