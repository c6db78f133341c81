package models

import "time"

// RunPhase is the orchestrator state machine position.
type RunPhase string

const (
	RunPhaseIdle      RunPhase = "idle"
	RunPhaseRunning   RunPhase = "running"
	RunPhasePaused    RunPhase = "paused"
	RunPhaseCompleted RunPhase = "completed"
	RunPhaseStopped   RunPhase = "stopped"
	RunPhaseFailed    RunPhase = "failed"
)

// IsTerminal reports whether no further transitions happen from this phase.
func (p RunPhase) IsTerminal() bool {
	return p == RunPhaseCompleted || p == RunPhaseStopped || p == RunPhaseFailed
}

// IsActive reports whether a run loop owns this phase.
func (p RunPhase) IsActive() bool {
	return p == RunPhaseRunning || p == RunPhasePaused
}

// RunStateKey is the primary key of the single persisted RunState row.
const RunStateKey = "current"

// RunState is the persisted snapshot of the active automation run. There is
// at most one row; it is cleared when a run ends.
type RunState struct {
	Key   string `gorm:"primarykey;size:32" json:"-"`
	RunID ULID   `gorm:"type:varchar(26)" json:"run_id"`

	Phase     RunPhase `gorm:"size:20;not null;default:'idle'" json:"phase"`
	IsRunning bool     `json:"is_running"`
	IsPaused  bool     `json:"is_paused"`

	Queue               []VideoJob `gorm:"serializer:json" json:"queue"`
	CurrentVideoIndex   int        `json:"current_video_index"`
	CurrentSegmentIndex int        `json:"current_segment_index"`
	CurrentVideo        string     `gorm:"size:512" json:"current_video,omitempty"`
	TotalCount          int        `json:"total_count"`

	Config RunConfig `gorm:"serializer:json" json:"config"`

	StartedAt   time.Time `json:"started_at"`
	LastUpdated time.Time `gorm:"index" json:"last_updated"`
}

// RunConfig holds the timing and retry knobs of one run. It is persisted
// with the RunState so a resumed run keeps the settings it started with.
type RunConfig struct {
	MaxSegmentDuration time.Duration `json:"max_segment_duration"`
	TaskTimeout        time.Duration `json:"task_timeout"`
	MeasureTimeout     time.Duration `json:"measure_timeout"`
	MaxRetries         int           `json:"max_retries"`
	RetryBaseDelay     time.Duration `json:"retry_base_delay"`
	RetryMaxDelay      time.Duration `json:"retry_max_delay"`
	InterSegmentDelay  time.Duration `json:"inter_segment_delay"`
	InterVideoDelay    time.Duration `json:"inter_video_delay"`
	PausePollInterval  time.Duration `json:"pause_poll_interval"`
	StaleAfter         time.Duration `json:"stale_after"`
}

// TableName returns the table name for RunState.
func (RunState) TableName() string {
	return "run_state"
}

// Touch stamps the state with the current time.
func (s *RunState) Touch() {
	s.LastUpdated = Now()
}

// IsStale reports whether an active state has not been updated within maxAge
// and should be treated as abandoned.
func (s *RunState) IsStale(now time.Time, maxAge time.Duration) bool {
	return s.LastUpdated.IsZero() || now.Sub(s.LastUpdated) > maxAge
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *RunState) Clone() *RunState {
	if s == nil {
		return nil
	}
	c := *s
	c.Queue = append([]VideoJob(nil), s.Queue...)
	return &c
}
