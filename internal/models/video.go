package models

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/vidsift/pkg/duration"
)

// VideoJob is one unit of work: a video to analyse. It is immutable once
// enqueued.
type VideoJob struct {
	ID              string   `json:"id" yaml:"id" doc:"Video identifier"`
	URL             string   `json:"url" yaml:"url" doc:"Source URL of the video"`
	Title           string   `json:"title,omitempty" yaml:"title,omitempty" doc:"Display title"`
	DurationSeconds *float64 `json:"duration,omitempty" yaml:"duration,omitempty" doc:"Known length in seconds, if any"`
}

// Validate checks that the job can be processed.
func (j *VideoJob) Validate() error {
	if strings.TrimSpace(j.ID) == "" {
		return ErrVideoIDRequired
	}
	if strings.TrimSpace(j.URL) == "" {
		return ErrURLRequired
	}
	u, err := url.Parse(j.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ErrInvalidURL
	}
	if j.DurationSeconds != nil && (*j.DurationSeconds < 0 || math.IsNaN(*j.DurationSeconds)) {
		return ErrValidation{Field: "duration", Message: "must not be negative"}
	}
	return nil
}

// KnownDuration returns the known length in seconds, or 0 when unknown.
func (j *VideoJob) KnownDuration() float64 {
	if j.DurationSeconds == nil {
		return 0
	}
	return *j.DurationSeconds
}

// DisplayName returns the title, falling back to the id.
func (j *VideoJob) DisplayName() string {
	if j.Title != "" {
		return j.Title
	}
	return j.ID
}

// UnmarshalJSON accepts the duration either as seconds or as a duration
// string ("PT1H2M3S", "45m").
func (j *VideoJob) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID       string `json:"id"`
		URL      string `json:"url"`
		Title    string `json:"title"`
		Duration any    `json:"duration"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	secs, err := ParseDurationValue(raw.Duration)
	if err != nil {
		return err
	}
	*j = VideoJob{ID: raw.ID, URL: raw.URL, Title: raw.Title, DurationSeconds: secs}
	return nil
}

// UnmarshalYAML applies the same duration handling as UnmarshalJSON.
func (j *VideoJob) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		ID       string `yaml:"id"`
		URL      string `yaml:"url"`
		Title    string `yaml:"title"`
		Duration any    `yaml:"duration"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	secs, err := ParseDurationValue(raw.Duration)
	if err != nil {
		return err
	}
	*j = VideoJob{ID: raw.ID, URL: raw.URL, Title: raw.Title, DurationSeconds: secs}
	return nil
}

// ParseDurationValue converts a loosely typed duration into seconds. Numbers
// are seconds; strings may be numeric, ISO-8601 ("PT45M") or human ("45m").
// Nil and empty strings mean unknown.
func ParseDurationValue(v any) (*float64, error) {
	var secs float64
	switch d := v.(type) {
	case nil:
		return nil, nil
	case float64:
		secs = d
	case float32:
		secs = float64(d)
	case int:
		secs = float64(d)
	case int64:
		secs = float64(d)
	case json.Number:
		f, err := d.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDuration, d)
		}
		secs = f
	case string:
		s := strings.TrimSpace(d)
		if s == "" {
			return nil, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			secs = f
			break
		}
		if strings.HasPrefix(strings.ToUpper(s), "P") {
			dur, err := duration.ParseISO8601(s)
			if err != nil {
				return nil, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
			}
			secs = dur.Seconds()
			break
		}
		dur, err := duration.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
		}
		secs = dur.Seconds()
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidDuration, v)
	}
	if secs < 0 {
		return nil, fmt.Errorf("%w: negative", ErrInvalidDuration)
	}
	return &secs, nil
}

// ValidateQueue validates every job and rejects duplicate ids.
func ValidateQueue(jobs []VideoJob) error {
	seen := make(map[string]struct{}, len(jobs))
	for i := range jobs {
		if err := jobs[i].Validate(); err != nil {
			return fmt.Errorf("job %d: %w", i, err)
		}
		if _, ok := seen[jobs[i].ID]; ok {
			return fmt.Errorf("job %d: %w: %s", i, ErrDuplicateVideo, jobs[i].ID)
		}
		seen[jobs[i].ID] = struct{}{}
	}
	return nil
}

// QueueItem is a VideoJob waiting in the durable queue.
type QueueItem struct {
	BaseModel

	// Position orders items; lower runs first.
	Position        int64    `gorm:"not null;index" json:"position"`
	VideoID         string   `gorm:"not null;size:255;uniqueIndex" json:"video_id"`
	URL             string   `gorm:"not null;size:2048" json:"url"`
	Title           string   `gorm:"size:512" json:"title,omitempty"`
	DurationSeconds *float64 `json:"duration,omitempty"`
}

// TableName returns the table name for QueueItem.
func (QueueItem) TableName() string {
	return "queue_items"
}

// Job converts the queue item into a VideoJob.
func (q *QueueItem) Job() VideoJob {
	return VideoJob{
		ID:              q.VideoID,
		URL:             q.URL,
		Title:           q.Title,
		DurationSeconds: q.DurationSeconds,
	}
}

// NewQueueItem builds a queue item from a job.
func NewQueueItem(job VideoJob) *QueueItem {
	return &QueueItem{
		VideoID:         job.ID,
		URL:             job.URL,
		Title:           job.Title,
		DurationSeconds: job.DurationSeconds,
	}
}
