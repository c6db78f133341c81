// Package messaging carries tasks to worker contexts and routes their
// replies back to whoever is waiting on them.
package messaging

import (
	"context"
	"fmt"

	"github.com/jmylchreest/vidsift/internal/segment"
)

// TaskKind names a task variant on the wire and in logs.
type TaskKind string

const (
	KindMeasureDuration TaskKind = "measure_duration"
	KindProcessSegment  TaskKind = "process_segment"
)

// Payload is the result data of a successful task.
type Payload struct {
	// Text is the report produced by a ProcessSegment task.
	Text string `json:"text,omitempty"`
	// DurationSeconds is the length found by a MeasureDuration task.
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// TaskExecutor runs tasks inside a worker context. It has one method per
// task variant, so adding a variant breaks every executor until it handles it.
type TaskExecutor interface {
	MeasureDuration(ctx context.Context, task MeasureDuration) (float64, error)
	ProcessSegment(ctx context.Context, task ProcessSegment) (string, error)
}

// Task is the closed set of work items a worker context accepts.
type Task interface {
	Kind() TaskKind
	// Dispatch runs the task on exec and wraps the result.
	Dispatch(ctx context.Context, exec TaskExecutor) (Payload, error)
	fmt.Stringer
	sealed()
}

// MeasureDuration asks the context to load a video page and report its length.
type MeasureDuration struct {
	URL string `json:"url"`
}

func (MeasureDuration) Kind() TaskKind { return KindMeasureDuration }
func (MeasureDuration) sealed()        {}

func (t MeasureDuration) String() string {
	return fmt.Sprintf("%s(%s)", KindMeasureDuration, t.URL)
}

// Dispatch implements Task.
func (t MeasureDuration) Dispatch(ctx context.Context, exec TaskExecutor) (Payload, error) {
	secs, err := exec.MeasureDuration(ctx, t)
	if err != nil {
		return Payload{}, err
	}
	return Payload{DurationSeconds: secs}, nil
}

// ProcessSegment asks the context to analyse one segment of a video.
type ProcessSegment struct {
	VideoID string          `json:"video_id"`
	URL     string          `json:"url"`
	Title   string          `json:"title,omitempty"`
	Segment segment.Segment `json:"segment"`
}

func (ProcessSegment) Kind() TaskKind { return KindProcessSegment }
func (ProcessSegment) sealed()        {}

func (t ProcessSegment) String() string {
	return fmt.Sprintf("%s(%s #%d)", KindProcessSegment, t.VideoID, t.Segment.Index)
}

// Dispatch implements Task.
func (t ProcessSegment) Dispatch(ctx context.Context, exec TaskExecutor) (Payload, error) {
	text, err := exec.ProcessSegment(ctx, t)
	if err != nil {
		return Payload{}, err
	}
	return Payload{Text: text}, nil
}

var (
	_ Task = MeasureDuration{}
	_ Task = ProcessSegment{}
)
