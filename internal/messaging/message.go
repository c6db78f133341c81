package messaging

import (
	"context"
	"errors"
	"time"
)

// Message is the closed set of things a worker context sends back.
type Message interface {
	Source() string
	message()
}

// TaskCompleted reports a successful task.
type TaskCompleted struct {
	ContextID string
	TaskID    string
	Payload   Payload
}

// TaskFailed reports a task that ran and failed.
type TaskFailed struct {
	ContextID string
	TaskID    string
	Error     string
}

// NoticeKind classifies informational messages from a context.
type NoticeKind string

const (
	NoticeLog      NoticeKind = "log"
	NoticeStatus   NoticeKind = "status"
	NoticeProgress NoticeKind = "progress"
)

// Notice is an informational line from a context, relayed to observers.
type Notice struct {
	ContextID string
	Kind      NoticeKind
	Text      string
	At        time.Time
}

func (m TaskCompleted) Source() string { return m.ContextID }
func (m TaskFailed) Source() string    { return m.ContextID }
func (m Notice) Source() string        { return m.ContextID }
func (TaskCompleted) message()         {}
func (TaskFailed) message()            {}
func (Notice) message()                {}

// OutcomeStatus is how a task ended from the caller's point of view.
type OutcomeStatus string

const (
	StatusSuccess OutcomeStatus = "success"
	StatusError   OutcomeStatus = "error"
	StatusTimeout OutcomeStatus = "timeout"
)

// Outcome is the result of SendAndAwait.
type Outcome struct {
	Status  OutcomeStatus `json:"status"`
	Payload Payload       `json:"payload"`
	Error   string        `json:"error,omitempty"`
}

// Err converts a non-success outcome into an error. Timeouts wrap
// ErrTaskTimeout.
func (o Outcome) Err() error {
	switch o.Status {
	case StatusSuccess:
		return nil
	case StatusTimeout:
		return ErrTaskTimeout
	default:
		if o.Error == "" {
			return errors.New("task failed")
		}
		return &TaskError{Message: o.Error}
	}
}

// TaskError is a failure reported by a worker context.
type TaskError struct {
	Message string
}

func (e *TaskError) Error() string { return e.Message }

func errorOutcome(err error) Outcome {
	return Outcome{Status: StatusError, Error: err.Error()}
}

type notifierKey struct{}

// Notifier receives notices raised while a task runs.
type Notifier func(kind NoticeKind, text string)

// WithNotifier attaches a notifier to ctx for executors to report through.
func WithNotifier(ctx context.Context, n Notifier) context.Context {
	return context.WithValue(ctx, notifierKey{}, n)
}

// Notify sends a notice through the notifier attached to ctx, if any.
func Notify(ctx context.Context, kind NoticeKind, text string) {
	if n, ok := ctx.Value(notifierKey{}).(Notifier); ok && n != nil {
		n(kind, text)
	}
}
