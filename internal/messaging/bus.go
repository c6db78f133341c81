package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Bus errors.
var (
	ErrUnknownContext   = errors.New("unknown worker context")
	ErrDuplicateContext = errors.New("worker context already registered")
	ErrTaskInFlight     = errors.New("worker context already has a task in flight")
	ErrContextDestroyed = errors.New("worker context destroyed")
	ErrMailboxFull      = errors.New("worker context mailbox full")
	ErrTaskTimeout      = errors.New("task timed out")
)

// mailboxSize bounds queued fire-and-forget tasks per context.
const mailboxSize = 8

// Envelope is a task addressed to one context.
type Envelope struct {
	TaskID string
	Task   Task
}

type pendingTask struct {
	taskID string
	done   chan Outcome
}

type mailbox struct {
	inbox   chan Envelope
	pending *pendingTask
}

// Bus routes tasks to registered worker contexts and replies back to the
// waiting caller. Each context has exactly one pending response slot; the
// first completion or failure carrying the matching context and task id
// resolves it, and anything arriving later is dropped.
type Bus struct {
	mu        sync.Mutex
	mailboxes map[string]*mailbox
	onNotice  func(Notice)
	logger    *slog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		mailboxes: make(map[string]*mailbox),
		logger:    logger,
	}
}

// WithNoticeHandler sets the function notices are forwarded to.
func (b *Bus) WithNoticeHandler(fn func(Notice)) *Bus {
	b.mu.Lock()
	b.onNotice = fn
	b.mu.Unlock()
	return b
}

// Register creates a mailbox for contextID and returns the channel the
// context reads its tasks from. The channel is closed by Release.
func (b *Bus) Register(contextID string) (<-chan Envelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.mailboxes[contextID]; ok {
		return nil, ErrDuplicateContext
	}
	mb := &mailbox{inbox: make(chan Envelope, mailboxSize)}
	b.mailboxes[contextID] = mb
	return mb.inbox, nil
}

// Release removes the context's mailbox. A caller still waiting on the
// context is resolved with an error outcome rather than left to time out.
// Releasing an unknown context is a no-op.
func (b *Bus) Release(contextID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	mb, ok := b.mailboxes[contextID]
	if !ok {
		return
	}
	if mb.pending != nil {
		mb.pending.done <- errorOutcome(ErrContextDestroyed)
		mb.pending = nil
	}
	close(mb.inbox)
	delete(b.mailboxes, contextID)
}

// Registered reports whether contextID has a mailbox.
func (b *Bus) Registered(contextID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.mailboxes[contextID]
	return ok
}

// Pending reports whether contextID has an unresolved SendAndAwait.
func (b *Bus) Pending(contextID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	mb, ok := b.mailboxes[contextID]
	return ok && mb.pending != nil
}

// Send queues a task without waiting for its result.
func (b *Bus) Send(contextID string, task Task) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	mb, ok := b.mailboxes[contextID]
	if !ok {
		return "", ErrUnknownContext
	}
	env := Envelope{TaskID: newTaskID(), Task: task}
	if err := mb.enqueue(env); err != nil {
		return "", err
	}
	return env.TaskID, nil
}

// SendAndAwait sends task to the context and blocks until it replies, the
// timeout elapses, or ctx is cancelled. It never returns an error; failures
// are expressed in the outcome. On timeout the pending slot is cleared so a
// late reply is ignored.
func (b *Bus) SendAndAwait(ctx context.Context, contextID string, task Task, timeout time.Duration) Outcome {
	p, err := b.arm(contextID, task)
	if err != nil {
		return errorOutcome(err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-p.done:
		return out
	case <-timer.C:
		if b.disarm(contextID, p.taskID) {
			b.logger.Warn("task timed out, worker context may be hung",
				slog.String("context_id", contextID),
				slog.String("task_id", p.taskID),
				slog.String("task", task.String()),
				slog.Duration("timeout", timeout),
			)
			return Outcome{Status: StatusTimeout, Error: ErrTaskTimeout.Error()}
		}
		// Resolved between the timer firing and the disarm.
		return <-p.done
	case <-ctx.Done():
		if b.disarm(contextID, p.taskID) {
			return errorOutcome(ctx.Err())
		}
		return <-p.done
	}
}

func (b *Bus) arm(contextID string, task Task) (*pendingTask, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	mb, ok := b.mailboxes[contextID]
	if !ok {
		return nil, ErrUnknownContext
	}
	if mb.pending != nil {
		return nil, ErrTaskInFlight
	}
	p := &pendingTask{taskID: newTaskID(), done: make(chan Outcome, 1)}
	if err := mb.enqueue(Envelope{TaskID: p.taskID, Task: task}); err != nil {
		return nil, err
	}
	mb.pending = p
	return p, nil
}

// disarm clears the pending slot if it still belongs to taskID. It returns
// false when the slot was already resolved.
func (b *Bus) disarm(contextID, taskID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	mb, ok := b.mailboxes[contextID]
	if !ok || mb.pending == nil || mb.pending.taskID != taskID {
		return false
	}
	mb.pending = nil
	return true
}

// Deliver routes a message from a context. It reports whether a completion
// or failure resolved a pending task; notices always return false.
func (b *Bus) Deliver(msg Message) bool {
	switch m := msg.(type) {
	case TaskCompleted:
		return b.resolve(m.ContextID, m.TaskID, Outcome{Status: StatusSuccess, Payload: m.Payload})
	case TaskFailed:
		return b.resolve(m.ContextID, m.TaskID, Outcome{Status: StatusError, Error: m.Error})
	case Notice:
		b.mu.Lock()
		fn := b.onNotice
		b.mu.Unlock()
		if fn != nil {
			if m.At.IsZero() {
				m.At = time.Now()
			}
			fn(m)
		}
	}
	return false
}

func (b *Bus) resolve(contextID, taskID string, out Outcome) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	mb, ok := b.mailboxes[contextID]
	if !ok || mb.pending == nil || mb.pending.taskID != taskID {
		b.logger.Debug("dropping reply with no pending task",
			slog.String("context_id", contextID),
			slog.String("task_id", taskID),
			slog.String("status", string(out.Status)),
		)
		return false
	}
	mb.pending.done <- out
	mb.pending = nil
	return true
}

func (mb *mailbox) enqueue(env Envelope) error {
	select {
	case mb.inbox <- env:
		return nil
	default:
		return ErrMailboxFull
	}
}

func newTaskID() string {
	return ulid.Make().String()
}
