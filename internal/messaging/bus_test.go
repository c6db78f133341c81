package messaging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vidsift/internal/segment"
)

func newTestBus() *Bus {
	return NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// replyWith runs an agent for contextID that answers every task using fn.
func replyWith(t *testing.T, b *Bus, contextID string, fn func(Envelope) Message) {
	t.Helper()
	inbox, err := b.Register(contextID)
	require.NoError(t, err)
	go func() {
		for env := range inbox {
			if msg := fn(env); msg != nil {
				b.Deliver(msg)
			}
		}
	}()
}

func segTask() ProcessSegment {
	end := 2700.0
	return ProcessSegment{VideoID: "v1", URL: "https://x.test/v1", Segment: segment.Segment{Index: 0, End: &end}}
}

func TestSendAndAwait_Success(t *testing.T) {
	b := newTestBus()
	replyWith(t, b, "ctx-1", func(env Envelope) Message {
		return TaskCompleted{ContextID: "ctx-1", TaskID: env.TaskID, Payload: Payload{Text: "report"}}
	})

	out := b.SendAndAwait(context.Background(), "ctx-1", segTask(), time.Second)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, "report", out.Payload.Text)
	assert.NoError(t, out.Err())
	assert.False(t, b.Pending("ctx-1"))
}

func TestSendAndAwait_Error(t *testing.T) {
	b := newTestBus()
	replyWith(t, b, "ctx-1", func(env Envelope) Message {
		return TaskFailed{ContextID: "ctx-1", TaskID: env.TaskID, Error: "page crashed"}
	})

	out := b.SendAndAwait(context.Background(), "ctx-1", segTask(), time.Second)
	assert.Equal(t, StatusError, out.Status)
	assert.EqualError(t, out.Err(), "page crashed")
}

func TestSendAndAwait_TimeoutIgnoresLateReply(t *testing.T) {
	b := newTestBus()
	late := make(chan Envelope, 1)
	inbox, err := b.Register("ctx-1")
	require.NoError(t, err)
	go func() {
		late <- <-inbox
	}()

	out := b.SendAndAwait(context.Background(), "ctx-1", segTask(), 20*time.Millisecond)
	assert.Equal(t, StatusTimeout, out.Status)
	assert.ErrorIs(t, out.Err(), ErrTaskTimeout)
	assert.False(t, b.Pending("ctx-1"))

	env := <-late
	resolved := b.Deliver(TaskCompleted{ContextID: "ctx-1", TaskID: env.TaskID, Payload: Payload{Text: "too late"}})
	assert.False(t, resolved)
}

func TestSendAndAwait_MismatchedTaskIgnored(t *testing.T) {
	b := newTestBus()
	replyWith(t, b, "ctx-1", func(env Envelope) Message {
		// A stale reply for another task arrives first, then the real one.
		b.Deliver(TaskCompleted{ContextID: "ctx-1", TaskID: "other", Payload: Payload{Text: "stale"}})
		return TaskCompleted{ContextID: "ctx-1", TaskID: env.TaskID, Payload: Payload{Text: "fresh"}}
	})

	out := b.SendAndAwait(context.Background(), "ctx-1", segTask(), time.Second)
	assert.Equal(t, "fresh", out.Payload.Text)
}

func TestSendAndAwait_RepliesRoutedPerContext(t *testing.T) {
	b := newTestBus()
	for _, id := range []string{"a", "b"} {
		id := id
		replyWith(t, b, id, func(env Envelope) Message {
			return TaskCompleted{ContextID: id, TaskID: env.TaskID, Payload: Payload{Text: "from " + id}}
		})
	}

	var wg sync.WaitGroup
	results := make(map[string]string)
	var mu sync.Mutex
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			out := b.SendAndAwait(context.Background(), id, segTask(), time.Second)
			mu.Lock()
			results[id] = out.Payload.Text
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	assert.Equal(t, map[string]string{"a": "from a", "b": "from b"}, results)
}

func TestSendAndAwait_UnknownContext(t *testing.T) {
	b := newTestBus()
	out := b.SendAndAwait(context.Background(), "nope", segTask(), time.Second)
	assert.Equal(t, StatusError, out.Status)
	assert.Equal(t, ErrUnknownContext.Error(), out.Error)
}

func TestSendAndAwait_RejectsSecondTask(t *testing.T) {
	b := newTestBus()
	_, err := b.Register("ctx-1")
	require.NoError(t, err)

	done := make(chan Outcome, 1)
	go func() {
		done <- b.SendAndAwait(context.Background(), "ctx-1", segTask(), time.Second)
	}()
	require.Eventually(t, func() bool { return b.Pending("ctx-1") }, time.Second, time.Millisecond)

	out := b.SendAndAwait(context.Background(), "ctx-1", segTask(), time.Second)
	assert.Equal(t, ErrTaskInFlight.Error(), out.Error)

	b.Release("ctx-1")
	first := <-done
	assert.Equal(t, StatusError, first.Status)
	assert.Equal(t, ErrContextDestroyed.Error(), first.Error)
}

func TestSendAndAwait_ContextCancelled(t *testing.T) {
	b := newTestBus()
	_, err := b.Register("ctx-1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	out := b.SendAndAwait(ctx, "ctx-1", segTask(), time.Minute)
	assert.Equal(t, StatusError, out.Status)
	assert.False(t, b.Pending("ctx-1"))
}

func TestRelease(t *testing.T) {
	b := newTestBus()
	inbox, err := b.Register("ctx-1")
	require.NoError(t, err)
	assert.True(t, b.Registered("ctx-1"))

	_, err = b.Register("ctx-1")
	assert.ErrorIs(t, err, ErrDuplicateContext)

	b.Release("ctx-1")
	assert.False(t, b.Registered("ctx-1"))
	_, open := <-inbox
	assert.False(t, open)

	// Idempotent.
	b.Release("ctx-1")
}

func TestSend_FireAndForget(t *testing.T) {
	b := newTestBus()
	inbox, err := b.Register("ctx-1")
	require.NoError(t, err)

	id, err := b.Send("ctx-1", MeasureDuration{URL: "https://x.test"})
	require.NoError(t, err)
	env := <-inbox
	assert.Equal(t, id, env.TaskID)
	assert.Equal(t, KindMeasureDuration, env.Task.Kind())

	// A reply to a fire-and-forget task resolves nothing.
	assert.False(t, b.Deliver(TaskCompleted{ContextID: "ctx-1", TaskID: id}))

	_, err = b.Send("missing", MeasureDuration{})
	assert.ErrorIs(t, err, ErrUnknownContext)

	for i := 0; i < mailboxSize; i++ {
		_, err = b.Send("ctx-1", MeasureDuration{})
		require.NoError(t, err)
	}
	_, err = b.Send("ctx-1", MeasureDuration{})
	assert.ErrorIs(t, err, ErrMailboxFull)
}

func TestDeliver_Notice(t *testing.T) {
	b := newTestBus()
	var got []Notice
	b.WithNoticeHandler(func(n Notice) { got = append(got, n) })

	assert.False(t, b.Deliver(Notice{ContextID: "c", Kind: NoticeLog, Text: "loading page"}))
	require.Len(t, got, 1)
	assert.Equal(t, "loading page", got[0].Text)
	assert.False(t, got[0].At.IsZero())
}

type fakeExecutor struct {
	duration float64
	text     string
	err      error
}

func (f fakeExecutor) MeasureDuration(context.Context, MeasureDuration) (float64, error) {
	return f.duration, f.err
}

func (f fakeExecutor) ProcessSegment(_ context.Context, task ProcessSegment) (string, error) {
	return f.text + " " + task.VideoID, f.err
}

func TestTaskDispatch(t *testing.T) {
	exec := fakeExecutor{duration: 5400, text: "analysed"}

	p, err := MeasureDuration{URL: "u"}.Dispatch(context.Background(), exec)
	require.NoError(t, err)
	assert.Equal(t, 5400.0, p.DurationSeconds)

	p, err = segTask().Dispatch(context.Background(), exec)
	require.NoError(t, err)
	assert.Equal(t, "analysed v1", p.Text)

	_, err = segTask().Dispatch(context.Background(), fakeExecutor{err: errors.New("x")})
	assert.Error(t, err)

	assert.Equal(t, "process_segment(v1 #0)", segTask().String())
	assert.Equal(t, "measure_duration(u)", MeasureDuration{URL: "u"}.String())
}

func TestNotify(t *testing.T) {
	var got []string
	ctx := WithNotifier(context.Background(), func(kind NoticeKind, text string) {
		got = append(got, string(kind)+":"+text)
	})
	Notify(ctx, NoticeStatus, "ready")
	Notify(context.Background(), NoticeStatus, "dropped")
	assert.Equal(t, []string{"status:ready"}, got)
}
