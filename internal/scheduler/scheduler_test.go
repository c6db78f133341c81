package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vidsift/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScheduler() *Scheduler {
	return NewScheduler().WithLogger(testLogger())
}

func TestScheduler_AddValidatesSchedule(t *testing.T) {
	s := newTestScheduler()

	err := s.Add("bad", "not a cron", func(context.Context) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression for bad")

	require.NoError(t, s.Add("ok", "*/5 * * * *", func(context.Context) error { return nil }))
	err = s.Add("ok", "@hourly", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrDuplicateJob)
}

func TestScheduler_RunNow(t *testing.T) {
	s := newTestScheduler()
	var calls atomic.Int32
	boom := errors.New("boom")

	require.NoError(t, s.Add("counter", "@daily", func(context.Context) error {
		calls.Add(1)
		return nil
	}))
	require.NoError(t, s.Add("failing", "@daily", func(context.Context) error {
		return boom
	}))

	require.NoError(t, s.RunNow(context.Background(), "counter"))
	require.NoError(t, s.RunNow(context.Background(), "counter"))
	assert.Equal(t, int32(2), calls.Load())

	assert.ErrorIs(t, s.RunNow(context.Background(), "failing"), boom)
	assert.ErrorIs(t, s.RunNow(context.Background(), "missing"), ErrUnknownJob)
}

func TestScheduler_StartStop(t *testing.T) {
	s := newTestScheduler()
	require.NoError(t, s.Add("tick", "@every 1s", func(context.Context) error { return nil }))

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	assert.ErrorIs(t, s.Start(ctx), ErrAlreadyStarted)

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "tick", entries[0].Name)
	assert.Equal(t, "@every 1s", entries[0].Schedule)
	assert.False(t, entries[0].Next.IsZero())

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	s.Stop(stopCtx)

	// Stopping twice is harmless.
	s.Stop(stopCtx)
}

func TestScheduler_RunsOnSchedule(t *testing.T) {
	s := newTestScheduler()
	ran := make(chan struct{}, 1)
	require.NoError(t, s.Add("tick", "@every 1s", func(ctx context.Context) error {
		assert.NoError(t, ctx.Err())
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}))

	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Stop(context.Background()) })

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}
}

func TestScheduler_Entries_Sorted(t *testing.T) {
	s := newTestScheduler()
	require.NoError(t, s.Add("b", "@hourly", func(context.Context) error { return nil }))
	require.NoError(t, s.Add("a", "@daily", func(context.Context) error { return nil }))

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Name)
	assert.Equal(t, "b", entries[1].Name)
}

func TestScheduler_ParseCron(t *testing.T) {
	s := newTestScheduler()

	next, err := s.ParseCron("*/10 * * * *")
	require.NoError(t, err)
	assert.True(t, next.After(time.Now()))
	assert.Equal(t, 0, next.Minute()%10)

	_, err = s.ParseCron("61 * * * *")
	assert.Error(t, err)

	assert.NoError(t, s.ValidateCron("0 3 * * 1"))
	assert.Error(t, s.ValidateCron("* * *"))
}

type fakeResetter struct {
	cleared bool
	err     error
	calls   int
}

func (f *fakeResetter) ResetStale(context.Context) (bool, error) {
	f.calls++
	return f.cleared, f.err
}

type fakeProvider struct {
	needsRefresh bool
	refreshes    int
}

func (p *fakeProvider) Token(context.Context) (string, error) { return "token", nil }

func (p *fakeProvider) Refresh(context.Context) (string, error) {
	p.refreshes++
	return "token", nil
}

func (p *fakeProvider) NeedsRefresh() bool { return p.needsRefresh }

func TestStaleSweepJob(t *testing.T) {
	r := &fakeResetter{cleared: true}
	require.NoError(t, StaleSweepJob(r, testLogger())(context.Background()))
	assert.Equal(t, 1, r.calls)

	r.err = errors.New("db locked")
	err := StaleSweepJob(r, testLogger())(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sweeping stale run state")
}

func TestTokenRefreshJob(t *testing.T) {
	p := &fakeProvider{}
	job := TokenRefreshJob(p, testLogger())

	require.NoError(t, job(context.Background()))
	assert.Equal(t, 0, p.refreshes)

	p.needsRefresh = true
	require.NoError(t, job(context.Background()))
	assert.Equal(t, 1, p.refreshes)
}

func TestRegisterMaintenance(t *testing.T) {
	cfg := config.SchedulerConfig{
		Enabled:      true,
		TokenRefresh: "*/10 * * * *",
		StaleSweep:   "*/15 * * * *",
	}

	t.Run("both jobs", func(t *testing.T) {
		s := newTestScheduler()
		require.NoError(t, RegisterMaintenance(s, cfg, &fakeProvider{}, &fakeResetter{}, testLogger()))
		entries := s.Entries()
		require.Len(t, entries, 2)
		assert.Equal(t, JobStaleSweep, entries[0].Name)
		assert.Equal(t, JobTokenRefresh, entries[1].Name)
	})

	t.Run("no provider", func(t *testing.T) {
		s := newTestScheduler()
		require.NoError(t, RegisterMaintenance(s, cfg, nil, &fakeResetter{}, testLogger()))
		require.Len(t, s.Entries(), 1)
	})

	t.Run("invalid schedule", func(t *testing.T) {
		s := newTestScheduler()
		bad := cfg
		bad.StaleSweep = "whenever"
		assert.Error(t, RegisterMaintenance(s, bad, nil, &fakeResetter{}, testLogger()))
	})
}
