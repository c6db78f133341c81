package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vidsift/internal/database"
	"github.com/jmylchreest/vidsift/internal/models"
	"github.com/jmylchreest/vidsift/internal/orchestrator"
	"github.com/jmylchreest/vidsift/internal/scheduler"
	"github.com/jmylchreest/vidsift/pkg/httpclient"
)

type fakeDB struct {
	pingErr error
	delay   time.Duration
}

func (f fakeDB) Ping(context.Context) error {
	time.Sleep(f.delay)
	return f.pingErr
}

func (f fakeDB) Stats() (database.PoolStats, error) {
	return database.PoolStats{MaxOpenConnections: 1, OpenConnections: 1, Idle: 1}, nil
}

type fakeStatus struct{ status orchestrator.Status }

func (f fakeStatus) Status() orchestrator.Status { return f.status }

type fakeEntries []scheduler.Entry

func (f fakeEntries) Entries() []scheduler.Entry { return f }

func TestHealthHandler_GetLivez(t *testing.T) {
	output, err := NewHealthHandler("1.0.0").GetLivez(context.Background(), &LivezInput{})
	require.NoError(t, err)
	assert.Equal(t, "ok", output.Body.Status)
}

func TestHealthHandler_GetReadyz(t *testing.T) {
	t.Run("not ready without database", func(t *testing.T) {
		output, err := NewHealthHandler("1.0.0").GetReadyz(context.Background(), &ReadyzInput{})
		require.NoError(t, err)
		assert.Equal(t, "not_ready", output.Body.Status)
		assert.Equal(t, "not_configured", output.Body.Components["database"])
		assert.Equal(t, "disabled", output.Body.Components["scheduler"])
	})

	t.Run("ready when database answers", func(t *testing.T) {
		h := NewHealthHandler("1.0.0").WithDB(fakeDB{})
		output, err := h.GetReadyz(context.Background(), &ReadyzInput{})
		require.NoError(t, err)
		assert.Equal(t, "ready", output.Body.Status)
		assert.Equal(t, "ok", output.Body.Components["database"])
	})

	t.Run("not ready when ping fails", func(t *testing.T) {
		h := NewHealthHandler("1.0.0").WithDB(fakeDB{pingErr: errors.New("connection refused")})
		output, err := h.GetReadyz(context.Background(), &ReadyzInput{})
		require.NoError(t, err)
		assert.Equal(t, "not_ready", output.Body.Status)
		assert.Equal(t, "error", output.Body.Components["database"])
	})
}

func TestHealthHandler_GetHealth(t *testing.T) {
	t.Run("reports every component", func(t *testing.T) {
		registry := httpclient.NewRegistry()
		registry.Register("worker-api", httpclient.NewWithDefaults())

		h := NewHealthHandler("1.0.0").
			WithDB(fakeDB{}).
			WithBreakers(registry).
			WithAutomation(fakeStatus{orchestrator.Status{
				RunID:      "run-1",
				Phase:      models.RunPhaseRunning,
				TotalCount: 4,
				Summary:    orchestrator.Summary{VideosCompleted: 2},
			}}).
			WithScheduler(fakeEntries{{Name: scheduler.JobStaleSweep, Schedule: "*/15 * * * *"}})

		output, err := h.GetHealth(context.Background(), &HealthInput{})
		require.NoError(t, err)

		body := output.Body
		assert.Equal(t, "healthy", body.Status)
		assert.Equal(t, "1.0.0", body.Version)
		assert.NotEmpty(t, body.Uptime)
		assert.Positive(t, body.CPUInfo.Cores)

		assert.Equal(t, "ok", body.Components.Database.Status)
		require.NotNil(t, body.Components.Database.Pool)
		assert.Equal(t, 1, body.Components.Database.Pool.MaxOpenConnections)

		assert.Equal(t, "running", body.Components.Automation.Phase)
		assert.Equal(t, 2, body.Components.Automation.Completed)
		assert.Equal(t, 4, body.Components.Automation.Total)

		require.Len(t, body.Components.Scheduler.Jobs, 1)
		assert.Equal(t, scheduler.JobStaleSweep, body.Components.Scheduler.Jobs[0].Name)

		require.Len(t, body.Components.CircuitBreakers, 1)
		assert.Equal(t, "worker-api", body.Components.CircuitBreakers[0].Name)
		assert.Equal(t, httpclient.CircuitClosed, body.Components.CircuitBreakers[0].State)
	})

	t.Run("degraded when database fails", func(t *testing.T) {
		h := NewHealthHandler("1.0.0").WithDB(fakeDB{pingErr: errors.New("gone")})
		output, err := h.GetHealth(context.Background(), &HealthInput{})
		require.NoError(t, err)
		assert.Equal(t, "degraded", output.Body.Status)
		assert.Equal(t, "error", output.Body.Checks["database"])
	})

	t.Run("slow database", func(t *testing.T) {
		h := NewHealthHandler("1.0.0").WithDB(fakeDB{delay: slowDatabaseThreshold + 20*time.Millisecond})
		output, err := h.GetHealth(context.Background(), &HealthInput{})
		require.NoError(t, err)
		assert.Equal(t, "slow", output.Body.Components.Database.ResponseTimeStatus)
		assert.Equal(t, "healthy", output.Body.Status)
	})

	t.Run("external job store", func(t *testing.T) {
		h := NewHealthHandler("1.0.0").WithDB(fakeDB{}).WithJobStore(fakeDB{})
		output, err := h.GetHealth(context.Background(), &HealthInput{})
		require.NoError(t, err)
		require.NotNil(t, output.Body.Components.JobStore)
		assert.Equal(t, "ok", output.Body.Checks["job_store"])
		assert.Equal(t, "healthy", output.Body.Status)

		h.WithJobStore(fakeDB{pingErr: errors.New("redis down")})
		output, err = h.GetHealth(context.Background(), &HealthInput{})
		require.NoError(t, err)
		assert.Equal(t, "error", output.Body.Components.JobStore.Status)
		assert.Equal(t, "degraded", output.Body.Status)

		ready, err := h.GetReadyz(context.Background(), &ReadyzInput{})
		require.NoError(t, err)
		assert.Equal(t, "not_ready", ready.Body.Status)
		assert.Equal(t, "error", ready.Body.Components["job_store"])
	})

	t.Run("unconfigured components", func(t *testing.T) {
		output, err := NewHealthHandler("1.0.0").GetHealth(context.Background(), &HealthInput{})
		require.NoError(t, err)
		assert.Nil(t, output.Body.Components.JobStore)
		assert.Equal(t, "unknown", output.Body.Components.Database.Status)
		assert.Equal(t, "not_configured", output.Body.Components.Automation.Status)
		assert.NotNil(t, output.Body.Components.CircuitBreakers)
	})
}
