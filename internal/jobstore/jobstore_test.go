package jobstore

import (
	"context"
	"os"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/vidsift/internal/models"
)

func setupSQLStore(t *testing.T) Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.QueueItem{}, &models.RunState{}, &models.VideoOutcome{}))
	return NewSQLStoreFromDB(db)
}

func job(id string) models.VideoJob {
	return models.VideoJob{ID: id, URL: "https://youtu.be/" + id}
}

// setupRedisStore returns nil unless VIDSIFT_TEST_REDIS_ADDR names a server
// the test may write to. Each test gets its own key prefix.
func setupRedisStore(t *testing.T) Store {
	t.Helper()
	addr := os.Getenv("VIDSIFT_TEST_REDIS_ADDR")
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())

	prefix := "vidsift-test:" + models.NewULID().String() + ":"
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := client.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		client.Close()
	})
	return NewRedisStore(client, prefix)
}

// All implementations must behave the same way.
func stores(t *testing.T) map[string]Store {
	all := map[string]Store{
		"sql":    setupSQLStore(t),
		"memory": NewMemory(),
	}
	if rs := setupRedisStore(t); rs != nil {
		all["redis"] = rs
	}
	return all
}

func TestStore_RunState(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			state, err := store.LoadRunState(ctx)
			require.NoError(t, err)
			assert.Nil(t, state)

			s := &models.RunState{
				RunID:     models.NewULID(),
				Phase:     models.RunPhaseRunning,
				IsRunning: true,
				Queue:     []models.VideoJob{job("a")},
			}
			s.Touch()
			require.NoError(t, store.SaveRunState(ctx, s))
			// Idempotent: the same write twice is the same state.
			require.NoError(t, store.SaveRunState(ctx, s))

			loaded, err := store.LoadRunState(ctx)
			require.NoError(t, err)
			require.NotNil(t, loaded)
			assert.Equal(t, s.RunID, loaded.RunID)
			assert.True(t, loaded.IsRunning)
			require.Len(t, loaded.Queue, 1)

			require.NoError(t, store.ClearRunState(ctx))
			loaded, err = store.LoadRunState(ctx)
			require.NoError(t, err)
			assert.Nil(t, loaded)
		})
	}
}

func TestStore_Queue(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, store.Enqueue(ctx, []models.VideoJob{job("a"), job("b")}))
			require.NoError(t, store.Enqueue(ctx, []models.VideoJob{job("c")}))
			assert.ErrorIs(t, store.Enqueue(ctx, []models.VideoJob{job("a")}), models.ErrDuplicateVideo)

			q, err := store.Queue(ctx)
			require.NoError(t, err)
			require.Len(t, q, 3)
			assert.Equal(t, "a", q[0].ID)
			assert.Equal(t, "c", q[2].ID)

			removed, err := store.Dequeue(ctx, "b")
			require.NoError(t, err)
			assert.True(t, removed)
			removed, err = store.Dequeue(ctx, "zzz")
			require.NoError(t, err)
			assert.False(t, removed)

			n, err := store.ClearQueue(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)
		})
	}
}

func TestStore_Outcomes(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			runID := models.NewULID()

			o := models.NewVideoOutcome(runID, job("a"))
			require.NoError(t, store.RecordOutcome(ctx, o))
			o.MarkFailed(assert.AnError)
			require.NoError(t, store.RecordOutcome(ctx, o))
			require.NoError(t, store.RecordOutcome(ctx, models.NewVideoOutcome(models.NewULID(), job("b"))))

			outcomes, err := store.Outcomes(ctx, runID)
			require.NoError(t, err)
			require.Len(t, outcomes, 1)
			assert.Equal(t, models.VideoStatusFailed, outcomes[0].Status)
			assert.Equal(t, assert.AnError.Error(), outcomes[0].LastError)
		})
	}
}

func TestMemory_SaveIsolatesCaller(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	s := &models.RunState{Queue: []models.VideoJob{job("a")}}
	require.NoError(t, m.SaveRunState(ctx, s))
	s.Queue[0].ID = "mutated"

	loaded, err := m.LoadRunState(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", loaded.Queue[0].ID)
	assert.Equal(t, 1, m.Saves())
}

func TestNewRedisStore_Prefix(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	assert.Equal(t, "vidsift:run", NewRedisStore(client, "").key("run"))
	assert.Equal(t, "app:queue:jobs", NewRedisStore(client, "app").key("queue", "jobs"))
	assert.Equal(t, "app:outcomes:x", NewRedisStore(client, "app:").key("outcomes", "x"))
}
