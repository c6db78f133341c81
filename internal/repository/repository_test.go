package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/vidsift/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.QueueItem{}, &models.RunState{}, &models.VideoOutcome{}, &models.Report{})
	require.NoError(t, err)

	return db
}

func job(id string) models.VideoJob {
	return models.VideoJob{ID: id, URL: "https://youtu.be/" + id, Title: "Video " + id}
}

func TestRunStateRepo_SaveGetClear(t *testing.T) {
	repo := NewRunStateRepository(setupTestDB(t))
	ctx := context.Background()

	state, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, state)

	runID := models.NewULID()
	s := &models.RunState{
		RunID:      runID,
		Phase:      models.RunPhaseRunning,
		IsRunning:  true,
		Queue:      []models.VideoJob{job("a"), job("b")},
		TotalCount: 2,
	}
	s.Touch()
	require.NoError(t, repo.Save(ctx, s))

	// Saving again updates the same row.
	s.CurrentVideoIndex = 1
	s.IsPaused = true
	s.Phase = models.RunPhasePaused
	require.NoError(t, repo.Save(ctx, s))

	loaded, err := repo.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, runID, loaded.RunID)
	assert.Equal(t, 1, loaded.CurrentVideoIndex)
	assert.True(t, loaded.IsPaused)
	assert.Equal(t, models.RunPhasePaused, loaded.Phase)
	require.Len(t, loaded.Queue, 2)
	assert.Equal(t, "b", loaded.Queue[1].ID)

	require.NoError(t, repo.Clear(ctx))
	loaded, err = repo.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	// Clearing twice is fine.
	require.NoError(t, repo.Clear(ctx))
}

func TestQueueRepo_AddAndList(t *testing.T) {
	repo := NewQueueRepository(setupTestDB(t))
	ctx := context.Background()

	items, err := repo.Add(ctx, []models.VideoJob{job("a"), job("b")})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(0), items[0].Position)
	assert.Equal(t, int64(1), items[1].Position)

	_, err = repo.Add(ctx, []models.VideoJob{job("c")})
	require.NoError(t, err)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].VideoID, all[1].VideoID, all[2].VideoID})
	assert.Equal(t, "https://youtu.be/c", all[2].Job().URL)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestQueueRepo_AddRejectsDuplicates(t *testing.T) {
	repo := NewQueueRepository(setupTestDB(t))
	ctx := context.Background()

	_, err := repo.Add(ctx, []models.VideoJob{job("a")})
	require.NoError(t, err)

	_, err = repo.Add(ctx, []models.VideoJob{job("b"), job("a")})
	assert.ErrorIs(t, err, models.ErrDuplicateVideo)

	_, err = repo.Add(ctx, []models.VideoJob{job("x"), job("x")})
	assert.ErrorIs(t, err, models.ErrDuplicateVideo)

	_, err = repo.Add(ctx, []models.VideoJob{{ID: "bad"}})
	assert.ErrorIs(t, err, models.ErrURLRequired)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "failed adds must not leave partial items")
}

func TestQueueRepo_RemoveAndClear(t *testing.T) {
	repo := NewQueueRepository(setupTestDB(t))
	ctx := context.Background()

	_, err := repo.Add(ctx, []models.VideoJob{job("a"), job("b"), job("c")})
	require.NoError(t, err)

	removed, err := repo.Remove(ctx, "b")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = repo.Remove(ctx, "b")
	require.NoError(t, err)
	assert.False(t, removed)

	item, err := repo.GetByVideoID(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, item)

	// A removed id can be queued again and goes to the end.
	items, err := repo.Add(ctx, []models.VideoJob{job("b")})
	require.NoError(t, err)
	assert.Equal(t, int64(3), items[0].Position)

	n, err := repo.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestOutcomeRepo(t *testing.T) {
	repo := NewOutcomeRepository(setupTestDB(t))
	ctx := context.Background()

	runID := models.NewULID()
	first := models.NewVideoOutcome(runID, job("a"))
	require.NoError(t, repo.Save(ctx, first))
	second := models.NewVideoOutcome(runID, job("b"))
	require.NoError(t, repo.Save(ctx, second))
	other := models.NewVideoOutcome(models.NewULID(), job("c"))
	require.NoError(t, repo.Save(ctx, other))

	first.SegmentsTotal = 2
	first.SegmentsSucceeded = 2
	first.MarkCompleted()
	require.NoError(t, repo.Save(ctx, first))

	outcomes, err := repo.GetByRunID(ctx, runID)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, "a", outcomes[0].VideoID)
	assert.Equal(t, models.VideoStatusCompleted, outcomes[0].Status)
	assert.Equal(t, 2, outcomes[0].SegmentsSucceeded)
	assert.Equal(t, models.VideoStatusRunning, outcomes[1].Status)

	recent, err := repo.GetRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].VideoID)

	n, err := repo.DeleteOlderThan(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestReportRepo(t *testing.T) {
	repo := NewReportRepository(setupTestDB(t))
	ctx := context.Background()

	runID := models.NewULID()
	for i := range 3 {
		require.NoError(t, repo.Create(ctx, &models.Report{RunID: runID, VideoID: "a", SegmentIndex: i, Content: "text"}))
	}
	require.NoError(t, repo.Create(ctx, &models.Report{VideoID: "b", Content: "text"}))

	err := repo.Create(ctx, &models.Report{VideoID: "b"})
	assert.Error(t, err)

	all, total, err := repo.List(ctx, ReportFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	assert.Len(t, all, 4)
	assert.Equal(t, "b", all[0].VideoID)

	page, total, err := repo.List(ctx, ReportFilter{VideoID: "a", Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, page, 2)
	assert.Equal(t, 1, page[0].SegmentIndex)

	byRun, total, err := repo.List(ctx, ReportFilter{RunID: runID})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, byRun, 3)

	found, err := repo.GetByID(ctx, page[0].ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "a", found.VideoID)

	missing, err := repo.GetByID(ctx, models.NewULID())
	require.NoError(t, err)
	assert.Nil(t, missing)
}
