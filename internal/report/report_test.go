package report

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/vidsift/internal/models"
	"github.com/jmylchreest/vidsift/internal/repository"
	"github.com/jmylchreest/vidsift/internal/storage"
	"github.com/jmylchreest/vidsift/pkg/httpclient"
)

func testReport() *models.Report {
	end := 2700.0
	return &models.Report{
		RunID:        models.NewULID(),
		VideoID:      "vid/1",
		SegmentIndex: 0,
		Title:        "Talk",
		StartSeconds: 0,
		EndSeconds:   &end,
		Content:      "# Talk\n\nsummary",
	}
}

// rotatingCreds hands out "stale" until refreshed, then "fresh".
type rotatingCreds struct {
	refreshed atomic.Int32
	failWith  error
}

func (c *rotatingCreds) Token(context.Context) (string, error) {
	if c.refreshed.Load() > 0 {
		return "fresh", nil
	}
	return "stale", nil
}

func (c *rotatingCreds) Refresh(context.Context) (string, error) {
	if c.failWith != nil {
		return "", c.failWith
	}
	c.refreshed.Add(1)
	return "fresh", nil
}

type backend struct {
	mu       sync.Mutex
	accept   string
	status   int
	requests []submission
	auth     []string
}

func (b *backend) handler(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r.URL.Path != "/reports" || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	auth := r.Header.Get("Authorization")
	b.auth = append(b.auth, auth)
	if b.status != 0 {
		w.WriteHeader(b.status)
		return
	}
	if auth != "Bearer "+b.accept {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	var s submission
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	b.requests = append(b.requests, s)
	w.WriteHeader(http.StatusCreated)
}

func (b *backend) snapshot() ([]submission, []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]submission(nil), b.requests...), append([]string(nil), b.auth...)
}

func newTestAPISink(t *testing.T, b *backend, creds *rotatingCreds) *APISink {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(b.handler))
	t.Cleanup(srv.Close)
	return NewAPISink(APIConfig{BaseURL: srv.URL + "/", RetryAttempts: 0}, creds, httpclient.NewRegistry())
}

func TestAPISink_Submit(t *testing.T) {
	b := &backend{accept: "stale"}
	creds := &rotatingCreds{}
	sink := newTestAPISink(t, b, creds)

	r := testReport()
	require.NoError(t, sink.Submit(context.Background(), r))

	requests, _ := b.snapshot()
	require.Len(t, requests, 1)
	got := requests[0]
	assert.Equal(t, "vid/1", got.VideoID)
	assert.Equal(t, 0, got.SegmentIndex)
	assert.Equal(t, r.Content, got.Text)
	assert.Equal(t, r.RunID.String(), got.RunID)
	require.NotNil(t, got.EndSeconds)
	assert.InDelta(t, 2700.0, *got.EndSeconds, 0.001)
	assert.Equal(t, int32(0), creds.refreshed.Load())
}

func TestAPISink_RefreshesOnceOn401(t *testing.T) {
	b := &backend{accept: "fresh"}
	creds := &rotatingCreds{}
	sink := newTestAPISink(t, b, creds)

	require.NoError(t, sink.Submit(context.Background(), testReport()))
	_, auth := b.snapshot()
	assert.Equal(t, []string{"Bearer stale", "Bearer fresh"}, auth)
	assert.Equal(t, int32(1), creds.refreshed.Load())
}

func TestAPISink_GivesUpAfterSecond401(t *testing.T) {
	b := &backend{accept: "never"}
	creds := &rotatingCreds{}
	sink := newTestAPISink(t, b, creds)

	err := sink.Submit(context.Background(), testReport())
	require.Error(t, err)
	var se *httpclient.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	_, auth := b.snapshot()
	assert.Len(t, auth, 2)
}

func TestAPISink_RefreshFailure(t *testing.T) {
	b := &backend{accept: "fresh"}
	creds := &rotatingCreds{failWith: errors.New("token file missing")}
	sink := newTestAPISink(t, b, creds)

	err := sink.Submit(context.Background(), testReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token file missing")
	_, auth := b.snapshot()
	assert.Len(t, auth, 1)
}

func TestAPISink_ServerError(t *testing.T) {
	b := &backend{status: http.StatusBadRequest}
	sink := newTestAPISink(t, b, &rotatingCreds{})

	err := sink.Submit(context.Background(), testReport())
	var se *httpclient.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
}

func TestFileSink_Submit(t *testing.T) {
	sb, err := storage.NewSandbox(filepath.Join(t.TempDir(), "reports"))
	require.NoError(t, err)
	sink := NewFileSink(sb)

	r := testReport()
	require.NoError(t, sink.Submit(context.Background(), r))

	data, err := sb.ReadFile(r.FileName())
	require.NoError(t, err)
	assert.Equal(t, r.Content+"\n", string(data))
	assert.Equal(t, "vid_1_segment_000.md", r.FileName())

	r.Content = "rewritten\n"
	require.NoError(t, sink.Submit(context.Background(), r))
	data, err = sb.ReadFile(r.FileName())
	require.NoError(t, err)
	assert.Equal(t, "rewritten\n", string(data))
}

func setupReportRepo(t *testing.T) repository.ReportRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Report{}))
	return repository.NewReportRepository(db)
}

func TestRepositorySink_Submit(t *testing.T) {
	repo := setupReportRepo(t)
	sink := NewRepositorySink(repo)

	r := testReport()
	require.NoError(t, sink.Submit(context.Background(), r))
	require.NoError(t, sink.Submit(context.Background(), r))
	assert.True(t, r.ID.IsZero())

	reports, total, err := repo.List(context.Background(), repository.ReportFilter{VideoID: "vid/1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, r.Content, reports[0].Content)
}

type failingSink struct{ calls int }

func (f *failingSink) Submit(context.Context, *models.Report) error {
	f.calls++
	return errors.New("boom")
}
func (f *failingSink) Name() string { return "failing" }

type countingSink struct{ calls int }

func (c *countingSink) Submit(context.Context, *models.Report) error {
	c.calls++
	return nil
}
func (c *countingSink) Name() string { return "counting" }

func TestMulti_Submit(t *testing.T) {
	failing := &failingSink{}
	counting := &countingSink{}
	m := NewMulti(failing, nil, counting)
	assert.Equal(t, 2, m.Len())

	err := m.Submit(context.Background(), testReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failing: boom")
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, counting.calls)

	require.NoError(t, NewMulti(counting).Submit(context.Background(), testReport()))
}

func TestMulti_RejectsInvalidReport(t *testing.T) {
	counting := &countingSink{}
	r := testReport()
	r.Content = ""

	err := NewMulti(counting).Submit(context.Background(), r)
	require.Error(t, err)
	assert.Equal(t, 0, counting.calls)
}

func TestDiscard(t *testing.T) {
	assert.NoError(t, Discard{}.Submit(context.Background(), testReport()))
}
