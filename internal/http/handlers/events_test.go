package handlers_test

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vidsift/internal/http/handlers"
	"github.com/jmylchreest/vidsift/internal/service/progress"
)

func newTestEventsHandler() (*handlers.EventsHandler, *progress.Service) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := progress.NewService(logger)
	return handlers.NewEventsHandler(svc), svc
}

func setupEventsRouter(handler *handlers.EventsHandler) *chi.Mux {
	router := chi.NewRouter()
	api := humachi.New(router, huma.DefaultConfig("Test API", "1.0.0"))
	handler.Register(api)
	handler.RegisterSSE(router)
	return router
}

// streamFor serves path until ctx expires, calling during once the handler
// has subscribed.
func streamFor(t *testing.T, router http.Handler, svc *progress.Service, path string, d time.Duration, during func()) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	req := httptest.NewRequest("GET", path, nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	before := svc.SubscriberCount()
	var wg sync.WaitGroup
	wg.Go(func() {
		router.ServeHTTP(rec, req)
	})

	require.Eventually(t, func() bool { return svc.SubscriberCount() > before }, time.Second, 5*time.Millisecond)
	if during != nil {
		during()
	}
	wg.Wait()
	return rec.Body.String()
}

func TestEventsHandler_SSE(t *testing.T) {
	t.Run("receives events", func(t *testing.T) {
		handler, svc := newTestEventsHandler()
		router := setupEventsRouter(handler)

		body := streamFor(t, router, svc, "/api/v1/events", 300*time.Millisecond, func() {
			svc.Broadcast(progress.Event{Type: progress.EventProgress, RunID: "r1", Current: 1, Total: 3, Message: "processing v1"})
		})

		assert.True(t, strings.HasPrefix(body, ":connected"))
		events := parseSSEEvents(body)
		require.Len(t, events, 1)
		assert.Equal(t, "progress", events[0]["event"])
		assert.NotEmpty(t, events[0]["id"])

		var e progress.Event
		require.NoError(t, json.Unmarshal([]byte(events[0]["data"]), &e))
		assert.Equal(t, "processing v1", e.Message)
		assert.Equal(t, 3, e.Total)
	})

	t.Run("filters by type and run", func(t *testing.T) {
		handler, svc := newTestEventsHandler()
		router := setupEventsRouter(handler)

		body := streamFor(t, router, svc, "/api/v1/events?types=error,complete&run_id=r1", 300*time.Millisecond, func() {
			svc.Broadcast(progress.Event{Type: progress.EventProgress, RunID: "r1", Message: "skip me"})
			svc.Broadcast(progress.Event{Type: progress.EventError, RunID: "r2", Message: "other run"})
			svc.Broadcast(progress.Event{Type: progress.EventError, RunID: "r1", Message: "segment failed"})
			svc.Broadcast(progress.Event{Type: progress.EventComplete, RunID: "r1", Message: "done"})
		})

		events := parseSSEEvents(body)
		require.Len(t, events, 2)
		assert.Equal(t, "error", events[0]["event"])
		assert.Equal(t, "complete", events[1]["event"])
		assert.NotContains(t, body, "skip me")
		assert.NotContains(t, body, "other run")
	})

	t.Run("replays recent events", func(t *testing.T) {
		handler, svc := newTestEventsHandler()
		router := setupEventsRouter(handler)

		svc.Broadcast(progress.Event{Type: progress.EventLog, Message: "first"})
		svc.Broadcast(progress.Event{Type: progress.EventLog, Message: "second"})
		svc.Broadcast(progress.Event{Type: progress.EventLog, Message: "third"})

		body := streamFor(t, router, svc, "/api/v1/events?replay=2", 200*time.Millisecond, nil)

		events := parseSSEEvents(body)
		require.Len(t, events, 2)
		assert.Contains(t, events[0]["data"], "second")
		assert.Contains(t, events[1]["data"], "third")
	})

	t.Run("ends when the hub closes", func(t *testing.T) {
		handler, svc := newTestEventsHandler()
		router := setupEventsRouter(handler)

		start := time.Now()
		streamFor(t, router, svc, "/api/v1/events", 5*time.Second, svc.Close)
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("unsubscribes on disconnect", func(t *testing.T) {
		handler, svc := newTestEventsHandler()
		router := setupEventsRouter(handler)

		streamFor(t, router, svc, "/api/v1/events", 100*time.Millisecond, nil)
		assert.Equal(t, 0, svc.SubscriberCount())
	})
}

func TestEventsHandler_SSEHeartbeat(t *testing.T) {
	handler, svc := newTestEventsHandler()
	handler.SetHeartbeatInterval(50 * time.Millisecond)
	router := setupEventsRouter(handler)

	body := streamFor(t, router, svc, "/api/v1/events", 200*time.Millisecond, nil)
	assert.Contains(t, body, ":heartbeat")
}

func TestEventsHandler_ListRecent(t *testing.T) {
	handler, svc := newTestEventsHandler()
	router := setupEventsRouter(handler)

	svc.Broadcast(progress.Event{Type: progress.EventLog, RunID: "r1", Message: "a"})
	svc.Broadcast(progress.Event{Type: progress.EventError, RunID: "r1", Message: "b"})
	svc.Broadcast(progress.Event{Type: progress.EventLog, RunID: "r2", Message: "c"})

	var body struct {
		Events []progress.Event `json:"events"`
	}

	rec := doJSON(t, router, "GET", "/api/v1/events/recent", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Len(t, body.Events, 3)

	rec = doJSON(t, router, "GET", "/api/v1/events/recent?run_id=r1&types=log", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Events, 1)
	assert.Equal(t, "a", body.Events[0].Message)

	rec = doJSON(t, router, "GET", "/api/v1/events/recent?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Events, 1)
	assert.Equal(t, "c", body.Events[0].Message)
}

func parseSSEEvents(body string) []map[string]string {
	var events []map[string]string
	scanner := bufio.NewScanner(strings.NewReader(body))

	var current map[string]string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if current != nil {
				events = append(events, current)
				current = nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if current == nil {
			current = make(map[string]string)
		}
		current[key] = strings.TrimPrefix(value, " ")
	}
	if current != nil {
		events = append(events, current)
	}
	return events
}
