package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/vidsift/internal/http/middleware"
	"github.com/jmylchreest/vidsift/internal/observability"
	"github.com/jmylchreest/vidsift/internal/service/progress"
)

const maxReplay = 500

// EventsHandler streams automation progress as server-sent events or over
// a websocket.
type EventsHandler struct {
	service           *progress.Service
	heartbeatInterval time.Duration
	origins           []string
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(service *progress.Service) *EventsHandler {
	return &EventsHandler{
		service:           service,
		heartbeatInterval: 30 * time.Second,
	}
}

// SetHeartbeatInterval sets the SSE heartbeat interval (for testing).
func (h *EventsHandler) SetHeartbeatInterval(interval time.Duration) {
	h.heartbeatInterval = interval
}

// Register registers the recent events route with the API.
func (h *EventsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listRecentEvents",
		Method:      "GET",
		Path:        "/api/v1/events/recent",
		Summary:     "List recent events",
		Description: "Returns the latest retained progress events, oldest first",
		Tags:        []string{"Events"},
	}, h.ListRecent)
}

// RegisterSSE registers the SSE endpoint on a chi router.
// Huma has no streaming response, so this is a plain route.
func (h *EventsHandler) RegisterSSE(router interface {
	Get(pattern string, handlerFn http.HandlerFunc)
}) {
	router.Get(middleware.EventStreamPath, h.HandleSSE)
}

// RecentEventsInput is the input for listing recent events.
type RecentEventsInput struct {
	RunID string `query:"run_id" doc:"Only events from this run"`
	Types string `query:"types" doc:"Comma separated event types: progress, log, error, complete"`
	Limit int    `query:"limit" default:"100" minimum:"1" maximum:"500" doc:"Maximum events"`
}

// RecentEventsOutput is the output for listing recent events.
type RecentEventsOutput struct {
	Body struct {
		Events      []progress.Event `json:"events"`
		Subscribers int              `json:"subscribers"`
		Dropped     uint64           `json:"dropped"`
	}
}

// ListRecent returns retained events.
func (h *EventsHandler) ListRecent(_ context.Context, input *RecentEventsInput) (*RecentEventsOutput, error) {
	filter := &progress.Filter{RunID: input.RunID, Types: parseEventTypes(input.Types)}

	resp := &RecentEventsOutput{}
	resp.Body.Events = h.service.Recent(input.Limit, filter)
	if resp.Body.Events == nil {
		resp.Body.Events = []progress.Event{}
	}
	resp.Body.Subscribers = h.service.SubscriberCount()
	resp.Body.Dropped = h.service.Dropped()
	return resp, nil
}

// HandleSSE streams events until the client disconnects or the hub closes.
// Query parameters: run_id, types (comma separated) and replay (number of
// retained events to send first).
func (h *EventsHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	logger := observability.LoggerFromContext(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	query := r.URL.Query()
	filter := &progress.Filter{
		RunID: query.Get("run_id"),
		Types: parseEventTypes(query.Get("types")),
	}

	sub := h.service.Subscribe(filter)
	defer h.service.Unsubscribe(sub.ID)

	rc := http.NewResponseController(w)
	// The stream outlives any server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()

	fmt.Fprint(w, ":connected\n\n")
	if err := rc.Flush(); err != nil {
		logger.Error("failed to flush initial SSE connection", slog.String("error", err.Error()))
		return
	}

	if n, err := strconv.Atoi(query.Get("replay")); err == nil && n > 0 {
		for _, event := range h.service.Recent(min(n, maxReplay), filter) {
			if err := writeSSEEvent(w, event); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ":heartbeat %d\n\n", time.Now().Unix())
			if err := rc.Flush(); err != nil {
				logger.Debug("heartbeat flush failed, client likely disconnected", slog.String("error", err.Error()))
				return
			}
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, event); err != nil {
				logger.Error("failed to write SSE event",
					slog.String("event_type", string(event.Type)),
					slog.String("error", err.Error()),
				)
				return
			}
			if err := rc.Flush(); err != nil {
				logger.Debug("event flush failed, client likely disconnected",
					slog.String("event_type", string(event.Type)),
					slog.String("error", err.Error()),
				)
				return
			}
		}
	}
}

func writeSSEEvent(w io.Writer, event progress.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Type, data)
	return err
}

func parseEventTypes(raw string) []progress.EventType {
	if raw == "" {
		return nil
	}
	var types []progress.EventType
	for part := range strings.SplitSeq(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			types = append(types, progress.EventType(part))
		}
	}
	return types
}
