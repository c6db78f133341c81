package handlers

import (
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jmylchreest/vidsift/internal/http/middleware"
	"github.com/jmylchreest/vidsift/internal/observability"
	"github.com/jmylchreest/vidsift/internal/service/progress"
)

const wsWriteTimeout = 10 * time.Second

// WithAllowedOrigins restricts websocket upgrades to the given origins.
// Empty or "*" accepts any origin.
func (h *EventsHandler) WithAllowedOrigins(origins []string) *EventsHandler {
	h.origins = origins
	return h
}

// RegisterWebSocket registers the websocket event stream on a chi router.
func (h *EventsHandler) RegisterWebSocket(router interface {
	Get(pattern string, handlerFn http.HandlerFunc)
}) {
	router.Get(middleware.EventSocketPath, h.HandleWebSocket)
}

func (h *EventsHandler) checkOrigin(r *http.Request) bool {
	if len(h.origins) == 0 || slices.Contains(h.origins, "*") {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(h.origins, origin)
}

// HandleWebSocket sends the same events as HandleSSE, one JSON text frame
// per event. It accepts the same query parameters.
func (h *EventsHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	logger := observability.LoggerFromContext(r.Context())

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Time{})

	query := r.URL.Query()
	filter := &progress.Filter{
		RunID: query.Get("run_id"),
		Types: parseEventTypes(query.Get("types")),
	}
	sub := h.service.Subscribe(filter)
	defer h.service.Unsubscribe(sub.ID)

	// Clients send nothing but control frames; reading processes them and
	// notices the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	send := func(event progress.Event) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(event); err != nil {
			logger.Debug("websocket write failed", slog.String("error", err.Error()))
			return false
		}
		return true
	}

	if n, err := strconv.Atoi(query.Get("replay")); err == nil && n > 0 {
		for _, event := range h.service.Recent(min(n, maxReplay), filter) {
			if !send(event) {
				return
			}
		}
	}

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-gone:
			return
		case <-heartbeat.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case event, ok := <-sub.Events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			if !send(event) {
				return
			}
		}
	}
}
