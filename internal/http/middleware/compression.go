package middleware

import (
	"net/http"
	"strings"
)

// EventStreamPath is the SSE route. Streams must not be compressed because
// compression buffers output and breaks per-event flushing.
const EventStreamPath = "/api/v1/events"

// EventSocketPath is the websocket variant of the event stream.
const EventSocketPath = "/api/v1/events/ws"

// SkipCompressionForSSE wraps a compression middleware so that event stream
// requests bypass it.
func SkipCompressionForSSE(compressionHandler func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressed := compressionHandler(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isEventStream(r) {
				next.ServeHTTP(w, r)
				return
			}
			compressed.ServeHTTP(w, r)
		})
	}
}

func isEventStream(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		return true
	}
	return r.URL.Path == EventStreamPath || r.URL.Path == EventSocketPath
}
