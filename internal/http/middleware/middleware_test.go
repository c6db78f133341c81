package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vidsift/internal/observability"
)

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func TestRequestID(t *testing.T) {
	t.Run("generates id", func(t *testing.T) {
		var seen string
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetRequestID(r.Context())
		}))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		require.NotEmpty(t, seen)
		assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
		assert.Len(t, seen, 36)
	})

	t.Run("propagates valid id", func(t *testing.T) {
		var seen string
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = observability.RequestIDFromContext(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "abc-123")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, "abc-123", seen)
		assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
	})

	t.Run("replaces malformed id", func(t *testing.T) {
		h := RequestID(http.HandlerFunc(okHandler))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "bad id\nwith newline")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.NotEqual(t, "bad id\nwith newline", rec.Header().Get(RequestIDHeader))
		assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	})
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	h := Recovery(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/explode", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "panic recovered")
	assert.Contains(t, buf.String(), "kaboom")
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	h := RequestID(NewLoggingMiddleware(logger, "/health")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		okHandler(w, r)
	})))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/queue", nil))
	assert.Contains(t, buf.String(), "path=/api/v1/queue")
	assert.Contains(t, buf.String(), "status=200")
	assert.Contains(t, buf.String(), "request_id=")

	buf.Reset()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Empty(t, buf.String())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "status=404")
}

func TestCORS(t *testing.T) {
	t.Run("wildcard", func(t *testing.T) {
		h := CORS(nil)(http.HandlerFunc(okHandler))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "http://ui.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, RequestIDHeader, rec.Header().Get("Access-Control-Expose-Headers"))
	})

	t.Run("restricted origins", func(t *testing.T) {
		h := CORS([]string{"http://allowed.example.com"})(http.HandlerFunc(okHandler))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "http://allowed.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, "http://allowed.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

		req = httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "http://evil.example.com")
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		h := CORS(nil)(http.HandlerFunc(okHandler))
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/automation/start", nil)
		req.Header.Set("Origin", "http://ui.example.com")
		req.Header.Set("Access-Control-Request-Method", "POST")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
		assert.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"))
	})
}

func TestSkipCompressionForSSE(t *testing.T) {
	marker := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Compressed", "yes")
			next.ServeHTTP(w, r)
		})
	}
	h := SkipCompressionForSSE(marker)(http.HandlerFunc(okHandler))

	tests := []struct {
		name       string
		path       string
		accept     string
		compressed bool
	}{
		{name: "regular request", path: "/api/v1/queue", compressed: true},
		{name: "event stream path", path: EventStreamPath},
		{name: "event stream accept header", path: "/anything", accept: "text/event-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			body, _ := io.ReadAll(rec.Body)
			assert.Equal(t, "ok", strings.TrimSpace(string(body)))
			assert.Equal(t, tt.compressed, rec.Header().Get("X-Compressed") == "yes")
		})
	}
}
