// Package logs keeps a bounded in-memory history of log records so the
// control API can show what the automation has been doing.
package logs

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	// DefaultCapacity is the number of records retained.
	DefaultCapacity = 1000
	// maxRecentErrors bounds the error list reported by Stats.
	maxRecentErrors = 10
)

// Entry is one captured log record.
type Entry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Component string         `json:"component,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
	VideoID   string         `json:"video_id,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`

	level slog.Level
}

// Stats summarises the captured history.
type Stats struct {
	Total         int64            `json:"total"`
	ByLevel       map[string]int64 `json:"by_level"`
	ByComponent   map[string]int64 `json:"by_component"`
	RecentErrors  []Entry          `json:"recent_errors"`
	RatePerMinute float64          `json:"rate_per_minute"`
	Oldest        *time.Time       `json:"oldest,omitempty"`
	Newest        *time.Time       `json:"newest,omitempty"`
}

// Filter selects entries from Recent. Zero values match everything.
type Filter struct {
	MinLevel  slog.Level
	Component string
	RunID     string
}

func (f Filter) matches(e *Entry) bool {
	if e.level < f.MinLevel {
		return false
	}
	if f.Component != "" && e.Component != f.Component {
		return false
	}
	return f.RunID == "" || e.RunID == f.RunID
}

// Buffer is a ring of recent log entries. It is safe for concurrent use.
type Buffer struct {
	mu       sync.RWMutex
	entries  []Entry
	next     int
	full     bool
	total    int64
	byLevel  map[string]int64
	byComp   map[string]int64
	errors   []Entry
	started  time.Time
	redact   func([]string, slog.Attr) slog.Attr
	capacity int
}

// New creates a buffer holding up to capacity entries.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		entries:  make([]Entry, capacity),
		byLevel:  make(map[string]int64),
		byComp:   make(map[string]int64),
		started:  time.Now(),
		capacity: capacity,
	}
}

// WithRedactor masks captured attributes the same way the output handler
// does.
func (b *Buffer) WithRedactor(fn func([]string, slog.Attr) slog.Attr) *Buffer {
	b.redact = fn
	return b
}

// Handler returns a slog.Handler that records into b and then passes the
// record on to next.
func (b *Buffer) Handler(next slog.Handler) slog.Handler {
	return &captureHandler{buf: b, next: next}
}

// Add stores an entry, evicting the oldest when full.
func (b *Buffer) Add(e Entry) {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.Level == "" {
		e.Level = LevelName(e.level)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.total++
	b.byLevel[e.Level]++
	if e.Component != "" {
		b.byComp[e.Component]++
	}
	if e.level >= slog.LevelError {
		b.errors = append(b.errors, e)
		if len(b.errors) > maxRecentErrors {
			b.errors = b.errors[1:]
		}
	}

	b.entries[b.next] = e
	b.next = (b.next + 1) % b.capacity
	if b.next == 0 {
		b.full = true
	}
}

// ordered returns the retained entries oldest first. Callers hold mu.
func (b *Buffer) ordered() []Entry {
	if !b.full {
		return b.entries[:b.next]
	}
	out := make([]Entry, 0, b.capacity)
	out = append(out, b.entries[b.next:]...)
	return append(out, b.entries[:b.next]...)
}

// Recent returns up to limit matching entries, oldest first.
func (b *Buffer) Recent(limit int, f Filter) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	all := b.ordered()
	var out []Entry
	for i := len(all) - 1; i >= 0; i-- {
		if !f.matches(&all[i]) {
			continue
		}
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Stats returns counters over everything captured since New.
func (b *Buffer) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := Stats{
		Total:        b.total,
		ByLevel:      make(map[string]int64, len(b.byLevel)),
		ByComponent:  make(map[string]int64, len(b.byComp)),
		RecentErrors: append([]Entry(nil), b.errors...),
	}
	for _, lvl := range []string{"debug", "info", "warn", "error"} {
		st.ByLevel[lvl] = 0
	}
	for k, v := range b.byLevel {
		st.ByLevel[k] = v
	}
	for k, v := range b.byComp {
		st.ByComponent[k] = v
	}
	if minutes := time.Since(b.started).Minutes(); minutes > 0 {
		st.RatePerMinute = float64(b.total) / minutes
	}

	if all := b.ordered(); len(all) > 0 {
		oldest, newest := all[0].Timestamp, all[len(all)-1].Timestamp
		st.Oldest, st.Newest = &oldest, &newest
	}
	return st
}

// LevelName maps a slog level to the lower-case name used by the API.
func LevelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "error"
	case l >= slog.LevelWarn:
		return "warn"
	case l >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}

// ParseLevel is the inverse of LevelName. Unknown names map to debug so a
// bad filter shows everything rather than nothing.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "info":
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

type captureHandler struct {
	buf    *Buffer
	next   slog.Handler
	attrs  []slog.Attr
	groups []string
	prefix string
}

func (h *captureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *captureHandler) Handle(ctx context.Context, r slog.Record) error {
	e := Entry{
		Timestamp: r.Time,
		Level:     LevelName(r.Level),
		Message:   r.Message,
		level:     r.Level,
	}
	for _, a := range h.attrs {
		h.capture(&e, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.capture(&e, h.qualify(a))
		return true
	})
	h.buf.Add(e)

	return h.next.Handle(ctx, r)
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, h.qualify(a))
	}
	clone.next = h.next.WithAttrs(attrs)
	return &clone
}

func (h *captureHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	clone.prefix = h.prefix + name + "."
	clone.next = h.next.WithGroup(name)
	return &clone
}

func (h *captureHandler) qualify(a slog.Attr) slog.Attr {
	if h.prefix == "" {
		return a
	}
	return slog.Attr{Key: h.prefix + a.Key, Value: a.Value}
}

func (h *captureHandler) capture(e *Entry, a slog.Attr) {
	if h.buf.redact != nil {
		a = h.buf.redact(h.groups, a)
	}
	a.Value = a.Value.Resolve()

	switch a.Key {
	case "component":
		e.Component = a.Value.String()
	case "run_id":
		e.RunID = a.Value.String()
	case "video_id":
		e.VideoID = a.Value.String()
	case "app":
	default:
		if e.Fields == nil {
			e.Fields = make(map[string]any)
		}
		e.Fields[a.Key] = a.Value.Any()
	}
}
