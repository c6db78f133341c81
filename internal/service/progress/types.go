// Package progress fans automation progress out to live subscribers such as
// the SSE event stream and the foreground CLI. Delivery is best-effort.
package progress

import (
	"slices"
	"time"
)

// EventType classifies a progress event.
type EventType string

const (
	EventProgress EventType = "progress"
	EventLog      EventType = "log"
	EventError    EventType = "error"
	EventComplete EventType = "complete"
)

// Event is one broadcast message.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id,omitempty"`
	State     string    `json:"state,omitempty"`
	Current   int       `json:"current"`
	Total     int       `json:"total"`
	Message   string    `json:"message"`
	VideoID   string    `json:"video_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// IsTerminal reports whether the event ends a run.
func (e Event) IsTerminal() bool {
	return e.Type == EventComplete
}

// Filter narrows the events a subscriber receives. A nil filter matches
// everything.
type Filter struct {
	RunID string
	Types []EventType
}

// Matches reports whether e passes the filter.
func (f *Filter) Matches(e Event) bool {
	if f == nil {
		return true
	}
	if f.RunID != "" && e.RunID != "" && f.RunID != e.RunID {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, e.Type) {
		return false
	}
	return true
}

// Broadcaster publishes events. Implementations never block the caller.
type Broadcaster interface {
	Broadcast(e Event)
}

// Nop discards every event.
type Nop struct{}

// Broadcast implements Broadcaster.
func (Nop) Broadcast(Event) {}

// BroadcasterFunc adapts a function to Broadcaster.
type BroadcasterFunc func(Event)

// Broadcast implements Broadcaster.
func (f BroadcasterFunc) Broadcast(e Event) { f(e) }

// Multi broadcasts to several broadcasters in order.
type Multi []Broadcaster

// Broadcast implements Broadcaster.
func (m Multi) Broadcast(e Event) {
	for _, b := range m {
		b.Broadcast(e)
	}
}

var (
	_ Broadcaster = Nop{}
	_ Broadcaster = BroadcasterFunc(nil)
	_ Broadcaster = Multi(nil)
)
