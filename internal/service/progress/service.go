package progress

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	subscriberBuffer   = 100
	defaultHistorySize = 200
)

// Subscriber is a client receiving events.
type Subscriber struct {
	ID     string
	Filter *Filter
	Events chan Event
}

// Service is the in-process event hub. Slow subscribers lose events rather
// than stalling the publisher.
type Service struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	history     []Event
	historySize int
	closed      bool
	dropped     atomic.Uint64
	logger      *slog.Logger
}

// NewService creates a new hub.
func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		subscribers: make(map[string]*Subscriber),
		historySize: defaultHistorySize,
		logger:      logger.With(slog.String("component", "progress_service")),
	}
}

// WithHistorySize sets how many recent events are retained for replay.
func (s *Service) WithHistorySize(n int) *Service {
	s.mu.Lock()
	s.historySize = max(n, 0)
	s.mu.Unlock()
	return s
}

// Broadcast records the event and offers it to every matching subscriber.
func (s *Service) Broadcast(e Event) {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if s.historySize > 0 {
		s.history = append(s.history, e)
		if over := len(s.history) - s.historySize; over > 0 {
			s.history = append(s.history[:0:0], s.history[over:]...)
		}
	}

	for _, sub := range s.subscribers {
		if !sub.Filter.Matches(e) {
			continue
		}
		select {
		case sub.Events <- e:
		default:
			s.dropped.Add(1)
			s.logger.Warn("subscriber event channel full, dropping event",
				slog.String("subscriber_id", sub.ID),
				slog.String("event_type", string(e.Type)),
			)
		}
	}
}

// Subscribe registers a new subscriber.
func (s *Service) Subscribe(filter *Filter) *Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &Subscriber{
		ID:     ulid.Make().String(),
		Filter: filter,
		Events: make(chan Event, subscriberBuffer),
	}
	if s.closed {
		close(sub.Events)
		return sub
	}
	s.subscribers[sub.ID] = sub
	s.logger.Debug("subscriber added", slog.String("subscriber_id", sub.ID))
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Service) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.subscribers[id]; ok {
		close(sub.Events)
		delete(s.subscribers, id)
		s.logger.Debug("subscriber removed", slog.String("subscriber_id", id))
	}
}

// Recent returns up to n of the latest events matching filter, oldest first.
func (s *Service) Recent(n int, filter *Filter) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for i := len(s.history) - 1; i >= 0 && len(out) < n; i-- {
		if filter.Matches(s.history[i]) {
			out = append(out, s.history[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// SubscriberCount returns the number of live subscribers.
func (s *Service) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (s *Service) Dropped() uint64 {
	return s.dropped.Load()
}

// Close disconnects every subscriber. Later broadcasts are ignored.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, sub := range s.subscribers {
		close(sub.Events)
		delete(s.subscribers, id)
	}
}

var _ Broadcaster = (*Service)(nil)
