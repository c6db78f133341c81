package httpclient

import (
	"slices"
	"sync"
)

// CircuitBreakerStatus is a named breaker snapshot for health reporting.
type CircuitBreakerStatus struct {
	Name string `json:"name"`
	CircuitBreakerStats
}

// Registry holds the named clients whose breakers the health endpoint reports.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewRegistry creates a new client registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// Register adds a named client, replacing any existing one with that name.
func (r *Registry) Register(name string, client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
}

// Get returns a client by name, or nil if not found.
func (r *Registry) Get(name string) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[name]
}

// Statuses returns every registered breaker, ordered by name.
func (r *Registry) Statuses() []CircuitBreakerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make([]CircuitBreakerStatus, 0, len(r.clients))
	for name, client := range r.clients {
		statuses = append(statuses, CircuitBreakerStatus{
			Name:                name,
			CircuitBreakerStats: client.breaker.Stats(),
		})
	}
	slices.SortFunc(statuses, func(a, b CircuitBreakerStatus) int {
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})
	return statuses
}
