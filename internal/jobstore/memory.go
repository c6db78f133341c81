package jobstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/jmylchreest/vidsift/internal/models"
)

// Memory is an in-process Store. Nothing survives a restart; it backs
// foreground CLI runs started without a database and tests.
type Memory struct {
	mu       sync.Mutex
	state    *models.RunState
	queue    []models.VideoJob
	outcomes []*models.VideoOutcome
	saves    int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) SaveRunState(_ context.Context, state *models.RunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := state.Clone()
	c.Key = models.RunStateKey
	m.state = c
	m.saves++
	return nil
}

func (m *Memory) LoadRunState(context.Context) (*models.RunState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone(), nil
}

func (m *Memory) ClearRunState(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = nil
	return nil
}

// Saves returns how many times the run state was written.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *Memory) Enqueue(_ context.Context, jobs []models.VideoJob) error {
	if err := models.ValidateQueue(jobs); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range jobs {
		if slices.ContainsFunc(m.queue, func(q models.VideoJob) bool { return q.ID == j.ID }) {
			return fmt.Errorf("%w: %s", models.ErrDuplicateVideo, j.ID)
		}
	}
	m.queue = append(m.queue, jobs...)
	return nil
}

func (m *Memory) Queue(context.Context) ([]models.VideoJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.queue), nil
}

func (m *Memory) Dequeue(_ context.Context, videoID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	before := len(m.queue)
	m.queue = slices.DeleteFunc(m.queue, func(q models.VideoJob) bool { return q.ID == videoID })
	return len(m.queue) < before, nil
}

func (m *Memory) ClearQueue(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.queue))
	m.queue = nil
	return n, nil
}

func (m *Memory) RecordOutcome(_ context.Context, outcome *models.VideoOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if outcome.ID.IsZero() {
		outcome.ID = models.NewULID()
	}
	c := *outcome
	for i, o := range m.outcomes {
		if o.ID == outcome.ID {
			m.outcomes[i] = &c
			return nil
		}
	}
	m.outcomes = append(m.outcomes, &c)
	return nil
}

func (m *Memory) Outcomes(_ context.Context, runID models.ULID) ([]*models.VideoOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.VideoOutcome
	for _, o := range m.outcomes {
		if o.RunID == runID {
			c := *o
			out = append(out, &c)
		}
	}
	return out, nil
}

var _ Store = (*Memory)(nil)
