// Package worker creates and tears down the isolated execution contexts that
// run analysis tasks. Each context is used for exactly one task.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/vidsift/internal/messaging"
)

// Default timings.
const (
	DefaultReadyTimeout      = 30 * time.Second
	DefaultReadyPollInterval = 1 * time.Second
	DefaultSettleDelay       = 2 * time.Second
	defaultTeardownTimeout   = 10 * time.Second
)

// Session is one launched execution environment, such as a browser tab.
type Session interface {
	messaging.TaskExecutor
	// ID returns a unique identifier for the session.
	ID() string
	// Ready reports whether the environment can accept a task.
	Ready(ctx context.Context) (bool, error)
	// Close releases the environment.
	Close(ctx context.Context) error
}

// Launcher starts sessions pointed at an entry URL.
type Launcher interface {
	Launch(ctx context.Context, entryURL string) (Session, error)
}

// Config holds worker context settings.
type Config struct {
	EntryURL          string
	ReadyTimeout      time.Duration
	ReadyPollInterval time.Duration
	SettleDelay       time.Duration
}

// DefaultConfig returns the standard readiness timings.
func DefaultConfig() Config {
	return Config{
		ReadyTimeout:      DefaultReadyTimeout,
		ReadyPollInterval: DefaultReadyPollInterval,
		SettleDelay:       DefaultSettleDelay,
	}
}

// Context is a live worker context registered on the bus.
type Context struct {
	id        string
	session   Session
	cancel    context.CancelFunc
	done      chan struct{}
	ready     bool
	createdAt time.Time
}

// ID returns the context's bus address.
func (c *Context) ID() string { return c.id }

// Ready reports whether the context signalled readiness before the timeout.
func (c *Context) Ready() bool { return c.ready }

// CreatedAt returns when the context was launched.
func (c *Context) CreatedAt() time.Time { return c.createdAt }

// Manager owns worker context lifecycles.
type Manager struct {
	launcher Launcher
	bus      *messaging.Bus
	config   Config
	logger   *slog.Logger

	mu   sync.Mutex
	live map[string]*Context
}

// NewManager creates a manager that launches sessions and registers them on bus.
func NewManager(launcher Launcher, bus *messaging.Bus) *Manager {
	return &Manager{
		launcher: launcher,
		bus:      bus,
		config:   DefaultConfig(),
		logger:   slog.Default(),
		live:     make(map[string]*Context),
	}
}

// WithLogger sets the logger.
func (m *Manager) WithLogger(logger *slog.Logger) *Manager {
	m.logger = logger
	return m
}

// WithConfig sets the manager configuration.
func (m *Manager) WithConfig(cfg Config) *Manager {
	if cfg.ReadyPollInterval <= 0 {
		cfg.ReadyPollInterval = DefaultReadyPollInterval
	}
	m.config = cfg
	return m
}

// Create launches a fresh context, registers it on the bus and waits for it
// to become ready. A context that misses the readiness deadline is still
// returned; the task sent to it will fail fast instead.
func (m *Manager) Create(ctx context.Context) (*Context, error) {
	session, err := m.launcher.Launch(ctx, m.config.EntryURL)
	if err != nil {
		return nil, fmt.Errorf("launching worker context: %w", err)
	}

	inbox, err := m.bus.Register(session.ID())
	if err != nil {
		m.closeSession(session)
		return nil, fmt.Errorf("registering worker context: %w", err)
	}

	agentCtx, cancel := context.WithCancel(context.Background())
	wc := &Context{
		id:        session.ID(),
		session:   session,
		cancel:    cancel,
		done:      make(chan struct{}),
		createdAt: time.Now(),
	}
	go m.runAgent(agentCtx, wc, inbox)

	m.mu.Lock()
	m.live[wc.id] = wc
	m.mu.Unlock()

	logger := m.logger.With(slog.String("context_id", wc.id))
	logger.Debug("worker context launched")

	wc.ready = m.waitReady(ctx, session)
	if err := ctx.Err(); err != nil {
		m.Destroy(context.Background(), wc)
		return nil, err
	}
	if !wc.ready {
		logger.Warn("worker context not ready before timeout, continuing",
			slog.Duration("ready_timeout", m.config.ReadyTimeout),
		)
		return wc, nil
	}

	if err := sleepCtx(ctx, m.config.SettleDelay); err != nil {
		m.Destroy(context.Background(), wc)
		return nil, err
	}
	logger.Debug("worker context ready")
	return wc, nil
}

func (m *Manager) waitReady(ctx context.Context, session Session) bool {
	deadline := time.Now().Add(m.config.ReadyTimeout)
	ticker := time.NewTicker(m.config.ReadyPollInterval)
	defer ticker.Stop()

	for {
		ok, err := session.Ready(ctx)
		if err != nil {
			m.logger.Debug("readiness probe failed",
				slog.String("context_id", session.ID()),
				slog.String("error", err.Error()),
			)
		}
		if ok {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// runAgent feeds tasks from the context's mailbox into its session and posts
// the results back to the bus until the mailbox is released.
func (m *Manager) runAgent(ctx context.Context, wc *Context, inbox <-chan messaging.Envelope) {
	defer close(wc.done)

	taskCtx := messaging.WithNotifier(ctx, func(kind messaging.NoticeKind, text string) {
		m.bus.Deliver(messaging.Notice{ContextID: wc.id, Kind: kind, Text: text, At: time.Now()})
	})

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-inbox:
			if !ok {
				return
			}
			payload, err := dispatch(taskCtx, env.Task, wc.session)
			if err != nil {
				m.bus.Deliver(messaging.TaskFailed{ContextID: wc.id, TaskID: env.TaskID, Error: err.Error()})
				continue
			}
			m.bus.Deliver(messaging.TaskCompleted{ContextID: wc.id, TaskID: env.TaskID, Payload: payload})
		}
	}
}

func dispatch(ctx context.Context, task messaging.Task, session Session) (payload messaging.Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker context panicked: %v", r)
		}
	}()
	return task.Dispatch(ctx, session)
}

// Destroy tears the context down unconditionally: the pending response slot
// is released, the agent is stopped and the session is closed. Teardown
// problems are logged, never returned.
func (m *Manager) Destroy(ctx context.Context, wc *Context) {
	if wc == nil {
		return
	}

	m.mu.Lock()
	_, tracked := m.live[wc.id]
	delete(m.live, wc.id)
	m.mu.Unlock()
	if !tracked {
		return
	}

	m.bus.Release(wc.id)
	wc.cancel()

	select {
	case <-wc.done:
	case <-time.After(defaultTeardownTimeout):
		m.logger.Warn("worker agent did not stop in time", slog.String("context_id", wc.id))
	}

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultTeardownTimeout)
	defer cancel()
	if err := wc.session.Close(closeCtx); err != nil {
		m.logger.Warn("closing worker context failed",
			slog.String("context_id", wc.id),
			slog.String("error", err.Error()),
		)
	}
	m.logger.Debug("worker context destroyed",
		slog.String("context_id", wc.id),
		slog.Duration("lifetime", time.Since(wc.createdAt)),
	)
}

// DestroyAll tears down every live context.
func (m *Manager) DestroyAll(ctx context.Context) {
	m.mu.Lock()
	contexts := make([]*Context, 0, len(m.live))
	for _, wc := range m.live {
		contexts = append(contexts, wc)
	}
	m.mu.Unlock()

	for _, wc := range contexts {
		m.Destroy(ctx, wc)
	}
}

// Live returns the number of contexts not yet destroyed.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

func (m *Manager) closeSession(session Session) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTeardownTimeout)
	defer cancel()
	if err := session.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Warn("closing worker context failed",
			slog.String("context_id", session.ID()),
			slog.String("error", err.Error()),
		)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
