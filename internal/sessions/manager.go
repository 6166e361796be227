package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/uagent/internal/containers"
)

const (
	defaultIdleTimeout   = 30 * time.Minute
	defaultSweepInterval = 60 * time.Second
)

// SessionNotFoundError is returned for unknown session IDs.
type SessionNotFoundError struct {
	SessionID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session %q not found", e.SessionID)
}

// Manager owns live sessions and evicts the idle ones.
type Manager struct {
	runtime containers.Runtime
	logger  *slog.Logger
	metrics *metrics

	idleTimeout   time.Duration
	sweepInterval time.Duration
	nowFunc       func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session

	cancel context.CancelFunc
	done   chan struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithIdleTimeout sets how long a session may sit idle before eviction.
func WithIdleTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.idleTimeout = d }
}

// WithSweepInterval sets the eviction loop cadence.
func WithSweepInterval(d time.Duration) ManagerOption {
	return func(m *Manager) { m.sweepInterval = d }
}

// WithNowFunc injects a clock, for tests.
func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.nowFunc = now }
}

// NewManager creates a session manager over a container runtime.
func NewManager(runtime containers.Runtime, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		runtime:       runtime,
		logger:        logger.With("component", "sessions"),
		metrics:       newMetrics(),
		idleTimeout:   defaultIdleTimeout,
		sweepInterval: defaultSweepInterval,
		nowFunc:       time.Now,
		sessions:      make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateSession launches a new session: allocates IDs, starts the worker
// container, and registers the session.
func (m *Manager) CreateSession(ctx context.Context, cfg containers.AgentConfig, apiKey string) (*Session, error) {
	session := NewSession(cfg.ID, cfg.Name, apiKey, m.nowFunc())

	info, err := m.runtime.CreateContainer(ctx, session.SessionID, session.AgentID, cfg, apiKey)
	if err != nil {
		return nil, err
	}
	session.Container = info
	session.SetStatus(StatusRunning)

	m.mu.Lock()
	m.sessions[session.SessionID] = session
	active := len(m.sessions)
	m.mu.Unlock()

	m.metrics.sessionsActive.Set(float64(active))
	m.metrics.sessionsCreated.Inc()
	m.logger.Info("session created",
		"session_id", session.SessionID,
		"agent_id", session.AgentID,
		"config_id", cfg.ID)
	return session, nil
}

// GetSession returns a session by ID.
func (m *Manager) GetSession(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, &SessionNotFoundError{SessionID: sessionID}
	}
	return session, nil
}

// ListSessions returns snapshots of every live session, newest first.
func (m *Manager) ListSessions() []Info {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Snapshot())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})
	return infos
}

// CleanupSession removes a session and stops its container. The session is
// removed from the map before the container stop, so concurrent cleanups
// stop the container exactly once. Stop errors are logged, not returned.
func (m *Manager) CleanupSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	active := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return &SessionNotFoundError{SessionID: sessionID}
	}
	m.metrics.sessionsActive.Set(float64(active))

	session.SetStatus(StatusStopped)
	if session.Container != nil {
		if err := m.runtime.StopContainer(ctx, session.Container); err != nil {
			m.logger.Warn("container stop failed",
				"session_id", sessionID,
				"error", err)
		}
	}
	m.logger.Info("session cleaned up", "session_id", sessionID)
	return nil
}

// Start launches the background eviction loop.
func (m *Manager) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.evictIdle(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the eviction loop and cleans up every remaining session.
func (m *Manager) Stop(ctx context.Context) {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	for _, info := range m.ListSessions() {
		if err := m.CleanupSession(ctx, info.SessionID); err != nil {
			m.logger.Warn("cleanup failed during shutdown",
				"session_id", info.SessionID,
				"error", err)
		}
	}
}

// evictIdle cleans up sessions idle longer than the timeout.
func (m *Manager) evictIdle(ctx context.Context) {
	now := m.nowFunc()
	var stale []string
	m.mu.Lock()
	for id, session := range m.sessions {
		if now.Sub(session.LastActivity()) >= m.idleTimeout {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.logger.Info("evicting idle session", "session_id", id)
		if err := m.CleanupSession(ctx, id); err == nil {
			m.metrics.evictionsTotal.Inc()
		}
	}
}

// EvictIdleOnce runs a single eviction sweep. Exposed for tests and
// manual maintenance.
func (m *Manager) EvictIdleOnce(ctx context.Context) {
	m.evictIdle(ctx)
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
