package sessions

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/uagent/internal/containers"
)

// fakeRuntime records container lifecycle calls without touching Docker.
type fakeRuntime struct {
	mu      sync.Mutex
	created int
	stopped map[string]int
	failAll bool
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{stopped: make(map[string]int)}
}

func (f *fakeRuntime) CreateContainer(ctx context.Context, sessionID, agentID string, cfg containers.AgentConfig, apiKey string) (*containers.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, &containers.ContainerStartError{SessionID: sessionID, Message: "boom"}
	}
	f.created++
	return &containers.ContainerInfo{
		Name:   "uas-" + agentID,
		Host:   "127.0.0.1",
		Port:   3000,
		Status: "running",
	}, nil
}

func (f *fakeRuntime) StopContainer(ctx context.Context, info *containers.ContainerInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped[info.Name]++
	return nil
}

func (f *fakeRuntime) ExecuteQuery(ctx context.Context, info *containers.ContainerInfo, message string, history []containers.HistoryMessage) (<-chan string, error) {
	ch := make(chan string)
	close(ch)
	return ch, nil
}

func (f *fakeRuntime) HealthCheck(ctx context.Context, info *containers.ContainerInfo) bool {
	return true
}

func (f *fakeRuntime) stopCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped[name]
}

func testManager(t *testing.T, rt containers.Runtime, opts ...ManagerOption) *Manager {
	t.Helper()
	return NewManager(rt, nil, opts...)
}

func TestSessionIDFormats(t *testing.T) {
	s := NewSession("cfg", "Config", "key", time.Now())
	if !regexp.MustCompile(`^sess-[0-9a-f]{12}$`).MatchString(s.SessionID) {
		t.Errorf("session id = %q", s.SessionID)
	}
	if !regexp.MustCompile(`^agent-[0-9a-f]{8}$`).MatchString(s.AgentID) {
		t.Errorf("agent id = %q", s.AgentID)
	}
}

func TestCreateAndGetSession(t *testing.T) {
	rt := newFakeRuntime()
	m := testManager(t, rt)

	session, err := m.CreateSession(context.Background(), containers.AgentConfig{ID: "cfg", Name: "Helper"}, "key")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if session.Status() != StatusRunning {
		t.Errorf("status = %q", session.Status())
	}
	if session.Container == nil {
		t.Fatal("no container info")
	}

	got, err := m.GetSession(session.SessionID)
	if err != nil || got != session {
		t.Fatalf("get = %v, %v", got, err)
	}

	var notFound *SessionNotFoundError
	if _, err := m.GetSession("sess-missing"); !errors.As(err, &notFound) {
		t.Fatalf("expected SessionNotFoundError, got %T", err)
	}
}

func TestCreateSessionContainerFailure(t *testing.T) {
	rt := newFakeRuntime()
	rt.failAll = true
	m := testManager(t, rt)

	if _, err := m.CreateSession(context.Background(), containers.AgentConfig{ID: "cfg"}, "key"); err == nil {
		t.Fatal("expected error")
	}
	if m.Count() != 0 {
		t.Errorf("failed launch left %d sessions registered", m.Count())
	}
}

func TestCleanupSessionStopsOnce(t *testing.T) {
	rt := newFakeRuntime()
	m := testManager(t, rt)

	session, err := m.CreateSession(context.Background(), containers.AgentConfig{ID: "cfg"}, "key")
	if err != nil {
		t.Fatal(err)
	}
	name := session.Container.Name

	// Concurrent cleanups: the container must stop exactly once.
	var wg sync.WaitGroup
	var successes atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.CleanupSession(context.Background(), session.SessionID); err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	if successes.Load() != 1 {
		t.Errorf("%d cleanups succeeded, want 1", successes.Load())
	}
	if got := rt.stopCount(name); got != 1 {
		t.Errorf("container stopped %d times, want 1", got)
	}
	if m.Count() != 0 {
		t.Errorf("count = %d", m.Count())
	}
}

func TestIdleEviction(t *testing.T) {
	now := time.Now()
	clock := now
	var mu sync.Mutex
	nowFunc := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}

	rt := newFakeRuntime()
	m := testManager(t, rt, WithIdleTimeout(30*time.Minute), WithNowFunc(nowFunc))

	idle, err := m.CreateSession(context.Background(), containers.AgentConfig{ID: "cfg"}, "key")
	if err != nil {
		t.Fatal(err)
	}
	fresh, err := m.CreateSession(context.Background(), containers.AgentConfig{ID: "cfg"}, "key")
	if err != nil {
		t.Fatal(err)
	}

	// Advance past the idle timeout, then touch only one session.
	mu.Lock()
	clock = now.Add(31 * time.Minute)
	mu.Unlock()
	fresh.Touch(nowFunc())

	m.EvictIdleOnce(context.Background())

	if _, err := m.GetSession(idle.SessionID); err == nil {
		t.Error("idle session survived eviction")
	}
	if _, err := m.GetSession(fresh.SessionID); err != nil {
		t.Error("active session was evicted")
	}
}

func TestStopCleansAllSessions(t *testing.T) {
	rt := newFakeRuntime()
	m := testManager(t, rt, WithSweepInterval(time.Hour))
	m.Start()

	for i := 0; i < 3; i++ {
		if _, err := m.CreateSession(context.Background(), containers.AgentConfig{ID: "cfg"}, "key"); err != nil {
			t.Fatal(err)
		}
	}

	m.Stop(context.Background())
	if m.Count() != 0 {
		t.Errorf("count after stop = %d", m.Count())
	}
}

func TestSessionHistory(t *testing.T) {
	s := NewSession("cfg", "Config", "key", time.Now())
	s.AddMessage("user", "hello", time.Now())
	s.AddMessage("assistant", "hi", time.Now())

	history := s.History()
	if len(history) != 2 || history[0].Role != "user" || history[1].Content != "hi" {
		t.Errorf("history = %+v", history)
	}
	if s.MessageCount() != 2 {
		t.Errorf("count = %d", s.MessageCount())
	}

	snap := s.Snapshot()
	if snap.MessageCount != 2 || snap.SessionID != s.SessionID {
		t.Errorf("snapshot = %+v", snap)
	}
}
