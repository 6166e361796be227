// Package sessions tracks live agent sessions: identity, activity, chat
// history, and the container each session runs in. A background loop
// evicts idle sessions.
package sessions

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/uagent/internal/containers"
)

// Session statuses.
const (
	StatusStarting = "starting"
	StatusRunning  = "running"
	StatusStopped  = "stopped"
	StatusError    = "error"
)

// HistoryMessage is one recorded chat turn.
type HistoryMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is one live agent instance and its conversation state.
type Session struct {
	SessionID  string `json:"session_id"`
	AgentID    string `json:"agent_id"`
	ConfigID   string `json:"config_id"`
	ConfigName string `json:"config_name"`

	// APIKey is the key the session was launched with. Never serialized.
	APIKey string `json:"-"`

	Container *containers.ContainerInfo `json:"container,omitempty"`

	mu           sync.Mutex
	status       string
	createdAt    time.Time
	lastActivity time.Time
	history      []HistoryMessage
}

// NewSession creates a session with fresh identifiers.
func NewSession(configID, configName, apiKey string, now time.Time) *Session {
	return &Session{
		SessionID:    "sess-" + randomHex(6),
		AgentID:      "agent-" + randomHex(4),
		ConfigID:     configID,
		ConfigName:   configName,
		APIKey:       apiKey,
		status:       StatusStarting,
		createdAt:    now,
		lastActivity: now,
	}
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}
	return hex.EncodeToString(buf)
}

// Touch marks the session as active.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = now
}

// AddMessage appends a chat turn and touches the session.
func (s *Session) AddMessage(role, content string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, HistoryMessage{Role: role, Content: content, Timestamp: now})
	s.lastActivity = now
}

// History returns a copy of the recorded chat turns.
func (s *Session) History() []HistoryMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryMessage, len(s.history))
	copy(out, s.history)
	return out
}

// MessageCount returns the number of recorded chat turns.
func (s *Session) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// Status returns the session status.
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus updates the session status.
func (s *Session) SetStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// LastActivity returns the last activity timestamp.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// CreatedAt returns the creation timestamp.
func (s *Session) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

// Info is a serializable session snapshot.
type Info struct {
	SessionID    string    `json:"session_id"`
	AgentID      string    `json:"agent_id"`
	ConfigID     string    `json:"config_id"`
	ConfigName   string    `json:"config_name"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	MessageCount int       `json:"message_count"`
}

// Snapshot captures the session's current state.
func (s *Session) Snapshot() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		SessionID:    s.SessionID,
		AgentID:      s.AgentID,
		ConfigID:     s.ConfigID,
		ConfigName:   s.ConfigName,
		Status:       s.status,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		MessageCount: len(s.history),
	}
}
