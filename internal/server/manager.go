package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/uagent/internal/agent"
	"github.com/haasonsaas/uagent/internal/containers"
	"github.com/haasonsaas/uagent/internal/sessions"
)

// Manager fronts the agent fleet: launching sessions, tunneling chat
// streams to workers, and serving metrics.
type Manager struct {
	sessions *sessions.Manager
	runtime  containers.Runtime
	presets  map[string]*agent.Preset
	logger   *slog.Logger

	registry     *prometheus.Registry
	queriesTotal prometheus.Counter
}

// NewManager wires the manager API over a session manager and its runtime.
func NewManager(sm *sessions.Manager, runtime containers.Runtime, presets map[string]*agent.Preset, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if presets == nil {
		presets = map[string]*agent.Preset{}
	}

	registry := prometheus.NewRegistry()
	queriesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "uagent",
		Subsystem: "manager",
		Name:      "queries_total",
		Help:      "Total chat queries dispatched to workers.",
	})
	registry.MustRegister(queriesTotal)
	if err := sm.RegisterMetrics(registry); err != nil {
		logger.Warn("session metrics registration failed", "error", err)
	}

	return &Manager{
		sessions:     sm,
		runtime:      runtime,
		presets:      presets,
		logger:       logger.With("component", "manager"),
		registry:     registry,
		queriesTotal: queriesTotal,
	}
}

// Handler returns the manager's HTTP routes.
func (m *Manager) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/agents/launch", m.handleLaunch)
	mux.HandleFunc("/api/agents/sessions", m.handleSessions)
	mux.HandleFunc("/api/agents/sessions/", m.handleSession)
	mux.HandleFunc("/api/chat", m.handleChat)
	mux.HandleFunc("/api/chat/history/", m.handleChatHistory)
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return mux
}

type launchRequest struct {
	APIKey   string                  `json:"api_key"`
	ConfigID string                  `json:"config_id,omitempty"`
	Config   *containers.AgentConfig `json:"config,omitempty"`
}

func (m *Manager) handleLaunch(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req launchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid request body")
		return
	}

	var cfg containers.AgentConfig
	switch {
	case req.ConfigID != "":
		preset, ok := m.presets[req.ConfigID]
		if !ok {
			writeError(rw, http.StatusNotFound, fmt.Sprintf("unknown config %q", req.ConfigID))
			return
		}
		cfg = presetToAgentConfig(preset)
	case req.Config != nil:
		cfg = *req.Config
	default:
		writeError(rw, http.StatusBadRequest, "config_id or config is required")
		return
	}

	session, err := m.sessions.CreateSession(r.Context(), cfg, req.APIKey)
	if err != nil {
		m.logger.Error("launch failed", "config_id", cfg.ID, "error", err)
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(rw, http.StatusOK, map[string]any{
		"session_id": session.SessionID,
		"agent_id":   session.AgentID,
		"config_id":  session.ConfigID,
		"status":     session.Status(),
		"created_at": session.CreatedAt(),
	})
}

func presetToAgentConfig(p *agent.Preset) containers.AgentConfig {
	cfg := containers.AgentConfig{
		ID:           p.ID,
		Name:         p.Name,
		Provider:     p.Provider,
		Model:        p.Model,
		SystemPrompt: p.SystemPrompt,
		AllowedTools: p.AllowedTools,
	}
	if p.ResourceLimits != nil {
		cfg.Limits = *p.ResourceLimits
	}
	return cfg
}

func (m *Manager) handleSessions(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"sessions": m.sessions.ListSessions()})
}

func (m *Manager) handleSession(rw http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/api/agents/sessions/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		writeError(rw, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		session, err := m.sessions.GetSession(sessionID)
		if err != nil {
			writeError(rw, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(rw, http.StatusOK, session.Snapshot())
	case http.MethodDelete:
		if err := m.sessions.CleanupSession(r.Context(), sessionID); err != nil {
			writeError(rw, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{
			"status":     "stopped",
			"session_id": sessionID,
		})
	default:
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type chatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// handleChat tunnels one chat turn: it forwards the message to the
// session's worker and relays the worker's SSE body verbatim.
func (m *Manager) handleChat(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid request body")
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = r.Header.Get("X-Session-ID")
	}
	if sessionID == "" {
		writeError(rw, http.StatusBadRequest, "session_id is required")
		return
	}
	if req.Message == "" {
		writeError(rw, http.StatusBadRequest, "message is required")
		return
	}

	session, err := m.sessions.GetSession(sessionID)
	if err != nil {
		writeError(rw, http.StatusNotFound, err.Error())
		return
	}

	history := make([]containers.HistoryMessage, 0)
	for _, h := range session.History() {
		history = append(history, containers.HistoryMessage{Role: h.Role, Content: h.Content})
	}
	session.AddMessage("user", req.Message, time.Now())

	lines, err := m.runtime.ExecuteQuery(r.Context(), session.Container, req.Message, history)
	if err != nil {
		m.logger.Error("worker query failed", "session_id", sessionID, "error", err)
		writeError(rw, http.StatusBadGateway, err.Error())
		return
	}
	m.queriesTotal.Inc()

	flusher, ok := rw.(http.Flusher)
	if !ok {
		http.Error(rw, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.WriteHeader(http.StatusOK)

	var assistantText strings.Builder
	for line := range lines {
		recordAssistantText(line, &assistantText)
		fmt.Fprintf(rw, "%s\n\n", line)
		flusher.Flush()
	}

	if assistantText.Len() > 0 {
		session.AddMessage("assistant", assistantText.String(), time.Now())
	}
	session.Touch(time.Now())
}

// recordAssistantText extracts assistant message frames from the worker
// stream so the manager-side history stays usable for replays.
func recordAssistantText(line string, out *strings.Builder) {
	payload, ok := strings.CutPrefix(line, "data: ")
	if !ok {
		return
	}
	var frame struct {
		Type    string `json:"type"`
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		return
	}
	if frame.Type == "message" && frame.Role == "assistant" {
		out.WriteString(frame.Content)
	}
}

func (m *Manager) handleChatHistory(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID := strings.TrimPrefix(r.URL.Path, "/api/chat/history/")
	session, err := m.sessions.GetSession(sessionID)
	if err != nil {
		writeError(rw, http.StatusNotFound, err.Error())
		return
	}
	history := session.History()
	writeJSON(rw, http.StatusOK, map[string]any{
		"session_id":    sessionID,
		"messages":      history,
		"message_count": len(history),
	})
}

func writeError(rw http.ResponseWriter, status int, message string) {
	writeJSON(rw, status, map[string]any{"error": message})
}
