// Package server implements the two HTTP surfaces: the worker API served
// inside each agent container, and the manager API that fronts the fleet.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/haasonsaas/uagent/internal/agent"
	"github.com/haasonsaas/uagent/internal/containers"
	"github.com/haasonsaas/uagent/pkg/models"
)

// Worker serves a single agent over HTTP: SSE queries, health, and the
// active configuration.
type Worker struct {
	cfg       containers.AgentConfig
	sessionID string
	tools     []models.ToolDefinition
	logger    *slog.Logger
}

// NewWorker creates a worker for one agent configuration. Tools not named
// in the configuration's allowed list are dropped; an empty list allows
// everything.
func NewWorker(cfg containers.AgentConfig, sessionID string, tools []models.ToolDefinition, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		cfg:       cfg,
		sessionID: sessionID,
		tools:     filterTools(tools, cfg.AllowedTools),
		logger:    logger.With("component", "worker"),
	}
}

func filterTools(tools []models.ToolDefinition, allowed []string) []models.ToolDefinition {
	if len(allowed) == 0 {
		return tools
	}
	allowedSet := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		allowedSet[name] = true
	}
	var kept []models.ToolDefinition
	for _, tool := range tools {
		if allowedSet[tool.Name] {
			kept = append(kept, tool)
		}
	}
	return kept
}

// Handler returns the worker's HTTP routes.
func (w *Worker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/query", w.handleQuery)
	mux.HandleFunc("/health", w.handleHealth)
	mux.HandleFunc("/config", w.handleConfig)
	return mux
}

type workerQueryRequest struct {
	Message string                      `json:"message"`
	History []containers.HistoryMessage `json:"history,omitempty"`
}

func (w *Worker) handleHealth(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"status":     "healthy",
		"session_id": w.sessionID,
		"config_id":  w.cfg.ID,
		"provider":   w.cfg.Provider,
	})
}

func (w *Worker) handleConfig(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"id":            w.cfg.ID,
		"name":          w.cfg.Name,
		"provider":      w.cfg.Provider,
		"model":         w.cfg.Model,
		"allowed_tools": w.cfg.AllowedTools,
	})
}

// handleQuery runs one agent turn and streams it back as SSE frames.
func (w *Worker) handleQuery(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req workerQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(rw, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(rw, "message is required", http.StatusBadRequest)
		return
	}

	flusher, ok := rw.(http.Flusher)
	if !ok {
		http.Error(rw, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.WriteHeader(http.StatusOK)

	frame := func(payload map[string]any) {
		raw, err := json.Marshal(payload)
		if err != nil {
			return
		}
		fmt.Fprintf(rw, "data: %s\n\n", raw)
		flusher.Flush()
	}

	client := agent.NewClient(agent.Options{
		Provider:     w.cfg.Provider,
		Model:        w.cfg.Model,
		SystemPrompt: w.cfg.SystemPrompt,
		Tools:        w.tools,
		SessionID:    w.sessionID,
		Logger:       w.logger,
	})
	ctx := r.Context()
	if err := client.Connect(ctx); err != nil {
		frame(map[string]any{"type": "error", "error": err.Error()})
		return
	}
	defer client.Disconnect()

	if len(req.History) > 0 {
		seed := make([]models.Message, 0, len(req.History))
		for _, h := range req.History {
			switch h.Role {
			case "assistant":
				seed = append(seed, models.AssistantMessage{
					Content: models.Blocks{models.TextBlock{Text: h.Content}},
				})
			case "system":
				seed = append(seed, models.SystemMessage{Content: h.Content})
			default:
				seed = append(seed, models.UserMessage{Content: h.Content})
			}
		}
		if err := client.SeedHistory(seed...); err != nil {
			frame(map[string]any{"type": "error", "error": err.Error()})
			return
		}
	}

	if err := client.Send(ctx, req.Message); err != nil {
		frame(map[string]any{"type": "error", "error": err.Error()})
		return
	}

	for msg := range client.Receive() {
		switch m := msg.(type) {
		case models.StreamEvent:
			if out := translateEvent(m); out != nil {
				frame(out)
			}
		case models.AssistantMessage:
			frame(map[string]any{
				"type":    "message",
				"role":    "assistant",
				"content": m.Text(),
			})
		case models.ResultMessage:
			if m.IsError {
				frame(map[string]any{"type": "error", "error": m.Result})
			}
		}
	}
	frame(map[string]any{"type": "done"})
}

// translateEvent maps engine stream events onto the worker wire frames.
func translateEvent(ev models.StreamEvent) map[string]any {
	switch ev.EventType {
	case models.EventToolExecutionStart:
		return map[string]any{
			"type":  "tool_start",
			"tool":  ev.Delta["tool_name"],
			"input": ev.Delta["tool_input"],
		}
	case models.EventToolExecutionDone:
		// Success and failure share the event type; the delta type tells
		// them apart.
		if ev.Delta["type"] == "tool_execution_error" {
			return map[string]any{
				"type":        "tool_error",
				"tool":        ev.Delta["tool_name"],
				"error":       ev.Delta["error"],
				"duration_ms": ev.Delta["duration_ms"],
			}
		}
		return map[string]any{
			"type":        "tool_complete",
			"tool":        ev.Delta["tool_name"],
			"output":      ev.Delta["output"],
			"duration_ms": ev.Delta["duration_ms"],
		}
	case models.EventContentBlockDelta:
		if thinking, ok := ev.Delta["thinking"].(string); ok && thinking != "" {
			return map[string]any{"type": "thinking", "content": thinking}
		}
		if text, ok := ev.Delta["text"].(string); ok && text != "" {
			return map[string]any{
				"type":       "stream",
				"event_type": "text_delta",
				"content":    text,
			}
		}
	}
	return nil
}

func writeJSON(rw http.ResponseWriter, status int, payload any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(payload)
}
