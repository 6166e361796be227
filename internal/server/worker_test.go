package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/haasonsaas/uagent/internal/containers"
	"github.com/haasonsaas/uagent/internal/providers"
	"github.com/haasonsaas/uagent/pkg/models"
)

// stubProvider emits a scripted sequence for worker tests.
type stubProvider struct {
	responses []models.AssistantMessage
}

func (s *stubProvider) Name() string                 { return "stub" }
func (s *stubProvider) Features() providers.Features { return providers.Features{Streaming: true} }

func (s *stubProvider) next() models.AssistantMessage {
	if len(s.responses) == 0 {
		return models.AssistantMessage{
			Content:      models.Blocks{models.TextBlock{Text: "done"}},
			FinishReason: models.FinishStop,
		}
	}
	head := s.responses[0]
	s.responses = s.responses[1:]
	return head
}

func (s *stubProvider) Complete(ctx context.Context, msgs []models.Message, req providers.Request) (*models.AssistantMessage, error) {
	resp := s.next()
	return &resp, nil
}

func (s *stubProvider) Stream(ctx context.Context, msgs []models.Message, req providers.Request) (<-chan models.Message, error) {
	resp := s.next()
	ch := make(chan models.Message, 8)
	go func() {
		defer close(ch)
		if text := resp.Text(); text != "" {
			ch <- models.StreamEvent{
				EventType: models.EventContentBlockDelta,
				Delta:     map[string]any{"type": "text_delta", "text": text},
			}
		}
		ch <- resp
	}()
	return ch, nil
}

func registerStub(t *testing.T, p *stubProvider) string {
	t.Helper()
	name := "stub-" + strings.ReplaceAll(t.Name(), "/", "-")
	providers.Register(name, func(config map[string]any) (providers.Provider, error) {
		return p, nil
	})
	return name
}

// postQuery drives the worker endpoint and decodes every SSE frame.
func postQuery(t *testing.T, handler http.Handler, body string) []map[string]any {
	t.Helper()
	server := httptest.NewServer(handler)
	defer server.Close()

	resp, err := http.Post(server.URL+"/query", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	var frames []map[string]any
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var frame map[string]any
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			t.Fatalf("bad frame %q: %v", line, err)
		}
		frames = append(frames, frame)
	}
	return frames
}

func TestWorkerQueryStreamsFrames(t *testing.T) {
	provider := &stubProvider{responses: []models.AssistantMessage{{
		Content:      models.Blocks{models.TextBlock{Text: "hello"}},
		FinishReason: models.FinishStop,
	}}}
	name := registerStub(t, provider)

	worker := NewWorker(containers.AgentConfig{ID: "cfg", Provider: name}, "sess-1", nil, nil)
	frames := postQuery(t, worker.Handler(), `{"message":"hi"}`)

	var types []string
	for _, f := range frames {
		types = append(types, f["type"].(string))
	}
	joined := strings.Join(types, ",")
	if !strings.Contains(joined, "stream") || !strings.Contains(joined, "message") {
		t.Errorf("frame types = %v", types)
	}
	if types[len(types)-1] != "done" {
		t.Errorf("last frame = %q", types[len(types)-1])
	}

	for _, f := range frames {
		if f["type"] == "message" {
			if f["role"] != "assistant" || f["content"] != "hello" {
				t.Errorf("message frame = %v", f)
			}
		}
		if f["type"] == "stream" {
			if f["event_type"] != "text_delta" || f["content"] != "hello" {
				t.Errorf("stream frame = %v", f)
			}
		}
	}
}

func TestWorkerQueryToolFrames(t *testing.T) {
	provider := &stubProvider{responses: []models.AssistantMessage{
		{
			Content: models.Blocks{
				models.ToolUseBlock{ID: "t1", Name: "echo", Input: map[string]any{"v": "x"}},
			},
			FinishReason: models.FinishToolUse,
		},
		{
			Content:      models.Blocks{models.TextBlock{Text: "echoed"}},
			FinishReason: models.FinishStop,
		},
	}}
	name := registerStub(t, provider)

	echo := models.ToolDefinition{
		Name: "echo",
		Handler: func(ctx context.Context, input map[string]any) (any, error) {
			return input["v"], nil
		},
	}
	worker := NewWorker(containers.AgentConfig{ID: "cfg", Provider: name}, "sess-1",
		[]models.ToolDefinition{echo}, nil)
	frames := postQuery(t, worker.Handler(), `{"message":"run echo"}`)

	var sawStart, sawComplete bool
	for _, f := range frames {
		switch f["type"] {
		case "tool_start":
			sawStart = true
			if f["tool"] != "echo" {
				t.Errorf("tool_start = %v", f)
			}
		case "tool_complete":
			sawComplete = true
			if f["output"] != "x" {
				t.Errorf("tool_complete = %v", f)
			}
			if _, ok := f["duration_ms"]; !ok {
				t.Error("tool_complete missing duration_ms")
			}
		}
	}
	if !sawStart || !sawComplete {
		t.Errorf("tool frames missing: start=%v complete=%v", sawStart, sawComplete)
	}
}

func TestWorkerFiltersAllowedTools(t *testing.T) {
	noop := func(ctx context.Context, input map[string]any) (any, error) { return "ok", nil }
	tools := []models.ToolDefinition{
		{Name: "echo", Handler: noop},
		{Name: "memory", Handler: noop},
		{Name: "shell", Handler: noop},
	}

	worker := NewWorker(containers.AgentConfig{
		ID:           "cfg",
		Provider:     "stub",
		AllowedTools: []string{"memory"},
	}, "sess-1", tools, nil)
	if len(worker.tools) != 1 || worker.tools[0].Name != "memory" {
		t.Errorf("filtered tools = %+v", worker.tools)
	}

	// An empty allowed list permits every tool.
	worker = NewWorker(containers.AgentConfig{ID: "cfg", Provider: "stub"}, "sess-1", tools, nil)
	if len(worker.tools) != 3 {
		t.Errorf("unfiltered tools = %+v", worker.tools)
	}
}

func TestWorkerQueryDisallowedToolErrorFrame(t *testing.T) {
	provider := &stubProvider{responses: []models.AssistantMessage{
		{
			Content: models.Blocks{
				models.ToolUseBlock{ID: "t1", Name: "shell", Input: map[string]any{}},
			},
			FinishReason: models.FinishToolUse,
		},
		{
			Content:      models.Blocks{models.TextBlock{Text: "cannot"}},
			FinishReason: models.FinishStop,
		},
	}}
	name := registerStub(t, provider)

	shell := models.ToolDefinition{
		Name: "shell",
		Handler: func(ctx context.Context, input map[string]any) (any, error) {
			t.Error("filtered tool was executed")
			return nil, nil
		},
	}
	worker := NewWorker(containers.AgentConfig{
		ID:           "cfg",
		Provider:     name,
		AllowedTools: []string{"memory"},
	}, "sess-1", []models.ToolDefinition{shell}, nil)
	frames := postQuery(t, worker.Handler(), `{"message":"run shell"}`)

	var sawError bool
	for _, f := range frames {
		if f["type"] == "tool_error" {
			sawError = true
			if f["tool"] != "shell" {
				t.Errorf("tool_error frame = %v", f)
			}
			if msg, _ := f["error"].(string); msg == "" {
				t.Errorf("tool_error missing error: %v", f)
			}
		}
		if f["type"] == "tool_complete" {
			t.Errorf("unexpected tool_complete frame: %v", f)
		}
	}
	if !sawError {
		t.Errorf("no tool_error frame in %v", frames)
	}
}

func TestWorkerQueryValidation(t *testing.T) {
	worker := NewWorker(containers.AgentConfig{ID: "cfg", Provider: "stub"}, "sess-1", nil, nil)
	server := httptest.NewServer(worker.Handler())
	defer server.Close()

	resp, err := http.Post(server.URL+"/query", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty message status = %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/query")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d", resp.StatusCode)
	}
}

func TestWorkerHealthAndConfig(t *testing.T) {
	worker := NewWorker(containers.AgentConfig{
		ID:           "cfg-1",
		Name:         "Helper",
		Provider:     "claude",
		Model:        "claude-sonnet-4-20250514",
		AllowedTools: []string{"echo"},
	}, "sess-9", nil, nil)
	server := httptest.NewServer(worker.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	var health map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if health["status"] != "healthy" || health["session_id"] != "sess-9" || health["provider"] != "claude" {
		t.Errorf("health = %v", health)
	}

	resp, err = http.Get(server.URL + "/config")
	if err != nil {
		t.Fatal(err)
	}
	var cfg map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if cfg["id"] != "cfg-1" || cfg["model"] != "claude-sonnet-4-20250514" {
		t.Errorf("config = %v", cfg)
	}
}
