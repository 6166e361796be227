package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/haasonsaas/uagent/pkg/models"
)

// sseServer returns an httptest server that answers every request with the
// given SSE lines.
func sseServer(t *testing.T, events []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST request, got %s", r.Method)
		}
		if r.Header.Get("x-api-key") == "" {
			t.Error("missing x-api-key header")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("expected http.Flusher")
		}
		for _, event := range events {
			fmt.Fprintln(w, event)
			flusher.Flush()
		}
	}))
}

func newTestAnthropic(t *testing.T, baseURL string) Provider {
	t.Helper()
	provider, err := NewAnthropicProvider(map[string]any{
		"api_key":  "test-key",
		"base_url": baseURL,
	})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	return provider
}

func collect(t *testing.T, ch <-chan models.Message) []models.Message {
	t.Helper()
	var msgs []models.Message
	for msg := range ch {
		msgs = append(msgs, msg)
	}
	return msgs
}

func TestNewAnthropicProviderRequiresAPIKey(t *testing.T) {
	_, err := NewAnthropicProvider(nil)
	if err == nil {
		t.Fatal("expected error for missing api key")
	}
	var authErr *AuthenticationError
	if !asError(err, &authErr) {
		t.Fatalf("expected AuthenticationError, got %T: %v", err, err)
	}
}

func TestAnthropicStreamText(t *testing.T) {
	server := sseServer(t, []string{
		`event: message_start`,
		`data: {"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-20250514","usage":{"input_tokens":12}}}`,
		``,
		`event: content_block_start`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" world"}}`,
		``,
		`event: content_block_stop`,
		`data: {"type":"content_block_stop","index":0}`,
		``,
		`event: message_delta`,
		`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":5}}`,
		``,
		`event: message_stop`,
		`data: {"type":"message_stop"}`,
		``,
	})
	defer server.Close()

	provider := newTestAnthropic(t, server.URL)
	ch, err := provider.Stream(context.Background(), []models.Message{
		models.UserMessage{Content: "hi"},
	}, Request{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	msgs := collect(t, ch)

	var deltas string
	var assistant *models.AssistantMessage
	var results []models.ResultMessage
	for _, msg := range msgs {
		switch m := msg.(type) {
		case models.StreamEvent:
			if m.EventType == models.EventContentBlockDelta {
				if text, ok := m.Delta["text"].(string); ok {
					deltas += text
				}
			}
		case models.AssistantMessage:
			am := m
			assistant = &am
		case models.ResultMessage:
			results = append(results, m)
		}
	}

	if assistant == nil {
		t.Fatal("no assistant message in stream")
	}
	if got := assistant.Text(); got != "Hello world" {
		t.Errorf("assistant text = %q, want %q", got, "Hello world")
	}
	// Concatenated deltas must match the final content.
	if deltas != assistant.Text() {
		t.Errorf("deltas %q != final text %q", deltas, assistant.Text())
	}
	if assistant.FinishReason != models.FinishStop {
		t.Errorf("finish reason = %q, want stop", assistant.FinishReason)
	}
	if len(results) != 1 {
		t.Fatalf("expected exactly one result message, got %d", len(results))
	}
	result := results[0]
	if result.IsError {
		t.Error("result marked as error")
	}
	if result.Usage == nil || result.Usage.PromptTokens != 12 || result.Usage.CompletionTokens != 5 {
		t.Errorf("usage = %+v", result.Usage)
	}
}

func TestAnthropicStreamToolUse(t *testing.T) {
	server := sseServer(t, []string{
		`event: message_start`,
		`data: {"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-20250514","usage":{"input_tokens":3}}}`,
		``,
		`event: content_block_start`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"tool_1","name":"get_weather","input":{}}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"city\":"}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"London\"}"}}`,
		``,
		`event: content_block_stop`,
		`data: {"type":"content_block_stop","index":0}`,
		``,
		`event: message_delta`,
		`data: {"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":9}}`,
		``,
		`event: message_stop`,
		`data: {"type":"message_stop"}`,
		``,
	})
	defer server.Close()

	provider := newTestAnthropic(t, server.URL)
	ch, err := provider.Stream(context.Background(), []models.Message{
		models.UserMessage{Content: "weather?"},
	}, Request{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	var assistant *models.AssistantMessage
	for _, msg := range collect(t, ch) {
		if am, ok := msg.(models.AssistantMessage); ok {
			assistant = &am
		}
	}
	if assistant == nil {
		t.Fatal("no assistant message")
	}
	uses := assistant.ToolUses()
	if len(uses) != 1 {
		t.Fatalf("expected 1 tool use, got %d", len(uses))
	}
	if uses[0].ID != "tool_1" || uses[0].Name != "get_weather" {
		t.Errorf("tool use = %+v", uses[0])
	}
	if uses[0].Input["city"] != "London" {
		t.Errorf("tool input = %#v", uses[0].Input)
	}
	if assistant.FinishReason != models.FinishToolUse {
		t.Errorf("finish reason = %q, want tool_use", assistant.FinishReason)
	}
}

func TestAnthropicStreamMalformedToolJSON(t *testing.T) {
	server := sseServer(t, []string{
		`event: message_start`,
		`data: {"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"m"}}`,
		``,
		`event: content_block_start`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"tool_1","name":"t","input":{}}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"city\": truncated"}}`,
		``,
		`event: content_block_stop`,
		`data: {"type":"content_block_stop","index":0}`,
		``,
		`event: message_delta`,
		`data: {"type":"message_delta","delta":{"stop_reason":"tool_use"}}`,
		``,
		`event: message_stop`,
		`data: {"type":"message_stop"}`,
		``,
	})
	defer server.Close()

	provider := newTestAnthropic(t, server.URL)
	ch, err := provider.Stream(context.Background(), []models.Message{
		models.UserMessage{Content: "x"},
	}, Request{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	for _, msg := range collect(t, ch) {
		if am, ok := msg.(models.AssistantMessage); ok {
			uses := am.ToolUses()
			if len(uses) != 1 {
				t.Fatalf("expected 1 tool use, got %d", len(uses))
			}
			// Malformed input degrades to an empty map, never an error.
			if len(uses[0].Input) != 0 {
				t.Errorf("expected empty input for malformed JSON, got %#v", uses[0].Input)
			}
			return
		}
	}
	t.Fatal("no assistant message")
}

func TestAnthropicFormatMessages(t *testing.T) {
	provider := newTestAnthropic(t, "http://127.0.0.1:0").(*AnthropicProvider)

	system, converted, err := provider.formatMessages([]models.Message{
		models.SystemMessage{Content: "be helpful"},
		models.UserMessage{Content: "hi"},
		models.AssistantMessage{Content: models.Blocks{
			models.TextBlock{Text: "checking"},
			models.ToolUseBlock{ID: "t1", Name: "lookup", Input: map[string]any{"q": "x"}},
		}},
		models.ToolMessage{Content: "found it", ToolCallID: "t1"},
	})
	if err != nil {
		t.Fatalf("formatMessages: %v", err)
	}
	if system != "be helpful" {
		t.Errorf("system = %q", system)
	}
	// System message is lifted out, so three wire messages remain and the
	// tool result is a user turn.
	if len(converted) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(converted))
	}
	if converted[2].Role != "user" {
		t.Errorf("tool result role = %q, want user", converted[2].Role)
	}
}

func TestMapAnthropicStopReason(t *testing.T) {
	cases := map[string]models.FinishReason{
		"end_turn":      models.FinishStop,
		"max_tokens":    models.FinishLength,
		"tool_use":      models.FinishToolUse,
		"stop_sequence": models.FinishStop,
		"something_new": models.FinishStop,
	}
	for in, want := range cases {
		if got := mapAnthropicStopReason(in); got != want {
			t.Errorf("mapAnthropicStopReason(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAnthropicAuthErrorClassification(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	defer server.Close()

	provider := newTestAnthropic(t, server.URL)
	_, err := provider.Complete(context.Background(), []models.Message{
		models.UserMessage{Content: "hi"},
	}, Request{})
	if err == nil {
		t.Fatal("expected error")
	}
	var authErr *AuthenticationError
	if !asError(err, &authErr) {
		t.Fatalf("expected AuthenticationError, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), "invalid x-api-key") {
		t.Errorf("error message lost: %v", err)
	}
}
