// Package agent implements the conversation engine: a multi-turn loop over
// a model provider with tool execution, hooks, and permission gating.
package agent

import (
	"context"
	"log/slog"

	"github.com/haasonsaas/uagent/internal/hooks"
	"github.com/haasonsaas/uagent/pkg/models"
)

const defaultMaxTurns = 10

// PermissionMode controls how tool calls are authorized.
type PermissionMode string

const (
	// PermissionAsk routes tool calls through the CanUseTool callback.
	PermissionAsk PermissionMode = "ask"
	// PermissionAutoAllow runs every tool without consulting CanUseTool.
	PermissionAutoAllow PermissionMode = "auto_allow"
	// PermissionDenyAll rejects every tool call.
	PermissionDenyAll PermissionMode = "deny_all"
)

// PermissionResult is the outcome of a tool permission check.
type PermissionResult struct {
	Allowed bool
	// Message explains a denial; it is surfaced to the model.
	Message string
	// UpdatedInput, when non-nil on an allow, replaces the tool input.
	UpdatedInput map[string]any
}

// Allow permits the tool call, optionally rewriting its input.
func Allow(updatedInput map[string]any) PermissionResult {
	return PermissionResult{Allowed: true, UpdatedInput: updatedInput}
}

// Deny rejects the tool call with a message for the model.
func Deny(message string) PermissionResult {
	return PermissionResult{Allowed: false, Message: message}
}

// CanUseToolFunc decides whether a tool call may proceed.
type CanUseToolFunc func(ctx context.Context, toolName string, input map[string]any) PermissionResult

// Options configures a Client.
type Options struct {
	// Provider names a registered provider ("claude", "openai", ...).
	// Defaults to "claude".
	Provider string

	// ProviderConfig overrides the resolved provider configuration.
	ProviderConfig map[string]any

	// Model overrides the provider default.
	Model string

	SystemPrompt string
	Tools        []models.ToolDefinition

	MaxTokens   int
	Temperature *float32
	TopP        *float32
	ToolChoice  string

	// Stream controls whether provider responses are streamed. Defaults
	// to true; set to a false pointer to use blocking completions.
	Stream *bool

	// MaxTurns bounds the tool loop. Defaults to 10.
	MaxTurns int

	EnableThinking    bool
	MaxThinkingTokens int

	Hooks          map[hooks.EventType][]hooks.Matcher
	CanUseTool     CanUseToolFunc
	PermissionMode PermissionMode

	// SessionID identifies the conversation. Generated when empty.
	SessionID string

	Logger *slog.Logger
}

func (o Options) streaming() bool {
	return o.Stream == nil || *o.Stream
}

func (o Options) maxTurns() int {
	if o.MaxTurns > 0 {
		return o.MaxTurns
	}
	return defaultMaxTurns
}

func (o Options) providerName() string {
	if o.Provider != "" {
		return o.Provider
	}
	return "claude"
}
