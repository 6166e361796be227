// Package hooks provides an event-driven hook pipeline for agent lifecycle
// events. Hooks can observe events, inject context, rewrite tool inputs,
// and veto tool execution.
package hooks

import (
	"context"
	"time"
)

// EventType identifies the category of hook event.
type EventType string

const (
	EventSessionStart   EventType = "SessionStart"
	EventPreToolUse     EventType = "PreToolUse"
	EventPostToolUse    EventType = "PostToolUse"
	EventPreCompletion  EventType = "PreCompletion"
	EventPostCompletion EventType = "PostCompletion"
	EventOnError        EventType = "OnError"
)

// Permission decisions a hook can return for PreToolUse events.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
	DecisionAsk   = "ask"
)

// Input is the payload delivered to a hook. Only the fields relevant to
// the firing event are populated.
type Input struct {
	SessionID     string         `json:"session_id"`
	HookEventName EventType      `json:"hook_event_name"`
	ToolName      string         `json:"tool_name,omitempty"`
	ToolInput     map[string]any `json:"tool_input,omitempty"`
	ToolResponse  string         `json:"tool_response,omitempty"`
	Prompt        string         `json:"prompt,omitempty"`
	Error         string         `json:"error,omitempty"`
	ErrorType     string         `json:"error_type,omitempty"`
}

// Specific carries event-specific output fields.
type Specific struct {
	// PermissionDecision is consulted for PreToolUse: "allow", "deny", or
	// "ask". A "deny" wins over any later hook's decision.
	PermissionDecision       string `json:"permissionDecision,omitempty"`
	PermissionDecisionReason string `json:"permissionDecisionReason,omitempty"`

	// AdditionalContext is appended to the conversation as extra context.
	AdditionalContext string `json:"additionalContext,omitempty"`
}

// Output is what a hook returns. Zero fields mean "no opinion".
type Output struct {
	// Continue, when set to false, stops the whole operation.
	Continue *bool `json:"continue,omitempty"`

	// StopReason explains a Continue=false.
	StopReason string `json:"stopReason,omitempty"`

	// Reason is a free-form note surfaced in logs.
	Reason string `json:"reason,omitempty"`

	// SystemMessage is shown to the user but not the model.
	SystemMessage string `json:"systemMessage,omitempty"`

	// ModifiedInput replaces the tool input for PreToolUse events.
	ModifiedInput map[string]any `json:"modifiedInput,omitempty"`

	HookSpecific Specific `json:"hookSpecificOutput,omitempty"`
}

// ShouldContinue reports whether the operation may proceed.
func (o Output) ShouldContinue() bool {
	return o.Continue == nil || *o.Continue
}

// Hook inspects an event and returns an output. Errors are logged and
// suppressed by the runner.
type Hook func(ctx context.Context, input Input) (Output, error)

// Matcher binds hooks to a tool name pattern. An empty Matcher matches
// every tool (and non-tool events).
type Matcher struct {
	Matcher string
	Hooks   []Hook
	Timeout time.Duration
}

// merge folds b into a. Later non-zero fields override earlier ones, with
// one exception: a permission decision of "deny" is sticky.
func merge(a, b Output) Output {
	if b.Continue != nil {
		a.Continue = b.Continue
	}
	if b.StopReason != "" {
		a.StopReason = b.StopReason
	}
	if b.Reason != "" {
		a.Reason = b.Reason
	}
	if b.SystemMessage != "" {
		a.SystemMessage = b.SystemMessage
	}
	if b.ModifiedInput != nil {
		a.ModifiedInput = b.ModifiedInput
	}
	if b.HookSpecific.PermissionDecision != "" && a.HookSpecific.PermissionDecision != DecisionDeny {
		a.HookSpecific.PermissionDecision = b.HookSpecific.PermissionDecision
		a.HookSpecific.PermissionDecisionReason = b.HookSpecific.PermissionDecisionReason
	}
	if b.HookSpecific.AdditionalContext != "" {
		a.HookSpecific.AdditionalContext = b.HookSpecific.AdditionalContext
	}
	return a
}
