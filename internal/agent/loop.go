package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/haasonsaas/uagent/internal/hooks"
	"github.com/haasonsaas/uagent/pkg/models"
)

// toolOutputPreview caps the output echoed in tool_execution_complete
// events. The full output still reaches the model.
const toolOutputPreview = 500

// run drives one Send to completion: provider turns, tool execution, and
// exactly one terminal ResultMessage.
func (c *Client) run(ctx context.Context, out chan<- models.Message) {
	started := time.Now()
	turns := 0
	var finishReason models.FinishReason

	defer func() {
		c.mu.Lock()
		c.active = false
		c.mu.Unlock()
		close(out)
	}()

	emit := func(msg models.Message) bool {
		select {
		case out <- msg:
			return true
		case <-ctx.Done():
			return false
		}
	}

	finish := func(errText string) {
		result := models.ResultMessage{
			IsError:      errText != "",
			DurationMS:   time.Since(started).Milliseconds(),
			NumTurns:     turns,
			SessionID:    c.SessionID(),
			Result:       errText,
			FinishReason: finishReason,
		}
		emit(result)
	}

	maxTurns := c.opts.maxTurns()
	for turns < maxTurns {
		turns++

		msgs := c.snapshotHistory()
		pre := c.hooks.Run(ctx, hooks.EventPreCompletion, hooks.Input{SessionID: c.SessionID()})
		if !pre.ShouldContinue() {
			finish(stopText(pre))
			return
		}
		if extra := pre.HookSpecific.AdditionalContext; extra != "" {
			msgs = append(msgs, models.SystemMessage{Content: extra})
		}

		assistant, err := c.completeTurn(ctx, msgs, emit)
		if err != nil {
			c.hooks.Run(ctx, hooks.EventOnError, hooks.Input{
				SessionID: c.SessionID(),
				Error:     err.Error(),
				ErrorType: fmt.Sprintf("%T", err),
			})
			finish(err.Error())
			return
		}
		if assistant == nil {
			break
		}
		finishReason = assistant.FinishReason

		c.appendHistory(*assistant)
		c.hooks.Run(ctx, hooks.EventPostCompletion, hooks.Input{SessionID: c.SessionID()})

		uses := assistant.ToolUses()
		if len(uses) == 0 {
			break
		}

		for _, use := range uses {
			if stop, reason := c.executeTool(ctx, use, emit); stop {
				finish(reason)
				return
			}
		}
	}

	finish("")
}

// completeTurn runs one provider call, forwarding stream events and
// suppressing provider-level result messages. Returns the assistant
// message, or nil when the stream ended without one.
func (c *Client) completeTurn(ctx context.Context, msgs []models.Message, emit func(models.Message) bool) (*models.AssistantMessage, error) {
	c.mu.Lock()
	provider := c.provider
	c.mu.Unlock()
	if provider == nil {
		return nil, fmt.Errorf("client is not connected")
	}

	req := c.buildRequest()
	req.SystemPrompt = ""

	if !c.opts.streaming() {
		assistant, err := provider.Complete(ctx, msgs, req)
		if err != nil {
			return nil, err
		}
		if !emit(*assistant) {
			return nil, ctx.Err()
		}
		return assistant, nil
	}

	ch, err := provider.Stream(ctx, msgs, req)
	if err != nil {
		return nil, err
	}

	var assistant *models.AssistantMessage
	for msg := range ch {
		switch m := msg.(type) {
		case models.AssistantMessage:
			am := m
			assistant = &am
			if !emit(m) {
				return nil, ctx.Err()
			}
		case models.ResultMessage:
			// The engine is the sole source of terminal results; provider
			// results only surface stream failures.
			if m.IsError {
				return nil, fmt.Errorf("provider stream failed: %s", m.Result)
			}
		default:
			if !emit(msg) {
				return nil, ctx.Err()
			}
		}
	}
	return assistant, nil
}

// executeTool runs one tool_use block through the permission and hook
// pipeline. It returns stop=true when a hook halts the whole operation.
func (c *Client) executeTool(ctx context.Context, use models.ToolUseBlock, emit func(models.Message) bool) (stop bool, reason string) {
	started := time.Now()
	input := use.Input
	sessionID := c.SessionID()

	emit(models.StreamEvent{
		EventType: models.EventToolExecutionStart,
		Delta: map[string]any{
			"type":        "tool_execution_start",
			"tool_use_id": use.ID,
			"tool_name":   use.Name,
			"tool_input":  input,
		},
	})

	// Errors ride the same terminal event as successes, marked by the
	// delta type so consumers need only match tool_execution_complete.
	errorEvent := func(message string) {
		emit(models.StreamEvent{
			EventType: models.EventToolExecutionDone,
			Delta: map[string]any{
				"type":        "tool_execution_error",
				"tool_use_id": use.ID,
				"tool_name":   use.Name,
				"error":       message,
				"duration_ms": time.Since(started).Milliseconds(),
			},
		})
	}

	completeEvent := func(output string) {
		if len(output) > toolOutputPreview {
			output = output[:toolOutputPreview]
		}
		emit(models.StreamEvent{
			EventType: models.EventToolExecutionDone,
			Delta: map[string]any{
				"type":        "tool_execution_complete",
				"tool_use_id": use.ID,
				"tool_name":   use.Name,
				"output":      output,
				"duration_ms": time.Since(started).Milliseconds(),
			},
		})
	}

	toolDenied := func(message string) {
		c.appendHistory(models.ToolMessage{Content: message, ToolCallID: use.ID})
		errorEvent(message)
	}

	pre := c.hooks.Run(ctx, hooks.EventPreToolUse, hooks.Input{
		SessionID: sessionID,
		ToolName:  use.Name,
		ToolInput: input,
	})
	if !pre.ShouldContinue() {
		errorEvent(stopText(pre))
		return true, stopText(pre)
	}

	decided := pre.HookSpecific.PermissionDecision != ""
	if pre.HookSpecific.PermissionDecision == hooks.DecisionDeny {
		message := "Permission denied: " + pre.HookSpecific.PermissionDecisionReason
		toolDenied(message)
		return false, ""
	}

	switch c.opts.PermissionMode {
	case PermissionDenyAll:
		toolDenied("Permission denied: all tools are disabled")
		return false, ""
	case PermissionAutoAllow:
		// Skip the callback.
	default:
		if !decided && c.opts.CanUseTool != nil {
			result := c.opts.CanUseTool(ctx, use.Name, input)
			if !result.Allowed {
				toolDenied("Permission denied: " + result.Message)
				return false, ""
			}
			if result.UpdatedInput != nil {
				input = result.UpdatedInput
			}
		}
	}

	tool, err := c.registry.Get(use.Name)
	if err != nil || tool.Handler == nil {
		toolDenied(fmt.Sprintf("Tool '%s' not found or has no handler", use.Name))
		return false, ""
	}

	if pre.ModifiedInput != nil {
		input = pre.ModifiedInput
	}

	result, err := tool.Call(ctx, input)
	if err != nil {
		c.hooks.Run(ctx, hooks.EventOnError, hooks.Input{
			SessionID: sessionID,
			ToolName:  use.Name,
			Error:     err.Error(),
			ErrorType: fmt.Sprintf("%T", err),
		})
		message := "Error executing tool: " + err.Error()
		c.appendHistory(models.ToolMessage{Content: message, ToolCallID: use.ID})
		errorEvent(message)
		return false, ""
	}

	content := stringifyResult(result)

	post := c.hooks.Run(ctx, hooks.EventPostToolUse, hooks.Input{
		SessionID:    sessionID,
		ToolName:     use.Name,
		ToolInput:    input,
		ToolResponse: content,
	})
	if extra := post.HookSpecific.AdditionalContext; extra != "" {
		content += "\n\n[Hook note: " + extra + "]"
	}
	if !post.ShouldContinue() {
		c.appendHistory(models.ToolMessage{Content: content, ToolCallID: use.ID})
		completeEvent(content)
		return true, stopText(post)
	}

	c.appendHistory(models.ToolMessage{Content: content, ToolCallID: use.ID})
	completeEvent(content)
	return false, ""
}

func stringifyResult(result any) string {
	if s, ok := result.(string); ok {
		return s
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(raw)
}

func stopText(out hooks.Output) string {
	if out.StopReason != "" {
		return out.StopReason
	}
	return "stopped by hook"
}
