package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Runner dispatches events to registered matchers.
type Runner struct {
	matchers map[EventType][]Matcher
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewRunner creates a runner from an event to matcher-list table.
// The map may be nil.
func NewRunner(matchers map[EventType][]Matcher, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	table := make(map[EventType][]Matcher, len(matchers))
	for event, list := range matchers {
		table[event] = append([]Matcher(nil), list...)
	}
	return &Runner{
		matchers: table,
		logger:   logger.With("component", "hooks"),
	}
}

// Register appends a matcher for an event.
func (r *Runner) Register(event EventType, m Matcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matchers[event] = append(r.matchers[event], m)
}

// HasHooks reports whether any matcher is registered for the event.
func (r *Runner) HasHooks(event EventType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.matchers[event]) > 0
}

// Run fires every matching hook for the event in registration order and
// returns the merged output. Matchers with a non-empty Matcher are skipped
// when the input names a different tool. A Continue=false output
// short-circuits the pipeline. Hook errors and panics are logged and
// suppressed; timeouts skip the hook.
func (r *Runner) Run(ctx context.Context, event EventType, input Input) Output {
	r.mu.RLock()
	matchers := r.matchers[event]
	r.mu.RUnlock()

	input.HookEventName = event

	var merged Output
	for _, m := range matchers {
		if m.Matcher != "" && input.ToolName != "" && m.Matcher != input.ToolName {
			continue
		}
		for _, hook := range m.Hooks {
			out, err := r.callHook(ctx, hook, input, m.Timeout)
			if err != nil {
				if err == errHookTimeout {
					r.logger.Warn("hook timed out, skipping",
						"event", event,
						"tool", input.ToolName,
						"timeout", m.Timeout)
				} else {
					r.logger.Warn("hook error, suppressed",
						"event", event,
						"tool", input.ToolName,
						"error", err)
				}
				continue
			}
			merged = merge(merged, out)
			if !merged.ShouldContinue() {
				return merged
			}
		}
	}
	return merged
}

var errHookTimeout = fmt.Errorf("hook timeout")

type hookResult struct {
	out Output
	err error
}

func (r *Runner) callHook(ctx context.Context, hook Hook, input Input, timeout time.Duration) (Output, error) {
	if timeout <= 0 {
		return r.invoke(ctx, hook, input)
	}

	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan hookResult, 1)
	go func() {
		out, err := r.invoke(hctx, hook, input)
		done <- hookResult{out: out, err: err}
	}()

	select {
	case res := <-done:
		return res.out, res.err
	case <-hctx.Done():
		return Output{}, errHookTimeout
	}
}

func (r *Runner) invoke(ctx context.Context, hook Hook, input Input) (out Output, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("hook panic: %v", p)
		}
	}()
	return hook(ctx, input)
}
