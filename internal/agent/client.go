package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/haasonsaas/uagent/internal/agent/tools"
	"github.com/haasonsaas/uagent/internal/config"
	"github.com/haasonsaas/uagent/internal/hooks"
	"github.com/haasonsaas/uagent/internal/providers"
	"github.com/haasonsaas/uagent/pkg/models"
)

// Client is a stateful multi-turn conversation with a provider. It owns the
// message history and drives the tool execution loop.
type Client struct {
	opts     Options
	logger   *slog.Logger
	hooks    *hooks.Runner
	registry *tools.Registry

	mu        sync.Mutex
	provider  providers.Provider
	history   []models.Message
	connected bool
	sessionID string
	recv      chan models.Message
	active    bool
}

// NewClient creates a client from options. Call Connect before Send.
func NewClient(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "agent")

	registry := tools.NewRegistry()
	for _, def := range opts.Tools {
		def := def
		registry.Register(&tools.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
			Handler:     def.Handler,
		})
	}

	return &Client{
		opts:     opts,
		logger:   logger,
		hooks:    hooks.NewRunner(opts.Hooks, logger),
		registry: registry,
	}
}

// Connect resolves the provider and prepares the conversation. It is
// idempotent.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	providerConfig := c.opts.ProviderConfig
	if providerConfig == nil {
		providerConfig = config.New().ProviderConfig(c.opts.providerName())
	}

	provider, err := providers.Get(c.opts.providerName(), providerConfig)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	c.provider = provider

	c.sessionID = c.opts.SessionID
	if c.sessionID == "" {
		c.sessionID = uuid.NewString()
	}

	if c.opts.SystemPrompt != "" {
		c.history = append(c.history, models.SystemMessage{Content: c.opts.SystemPrompt})
	}

	out := c.hooks.Run(ctx, hooks.EventSessionStart, hooks.Input{SessionID: c.sessionID})
	if extra := out.HookSpecific.AdditionalContext; extra != "" {
		c.history = append(c.history, models.SystemMessage{Content: extra})
	}

	c.connected = true
	c.logger.Info("connected",
		"session_id", c.sessionID,
		"provider", provider.Name(),
		"tools", c.registry.Len())
	return nil
}

// Disconnect releases the provider. History is retained so the client can
// reconnect and continue.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.provider = nil
}

// Send submits a user message and starts generating the response. Messages
// arrive on the channel returned by Receive; each Send produces exactly one
// terminal ResultMessage.
func (c *Client) Send(ctx context.Context, prompt string) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return fmt.Errorf("client is not connected")
	}
	if c.active {
		c.mu.Unlock()
		return fmt.Errorf("a response is already in progress")
	}
	c.history = append(c.history, models.UserMessage{Content: prompt})
	c.recv = make(chan models.Message, 64)
	c.active = true
	c.mu.Unlock()

	go c.run(ctx, c.recv)
	return nil
}

// Receive returns the channel carrying the response to the last Send. The
// channel is closed after the terminal ResultMessage.
func (c *Client) Receive() <-chan models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recv
}

// ReceiveAll drains the current response into a slice.
func (c *Client) ReceiveAll(ctx context.Context) ([]models.Message, error) {
	ch := c.Receive()
	if ch == nil {
		return nil, fmt.Errorf("no response in progress")
	}
	var msgs []models.Message
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return msgs, nil
			}
			msgs = append(msgs, msg)
		case <-ctx.Done():
			return msgs, ctx.Err()
		}
	}
}

// Query sends a prompt and collects the full response.
func (c *Client) Query(ctx context.Context, prompt string) ([]models.Message, error) {
	if err := c.Send(ctx, prompt); err != nil {
		return nil, err
	}
	return c.ReceiveAll(ctx)
}

// SetProvider switches the client to a different provider mid-conversation.
func (c *Client) SetProvider(name string, providerConfig map[string]any) error {
	provider, err := providers.Get(name, providerConfig)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.provider = provider
	c.opts.Provider = name
	c.opts.ProviderConfig = providerConfig
	return nil
}

// SetModel overrides the model for subsequent turns.
func (c *Client) SetModel(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.Model = model
}

// ClearHistory drops the conversation history, keeping system messages.
func (c *Client) ClearHistory() {
	c.mu.Lock()
	defer c.mu.Unlock()
	var kept []models.Message
	for _, msg := range c.history {
		if _, ok := msg.(models.SystemMessage); ok {
			kept = append(kept, msg)
		}
	}
	c.history = kept
}

// SeedHistory appends prior messages, for resuming a conversation whose
// transcript lives elsewhere. Not valid while a response is in progress.
func (c *Client) SeedHistory(msgs ...models.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return fmt.Errorf("cannot seed history while a response is in progress")
	}
	c.history = append(c.history, msgs...)
	return nil
}

// History returns a copy of the conversation history.
func (c *Client) History() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Message, len(c.history))
	copy(out, c.history)
	return out
}

// TextResponse returns the text of the most recent assistant message.
func (c *Client) TextResponse() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.history) - 1; i >= 0; i-- {
		if am, ok := c.history[i].(models.AssistantMessage); ok {
			return am.Text()
		}
	}
	return ""
}

// SessionID returns the session identifier, set on Connect.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) appendHistory(msg models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, msg)
}

func (c *Client) snapshotHistory() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Message, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Client) buildRequest() providers.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return providers.Request{
		Model:             c.opts.Model,
		MaxTokens:         c.opts.MaxTokens,
		Temperature:       c.opts.Temperature,
		TopP:              c.opts.TopP,
		Tools:             c.registry.Definitions(),
		ToolChoice:        c.opts.ToolChoice,
		EnableThinking:    c.opts.EnableThinking,
		MaxThinkingTokens: c.opts.MaxThinkingTokens,
	}
}
