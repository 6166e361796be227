package models

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// FinishReason describes why the model stopped generating.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolUse       FinishReason = "tool_use"
	FinishContentFilter FinishReason = "content_filter"
	FinishError         FinishReason = "error"
)

// Message is anything an agent stream can yield: conversation messages,
// stream events, and the terminal result.
type Message interface {
	MessageType() string
}

// UserMessage is input from the user. Content holds plain text; Blocks, when
// non-empty, takes precedence and carries structured content (e.g. images).
type UserMessage struct {
	Content string `json:"content,omitempty"`
	Blocks  Blocks `json:"blocks,omitempty"`
}

func (UserMessage) MessageType() string { return "user" }

// AssistantMessage is a model response composed of content blocks.
type AssistantMessage struct {
	Content      Blocks       `json:"content"`
	Model        string       `json:"model,omitempty"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`
}

func (AssistantMessage) MessageType() string { return "assistant" }

// Text returns the concatenated text content.
func (m AssistantMessage) Text() string { return m.Content.Text() }

// ToolUses returns the tool_use blocks in order.
func (m AssistantMessage) ToolUses() []ToolUseBlock { return m.Content.ToolUses() }

// SystemMessage sets conversation-level instructions.
type SystemMessage struct {
	Content string `json:"content"`
}

func (SystemMessage) MessageType() string { return "system" }

// ToolMessage carries a tool result keyed to the tool call that produced it.
type ToolMessage struct {
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id"`
}

func (ToolMessage) MessageType() string { return "tool" }

// Usage reports token accounting for a completion.
type Usage struct {
	PromptTokens        int  `json:"prompt_tokens"`
	CompletionTokens    int  `json:"completion_tokens"`
	TotalTokens         int  `json:"total_tokens"`
	CacheReadTokens     *int `json:"cache_read_tokens,omitempty"`
	CacheCreationTokens *int `json:"cache_creation_tokens,omitempty"`
}

// ResultMessage terminates a response stream. The engine emits exactly one
// per send; providers may emit their own, which the engine suppresses.
type ResultMessage struct {
	IsError      bool         `json:"is_error"`
	DurationMS   int64        `json:"duration_ms,omitempty"`
	NumTurns     int          `json:"num_turns,omitempty"`
	SessionID    string       `json:"session_id,omitempty"`
	TotalCostUSD *float64     `json:"total_cost_usd,omitempty"`
	Usage        *Usage       `json:"usage,omitempty"`
	Result       string       `json:"result,omitempty"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`
}

func (ResultMessage) MessageType() string { return "result" }
