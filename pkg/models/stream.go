package models

// Stream event types emitted while a response is being generated.
const (
	EventContentBlockStart  = "content_block_start"
	EventContentBlockDelta  = "content_block_delta"
	EventContentBlockStop   = "content_block_stop"
	EventToolCallDelta      = "tool_call_delta"
	EventToolExecutionStart = "tool_execution_start"
	EventToolExecutionDone  = "tool_execution_complete"
	EventMessageStart       = "message_start"
	EventMessageStop        = "message_stop"
)

// StreamEvent is an incremental update during response generation. Delta
// holds event-specific fields keyed the way the wire protocol names them.
type StreamEvent struct {
	EventType    string         `json:"event_type"`
	Index        *int           `json:"index,omitempty"`
	Delta        map[string]any `json:"delta,omitempty"`
	ContentBlock ContentBlock   `json:"content_block,omitempty"`
}

func (StreamEvent) MessageType() string { return "stream_event" }
