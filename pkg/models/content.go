package models

import (
	"encoding/json"
	"fmt"
)

// DefaultImageMediaType is used when an ImageBlock does not specify one.
const DefaultImageMediaType = "image/png"

// ContentBlock is one element of a message's content. Concrete block types
// are TextBlock, ImageBlock, ThinkingBlock, ToolUseBlock and ToolResultBlock.
// Blocks serialize with a "type" discriminator field.
type ContentBlock interface {
	BlockType() string
}

// TextBlock is a plain text segment.
type TextBlock struct {
	Text string `json:"text"`
}

func (TextBlock) BlockType() string { return "text" }

// ImageBlock references an image by URL or data: URI.
type ImageBlock struct {
	Source    string `json:"source"`
	MediaType string `json:"media_type,omitempty"`
}

func (ImageBlock) BlockType() string { return "image" }

// NewImageBlock builds an ImageBlock with the default media type.
func NewImageBlock(source string) ImageBlock {
	return ImageBlock{Source: source, MediaType: DefaultImageMediaType}
}

// ThinkingBlock carries extended reasoning content. The signature is opaque
// provider state and must be echoed back on multi-turn conversations.
type ThinkingBlock struct {
	Thinking  string `json:"thinking"`
	Signature string `json:"signature,omitempty"`
}

func (ThinkingBlock) BlockType() string { return "thinking" }

// ToolUseBlock is a model request to invoke a tool.
type ToolUseBlock struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

func (ToolUseBlock) BlockType() string { return "tool_use" }

// ToolResultBlock carries the output of a tool invocation back to the model.
type ToolResultBlock struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

func (ToolResultBlock) BlockType() string { return "tool_result" }

// Blocks is a JSON-serializable list of content blocks.
type Blocks []ContentBlock

// MarshalJSON encodes each block with its "type" discriminator.
func (b Blocks) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(b))
	for _, block := range b {
		raw, err := MarshalBlock(block)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a list of discriminated blocks.
func (b *Blocks) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	blocks := make(Blocks, 0, len(raws))
	for _, raw := range raws {
		block, err := UnmarshalBlock(raw)
		if err != nil {
			return err
		}
		blocks = append(blocks, block)
	}
	*b = blocks
	return nil
}

// Text concatenates the text of all TextBlocks.
func (b Blocks) Text() string {
	var out string
	for _, block := range b {
		if tb, ok := block.(TextBlock); ok {
			out += tb.Text
		}
	}
	return out
}

// ToolUses returns the tool_use blocks in order.
func (b Blocks) ToolUses() []ToolUseBlock {
	var uses []ToolUseBlock
	for _, block := range b {
		if tu, ok := block.(ToolUseBlock); ok {
			uses = append(uses, tu)
		}
	}
	return uses
}

// MarshalBlock serializes a single content block with its discriminator.
func MarshalBlock(block ContentBlock) ([]byte, error) {
	inner, err := json.Marshal(block)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(inner, &fields); err != nil {
		return nil, err
	}
	fields["type"] = block.BlockType()
	return json.Marshal(fields)
}

// UnmarshalBlock decodes a single discriminated content block. Unknown
// discriminators are an error.
func UnmarshalBlock(data []byte) (ContentBlock, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case "text":
		var b TextBlock
		err := json.Unmarshal(data, &b)
		return b, err
	case "image":
		var b ImageBlock
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		if b.MediaType == "" {
			b.MediaType = DefaultImageMediaType
		}
		return b, nil
	case "thinking":
		var b ThinkingBlock
		err := json.Unmarshal(data, &b)
		return b, err
	case "tool_use":
		var b ToolUseBlock
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		if b.Input == nil {
			b.Input = map[string]any{}
		}
		return b, nil
	case "tool_result":
		var b ToolResultBlock
		err := json.Unmarshal(data, &b)
		return b, err
	default:
		return nil, fmt.Errorf("unknown content block type %q", head.Type)
	}
}
