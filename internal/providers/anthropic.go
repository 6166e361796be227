package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/uagent/pkg/models"
)

const (
	anthropicDefaultModel     = "claude-sonnet-4-20250514"
	anthropicContextLength    = 200000
	minThinkingBudget         = 1024
	defaultThinkingBudget     = 10000
	defaultAnthropicMaxTokens = 4096

	// Consecutive empty stream events before the stream is treated as
	// malformed. Based on the stream reader guard in sashabaranov/go-openai.
	maxEmptyStreamEvents = 300
)

func init() {
	Register("claude", NewAnthropicProvider)
	// "anthropic" is an alias for the same dialect.
	Register("anthropic", NewAnthropicProvider)
}

// AnthropicProvider implements the Provider contract over the Anthropic
// Messages API. System prompts travel as a top-level parameter, tool results
// ride in user turns, and streaming is block-oriented.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
	logger       *slog.Logger
}

// NewAnthropicProvider builds a provider from config. Recognized keys:
// api_key (required), base_url, default_model.
func NewAnthropicProvider(config map[string]any) (Provider, error) {
	apiKey := configString(config, "api_key")
	if apiKey == "" {
		return nil, &AuthenticationError{
			Provider: "claude",
			Message:  "ANTHROPIC_API_KEY environment variable or api_key config required",
		}
	}

	options := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := configString(config, "base_url"); baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	model := configString(config, "default_model")
	if model == "" {
		model = anthropicDefaultModel
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		defaultModel: model,
		maxRetries:   defaultMaxRetries,
		retryDelay:   defaultRetryDelay,
		logger:       slog.Default().With("provider", "claude"),
	}, nil
}

func (p *AnthropicProvider) Name() string { return "claude" }

func (p *AnthropicProvider) Features() Features {
	return Features{
		Streaming:             true,
		ToolCalling:           true,
		Vision:                true,
		Thinking:              true,
		JSONMode:              true,
		MaxContextLength:      anthropicContextLength,
		SupportsSystemMessage: true,
	}
}

// Complete performs a blocking completion.
func (p *AnthropicProvider) Complete(ctx context.Context, messages []models.Message, req Request) (*models.AssistantMessage, error) {
	params, err := p.buildParams(messages, req)
	if err != nil {
		return nil, err
	}

	var message *anthropic.Message
	err = withRetry(ctx, p.maxRetries, p.retryDelay, func() error {
		var callErr error
		message, callErr = p.client.Messages.New(ctx, params)
		if callErr != nil {
			return p.wrapError(callErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return p.parseMessage(message), nil
}

// Stream performs a streaming completion. The returned channel yields
// StreamEvents, then the assembled AssistantMessage, then a ResultMessage.
func (p *AnthropicProvider) Stream(ctx context.Context, messages []models.Message, req Request) (<-chan models.Message, error) {
	params, err := p.buildParams(messages, req)
	if err != nil {
		return nil, err
	}

	out := make(chan models.Message)
	go func() {
		defer close(out)
		stream := p.client.Messages.NewStreaming(ctx, params)
		p.processStream(ctx, stream, out)
	}()
	return out, nil
}

func (p *AnthropicProvider) buildParams(messages []models.Message, req Request) (anthropic.MessageNewParams, error) {
	system, converted, err := p.formatMessages(messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}
	if req.SystemPrompt != "" {
		system = req.SystemPrompt
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req.Model)),
		Messages:  converted,
		MaxTokens: int64(maxTokens),
	}

	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*req.Temperature))
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(float64(*req.TopP))
	}

	if len(req.Tools) > 0 {
		tools, err := p.formatTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools

		switch req.ToolChoice {
		case "":
		case ToolChoiceAuto:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		case ToolChoiceRequired:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		case ToolChoiceNone:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
		default:
			params.ToolChoice = anthropic.ToolChoiceParamOfTool(req.ToolChoice)
		}
	}

	if req.EnableThinking {
		budget := int64(req.MaxThinkingTokens)
		if budget < minThinkingBudget {
			budget = defaultThinkingBudget
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}

	return params, nil
}

// formatMessages converts engine messages to Anthropic message params.
// System messages lift into the returned system string (last one wins); tool
// messages become user turns carrying a tool_result block.
func (p *AnthropicProvider) formatMessages(messages []models.Message) (string, []anthropic.MessageParam, error) {
	var system string
	var result []anthropic.MessageParam

	for _, msg := range messages {
		switch m := msg.(type) {
		case models.SystemMessage:
			system = m.Content

		case models.UserMessage:
			var content []anthropic.ContentBlockParamUnion
			if len(m.Blocks) > 0 {
				blocks, err := p.formatBlocks(m.Blocks)
				if err != nil {
					return "", nil, err
				}
				content = blocks
			} else {
				content = append(content, anthropic.NewTextBlock(m.Content))
			}
			result = append(result, anthropic.NewUserMessage(content...))

		case models.AssistantMessage:
			blocks, err := p.formatBlocks(m.Content)
			if err != nil {
				return "", nil, err
			}
			result = append(result, anthropic.NewAssistantMessage(blocks...))

		case models.ToolMessage:
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false),
			))
		}
	}

	return system, result, nil
}

func (p *AnthropicProvider) formatBlocks(blocks models.Blocks) ([]anthropic.ContentBlockParamUnion, error) {
	var result []anthropic.ContentBlockParamUnion
	for _, block := range blocks {
		switch b := block.(type) {
		case models.TextBlock:
			result = append(result, anthropic.NewTextBlock(b.Text))

		case models.ImageBlock:
			result = append(result, imageBlockParam(b))

		case models.ThinkingBlock:
			result = append(result, anthropic.NewThinkingBlock(b.Signature, b.Thinking))

		case models.ToolUseBlock:
			input := b.Input
			if input == nil {
				input = map[string]any{}
			}
			result = append(result, anthropic.NewToolUseBlock(b.ID, input, b.Name))

		case models.ToolResultBlock:
			result = append(result, anthropic.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError))

		default:
			return nil, fmt.Errorf("anthropic: unsupported content block %T", block)
		}
	}
	return result, nil
}

// imageBlockParam maps an ImageBlock to Anthropic's source union: data: URIs
// become base64 sources, anything else a URL source.
func imageBlockParam(b models.ImageBlock) anthropic.ContentBlockParamUnion {
	if strings.HasPrefix(b.Source, "data:") {
		data := b.Source
		if idx := strings.Index(data, ","); idx >= 0 {
			data = data[idx+1:]
		}
		mediaType := b.MediaType
		if mediaType == "" {
			mediaType = models.DefaultImageMediaType
		}
		return anthropic.ContentBlockParamUnion{
			OfImage: &anthropic.ImageBlockParam{
				Source: anthropic.ImageBlockParamSourceUnion{
					OfBase64: &anthropic.Base64ImageSourceParam{
						MediaType: anthropic.Base64ImageSourceMediaType(mediaType),
						Data:      data,
					},
				},
			},
		}
	}
	return anthropic.ContentBlockParamUnion{
		OfImage: &anthropic.ImageBlockParam{
			Source: anthropic.ImageBlockParamSourceUnion{
				OfURL: &anthropic.URLImageSourceParam{URL: b.Source},
			},
		},
	}
}

func (p *AnthropicProvider) formatTools(tools []models.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		raw, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, toolParam)
	}
	return result, nil
}

func (p *AnthropicProvider) parseMessage(message *anthropic.Message) *models.AssistantMessage {
	var blocks models.Blocks
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			blocks = append(blocks, models.TextBlock{Text: block.AsText().Text})
		case "tool_use":
			tu := block.AsToolUse()
			blocks = append(blocks, models.ToolUseBlock{
				ID:    tu.ID,
				Name:  tu.Name,
				Input: parseToolInput([]byte(tu.Input)),
			})
		case "thinking":
			th := block.AsThinking()
			blocks = append(blocks, models.ThinkingBlock{
				Thinking:  th.Thinking,
				Signature: th.Signature,
			})
		}
	}

	return &models.AssistantMessage{
		Content:      blocks,
		Model:        string(message.Model),
		FinishReason: mapAnthropicStopReason(string(message.StopReason)),
	}
}

// mapAnthropicStopReason maps Anthropic stop reasons onto the shared enum.
func mapAnthropicStopReason(stopReason string) models.FinishReason {
	switch stopReason {
	case "":
		return ""
	case "end_turn", "stop_sequence":
		return models.FinishStop
	case "max_tokens":
		return models.FinishLength
	case "tool_use":
		return models.FinishToolUse
	default:
		return models.FinishStop
	}
}

// parseToolInput decodes accumulated tool input JSON. Malformed or empty
// input degrades to an empty map so a bad argument stream never aborts the
// whole response.
func parseToolInput(raw []byte) map[string]any {
	input := map[string]any{}
	if len(raw) == 0 {
		return input
	}
	if err := json.Unmarshal(raw, &input); err != nil {
		return map[string]any{}
	}
	return input
}

// streamState accumulates content blocks across stream events.
type streamState struct {
	blocks       models.Blocks
	text         strings.Builder
	thinking     strings.Builder
	thinkingSig  string
	toolID       string
	toolName     string
	toolInput    strings.Builder
	inText       bool
	inThinking   bool
	inToolUse    bool
	model        string
	stopReason   string
	inputTokens  int
	outputTokens int
	cacheRead    int
	cacheCreate  int
}

func (s *streamState) finishBlock() {
	switch {
	case s.inText:
		s.blocks = append(s.blocks, models.TextBlock{Text: s.text.String()})
		s.text.Reset()
		s.inText = false
	case s.inToolUse:
		s.blocks = append(s.blocks, models.ToolUseBlock{
			ID:    s.toolID,
			Name:  s.toolName,
			Input: parseToolInput([]byte(s.toolInput.String())),
		})
		s.toolInput.Reset()
		s.inToolUse = false
	case s.inThinking:
		s.blocks = append(s.blocks, models.ThinkingBlock{
			Thinking:  s.thinking.String(),
			Signature: s.thinkingSig,
		})
		s.thinking.Reset()
		s.thinkingSig = ""
		s.inThinking = false
	}
}

func (s *streamState) usage() *models.Usage {
	u := &models.Usage{
		PromptTokens:     s.inputTokens,
		CompletionTokens: s.outputTokens,
		TotalTokens:      s.inputTokens + s.outputTokens,
	}
	if s.cacheRead > 0 {
		v := s.cacheRead
		u.CacheReadTokens = &v
	}
	if s.cacheCreate > 0 {
		v := s.cacheCreate
		u.CacheCreationTokens = &v
	}
	return u
}

// processStream drives the block-oriented stream state machine and emits
// StreamEvents, the assembled AssistantMessage and a terminal ResultMessage.
func (p *AnthropicProvider) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- models.Message) {
	state := &streamState{}
	emptyEvents := 0

	emit := func(msg models.Message) bool {
		select {
		case out <- msg:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		emit(models.ResultMessage{IsError: true, Result: p.wrapError(err).Error()})
	}

	for stream.Next() {
		event := stream.Current()
		processed := true

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			state.model = string(start.Message.Model)
			state.inputTokens = int(start.Message.Usage.InputTokens)
			state.cacheRead = int(start.Message.Usage.CacheReadInputTokens)
			state.cacheCreate = int(start.Message.Usage.CacheCreationInputTokens)

		case "content_block_start":
			blockStart := event.AsContentBlockStart()
			index := int(blockStart.Index)
			block := blockStart.ContentBlock
			delta := map[string]any{"type": block.Type}

			switch block.Type {
			case "text":
				state.inText = true
			case "tool_use":
				tu := block.AsToolUse()
				state.inToolUse = true
				state.toolID = tu.ID
				state.toolName = tu.Name
				state.toolInput.Reset()
				delta["id"] = tu.ID
				delta["name"] = tu.Name
			case "thinking":
				state.inThinking = true
			}
			if !emit(models.StreamEvent{EventType: models.EventContentBlockStart, Index: &index, Delta: delta}) {
				return
			}

		case "content_block_delta":
			blockDelta := event.AsContentBlockDelta()
			index := int(blockDelta.Index)
			delta := blockDelta.Delta

			switch delta.Type {
			case "text_delta":
				state.text.WriteString(delta.Text)
				if !emit(models.StreamEvent{
					EventType: models.EventContentBlockDelta,
					Index:     &index,
					Delta:     map[string]any{"type": "text_delta", "text": delta.Text},
				}) {
					return
				}
			case "input_json_delta":
				state.toolInput.WriteString(delta.PartialJSON)
				if !emit(models.StreamEvent{
					EventType: models.EventContentBlockDelta,
					Index:     &index,
					Delta:     map[string]any{"type": "input_json_delta", "partial_json": delta.PartialJSON},
				}) {
					return
				}
			case "thinking_delta":
				state.thinking.WriteString(delta.Thinking)
				if !emit(models.StreamEvent{
					EventType: models.EventContentBlockDelta,
					Index:     &index,
					Delta:     map[string]any{"type": "thinking_delta", "thinking": delta.Thinking},
				}) {
					return
				}
			case "signature_delta":
				state.thinkingSig = delta.Signature
				if !emit(models.StreamEvent{
					EventType: models.EventContentBlockDelta,
					Index:     &index,
					Delta:     map[string]any{"type": "signature_delta", "signature": delta.Signature},
				}) {
					return
				}
			default:
				processed = false
			}

		case "content_block_stop":
			blockStop := event.AsContentBlockStop()
			index := int(blockStop.Index)
			state.finishBlock()
			if !emit(models.StreamEvent{EventType: models.EventContentBlockStop, Index: &index}) {
				return
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Delta.StopReason != "" {
				state.stopReason = string(messageDelta.Delta.StopReason)
			}
			if messageDelta.Usage.OutputTokens > 0 {
				state.outputTokens = int(messageDelta.Usage.OutputTokens)
			}

		case "message_stop":
			finish := mapAnthropicStopReason(state.stopReason)
			emit(models.AssistantMessage{
				Content:      state.blocks,
				Model:        state.model,
				FinishReason: finish,
			})
			emit(models.ResultMessage{
				IsError:      false,
				Usage:        state.usage(),
				FinishReason: finish,
			})
			return

		case "error":
			fail(errors.New("anthropic stream error"))
			return

		default:
			processed = false
		}

		if processed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				fail(fmt.Errorf("stream appears malformed: received %d consecutive empty events", emptyEvents))
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		fail(err)
		return
	}

	// Stream ended without message_stop. Flush what we have.
	state.finishBlock()
	finish := mapAnthropicStopReason(state.stopReason)
	emit(models.AssistantMessage{Content: state.blocks, Model: state.model, FinishReason: finish})
	emit(models.ResultMessage{IsError: false, Usage: state.usage(), FinishReason: finish})
}

func (p *AnthropicProvider) model(requested string) string {
	if requested != "" {
		return requested
	}
	return p.defaultModel
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// wrapError maps SDK errors into the shared taxonomy.
func (p *AnthropicProvider) wrapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		message := ""
		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				message = payload.Error.Message
			}
		}
		if message == "" {
			message = "anthropic request failed"
		}
		return ClassifyStatus("claude", apiErr.StatusCode, message, err)
	}

	return ClassifyTransport("claude", err)
}
