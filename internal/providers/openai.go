package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/uagent/pkg/models"
)

const (
	openaiDefaultModel  = "gpt-4o"
	openaiContextLength = 128000
)

func init() {
	Register("openai", NewOpenAIProvider)
}

// OpenAIProvider implements the Provider contract over the OpenAI chat
// completions API. The same implementation backs the Azure dialect, which
// differs only in client construction and default model.
type OpenAIProvider struct {
	client       *openai.Client
	name         string
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
	logger       *slog.Logger
}

// NewOpenAIProvider builds a provider from config. Recognized keys:
// api_key (required), base_url, organization, default_model.
func NewOpenAIProvider(config map[string]any) (Provider, error) {
	apiKey := configString(config, "api_key")
	if apiKey == "" {
		return nil, &AuthenticationError{
			Provider: "openai",
			Message:  "OPENAI_API_KEY environment variable or api_key config required",
		}
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL := configString(config, "base_url"); baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	if org := configString(config, "organization"); org != "" {
		clientConfig.OrgID = org
	}

	model := configString(config, "default_model")
	if model == "" {
		model = openaiDefaultModel
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		name:         "openai",
		defaultModel: model,
		maxRetries:   defaultMaxRetries,
		retryDelay:   defaultRetryDelay,
		logger:       slog.Default().With("provider", "openai"),
	}, nil
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Features() Features {
	return Features{
		Streaming:             true,
		ToolCalling:           true,
		Vision:                true,
		Thinking:              false,
		JSONMode:              true,
		MaxContextLength:      openaiContextLength,
		SupportsSystemMessage: true,
	}
}

// Complete performs a blocking completion.
func (p *OpenAIProvider) Complete(ctx context.Context, messages []models.Message, req Request) (*models.AssistantMessage, error) {
	chatReq, err := p.buildRequest(messages, req, false)
	if err != nil {
		return nil, err
	}

	var resp openai.ChatCompletionResponse
	err = withRetry(ctx, p.maxRetries, p.retryDelay, func() error {
		var callErr error
		resp, callErr = p.client.CreateChatCompletion(ctx, chatReq)
		if callErr != nil {
			return p.wrapError(callErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: p.name, Message: "response contained no choices"}
	}
	return p.parseChoice(resp.Model, resp.Choices[0]), nil
}

// Stream performs a streaming completion. Parallel tool calls arrive as
// interleaved fragments keyed by index and are reassembled before the final
// AssistantMessage.
func (p *OpenAIProvider) Stream(ctx context.Context, messages []models.Message, req Request) (<-chan models.Message, error) {
	chatReq, err := p.buildRequest(messages, req, true)
	if err != nil {
		return nil, err
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, p.wrapError(err)
	}

	out := make(chan models.Message)
	go func() {
		defer close(out)
		defer stream.Close()
		p.processStream(ctx, stream, out)
	}()
	return out, nil
}

func (p *OpenAIProvider) buildRequest(messages []models.Message, req Request, stream bool) (openai.ChatCompletionRequest, error) {
	converted, err := p.formatMessages(messages, req.SystemPrompt)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    p.model(req.Model),
		Messages: converted,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		chatReq.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		chatReq.TopP = *req.TopP
	}
	if stream {
		chatReq.Stream = true
		chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}

	if len(req.Tools) > 0 {
		chatReq.Tools = p.formatTools(req.Tools)
		switch req.ToolChoice {
		case "":
		case ToolChoiceAuto, ToolChoiceRequired, ToolChoiceNone:
			chatReq.ToolChoice = req.ToolChoice
		default:
			chatReq.ToolChoice = openai.ToolChoice{
				Type:     openai.ToolTypeFunction,
				Function: openai.ToolFunction{Name: req.ToolChoice},
			}
		}
	}

	return chatReq, nil
}

// formatMessages converts engine messages to the flat OpenAI shape: system
// as a first-class role, assistant tool uses flattened into tool_calls, one
// tool-role message per result.
func (p *OpenAIProvider) formatMessages(messages []models.Message, systemPrompt string) ([]openai.ChatCompletionMessage, error) {
	var result []openai.ChatCompletionMessage
	if systemPrompt != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}

	for _, msg := range messages {
		switch m := msg.(type) {
		case models.SystemMessage:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: m.Content,
			})

		case models.UserMessage:
			if len(m.Blocks) > 0 {
				parts, err := p.formatParts(m.Blocks)
				if err != nil {
					return nil, err
				}
				result = append(result, openai.ChatCompletionMessage{
					Role:         openai.ChatMessageRoleUser,
					MultiContent: parts,
				})
			} else {
				result = append(result, openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleUser,
					Content: m.Content,
				})
			}

		case models.AssistantMessage:
			out := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
			for _, block := range m.Content {
				switch b := block.(type) {
				case models.TextBlock:
					out.Content += b.Text
				case models.ToolUseBlock:
					args, err := json.Marshal(b.Input)
					if err != nil {
						return nil, fmt.Errorf("%s: marshal tool input: %w", p.name, err)
					}
					out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
						ID:   b.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      b.Name,
							Arguments: string(args),
						},
					})
				}
			}
			result = append(result, out)

		case models.ToolMessage:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
		}
	}

	return result, nil
}

func (p *OpenAIProvider) formatParts(blocks models.Blocks) ([]openai.ChatMessagePart, error) {
	var parts []openai.ChatMessagePart
	for _, block := range blocks {
		switch b := block.(type) {
		case models.TextBlock:
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: b.Text,
			})
		case models.ImageBlock:
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: b.Source},
			})
		default:
			return nil, fmt.Errorf("%s: unsupported content block %T in user message", p.name, block)
		}
	}
	return parts, nil
}

func (p *OpenAIProvider) formatTools(tools []models.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}
	return result
}

func (p *OpenAIProvider) parseChoice(model string, choice openai.ChatCompletionChoice) *models.AssistantMessage {
	var blocks models.Blocks
	if choice.Message.Content != "" {
		blocks = append(blocks, models.TextBlock{Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		blocks = append(blocks, models.ToolUseBlock{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: parseToolInput([]byte(tc.Function.Arguments)),
		})
	}

	return &models.AssistantMessage{
		Content:      blocks,
		Model:        model,
		FinishReason: mapOpenAIFinishReason(string(choice.FinishReason)),
	}
}

// mapOpenAIFinishReason maps OpenAI finish reasons onto the shared enum.
func mapOpenAIFinishReason(reason string) models.FinishReason {
	switch reason {
	case "":
		return ""
	case "stop":
		return models.FinishStop
	case "length":
		return models.FinishLength
	case "tool_calls":
		return models.FinishToolUse
	case "content_filter":
		return models.FinishContentFilter
	default:
		return models.FinishStop
	}
}

// pendingToolCall accumulates one tool call's fragments across deltas.
type pendingToolCall struct {
	id   string
	name string
	args strings.Builder
}

func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- models.Message) {
	var (
		text         strings.Builder
		toolCalls    = map[int]*pendingToolCall{}
		model        string
		usage        *models.Usage
		finishReason string
	)

	emit := func(msg models.Message) bool {
		select {
		case out <- msg:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			emit(models.ResultMessage{IsError: true, Result: p.wrapError(err).Error()})
			return
		}

		if chunk.Model != "" {
			model = chunk.Model
		}
		if len(chunk.Choices) == 0 {
			// Usage rides on the closing chunk with no choices.
			if chunk.Usage != nil {
				usage = &models.Usage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.TotalTokens,
				}
			}
			continue
		}

		choice := chunk.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			text.WriteString(delta.Content)
			// Same delta type as the Anthropic dialect, so consumers key
			// text off one name.
			if !emit(models.StreamEvent{
				EventType: models.EventContentBlockDelta,
				Delta:     map[string]any{"type": "text_delta", "text": delta.Content},
			}) {
				return
			}
		}

		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			pending, ok := toolCalls[idx]
			if !ok {
				pending = &pendingToolCall{}
				toolCalls[idx] = pending
			}
			if tc.ID != "" {
				pending.id = tc.ID
			}
			if tc.Function.Name != "" {
				pending.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				pending.args.WriteString(tc.Function.Arguments)
			}

			eventIdx := idx
			if !emit(models.StreamEvent{
				EventType: models.EventToolCallDelta,
				Index:     &eventIdx,
				Delta: map[string]any{
					"type":      "tool_call",
					"id":        tc.ID,
					"name":      tc.Function.Name,
					"arguments": tc.Function.Arguments,
				},
			}) {
				return
			}
		}

		if choice.FinishReason != "" {
			finishReason = string(choice.FinishReason)
		}
	}

	var blocks models.Blocks
	if text.Len() > 0 {
		blocks = append(blocks, models.TextBlock{Text: text.String()})
	}

	indexes := make([]int, 0, len(toolCalls))
	for idx := range toolCalls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		pending := toolCalls[idx]
		blocks = append(blocks, models.ToolUseBlock{
			ID:    pending.id,
			Name:  pending.name,
			Input: parseToolInput([]byte(pending.args.String())),
		})
	}

	finish := mapOpenAIFinishReason(finishReason)
	if !emit(models.AssistantMessage{Content: blocks, Model: model, FinishReason: finish}) {
		return
	}
	emit(models.ResultMessage{IsError: false, Usage: usage, FinishReason: finish})
}

func (p *OpenAIProvider) model(requested string) string {
	if requested != "" {
		return requested
	}
	return p.defaultModel
}

// wrapError maps go-openai errors into the shared taxonomy.
func (p *OpenAIProvider) wrapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return ClassifyStatus(p.name, apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return ClassifyStatus(p.name, reqErr.HTTPStatusCode, reqErr.Error(), err)
	}

	return ClassifyTransport(p.name, err)
}
