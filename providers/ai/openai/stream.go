package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/leofalp/fissio/internal/utils"
	"github.com/leofalp/fissio/providers/ai"
)

// chatCompletionStreamChunk is one SSE payload of a streamed completion.
type chatCompletionStreamChunk struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []streamChoice `json:"choices"`
	Usage   *chatUsage     `json:"usage,omitempty"` // final chunk only, when include_usage is set
}

type streamChoice struct {
	Index        int         `json:"index"`
	Delta        streamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type streamDelta struct {
	Role      string               `json:"role,omitempty"`
	Content   *string              `json:"content,omitempty"`
	ToolCalls []streamToolCallPart `json:"tool_calls,omitempty"`
}

// streamToolCallPart carries the id and name on its first chunk and argument
// fragments afterwards.
type streamToolCallPart struct {
	Index    int                  `json:"index"`
	ID       string               `json:"id,omitempty"`
	Function chatToolCallFunction `json:"function"`
}

// StreamMessage streams a chat completion as SSE deltas.
func (p *Provider) StreamMessage(ctx context.Context, request ai.ChatRequest) (*ai.ChatStream, error) {
	p.annotate(ctx, request, true)
	if p.requireKey && p.apiKey == "" {
		return nil, ai.ErrMissingAPIKey
	}

	chatRequest := requestToChatCompletion(request)
	chatRequest.Stream = true
	chatRequest.StreamOptions = &streamOptions{IncludeUsage: true}

	sseBody, err := utils.DoPostStream(ctx, p.client, p.baseURL+chatCompletionsEndpoint, p.apiKey, chatRequest)
	if err != nil {
		return nil, err
	}

	return ai.NewChatStream(func(yield func(ai.StreamEvent, error) bool) {
		for sse, err := range utils.ReadSSE(ctx, sseBody) {
			if err != nil {
				yield(ai.StreamEvent{}, err)
				return
			}

			var chunk chatCompletionStreamChunk
			if err := json.Unmarshal([]byte(sse.Data), &chunk); err != nil {
				yield(ai.StreamEvent{}, fmt.Errorf("failed to parse streaming chunk: %w", err))
				return
			}
			for _, event := range chunkToStreamEvents(&chunk) {
				if !yield(event, nil) {
					return
				}
			}
		}
	}), nil
}

// chunkToStreamEvents converts one chunk into zero or more events; a single
// chunk can carry content, tool calls and usage at once.
func chunkToStreamEvents(chunk *chatCompletionStreamChunk) []ai.StreamEvent {
	var events []ai.StreamEvent

	if chunk.Usage != nil {
		events = append(events, ai.StreamEvent{
			Type: ai.StreamEventUsage,
			Usage: &ai.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			},
		})
	}

	for _, choice := range chunk.Choices {
		if choice.Delta.Content != nil && *choice.Delta.Content != "" {
			events = append(events, ai.StreamEvent{Type: ai.StreamEventContent, Content: *choice.Delta.Content})
		}
		for _, part := range choice.Delta.ToolCalls {
			events = append(events, ai.StreamEvent{
				Type: ai.StreamEventToolCall,
				ToolCall: &ai.ToolCallDelta{
					Index:     part.Index,
					ID:        part.ID,
					Name:      part.Function.Name,
					Arguments: part.Function.Arguments,
				},
			})
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			events = append(events, ai.StreamEvent{Type: ai.StreamEventDone, FinishReason: *choice.FinishReason})
		}
	}
	return events
}
