package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/leofalp/fissio/internal/utils"
	"github.com/leofalp/fissio/providers/ai"
)

// streamEvent is one SSE payload. The "event:" line is ignored; the type
// field inside the JSON carries the same discriminator.
//
//	message_start → content_block_start → content_block_delta* →
//	content_block_stop → message_delta → message_stop
type streamEvent struct {
	Type         string            `json:"type"`
	Message      *messagesResponse `json:"message,omitempty"`
	Index        int               `json:"index"`
	ContentBlock *contentBlock     `json:"content_block,omitempty"`
	Delta        *streamDelta      `json:"delta,omitempty"`
	Usage        *usage            `json:"usage,omitempty"`
	Error        *streamError      `json:"error,omitempty"`
}

type streamDelta struct {
	Type        string `json:"type,omitempty"` // text_delta, input_json_delta
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

type streamError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// StreamMessage streams a Messages API response.
func (p *Provider) StreamMessage(ctx context.Context, request ai.ChatRequest) (*ai.ChatStream, error) {
	p.annotate(ctx, request, true)
	if p.apiKey == "" {
		return nil, ai.ErrMissingAPIKey
	}

	body := requestToMessages(request)
	body.Stream = true

	sseBody, err := utils.DoPostStream(ctx, p.client, p.baseURL+messagesEndpoint, "", body, p.headers()...)
	if err != nil {
		return nil, err
	}

	return ai.NewChatStream(func(yield func(ai.StreamEvent, error) bool) {
		state := &streamState{toolIndex: map[int]int{}}
		for sse, err := range utils.ReadSSE(ctx, sseBody) {
			if err != nil {
				yield(ai.StreamEvent{}, err)
				return
			}

			var event streamEvent
			if err := json.Unmarshal([]byte(sse.Data), &event); err != nil {
				yield(ai.StreamEvent{}, fmt.Errorf("failed to parse stream event %q: %w", sse.Event, err))
				return
			}
			if event.Type == "error" && event.Error != nil {
				yield(ai.StreamEvent{}, fmt.Errorf("anthropic stream error %s: %s", event.Error.Type, event.Error.Message))
				return
			}

			events, done := state.convert(&event)
			for _, converted := range events {
				if !yield(converted, nil) {
					return
				}
			}
			if done {
				return
			}
		}
	}), nil
}

// streamState maps content block indices onto tool call indices and keeps
// the input token count reported by message_start.
type streamState struct {
	toolIndex   map[int]int
	inputTokens int
}

func (s *streamState) convert(event *streamEvent) ([]ai.StreamEvent, bool) {
	switch event.Type {
	case "message_start":
		if event.Message != nil {
			s.inputTokens = event.Message.Usage.InputTokens
		}
	case "content_block_start":
		if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
			index := len(s.toolIndex)
			s.toolIndex[event.Index] = index
			return []ai.StreamEvent{{
				Type:     ai.StreamEventToolCall,
				ToolCall: &ai.ToolCallDelta{Index: index, ID: event.ContentBlock.ID, Name: event.ContentBlock.Name},
			}}, false
		}
	case "content_block_delta":
		if event.Delta == nil {
			return nil, false
		}
		switch event.Delta.Type {
		case "text_delta":
			return []ai.StreamEvent{{Type: ai.StreamEventContent, Content: event.Delta.Text}}, false
		case "input_json_delta":
			index, ok := s.toolIndex[event.Index]
			if !ok {
				return nil, false
			}
			return []ai.StreamEvent{{
				Type:     ai.StreamEventToolCall,
				ToolCall: &ai.ToolCallDelta{Index: index, Arguments: event.Delta.PartialJSON},
			}}, false
		}
	case "message_delta":
		var events []ai.StreamEvent
		if event.Usage != nil {
			events = append(events, ai.StreamEvent{
				Type: ai.StreamEventUsage,
				Usage: &ai.Usage{
					PromptTokens:     s.inputTokens,
					CompletionTokens: event.Usage.OutputTokens,
					TotalTokens:      s.inputTokens + event.Usage.OutputTokens,
				},
			})
		}
		if event.Delta != nil && event.Delta.StopReason != "" {
			events = append(events, ai.StreamEvent{Type: ai.StreamEventDone, FinishReason: normalizeStopReason(event.Delta.StopReason)})
		}
		return events, false
	case "message_stop":
		return nil, true
	}
	return nil, false
}
