package anthropic

import (
	"encoding/json"
	"strings"

	"github.com/leofalp/fissio/providers/ai"
)

/*
	MESSAGES API - REQUEST
*/

type messagesRequest struct {
	Model       string     `json:"model"`
	Messages    []message  `json:"messages"`
	System      string     `json:"system,omitempty"`
	MaxTokens   int        `json:"max_tokens"`
	Temperature *float64   `json:"temperature,omitempty"`
	TopP        *float64   `json:"top_p,omitempty"`
	Tools       []toolSpec `json:"tools,omitempty"`
	Stream      bool       `json:"stream,omitempty"`
}

type message struct {
	Role    string         `json:"role"` // "user" or "assistant"
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type      string          `json:"type"` // text, tool_use, tool_result
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type toolSpec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema"`
}

/*
	MESSAGES API - RESPONSE
*/

type messagesResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      usage          `json:"usage"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

/*
	CONVERSION
*/

// requestToMessages maps the generic conversation onto Messages API turns.
// Consecutive tool results are folded into a single user turn, as the API
// requires every tool_result of one assistant turn to arrive together.
func requestToMessages(request ai.ChatRequest) messagesRequest {
	req := messagesRequest{
		Model:     request.Model,
		System:    request.SystemPrompt,
		MaxTokens: defaultMaxTokens,
	}
	if cfg := request.GenerationConfig; cfg != nil {
		if cfg.MaxTokens > 0 {
			req.MaxTokens = cfg.MaxTokens
		}
		if cfg.Temperature > 0 {
			temperature := float64(cfg.Temperature)
			req.Temperature = &temperature
		}
		if cfg.TopP > 0 {
			topP := float64(cfg.TopP)
			req.TopP = &topP
		}
	}

	for _, msg := range request.Messages {
		switch msg.Role {
		case ai.RoleSystem:
			if req.System != "" {
				req.System += "\n\n"
			}
			req.System += msg.Content
		case ai.RoleTool:
			block := contentBlock{Type: "tool_result", ToolUseID: msg.ToolCallID, Content: msg.Content}
			if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == "user" && isToolResultTurn(req.Messages[n-1]) {
				req.Messages[n-1].Content = append(req.Messages[n-1].Content, block)
			} else {
				req.Messages = append(req.Messages, message{Role: "user", Content: []contentBlock{block}})
			}
		case ai.RoleAssistant:
			var blocks []contentBlock
			if strings.TrimSpace(msg.Content) != "" {
				blocks = append(blocks, contentBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				input := json.RawMessage(tc.Function.Arguments)
				if !json.Valid(input) {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, contentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Function.Name, Input: input})
			}
			req.Messages = append(req.Messages, message{Role: "assistant", Content: blocks})
		default:
			req.Messages = append(req.Messages, message{Role: "user", Content: []contentBlock{{Type: "text", Text: msg.Content}}})
		}
	}

	for _, tl := range request.Tools {
		var schema any = map[string]any{"type": "object", "properties": map[string]any{}}
		if tl.Parameters != nil {
			schema = tl.Parameters
		}
		req.Tools = append(req.Tools, toolSpec{Name: tl.Name, Description: tl.Description, InputSchema: schema})
	}
	return req
}

func isToolResultTurn(m message) bool {
	return len(m.Content) > 0 && m.Content[0].Type == "tool_result"
}

func messagesToGeneric(resp messagesResponse) *ai.ChatResponse {
	out := &ai.ChatResponse{
		Id:           resp.ID,
		Model:        resp.Model,
		FinishReason: normalizeStopReason(resp.StopReason),
		Usage: &ai.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			arguments := string(block.Input)
			if arguments == "" {
				arguments = "{}"
			}
			out.ToolCalls = append(out.ToolCalls, ai.ToolCall{
				ID:       block.ID,
				Type:     "function",
				Function: ai.ToolCallFunction{Name: block.Name, Arguments: arguments},
			})
		}
	}
	out.Content = text.String()
	return out
}

// normalizeStopReason maps Anthropic stop reasons onto the OpenAI vocabulary
// used throughout the rest of the code.
func normalizeStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}
