package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/leofalp/fissio/providers/ai"
)

// replyFunc answers the call-th request (zero based) a handler received.
type replyFunc func(request ai.ChatRequest, call int) (*ai.ChatResponse, error)

type handler struct {
	match string
	reply replyFunc
	calls int
}

// fakeClient is a client.ModelClient that answers by matching a substring of
// the system prompt. Handlers are tried in registration order.
type fakeClient struct {
	mu        sync.Mutex
	handlers  []*handler
	requests  []ai.ChatRequest
	delay     time.Duration
	chunkSize int
	active    int
	maxActive int
}

func newFakeClient() *fakeClient {
	return &fakeClient{chunkSize: 3}
}

func (c *fakeClient) on(match string, reply replyFunc) *fakeClient {
	c.handlers = append(c.handlers, &handler{match: match, reply: reply})
	return c
}

// onText answers with texts in turn, repeating the last one.
func (c *fakeClient) onText(match string, texts ...string) *fakeClient {
	return c.on(match, func(_ ai.ChatRequest, call int) (*ai.ChatResponse, error) {
		return textReply(texts[min(call, len(texts)-1)]), nil
	})
}

// onEcho answers with tag(last user message).
func (c *fakeClient) onEcho(match, tag string) *fakeClient {
	return c.on(match, func(request ai.ChatRequest, _ int) (*ai.ChatResponse, error) {
		return textReply(tag + "(" + lastUser(request) + ")"), nil
	})
}

func (c *fakeClient) Complete(ctx context.Context, request ai.ChatRequest) (*ai.ChatResponse, error) {
	c.mu.Lock()
	c.requests = append(c.requests, request)
	var h *handler
	for _, candidate := range c.handlers {
		if strings.Contains(request.SystemPrompt, candidate.match) {
			h = candidate
			break
		}
	}
	if h == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("no handler for system prompt %q", request.SystemPrompt)
	}
	call := h.calls
	h.calls++
	c.active++
	c.maxActive = max(c.maxActive, c.active)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.active--
		c.mu.Unlock()
	}()
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return h.reply(request, call)
}

// Stream replays the Complete answer in chunks of chunkSize bytes.
func (c *fakeClient) Stream(ctx context.Context, request ai.ChatRequest) (*ai.ChatStream, error) {
	response, err := c.Complete(ctx, request)
	if err != nil {
		return nil, err
	}
	size := max(c.chunkSize, 1)
	return ai.NewChatStream(func(yield func(ai.StreamEvent, error) bool) {
		content := response.Content
		for len(content) > 0 {
			n := min(size, len(content))
			if !yield(ai.StreamEvent{Type: ai.StreamEventContent, Content: content[:n]}, nil) {
				return
			}
			content = content[n:]
		}
		if response.Usage != nil {
			if !yield(ai.StreamEvent{Type: ai.StreamEventUsage, Usage: response.Usage}, nil) {
				return
			}
		}
		yield(ai.StreamEvent{Type: ai.StreamEventDone, FinishReason: "stop"}, nil)
	}), nil
}

// requestsFor returns the recorded requests whose system prompt contains match.
func (c *fakeClient) requestsFor(match string) []ai.ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	var matched []ai.ChatRequest
	for _, r := range c.requests {
		if strings.Contains(r.SystemPrompt, match) {
			matched = append(matched, r)
		}
	}
	return matched
}

func (c *fakeClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func textReply(content string) *ai.ChatResponse {
	return &ai.ChatResponse{
		Content: content,
		Usage:   &ai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

func toolCallReply(id, name, arguments string) *ai.ChatResponse {
	return &ai.ChatResponse{
		ToolCalls: []ai.ToolCall{{
			ID:       id,
			Type:     "function",
			Function: ai.ToolCallFunction{Name: name, Arguments: arguments},
		}},
		Usage: &ai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

func lastUser(request ai.ChatRequest) string {
	for i := len(request.Messages) - 1; i >= 0; i-- {
		if request.Messages[i].Role == ai.RoleUser {
			return request.Messages[i].Content
		}
	}
	return ""
}

func mustBuild(t *testing.T, b *Builder) *Graph {
	t.Helper()
	g, err := b.Build()
	require.NoError(t, err)
	return g
}

func spanIDs(trace *Trace) []string {
	var ids []string
	for _, s := range trace.Spans() {
		ids = append(ids, s.NodeID)
	}
	return ids
}
