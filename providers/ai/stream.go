package ai

import (
	"errors"
	"iter"
	"maps"
	"slices"
	"strings"
)

// ErrStreamStopped is returned by CollectWith when the consumer stopped early.
var ErrStreamStopped = errors.New("stream stopped by consumer")

// StreamEventType names the payload a StreamEvent carries.
type StreamEventType string

const (
	StreamEventContent  StreamEventType = "content"
	StreamEventToolCall StreamEventType = "tool_call"
	StreamEventUsage    StreamEventType = "usage"
	StreamEventDone     StreamEventType = "done"
)

// ToolCallDelta is a fragment of a streamed tool call. Index identifies the
// call; ID and Name arrive once, Arguments in pieces to be concatenated.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// StreamEvent is one delta of a streamed reply. Failures are not events:
// they arrive as the iterator's error value.
type StreamEvent struct {
	Type         StreamEventType `json:"type"`
	Content      string          `json:"content,omitempty"`
	ToolCall     *ToolCallDelta  `json:"tool_call,omitempty"`
	Usage        *Usage          `json:"usage,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"`
}

// ChatStream is a streamed reply. It must be consumed, through Iter, Collect
// or CollectWith, so that the provider can release the connection.
type ChatStream struct {
	events iter.Seq2[StreamEvent, error]
}

// NewChatStream wraps events, which yields deltas with a nil error and at
// most one trailing error.
func NewChatStream(events iter.Seq2[StreamEvent, error]) *ChatStream {
	return &ChatStream{events: events}
}

// NewSingleEventStream replays a complete response as a stream, for clients
// without native streaming.
func NewSingleEventStream(response *ChatResponse) *ChatStream {
	var events []StreamEvent
	if response.Content != "" {
		events = append(events, StreamEvent{Type: StreamEventContent, Content: response.Content})
	}
	for i, call := range response.ToolCalls {
		events = append(events, StreamEvent{
			Type:     StreamEventToolCall,
			ToolCall: &ToolCallDelta{Index: i, ID: call.ID, Name: call.Function.Name, Arguments: call.Function.Arguments},
		})
	}
	if response.Usage != nil {
		events = append(events, StreamEvent{Type: StreamEventUsage, Usage: response.Usage})
	}
	events = append(events, StreamEvent{Type: StreamEventDone, FinishReason: response.FinishReason})

	return NewChatStream(func(yield func(StreamEvent, error) bool) {
		for _, event := range events {
			if !yield(event, nil) {
				return
			}
		}
	})
}

// Iter returns the delta sequence.
//
//	for event, err := range stream.Iter() {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Print(event.Content)
//	}
func (s *ChatStream) Iter() iter.Seq2[StreamEvent, error] {
	return s.events
}

// Collect drains the stream into a ChatResponse. On a mid-stream error the
// partial response is returned with the error.
func (s *ChatStream) Collect() (*ChatResponse, error) {
	return s.CollectWith(nil)
}

// CollectWith is Collect that hands every non-empty content delta to
// onContent as it arrives. onContent returning false stops the stream with
// ErrStreamStopped.
func (s *ChatStream) CollectWith(onContent func(string) bool) (*ChatResponse, error) {
	var c collector
	for event, err := range s.events {
		if err != nil {
			return c.response(), err
		}
		c.add(event)
		if event.Type == StreamEventContent && event.Content != "" && onContent != nil && !onContent(event.Content) {
			return c.response(), ErrStreamStopped
		}
	}
	return c.response(), nil
}

type collector struct {
	content strings.Builder
	calls   map[int]*ToolCall
	usage   *Usage
	finish  string
}

func (c *collector) add(event StreamEvent) {
	switch event.Type {
	case StreamEventContent:
		c.content.WriteString(event.Content)
	case StreamEventToolCall:
		if event.ToolCall == nil {
			return
		}
		if c.calls == nil {
			c.calls = make(map[int]*ToolCall)
		}
		delta := event.ToolCall
		call, ok := c.calls[delta.Index]
		if !ok {
			call = &ToolCall{Type: "function"}
			c.calls[delta.Index] = call
		}
		if delta.ID != "" {
			call.ID = delta.ID
		}
		if delta.Name != "" {
			call.Function.Name = delta.Name
		}
		call.Function.Arguments += delta.Arguments
	case StreamEventUsage:
		if event.Usage != nil {
			c.usage = event.Usage
		}
	case StreamEventDone:
		c.finish = event.FinishReason
	}
}

// response orders tool calls by index.
func (c *collector) response() *ChatResponse {
	response := &ChatResponse{
		Content:      c.content.String(),
		Usage:        c.usage,
		FinishReason: c.finish,
	}
	for _, index := range slices.Sorted(maps.Keys(c.calls)) {
		response.ToolCalls = append(response.ToolCalls, *c.calls[index])
	}
	return response
}
