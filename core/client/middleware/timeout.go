package middleware

import (
	"context"
	"time"

	"github.com/leofalp/fissio/core/client"
	"github.com/leofalp/fissio/providers/ai"
)

// NewTimeoutMiddleware bounds every model call by timeout.
//
// For streams the deadline covers the whole stream, not just the time to the
// first byte: the context is cancelled when the iterator finishes, fails, or
// the caller stops ranging over it. A shorter deadline already present on the
// caller's context still wins.
func NewTimeoutMiddleware(timeout time.Duration) client.MiddlewareConfig {
	send := func(next client.SendFunc) client.SendFunc {
		return func(ctx context.Context, request ai.ChatRequest) (*ai.ChatResponse, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, request)
		}
	}

	stream := func(next client.StreamFunc) client.StreamFunc {
		return func(ctx context.Context, request ai.ChatRequest) (*ai.ChatStream, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)

			opened, err := next(ctx, request)
			if err != nil {
				cancel()
				return nil, err
			}
			return cancelOnFinish(opened, cancel), nil
		}
	}

	return client.MiddlewareConfig{Send: send, Stream: stream}
}

// cancelOnFinish returns a stream that calls cancel once iteration is over.
func cancelOnFinish(stream *ai.ChatStream, cancel context.CancelFunc) *ai.ChatStream {
	return ai.NewChatStream(func(yield func(ai.StreamEvent, error) bool) {
		defer cancel()
		for event, err := range stream.Iter() {
			if !yield(event, err) || err != nil {
				return
			}
		}
	})
}
