package client

import (
	"context"

	"github.com/leofalp/fissio/providers/ai"
)

// SendFunc performs one complete model call. It is the unit threaded
// through the send middleware chain.
type SendFunc func(ctx context.Context, request ai.ChatRequest) (*ai.ChatResponse, error)

// StreamFunc opens one streamed model call.
type StreamFunc func(ctx context.Context, request ai.ChatRequest) (*ai.ChatStream, error)

// Middleware wraps the next SendFunc in the chain.
type Middleware func(next SendFunc) SendFunc

// StreamMiddleware wraps the next StreamFunc in the chain. It may wrap the
// returned ChatStream to observe the event sequence.
type StreamMiddleware func(next StreamFunc) StreamFunc

// MiddlewareConfig pairs a send middleware with its optional streaming
// counterpart. Send is required. A nil Stream means streamed calls skip this
// entry.
type MiddlewareConfig struct {
	Send   Middleware
	Stream StreamMiddleware
}

// buildSendChain wraps the provider call so that middlewares[0] runs first.
func buildSendChain(provider ai.Provider, middlewares []MiddlewareConfig) SendFunc {
	var next SendFunc = provider.SendMessage

	for i := len(middlewares) - 1; i >= 0; i-- {
		next = middlewares[i].Send(next)
	}

	return next
}

// buildStreamChain is buildSendChain for streams. The innermost call streams
// natively when the provider implements ai.StreamProvider and otherwise
// replays a synchronous response as a single-event stream.
func buildStreamChain(provider ai.Provider, middlewares []MiddlewareConfig) StreamFunc {
	next := StreamFunc(func(ctx context.Context, request ai.ChatRequest) (*ai.ChatStream, error) {
		if streamProvider, ok := provider.(ai.StreamProvider); ok {
			return streamProvider.StreamMessage(ctx, request)
		}

		response, err := provider.SendMessage(ctx, request)
		if err != nil {
			return nil, err
		}
		return ai.NewSingleEventStream(response), nil
	})

	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i].Stream != nil {
			next = middlewares[i].Stream(next)
		}
	}

	return next
}
