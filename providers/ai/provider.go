package ai

import (
	"context"
	"errors"
)

// ErrMissingAPIKey is returned by adapters that require a key and have none.
var ErrMissingAPIKey = errors.New("API key is not set")

// Provider is implemented by every model adapter.
type Provider interface {
	// Name identifies the adapter in logs and traces ("openai", "anthropic").
	Name() string

	// SendMessage sends a chat request and returns the completed response.
	// A response may carry tool calls instead of content when request.Tools
	// is non-empty.
	SendMessage(ctx context.Context, request ChatRequest) (*ChatResponse, error)
}

// StreamProvider is implemented by adapters that can stream. Callers detect
// it with a type assertion and fall back to SendMessage otherwise.
type StreamProvider interface {
	Provider
	// StreamMessage returns a ChatStream of incremental deltas. Errors before
	// the first byte are returned directly; mid-stream errors are yielded by
	// the iterator.
	StreamMessage(ctx context.Context, request ChatRequest) (*ChatStream, error)
}
