package client

import (
	"context"
	"fmt"

	"github.com/leofalp/fissio/core/parse"
	"github.com/leofalp/fissio/providers/ai"
)

// StructuredResponse is a parsed JSON reply together with the raw response
// it came from.
type StructuredResponse[T any] struct {
	Data *T
	Raw  *ai.ChatResponse
}

// CompleteAs sends request and parses the reply into T. Models often wrap
// JSON in prose or code fences and produce slightly broken syntax; parsing
// goes through parse.ParseStringAs, which extracts and repairs it.
//
// On a parse failure the raw response is still returned so the caller can
// fall back to keyword matching.
func CompleteAs[T any](ctx context.Context, c ModelClient, request ai.ChatRequest) (*StructuredResponse[T], error) {
	response, err := c.Complete(ctx, request)
	if err != nil {
		return nil, err
	}

	data, err := parse.ParseStringAs[T](response.Content)
	if err != nil {
		return &StructuredResponse[T]{Raw: response}, fmt.Errorf("parsing structured reply: %w", err)
	}
	return &StructuredResponse[T]{Data: &data, Raw: response}, nil
}
