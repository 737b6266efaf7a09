package client

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/leofalp/fissio/providers/ai"
	"github.com/leofalp/fissio/providers/observability"
	"github.com/leofalp/fissio/providers/observability/slogobs"
)

func TestObservabilityMiddleware_Send(t *testing.T) {
	var buf bytes.Buffer
	observer := slogobs.New(slogobs.WithOutput(&buf), slogobs.WithLevel(slog.LevelDebug))

	var sawSpan, sawObserver bool
	next := func(ctx context.Context, _ ai.ChatRequest) (*ai.ChatResponse, error) {
		sawSpan = observability.SpanFromContext(ctx) != nil
		sawObserver = observability.ObserverFromContext(ctx) != nil
		return &ai.ChatResponse{
			Content:      "answer",
			FinishReason: "stop",
			Usage:        &ai.Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10},
		}, nil
	}

	mw := NewObservabilityMiddleware(observer)
	if _, err := mw.Send(next)(context.Background(), ai.ChatRequest{Model: "gpt-4o-mini"}); err != nil {
		t.Fatal(err)
	}

	if !sawSpan || !sawObserver {
		t.Error("span and observer should be in the provider context")
	}
	if got := observer.CounterValue(observability.MetricClientRequestCount); got != 1 {
		t.Errorf("request count = %d", got)
	}
	if got := observer.CounterValue(observability.MetricClientTokensPrompt); got != 7 {
		t.Errorf("prompt tokens = %d", got)
	}
	if !strings.Contains(buf.String(), "llm call completed") {
		t.Errorf("missing completion log:\n%s", buf.String())
	}
}

func TestObservabilityMiddleware_SendError(t *testing.T) {
	var buf bytes.Buffer
	observer := slogobs.New(slogobs.WithOutput(&buf))

	failing := func(context.Context, ai.ChatRequest) (*ai.ChatResponse, error) { return nil, errors.New("quota") }
	if _, err := NewObservabilityMiddleware(observer).Send(failing)(context.Background(), ai.ChatRequest{}); err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(buf.String(), "llm call failed") {
		t.Errorf("missing failure log:\n%s", buf.String())
	}
	if got := observer.CounterValue(observability.MetricClientRequestCount); got != 1 {
		t.Errorf("request count = %d", got)
	}
}

func TestObservabilityMiddleware_Stream(t *testing.T) {
	observer := slogobs.New(slogobs.WithOutput(&bytes.Buffer{}))
	next := func(context.Context, ai.ChatRequest) (*ai.ChatStream, error) {
		return ai.NewSingleEventStream(&ai.ChatResponse{
			Content: "streamed",
			Usage:   &ai.Usage{PromptTokens: 2, CompletionTokens: 4, TotalTokens: 6},
		}), nil
	}

	stream, err := NewObservabilityMiddleware(observer).Stream(next)(context.Background(), ai.ChatRequest{})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := stream.Collect()
	if err != nil || resp.Content != "streamed" {
		t.Fatalf("got %q, %v", resp.Content, err)
	}
	if got := observer.CounterValue(observability.MetricClientTokensCompletion); got != 4 {
		t.Errorf("completion tokens = %d", got)
	}
}

func TestClient_WithObserverWrapsCalls(t *testing.T) {
	observer := slogobs.New(slogobs.WithOutput(&bytes.Buffer{}))
	provider := &recordingProvider{response: &ai.ChatResponse{Content: "ok"}}
	c, _ := newTestClient(t, provider, WithObserver(observer))

	if _, err := c.Complete(context.Background(), ai.ChatRequest{}); err != nil {
		t.Fatal(err)
	}
	if got := observer.CounterValue(observability.MetricClientRequestCount); got != 1 {
		t.Errorf("request count = %d", got)
	}
}
