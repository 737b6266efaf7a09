package client

import (
	"context"
	"testing"

	"github.com/leofalp/fissio/providers/ai"
)

type verdict struct {
	Passed bool    `json:"passed"`
	Score  float64 `json:"score"`
}

func TestCompleteAs(t *testing.T) {
	provider := &recordingProvider{response: &ai.ChatResponse{Content: "Result:\n```json\n{\"passed\": true, \"score\": 82}\n```"}}
	c, _ := newTestClient(t, provider)

	got, err := CompleteAs[verdict](context.Background(), c, ai.ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Data.Passed || got.Data.Score != 82 {
		t.Errorf("got %+v", got.Data)
	}
	if got.Raw == nil {
		t.Error("raw response missing")
	}
}

func TestCompleteAs_ParseFailureKeepsRaw(t *testing.T) {
	provider := &recordingProvider{response: &ai.ChatResponse{Content: "[1, 2]"}}
	c, _ := newTestClient(t, provider)

	got, err := CompleteAs[verdict](context.Background(), c, ai.ChatRequest{})
	if err == nil {
		t.Fatal("expected a parse error")
	}
	if got == nil || got.Raw == nil || got.Raw.Content != "[1, 2]" {
		t.Errorf("raw response should be returned with the error, got %+v", got)
	}
}
