package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leofalp/fissio/core/client"
	"github.com/leofalp/fissio/core/cost"
	"github.com/leofalp/fissio/core/presets"
	"github.com/leofalp/fissio/patterns/pipeline"
	"github.com/leofalp/fissio/providers/ai"
	"github.com/leofalp/fissio/providers/ai/ollama"
	"github.com/leofalp/fissio/providers/tool"
)

// echoClient answers "echo: <last user message>" and fails for system prompts
// containing "FAIL", or for every request once fail is set.
type echoClient struct {
	mu       sync.Mutex
	requests []ai.ChatRequest
	fail     bool
}

func (c *echoClient) Complete(_ context.Context, request ai.ChatRequest) (*ai.ChatResponse, error) {
	c.mu.Lock()
	c.requests = append(c.requests, request)
	fail := c.fail
	c.mu.Unlock()

	if fail || strings.Contains(request.SystemPrompt, "FAIL") {
		return nil, errors.New("upstream unavailable")
	}
	last := ""
	for _, m := range request.Messages {
		if m.Role == ai.RoleUser {
			last = m.Content
		}
	}
	return &ai.ChatResponse{
		Content: "echo: " + last,
		Usage:   &ai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (c *echoClient) Stream(ctx context.Context, request ai.ChatRequest) (*ai.ChatStream, error) {
	resp, err := c.Complete(ctx, request)
	if err != nil {
		return nil, err
	}
	return ai.NewChatStream(func(yield func(ai.StreamEvent, error) bool) {
		half := len(resp.Content) / 2
		for _, part := range []string{resp.Content[:half], resp.Content[half:]} {
			if !yield(ai.StreamEvent{Type: ai.StreamEventContent, Content: part}, nil) {
				return
			}
		}
		if !yield(ai.StreamEvent{Type: ai.StreamEventUsage, Usage: resp.Usage}, nil) {
			return
		}
		yield(ai.StreamEvent{Type: ai.StreamEventDone, FinishReason: "stop"}, nil)
	}), nil
}

func (c *echoClient) models() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.requests))
	for _, r := range c.requests {
		out = append(out, r.Model)
	}
	return out
}

func echoGraph(t *testing.T, id, prompt string) *pipeline.Graph {
	t.Helper()
	g, err := pipeline.NewBuilder(id, "Echo").
		Node("a", pipeline.KindLLM).Prompt(prompt).Done().
		Edge(pipeline.InputID, "a").
		Edge("a", pipeline.OutputID).
		Build()
	require.NoError(t, err)
	return g
}

type lookupInput struct {
	Key string `json:"key" jsonschema:"description=Key to look up"`
}

type fixture struct {
	server *httptest.Server
	client *echoClient
	ollama *httptest.Server

	mu       sync.Mutex
	unloaded []string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{client: &echoClient{}}

	f.ollama = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model     string `json:"model"`
			KeepAlive int    `json:"keep_alive"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.unloaded = append(f.unloaded, body.Model)
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"done": true}`)
	}))
	t.Cleanup(f.ollama.Close)

	registry, err := client.New(client.WithModels(
		client.ModelConfig{ID: "gpt-4o-mini", Name: "GPT-4o mini", Model: "gpt-4o-mini"},
		client.ModelConfig{ID: "ollama-llama3", Name: "Llama3 (Local)", Model: "llama3", APIBase: f.ollama.URL + "/v1"},
	))
	require.NoError(t, err)

	store := presets.NewStatic(
		echoGraph(t, "echo", "role:echo"),
		echoGraph(t, "broken", "FAIL"),
	)
	engine := pipeline.NewEngine(f.client, tool.NewCatalogWithTools(tool.NewTool("lookup",
		func(_ context.Context, in lookupInput) (string, error) { return "value of " + in.Key, nil },
		tool.WithDescription("Look up a key."),
	)))
	srv := New(engine, store, registry, append([]Option{WithOllama(ollama.New(f.ollama.URL))}, opts...)...)

	f.server = httptest.NewServer(srv.Handler())
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.server.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

type sseEvent struct {
	name string
	data string
}

func readEvents(t *testing.T, body io.Reader) []sseEvent {
	t.Helper()
	var (
		events  []sseEvent
		current sseEvent
	)
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.data = strings.TrimPrefix(line, "data: ")
		case line == "" && current.name != "":
			events = append(events, current)
			current = sseEvent{}
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

func decode[T any](t *testing.T, data string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(data), &v))
	return v
}

func TestChat_StreamsFragmentsThenEnd(t *testing.T) {
	f := newFixture(t)
	resp := f.post(t, "/api/chat", `{"message": "hello", "pipeline_id": "echo"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Run-ID"))

	events := readEvents(t, resp.Body)
	require.GreaterOrEqual(t, len(events), 2)

	var text strings.Builder
	for _, e := range events[:len(events)-1] {
		require.Equal(t, "stream", e.name)
		chunk := decode[streamData](t, e.data)
		assert.Equal(t, "a", chunk.NodeID)
		text.WriteString(chunk.Content)
	}
	assert.Equal(t, "echo: hello", text.String())

	last := events[len(events)-1]
	require.Equal(t, "end", last.name)
	end := decode[endData](t, last.data)
	assert.Equal(t, "end", end.Type)
	assert.Equal(t, resp.Header.Get("X-Run-ID"), end.Metadata.RunID)
	assert.Equal(t, 10, end.Metadata.InputTokens)
	assert.Equal(t, 5, end.Metadata.OutputTokens)
	assert.Zero(t, end.Metadata.ToolCalls)
}

func TestChat_DirectUsesSystemPromptAndModel(t *testing.T) {
	f := newFixture(t)
	resp := f.post(t, "/api/chat?stream=false", `{
  "message": "hi",
  "model_id": "ollama-llama3",
  "system_prompt": "Be brief.",
  "history": [{"role": "user", "content": "earlier"}, {"role": "assistant", "content": "ok"}]
}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[RunResponse](t, mustRead(t, resp.Body))
	assert.Equal(t, "echo: hi", body.Output)
	require.NotNil(t, body.Trace)
	assert.Len(t, body.Trace.Spans(), 1)

	f.client.mu.Lock()
	request := f.client.requests[0]
	f.client.mu.Unlock()
	assert.Equal(t, "Be brief.", request.SystemPrompt)
	assert.Equal(t, "ollama-llama3", request.Model)
	assert.Equal(t, "earlier", request.Messages[0].Content)
}

func TestChat_NodeModelOverrides(t *testing.T) {
	f := newFixture(t)
	resp := f.post(t, "/api/chat?stream=false", `{"message": "x", "pipeline_id": "echo", "node_models": {"a": "gpt-4o-mini"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"gpt-4o-mini"}, f.client.models())
}

func TestChat_InlinePipeline(t *testing.T) {
	f := newFixture(t)
	resp := f.post(t, "/api/chat?stream=false", `{
  "message": "inline",
  "pipeline": {
    "nodes": [{"id": "solo", "type": "llm", "prompt": "role:solo"}],
    "edges": [{"from": "input", "to": "solo"}, {"from": "solo", "to": "output"}]
  }
}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[RunResponse](t, mustRead(t, resp.Body))
	assert.Equal(t, "echo: inline", body.Output)
}

func TestChat_ProviderFailure(t *testing.T) {
	f := newFixture(t)

	t.Run("stream", func(t *testing.T) {
		resp := f.post(t, "/api/chat", `{"message": "hello", "pipeline_id": "broken"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		events := readEvents(t, resp.Body)
		require.NotEmpty(t, events)
		last := events[len(events)-1]
		require.Equal(t, "error", last.name)
		payload := decode[errorData](t, last.data)
		assert.Equal(t, string(pipeline.KindProvider), payload.Error.Code)
		assert.Equal(t, "a", payload.Error.NodeID)
		assert.Equal(t, resp.Header.Get("X-Run-ID"), payload.Error.RunID)
	})

	t.Run("json", func(t *testing.T) {
		resp := f.post(t, "/api/chat?stream=false", `{"message": "hello", "pipeline_id": "broken"}`)
		require.Equal(t, http.StatusBadGateway, resp.StatusCode)
		body := decode[ErrorResponse](t, mustRead(t, resp.Body))
		assert.Equal(t, string(pipeline.KindProvider), body.Code)
		assert.Equal(t, "a", body.NodeID)
		assert.NotEmpty(t, body.RunID)
	})
}

func TestChat_EstimatedCost(t *testing.T) {
	f := newFixture(t, WithPricing(cost.Pricing{
		Models: map[string]cost.ModelCost{"gpt-4o-mini": {InputCostPerMillion: 1, OutputCostPerMillion: 2}},
	}))
	body := `{"message": "hi", "model_id": "gpt-4o-mini"}`

	resp := f.post(t, "/api/chat?stream=false", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	run := decode[RunResponse](t, mustRead(t, resp.Body))
	require.NotNil(t, run.Metadata.EstimatedCostUSD)
	assert.InDelta(t, 0.00002, *run.Metadata.EstimatedCostUSD, 1e-12)

	resp = f.post(t, "/api/chat", body)
	events := readEvents(t, resp.Body)
	require.NotEmpty(t, events)
	end := decode[endData](t, events[len(events)-1].data)
	require.NotNil(t, end.Metadata.EstimatedCostUSD)
	assert.InDelta(t, 0.00002, *end.Metadata.EstimatedCostUSD, 1e-12)

	// Without a price table the field is left out.
	plain := newFixture(t)
	resp = plain.post(t, "/api/chat?stream=false", body)
	assert.NotContains(t, mustRead(t, resp.Body), "estimated_cost_usd")
}

func TestChat_BadRequests(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"malformed json", `{"message":`, http.StatusBadRequest, CodeBadRequest},
		{"empty message", `{"message": "  "}`, http.StatusBadRequest, CodeBadRequest},
		{"unknown pipeline", `{"message": "x", "pipeline_id": "nope"}`, http.StatusNotFound, CodeNotFound},
		{
			"invalid inline pipeline",
			`{"message": "x", "pipeline": {"nodes": [{"id": "a", "type": "llm"}], "edges": []}}`,
			http.StatusBadRequest, string(pipeline.KindValidation),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.post(t, "/api/chat", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			body := decode[ErrorResponse](t, mustRead(t, resp.Body))
			assert.Equal(t, tt.code, body.Code)
		})
	}
	assert.Empty(t, f.client.models(), "no model is called for rejected requests")
}

func TestPipelines(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/api/pipelines")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[struct {
		Pipelines []presets.Summary `json:"pipelines"`
	}](t, mustRead(t, resp.Body))
	require.Len(t, list.Pipelines, 2)
	assert.Equal(t, "broken", list.Pipelines[0].ID)
	assert.Equal(t, "echo", list.Pipelines[1].ID)

	resp = f.get(t, "/api/pipelines/echo")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	g, err := pipeline.ParseJSON([]byte(mustRead(t, resp.Body)))
	require.NoError(t, err)
	assert.Equal(t, "echo", g.ID)
	assert.Equal(t, "role:echo", g.Node("a").Prompt)

	resp = f.get(t, "/api/pipelines/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestModels(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/api/models")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[struct {
		Models  []ModelInfo `json:"models"`
		Default string      `json:"default"`
	}](t, mustRead(t, resp.Body))
	assert.Equal(t, "gpt-4o-mini", body.Default)
	require.Len(t, body.Models, 2)
	assert.True(t, body.Models[0].Default)
	assert.True(t, body.Models[1].Local)

	resp = f.post(t, "/api/models/ollama-llama3/unload", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	f.mu.Lock()
	assert.Equal(t, []string{"llama3"}, f.unloaded)
	f.mu.Unlock()

	resp = f.post(t, "/api/models/gpt-4o-mini/unload", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.post(t, "/api/models/missing/unload", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWakeModel(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/api/models/gpt-4o-mini/wake?previous_model_id=ollama-llama3", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[WakeResponse](t, mustRead(t, resp.Body))
	assert.True(t, body.Success)
	assert.Equal(t, "GPT-4o mini", body.Model)

	assert.Equal(t, []string{"gpt-4o-mini"}, f.client.models())
	f.mu.Lock()
	assert.Equal(t, []string{"llama3"}, f.unloaded)
	f.mu.Unlock()

	resp = f.post(t, "/api/models/missing/wake", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWakeModel_KeepsRemoteAndFailsUpstream(t *testing.T) {
	f := newFixture(t)

	// A remote previous model is left alone.
	resp := f.post(t, "/api/models/ollama-llama3/wake?previous_model_id=gpt-4o-mini", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	f.mu.Lock()
	assert.Empty(t, f.unloaded)
	f.mu.Unlock()

	f.client.mu.Lock()
	f.client.fail = true
	f.client.mu.Unlock()
	resp = f.post(t, "/api/models/gpt-4o-mini/wake", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	errBody := decode[ErrorResponse](t, mustRead(t, resp.Body))
	assert.Equal(t, CodeUpstream, errBody.Code)
}

func TestTools(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/api/tools")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[struct {
		Tools []ai.ToolDescription `json:"tools"`
	}](t, mustRead(t, resp.Body))
	require.Len(t, body.Tools, 1)
	assert.Equal(t, "lookup", body.Tools[0].Name)
	assert.Equal(t, "Look up a key.", body.Tools[0].Description)
	require.NotNil(t, body.Tools[0].Parameters)
	assert.Contains(t, body.Tools[0].Parameters.Properties, "key")
}

func TestMetricsAndHealth(t *testing.T) {
	f := newFixture(t)
	resp := f.post(t, "/api/chat?stream=false", `{"message": "hello", "pipeline_id": "echo"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = f.post(t, "/api/chat?stream=false", `{"message": "hello", "pipeline_id": "broken"}`)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	resp = f.get(t, "/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[map[string]any](t, mustRead(t, resp.Body))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, 2.0, health["pipelines"])

	id := resp.Header.Get(RequestIDHeader)
	_, err := uuid.Parse(id)
	assert.NoError(t, err)

	resp = f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	metrics := mustRead(t, resp.Body)
	assert.Contains(t, metrics, `fissio_pipeline_runs_total{pipeline="echo",status="ok"} 1`)
	assert.Contains(t, metrics, `fissio_pipeline_runs_total{pipeline="broken",status="provider"} 1`)
	assert.Contains(t, metrics, `fissio_pipeline_tokens_total{direction="input",pipeline="echo"} 10`)
	assert.Contains(t, metrics, `fissio_http_requests_total{method="POST",route="POST /api/chat",status="200"} 1`)
	assert.Contains(t, metrics, `fissio_pipeline_runs_active 0`)
}

func TestRequestIDIsKept(t *testing.T) {
	f := newFixture(t)
	id := uuid.NewString()

	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, id)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, id, resp.Header.Get(RequestIDHeader))
}

func TestRunError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{&pipeline.Error{Kind: pipeline.KindProvider, NodeID: "n", Err: pipeline.ErrProvider}, http.StatusBadGateway, "provider"},
		{&pipeline.Error{Kind: pipeline.KindClassification, Err: pipeline.ErrClassification}, http.StatusUnprocessableEntity, "classification"},
		{&pipeline.Error{Kind: pipeline.KindCancelled, Err: context.DeadlineExceeded}, http.StatusGatewayTimeout, "cancelled"},
		{&pipeline.Error{Kind: pipeline.KindCancelled, Err: context.Canceled}, http.StatusServiceUnavailable, "cancelled"},
		{&pipeline.ValidationError{GraphID: "g", Problems: []string{"x"}}, http.StatusBadRequest, "validation"},
		{errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		status, resp := runError(tt.err, "run-1")
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, resp.Code, tt.err.Error())
		assert.Equal(t, "run-1", resp.RunID)
	}
}

func mustRead(t *testing.T, r io.Reader) string {
	t.Helper()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}
