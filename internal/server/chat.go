package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/leofalp/fissio/core/presets"
	"github.com/leofalp/fissio/patterns/pipeline"
	"github.com/leofalp/fissio/providers/ai"
	"github.com/leofalp/fissio/providers/ai/ollama"
)

const (
	// DefaultSystemPrompt is used for direct chat without a system prompt.
	DefaultSystemPrompt = "You are a helpful assistant."

	directGraphID = "direct"
	inlineGraphID = "inline"

	maxRequestBytes = 4 << 20
)

// ChatRequest is the body of POST /api/chat. Pipeline takes precedence over
// PipelineID; with neither, the message goes to a single model with
// SystemPrompt.
type ChatRequest struct {
	Message      string            `json:"message"`
	ModelID      string            `json:"model_id,omitempty"`
	PipelineID   string            `json:"pipeline_id,omitempty"`
	Pipeline     *pipeline.Graph   `json:"pipeline,omitempty"`
	NodeModels   map[string]string `json:"node_models,omitempty"`
	History      []ai.Message      `json:"history,omitempty"`
	SystemPrompt string            `json:"system_prompt,omitempty"`
}

// Metadata is the terminal record of a run on the wire.
type Metadata struct {
	RunID          string `json:"run_id"`
	ElapsedMS      int64  `json:"elapsed_ms"`
	InputTokens    int    `json:"input_tokens"`
	OutputTokens   int    `json:"output_tokens"`
	ToolCalls      int    `json:"tool_calls"`
	ShortCircuited bool   `json:"short_circuited,omitempty"`

	// EstimatedCostUSD is set when the server has a price table.
	EstimatedCostUSD *float64 `json:"estimated_cost_usd,omitempty"`
}

func newMetadata(m pipeline.Metadata) Metadata {
	return Metadata{
		RunID:          m.RunID,
		ElapsedMS:      m.Elapsed.Milliseconds(),
		InputTokens:    m.InputTokens,
		OutputTokens:   m.OutputTokens,
		ToolCalls:      m.ToolCalls,
		ShortCircuited: m.ShortCircuited,
	}
}

// RunResponse is the body of a non-streaming chat.
type RunResponse struct {
	RunID    string          `json:"run_id"`
	Output   string          `json:"output"`
	Metadata Metadata        `json:"metadata"`
	Trace    *pipeline.Trace `json:"trace,omitempty"`
}

// SSE payloads. Each carries its type so clients reading only data lines can
// dispatch on it.
type (
	streamData struct {
		Type    string `json:"type"`
		Content string `json:"content"`
		NodeID  string `json:"node_id,omitempty"`
	}
	endData struct {
		Type     string   `json:"type"`
		Metadata Metadata `json:"metadata"`
	}
	errorData struct {
		Type  string        `json:"type"`
		Error ErrorResponse `json:"error"`
	}
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Code: CodeBadRequest, Message: fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, ErrorResponse{Code: CodeBadRequest, Message: "message is required"})
		return
	}

	g, err := s.chatGraph(&req)
	if err != nil {
		status := http.StatusBadRequest
		code := CodeBadRequest
		if errors.Is(err, presets.ErrNotFound) {
			status, code = http.StatusNotFound, CodeNotFound
		}
		writeError(w, status, ErrorResponse{Code: code, Message: err.Error()})
		return
	}

	var opts []pipeline.Option
	if req.ModelID != "" {
		opts = append(opts, pipeline.WithDefaultModel(req.ModelID))
	}
	if len(req.NodeModels) > 0 {
		opts = append(opts, pipeline.WithModelOverrides(req.NodeModels))
	}
	engine := s.engine.With(opts...)

	logger := zerolog.Ctx(r.Context())
	logger.Info().Str("pipeline", g.ID).Str("model", req.ModelID).Int("history", len(req.History)).Msg("chat request")

	stream := true
	if raw := r.URL.Query().Get("stream"); raw != "" {
		if parsed, err := strconv.ParseBool(raw); err == nil {
			stream = parsed
		}
	}
	if stream {
		s.streamChat(w, r, engine, g, &req)
		return
	}
	s.runChat(w, r, engine, g, &req)
}

// chatGraph picks the graph a request runs.
func (s *Server) chatGraph(req *ChatRequest) (*pipeline.Graph, error) {
	switch {
	case req.Pipeline != nil:
		if req.Pipeline.ID == "" {
			req.Pipeline.ID = inlineGraphID
		}
		return req.Pipeline, nil
	case req.PipelineID != "":
		return s.presets.Get(req.PipelineID)
	default:
		prompt := req.SystemPrompt
		if strings.TrimSpace(prompt) == "" {
			prompt = DefaultSystemPrompt
		}
		return pipeline.NewBuilder(directGraphID, "Direct chat").
			Node("assistant", pipeline.KindLLM).Prompt(prompt).Done().
			Edge(pipeline.InputID, "assistant").
			Edge("assistant", pipeline.OutputID).
			Build()
	}
}

// metadata converts m and prices the visits in trace.
func (s *Server) metadata(m pipeline.Metadata, trace *pipeline.Trace) Metadata {
	md := newMetadata(m)
	if s.pricing != nil && trace != nil {
		summary := s.pricing.Estimate(trace.Spans(), ollama.IDPrefix)
		md.EstimatedCostUSD = &summary.TotalCost
	}
	return md
}

func (s *Server) runChat(w http.ResponseWriter, r *http.Request, engine *pipeline.Engine, g *pipeline.Graph, req *ChatRequest) {
	done := s.metrics.RunStarted(g.ID)
	result, err := engine.Run(r.Context(), g, req.Message, req.History)
	done(result, err)

	if err != nil {
		runID := ""
		if result != nil {
			runID = result.RunID
		}
		status, resp := runError(err, runID)
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("pipeline", g.ID).Str("code", resp.Code).Msg("run failed")
		writeError(w, status, resp)
		return
	}

	writeJSON(w, http.StatusOK, RunResponse{
		RunID:    result.RunID,
		Output:   result.Output,
		Metadata: s.metadata(result.Metadata, result.Trace),
		Trace:    result.Trace,
	})
}

func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, engine *pipeline.Engine, g *pipeline.Graph, req *ChatRequest) {
	logger := zerolog.Ctx(r.Context())

	stream, err := engine.RunStream(r.Context(), g, req.Message, req.History)
	if err != nil {
		status, resp := runError(err, "")
		writeError(w, status, resp)
		return
	}
	runID := stream.RunID()
	done := s.metrics.RunStarted(g.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Run-ID", runID)
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	_ = rc.Flush()

	for event, err := range stream.Iter() {
		var writeErr error
		switch event.Type {
		case pipeline.EventFragment:
			writeErr = writeEvent(w, "stream", streamData{Type: "stream", Content: event.Text, NodeID: event.NodeID})
		case pipeline.EventEnd:
			var trace *pipeline.Trace
			if result, _ := stream.Collect(); result != nil {
				trace = result.Trace
			}
			writeErr = writeEvent(w, "end", endData{Type: "end", Metadata: s.metadata(*event.Metadata, trace)})
		case pipeline.EventError:
			_, resp := runError(err, runID)
			writeErr = writeEvent(w, "error", errorData{Type: "error", Error: resp})
		}
		if writeErr == nil {
			writeErr = rc.Flush()
		}
		if writeErr != nil {
			logger.Debug().Err(writeErr).Str("run_id", runID).Msg("client went away")
			break
		}
	}

	result, err := stream.Collect()
	done(result, err)
	if err != nil {
		logger.Warn().Err(err).Str("pipeline", g.ID).Str("run_id", runID).Msg("run failed")
		return
	}
	logger.Info().
		Str("pipeline", g.ID).
		Str("run_id", runID).
		Dur("elapsed", result.Metadata.Elapsed).
		Int("input_tokens", result.Metadata.InputTokens).
		Int("output_tokens", result.Metadata.OutputTokens).
		Msg("run finished")
}

func writeEvent(w http.ResponseWriter, name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload)
	return err
}
