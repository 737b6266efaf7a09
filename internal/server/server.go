// Package server exposes the pipeline engine over HTTP: chat runs streamed as
// server-sent events or returned as JSON, the stored pipelines, the model
// registry with warm-up and unload, the tool catalog, Prometheus metrics and
// a health check.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/leofalp/fissio/core/client"
	"github.com/leofalp/fissio/core/cost"
	"github.com/leofalp/fissio/core/presets"
	"github.com/leofalp/fissio/patterns/pipeline"
	"github.com/leofalp/fissio/providers/ai"
	"github.com/leofalp/fissio/providers/ai/ollama"
)

const (
	// RequestIDHeader carries the id assigned to every request.
	RequestIDHeader = "X-Request-ID"

	defaultShutdownTimeout = 10 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

// ModelRegistry is the read side of the model client the server lists and
// unloads models from.
type ModelRegistry interface {
	Models() []client.ModelConfig
	DefaultModel() string
}

// Server serves the HTTP API.
type Server struct {
	engine   *pipeline.Engine
	presets  *presets.Registry
	models   ModelRegistry
	ollama   *ollama.Host
	logger   zerolog.Logger
	metrics  *Metrics
	tracer   trace.TracerProvider
	pricing  *cost.Pricing
	shutdown time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithOllama enables unloading of local models through host.
func WithOllama(host *ollama.Host) Option {
	return func(s *Server) {
		s.ollama = host
	}
}

// WithLogger sets the request logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics replaces the metrics collector, e.g. to share one registry
// between servers in tests.
func WithMetrics(metrics *Metrics) Option {
	return func(s *Server) {
		s.metrics = metrics
	}
}

// WithTracerProvider sets the provider for HTTP server spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) {
		s.tracer = tp
	}
}

// WithPricing adds a cost estimate to the metadata of every run.
func WithPricing(p cost.Pricing) Option {
	return func(s *Server) {
		s.pricing = &p
	}
}

// WithShutdownTimeout bounds the graceful shutdown in ListenAndServe.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.shutdown = d
	}
}

// New returns a server running graphs from store on engine.
func New(engine *pipeline.Engine, store *presets.Registry, models ModelRegistry, opts ...Option) *Server {
	s := &Server{
		engine:   engine,
		presets:  store,
		models:   models,
		logger:   zerolog.Nop(),
		tracer:   noop.NewTracerProvider(),
		shutdown: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	if s.presets == nil {
		s.presets = presets.NewStatic()
	}
	return s
}

// Handler returns the API handler with request ids, logging, metrics and
// tracing applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/pipelines", s.handleListPipelines)
	mux.HandleFunc("GET /api/pipelines/{id}", s.handleGetPipeline)
	mux.HandleFunc("GET /api/models", s.handleListModels)
	mux.HandleFunc("POST /api/models/{id}/unload", s.handleUnloadModel)
	mux.HandleFunc("POST /api/models/{id}/wake", s.handleWakeModel)
	mux.HandleFunc("GET /api/tools", s.handleListTools)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealth)

	handler := s.instrument(mux)
	return otelhttp.NewHandler(handler, "fissio.http",
		otelhttp.WithTracerProvider(s.tracer),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully. In-flight runs see their request context cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", listener.Addr().String()).Msg("server listening")
		errCh <- srv.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info().Msg("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// instrument assigns a request id, then records metrics and a log line once
// the request completes.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		logger := s.logger.With().Str("request_id", requestID).Logger()
		r = r.WithContext(logger.WithContext(r.Context()))

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		s.metrics.ObserveRequest(r.Method, route, recorder.status, elapsed)

		event := logger.Debug()
		if recorder.status >= http.StatusInternalServerError {
			event = logger.Warn()
		}
		event.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("elapsed", elapsed).
			Msg("http request")
	})
}

// statusRecorder captures the response status. It keeps streaming working
// through Flush and Unwrap.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

func (rw *statusRecorder) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (s *Server) handleListPipelines(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"pipelines": s.presets.List()})
}

func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	g, err := s.presets.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, ErrorResponse{Code: CodeNotFound, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// ModelInfo describes a model in listings.
type ModelInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Model   string `json:"model"`
	Local   bool   `json:"local"`
	Default bool   `json:"default,omitempty"`
}

func (s *Server) handleListModels(w http.ResponseWriter, _ *http.Request) {
	defaultID := s.models.DefaultModel()
	configs := s.models.Models()
	models := make([]ModelInfo, 0, len(configs))
	for _, m := range configs {
		models = append(models, ModelInfo{
			ID:      m.ID,
			Name:    m.Name,
			Model:   m.Model,
			Local:   ollama.IsLocal(m),
			Default: m.ID == defaultID,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models, "default": defaultID})
}

// findModel looks up a configured model by id.
func (s *Server) findModel(id string) (client.ModelConfig, bool) {
	for _, m := range s.models.Models() {
		if m.ID == id {
			return m, true
		}
	}
	return client.ModelConfig{}, false
}

func (s *Server) handleUnloadModel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	model, found := s.findModel(id)
	switch {
	case !found:
		writeError(w, http.StatusNotFound, ErrorResponse{Code: CodeNotFound, Message: fmt.Sprintf("unknown model %q", id)})
		return
	case s.ollama == nil || !ollama.IsLocal(model):
		writeError(w, http.StatusBadRequest, ErrorResponse{Code: CodeBadRequest, Message: fmt.Sprintf("model %q is not served by a local Ollama", id)})
		return
	}

	if err := s.ollama.Unload(r.Context(), model.Model); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("model", id).Msg("unload failed")
		writeError(w, http.StatusBadGateway, ErrorResponse{Code: CodeUpstream, Message: err.Error()})
		return
	}
	zerolog.Ctx(r.Context()).Info().Str("model", id).Msg("model unloaded")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// WakeResponse is the body of a successful model warm-up.
type WakeResponse struct {
	Success bool   `json:"success"`
	Model   string `json:"model"`
}

// handleWakeModel loads a model by streaming a minimal chat through it. The
// model named by previous_model_id is unloaded meanwhile; failing to unload
// it does not fail the request.
func (s *Server) handleWakeModel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	model, found := s.findModel(id)
	if !found {
		writeError(w, http.StatusNotFound, ErrorResponse{Code: CodeNotFound, Message: fmt.Sprintf("unknown model %q", id)})
		return
	}
	modelClient := s.engine.Client()
	if modelClient == nil {
		writeError(w, http.StatusInternalServerError, ErrorResponse{Code: CodeInternal, Message: "no model client configured"})
		return
	}
	logger := zerolog.Ctx(r.Context())
	previous := r.URL.Query().Get("previous_model_id")

	group, ctx := errgroup.WithContext(r.Context())
	if previous != "" && previous != id {
		group.Go(func() error {
			prev, ok := s.findModel(previous)
			if !ok || s.ollama == nil || !ollama.IsLocal(prev) {
				return nil
			}
			if err := s.ollama.Unload(ctx, prev.Model); err != nil {
				logger.Info().Err(err).Str("model", previous).Msg("previous model not unloaded")
			}
			return nil
		})
	}
	group.Go(func() error {
		stream, err := modelClient.Stream(ctx, ai.ChatRequest{
			Model:        model.ID,
			SystemPrompt: DefaultSystemPrompt,
			Messages:     []ai.Message{{Role: ai.RoleUser, Content: "hi"}},
		})
		if err != nil {
			return err
		}
		_, err = stream.Collect()
		return err
	})
	if err := group.Wait(); err != nil {
		logger.Error().Err(err).Str("model", id).Msg("wake failed")
		writeError(w, http.StatusBadGateway, ErrorResponse{Code: CodeUpstream, Message: err.Error()})
		return
	}
	logger.Info().Str("model", id).Msg("model ready")
	writeJSON(w, http.StatusOK, WakeResponse{Success: true, Model: model.Name})
}

func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	catalog := s.engine.Tools()
	tools, _ := catalog.Describe(catalog.Names())
	if tools == nil {
		tools = []ai.ToolDescription{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"pipelines": len(s.presets.IDs()),
		"models":    len(s.models.Models()),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
