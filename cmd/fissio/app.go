package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/leofalp/fissio/core/client"
	"github.com/leofalp/fissio/core/client/middleware"
	"github.com/leofalp/fissio/core/config"
	"github.com/leofalp/fissio/core/presets"
	"github.com/leofalp/fissio/internal/logging"
	"github.com/leofalp/fissio/internal/telemetry"
	"github.com/leofalp/fissio/patterns/pipeline"
	"github.com/leofalp/fissio/providers/ai/ollama"
	"github.com/leofalp/fissio/providers/observability"
	"github.com/leofalp/fissio/providers/observability/otelobs"
	"github.com/leofalp/fissio/providers/observability/slogobs"
	"github.com/leofalp/fissio/providers/tool/builtin"
)

// app is the wired process: logging, tracing, the model client and the
// engine, built from one configuration.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	client   *client.Client
	engine   *pipeline.Engine
	ollama   *ollama.Host
	tracer   trace.TracerProvider
	shutdown telemetry.ShutdownFunc
}

func newApp(ctx context.Context, cfg *config.Config, logOutput io.Writer) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logging.Setup(logging.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty}, logOutput),
	}

	tp, shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return nil, err
	}
	a.tracer, a.shutdown = tp, shutdown

	models := cfg.Models
	if cfg.Ollama.Discover {
		a.ollama = ollama.New(cfg.Ollama.BaseURL)
		discovered, err := a.ollama.Discover(ctx)
		if err != nil {
			a.logger.Warn().Err(err).Str("host", a.ollama.BaseURL()).Msg("ollama discovery failed")
		} else {
			a.logger.Info().Int("models", len(discovered)).Str("host", a.ollama.BaseURL()).Msg("ollama models discovered")
			models = append(models, discovered...)
		}
	}

	slogObserver := slogobs.New(
		slogobs.WithFormat(slogobs.ParseFormat(cfg.Log.Format)),
		slogobs.WithLevel(slogobs.ParseLevel(cfg.Log.Level)),
		slogobs.WithOutput(logOutput),
	)
	var observer observability.Provider = slogObserver
	if cfg.Telemetry.OTLPEndpoint != "" {
		observer = otelobs.New(
			otelobs.WithTracerProvider(tp),
			otelobs.WithMeterProvider(otel.GetMeterProvider()),
			otelobs.WithLogger(slogObserver),
		)
	}

	clientOpts := []func(*client.ClientOptions){
		client.WithModels(models...),
		client.WithDefaultModel(cfg.DefaultModel),
		client.WithMiddleware(cfg.Middlewares()...),
		client.WithObserver(observer),
	}
	if cfg.Log.Calls != "" {
		clientOpts = append(clientOpts, client.WithMiddleware(
			middleware.NewLoggingMiddleware(slogObserver.Logger(), middleware.ParseLogLevel(cfg.Log.Calls)),
		))
	}
	a.client, err = client.New(clientOpts...)
	if err != nil {
		return nil, errors.Join(err, a.close(ctx))
	}

	opts := append(cfg.EngineOptions(), pipeline.WithObserver(observer))
	a.engine = pipeline.NewEngine(a.client, builtin.NewCatalog(cfg.Tools), opts...)
	return a, nil
}

// presets loads the pipeline directory. Files that fail to load are logged
// and skipped; a missing directory yields an empty registry.
func (a *app) presets() (*presets.Registry, error) {
	registry, err := presets.Load(a.cfg.PipelinesDir, presets.WithLogger(a.logger))
	var loadErr *presets.LoadError
	switch {
	case err == nil:
		return registry, nil
	case errors.As(err, &loadErr):
		for path, fileErr := range loadErr.Files {
			a.logger.Warn().Err(fileErr).Str("file", path).Msg("pipeline skipped")
		}
		return registry, nil
	case errors.Is(err, os.ErrNotExist):
		a.logger.Warn().Str("dir", a.cfg.PipelinesDir).Msg("pipeline directory not found")
		return presets.NewStatic(), nil
	default:
		return nil, fmt.Errorf("loading pipelines: %w", err)
	}
}

func (a *app) close(ctx context.Context) error {
	if a.shutdown == nil {
		return nil
	}
	return a.shutdown(ctx)
}
