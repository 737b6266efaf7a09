package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/leofalp/fissio/internal/server"
)

const telemetryShutdownTimeout = 5 * time.Second

func newServeCmd(flags *globalFlags) *cobra.Command {
	var (
		addr  string
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("watch") {
				cfg.Server.WatchPipelines = watch
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
				defer cancel()
				if err := a.close(shutdownCtx); err != nil {
					a.logger.Error().Err(err).Msg("telemetry shutdown")
				}
			}()

			registry, err := a.presets()
			if err != nil {
				return err
			}
			if cfg.Server.WatchPipelines {
				if err := registry.Watch(ctx); err != nil {
					a.logger.Warn().Err(err).Msg("pipeline hot reload disabled")
				}
			}

			opts := []server.Option{
				server.WithLogger(a.logger),
				server.WithTracerProvider(a.tracer),
				server.WithShutdownTimeout(cfg.Server.ShutdownTimeout.Std()),
				server.WithPricing(cfg.Pricing),
			}
			if a.ollama != nil {
				opts = append(opts, server.WithOllama(a.ollama))
			}
			srv := server.New(a.engine, registry, a.client, opts...)

			a.logger.Info().
				Str("version", version).
				Strs("pipelines", registry.IDs()).
				Str("default_model", a.client.DefaultModel()).
				Msg("starting fissio")
			return srv.ListenAndServe(ctx, cfg.Server.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, :8080)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Reload pipeline files when they change")
	return cmd
}
