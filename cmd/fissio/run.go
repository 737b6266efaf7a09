package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/leofalp/fissio/core/cost"
	"github.com/leofalp/fissio/patterns/pipeline"
	"github.com/leofalp/fissio/providers/ai/ollama"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	var (
		file       string
		jsonOutput bool
		overrides  map[string]string
	)
	cmd := &cobra.Command{
		Use:   "run [pipeline] [message...]",
		Short: "Run a pipeline once and print its output",
		Long: `Run a stored pipeline by id, or a graph file with --file. The message is
the remaining arguments, or standard input when none are given. Output is
streamed as it is produced unless --json is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.close(context.Background()) }()

			var g *pipeline.Graph
			if file != "" {
				g, err = pipeline.LoadFile(file)
			} else {
				if len(args) == 0 {
					return errors.New("a pipeline id or --file is required")
				}
				registry, loadErr := a.presets()
				if loadErr != nil {
					return loadErr
				}
				g, err = registry.Get(args[0])
				args = args[1:]
			}
			if err != nil {
				return err
			}

			message, err := readMessage(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			engine := a.engine
			if len(overrides) > 0 {
				engine = engine.With(pipeline.WithModelOverrides(overrides))
			}
			if jsonOutput {
				return runJSON(ctx, engine, g, message, cfg.Pricing, cmd.OutOrStdout())
			}
			return runStreaming(ctx, engine, g, message, cfg.Pricing, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Run the graph in this file instead of a stored pipeline")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the result and trace as JSON")
	cmd.Flags().StringToStringVar(&overrides, "node-model", nil, "Model override per node, e.g. --node-model writer=gpt-4o")
	return cmd
}

func readMessage(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("reading message: %w", err)
	}
	message := strings.TrimSpace(string(data))
	if message == "" {
		return "", errors.New("empty message")
	}
	return message, nil
}

func runStreaming(ctx context.Context, engine *pipeline.Engine, g *pipeline.Graph, message string, pricing cost.Pricing, out, status io.Writer) error {
	stream, err := engine.RunStream(ctx, g, message, nil)
	if err != nil {
		return err
	}
	for event, err := range stream.Iter() {
		switch event.Type {
		case pipeline.EventFragment:
			if _, werr := io.WriteString(out, event.Text); werr != nil {
				return werr
			}
		case pipeline.EventEnd:
			m := event.Metadata
			fmt.Fprintln(out)
			fmt.Fprintf(status, "run %s: %d input / %d output tokens, %d tool calls, %s",
				m.RunID, m.InputTokens, m.OutputTokens, m.ToolCalls, m.Elapsed.Round(time.Millisecond))
			if result, _ := stream.Collect(); result != nil {
				summary := pricing.Estimate(result.Trace.Spans(), ollama.IDPrefix)
				fmt.Fprintf(status, ", ~$%.4f", summary.TotalCost)
				if len(summary.Unpriced) > 0 {
					fmt.Fprintf(status, " (unpriced: %s)", strings.Join(summary.Unpriced, ", "))
				}
			}
			fmt.Fprintln(status)
		case pipeline.EventError:
			fmt.Fprintln(out)
			return err
		}
	}
	return nil
}

type runOutput struct {
	RunID          string          `json:"run_id"`
	Output         string          `json:"output"`
	ShortCircuited bool            `json:"short_circuited,omitempty"`
	Error          string          `json:"error,omitempty"`
	Cost           cost.Summary    `json:"cost"`
	Trace          *pipeline.Trace `json:"trace,omitempty"`
}

func runJSON(ctx context.Context, engine *pipeline.Engine, g *pipeline.Graph, message string, pricing cost.Pricing, out io.Writer) error {
	result, runErr := engine.Run(ctx, g, message, nil)
	if result == nil {
		return runErr
	}
	body := runOutput{
		RunID:          result.RunID,
		Output:         result.Output,
		ShortCircuited: result.ShortCircuited,
		Cost:           pricing.Estimate(result.Trace.Spans(), ollama.IDPrefix),
		Trace:          result.Trace,
	}
	if runErr != nil {
		body.Error = runErr.Error()
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(body); err != nil {
		return err
	}
	return runErr
}
