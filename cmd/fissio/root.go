package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leofalp/fissio/core/config"
)

// globalFlags are shared by every command and override the config file.
type globalFlags struct {
	configPath string
	envFile    string
	logLevel   string
	logPretty  bool
	model      string
	pipelines  string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "fissio",
		Short: "Run graphs of LLM agents",
		Long: `fissio executes pipelines of LLM agents: routers, workers with tools,
gates, evaluators with feedback loops and more, described as JSON, YAML or HCL
graph files.

Examples:
  fissio serve --addr :8080 --pipelines ./pipelines
  fissio run research "Compare the last three Go releases"
  fissio validate pipelines/*.yaml`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags.register(rootCmd)
	rootCmd.AddCommand(
		newServeCmd(flags),
		newRunCmd(flags),
		newValidateCmd(),
		newModelsCmd(flags),
	)
	return rootCmd
}

func (f *globalFlags) register(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "Path to configuration file (YAML or JSON)")
	pf.StringVar(&f.envFile, "env-file", ".env", "Environment file loaded before the configuration")
	pf.StringVarP(&f.logLevel, "log-level", "l", "", "Log level (trace, debug, info, warn, error)")
	pf.BoolVar(&f.logPretty, "log-pretty", false, "Colored console logs")
	pf.StringVarP(&f.model, "model", "m", "", "Default model id")
	pf.StringVarP(&f.pipelines, "pipelines", "p", "", "Directory of pipeline files")
}

// loadConfig reads the configuration and applies the flags the user set.
func loadConfig(cmd *cobra.Command, flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath, flags.envFile)
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("log-level") {
		cfg.Log.Level = flags.logLevel
	}
	if changed("log-pretty") {
		cfg.Log.Pretty = flags.logPretty
	}
	if changed("model") {
		cfg.DefaultModel = flags.model
	}
	if changed("pipelines") {
		cfg.PipelinesDir = flags.pipelines
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
