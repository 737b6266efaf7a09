// Package config loads the fissio process configuration: the model registry,
// engine limits, retry policy, server, telemetry, logging and tools. Values
// come from a YAML or JSON file, then from the environment (a .env file is
// read first when present), then defaults fill what is still empty.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/leofalp/fissio/core/client"
	"github.com/leofalp/fissio/core/client/middleware"
	"github.com/leofalp/fissio/core/cost"
	"github.com/leofalp/fissio/patterns/pipeline"
	"github.com/leofalp/fissio/providers/tool/builtin"
)

// Config is the complete process configuration.
type Config struct {
	DefaultModel string               `yaml:"default_model" json:"default_model"`
	Models       []client.ModelConfig `yaml:"models" json:"models"`
	Engine       EngineConfig         `yaml:"engine" json:"engine"`
	Retry        RetryConfig          `yaml:"retry" json:"retry"`
	Server       ServerConfig         `yaml:"server" json:"server"`
	Telemetry    TelemetryConfig      `yaml:"telemetry" json:"telemetry"`
	Log          LogConfig            `yaml:"log" json:"log"`
	PipelinesDir string               `yaml:"pipelines_dir" json:"pipelines_dir"`
	Tools        builtin.Config       `yaml:"tools" json:"tools"`
	Ollama       OllamaConfig         `yaml:"ollama" json:"ollama"`

	// Pricing is merged over cost.DefaultPricing.
	Pricing cost.Pricing `yaml:"pricing" json:"pricing"`
}

// EngineConfig holds the pipeline engine limits.
type EngineConfig struct {
	MaxFeedbackIterations int      `yaml:"max_feedback_iterations" json:"max_feedback_iterations"`
	MaxToolIterations     int      `yaml:"max_tool_iterations" json:"max_tool_iterations"`
	MaxConcurrency        int      `yaml:"max_concurrency" json:"max_concurrency"`
	ExecutionTimeout      Duration `yaml:"execution_timeout" json:"execution_timeout"`
	CallTimeout           Duration `yaml:"call_timeout" json:"call_timeout"`
}

// RetryConfig is the model call retry policy. An unset MaxRetries takes the
// middleware default; 0 disables retrying.
type RetryConfig struct {
	MaxRetries     *int     `yaml:"max_retries" json:"max_retries"`
	InitialBackoff Duration `yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff" json:"max_backoff"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string   `yaml:"addr" json:"addr"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	WatchPipelines  bool     `yaml:"watch_pipelines" json:"watch_pipelines"`
}

// TelemetryConfig configures trace export. An empty endpoint disables it.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure" json:"insecure"`
	ServiceName  string `yaml:"service_name" json:"service_name"`
}

// LogConfig configures process logging. Format applies to the run observer
// (text or json). Calls enables model call logging at minimal, standard or
// verbose detail; empty disables it.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Pretty bool   `yaml:"pretty" json:"pretty"`
	Format string `yaml:"format" json:"format"`
	Calls  string `yaml:"calls" json:"calls"`
}

// OllamaConfig configures local model discovery.
type OllamaConfig struct {
	BaseURL  string `yaml:"base_url" json:"base_url"`
	Discover bool   `yaml:"discover" json:"discover"`
}

// Duration is a time.Duration written as "30s" in files. Plain numbers are
// seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*d = 0
		return nil
	}
	if seconds, err := strconv.ParseFloat(s, 64); err == nil {
		*d = Duration(seconds * float64(time.Second))
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.parse(value.Value)
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.parse(s)
	}
	return d.parse(string(data))
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Default values.
const (
	DefaultAddr            = ":8080"
	DefaultPipelinesDir    = "pipelines"
	DefaultLogLevel        = "info"
	DefaultServiceName     = "fissio"
	DefaultShutdownTimeout = 10 * time.Second
)

// DefaultModels is the registry used when the configuration names no model.
var DefaultModels = []client.ModelConfig{
	{ID: "gpt-4o-mini", Name: "GPT-4o mini", Model: "gpt-4o-mini"},
	{ID: "gpt-4o", Name: "GPT-4o", Model: "gpt-4o"},
	{ID: "claude-sonnet", Name: "Claude Sonnet", Model: "claude-sonnet-4-20250514"},
	{ID: "claude-haiku", Name: "Claude Haiku", Model: "claude-3-5-haiku-20241022"},
}

// Load reads path, or only the environment when path is empty, and returns
// the validated configuration. The file format follows the extension; YAML is
// assumed otherwise. envFile is loaded into the environment first when it
// exists; variables already set win.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: loading %s: %w", envFile, err)
		}
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return json.Unmarshal(data, cfg)
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv("FISSIO_DEFAULT_MODEL"); val != "" {
		cfg.DefaultModel = val
	}
	if val := os.Getenv("FISSIO_ADDR"); val != "" {
		cfg.Server.Addr = val
	}
	if val := os.Getenv("FISSIO_PIPELINES_DIR"); val != "" {
		cfg.PipelinesDir = val
	}
	if val := os.Getenv("FISSIO_LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv("FISSIO_LOG_FORMAT"); val != "" {
		cfg.Log.Format = val
	}
	if val := os.Getenv("FISSIO_LOG_PRETTY"); val != "" {
		pretty, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("FISSIO_LOG_PRETTY: %w", err)
		}
		cfg.Log.Pretty = pretty
	}
	if val := os.Getenv("FISSIO_MAX_CONCURRENCY"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("FISSIO_MAX_CONCURRENCY: %w", err)
		}
		cfg.Engine.MaxConcurrency = n
	}
	if val := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("OTEL_SERVICE_NAME"); val != "" {
		cfg.Telemetry.ServiceName = val
	}
	if val := os.Getenv("TAVILY_API_KEY"); val != "" {
		cfg.Tools.TavilyAPIKey = val
	}
	if val := os.Getenv("OLLAMA_BASE_URL"); val != "" {
		cfg.Ollama.BaseURL = val
		cfg.Ollama.Discover = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	c.Pricing = cost.DefaultPricing().Merge(c.Pricing)
	if len(c.Models) == 0 {
		c.Models = append([]client.ModelConfig(nil), DefaultModels...)
	}
	if c.DefaultModel == "" {
		c.DefaultModel = c.Models[0].ID
	}
	if c.Engine.MaxFeedbackIterations == 0 {
		c.Engine.MaxFeedbackIterations = pipeline.DefaultMaxFeedbackIterations
	}
	if c.Engine.MaxToolIterations == 0 {
		c.Engine.MaxToolIterations = pipeline.DefaultMaxToolIterations
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	}
	if c.PipelinesDir == "" {
		c.PipelinesDir = DefaultPipelinesDir
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

// Validate checks the configuration after defaults were applied.
func (c *Config) Validate() error {
	var problems []error

	seen := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		switch {
		case strings.TrimSpace(m.ID) == "":
			problems = append(problems, fmt.Errorf("models[%d]: id is required", i))
		case strings.TrimSpace(m.Model) == "":
			problems = append(problems, fmt.Errorf("model %q: model name is required", m.ID))
		case seen[m.ID]:
			problems = append(problems, fmt.Errorf("model %q is defined twice", m.ID))
		}
		seen[m.ID] = true
	}
	if c.DefaultModel != "" && !seen[c.DefaultModel] {
		problems = append(problems, fmt.Errorf("default model %q is not a configured model", c.DefaultModel))
	}

	if c.Engine.MaxFeedbackIterations < 1 {
		problems = append(problems, errors.New("engine.max_feedback_iterations must be at least 1"))
	}
	if c.Engine.MaxToolIterations < 1 {
		problems = append(problems, errors.New("engine.max_tool_iterations must be at least 1"))
	}
	if c.Engine.MaxConcurrency < 0 {
		problems = append(problems, errors.New("engine.max_concurrency must not be negative"))
	}
	if c.Engine.ExecutionTimeout < 0 || c.Engine.CallTimeout < 0 {
		problems = append(problems, errors.New("engine timeouts must not be negative"))
	}
	if c.Retry.MaxRetries != nil && *c.Retry.MaxRetries < 0 {
		problems = append(problems, errors.New("retry.max_retries must not be negative"))
	}
	for id, price := range c.Pricing.Models {
		if price.InputCostPerMillion < 0 || price.OutputCostPerMillion < 0 {
			problems = append(problems, fmt.Errorf("pricing for model %q must not be negative", id))
		}
	}

	level := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch level {
	case "trace", "debug", "info", "warn", "error":
		c.Log.Level = level
	default:
		problems = append(problems, fmt.Errorf("log.level %q must be one of trace, debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Calls {
	case "", "minimal", "standard", "verbose":
	default:
		problems = append(problems, fmt.Errorf("log.calls %q must be one of minimal, standard, verbose", c.Log.Calls))
	}

	return errors.Join(problems...)
}

// EngineOptions translates the engine section into pipeline options.
func (c *Config) EngineOptions() []pipeline.Option {
	opts := []pipeline.Option{
		pipeline.WithMaxFeedbackIterations(c.Engine.MaxFeedbackIterations),
		pipeline.WithMaxToolIterations(c.Engine.MaxToolIterations),
		pipeline.WithDefaultModel(c.DefaultModel),
	}
	if c.Engine.MaxConcurrency > 0 {
		opts = append(opts, pipeline.WithMaxConcurrency(c.Engine.MaxConcurrency))
	}
	if c.Engine.ExecutionTimeout > 0 {
		opts = append(opts, pipeline.WithExecutionTimeout(c.Engine.ExecutionTimeout.Std()))
	}
	return opts
}

// Middlewares returns the model client middleware chain described by the
// retry and call timeout settings: retries outside, the timeout per attempt.
func (c *Config) Middlewares() []client.MiddlewareConfig {
	mws := []client.MiddlewareConfig{middleware.NewRetryMiddleware(c.retryPolicy())}
	if c.Engine.CallTimeout > 0 {
		mws = append(mws, middleware.NewTimeoutMiddleware(c.Engine.CallTimeout.Std()))
	}
	return mws
}

func (c *Config) retryPolicy() middleware.RetryConfig {
	policy := middleware.RetryConfig{
		InitialBackoff: c.Retry.InitialBackoff.Std(),
		MaxBackoff:     c.Retry.MaxBackoff.Std(),
	}
	if c.Retry.MaxRetries != nil {
		policy.MaxRetries = *c.Retry.MaxRetries
		if policy.MaxRetries == 0 {
			policy.MaxRetries = middleware.NoRetries
		}
	}
	return policy
}
