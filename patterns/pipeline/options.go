package pipeline

import (
	"maps"
	"time"

	"github.com/leofalp/fissio/providers/observability"
)

const (
	// DefaultMaxFeedbackIterations caps a feedback loop whose edge does not
	// set max_iterations.
	DefaultMaxFeedbackIterations = 5

	// DefaultMaxToolIterations caps the model calls of one worker visit.
	DefaultMaxToolIterations = 10

	// DefaultEvaluatorThreshold is the score an evaluator accepts at.
	DefaultEvaluatorThreshold = 60.0
)

type engineConfig struct {
	maxFeedbackIterations int
	maxToolIterations     int
	maxConcurrency        int
	executionTimeout      time.Duration
	observer              observability.Provider
	modelOverrides        map[string]string
	defaultModel          string
}

// Option configures an Engine.
type Option func(*engineConfig)

// WithMaxFeedbackIterations sets the revision cap for feedback edges that do
// not carry their own. Values below 1 are ignored.
func WithMaxFeedbackIterations(n int) Option {
	return func(c *engineConfig) {
		if n > 0 {
			c.maxFeedbackIterations = n
		}
	}
}

// WithMaxToolIterations sets the number of model calls a worker may make per
// visit when its config has no max_iterations. Values below 1 are ignored.
func WithMaxToolIterations(n int) Option {
	return func(c *engineConfig) {
		if n > 0 {
			c.maxToolIterations = n
		}
	}
}

// WithMaxConcurrency bounds the number of node visits executing at once.
// 0 means unlimited.
//
//	engine := pipeline.NewEngine(modelClient, catalog,
//	    pipeline.WithMaxConcurrency(4),
//	)
func WithMaxConcurrency(n int) Option {
	return func(c *engineConfig) {
		c.maxConcurrency = n
	}
}

// WithExecutionTimeout bounds a whole run. 0 means no limit.
func WithExecutionTimeout(timeout time.Duration) Option {
	return func(c *engineConfig) {
		c.executionTimeout = timeout
	}
}

// WithObserver enables spans, metrics and logs for runs. Without it the
// observer found in the run context, if any, is used.
func WithObserver(observer observability.Provider) Option {
	return func(c *engineConfig) {
		c.observer = observer
	}
}

// WithModelOverrides maps node ids to model ids. An override beats the
// node's own model.
func WithModelOverrides(overrides map[string]string) Option {
	return func(c *engineConfig) {
		if c.modelOverrides == nil {
			c.modelOverrides = make(map[string]string, len(overrides))
		}
		maps.Copy(c.modelOverrides, overrides)
	}
}

// WithDefaultModel sets the model id used by nodes without a model. Left
// empty, the model client picks its own default.
func WithDefaultModel(model string) Option {
	return func(c *engineConfig) {
		c.defaultModel = model
	}
}

func (c *engineConfig) clone() engineConfig {
	copied := *c
	copied.modelOverrides = maps.Clone(c.modelOverrides)
	return copied
}

// modelFor resolves the model id of a node: run override, then the node's
// own model, then the default.
func (c *engineConfig) modelFor(n *Node) string {
	if model := c.modelOverrides[n.ID]; model != "" {
		return model
	}
	if n.Model != "" {
		return n.Model
	}
	return c.defaultModel
}
