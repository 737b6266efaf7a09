package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/leofalp/fissio/providers/ai"
	"github.com/leofalp/fissio/providers/observability"
)

// ErrNoModels is returned by New when no model can serve as the default.
var ErrNoModels = errors.New("client: no default model configured")

// ModelClient is the capability the pipeline engine needs from a model
// client. request.Model carries a model id; an empty or unknown id selects
// the default model. A request with Tools set is a tool-augmented call whose
// response may carry tool calls in place of text.
type ModelClient interface {
	Complete(ctx context.Context, request ai.ChatRequest) (*ai.ChatResponse, error)
	Stream(ctx context.Context, request ai.ChatRequest) (*ai.ChatStream, error)
}

// Client routes requests to per-model provider adapters through a shared
// middleware chain. It is safe for concurrent use and is meant to be shared
// across pipeline runs.
type Client struct {
	factory     ProviderFactory
	middlewares []MiddlewareConfig
	observer    observability.Provider

	mu       sync.RWMutex
	resolver *Resolver
	chains   map[string]*chain
}

var _ ModelClient = (*Client)(nil)

type chain struct {
	provider ai.Provider
	send     SendFunc
	stream   StreamFunc
}

// ClientOptions collects the functional options passed to New.
type ClientOptions struct {
	Models          []ModelConfig
	DefaultModel    string
	ProviderFactory ProviderFactory
	Middlewares     []MiddlewareConfig
	Observer        observability.Provider
}

// WithModels adds models to the registry.
func WithModels(models ...ModelConfig) func(*ClientOptions) {
	return func(o *ClientOptions) {
		o.Models = append(o.Models, models...)
	}
}

// WithDefaultModel sets the id used for empty or unknown model ids. Without
// it the first configured model is the default.
func WithDefaultModel(id string) func(*ClientOptions) {
	return func(o *ClientOptions) {
		o.DefaultModel = id
	}
}

// WithProviderFactory replaces DefaultProviderFactory.
func WithProviderFactory(factory ProviderFactory) func(*ClientOptions) {
	return func(o *ClientOptions) {
		o.ProviderFactory = factory
	}
}

// WithMiddleware appends middlewares. The first entry is the outermost wrapper.
func WithMiddleware(middlewares ...MiddlewareConfig) func(*ClientOptions) {
	return func(o *ClientOptions) {
		o.Middlewares = append(o.Middlewares, middlewares...)
	}
}

// WithObserver enables tracing, metrics and logging of every call. The
// observability middleware is prepended so that it sees the final outcome
// after retries.
func WithObserver(observer observability.Provider) func(*ClientOptions) {
	return func(o *ClientOptions) {
		o.Observer = observer
	}
}

// New builds a Client.
func New(opts ...func(*ClientOptions)) (*Client, error) {
	options := &ClientOptions{}
	for _, opt := range opts {
		opt(options)
	}

	for i, mw := range options.Middlewares {
		if mw.Send == nil {
			return nil, fmt.Errorf("client: middleware at index %d has nil Send", i)
		}
	}

	resolver := NewResolver(options.DefaultModel, options.Models...)
	if _, ok := resolver.Resolve(""); !ok {
		if options.DefaultModel != "" {
			return nil, fmt.Errorf("%w: %q is not a configured model", ErrNoModels, options.DefaultModel)
		}
		return nil, ErrNoModels
	}

	factory := options.ProviderFactory
	if factory == nil {
		factory = DefaultProviderFactory
	}

	middlewares := options.Middlewares
	if options.Observer != nil {
		middlewares = append([]MiddlewareConfig{NewObservabilityMiddleware(options.Observer)}, middlewares...)
	}

	return &Client{
		factory:     factory,
		middlewares: middlewares,
		observer:    options.Observer,
		resolver:    resolver,
		chains:      make(map[string]*chain),
	}, nil
}

// Register adds models discovered at runtime (e.g. local Ollama models).
// Existing ids are replaced and their cached adapters dropped.
func (c *Client) Register(models ...ModelConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolver = c.resolver.with(models...)
	for _, m := range models {
		delete(c.chains, m.ID)
	}
}

// Models lists the configured models.
func (c *Client) Models() []ModelConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resolver.Models()
}

// DefaultModel returns the default model id.
func (c *Client) DefaultModel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resolver.Default()
}

// Resolve returns the configuration a model id resolves to.
func (c *Client) Resolve(id string) ModelConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cfg, _ := c.resolver.Resolve(id)
	return cfg
}

// Complete sends a request and waits for the full response.
func (c *Client) Complete(ctx context.Context, request ai.ChatRequest) (*ai.ChatResponse, error) {
	ch, request, err := c.prepare(ctx, request)
	if err != nil {
		return nil, err
	}
	return ch.send(ctx, request)
}

// Stream sends a request and returns the response as a stream. Providers
// without native streaming are replayed as a single-event stream.
func (c *Client) Stream(ctx context.Context, request ai.ChatRequest) (*ai.ChatStream, error) {
	ch, request, err := c.prepare(ctx, request)
	if err != nil {
		return nil, err
	}
	return ch.stream(ctx, request)
}

// prepare resolves the model id, swaps it for the provider model name and
// returns the chain serving it.
func (c *Client) prepare(ctx context.Context, request ai.ChatRequest) (*chain, ai.ChatRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, request, err
	}

	c.mu.RLock()
	cfg, _ := c.resolver.Resolve(request.Model)
	ch, ok := c.chains[cfg.ID]
	c.mu.RUnlock()

	if !ok {
		var err error
		ch, err = c.buildChain(cfg)
		if err != nil {
			return nil, request, err
		}
	}

	request.Model = cfg.Model
	return ch, request, nil
}

func (c *Client) buildChain(cfg ModelConfig) (*chain, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ch, ok := c.chains[cfg.ID]; ok {
		return ch, nil
	}

	provider, err := c.factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("client: building provider for model %q: %w", cfg.ID, err)
	}

	ch := &chain{
		provider: provider,
		send:     buildSendChain(provider, c.middlewares),
		stream:   buildStreamChain(provider, c.middlewares),
	}
	c.chains[cfg.ID] = ch
	return ch, nil
}
