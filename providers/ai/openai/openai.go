package openai

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/leofalp/fissio/internal/utils"
	"github.com/leofalp/fissio/providers/ai"
	"github.com/leofalp/fissio/providers/observability"
)

const (
	defaultBaseURL          = "https://api.openai.com/v1"
	chatCompletionsEndpoint = "/chat/completions"
)

// Provider talks to an OpenAI-compatible chat completions API.
type Provider struct {
	apiKey     string
	baseURL    string
	client     *http.Client
	requireKey bool
}

var (
	_ ai.Provider       = (*Provider)(nil)
	_ ai.StreamProvider = (*Provider)(nil)
)

// Option configures a Provider.
type Option func(*Provider)

// WithAPIKey sets the bearer token.
func WithAPIKey(apiKey string) Option {
	return func(p *Provider) {
		p.apiKey = apiKey
	}
}

// WithBaseURL points the adapter at another compatible server. A base URL
// other than the OpenAI default no longer requires an API key, which is how
// local servers such as Ollama are reached.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets the HTTP client used for outbound requests.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.client = client
	}
}

// New creates a provider from OPENAI_API_KEY / OPENAI_API_BASE_URL and opts.
func New(opts ...Option) *Provider {
	p := &Provider{
		apiKey:  os.Getenv("OPENAI_API_KEY"),
		baseURL: defaultBaseURL,
		client:  &http.Client{},
	}
	if baseURL := os.Getenv("OPENAI_API_BASE_URL"); baseURL != "" {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
	for _, opt := range opts {
		opt(p)
	}
	p.requireKey = p.baseURL == defaultBaseURL
	return p
}

func (p *Provider) Name() string { return "openai" }

// BaseURL returns the configured endpoint root.
func (p *Provider) BaseURL() string { return p.baseURL }

func (p *Provider) SendMessage(ctx context.Context, request ai.ChatRequest) (*ai.ChatResponse, error) {
	p.annotate(ctx, request, false)
	if p.requireKey && p.apiKey == "" {
		return nil, ai.ErrMissingAPIKey
	}

	_, resp, err := utils.DoPostSync[chatCompletionResponse](ctx, p.client, p.baseURL+chatCompletionsEndpoint, p.apiKey, requestToChatCompletion(request))
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: response %q has no choices", resp.ID)
	}
	return chatCompletionToGeneric(*resp), nil
}

func (p *Provider) annotate(ctx context.Context, request ai.ChatRequest, streaming bool) {
	attrs := []observability.Attribute{
		observability.String(observability.AttrLLMProvider, p.Name()),
		observability.String(observability.AttrLLMEndpoint, p.baseURL),
		observability.String(observability.AttrLLMModel, request.Model),
		observability.Bool(observability.AttrLLMStreaming, streaming),
	}
	if span := observability.SpanFromContext(ctx); span != nil {
		span.AddEvent(observability.EventLLMRequestStart, attrs...)
	}
	if observer := observability.ObserverFromContext(ctx); observer != nil {
		observer.Trace(ctx, "openai request prepared", append(attrs,
			observability.Int(observability.AttrRequestMessagesCount, len(request.Messages)),
			observability.Int(observability.AttrRequestToolsCount, len(request.Tools)),
		)...)
	}
}
