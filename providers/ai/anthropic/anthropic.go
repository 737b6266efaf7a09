package anthropic

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/leofalp/fissio/internal/utils"
	"github.com/leofalp/fissio/providers/ai"
	"github.com/leofalp/fissio/providers/observability"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	messagesEndpoint = "/messages"
	anthropicVersion = "2023-06-01"

	// defaultMaxTokens is sent when the request does not set one; the
	// Messages API rejects requests without max_tokens.
	defaultMaxTokens = 4096
)

// Provider talks to the Anthropic Messages API.
type Provider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

var (
	_ ai.Provider       = (*Provider)(nil)
	_ ai.StreamProvider = (*Provider)(nil)
)

// Option configures a Provider.
type Option func(*Provider)

func WithAPIKey(apiKey string) Option {
	return func(p *Provider) { p.apiKey = apiKey }
}

func WithBaseURL(baseURL string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(baseURL, "/") }
}

func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) { p.client = client }
}

// New creates a provider from ANTHROPIC_API_KEY / ANTHROPIC_API_BASE_URL and opts.
func New(opts ...Option) *Provider {
	p := &Provider{
		apiKey:  os.Getenv("ANTHROPIC_API_KEY"),
		baseURL: defaultBaseURL,
		client:  &http.Client{},
	}
	if baseURL := os.Getenv("ANTHROPIC_API_BASE_URL"); baseURL != "" {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) headers() []utils.HeaderOption {
	return []utils.HeaderOption{
		{Key: "x-api-key", Value: p.apiKey},
		{Key: "anthropic-version", Value: anthropicVersion},
	}
}

func (p *Provider) SendMessage(ctx context.Context, request ai.ChatRequest) (*ai.ChatResponse, error) {
	p.annotate(ctx, request, false)
	if p.apiKey == "" {
		return nil, ai.ErrMissingAPIKey
	}

	_, resp, err := utils.DoPostSync[messagesResponse](ctx, p.client, p.baseURL+messagesEndpoint, "", requestToMessages(request), p.headers()...)
	if err != nil {
		return nil, err
	}
	return messagesToGeneric(*resp), nil
}

func (p *Provider) annotate(ctx context.Context, request ai.ChatRequest, streaming bool) {
	attrs := []observability.Attribute{
		observability.String(observability.AttrLLMProvider, p.Name()),
		observability.String(observability.AttrLLMModel, request.Model),
		observability.Bool(observability.AttrLLMStreaming, streaming),
	}
	if span := observability.SpanFromContext(ctx); span != nil {
		span.AddEvent(observability.EventLLMRequestStart, attrs...)
	}
	if observer := observability.ObserverFromContext(ctx); observer != nil {
		observer.Trace(ctx, "anthropic request prepared", append(attrs,
			observability.Int(observability.AttrRequestMessagesCount, len(request.Messages)),
			observability.Int(observability.AttrRequestToolsCount, len(request.Tools)),
		)...)
	}
}
