package tavily

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/leofalp/fissio/internal/utils"
	"github.com/leofalp/fissio/providers/tool"
)

const (
	// Name is the tool name advertised to the model.
	Name = "web_search"

	// DefaultBaseURL is the Tavily API root.
	DefaultBaseURL = "https://api.tavily.com"

	// EnvAPIKey is read by the default catalog.
	EnvAPIKey = "TAVILY_API_KEY"

	// DefaultMaxResults applies when the model does not pass max_results.
	DefaultMaxResults = 5

	maxResultsLimit = 20
)

// ErrMissingAPIKey is returned by Search when the client has no key.
var ErrMissingAPIKey = errors.New("tavily: api key is not set")

// Input is what the model passes to web_search.
type Input struct {
	Query      string `json:"query" jsonschema:"description=The search query,required"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"description=Maximum number of results to return (default: 5),minimum=1,maximum=20"`
}

type searchRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
}

type searchResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

type apiError struct {
	Detail struct {
		Error string `json:"error"`
	} `json:"detail"`
}

// Client calls the Tavily search endpoint.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// New returns a Client authenticating with apiKey.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewTool returns the web_search tool.
func NewTool(apiKey string, opts ...Option) *tool.Tool[Input, string] {
	return tool.NewTool(Name, New(apiKey, opts...).Search,
		tool.WithDescription("Search the web for information. Returns relevant results with titles, URLs, and content snippets."),
	)
}

// Search runs a basic-depth search and formats the answer and results as
// Markdown.
func (c *Client) Search(ctx context.Context, in Input) (string, error) {
	if c.apiKey == "" {
		return "", ErrMissingAPIKey
	}
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return "", errors.New("query is required")
	}
	maxResults := in.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	maxResults = min(maxResults, maxResultsLimit)

	body := searchRequest{
		APIKey:      c.apiKey,
		Query:       query,
		MaxResults:  maxResults,
		SearchDepth: "basic",
	}
	_, resp, err := utils.DoPostSync[searchResponse](ctx, c.client, c.baseURL+"/search", "", body)
	if err != nil {
		return "", describeError(err)
	}
	return format(query, resp), nil
}

func describeError(err error) error {
	var httpErr *utils.HTTPError
	if !errors.As(err, &httpErr) {
		return fmt.Errorf("tavily: %w", err)
	}
	var apiErr apiError
	if json.Unmarshal([]byte(httpErr.Body), &apiErr) == nil && apiErr.Detail.Error != "" {
		return fmt.Errorf("tavily API error (status %d): %s: %w", httpErr.StatusCode, apiErr.Detail.Error, err)
	}
	return fmt.Errorf("tavily API error: %w", err)
}

func format(query string, resp *searchResponse) string {
	if len(resp.Results) == 0 && resp.Answer == "" {
		return fmt.Sprintf("No results found for %q.", query)
	}

	var b strings.Builder
	if resp.Answer != "" {
		fmt.Fprintf(&b, "**Summary:** %s\n\n", resp.Answer)
	}
	b.WriteString("**Search Results:**\n\n")
	for i, r := range resp.Results {
		fmt.Fprintf(&b, "%d. **%s**\n   URL: %s\n   %s\n\n", i+1, r.Title, r.URL, r.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}
