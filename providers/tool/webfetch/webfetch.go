package webfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"

	"github.com/leofalp/fissio/internal/utils"
	"github.com/leofalp/fissio/providers/tool"
)

const (
	// Name is the tool name advertised to the model.
	Name = "fetch_url"

	// DefaultUserAgent is sent with every request unless overridden.
	DefaultUserAgent = "Mozilla/5.0 (compatible; AgentBot/1.0)"

	// DefaultTimeout bounds a whole fetch, body included.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxLength is the content limit in characters when the model
	// does not pass max_length.
	DefaultMaxLength = 8000

	// MaxBodySize caps how much of a response is read.
	MaxBodySize = 10 * 1024 * 1024

	maxRedirects = 10
)

// Input is what the model passes to fetch_url.
type Input struct {
	URL       string `json:"url" jsonschema:"description=The URL to fetch content from,required"`
	MaxLength int    `json:"max_length,omitempty" jsonschema:"description=Maximum characters for content (default: 8000),minimum=1"`
}

// Output is returned to the model as JSON.
type Output struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
	Truncated   bool   `json:"truncated"`
}

// Fetcher performs fetch_url requests.
type Fetcher struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the HTTP client. The redirect limit of the default
// client is not applied to a custom one.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithUserAgent overrides DefaultUserAgent.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.userAgent = ua }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.timeout = d }
}

// New returns a Fetcher with a client that bounds connection setup and
// follows at most ten redirects.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 15 * time.Second,
				IdleConnTimeout:       90 * time.Second,
				MaxIdleConnsPerHost:   10,
				ForceAttemptHTTP2:     true,
			},
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		userAgent: DefaultUserAgent,
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewTool returns the fetch_url tool.
func NewTool(opts ...Option) *tool.Tool[Input, Output] {
	return tool.NewTool(Name, New(opts...).Fetch,
		tool.WithDescription("Fetch and parse content from a URL. Returns structured data with title, description, and main text content."),
	)
}

// Fetch downloads in.URL. URLs without a scheme get "https://". HTML pages
// are converted to Markdown; any other content type is returned as text.
// Non-2xx responses are errors.
func (f *Fetcher) Fetch(ctx context.Context, in Input) (Output, error) {
	target := strings.TrimSpace(in.URL)
	if target == "" {
		return Output{}, errors.New("url is required")
	}
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = "https://" + target
	}
	maxLength := in.MaxLength
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Output{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return Output{}, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer utils.CloseWithLog(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Output{}, fmt.Errorf("HTTP error: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		return Output{}, fmt.Errorf("read body: %w", err)
	}

	out := Output{
		URL:         resp.Request.URL.String(),
		ContentType: resp.Header.Get("Content-Type"),
	}
	if out.ContentType == "" {
		out.ContentType = "text/plain"
	}

	text := string(body)
	if strings.Contains(out.ContentType, "text/html") {
		out.Title, out.Description = pageMetadata(text)
		text, err = htmltomarkdown.ConvertString(text)
		if err != nil {
			return Output{}, fmt.Errorf("convert html: %w", err)
		}
	}
	out.Content, out.Truncated = truncate(strings.TrimSpace(text), maxLength)
	return out, nil
}

// pageMetadata returns the <title> text and the first of the description,
// og:description meta contents.
func pageMetadata(document string) (title, description string) {
	root, err := html.Parse(strings.NewReader(document))
	if err != nil {
		return "", ""
	}

	var ogDescription string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "meta":
				var name, property, content string
				for _, attr := range n.Attr {
					switch strings.ToLower(attr.Key) {
					case "name":
						name = strings.ToLower(attr.Val)
					case "property":
						property = strings.ToLower(attr.Val)
					case "content":
						content = attr.Val
					}
				}
				if name == "description" && description == "" {
					description = content
				}
				if property == "og:description" && ogDescription == "" {
					ogDescription = content
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	if description == "" {
		description = ogDescription
	}
	return title, strings.TrimSpace(description)
}

// truncate cuts s to at most n characters.
func truncate(s string, n int) (string, bool) {
	if utf8.RuneCountInString(s) <= n {
		return s, false
	}
	runes := 0
	for i := range s {
		if runes == n {
			return s[:i], true
		}
		runes++
	}
	return s, false
}
