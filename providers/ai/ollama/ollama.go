// Package ollama discovers the models served by a local Ollama instance and
// unloads them from memory. Discovered models are returned as
// client.ModelConfig values pointed at Ollama's OpenAI-compatible "/v1"
// endpoint, so the regular OpenAI adapter serves them.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/leofalp/fissio/core/client"
	"github.com/leofalp/fissio/internal/utils"
)

const (
	// DefaultBaseURL is where a local Ollama listens by default.
	DefaultBaseURL = "http://localhost:11434"

	// IDPrefix marks model ids produced by discovery.
	IDPrefix = "ollama-"

	discoverTimeout = 5 * time.Second
	unloadTimeout   = 10 * time.Second
)

// Host is an Ollama instance.
type Host struct {
	baseURL string
	client  *http.Client
}

// Option configures a Host.
type Option func(*Host)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(h *Host) {
		h.client = c
	}
}

// New returns a Host for baseURL. An empty baseURL falls back to
// OLLAMA_BASE_URL and then to DefaultBaseURL.
func New(baseURL string, opts ...Option) *Host {
	if baseURL == "" {
		baseURL = os.Getenv("OLLAMA_BASE_URL")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	h := &Host{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// BaseURL returns the host root without a trailing slash.
func (h *Host) BaseURL() string { return h.baseURL }

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Discover lists the installed models.
func (h *Host) Discover(ctx context.Context) ([]client.ModelConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, discoverTimeout)
	defer cancel()

	_, tags, err := utils.DoGetSync[tagsResponse](ctx, h.client, h.baseURL+"/api/tags", "")
	if err != nil {
		return nil, fmt.Errorf("ollama: discovery at %s: %w", h.baseURL, err)
	}

	models := make([]client.ModelConfig, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, client.ModelConfig{
			ID:      IDPrefix + Slug(m.Name),
			Name:    DisplayName(m.Name),
			Model:   m.Name,
			APIBase: h.baseURL + "/v1",
		})
	}
	return models, nil
}

type unloadRequest struct {
	Model     string   `json:"model"`
	Messages  []string `json:"messages"`
	KeepAlive int      `json:"keep_alive"`
}

// Unload asks Ollama to evict model from memory. model is the Ollama model
// name, not the discovery id.
func (h *Host) Unload(ctx context.Context, model string) error {
	ctx, cancel := context.WithTimeout(ctx, unloadTimeout)
	defer cancel()

	body := unloadRequest{Model: model, Messages: []string{}, KeepAlive: 0}
	if _, _, err := utils.DoPostSync[map[string]any](ctx, h.client, h.baseURL+"/api/chat", "", body); err != nil {
		return fmt.Errorf("ollama: unloading %s: %w", model, err)
	}
	return nil
}

// IsLocal reports whether cfg was produced by Discover.
func IsLocal(cfg client.ModelConfig) bool {
	return strings.HasPrefix(cfg.ID, IDPrefix)
}

// DisplayName formats a model name for display:
//
//	"llama3:8b"          -> "Llama3:8b (Local)"
//	"library/qwen3"      -> "Qwen3 (Local)"
func DisplayName(name string) string {
	last := name[strings.LastIndex(name, "/")+1:]
	base, tag, hasTag := strings.Cut(last, ":")

	if r, size := utf8.DecodeRuneInString(base); size > 0 {
		base = string(unicode.ToUpper(r)) + base[size:]
	}
	if hasTag && tag != "" {
		base += ":" + tag
	}
	return base + " (Local)"
}

// Slug turns a model name into a URL-safe id fragment:
// "hf.co/org/Model:Q4" -> "hf-co-org-model-q4".
func Slug(name string) string {
	slug := strings.NewReplacer("/", "-", ":", "-", ".", "-").Replace(strings.ToLower(name))
	slug = strings.ReplaceAll(slug, "--", "-")
	return strings.Trim(slug, "-")
}
