// Package builtin assembles the default tool catalog: fetch_url is always
// present and web_search is added when a Tavily API key is configured.
package builtin

import (
	"os"

	"github.com/leofalp/fissio/providers/tool"
	"github.com/leofalp/fissio/providers/tool/tavily"
	"github.com/leofalp/fissio/providers/tool/webfetch"
)

// Config selects and configures the built-in tools.
type Config struct {
	TavilyAPIKey  string `json:"tavily_api_key" yaml:"tavily_api_key"`
	TavilyBaseURL string `json:"tavily_base_url" yaml:"tavily_base_url"`
	UserAgent     string `json:"user_agent" yaml:"user_agent"`
}

// FromEnv returns a Config populated from TAVILY_API_KEY.
func FromEnv() Config {
	return Config{TavilyAPIKey: os.Getenv(tavily.EnvAPIKey)}
}

// NewCatalog returns a catalog holding the built-in tools enabled by cfg.
func NewCatalog(cfg Config) *tool.Catalog {
	var fetchOpts []webfetch.Option
	if cfg.UserAgent != "" {
		fetchOpts = append(fetchOpts, webfetch.WithUserAgent(cfg.UserAgent))
	}
	catalog := tool.NewCatalogWithTools(webfetch.NewTool(fetchOpts...))

	if cfg.TavilyAPIKey != "" {
		var searchOpts []tavily.Option
		if cfg.TavilyBaseURL != "" {
			searchOpts = append(searchOpts, tavily.WithBaseURL(cfg.TavilyBaseURL))
		}
		catalog.AddTools(tavily.NewTool(cfg.TavilyAPIKey, searchOpts...))
	}
	return catalog
}
