// Package tavily implements the web_search tool on top of the Tavily search
// API (POST /search). Results are rendered as numbered Markdown text so the
// model can cite titles and URLs directly.
package tavily
