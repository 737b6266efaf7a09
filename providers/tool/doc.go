// Package tool defines the tools a pipeline worker can call during its
// agentic loop.
//
// A [Tool] wraps a typed Go function together with its name, description and
// a JSON schema derived from its input type. Every tool satisfies
// [GenericTool], the text-in/text-out form the engine dispatches. Tools are
// collected in a [Catalog], which resolves names case-insensitively and is
// shared read-only across runs.
//
// The built-in fetch_url and web_search tools live in the webfetch and tavily
// subpackages; package builtin assembles the default catalog.
package tool
