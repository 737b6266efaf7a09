// Package anthropic implements ai.Provider and ai.StreamProvider for the
// Anthropic Messages API, including tool use. [New] reads ANTHROPIC_API_KEY
// and ANTHROPIC_API_BASE_URL.
package anthropic
