// Package openai implements ai.Provider and ai.StreamProvider for the
// OpenAI-compatible /chat/completions endpoint. The same adapter serves any
// compatible server (Ollama's /v1, vLLM, LM Studio) by changing the base URL.
//
// [New] reads OPENAI_API_KEY and OPENAI_API_BASE_URL; [WithAPIKey],
// [WithBaseURL] and [WithHTTPClient] override them.
package openai
