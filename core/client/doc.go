// Package client is the unified model client. It owns the set of configured
// models, resolves a requested model id to a [ModelConfig], builds one
// provider adapter per model and sends every call through a middleware chain
// (retry, timeout, logging, observability).
//
// The primary entry point is [New]. The pipeline engine depends only on the
// [ModelClient] interface, so tests can script model behavior without HTTP.
//
//	c, err := client.New(
//	    client.WithModels(client.ModelConfig{ID: "gpt-4o-mini", Name: "GPT-4o mini", Model: "gpt-4o-mini"}),
//	    client.WithMiddleware(middleware.NewRetryMiddleware(middleware.RetryConfig{})),
//	)
//	resp, err := c.Complete(ctx, ai.ChatRequest{Model: "gpt-4o-mini", Messages: msgs})
//
// For JSON decisions (gate, orchestrator, evaluator) use [CompleteAs], which
// parses the reply leniently through core/parse.
package client
