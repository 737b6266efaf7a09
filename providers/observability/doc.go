// Package observability defines the tracing, metrics and structured logging
// contract used throughout fissio.
//
// [Provider] composes [Tracer], [Metrics] and [Logger] into one injectable
// dependency. A nil Provider is valid everywhere and costs nothing. The active
// Provider and [Span] travel through a [context.Context] via
// [ContextWithObserver] and [ContextWithSpan].
//
// semconv.go holds the attribute keys, span names and metric names shared by
// the pipeline engine, the model client and the tools.
package observability
