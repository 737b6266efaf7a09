package observability

import (
	"context"
	"time"
)

// Provider is the single dependency the engine, the model client and the
// tools report through.
type Provider interface {
	Tracer
	Metrics
	Logger
}

type (
	// Tracer opens spans. The returned context carries the span so nested
	// work (HTTP calls, tool invocations) can annotate it.
	Tracer interface {
		StartSpan(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
	}

	// Span is one timed unit of work: a pipeline run, a node visit, a model
	// call or a tool call.
	Span interface {
		SetAttributes(attrs ...Attribute)
		AddEvent(name string, attrs ...Attribute)
		RecordError(err error)
		SetStatus(code StatusCode, description string)
		End()
	}
)

// StatusCode is the outcome recorded on a span.
type StatusCode int

const (
	StatusUnset StatusCode = iota
	StatusOK
	StatusError
)

func (c StatusCode) String() string {
	switch c {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	default:
		return "unset"
	}
}

type (
	// Metrics hands out named instruments; asking twice for a name returns
	// the same instrument.
	Metrics interface {
		Counter(name string) Counter
		Histogram(name string) Histogram
	}

	Counter interface {
		Add(ctx context.Context, value int64, attrs ...Attribute)
	}

	Histogram interface {
		Record(ctx context.Context, value float64, attrs ...Attribute)
	}
)

// Logger writes structured records. Trace sits below Debug and carries
// prompts and tool payloads.
type Logger interface {
	Trace(ctx context.Context, msg string, attrs ...Attribute)
	Debug(ctx context.Context, msg string, attrs ...Attribute)
	Info(ctx context.Context, msg string, attrs ...Attribute)
	Warn(ctx context.Context, msg string, attrs ...Attribute)
	Error(ctx context.Context, msg string, attrs ...Attribute)
}

// Attribute is a key-value pair attached to spans, metrics and log records.
type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute                 { return Attribute{key, value} }
func Int(key string, value int) Attribute                { return Attribute{key, value} }
func Float64(key string, value float64) Attribute        { return Attribute{key, value} }
func Bool(key string, value bool) Attribute              { return Attribute{key, value} }
func Duration(key string, value time.Duration) Attribute { return Attribute{key, value} }
func StringSlice(key string, value []string) Attribute   { return Attribute{key, value} }

// Error records err under AttrError; a nil err gives an empty message.
func Error(err error) Attribute {
	if err == nil {
		return Attribute{AttrError, ""}
	}
	return Attribute{AttrError, err.Error()}
}

type contextKey int

const (
	spanKey contextKey = iota
	observerKey
)

// ContextWithSpan returns ctx carrying span.
func ContextWithSpan(ctx context.Context, span Span) context.Context {
	return context.WithValue(ctx, spanKey, span)
}

// SpanFromContext returns the span in ctx, or nil.
func SpanFromContext(ctx context.Context) Span {
	span, _ := ctx.Value(spanKey).(Span)
	return span
}

// ContextWithObserver returns ctx carrying observer, so providers and tools
// deep in a run can log without it being passed down.
func ContextWithObserver(ctx context.Context, observer Provider) context.Context {
	return context.WithValue(ctx, observerKey, observer)
}

// ObserverFromContext returns the observer in ctx, or nil.
func ObserverFromContext(ctx context.Context) Provider {
	observer, _ := ctx.Value(observerKey).(Provider)
	return observer
}
