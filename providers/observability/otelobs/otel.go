// Package otelobs adapts OpenTelemetry tracers and meters to the
// observability.Provider contract. Log calls are forwarded to a wrapped
// observability.Logger (typically a slogobs.Observer) because the engine logs
// through the same Provider it traces with.
package otelobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/leofalp/fissio/providers/observability"
)

const instrumentationName = "github.com/leofalp/fissio"

// Provider implements observability.Provider with OpenTelemetry.
type Provider struct {
	tracer trace.Tracer
	meter  metric.Meter
	logger observability.Logger

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

var _ observability.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithTracerProvider uses tp instead of the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Provider) {
		p.tracer = tp.Tracer(instrumentationName)
	}
}

// WithMeterProvider uses mp instead of the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(p *Provider) {
		p.meter = mp.Meter(instrumentationName)
	}
}

// WithLogger forwards log calls to logger. Without it log calls are dropped.
func WithLogger(logger observability.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// New builds a Provider from the global OpenTelemetry providers unless
// overridden by options.
func New(opts ...Option) *Provider {
	p := &Provider{
		tracer:     otel.Tracer(instrumentationName),
		meter:      otel.Meter(instrumentationName),
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...observability.Attribute) (context.Context, observability.Span) {
	ctx, otelSpan := p.tracer.Start(ctx, name, trace.WithAttributes(toOtel(attrs)...))
	span := &otelSpanAdapter{span: otelSpan}
	return observability.ContextWithSpan(ctx, span), span
}

func (p *Provider) Counter(name string) observability.Counter {
	p.mu.Lock()
	defer p.mu.Unlock()
	counter, ok := p.counters[name]
	if !ok {
		var err error
		counter, err = p.meter.Int64Counter(name)
		if err != nil {
			otel.Handle(err)
			return noopInstrument{}
		}
		p.counters[name] = counter
	}
	return int64CounterAdapter{counter: counter}
}

func (p *Provider) Histogram(name string) observability.Histogram {
	p.mu.Lock()
	defer p.mu.Unlock()
	histogram, ok := p.histograms[name]
	if !ok {
		var err error
		histogram, err = p.meter.Float64Histogram(name)
		if err != nil {
			otel.Handle(err)
			return noopInstrument{}
		}
		p.histograms[name] = histogram
	}
	return float64HistogramAdapter{histogram: histogram}
}

func (p *Provider) Trace(ctx context.Context, msg string, attrs ...observability.Attribute) {
	if p.logger != nil {
		p.logger.Trace(ctx, msg, attrs...)
	}
}

func (p *Provider) Debug(ctx context.Context, msg string, attrs ...observability.Attribute) {
	if p.logger != nil {
		p.logger.Debug(ctx, msg, attrs...)
	}
}

func (p *Provider) Info(ctx context.Context, msg string, attrs ...observability.Attribute) {
	if p.logger != nil {
		p.logger.Info(ctx, msg, attrs...)
	}
}

func (p *Provider) Warn(ctx context.Context, msg string, attrs ...observability.Attribute) {
	if p.logger != nil {
		p.logger.Warn(ctx, msg, attrs...)
	}
}

func (p *Provider) Error(ctx context.Context, msg string, attrs ...observability.Attribute) {
	if p.logger != nil {
		p.logger.Error(ctx, msg, attrs...)
	}
}

type otelSpanAdapter struct {
	span trace.Span
}

func (s *otelSpanAdapter) End() { s.span.End() }

func (s *otelSpanAdapter) SetAttributes(attrs ...observability.Attribute) {
	s.span.SetAttributes(toOtel(attrs)...)
}

func (s *otelSpanAdapter) SetStatus(code observability.StatusCode, description string) {
	switch code {
	case observability.StatusOK:
		s.span.SetStatus(codes.Ok, description)
	case observability.StatusError:
		s.span.SetStatus(codes.Error, description)
	default:
		s.span.SetStatus(codes.Unset, description)
	}
}

func (s *otelSpanAdapter) RecordError(err error) {
	if err != nil {
		s.span.RecordError(err)
	}
}

func (s *otelSpanAdapter) AddEvent(name string, attrs ...observability.Attribute) {
	s.span.AddEvent(name, trace.WithAttributes(toOtel(attrs)...))
}

type int64CounterAdapter struct {
	counter metric.Int64Counter
}

func (c int64CounterAdapter) Add(ctx context.Context, value int64, attrs ...observability.Attribute) {
	c.counter.Add(ctx, value, metric.WithAttributes(toOtel(attrs)...))
}

type float64HistogramAdapter struct {
	histogram metric.Float64Histogram
}

func (h float64HistogramAdapter) Record(ctx context.Context, value float64, attrs ...observability.Attribute) {
	h.histogram.Record(ctx, value, metric.WithAttributes(toOtel(attrs)...))
}

type noopInstrument struct{}

func (noopInstrument) Add(context.Context, int64, ...observability.Attribute)       {}
func (noopInstrument) Record(context.Context, float64, ...observability.Attribute) {}

// toOtel converts attributes, falling back to their string form for types
// OpenTelemetry has no native representation for.
func toOtel(attrs []observability.Attribute) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		switch value := attr.Value.(type) {
		case string:
			out = append(out, attribute.String(attr.Key, value))
		case int:
			out = append(out, attribute.Int(attr.Key, value))
		case int64:
			out = append(out, attribute.Int64(attr.Key, value))
		case float64:
			out = append(out, attribute.Float64(attr.Key, value))
		case bool:
			out = append(out, attribute.Bool(attr.Key, value))
		case []string:
			out = append(out, attribute.StringSlice(attr.Key, value))
		case time.Duration:
			out = append(out, attribute.Int64(attr.Key+"_ms", value.Milliseconds()))
		default:
			out = append(out, attribute.String(attr.Key, fmt.Sprint(value)))
		}
	}
	return out
}
