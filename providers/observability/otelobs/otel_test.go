package otelobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/leofalp/fissio/providers/observability"
)

func TestProvider_SpansAreExported(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	provider := New(WithTracerProvider(tp))

	ctx, span := provider.StartSpan(context.Background(), observability.SpanNodeExecute,
		observability.String(observability.AttrNodeID, "writer"),
		observability.Int(observability.AttrNodeVisit, 2),
	)
	require.Equal(t, span, observability.SpanFromContext(ctx))

	span.AddEvent(observability.EventFeedbackRevision)
	span.RecordError(errors.New("boom"))
	span.SetStatus(observability.StatusError, "boom")
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	got := ended[0]
	assert.Equal(t, observability.SpanNodeExecute, got.Name())
	assert.Equal(t, codes.Error, got.Status().Code)

	attrs := map[string]any{}
	for _, kv := range got.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "writer", attrs[observability.AttrNodeID])
	assert.Equal(t, int64(2), attrs[observability.AttrNodeVisit])

	var eventNames []string
	for _, event := range got.Events() {
		eventNames = append(eventNames, event.Name)
	}
	assert.Contains(t, eventNames, observability.EventFeedbackRevision)
}

func TestProvider_MetricsAreRecorded(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	provider := New(WithMeterProvider(mp))
	ctx := context.Background()

	provider.Counter(observability.MetricNodeCount).Add(ctx, 1, observability.String(observability.AttrNodeKind, "llm"))
	provider.Counter(observability.MetricNodeCount).Add(ctx, 2, observability.String(observability.AttrNodeKind, "llm"))
	provider.Histogram(observability.MetricNodeDuration).Record(ctx, 0.25)

	var data metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &data))
	require.Len(t, data.ScopeMetrics, 1)

	found := map[string]metricdata.Aggregation{}
	for _, m := range data.ScopeMetrics[0].Metrics {
		found[m.Name] = m.Data
	}

	sum, ok := found[observability.MetricNodeCount].(metricdata.Sum[int64])
	require.True(t, ok, "node count should be an int64 sum")
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(3), sum.DataPoints[0].Value)

	_, ok = found[observability.MetricNodeDuration].(metricdata.Histogram[float64])
	assert.True(t, ok, "node duration should be a float64 histogram")
}

type recordingLogger struct {
	messages []string
}

func (l *recordingLogger) Trace(_ context.Context, msg string, _ ...observability.Attribute) {
	l.messages = append(l.messages, "trace:"+msg)
}
func (l *recordingLogger) Debug(_ context.Context, msg string, _ ...observability.Attribute) {
	l.messages = append(l.messages, "debug:"+msg)
}
func (l *recordingLogger) Info(_ context.Context, msg string, _ ...observability.Attribute) {
	l.messages = append(l.messages, "info:"+msg)
}
func (l *recordingLogger) Warn(_ context.Context, msg string, _ ...observability.Attribute) {
	l.messages = append(l.messages, "warn:"+msg)
}
func (l *recordingLogger) Error(_ context.Context, msg string, _ ...observability.Attribute) {
	l.messages = append(l.messages, "error:"+msg)
}

func TestProvider_ForwardsLogs(t *testing.T) {
	logger := &recordingLogger{}
	provider := New(WithLogger(logger))
	ctx := context.Background()

	provider.Info(ctx, "a")
	provider.Warn(ctx, "b")
	provider.Error(ctx, "c")

	assert.Equal(t, []string{"info:a", "warn:b", "error:c"}, logger.messages)

	// Without a logger nothing panics.
	New().Info(ctx, "dropped")
}
