package slogobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leofalp/fissio/providers/observability"
)

func newBufferedObserver(level slog.Level, format Format) (*Observer, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(WithOutput(&buf), WithLevel(level), WithFormat(format)), &buf
}

func jsonRecords(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var record map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &record), line)
		records = append(records, record)
	}
	return records
}

func TestObserver_LogLevels(t *testing.T) {
	observer, buf := newBufferedObserver(slog.LevelInfo, FormatText)
	ctx := context.Background()

	observer.Trace(ctx, "hidden trace")
	observer.Debug(ctx, "hidden debug")
	observer.Info(ctx, "visible info", observability.String(observability.AttrNodeID, "a"))
	observer.Warn(ctx, "visible warn")
	observer.Error(ctx, "visible error")

	output := buf.String()
	assert.NotContains(t, output, "hidden")
	assert.Contains(t, output, `msg="visible info" pipeline.node.id=a`)
	assert.Contains(t, output, "visible warn")
	assert.Contains(t, output, "visible error")
}

func TestObserver_TraceLevel(t *testing.T) {
	observer, buf := newBufferedObserver(LevelTrace, FormatText)
	observer.Trace(context.Background(), "tool payload")
	assert.Contains(t, buf.String(), "tool payload")
}

func TestObserver_SpanLifecycle(t *testing.T) {
	observer, buf := newBufferedObserver(slog.LevelDebug, FormatJSON)

	ctx, run := observer.StartSpan(context.Background(), observability.SpanPipelineRun,
		observability.String(observability.AttrPipelineID, "p1"))
	require.Same(t, run, observability.SpanFromContext(ctx))

	_, node := observer.StartSpan(ctx, observability.SpanNodeExecute, observability.String(observability.AttrNodeID, "a"))
	node.AddEvent(observability.EventFeedbackRevision)
	node.RecordError(errors.New("boom"))
	node.SetStatus(observability.StatusError, "failed")
	node.End()
	node.End()
	run.SetStatus(observability.StatusOK, "")
	run.End()

	records := jsonRecords(t, buf)
	require.Len(t, records, 6)

	assert.Equal(t, "span started", records[0]["msg"])
	assert.Equal(t, "p1", records[0][observability.AttrPipelineID])
	runID := records[0]["span_id"]

	assert.Equal(t, runID, records[1]["parent_id"], "node span is a child of the run")
	assert.Equal(t, observability.EventFeedbackRevision, records[2]["msg"])
	assert.Equal(t, "span error", records[3]["msg"])

	assert.Equal(t, "span ended", records[4]["msg"])
	assert.Equal(t, "WARN", records[4]["level"])
	assert.Equal(t, "error", records[4][observability.AttrStatus])
	assert.Equal(t, "failed", records[4][observability.AttrStatusDescription])
	assert.Equal(t, "boom", records[4][observability.AttrError])

	assert.Equal(t, "span ended", records[5]["msg"])
	assert.Equal(t, "DEBUG", records[5]["level"])
	assert.Equal(t, "ok", records[5][observability.AttrStatus])
	assert.NotContains(t, records[5], "parent_id")
}

func TestObserver_Metrics(t *testing.T) {
	observer, _ := newBufferedObserver(slog.LevelError, FormatText)
	ctx := context.Background()

	observer.Counter("calls").Add(ctx, 2)
	observer.Counter("calls").Add(ctx, 3)
	observer.Histogram("latency").Record(ctx, 1.5)
	observer.Histogram("latency").Record(ctx, 0.5)

	assert.Equal(t, int64(5), observer.CounterValue("calls"))
	assert.Zero(t, observer.CounterValue("missing"))

	count, sum := observer.HistogramStats("latency")
	assert.Equal(t, int64(2), count)
	assert.InDelta(t, 2.0, sum, 1e-9)

	count, _ = observer.HistogramStats("missing")
	assert.Zero(t, count)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"trace":   LevelTrace,
		"DEBUG":   slog.LevelDebug,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for input, want := range tests {
		assert.Equal(t, want, ParseLevel(input), input)
	}
	assert.Equal(t, FormatJSON, ParseFormat(" JSON "))
	assert.Equal(t, FormatText, ParseFormat("logfmt"))
}

func TestWithLogger_TakesPrecedence(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	observer := New(WithLogger(logger), WithFormat(FormatText))
	assert.Same(t, logger, observer.Logger())
}
