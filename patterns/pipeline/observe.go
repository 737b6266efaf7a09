package pipeline

import (
	"context"
	"time"

	"github.com/leofalp/fissio/internal/utils"
	"github.com/leofalp/fissio/providers/ai"
	"github.com/leofalp/fissio/providers/observability"
)

// runObserver holds the observability provider and the root span of one run.
// A nil provider disables everything at no cost.
type runObserver struct {
	provider observability.Provider
	rootSpan observability.Span
}

func (o *runObserver) runStart(ctx context.Context, r *run) context.Context {
	if o.provider == nil {
		return ctx
	}

	g := r.plan.graph
	attrs := []observability.Attribute{
		observability.String(observability.AttrPipelineID, g.ID),
		observability.String(observability.AttrPipelineRunID, r.id),
		observability.Int(observability.AttrPipelineNodeCount, len(g.Nodes)),
		observability.Int(observability.AttrPipelineEdgeCount, len(g.Edges)),
		observability.Bool(observability.AttrPipelineStreaming, r.streaming),
	}
	ctx, o.rootSpan = o.provider.StartSpan(ctx, observability.SpanPipelineRun, attrs...)
	ctx = observability.ContextWithSpan(ctx, o.rootSpan)
	ctx = observability.ContextWithObserver(ctx, o.provider)

	o.provider.Info(ctx, "pipeline run started", attrs...)
	return ctx
}

func (o *runObserver) runEnd(ctx context.Context, r *run, err error) {
	if o.provider == nil {
		return
	}

	duration := r.trace.End.Sub(r.trace.Start)
	status := "completed"
	switch {
	case err != nil && classify(err) == KindCancelled:
		status = "cancelled"
	case err != nil:
		status = "failed"
	case r.trace.CapExceeded:
		status = "cap_exceeded"
	}

	attrs := []observability.Attribute{
		observability.String(observability.AttrPipelineID, r.plan.graph.ID),
		observability.String(observability.AttrStatus, status),
	}
	o.provider.Counter(observability.MetricPipelineRunCount).Add(ctx, 1, attrs...)
	o.provider.Histogram(observability.MetricPipelineRunDuration).Record(ctx, duration.Seconds(), attrs...)

	logAttrs := append(attrs,
		observability.String(observability.AttrPipelineRunID, r.id),
		observability.Duration(observability.AttrDuration, duration),
		observability.Int("pipeline.spans", len(r.trace.Spans())),
	)
	if err != nil {
		o.provider.Error(ctx, "pipeline run failed", append(logAttrs, observability.Error(err))...)
	} else {
		o.provider.Info(ctx, "pipeline run completed", logAttrs...)
	}

	if o.rootSpan != nil {
		if err != nil {
			o.rootSpan.RecordError(err)
			o.rootSpan.SetStatus(observability.StatusError, err.Error())
		} else {
			o.rootSpan.SetStatus(observability.StatusOK, "pipeline run "+status)
		}
		o.rootSpan.End()
	}
}

// visitStart opens the span of one node visit.
func (o *runObserver) visitStart(ctx context.Context, n *Node, visit int) (context.Context, observability.Span) {
	if o.provider == nil {
		return ctx, nil
	}
	ctx, span := o.provider.StartSpan(ctx, observability.SpanNodeExecute,
		observability.String(observability.AttrNodeID, n.ID),
		observability.String(observability.AttrNodeKind, n.Kind.String()),
		observability.Int(observability.AttrNodeVisit, visit),
	)
	ctx = observability.ContextWithSpan(ctx, span)
	o.provider.Debug(ctx, "node visit started",
		observability.String(observability.AttrNodeID, n.ID),
		observability.Int(observability.AttrNodeVisit, visit),
	)
	return ctx, span
}

func (o *runObserver) visitEnd(ctx context.Context, span observability.Span, record *Span, err error) {
	if o.provider == nil {
		return
	}

	attrs := []observability.Attribute{
		observability.String(observability.AttrNodeID, record.NodeID),
		observability.String(observability.AttrNodeKind, record.Kind.String()),
		observability.String(observability.AttrStatus, string(record.Status)),
	}
	o.provider.Counter(observability.MetricNodeCount).Add(ctx, 1, attrs...)
	o.provider.Histogram(observability.MetricNodeDuration).Record(ctx, record.Duration().Seconds(), attrs...)

	details := append(attrs,
		observability.Int(observability.AttrNodeVisit, record.Visit),
		observability.Int(observability.AttrNodeIterations, record.Iterations),
		observability.Int(observability.AttrNodeToolCalls, len(record.ToolCalls)),
		observability.Int(observability.AttrLLMTokensPrompt, record.InputTokens),
		observability.Int(observability.AttrLLMTokensCompletion, record.OutputTokens),
		observability.Duration(observability.AttrDuration, record.Duration()),
	)
	if record.Decision != "" {
		details = append(details, observability.String(observability.AttrNodeDecision, record.Decision))
	}
	if record.CapExceeded {
		details = append(details, observability.Bool(observability.AttrNodeCapExceeded, true))
	}

	switch record.Status {
	case StatusFailed:
		o.provider.Error(ctx, "node visit failed", append(details, observability.Error(err))...)
	case StatusPartial:
		o.provider.Warn(ctx, "node visit ended with partial output", append(details, observability.Error(err))...)
	default:
		o.provider.Debug(ctx, "node visit completed", details...)
	}

	if span == nil {
		return
	}
	span.SetAttributes(details...)
	if err != nil {
		span.RecordError(err)
	}
	if record.Status == StatusFailed || record.Status == StatusCancelled {
		span.SetStatus(observability.StatusError, record.Error)
	} else {
		span.SetStatus(observability.StatusOK, string(record.Status))
	}
	span.End()
}

// nodeSkipped logs a node that will not run in this generation.
func (o *runObserver) nodeSkipped(ctx context.Context, id string, reason string) {
	if o.provider == nil {
		return
	}
	o.provider.Debug(ctx, "node skipped",
		observability.String(observability.AttrNodeID, id),
		observability.String("pipeline.node.skip_reason", reason),
	)
}

func (o *runObserver) shortCircuit(ctx context.Context, gate, reason string) {
	if o.provider == nil {
		return
	}
	attrs := []observability.Attribute{
		observability.String(observability.AttrNodeID, gate),
		observability.String("pipeline.gate.reason", utils.TruncateString(reason, 0)),
	}
	if o.rootSpan != nil {
		o.rootSpan.AddEvent(observability.EventBranchShortCircuit, attrs...)
	}
	o.provider.Info(ctx, "gate rejected input", attrs...)
}

func (o *runObserver) revision(ctx context.Context, l *loop, iteration, limit int) {
	if o.provider == nil {
		return
	}
	attrs := []observability.Attribute{
		observability.String(observability.AttrNodeID, l.evaluator),
		observability.String("pipeline.feedback.target", l.target),
		observability.Int("pipeline.feedback.iteration", iteration),
		observability.Int("pipeline.feedback.limit", limit),
	}
	if o.rootSpan != nil {
		o.rootSpan.AddEvent(observability.EventFeedbackRevision, attrs...)
	}
	o.provider.Info(ctx, "feedback revision requested", attrs...)
}

func (o *runObserver) capExceeded(ctx context.Context, l *loop, limit int) {
	if o.provider == nil {
		return
	}
	o.provider.Warn(ctx, "feedback loop reached its iteration cap",
		observability.String(observability.AttrNodeID, l.evaluator),
		observability.String("pipeline.feedback.target", l.target),
		observability.Int("pipeline.feedback.limit", limit),
	)
	if o.rootSpan != nil {
		o.rootSpan.SetAttributes(observability.Bool(observability.AttrNodeCapExceeded, true))
	}
}

// observeToolCall opens a tool span under the node span found in ctx and
// returns the function that closes it.
func observeToolCall(ctx context.Context, call ai.ToolCall) (context.Context, func(error)) {
	provider := observability.ObserverFromContext(ctx)
	if provider == nil {
		return ctx, func(error) {}
	}

	start := time.Now()
	ctx, span := provider.StartSpan(ctx, observability.SpanToolExecution,
		observability.String(observability.AttrToolName, call.Function.Name),
	)
	ctx = observability.ContextWithSpan(ctx, span)

	return ctx, func(err error) {
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(observability.StatusError, err.Error())
		} else {
			span.SetStatus(observability.StatusOK, "")
		}
		span.End()
		provider.Counter(observability.MetricToolCalls).Add(ctx, 1,
			observability.String(observability.AttrToolName, call.Function.Name),
			observability.String(observability.AttrStatus, status),
		)
		provider.Debug(ctx, "tool call finished",
			observability.String(observability.AttrToolName, call.Function.Name),
			observability.Duration(observability.AttrToolDuration, time.Since(start)),
			observability.String(observability.AttrStatus, status),
		)
	}
}
