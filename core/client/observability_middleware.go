package client

import (
	"context"
	"time"

	"github.com/leofalp/fissio/internal/utils"
	"github.com/leofalp/fissio/providers/ai"
	"github.com/leofalp/fissio/providers/observability"
)

// NewObservabilityMiddleware records a span, request/token metrics and log
// lines for every model call. Both the span and the observer are put in the
// context so that provider adapters can annotate the span.
//
// For streams the completion metrics are recorded when the iterator finishes,
// fails, or is abandoned by the caller.
func NewObservabilityMiddleware(observer observability.Provider) MiddlewareConfig {
	return MiddlewareConfig{
		Send:   observedSend(observer),
		Stream: observedStream(observer),
	}
}

func observedSend(observer observability.Provider) Middleware {
	return func(next SendFunc) SendFunc {
		return func(ctx context.Context, request ai.ChatRequest) (*ai.ChatResponse, error) {
			ctx, span := startCallSpan(ctx, observer, request, false)
			start := time.Now()

			response, err := next(ctx, request)
			if err != nil {
				recordCallFailure(ctx, span, observer, request.Model, time.Since(start), err)
				return nil, err
			}

			recordCallSuccess(ctx, span, observer, response, request.Model, time.Since(start))
			return response, nil
		}
	}
}

func observedStream(observer observability.Provider) StreamMiddleware {
	return func(next StreamFunc) StreamFunc {
		return func(ctx context.Context, request ai.ChatRequest) (*ai.ChatStream, error) {
			ctx, span := startCallSpan(ctx, observer, request, true)
			start := time.Now()

			stream, err := next(ctx, request)
			if err != nil {
				recordCallFailure(ctx, span, observer, request.Model, time.Since(start), err)
				return nil, err
			}

			return observeStream(ctx, stream, span, observer, request.Model, start), nil
		}
	}
}

func startCallSpan(ctx context.Context, observer observability.Provider, request ai.ChatRequest, streaming bool) (context.Context, observability.Span) {
	ctx, span := observer.StartSpan(ctx, observability.SpanClientComplete,
		observability.String(observability.AttrLLMModel, request.Model),
		observability.Bool(observability.AttrLLMStreaming, streaming),
		observability.Int(observability.AttrRequestToolsCount, len(request.Tools)),
	)
	ctx = observability.ContextWithSpan(ctx, span)
	ctx = observability.ContextWithObserver(ctx, observer)

	observer.Debug(ctx, "llm call",
		observability.String(observability.AttrLLMModel, request.Model),
		observability.Int(observability.AttrRequestMessagesCount, len(request.Messages)),
		observability.Bool(observability.AttrLLMStreaming, streaming),
	)
	return ctx, span
}

// observeStream passes events through unchanged and records the outcome once
// the stream is over.
func observeStream(
	ctx context.Context,
	stream *ai.ChatStream,
	span observability.Span,
	observer observability.Provider,
	model string,
	start time.Time,
) *ai.ChatStream {
	return ai.NewChatStream(func(yield func(ai.StreamEvent, error) bool) {
		summary := &ai.ChatResponse{Model: model}

		for event, err := range stream.Iter() {
			if err != nil {
				recordCallFailure(ctx, span, observer, model, time.Since(start), err)
				yield(event, err)
				return
			}

			switch event.Type {
			case ai.StreamEventUsage:
				summary.Usage = event.Usage
			case ai.StreamEventDone:
				summary.FinishReason = event.FinishReason
			case ai.StreamEventToolCall:
				if event.ToolCall != nil && event.ToolCall.Name != "" {
					summary.ToolCalls = append(summary.ToolCalls, ai.ToolCall{Function: ai.ToolCallFunction{Name: event.ToolCall.Name}})
				}
			}

			if !yield(event, nil) {
				span.SetStatus(observability.StatusOK, "abandoned")
				span.End()
				observer.Info(ctx, "llm stream abandoned",
					observability.String(observability.AttrLLMModel, model),
					observability.Duration(observability.AttrDuration, time.Since(start)),
				)
				return
			}
		}

		recordCallSuccess(ctx, span, observer, summary, model, time.Since(start))
	})
}

func recordCallFailure(ctx context.Context, span observability.Span, observer observability.Provider, model string, elapsed time.Duration, err error) {
	span.RecordError(err)
	span.SetStatus(observability.StatusError, "llm call failed")
	span.End()

	observer.Error(ctx, "llm call failed",
		observability.Error(err),
		observability.String(observability.AttrLLMModel, model),
		observability.Duration(observability.AttrDuration, elapsed),
	)
	observer.Counter(observability.MetricClientRequestCount).Add(ctx, 1,
		observability.String(observability.AttrStatus, "error"),
		observability.String(observability.AttrLLMModel, model),
	)
}

func recordCallSuccess(ctx context.Context, span observability.Span, observer observability.Provider, response *ai.ChatResponse, model string, elapsed time.Duration) {
	observer.Histogram(observability.MetricClientRequestDuration).Record(ctx, elapsed.Seconds(),
		observability.String(observability.AttrLLMModel, model),
	)
	observer.Counter(observability.MetricClientRequestCount).Add(ctx, 1,
		observability.String(observability.AttrStatus, "success"),
		observability.String(observability.AttrLLMModel, model),
	)

	logAttrs := []observability.Attribute{
		observability.String(observability.AttrLLMModel, model),
		observability.String(observability.AttrLLMFinishReason, response.FinishReason),
		observability.Duration(observability.AttrDuration, elapsed),
		observability.Int(observability.AttrLLMToolCalls, len(response.ToolCalls)),
	}

	if usage := response.Usage; usage != nil {
		observer.Counter(observability.MetricClientTokensPrompt).Add(ctx, int64(usage.PromptTokens),
			observability.String(observability.AttrLLMModel, model),
		)
		observer.Counter(observability.MetricClientTokensCompletion).Add(ctx, int64(usage.CompletionTokens),
			observability.String(observability.AttrLLMModel, model),
		)
		tokenAttrs := []observability.Attribute{
			observability.Int(observability.AttrLLMTokensPrompt, usage.PromptTokens),
			observability.Int(observability.AttrLLMTokensCompletion, usage.CompletionTokens),
			observability.Int(observability.AttrLLMTokensTotal, usage.TotalTokens),
		}
		span.SetAttributes(tokenAttrs...)
		logAttrs = append(logAttrs, tokenAttrs...)
	}

	if len(response.ToolCalls) > 0 {
		names := make([]string, len(response.ToolCalls))
		for i, call := range response.ToolCalls {
			names[i] = call.Function.Name
		}
		logAttrs = append(logAttrs, observability.StringSlice("tool_names", names))
	}

	if response.Content != "" {
		logAttrs = append(logAttrs, observability.String("response", utils.TruncateString(response.Content, 100)))
	}

	observer.Info(ctx, "llm call completed", logAttrs...)

	span.SetStatus(observability.StatusOK, "")
	span.End()
}
