package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/leofalp/fissio/core/client"
	"github.com/leofalp/fissio/internal/utils"
	"github.com/leofalp/fissio/providers/ai"
)

// LogLevel controls how much detail the logging middleware emits.
type LogLevel int

const (
	// LogLevelMinimal logs the model, duration and token counts.
	LogLevelMinimal LogLevel = iota

	// LogLevelStandard adds the message count, tool count and finish reason.
	LogLevelStandard

	// LogLevelVerbose adds the last message and the response text, truncated.
	// Prompts and replies may contain user data: keep it out of production.
	LogLevelVerbose
)

// ParseLogLevel maps "minimal", "standard" and "verbose" to a LogLevel.
// Anything else is LogLevelStandard.
func ParseLogLevel(s string) LogLevel {
	switch s {
	case "minimal":
		return LogLevelMinimal
	case "verbose":
		return LogLevelVerbose
	default:
		return LogLevelStandard
	}
}

const truncateLen = 500

// NewLoggingMiddleware logs every model call on logger. Streams log their
// completion when the iterator is done.
func NewLoggingMiddleware(logger *slog.Logger, level LogLevel) client.MiddlewareConfig {
	send := func(next client.SendFunc) client.SendFunc {
		return func(ctx context.Context, request ai.ChatRequest) (*ai.ChatResponse, error) {
			logger.InfoContext(ctx, "llm send", requestAttrs(request, level)...)

			start := time.Now()
			response, err := next(ctx, request)
			if err != nil {
				logFailure(ctx, logger, "llm send failed", request.Model, time.Since(start), err)
				return nil, err
			}

			logger.InfoContext(ctx, "llm send completed", responseAttrs(response, time.Since(start), level)...)
			return response, nil
		}
	}

	stream := func(next client.StreamFunc) client.StreamFunc {
		return func(ctx context.Context, request ai.ChatRequest) (*ai.ChatStream, error) {
			logger.InfoContext(ctx, "llm stream", requestAttrs(request, level)...)

			start := time.Now()
			opened, err := next(ctx, request)
			if err != nil {
				logFailure(ctx, logger, "llm stream failed", request.Model, time.Since(start), err)
				return nil, err
			}
			return logStream(ctx, opened, logger, request.Model, level, start), nil
		}
	}

	return client.MiddlewareConfig{Send: send, Stream: stream}
}

func logFailure(ctx context.Context, logger *slog.Logger, msg, model string, elapsed time.Duration, err error) {
	logger.ErrorContext(ctx, msg,
		slog.String("model", model),
		slog.Duration("duration", elapsed),
		slog.String("error", err.Error()),
	)
}

func logStream(ctx context.Context, stream *ai.ChatStream, logger *slog.Logger, model string, level LogLevel, start time.Time) *ai.ChatStream {
	return ai.NewChatStream(func(yield func(ai.StreamEvent, error) bool) {
		summary := &ai.ChatResponse{Model: model}
		var content []byte

		for event, err := range stream.Iter() {
			if err != nil {
				logFailure(ctx, logger, "llm stream failed", model, time.Since(start), err)
				yield(event, err)
				return
			}

			switch event.Type {
			case ai.StreamEventContent:
				if level >= LogLevelVerbose && len(content) < truncateLen {
					content = append(content, event.Content...)
				}
			case ai.StreamEventUsage:
				summary.Usage = event.Usage
			case ai.StreamEventDone:
				summary.FinishReason = event.FinishReason
			}

			if !yield(event, nil) {
				logger.InfoContext(ctx, "llm stream abandoned",
					slog.String("model", model),
					slog.Duration("duration", time.Since(start)),
				)
				return
			}
		}

		summary.Content = string(content)
		logger.InfoContext(ctx, "llm stream completed", responseAttrs(summary, time.Since(start), level)...)
	})
}

func requestAttrs(request ai.ChatRequest, level LogLevel) []any {
	attrs := []any{slog.String("model", request.Model)}

	if level >= LogLevelStandard {
		attrs = append(attrs,
			slog.Int("message_count", len(request.Messages)),
			slog.Int("tool_count", len(request.Tools)),
		)
	}

	if level >= LogLevelVerbose && len(request.Messages) > 0 {
		last := request.Messages[len(request.Messages)-1]
		attrs = append(attrs,
			slog.String("last_message_role", string(last.Role)),
			slog.String("last_message_content", utils.TruncateString(last.Content, truncateLen)),
		)
	}

	return attrs
}

func responseAttrs(response *ai.ChatResponse, elapsed time.Duration, level LogLevel) []any {
	attrs := []any{
		slog.String("model", response.Model),
		slog.Duration("duration", elapsed),
	}

	if response.Usage != nil {
		attrs = append(attrs,
			slog.Int("prompt_tokens", response.Usage.PromptTokens),
			slog.Int("completion_tokens", response.Usage.CompletionTokens),
			slog.Int("total_tokens", response.Usage.TotalTokens),
		)
	}

	if level >= LogLevelStandard {
		if response.FinishReason != "" {
			attrs = append(attrs, slog.String("finish_reason", response.FinishReason))
		}
		if len(response.ToolCalls) > 0 {
			attrs = append(attrs, slog.Int("tool_calls", len(response.ToolCalls)))
		}
	}

	if level >= LogLevelVerbose && response.Content != "" {
		attrs = append(attrs, slog.String("response_content", utils.TruncateString(response.Content, truncateLen)))
	}

	return attrs
}
