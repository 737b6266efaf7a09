package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"github.com/leofalp/fissio/core/client"
	"github.com/leofalp/fissio/internal/utils"
	"github.com/leofalp/fissio/providers/ai"
)

// NoRetries as RetryConfig.MaxRetries makes a single attempt.
const NoRetries = -1

// RetryConfig tunes the retry middleware. Zero fields take the defaults noted
// on each field.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first one. Default: 3.
	// Use NoRetries to disable retrying.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// InitialBackoff is the wait before the first retry. Default: 1s.
	InitialBackoff time.Duration `json:"initial_backoff" yaml:"initial_backoff"`

	// MaxBackoff caps the computed wait. Default: 30s.
	MaxBackoff time.Duration `json:"max_backoff" yaml:"max_backoff"`

	// BackoffFactor is the exponential growth per attempt. Default: 2.
	BackoffFactor float64 `json:"backoff_factor" yaml:"backoff_factor"`

	// JitterFraction adds up to JitterFraction*backoff of random noise. Default: 0.1.
	JitterFraction float64 `json:"jitter_fraction" yaml:"jitter_fraction"`

	// RetryableFunc decides whether an error is transient. Default: IsRetryable.
	RetryableFunc func(error) bool `json:"-" yaml:"-"`
}

// retryableStatus lists the HTTP statuses worth another attempt. 529 is the
// Anthropic "overloaded" status.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
	529:                            true,
}

// IsRetryable reports whether err is a transient provider failure: a
// retryable HTTP status or a network error. Context cancellation is never
// retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var httpErr *utils.HTTPError
	if errors.As(err, &httpErr) {
		return retryableStatus[httpErr.StatusCode]
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func applyRetryDefaults(config *RetryConfig) {
	switch {
	case config.MaxRetries == 0:
		config.MaxRetries = 3
	case config.MaxRetries < 0:
		config.MaxRetries = 0
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = time.Second
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.BackoffFactor == 0 {
		config.BackoffFactor = 2.0
	}
	if config.JitterFraction == 0 {
		config.JitterFraction = 0.1
	}
	if config.RetryableFunc == nil {
		config.RetryableFunc = IsRetryable
	}
}

// computeBackoff returns min(InitialBackoff*BackoffFactor^attempt, MaxBackoff)
// plus jitter, for a 0-indexed attempt.
func computeBackoff(config RetryConfig, attempt int) time.Duration {
	base := float64(config.InitialBackoff) * math.Pow(config.BackoffFactor, float64(attempt))
	if base > float64(config.MaxBackoff) {
		base = float64(config.MaxBackoff)
	}

	jitter := base * config.JitterFraction * rand.Float64() //nolint:gosec // jitter does not need a CSPRNG
	return time.Duration(base + jitter)
}

// NewRetryMiddleware retries transient failures with exponential backoff and
// jitter. Streams are retried only while opening: once the first event has
// been produced a failure is final, because fragments may already have reached
// the caller.
//
// On exhaustion the error wraps both ErrRetryExhausted and the last provider
// error.
func NewRetryMiddleware(config RetryConfig) client.MiddlewareConfig {
	applyRetryDefaults(&config)

	send := func(next client.SendFunc) client.SendFunc {
		return func(ctx context.Context, request ai.ChatRequest) (*ai.ChatResponse, error) {
			return withRetries(ctx, config, func() (*ai.ChatResponse, error) {
				return next(ctx, request)
			})
		}
	}

	stream := func(next client.StreamFunc) client.StreamFunc {
		return func(ctx context.Context, request ai.ChatRequest) (*ai.ChatStream, error) {
			return withRetries(ctx, config, func() (*ai.ChatStream, error) {
				return next(ctx, request)
			})
		}
	}

	return client.MiddlewareConfig{Send: send, Stream: stream}
}

func withRetries[T any](ctx context.Context, config RetryConfig, call func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(computeBackoff(config, attempt-1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}

		result, err := call()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !config.RetryableFunc(err) {
			return zero, err
		}
	}

	return zero, fmt.Errorf("%w after %d retries: %w", ErrRetryExhausted, config.MaxRetries, lastErr)
}
