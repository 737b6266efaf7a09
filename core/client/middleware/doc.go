// Package middleware provides the built-in middlewares for the model client.
// Each constructor returns a [client.MiddlewareConfig] for
// [client.WithMiddleware]:
//
//   - [NewRetryMiddleware] retries transient HTTP 429/5xx/529 and network
//     failures with exponential backoff and jitter.
//   - [NewTimeoutMiddleware] puts a deadline on each call.
//   - [NewLoggingMiddleware] logs every call on a *slog.Logger.
//
// The first middleware passed is the outermost one:
//
//	c, err := client.New(
//	    client.WithModels(models...),
//	    client.WithMiddleware(
//	        middleware.NewTimeoutMiddleware(2*time.Minute),
//	        middleware.NewRetryMiddleware(middleware.RetryConfig{}),
//	        middleware.NewLoggingMiddleware(slog.Default(), middleware.LogLevelStandard),
//	    ),
//	)
//
// Here a request passes Timeout, then Retry, then Logging before reaching the
// provider, so every retry attempt is logged and all attempts share one deadline.
package middleware
