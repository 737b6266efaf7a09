package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/leofalp/fissio/providers/observability"
)

// HeaderOption is an extra request header applied after the defaults.
type HeaderOption struct {
	Key   string
	Value string
}

// HTTPError is returned for non-2xx responses. Callers classify it with
// errors.As, e.g. to decide whether a request is worth retrying.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("non-2xx status %d: %s", e.StatusCode, TruncateString(e.Body, 1000))
}

// CloseWithLog closes c and logs a failure instead of returning it.
func CloseWithLog(c io.Closer) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		slog.Warn("failed to close resource", "error", err.Error())
	}
}

// DoPostSync performs a synchronous HTTP POST with a JSON body and decodes
// the JSON response into OutputStruct.
//
// Non-2xx responses yield an *HTTPError. Context errors surface unwrapped
// from the transport so that errors.Is(err, context.Canceled) holds.
func DoPostSync[OutputStruct any](ctx context.Context, client *http.Client, url string, apiKey string, body any, headers ...HeaderOption) (*http.Response, *OutputStruct, error) {
	req, size, err := newJSONPost(ctx, url, body)
	if err != nil {
		return nil, nil, err
	}
	return doJSON[OutputStruct](ctx, client, req, apiKey, size, headers)
}

// DoGetSync performs a synchronous HTTP GET and decodes the JSON response.
func DoGetSync[OutputStruct any](ctx context.Context, client *http.Client, url string, apiKey string, headers ...HeaderOption) (*http.Response, *OutputStruct, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating request: %w", err)
	}
	return doJSON[OutputStruct](ctx, client, req, apiKey, 0, headers)
}

func newJSONPost(ctx context.Context, url string, body any) (*http.Request, int, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("error marshaling body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, 0, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, len(jsonBody), nil
}

// send applies auth and extra headers, records the exchange on the span in
// ctx and performs req.
func send(ctx context.Context, client *http.Client, req *http.Request, apiKey string, bodySize int, headers []HeaderOption) (*http.Response, time.Duration, error) {
	span := observability.SpanFromContext(ctx)
	if client == nil {
		client = http.DefaultClient
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	// Extra headers may replace Authorization, e.g. Anthropic's x-api-key.
	for _, header := range headers {
		req.Header.Set(header.Key, header.Value)
	}

	if span != nil {
		span.AddEvent("http.request.prepared",
			observability.String(observability.AttrHTTPMethod, req.Method),
			observability.String(observability.AttrHTTPURL, req.URL.String()),
			observability.Int(observability.AttrHTTPRequestBodySize, bodySize),
		)
	}

	start := time.Now()
	res, err := client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		if span != nil {
			span.AddEvent("http.request.error",
				observability.Error(err),
				observability.Duration("http.request.duration", elapsed),
			)
		}
		if ctx.Err() != nil {
			return nil, elapsed, ctx.Err()
		}
		return nil, elapsed, fmt.Errorf("error sending request: %w", err)
	}
	return res, elapsed, nil
}

func doJSON[OutputStruct any](ctx context.Context, client *http.Client, req *http.Request, apiKey string, bodySize int, headers []HeaderOption) (*http.Response, *OutputStruct, error) {
	req.Header.Set("Accept", "application/json")
	res, elapsed, err := send(ctx, client, req, apiKey, bodySize, headers)
	if err != nil {
		return nil, nil, err
	}
	defer CloseWithLog(res.Body)

	respBody, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBodySize))
	if err != nil {
		return res, nil, fmt.Errorf("error reading response body: %w", err)
	}

	if span := observability.SpanFromContext(ctx); span != nil {
		span.AddEvent("http.response.received",
			observability.Int(observability.AttrHTTPStatusCode, res.StatusCode),
			observability.Int(observability.AttrHTTPResponseBodySize, len(respBody)),
			observability.Duration("http.request.duration", elapsed),
		)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return res, nil, &HTTPError{StatusCode: res.StatusCode, Body: string(respBody)}
	}

	var out OutputStruct
	if len(bytes.TrimSpace(respBody)) == 0 {
		return res, &out, nil
	}
	if err = json.Unmarshal(respBody, &out); err != nil {
		return res, nil, fmt.Errorf("error unmarshaling response body (status %d): %w\nResponse preview: %s", res.StatusCode, err, TruncateString(string(respBody), 500))
	}
	return res, &out, nil
}
