package utils

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"

	"github.com/leofalp/fissio/providers/observability"
)

const (
	// maxSSELineSize bounds a single event line. Tool call arguments and long
	// completions exceed the 64 KiB bufio default.
	maxSSELineSize = 1 << 20

	// maxResponseBodySize bounds buffered response bodies.
	maxResponseBodySize int64 = 10 << 20

	// sseDone ends OpenAI-compatible streams.
	sseDone = "[DONE]"
)

// SSEEvent is one server-sent event. Data joins multi-line data fields with
// newlines.
type SSEEvent struct {
	Event string
	Data  string
}

// DoPostStream POSTs body as JSON and returns the open event stream of a 2xx
// response; the caller closes it, usually through ReadSSE. Other statuses are
// drained and returned as *HTTPError.
func DoPostStream(ctx context.Context, client *http.Client, url string, apiKey string, body any, headers ...HeaderOption) (io.ReadCloser, error) {
	req, size, err := newJSONPost(ctx, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	res, elapsed, err := send(ctx, client, req, apiKey, size, headers)
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer CloseWithLog(res.Body)
		errorBody, _ := io.ReadAll(io.LimitReader(res.Body, maxResponseBodySize))
		return nil, &HTTPError{StatusCode: res.StatusCode, Body: string(errorBody)}
	}

	if span := observability.SpanFromContext(ctx); span != nil {
		span.AddEvent("http.stream.started",
			observability.Int(observability.AttrHTTPStatusCode, res.StatusCode),
			observability.Duration("http.request.duration", elapsed),
		)
	}
	return res.Body, nil
}

// ReadSSE yields the events read from body and closes it when iteration
// stops. The sequence ends at EOF or at the [DONE] sentinel; comments, id and
// retry fields are skipped. A cancelled ctx ends it with ctx.Err().
func ReadSSE(ctx context.Context, body io.ReadCloser) iter.Seq2[SSEEvent, error] {
	return func(yield func(SSEEvent, error) bool) {
		defer CloseWithLog(body)

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineSize)

		var (
			event SSEEvent
			data  []string
		)
		flush := func() bool {
			if len(data) == 0 {
				event = SSEEvent{}
				return true
			}
			event.Data = strings.Join(data, "\n")
			ok := yield(event, nil)
			event, data = SSEEvent{}, data[:0]
			return ok
		}

		for scanner.Scan() {
			if err := ctx.Err(); err != nil {
				yield(SSEEvent{}, err)
				return
			}
			line := strings.TrimSuffix(scanner.Text(), "\r")
			name, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")

			switch {
			case line == "":
				if !flush() {
					return
				}
			case name == "":
			case name == "event":
				event.Event = value
			case name == "data":
				if strings.TrimSpace(value) == sseDone {
					return
				}
				data = append(data, value)
			}
		}
		if err := scanner.Err(); err != nil {
			yield(SSEEvent{}, fmt.Errorf("reading event stream: %w", err))
			return
		}
		flush()
	}
}
