package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closeTracker struct {
	io.Reader
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func collectSSE(t *testing.T, ctx context.Context, input string) ([]SSEEvent, *closeTracker, error) {
	t.Helper()
	body := &closeTracker{Reader: strings.NewReader(input)}
	var (
		events []SSEEvent
		last   error
	)
	for event, err := range ReadSSE(ctx, body) {
		if err != nil {
			last = err
			break
		}
		events = append(events, event)
	}
	return events, body, last
}

func TestReadSSE(t *testing.T) {
	tests := map[string]struct {
		input string
		want  []SSEEvent
	}{
		"single event": {
			input: "data: {\"a\":1}\n\n",
			want:  []SSEEvent{{Data: `{"a":1}`}},
		},
		"named events": {
			input: "event: message_start\ndata: one\n\nevent: message_stop\ndata: two\n\n",
			want:  []SSEEvent{{Event: "message_start", Data: "one"}, {Event: "message_stop", Data: "two"}},
		},
		"multi-line data": {
			input: "data: first\ndata: second\n\n",
			want:  []SSEEvent{{Data: "first\nsecond"}},
		},
		"comments and unknown fields": {
			input: ": keep-alive\nid: 7\nretry: 100\ndata: x\n\n",
			want:  []SSEEvent{{Data: "x"}},
		},
		"done sentinel ends the stream": {
			input: "data: a\n\ndata: [DONE]\n\ndata: b\n\n",
			want:  []SSEEvent{{Data: "a"}},
		},
		"crlf line endings": {
			input: "event: e\r\ndata: x\r\n\r\n",
			want:  []SSEEvent{{Event: "e", Data: "x"}},
		},
		"no space after colon": {
			input: "data:x\n\n",
			want:  []SSEEvent{{Data: "x"}},
		},
		"trailing event without blank line": {
			input: "data: a\n\ndata: b",
			want:  []SSEEvent{{Data: "a"}, {Data: "b"}},
		},
		"blank lines and events without data": {
			input: "\n\n\nevent: ping\n\ndata: a\n\n",
			want:  []SSEEvent{{Data: "a"}},
		},
		"empty": {
			input: "",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			events, body, err := collectSSE(t, context.Background(), tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, events)
			assert.True(t, body.closed)
		})
	}
}

func TestReadSSE_StopClosesBody(t *testing.T) {
	body := &closeTracker{Reader: strings.NewReader("data: a\n\ndata: b\n\n")}
	for range ReadSSE(context.Background(), body) {
		break
	}
	assert.True(t, body.closed)
}

func TestReadSSE_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	events, _, err := collectSSE(t, ctx, "data: a\n\n")
	assert.Empty(t, events)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadSSE_LineTooLong(t *testing.T) {
	_, _, err := collectSSE(t, context.Background(), "data: "+strings.Repeat("x", maxSSELineSize+1)+"\n\n")
	assert.ErrorContains(t, err, "reading event stream")
}

func TestDoPostStream(t *testing.T) {
	var gotAuth, gotAccept, gotCustom string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotCustom = r.Header.Get("x-api-key")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: chunk1\n\ndata: [DONE]\n\n")
	}))
	defer server.Close()

	body, err := DoPostStream(context.Background(), server.Client(), server.URL, "secret",
		map[string]string{"q": "test"}, HeaderOption{Key: "x-api-key", Value: "anthropic-key"})
	require.NoError(t, err)

	var data []string
	for event, err := range ReadSSE(context.Background(), body) {
		require.NoError(t, err)
		data = append(data, event.Data)
	}
	assert.Equal(t, []string{"chunk1"}, data)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "text/event-stream", gotAccept)
	assert.Equal(t, "anthropic-key", gotCustom)
}

func TestDoPostStream_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := DoPostStream(context.Background(), server.Client(), server.URL, "", map[string]string{})
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusTooManyRequests, httpErr.StatusCode)
	assert.Contains(t, httpErr.Body, "rate limit")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = DoPostStream(ctx, server.Client(), server.URL, "", map[string]string{})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = DoPostStream(context.Background(), nil, "http://127.0.0.1:1", "", map[string]string{})
	assert.ErrorContains(t, err, "error sending request")

	_, err = DoPostStream(context.Background(), nil, server.URL, "", func() {})
	assert.ErrorContains(t, err, "error marshaling body")
}
