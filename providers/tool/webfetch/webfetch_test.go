package webfetch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<!DOCTYPE html>
<html>
<head>
	<title> Release Notes </title>
	<meta property="og:description" content="og text">
	<meta name="Description" content="What changed in 2.0">
</head>
<body>
	<h1>Welcome</h1>
	<p>This is a <strong>test</strong> paragraph.</p>
</body>
</html>`

func TestFetch_HTML(t *testing.T) {
	var userAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	}))
	defer server.Close()

	out, err := New().Fetch(context.Background(), Input{URL: server.URL})
	require.NoError(t, err)

	assert.Equal(t, DefaultUserAgent, userAgent)
	assert.Equal(t, server.URL, out.URL)
	assert.Equal(t, "Release Notes", out.Title)
	assert.Equal(t, "What changed in 2.0", out.Description)
	assert.Contains(t, out.Content, "# Welcome")
	assert.Contains(t, out.Content, "**test**")
	assert.False(t, out.Truncated)
}

func TestFetch_PlainTextTruncated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(strings.Repeat("é", 20)))
	}))
	defer server.Close()

	out, err := New().Fetch(context.Background(), Input{URL: server.URL, MaxLength: 5})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", 5), out.Content)
	assert.True(t, out.Truncated)
	assert.Empty(t, out.Title)
}

func TestFetch_DefaultMaxLength(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", DefaultMaxLength+10)))
	}))
	defer server.Close()

	out, err := New().Fetch(context.Background(), Input{URL: server.URL})
	require.NoError(t, err)
	assert.Len(t, out.Content, DefaultMaxLength)
	assert.True(t, out.Truncated)
}

func TestFetch_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := New().Fetch(context.Background(), Input{URL: "  "})
	assert.ErrorContains(t, err, "url is required")

	_, err = New().Fetch(context.Background(), Input{URL: server.URL})
	assert.ErrorContains(t, err, "404")
}

func TestFetch_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	start := time.Now()
	_, err := New(WithTimeout(50*time.Millisecond)).Fetch(context.Background(), Input{URL: server.URL})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFetch_Redirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusFound)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("moved"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	out, err := New().Fetch(context.Background(), Input{URL: server.URL + "/old"})
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/new", out.URL)
	assert.Equal(t, "moved", out.Content)
}

func TestNewTool(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("hello"))
	}))
	defer server.Close()

	fetchTool := NewTool(WithUserAgent("test-agent"))
	info := fetchTool.ToolInfo()
	assert.Equal(t, Name, info.Name)
	assert.Equal(t, []string{"url"}, info.Parameters.Required)

	raw, err := fetchTool.Call(context.Background(), `{"url":"`+server.URL+`"}`)
	require.NoError(t, err)

	var out Output
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	assert.Equal(t, "hello", out.Content)
}
