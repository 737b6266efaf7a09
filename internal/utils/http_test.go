package utils

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

type valueResponse struct {
	Value int `json:"value"`
}

func TestDoPostSync_DecodesJSON(t *testing.T) {
	var gotAuth, gotCustom, gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCustom = r.Header.Get("X-Api-Version")
		gotContentType = r.Header.Get("Content-Type")
		fmt.Fprint(w, `{"value":42}`)
	}))
	defer server.Close()

	_, result, err := DoPostSync[valueResponse](context.Background(), server.Client(), server.URL, "key",
		map[string]string{"q": "x"}, HeaderOption{Key: "X-Api-Version", Value: "2023-06-01"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Value != 42 {
		t.Errorf("Value = %d, want 42", result.Value)
	}
	if gotAuth != "Bearer key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotCustom != "2023-06-01" {
		t.Errorf("custom header = %q", gotCustom)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
}

func TestDoPostSync_Non2xxReturnsHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "overloaded")
	}))
	defer server.Close()

	_, _, err := DoPostSync[valueResponse](context.Background(), nil, server.URL, "", nil)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *HTTPError, got %T: %v", err, err)
	}
	if httpErr.StatusCode != http.StatusServiceUnavailable || httpErr.Body != "overloaded" {
		t.Errorf("unexpected HTTPError: %+v", httpErr)
	}
}

func TestDoPostSync_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json")
	}))
	defer server.Close()

	_, _, err := DoPostSync[valueResponse](context.Background(), nil, server.URL, "", nil)
	if err == nil {
		t.Fatal("expected unmarshal error")
	}
}

func TestDoPostSync_CancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := DoPostSync[valueResponse](ctx, nil, server.URL, "", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDoGetSync(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		fmt.Fprint(w, `{"value":7}`)
	}))
	defer server.Close()

	_, result, err := DoGetSync[valueResponse](context.Background(), nil, server.URL, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Value != 7 {
		t.Errorf("Value = %d, want 7", result.Value)
	}
}

type errCloser struct{}

func (errCloser) Close() error { return errors.New("close error") }

func TestCloseWithLog_DoesNotPanic(t *testing.T) {
	CloseWithLog(errCloser{})
	CloseWithLog(nil)
}
