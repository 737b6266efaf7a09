package tool

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/leofalp/fissio/providers/observability"
)

// testSpan records event names for assertions.
type testSpan struct {
	events []string
	attrs  []observability.Attribute
}

func (s *testSpan) End()                                       {}
func (s *testSpan) SetAttributes(...observability.Attribute)   {}
func (s *testSpan) SetStatus(observability.StatusCode, string) {}
func (s *testSpan) RecordError(error)                          {}

func (s *testSpan) AddEvent(name string, attrs ...observability.Attribute) {
	s.events = append(s.events, name)
	s.attrs = append(s.attrs, attrs...)
}

type lookupInput struct {
	Query string `json:"query" jsonschema:"description=What to look up,required"`
	Limit int    `json:"limit,omitempty"`
}

type lookupOutput struct {
	Hits []string `json:"hits"`
}

func lookup(_ context.Context, in lookupInput) (lookupOutput, error) {
	if in.Query == "" {
		return lookupOutput{}, errors.New("empty query")
	}
	return lookupOutput{Hits: []string{in.Query + "-1"}}, nil
}

func TestNewTool_ToolInfo(t *testing.T) {
	lookupTool := NewTool("lookup", lookup, WithDescription("Looks things up"))

	info := lookupTool.ToolInfo()
	if info.Name != "lookup" || info.Description != "Looks things up" {
		t.Errorf("unexpected info %+v", info)
	}
	if info.Parameters == nil || info.Parameters.Type != "object" {
		t.Fatalf("expected an object schema, got %+v", info.Parameters)
	}
	if len(info.Parameters.Required) != 1 || info.Parameters.Required[0] != "query" {
		t.Errorf("required = %v", info.Parameters.Required)
	}
}

func TestTool_CallEncodesStructOutput(t *testing.T) {
	got, err := NewTool("lookup", lookup).Call(context.Background(), `{"query":"go"}`)
	if err != nil {
		t.Fatal(err)
	}
	if got != `{"hits":["go-1"]}` {
		t.Errorf("got %s", got)
	}
}

func TestTool_CallReturnsStringOutputRaw(t *testing.T) {
	echo := NewTool("echo", func(_ context.Context, in lookupInput) (string, error) {
		return "**" + in.Query + "**", nil
	})
	got, err := echo.Call(context.Background(), "```json\n{\"query\": \"hi\",}\n```")
	if err != nil {
		t.Fatal(err)
	}
	if got != "**hi**" {
		t.Errorf("got %q", got)
	}
}

func TestTool_CallErrors(t *testing.T) {
	lookupTool := NewTool("lookup", lookup)

	if _, err := lookupTool.Call(context.Background(), "not json at all"); err == nil || !strings.Contains(err.Error(), "invalid arguments") {
		t.Errorf("expected an argument error, got %v", err)
	}
	if _, err := lookupTool.Call(context.Background(), ""); err == nil || err.Error() != "empty query" {
		t.Errorf("expected the function error, got %v", err)
	}
}

func TestTool_CallAddsSpanEvents(t *testing.T) {
	span := &testSpan{}
	ctx := observability.ContextWithSpan(context.Background(), span)

	if _, err := NewTool("lookup", lookup).Call(ctx, `{"query":"x"}`); err != nil {
		t.Fatal(err)
	}
	if len(span.events) != 2 ||
		span.events[0] != observability.EventToolExecutionStart ||
		span.events[1] != observability.EventToolExecutionEnd {
		t.Errorf("events = %v", span.events)
	}
}
