package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type stubSpan struct{ name string }

func (*stubSpan) SetAttributes(...Attribute)    {}
func (*stubSpan) AddEvent(string, ...Attribute) {}
func (*stubSpan) RecordError(error)             {}
func (*stubSpan) SetStatus(StatusCode, string)  {}
func (*stubSpan) End()                          {}

func TestAttributes(t *testing.T) {
	tests := map[string]struct {
		attr Attribute
		want Attribute
	}{
		"string":    {String(AttrNodeID, "router"), Attribute{AttrNodeID, "router"}},
		"int":       {Int(AttrNodeVisit, 2), Attribute{AttrNodeVisit, 2}},
		"float":     {Float64("score", 0.5), Attribute{"score", 0.5}},
		"bool":      {Bool(AttrNodeCapExceeded, true), Attribute{AttrNodeCapExceeded, true}},
		"duration":  {Duration(AttrDuration, time.Second), Attribute{AttrDuration, time.Second}},
		"slice":     {StringSlice("tools", []string{"a", "b"}), Attribute{"tools", []string{"a", "b"}}},
		"error":     {Error(errors.New("boom")), Attribute{"error", "boom"}},
		"nil error": {Error(nil), Attribute{"error", ""}},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.attr)
		})
	}
}

func TestStatusCode_String(t *testing.T) {
	assert.Equal(t, "unset", StatusUnset.String())
	assert.Equal(t, "ok", StatusOK.String())
	assert.Equal(t, "error", StatusError.String())
	assert.Equal(t, "unset", StatusCode(42).String())
}

func TestContextCarriers(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, SpanFromContext(ctx))
	assert.Nil(t, ObserverFromContext(ctx))

	span := &stubSpan{name: "pipeline.run"}
	ctx = ContextWithSpan(ctx, span)
	assert.Same(t, span, SpanFromContext(ctx))

	inner := &stubSpan{name: "node.execute"}
	child := ContextWithSpan(ctx, inner)
	assert.Same(t, inner, SpanFromContext(child))
	assert.Same(t, span, SpanFromContext(ctx), "parent context is unchanged")

	assert.Nil(t, SpanFromContext(ContextWithSpan(ctx, nil)))
	assert.Nil(t, ObserverFromContext(ContextWithObserver(ctx, nil)))
}
