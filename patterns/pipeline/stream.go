package pipeline

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"
)

// errStreamConsumed is yielded when a Stream is iterated a second time.
var errStreamConsumed = errors.New("pipeline: stream already consumed")

// EventType identifies a stream event.
type EventType string

const (
	// EventFragment carries output text.
	EventFragment EventType = "fragment"
	// EventEnd closes a successful run and carries its metadata.
	EventEnd EventType = "end"
	// EventError closes a failed run.
	EventError EventType = "error"
)

// Event is one element of a run stream. Fragments without a NodeID are the
// separators between two outputs.
type Event struct {
	Type     EventType
	NodeID   string
	Text     string
	Metadata *Metadata
	Err      error
}

// Stream is a run that executes while it is iterated. It can be consumed
// once; breaking out of the loop cancels the run.
type Stream struct {
	ctx      context.Context
	run      *run
	consumed atomic.Bool
	result   *Result
	err      error
}

func newStream(ctx context.Context, r *run) *Stream {
	return &Stream{ctx: ctx, run: r}
}

// RunID identifies the run before it starts.
func (s *Stream) RunID() string {
	return s.run.id
}

// Iter returns the event sequence. Every event but the last comes with a nil
// error; an EventError event comes with its error.
//
//	for event, err := range stream.Iter() {
//	    if err != nil {
//	        return err
//	    }
//	    if event.Type == pipeline.EventFragment {
//	        fmt.Print(event.Text)
//	    }
//	}
func (s *Stream) Iter() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		if !s.consumed.CompareAndSwap(false, true) {
			yield(Event{Type: EventError, Err: errStreamConsumed}, errStreamConsumed)
			return
		}

		s.run.emit = func(event Event) bool {
			return yield(event, nil)
		}
		s.result, s.err = s.run.execute(s.ctx)
		if s.run.stopped {
			return
		}
		if s.err != nil {
			yield(Event{Type: EventError, Err: s.err}, s.err)
			return
		}
		metadata := s.result.Metadata
		yield(Event{Type: EventEnd, Metadata: &metadata}, nil)
	}
}

// Collect drains the stream and returns the result. Called after the stream
// was iterated, it returns the stored outcome.
func (s *Stream) Collect() (*Result, error) {
	if !s.consumed.Load() {
		for range s.Iter() {
		}
	}
	return s.result, s.err
}
