package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/leofalp/fissio/providers/tool"
)

var (
	// ErrInvalidGraph matches every *ValidationError.
	ErrInvalidGraph = errors.New("invalid pipeline graph")

	// ErrClassification is returned when a router, gate, orchestrator,
	// coordinator or evaluator reply cannot be mapped to a decision.
	ErrClassification = errors.New("classification failed")

	// ErrToolNotFound is the catalog miss reported back to the model.
	ErrToolNotFound = tool.ErrToolNotFound

	// ErrToolIterationLimit is returned when a worker used all of its model
	// calls and the model still asked for tools. It is recoverable: the
	// partial text flows downstream.
	ErrToolIterationLimit = errors.New("tool iteration limit reached")

	// ErrUpstreamFailed marks a node that did not run because a predecessor
	// failed.
	ErrUpstreamFailed = errors.New("upstream node failed")

	// ErrRunCancelled is returned when the caller cancelled the run or stopped
	// consuming its stream.
	ErrRunCancelled = errors.New("pipeline run cancelled")

	// ErrProvider wraps failures of the model client.
	ErrProvider = errors.New("model call failed")
)

// ErrorKind classifies a run failure for callers and transports.
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindProvider       ErrorKind = "provider"
	KindClassification ErrorKind = "classification"
	KindTool           ErrorKind = "tool"
	KindNode           ErrorKind = "node"
	KindIterationLimit ErrorKind = "iteration_limit"
	KindCancelled      ErrorKind = "cancelled"
)

// Error is the single structured failure a run reports.
type Error struct {
	Kind   ErrorKind
	NodeID string
	Err    error
}

func (e *Error) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("pipeline %s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("pipeline %s error at node %q: %v", e.Kind, e.NodeID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newError wraps err, keeping an existing *Error untouched.
func newError(nodeID string, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Kind: classify(err), NodeID: nodeID, Err: err}
}

func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrInvalidGraph):
		return KindValidation
	case errors.Is(err, ErrRunCancelled),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, ErrUpstreamFailed):
		return KindNode
	case errors.Is(err, ErrClassification):
		return KindClassification
	case errors.Is(err, ErrToolIterationLimit):
		return KindIterationLimit
	case errors.Is(err, ErrToolNotFound):
		return KindTool
	case errors.Is(err, ErrProvider):
		return KindProvider
	default:
		return KindNode
	}
}

// ValidationError lists every problem found in a graph.
type ValidationError struct {
	GraphID  string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid pipeline %q: %s", e.GraphID, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidGraph
}
