package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/leofalp/fissio/patterns/pipeline"
)

// Error codes that are not pipeline error kinds.
const (
	CodeBadRequest = "bad_request"
	CodeNotFound   = "not_found"
	CodeUpstream   = "upstream"
	CodeInternal   = "internal"
)

// ErrorResponse is the body of every failed request and the payload of the
// SSE error event. Code is a pipeline.ErrorKind for run failures.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	NodeID  string `json:"node_id,omitempty"`
	RunID   string `json:"run_id,omitempty"`
}

// runError maps a run failure to its response and HTTP status.
func runError(err error, runID string) (int, ErrorResponse) {
	resp := ErrorResponse{Code: CodeInternal, Message: err.Error(), RunID: runID}

	var pe *pipeline.Error
	if !errors.As(err, &pe) {
		if errors.Is(err, pipeline.ErrInvalidGraph) {
			resp.Code = string(pipeline.KindValidation)
			return http.StatusBadRequest, resp
		}
		return http.StatusInternalServerError, resp
	}

	resp.Code = string(pe.Kind)
	resp.NodeID = pe.NodeID
	switch pe.Kind {
	case pipeline.KindValidation:
		return http.StatusBadRequest, resp
	case pipeline.KindProvider:
		return http.StatusBadGateway, resp
	case pipeline.KindCancelled:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout, resp
		}
		return http.StatusServiceUnavailable, resp
	case pipeline.KindClassification, pipeline.KindTool, pipeline.KindIterationLimit:
		return http.StatusUnprocessableEntity, resp
	default:
		return http.StatusInternalServerError, resp
	}
}

func writeError(w http.ResponseWriter, status int, resp ErrorResponse) {
	writeJSON(w, status, resp)
}
