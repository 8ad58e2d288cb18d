package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/jllopis/flowgate/pkg/errors"
	"github.com/jllopis/flowgate/pkg/flow"
)

// unaryResult is the wire body of a successful unary response.
type unaryResult struct {
	Result json.RawMessage `json:"result"`
}

// unaryFailure is the wire body of a failed unary response.
type unaryFailure struct {
	Code    int    `json:"code"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// respondUnary executes the flow to completion and writes a single JSON
// result or error body.
func (s *Server) respondUnary(ctx context.Context, w http.ResponseWriter, req *flow.Request) invocationOutcome {
	res, err := s.invoke(ctx, req)
	if err != nil {
		fe := errors.AsFlowError(err)
		writeFailure(w, fe)
		return invocationOutcome{status: string(fe.Status)}
	}
	w.Header().Set("Content-Type", "application/json")
	setTraceHeaders(ctx, w.Header(), res)
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(unaryResult{Result: res.Output})
	return invocationOutcome{status: "OK"}
}

// writeFailure serializes a failure with its mapped HTTP status. Used for
// unary failures and for requests rejected before dispatch.
func writeFailure(w http.ResponseWriter, fe *errors.FlowError) {
	code := fe.HTTPStatus()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(unaryFailure{
		Code:    code,
		Status:  string(fe.Status),
		Message: fe.Message,
		Details: fe.Details,
	})
}
