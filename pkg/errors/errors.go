// SPDX-License-Identifier: Apache-2.0

// Package errors provides the typed failure model and wire status taxonomy
// for flowgate.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// Status classifies flow failures using the wire-level status taxonomy.
type Status string

const (
	StatusInvalidArgument    Status = "INVALID_ARGUMENT"
	StatusFailedPrecondition Status = "FAILED_PRECONDITION"
	StatusOutOfRange         Status = "OUT_OF_RANGE"
	StatusUnauthenticated    Status = "UNAUTHENTICATED"
	StatusPermissionDenied   Status = "PERMISSION_DENIED"
	StatusNotFound           Status = "NOT_FOUND"
	StatusAlreadyExists      Status = "ALREADY_EXISTS"
	StatusAborted            Status = "ABORTED"
	StatusResourceExhausted  Status = "RESOURCE_EXHAUSTED"
	StatusCancelled          Status = "CANCELLED"
	StatusUnavailable        Status = "UNAVAILABLE"
	StatusDataLoss           Status = "DATA_LOSS"
	StatusUnknown            Status = "UNKNOWN"
	StatusInternal           Status = "INTERNAL"
	StatusUnimplemented      Status = "UNIMPLEMENTED"
	StatusDeadlineExceeded   Status = "DEADLINE_EXCEEDED"
)

// httpByStatus is the fixed wire mapping. 499 is the client-closed-request
// code; there is no net/http constant for it.
var httpByStatus = map[Status]int{
	StatusInvalidArgument:    http.StatusBadRequest,
	StatusFailedPrecondition: http.StatusBadRequest,
	StatusOutOfRange:         http.StatusBadRequest,
	StatusUnauthenticated:    http.StatusUnauthorized,
	StatusPermissionDenied:   http.StatusForbidden,
	StatusNotFound:           http.StatusNotFound,
	StatusAlreadyExists:      http.StatusConflict,
	StatusAborted:            http.StatusConflict,
	StatusResourceExhausted:  http.StatusTooManyRequests,
	StatusCancelled:          499,
	StatusUnavailable:        http.StatusServiceUnavailable,
	StatusDataLoss:           http.StatusInternalServerError,
	StatusUnknown:            http.StatusInternalServerError,
	StatusInternal:           http.StatusInternalServerError,
	StatusUnimplemented:      http.StatusNotImplemented,
	StatusDeadlineExceeded:   http.StatusGatewayTimeout,
}

// HTTPStatus maps an internal status name to its HTTP status code.
// Names outside the taxonomy map to 500 so the mapping stays total.
func HTTPStatus(s Status) int {
	if code, ok := httpByStatus[s]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// FlowError is a typed flow failure with the wire status taxonomy attached.
// It implements the error interface and can be unwrapped with errors.As().
type FlowError struct {
	Status  Status
	Message string
	Details any
	Err     error
}

// New creates a new FlowError with the given status, message, and cause.
func New(status Status, msg string, cause error) *FlowError {
	return &FlowError{
		Status:  status,
		Message: msg,
		Err:     cause,
	}
}

// Newf creates a new FlowError with a formatted message and no cause.
func Newf(status Status, format string, args ...any) *FlowError {
	return &FlowError{
		Status:  status,
		Message: fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface.
func (e *FlowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Status, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *FlowError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code for this failure.
func (e *FlowError) HTTPStatus() int {
	return HTTPStatus(e.Status)
}

// WithDetails attaches structured details for the wire error body.
// Returns the error for method chaining.
func (e *FlowError) WithDetails(details any) *FlowError {
	e.Details = details
	return e
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *FlowError) MarshalJSON() ([]byte, error) {
	out := struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Cause   string `json:"cause,omitempty"`
		Details any    `json:"details,omitempty"`
	}{
		Status:  string(e.Status),
		Message: e.Message,
		Details: e.Details,
	}
	if e.Err != nil {
		out.Cause = e.Err.Error()
	}
	return json.Marshal(out)
}

// AsFlowError converts an arbitrary error into a FlowError.
// FlowErrors pass through, gRPC status errors map via FromGRPC, and context
// cancellation sentinels keep their taxonomy entries. Everything else is
// wrapped as INTERNAL so no raw fault escapes the responder boundary.
func AsFlowError(err error) *FlowError {
	if err == nil {
		return nil
	}
	var fe *FlowError
	if stderrors.As(err, &fe) {
		return fe
	}
	if st, ok := grpcstatus.FromError(err); ok && st.Code() != codes.Unknown {
		return New(FromGRPC(st.Code()), st.Message(), err)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return New(StatusDeadlineExceeded, "deadline exceeded", err)
	}
	if stderrors.Is(err, context.Canceled) {
		return New(StatusCancelled, "request cancelled", err)
	}
	return New(StatusInternal, err.Error(), err)
}

// FromGRPC maps a gRPC code to the wire status taxonomy. Executors that call
// gRPC backends surface failures through this mapping.
func FromGRPC(code codes.Code) Status {
	switch code {
	case codes.InvalidArgument:
		return StatusInvalidArgument
	case codes.FailedPrecondition:
		return StatusFailedPrecondition
	case codes.OutOfRange:
		return StatusOutOfRange
	case codes.Unauthenticated:
		return StatusUnauthenticated
	case codes.PermissionDenied:
		return StatusPermissionDenied
	case codes.NotFound:
		return StatusNotFound
	case codes.AlreadyExists:
		return StatusAlreadyExists
	case codes.Aborted:
		return StatusAborted
	case codes.ResourceExhausted:
		return StatusResourceExhausted
	case codes.Canceled:
		return StatusCancelled
	case codes.Unavailable:
		return StatusUnavailable
	case codes.DataLoss:
		return StatusDataLoss
	case codes.Internal:
		return StatusInternal
	case codes.Unimplemented:
		return StatusUnimplemented
	case codes.DeadlineExceeded:
		return StatusDeadlineExceeded
	default:
		return StatusUnknown
	}
}
