// Package flow defines the invocation data model shared by the gateway, the
// registry, and flow executors.
package flow

import (
	"context"
	"encoding/json"
	"net/http"
)

// Request represents one call to a named flow. It is built once per inbound
// HTTP request and never mutated afterwards.
type Request struct {
	// Name is the flow identifier taken from the final URL path segment.
	Name string

	// Input is the data field of the request body, opaque to the gateway.
	Input json.RawMessage

	// Headers carries the inbound HTTP headers for authorization use by the
	// flow. The gateway does not interpret their contents.
	Headers http.Header

	// Stream reports whether the caller asked for a streaming response.
	Stream bool
}

// Result is the terminal outcome of a successful flow invocation. Failures
// travel as *errors.FlowError values instead.
type Result struct {
	// Output is the flow's final output payload.
	Output json.RawMessage

	// TraceID and SpanID identify the execution trace. The gateway passes
	// them through to response headers without generating them itself.
	TraceID string
	SpanID  string
}

// StreamCallback receives one intermediate chunk during a streaming
// invocation. The chunk must be written or copied before returning; it is
// not retained by the caller.
type StreamCallback func(ctx context.Context, chunk json.RawMessage) error

// Executor runs named flows. It is the collaborator behind the gateway;
// implementations may execute locally (Registry) or forward to a remote
// runtime.
type Executor interface {
	// Invoke runs the flow to completion and returns its terminal result.
	Invoke(ctx context.Context, req *Request) (*Result, error)

	// InvokeStream runs the flow, delivering intermediate chunks through cb
	// in emission order before returning the terminal result. cb may be
	// invoked zero times.
	InvokeStream(ctx context.Context, req *Request, cb StreamCallback) (*Result, error)
}
