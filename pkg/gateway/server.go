// SPDX-License-Identifier: Apache-2.0

// Package gateway implements the HTTP binding for flow invocation: one POST
// per call, unary JSON responses, and line-delimited streaming responses.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/flowgate/pkg/audit"
	"github.com/jllopis/flowgate/pkg/errors"
	"github.com/jllopis/flowgate/pkg/flow"
	"github.com/jllopis/flowgate/pkg/telemetry"
)

const (
	headerTraceID = "x-genkit-trace-id"
	headerSpanID  = "x-genkit-span-id"
)

// Server dispatches flow invocation requests to an executor. Each request is
// handled independently on its own goroutine; the server keeps no state
// across requests.
type Server struct {
	exec    flow.Executor
	timeout time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *telemetry.GatewayMetrics
	audit   audit.Recorder
}

// Option configures the server.
type Option func(*Server)

// WithTimeout bounds each invocation. Zero means no timeout; the bound is
// deliberately explicit configuration, never a silent default.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics enables invocation metrics.
func WithMetrics(metrics *telemetry.GatewayMetrics) Option {
	return func(s *Server) {
		s.metrics = metrics
	}
}

// WithRecorder enables invocation audit records.
func WithRecorder(recorder audit.Recorder) Option {
	return func(s *Server) {
		s.audit = recorder
	}
}

// New creates a gateway server in front of the given executor.
func New(exec flow.Executor, opts ...Option) *Server {
	s := &Server{
		exec:   exec,
		logger: slog.Default(),
		tracer: otel.Tracer("flowgate/gateway"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.exec == nil {
		writeFailure(w, errors.New(errors.StatusUnimplemented, "executor not configured", nil))
		return
	}
	req, err := decodeRequest(r)
	if err != nil {
		writeFailure(w, errors.AsFlowError(err))
		return
	}

	ctx := r.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	ctx, span := s.tracer.Start(ctx, "flow.invoke", trace.WithAttributes(
		attribute.String("flow.name", req.Name),
		attribute.Bool("flow.streaming", req.Stream),
	))
	defer span.End()

	start := time.Now()
	var outcome invocationOutcome
	if req.Stream {
		outcome = s.respondStream(ctx, w, req)
	} else {
		outcome = s.respondUnary(ctx, w, req)
	}
	s.finish(ctx, req, outcome, time.Since(start))
}

// invocationOutcome summarizes one handled request for metrics and audit.
type invocationOutcome struct {
	status string // "OK" or a taxonomy status name
	chunks int
}

func (s *Server) finish(ctx context.Context, req *flow.Request, outcome invocationOutcome, elapsed time.Duration) {
	transport := "unary"
	if req.Stream {
		transport = "stream"
	}
	s.logger.InfoContext(ctx, "flow invoked",
		"flow", req.Name,
		"transport", transport,
		"status", outcome.status,
		"chunks", outcome.chunks,
		"duration", elapsed,
	)
	s.metrics.RecordInvocation(ctx, req.Name, transport, outcome.status, outcome.chunks, elapsed)
	if s.audit != nil {
		entry := audit.Entry{
			Flow:      req.Name,
			Streaming: req.Stream,
			Status:    outcome.status,
			Chunks:    outcome.chunks,
			Duration:  elapsed,
		}
		if err := s.audit.Record(ctx, entry); err != nil {
			s.logger.WarnContext(ctx, "audit record failed", "flow", req.Name, "error", err)
		}
	}
}

// invoke runs a unary execution, converting panics into INTERNAL failures so
// no raw fault reaches the transport.
func (s *Server) invoke(ctx context.Context, req *flow.Request) (res *flow.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf(errors.StatusInternal, "flow %q panicked: %v", req.Name, r)
		}
	}()
	res, err = s.exec.Invoke(ctx, req)
	if err == nil && res == nil {
		err = errors.Newf(errors.StatusInternal, "flow %q returned no result", req.Name)
	}
	return res, err
}

// invokeStream is the streaming counterpart of invoke.
func (s *Server) invokeStream(ctx context.Context, req *flow.Request, cb flow.StreamCallback) (res *flow.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf(errors.StatusInternal, "flow %q panicked: %v", req.Name, r)
		}
	}()
	res, err = s.exec.InvokeStream(ctx, req, cb)
	if err == nil && res == nil {
		err = errors.Newf(errors.StatusInternal, "flow %q returned no result", req.Name)
	}
	return res, err
}

// setTraceHeaders writes the trace identifiers attached by the executor,
// falling back to the active span when the executor attached none.
func setTraceHeaders(ctx context.Context, header http.Header, res *flow.Result) {
	traceID, spanID := res.TraceID, res.SpanID
	if traceID == "" {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			traceID = sc.TraceID().String()
			spanID = sc.SpanID().String()
		}
	}
	if traceID != "" {
		header.Set(headerTraceID, traceID)
	}
	if spanID != "" {
		header.Set(headerSpanID, spanID)
	}
}
