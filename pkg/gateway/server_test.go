package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jllopis/flowgate/pkg/audit"
	"github.com/jllopis/flowgate/pkg/errors"
	"github.com/jllopis/flowgate/pkg/flow"
)

// testExecutor is a scriptable flow.Executor that counts invocations.
type testExecutor struct {
	invoke       func(ctx context.Context, req *flow.Request) (*flow.Result, error)
	invokeStream func(ctx context.Context, req *flow.Request, cb flow.StreamCallback) (*flow.Result, error)
	calls        atomic.Int64
}

func (e *testExecutor) Invoke(ctx context.Context, req *flow.Request) (*flow.Result, error) {
	e.calls.Add(1)
	if e.invoke != nil {
		return e.invoke(ctx, req)
	}
	return nil, errors.New(errors.StatusUnimplemented, "invoke not scripted", nil)
}

func (e *testExecutor) InvokeStream(ctx context.Context, req *flow.Request, cb flow.StreamCallback) (*flow.Result, error) {
	e.calls.Add(1)
	if e.invokeStream != nil {
		return e.invokeStream(ctx, req, cb)
	}
	return nil, errors.New(errors.StatusUnimplemented, "stream not scripted", nil)
}

// frame is one parsed streaming block.
type frame struct {
	prefix  string
	payload map[string]json.RawMessage
}

func parseFrames(t *testing.T, body string) []frame {
	t.Helper()
	var out []frame
	for _, block := range strings.Split(body, "\n\n") {
		if block == "" {
			continue
		}
		idx := strings.Index(block, ": ")
		if idx < 0 {
			t.Fatalf("malformed frame %q", block)
		}
		f := frame{prefix: block[:idx]}
		if err := json.Unmarshal([]byte(block[idx+2:]), &f.payload); err != nil {
			t.Fatalf("frame payload %q: %v", block, err)
		}
		out = append(out, f)
	}
	return out
}

func postFlow(srv *Server, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestUnarySuccess(t *testing.T) {
	exec := &testExecutor{
		invoke: func(ctx context.Context, req *flow.Request) (*flow.Result, error) {
			if req.Name != "helloFlow" {
				t.Fatalf("expected helloFlow, got %q", req.Name)
			}
			var input struct {
				Name string `json:"name"`
			}
			if err := json.Unmarshal(req.Input, &input); err != nil {
				t.Fatalf("decode input: %v", err)
			}
			return &flow.Result{
				Output:  json.RawMessage(`{"greeting":"Hello, ` + input.Name + `"}`),
				TraceID: "trace-1",
				SpanID:  "span-1",
			}, nil
		},
	}
	srv := New(exec)
	rec := postFlow(srv, "/helloFlow", `{"data": {"name": "Ada"}}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("unexpected content type %q", got)
	}
	if got := rec.Header().Get("x-genkit-trace-id"); got != "trace-1" {
		t.Fatalf("expected trace header, got %q", got)
	}
	if got := rec.Header().Get("x-genkit-span-id"); got != "span-1" {
		t.Fatalf("expected span header, got %q", got)
	}
	var resp struct {
		Result struct {
			Greeting string `json:"greeting"`
		} `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Result.Greeting != "Hello, Ada" {
		t.Fatalf("unexpected greeting %q", resp.Result.Greeting)
	}
}

func TestUnaryFailureMapsStatus(t *testing.T) {
	exec := &testExecutor{
		invoke: func(ctx context.Context, req *flow.Request) (*flow.Result, error) {
			return nil, errors.New(errors.StatusNotFound, "flow not found", nil)
		},
	}
	rec := postFlow(New(exec), "/missingFlow", `{"data": null}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var failure struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &failure); err != nil {
		t.Fatalf("decode failure: %v", err)
	}
	if failure.Code != 404 || failure.Status != "NOT_FOUND" {
		t.Fatalf("unexpected failure body %+v", failure)
	}
}

func TestUnaryFailureOmitsAbsentDetails(t *testing.T) {
	exec := &testExecutor{
		invoke: func(ctx context.Context, req *flow.Request) (*flow.Result, error) {
			return nil, errors.New(errors.StatusAborted, "conflict", nil)
		},
	}
	rec := postFlow(New(exec), "/f", `{"data": 1}`, nil)
	if strings.Contains(rec.Body.String(), "details") {
		t.Fatalf("expected no details key, got %s", rec.Body.String())
	}
}

func TestUnaryExecutorPanicBecomesInternal(t *testing.T) {
	exec := &testExecutor{
		invoke: func(ctx context.Context, req *flow.Request) (*flow.Result, error) {
			panic("executor blew up")
		},
	}
	rec := postFlow(New(exec), "/badFlow", `{"data": 1}`, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var failure struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &failure); err != nil {
		t.Fatalf("decode failure: %v", err)
	}
	if failure.Code != 500 || failure.Status != "INTERNAL" || failure.Message == "" {
		t.Fatalf("unexpected failure body %+v", failure)
	}
}

func TestMalformedRequestSkipsExecutor(t *testing.T) {
	exec := &testExecutor{}
	rec := postFlow(New(exec), "/helloFlow", `{"input": 1}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if got := exec.calls.Load(); got != 0 {
		t.Fatalf("executor invoked %d times for malformed request", got)
	}
}

func TestStreamingChunksInOrder(t *testing.T) {
	exec := &testExecutor{
		invokeStream: func(ctx context.Context, req *flow.Request, cb flow.StreamCallback) (*flow.Result, error) {
			if err := cb(ctx, json.RawMessage(`"Hello"`)); err != nil {
				return nil, err
			}
			if err := cb(ctx, json.RawMessage(`", Ada"`)); err != nil {
				return nil, err
			}
			return &flow.Result{Output: json.RawMessage(`{"greeting":"Hello, Ada"}`)}, nil
		},
	}
	rec := postFlow(New(exec), "/helloFlow", `{"data": {"name": "Ada"}}`,
		map[string]string{"Accept": "text/event-stream"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("unexpected content type %q", got)
	}
	frames := parseFrames(t, rec.Body.String())
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d: %s", len(frames), rec.Body.String())
	}
	if string(frames[0].payload["message"]) != `"Hello"` {
		t.Fatalf("unexpected first chunk %s", frames[0].payload["message"])
	}
	if string(frames[1].payload["message"]) != `", Ada"` {
		t.Fatalf("unexpected second chunk %s", frames[1].payload["message"])
	}
	if frames[2].prefix != "data" || frames[2].payload["result"] == nil {
		t.Fatalf("expected terminal result frame, got %+v", frames[2])
	}
}

func TestStreamingErrorAfterChunk(t *testing.T) {
	exec := &testExecutor{
		invokeStream: func(ctx context.Context, req *flow.Request, cb flow.StreamCallback) (*flow.Result, error) {
			if err := cb(ctx, json.RawMessage(`"partial"`)); err != nil {
				return nil, err
			}
			panic("mid-stream fault")
		},
	}
	rec := postFlow(New(exec), "/fragileFlow", `{"data": 1}`,
		map[string]string{"Accept": "text/event-stream"})
	// Status is committed before the failure.
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	frames := parseFrames(t, rec.Body.String())
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d: %s", len(frames), rec.Body.String())
	}
	if frames[0].prefix != "data" || frames[0].payload["message"] == nil {
		t.Fatalf("expected message frame first, got %+v", frames[0])
	}
	if frames[1].prefix != "error" {
		t.Fatalf("expected error frame, got %+v", frames[1])
	}
	var errBody struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(frames[1].payload["error"], &errBody); err != nil {
		t.Fatalf("decode error frame: %v", err)
	}
	if errBody.Status != "INTERNAL" || errBody.Message == "" {
		t.Fatalf("unexpected error body %+v", errBody)
	}
	if strings.Contains(rec.Body.String(), `"result"`) {
		t.Fatal("error stream must not contain a result frame")
	}
}

func TestStreamingTerminalFrameExactlyOnce(t *testing.T) {
	exec := &testExecutor{
		invokeStream: func(ctx context.Context, req *flow.Request, cb flow.StreamCallback) (*flow.Result, error) {
			return &flow.Result{Output: json.RawMessage(`42`)}, nil
		},
	}
	// A zero-chunk stream still terminates with exactly one result frame.
	rec := postFlow(New(exec), "/quietFlow?stream=true", `{"data": 1}`, nil)
	frames := parseFrames(t, rec.Body.String())
	if len(frames) != 1 {
		t.Fatalf("expected exactly 1 frame, got %d", len(frames))
	}
	if frames[0].prefix != "data" || string(frames[0].payload["result"]) != "42" {
		t.Fatalf("unexpected terminal frame %+v", frames[0])
	}
}

func TestStreamingFailureTaxonomyPreserved(t *testing.T) {
	exec := &testExecutor{
		invokeStream: func(ctx context.Context, req *flow.Request, cb flow.StreamCallback) (*flow.Result, error) {
			return nil, errors.New(errors.StatusResourceExhausted, "quota exceeded", nil).
				WithDetails(map[string]any{"limit": 10})
		},
	}
	rec := postFlow(New(exec), "/quotaFlow?stream=true", `{"data": 1}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("streaming failures keep HTTP 200, got %d", rec.Code)
	}
	frames := parseFrames(t, rec.Body.String())
	if len(frames) != 1 || frames[0].prefix != "error" {
		t.Fatalf("expected single error frame, got %+v", frames)
	}
	var errBody struct {
		Status  string         `json:"status"`
		Message string         `json:"message"`
		Details map[string]int `json:"details"`
	}
	if err := json.Unmarshal(frames[0].payload["error"], &errBody); err != nil {
		t.Fatalf("decode error frame: %v", err)
	}
	if errBody.Status != "RESOURCE_EXHAUSTED" || errBody.Details["limit"] != 10 {
		t.Fatalf("unexpected error body %+v", errBody)
	}
}

func TestInvokeTimeout(t *testing.T) {
	exec := &testExecutor{
		invoke: func(ctx context.Context, req *flow.Request) (*flow.Result, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
				return &flow.Result{Output: json.RawMessage(`"late"`)}, nil
			}
		},
	}
	srv := New(exec, WithTimeout(20*time.Millisecond))
	rec := postFlow(srv, "/slowFlow", `{"data": 1}`, nil)
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "DEADLINE_EXCEEDED") {
		t.Fatalf("expected DEADLINE_EXCEEDED status, got %s", rec.Body.String())
	}
}

func TestNilExecutor(t *testing.T) {
	rec := postFlow(New(nil), "/helloFlow", `{"data": 1}`, nil)
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rec.Code)
	}
}

// captureRecorder collects audit entries and can be scripted to fail.
type captureRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
	err     error
}

func (r *captureRecorder) Record(ctx context.Context, entry audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return r.err
}

func (r *captureRecorder) all() []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Entry(nil), r.entries...)
}

func TestRecorderCapturesUnaryFailure(t *testing.T) {
	exec := &testExecutor{
		invoke: func(ctx context.Context, req *flow.Request) (*flow.Result, error) {
			return nil, errors.New(errors.StatusNotFound, "flow not found", nil)
		},
	}
	recorder := &captureRecorder{}
	srv := New(exec, WithRecorder(recorder))
	postFlow(srv, "/ghostFlow", `{"data": 1}`, nil)

	entries := recorder.all()
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Flow != "ghostFlow" || entry.Streaming || entry.Status != "NOT_FOUND" || entry.Chunks != 0 {
		t.Fatalf("unexpected audit entry %+v", entry)
	}
}

func TestRecorderCapturesStreamingInvocation(t *testing.T) {
	exec := &testExecutor{
		invokeStream: func(ctx context.Context, req *flow.Request, cb flow.StreamCallback) (*flow.Result, error) {
			for _, chunk := range []string{`"a"`, `"b"`} {
				if err := cb(ctx, json.RawMessage(chunk)); err != nil {
					return nil, err
				}
			}
			return &flow.Result{Output: json.RawMessage(`"done"`)}, nil
		},
	}
	recorder := &captureRecorder{}
	srv := New(exec, WithRecorder(recorder))
	postFlow(srv, "/chattyFlow?stream=true", `{"data": 1}`, nil)

	entries := recorder.all()
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Flow != "chattyFlow" || !entry.Streaming || entry.Status != "OK" || entry.Chunks != 2 {
		t.Fatalf("unexpected audit entry %+v", entry)
	}
}

func TestRecorderFailureDoesNotAffectResponse(t *testing.T) {
	exec := &testExecutor{
		invoke: func(ctx context.Context, req *flow.Request) (*flow.Result, error) {
			return &flow.Result{Output: json.RawMessage(`"ok"`)}, nil
		},
	}
	recorder := &captureRecorder{err: errors.New(errors.StatusUnavailable, "audit store down", nil)}
	srv := New(exec, WithRecorder(recorder))
	rec := postFlow(srv, "/helloFlow", `{"data": 1}`, nil)

	// A failing recorder is logged, never surfaced to the caller.
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestNilResultBecomesInternal(t *testing.T) {
	exec := &testExecutor{
		invoke: func(ctx context.Context, req *flow.Request) (*flow.Result, error) {
			return nil, nil
		},
	}
	rec := postFlow(New(exec), "/emptyFlow", `{"data": 1}`, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
