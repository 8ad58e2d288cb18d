package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/jllopis/flowgate/pkg/errors"
	"github.com/jllopis/flowgate/pkg/flow"
)

// streamMessage frames one intermediate chunk.
type streamMessage struct {
	Message json.RawMessage `json:"message"`
}

// streamResult frames the terminal success chunk.
type streamResult struct {
	Result json.RawMessage `json:"result"`
}

// streamFailure frames the terminal error chunk.
type streamFailure struct {
	Error streamFailureBody `json:"error"`
}

type streamFailureBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// respondStream executes the flow with incremental flushing. The 200 status
// is committed when the stream opens; failures after that point travel
// in-band as a terminal error chunk, never through the HTTP status line.
func (s *Server) respondStream(ctx context.Context, w http.ResponseWriter, req *flow.Request) invocationOutcome {
	flusher, ok := w.(http.Flusher)
	if !ok {
		fe := errors.New(errors.StatusInternal, "streaming not supported by transport", nil)
		writeFailure(w, fe)
		return invocationOutcome{status: string(fe.Status)}
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sw := &streamWriter{w: w, f: flusher}
	res, err := s.invokeStream(ctx, req, sw.emit)
	if err != nil {
		fe := errors.AsFlowError(err)
		sw.writeError(fe)
		return invocationOutcome{status: string(fe.Status), chunks: sw.chunks}
	}
	sw.writeResult(res.Output)
	return invocationOutcome{status: "OK", chunks: sw.chunks}
}

// streamWriter writes protocol frames. Each emitted chunk is flushed
// immediately; there is no internal buffer, so a slow reader blocks the
// producing flow through the emit callback.
type streamWriter struct {
	w      http.ResponseWriter
	f      http.Flusher
	chunks int
	closed bool
}

// emit writes one data frame, in emission order, one frame per emission.
func (sw *streamWriter) emit(ctx context.Context, chunk json.RawMessage) error {
	// Stop writing once the client is gone or the deadline passed; the
	// executor sees the same context and is expected to unwind.
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(streamMessage{Message: chunk})
	if err != nil {
		return errors.New(errors.StatusInternal, "chunk serialization failed", err)
	}
	if err := sw.writeFrame("data: ", payload); err != nil {
		return err
	}
	sw.chunks++
	return nil
}

// writeResult writes the single terminal success frame and closes the
// stream for further writes.
func (sw *streamWriter) writeResult(output json.RawMessage) {
	if sw.closed {
		return
	}
	payload, err := json.Marshal(streamResult{Result: output})
	if err != nil {
		sw.writeError(errors.New(errors.StatusInternal, "result serialization failed", err))
		return
	}
	_ = sw.writeFrame("data: ", payload)
	sw.closed = true
}

// writeError writes the single terminal error frame and closes the stream
// for further writes.
func (sw *streamWriter) writeError(fe *errors.FlowError) {
	if sw.closed {
		return
	}
	payload, err := json.Marshal(streamFailure{Error: streamFailureBody{
		Status:  string(fe.Status),
		Message: fe.Message,
		Details: fe.Details,
	}})
	if err != nil {
		// Details was not serializable; retry without it.
		payload, _ = json.Marshal(streamFailure{Error: streamFailureBody{
			Status:  string(fe.Status),
			Message: fe.Message,
		}})
	}
	_ = sw.writeFrame("error: ", payload)
	sw.closed = true
}

func (sw *streamWriter) writeFrame(prefix string, payload []byte) error {
	if _, err := sw.w.Write([]byte(prefix)); err != nil {
		return err
	}
	if _, err := sw.w.Write(payload); err != nil {
		return err
	}
	if _, err := sw.w.Write([]byte("\n\n")); err != nil {
		return err
	}
	sw.f.Flush()
	return nil
}
