package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/jllopis/flowgate/pkg/errors"
	"github.com/jllopis/flowgate/pkg/flow"
)

// decodeRequest turns an inbound HTTP request into an invocation request.
// It rejects anything that is not a POST with a JSON body carrying a "data"
// field; the executor is never consulted for malformed requests.
func decodeRequest(r *http.Request) (*flow.Request, error) {
	if r.Method != http.MethodPost {
		return nil, errors.Newf(errors.StatusInvalidArgument, "method %s not allowed, use POST", r.Method)
	}
	name := flowName(r.URL.Path)
	if name == "" {
		return nil, errors.New(errors.StatusInvalidArgument, "missing flow name in path", nil)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errors.New(errors.StatusInvalidArgument, "unreadable request body", err)
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errors.New(errors.StatusInvalidArgument, "request body is not valid JSON", err)
	}
	if envelope.Data == nil {
		return nil, errors.New(errors.StatusInvalidArgument, `request body is missing the "data" field`, nil)
	}
	return &flow.Request{
		Name:    name,
		Input:   envelope.Data,
		Headers: r.Header.Clone(),
		Stream:  wantsStream(r),
	}, nil
}

// flowName extracts the final path segment.
func flowName(path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return ""
	}
	segments := strings.Split(path, "/")
	return segments[len(segments)-1]
}

// wantsStream reports whether the caller asked for a streaming response.
// The stream=true query parameter wins over any Accept header, including an
// explicit Accept: application/json; the query parameter is the more
// explicit signal.
func wantsStream(r *http.Request) bool {
	if r.URL.Query().Get("stream") == "true" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}
