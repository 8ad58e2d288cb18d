package gateway

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jllopis/flowgate/pkg/errors"
)

func TestDecodeRequest(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/flows/helloFlow", strings.NewReader(`{"data": {"name": "Ada"}}`))
	decoded, err := decodeRequest(req)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Name != "helloFlow" {
		t.Fatalf("expected helloFlow, got %q", decoded.Name)
	}
	if string(decoded.Input) != `{"name": "Ada"}` {
		t.Fatalf("unexpected input %s", decoded.Input)
	}
	if decoded.Stream {
		t.Fatal("expected unary request")
	}
}

func TestDecodeRequestRejectsNonPost(t *testing.T) {
	req := httptest.NewRequest("GET", "/helloFlow", nil)
	if _, err := decodeRequest(req); err == nil {
		t.Fatal("expected error for GET")
	} else if fe := errors.AsFlowError(err); fe.Status != errors.StatusInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %s", fe.Status)
	}
}

func TestDecodeRequestRejectsBadJSON(t *testing.T) {
	req := httptest.NewRequest("POST", "/helloFlow", strings.NewReader(`{"data": `))
	if _, err := decodeRequest(req); err == nil {
		t.Fatal("expected error for truncated JSON")
	}
}

func TestDecodeRequestRequiresDataField(t *testing.T) {
	req := httptest.NewRequest("POST", "/helloFlow", strings.NewReader(`{"input": 1}`))
	_, err := decodeRequest(req)
	if err == nil {
		t.Fatal("expected error for missing data field")
	}
	if fe := errors.AsFlowError(err); fe.Status != errors.StatusInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %s", fe.Status)
	}
}

func TestDecodeRequestNullData(t *testing.T) {
	// An explicit null satisfies the data field requirement.
	req := httptest.NewRequest("POST", "/helloFlow", strings.NewReader(`{"data": null}`))
	decoded, err := decodeRequest(req)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(decoded.Input) != "null" {
		t.Fatalf("expected null input, got %s", decoded.Input)
	}
}

func TestDecodeRequestStreamSignals(t *testing.T) {
	cases := []struct {
		name   string
		target string
		accept string
		want   bool
	}{
		{"no signal", "/helloFlow", "", false},
		{"accept json", "/helloFlow", "application/json", false},
		{"accept event-stream", "/helloFlow", "text/event-stream", true},
		{"accept list", "/helloFlow", "application/json, text/event-stream", true},
		{"query param", "/helloFlow?stream=true", "", true},
		{"query param false", "/helloFlow?stream=false", "", false},
		// The query parameter is the more explicit signal and wins over an
		// explicit Accept: application/json.
		{"query overrides accept", "/helloFlow?stream=true", "application/json", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", tc.target, strings.NewReader(`{"data": 1}`))
			if tc.accept != "" {
				req.Header.Set("Accept", tc.accept)
			}
			decoded, err := decodeRequest(req)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if decoded.Stream != tc.want {
				t.Fatalf("Stream = %v, want %v", decoded.Stream, tc.want)
			}
		})
	}
}

func TestDecodeRequestForwardsHeaders(t *testing.T) {
	req := httptest.NewRequest("POST", "/helloFlow", strings.NewReader(`{"data": 1}`))
	req.Header.Set("Authorization", "Bearer token-123")
	decoded, err := decodeRequest(req)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := decoded.Headers.Get("Authorization"); got != "Bearer token-123" {
		t.Fatalf("expected authorization forwarded, got %q", got)
	}
}
