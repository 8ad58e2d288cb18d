// SPDX-License-Identifier: Apache-2.0

// Package client calls flows exposed by a gateway server, in both unary and
// streaming mode.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/jllopis/flowgate/pkg/errors"
)

// Client wraps the flow invocation HTTP binding.
type Client struct {
	baseURL    string
	httpClient *http.Client
	headers    map[string]string
	retry      *RetryConfig
}

// Option configures the client.
type Option func(*Client)

// New creates a client for the gateway at baseURL.
func New(baseURL string, opts ...Option) *Client {
	client := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client
}

// WithHeaders sets default headers for each request, typically authorization
// material forwarded to the flow.
func WithHeaders(headers map[string]string) Option {
	return func(c *Client) {
		cloned := make(map[string]string, len(headers))
		for key, value := range headers {
			cloned[key] = value
		}
		c.headers = cloned
	}
}

// WithRetry enables retries with backoff for unary calls. Streaming calls
// are never retried.
func WithRetry(rc RetryConfig) Option {
	return func(c *Client) {
		c.retry = &rc
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// ChunkHandler receives one intermediate chunk from a streaming call.
type ChunkHandler func(chunk json.RawMessage) error

// Run invokes a flow in unary mode and returns its result payload. Failure
// bodies decode back into *errors.FlowError.
func (c *Client) Run(ctx context.Context, name string, input any) (json.RawMessage, error) {
	if c.retry == nil {
		return c.runOnce(ctx, name, input)
	}
	var result json.RawMessage
	err := c.retry.Do(ctx, func() error {
		var runErr error
		result, runErr = c.runOnce(ctx, name, input)
		return runErr
	})
	return result, err
}

func (c *Client) runOnce(ctx context.Context, name string, input any) (json.RawMessage, error) {
	resp, err := c.post(ctx, name, input, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeFailure(body, resp.StatusCode)
	}
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return envelope.Result, nil
}

// Stream invokes a flow in streaming mode, delivering intermediate chunks to
// handler in arrival order and returning the terminal result. A terminal
// error frame is returned as *errors.FlowError.
func (c *Client) Stream(ctx context.Context, name string, input any, handler ChunkHandler) (json.RawMessage, error) {
	resp, err := c.post(ctx, name+"?stream=true", input, "text/event-stream")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, decodeFailure(body, resp.StatusCode)
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil, errors.New(errors.StatusInternal, "stream ended without a terminal chunk", nil)
			}
			return nil, fmt.Errorf("read stream: %w", err)
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "data: "):
			payload := []byte(strings.TrimPrefix(line, "data: "))
			var frame struct {
				Message json.RawMessage `json:"message"`
				Result  json.RawMessage `json:"result"`
			}
			if err := json.Unmarshal(payload, &frame); err != nil {
				return nil, fmt.Errorf("decode stream frame: %w", err)
			}
			if frame.Message != nil {
				if handler != nil {
					if err := handler(frame.Message); err != nil {
						return nil, err
					}
				}
				continue
			}
			return frame.Result, nil
		case strings.HasPrefix(line, "error: "):
			payload := []byte(strings.TrimPrefix(line, "error: "))
			var frame struct {
				Error struct {
					Status  string          `json:"status"`
					Message string          `json:"message"`
					Details json.RawMessage `json:"details"`
				} `json:"error"`
			}
			if err := json.Unmarshal(payload, &frame); err != nil {
				return nil, fmt.Errorf("decode error frame: %w", err)
			}
			fe := errors.New(errors.Status(frame.Error.Status), frame.Error.Message, nil)
			if frame.Error.Details != nil {
				fe = fe.WithDetails(frame.Error.Details)
			}
			return nil, fe
		default:
			return nil, fmt.Errorf("unexpected stream line %q", line)
		}
	}
}

func (c *Client) post(ctx context.Context, path string, input any, accept string) (*http.Response, error) {
	payload, err := json.Marshal(struct {
		Data any `json:"data"`
	}{Data: input})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	return c.httpClient.Do(req)
}

func decodeFailure(body []byte, httpStatus int) error {
	var failure struct {
		Code    int             `json:"code"`
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	}
	if err := json.Unmarshal(body, &failure); err != nil || failure.Status == "" {
		return errors.Newf(errors.StatusUnknown, "gateway returned HTTP %d", httpStatus)
	}
	fe := errors.New(errors.Status(failure.Status), failure.Message, nil)
	if failure.Details != nil {
		fe = fe.WithDetails(failure.Details)
	}
	return fe
}
