// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// GatewayMetrics tracks invocation volume, failures, streamed chunks, and
// latency for the flow gateway.
type GatewayMetrics struct {
	requests metric.Int64Counter
	failures metric.Int64Counter
	chunks   metric.Int64Counter
	duration metric.Float64Histogram
}

// NewGatewayMetrics creates the gateway meters on the global provider.
func NewGatewayMetrics() (*GatewayMetrics, error) {
	meter := otel.Meter("flowgate/gateway")

	requests, err := meter.Int64Counter(
		"flowgate.requests.total",
		metric.WithDescription("Flow invocations by flow, transport, and terminal status"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter(
		"flowgate.failures.total",
		metric.WithDescription("Failed flow invocations by status name"),
	)
	if err != nil {
		return nil, err
	}

	chunks, err := meter.Int64Counter(
		"flowgate.stream.chunks",
		metric.WithDescription("Intermediate chunks written to streaming responses"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"flowgate.request.duration",
		metric.WithDescription("Flow invocation duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &GatewayMetrics{
		requests: requests,
		failures: failures,
		chunks:   chunks,
		duration: duration,
	}, nil
}

// RecordInvocation records one handled request. Safe to call on a nil
// receiver so the gateway can run without metrics configured.
func (m *GatewayMetrics) RecordInvocation(ctx context.Context, flowName, transport, status string, chunkCount int, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("flow", flowName),
		attribute.String("transport", transport),
		attribute.String("status", status),
	)
	m.requests.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
	if chunkCount > 0 {
		m.chunks.Add(ctx, int64(chunkCount), metric.WithAttributes(attribute.String("flow", flowName)))
	}
	if status != "OK" {
		m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}
