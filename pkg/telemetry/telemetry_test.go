package telemetry

import (
	"context"
	"testing"
	"time"
)

func TestInitStdoutExporters(t *testing.T) {
	shutdown, err := Init("flowgate-test", "0.0.0", Config{})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitOTLPRequiresEndpoint(t *testing.T) {
	if _, err := Init("flowgate-test", "0.0.0", Config{Exporter: "otlp"}); err == nil {
		t.Fatal("expected error for otlp without endpoint")
	}
}

func TestInitRejectsUnknownExporter(t *testing.T) {
	if _, err := Init("flowgate-test", "0.0.0", Config{Exporter: "jaeger"}); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}
