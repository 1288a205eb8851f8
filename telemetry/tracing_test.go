package telemetry

import (
	"context"
	"errors"
	"testing"
)

func TestTracingDisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := InitTracing("live-ingest", "test", "")
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	defer shutdown()
	if IsTracingEnabled() {
		t.Fatal("tracing should be disabled without an endpoint")
	}

	ctx := WithCorrelation(context.Background(), "abc")
	ctx, span := StartSpan(ctx, "tiktok", "broker.dial")
	if ctx == nil || span == nil {
		t.Fatal("StartSpan returned nil")
	}
	EndSpan(span, errors.New("boom"))

	_, span = StartSpan(context.Background(), "youtube", "poll")
	EndSpan(span, nil)
}
