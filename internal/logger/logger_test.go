package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestInit(t *testing.T) {
	logger := Init("test-service", slog.LevelInfo)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	// No trace ID set
	if tid := TraceID(ctx); tid != "" {
		t.Errorf("expected empty trace id, got %q", tid)
	}

	// Set and retrieve
	ctx = WithTraceID(ctx, "test-trace-123")
	if tid := TraceID(ctx); tid != "test-trace-123" {
		t.Errorf("expected 'test-trace-123', got %q", tid)
	}
}

func TestAuditCarriesTraceID(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := WithTraceID(context.Background(), "abc-123")
	Audit(ctx, l, "manual_order", slog.String("symbol", "BANKNIFTY27JAN26C59700"))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("audit line is not JSON: %v", err)
	}
	if line["trace_id"] != "abc-123" {
		t.Errorf("expected trace_id abc-123, got %v", line["trace_id"])
	}
	if line["msg"] != "manual_order" {
		t.Errorf("expected msg manual_order, got %v", line["msg"])
	}
	if line["symbol"] != "BANKNIFTY27JAN26C59700" {
		t.Errorf("expected symbol attr, got %v", line["symbol"])
	}
}

func TestAuditWithoutTraceID(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, nil))

	Audit(context.Background(), l, "panic_exit")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("audit line is not JSON: %v", err)
	}
	if _, ok := line["trace_id"]; ok {
		t.Error("expected no trace_id attr when context carries none")
	}
}
