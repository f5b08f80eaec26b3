package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/groupdine/api/internal/platform/requestctx"
)

func TestServiceLoggerLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logFn := ServiceLogger(zap.New(core), "teamcart")

	logFn(context.Background(), "teamcart.locked", map[string]any{"cartId": "tc_1", "quoteVersion": int64(1)})
	logFn(context.Background(), "teamcart.publish_failed", map[string]any{"cartId": "tc_1", "error": "boom"})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[0].Message != "teamcart.locked" {
		t.Fatalf("unexpected first entry %+v", entries[0])
	}
	if entries[0].LoggerName != "teamcart" {
		t.Fatalf("expected named logger, got %q", entries[0].LoggerName)
	}
	if got := entries[0].ContextMap()["cartId"]; got != "tc_1" {
		t.Fatalf("expected cartId field, got %v", got)
	}
	if entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for failures, got %s", entries[1].Level)
	}
}

func TestServiceLoggerPrefersRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zapcore.DebugLevel)
	reqCore, reqLogs := observer.New(zapcore.DebugLevel)
	logFn := ServiceLogger(zap.New(baseCore), "webhook")

	ctx := requestctx.WithLogger(context.Background(), zap.New(reqCore).With(zap.String("request_id", "req-1")))
	logFn(ctx, "payment_webhook.processed", nil)

	if baseLogs.Len() != 0 {
		t.Fatalf("expected base logger unused, got %d entries", baseLogs.Len())
	}
	entries := reqLogs.All()
	if len(entries) != 1 || entries[0].ContextMap()["request_id"] != "req-1" {
		t.Fatalf("expected request scoped entry, got %+v", entries)
	}
}

func TestNewLoggerCloudLoggingShape(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(WithLogLevel("warn"), WithLogOutput(&buf))
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Info("dropped")
	logger.Warn("teamcart.sweep_slow", zap.Duration("elapsed", 1500*time.Millisecond))
	_ = logger.Sync()

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("expected only the warn line, got %q", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal(lines[0], &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["severity"] != "WARNING" || entry["message"] != "teamcart.sweep_slow" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if entry["elapsed"] != float64(1500) {
		t.Fatalf("expected millisecond duration, got %v", entry["elapsed"])
	}
	if _, ok := entry["time"]; !ok {
		t.Fatalf("expected time key in %v", entry)
	}
}

func TestPrintfAdapter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	NewPrintfAdapter(zap.New(core)).Printf("auth: refreshed jwks (%d keys)", 2)
	if logs.Len() != 1 || logs.All()[0].Message != "auth: refreshed jwks (2 keys)" {
		t.Fatalf("unexpected entries %+v", logs.All())
	}
}
