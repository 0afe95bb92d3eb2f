package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newBufferLogger(buf *bytes.Buffer) *Logger {
	return New(Config{
		Component: ComponentSync,
		Handler:   slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	})
}

func TestLoggerStampsComponentOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf).WithComponent(ComponentRecurring)

	logger.InfoContext(context.Background(), "processed", FieldProcessed, 2)

	out := buf.String()
	if strings.Count(out, "component=") != 1 {
		t.Fatalf("expected exactly one component attribute, got %q", out)
	}
	if !strings.Contains(out, "component=recurring") || !strings.Contains(out, "processed=2") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestFromContext(t *testing.T) {
	if got := FromContext(context.Background()); got.Component() != "unknown" {
		t.Fatalf("expected fallback logger, got component %q", got.Component())
	}

	var buf bytes.Buffer
	logger := newBufferLogger(&buf)
	ctx := NewContext(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Fatal("expected logger stored in context")
	}
}

func TestStructuredLoggerLogError(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(newBufferLogger(&buf))

	sl.LogError(context.Background(), "sync failed", errors.New("upstream down"), OpSync, NewFields().WithItem("item-1", ""))

	out := buf.String()
	for _, want := range []string{"level=ERROR", "item_id=item-1", "operation=sync", `error="upstream down"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug, "WARN": slog.LevelWarn, "error": slog.LevelError, "": slog.LevelInfo, "bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
