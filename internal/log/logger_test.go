package log

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestLoggerTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: slog.LevelDebug, Component: ComponentStorage, Output: &buf})

	l.InfoContext(context.Background(), "expense stored", FieldUpdateID, int64(7))

	out := buf.String()
	if !strings.Contains(out, "component=storage") {
		t.Fatalf("expected component attribute, got %q", out)
	}
	if !strings.Contains(out, "update_id=7") {
		t.Fatalf("expected update_id attribute, got %q", out)
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: slog.LevelInfo, Component: ComponentApp, Output: &buf})
	ctx := WithContext(context.Background(), l)

	FromContext(ctx, ComponentWorker).WarnContext(ctx, "queue full")
	if !strings.Contains(buf.String(), "component=worker") {
		t.Fatalf("expected worker component, got %q", buf.String())
	}

	if got := FromContext(context.Background(), ComponentQuery).Component(); got != ComponentQuery {
		t.Fatalf("expected fallback component %q, got %q", ComponentQuery, got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("%q: expected %v, got %v", in, want, got)
		}
	}
}
