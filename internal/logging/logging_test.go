package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestInitWriterText(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	InitWriter(&buf, "info", "text")
	slog.Info("opened store", "backend", "bolt")
	if !strings.Contains(buf.String(), "backend=bolt") {
		t.Fatalf("text output missing attr: %q", buf.String())
	}
}

func TestInitWriterJSON(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	InitWriter(&buf, "debug", "JSON")
	For("storage").Debug("pushed", "list", "todo")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["component"] != "storage" || rec["list"] != "todo" {
		t.Fatalf("unexpected record: %v", rec)
	}
	SetLevel(slog.LevelInfo)
}

func TestInitWriterUnknownLevelFallsBackToInfo(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	InitWriter(&buf, "chatty", "text")
	if level.Level() != slog.LevelInfo {
		t.Fatalf("level = %v, want info", level.Level())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"DEBUG", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"  Error  ", slog.LevelError, false},
		{"", slog.LevelInfo, false},
		{"unknown", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q): err = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q): got %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestSetLevel(t *testing.T) {
	SetLevel(slog.LevelWarn)
	if level.Level() != slog.LevelWarn {
		t.Errorf("SetLevel(Warn): got %v", level.Level())
	}
	SetLevel(slog.LevelInfo)
}

func TestDynamicHandlerEnabled(t *testing.T) {
	SetLevel(slog.LevelWarn)
	defer SetLevel(slog.LevelInfo)

	h := &dynamicHandler{component: "test"}
	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should not be enabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should be enabled at warn level")
	}
}

func TestDynamicHandlerWithAttrs(t *testing.T) {
	h := &dynamicHandler{component: "test"}
	if h.WithAttrs(nil) != h {
		t.Error("WithAttrs(nil) should return same handler")
	}
	h2, ok := h.WithAttrs([]slog.Attr{slog.String("k", "v")}).(*dynamicHandler)
	if !ok {
		t.Fatal("WithAttrs should return *dynamicHandler")
	}
	if len(h2.attrs) != 1 || h2.component != "test" {
		t.Errorf("unexpected handler: %+v", h2)
	}
	if len(h.attrs) != 0 {
		t.Error("WithAttrs must not modify the receiver")
	}
	if h.WithGroup("grp") != h {
		t.Error("WithGroup should return same handler")
	}
}

func TestCaptureForTest(t *testing.T) {
	c := CaptureForTest()
	defer c.Restore()

	slog.Info("hello")
	slog.Warn("warning message")
	slog.Debug("debug detail")

	if records := c.Records(); len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if !c.Has(slog.LevelInfo, "hello") {
		t.Error("should have info 'hello'")
	}
	if !c.Has(slog.LevelWarn, "warning") {
		t.Error("should have warn 'warning'")
	}
	if c.Has(slog.LevelError, "hello") {
		t.Error("should not match error level")
	}
	if c.Count(slog.LevelDebug) != 1 || c.Count(slog.LevelError) != 0 {
		t.Errorf("unexpected counts: debug=%d error=%d", c.Count(slog.LevelDebug), c.Count(slog.LevelError))
	}
}

func TestCaptureRestore(t *testing.T) {
	prev := slog.Default()
	c := CaptureForTest()
	c.Restore()

	// After restore, default logger should be back to previous
	if slog.Default() != prev {
		t.Error("default logger not restored")
	}
}

func TestCaptureAttr(t *testing.T) {
	c := CaptureForTest()
	defer c.Restore()

	logger := For("mycomp").With("partition", "PRIVATE/default")
	logger.Warn("backend failure", "op", "list.push")

	v, ok := c.Attr(slog.LevelWarn, "backend failure", "op")
	if !ok || v.String() != "list.push" {
		t.Fatalf("op attr = %v (found=%v)", v, ok)
	}
	v, ok = c.Attr(slog.LevelWarn, "backend failure", "component")
	if !ok || v.String() != "mycomp" {
		t.Fatalf("component attr = %v (found=%v)", v, ok)
	}
	v, ok = c.Attr(slog.LevelWarn, "backend failure", "partition")
	if !ok || v.String() != "PRIVATE/default" {
		t.Fatalf("partition attr = %v (found=%v)", v, ok)
	}
	if _, ok := c.Attr(slog.LevelWarn, "backend failure", "missing"); ok {
		t.Fatal("missing attr should not be found")
	}
	if _, ok := c.Attr(slog.LevelInfo, "nothing", "op"); ok {
		t.Fatal("missing record should not be found")
	}
}

func TestCaptureHandlerWithAttrs(t *testing.T) {
	h := &captureHandler{capture: &Capture{}}
	ch2, ok := h.WithAttrs([]slog.Attr{slog.String("k", "v")}).(*captureHandler)
	if !ok {
		t.Fatal("WithAttrs should return *captureHandler")
	}
	if len(ch2.attrs) != 1 {
		t.Errorf("expected 1 attr, got %d", len(ch2.attrs))
	}
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("captureHandler should always be enabled")
	}
}
