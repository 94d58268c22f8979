package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

var level = new(slog.LevelVar) // supports runtime changes via SetLevel

// Init configures the global slog logger writing to stderr. Call once at
// startup. levelStr: "debug", "info", "warn", "error" (default: "info").
// format: "text" or "json" (default: "text").
func Init(levelStr, format string) {
	InitWriter(os.Stderr, levelStr, format)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, levelStr, format string) {
	l, err := ParseLevel(levelStr)
	if err != nil {
		l = slog.LevelInfo
	}
	level.Set(l)

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// For returns a logger tagged with the given component name.
// The returned logger dynamically delegates to slog.Default(), so runtime
// changes to the global default (e.g., via CaptureForTest) take effect
// immediately, even for package-level logger variables.
func For(component string) *slog.Logger {
	return slog.New(&dynamicHandler{component: component})
}

// SetLevel changes the log level at runtime. Useful in tests.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// ParseLevel maps a level name to a slog.Level. The empty string is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// dynamicHandler delegates each log call to slog.Default().Handler(),
// prepending a "component" attribute plus any attributes bound via With.
type dynamicHandler struct {
	component string
	attrs     []slog.Attr
}

func (h *dynamicHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return slog.Default().Handler().Enabled(ctx, l)
}

func (h *dynamicHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(slog.String("component", h.component))
	r.AddAttrs(h.attrs...)
	return slog.Default().Handler().Handle(ctx, r)
}

func (h *dynamicHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &dynamicHandler{component: h.component, attrs: merged}
}

// WithGroup is not supported; groups are flattened into the record.
func (h *dynamicHandler) WithGroup(name string) slog.Handler {
	return h
}
