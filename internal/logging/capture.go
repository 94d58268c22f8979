package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Capture collects slog records for test assertions.
// Use CaptureForTest to install it as the global handler.
type Capture struct {
	mu        sync.Mutex
	records   []slog.Record
	prev      *slog.Logger
	prevLevel slog.Level
}

// CaptureForTest installs a capturing handler as the global slog default
// and returns a Capture that can be queried for assertions.
// Call Restore() when done (typically via defer or t.Cleanup).
func CaptureForTest() *Capture {
	c := &Capture{
		prev:      slog.Default(),
		prevLevel: level.Level(),
	}
	slog.SetDefault(slog.New(&captureHandler{capture: c}))
	SetLevel(slog.LevelDebug) // capture everything
	return c
}

// Restore reinstates the previous global logger and log level.
func (c *Capture) Restore() {
	slog.SetDefault(c.prev)
	level.Set(c.prevLevel)
}

// Records returns a copy of all captured records.
func (c *Capture) Records() []slog.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]slog.Record, len(c.records))
	copy(out, c.records)
	return out
}

// Has returns true if any captured record matches the given level and
// contains msgSubstring in its message.
func (c *Capture) Has(level slog.Level, msgSubstring string) bool {
	return c.find(level, msgSubstring) != nil
}

// Attr returns the value of attribute key on the first record matching
// level and msgSubstring.
func (c *Capture) Attr(level slog.Level, msgSubstring, key string) (slog.Value, bool) {
	r := c.find(level, msgSubstring)
	if r == nil {
		return slog.Value{}, false
	}
	var (
		val   slog.Value
		found bool
	)
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == key {
			val, found = a.Value, true
			return false
		}
		return true
	})
	return val, found
}

func (c *Capture) find(level slog.Level, msgSubstring string) *slog.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.records {
		r := c.records[i]
		if r.Level == level && strings.Contains(r.Message, msgSubstring) {
			return &r
		}
	}
	return nil
}

// Count returns the number of captured records at the given level.
func (c *Capture) Count(level slog.Level) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.records {
		if r.Level == level {
			n++
		}
	}
	return n
}

// captureHandler is a slog.Handler that appends records to a Capture.
type captureHandler struct {
	capture *Capture
	attrs   []slog.Attr
}

func (h *captureHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	r = r.Clone()
	r.AddAttrs(h.attrs...)
	h.capture.mu.Lock()
	defer h.capture.mu.Unlock()
	h.capture.records = append(h.capture.records, r)
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &captureHandler{
		capture: h.capture,
		attrs:   append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *captureHandler) WithGroup(string) slog.Handler {
	return h
}
