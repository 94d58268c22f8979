package shell

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"nestkv/internal/outcome"
	"nestkv/internal/storage"
)

func printf(out io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(out, format, args...)
}

// report prints the success value of r with format, or the error.
func report[T any](out io.Writer, r outcome.Result[T], format func(T) string) bool {
	v, err := r.Value()
	if err != nil {
		printf(out, "Error: %v\n", err)
		return false
	}
	printf(out, "%s\n", format(v))
	return true
}

// respond is report for the result of the running command; an error marks
// the command as failed.
func respond[T any](c CommandContext, r outcome.Result[T], format func(T) string) {
	if !report(c.Out, r, format) {
		c.Session.markFailed()
	}
}

// fail prints an error for the running command and marks it as failed.
func (c CommandContext) fail(format string, args ...any) {
	printf(c.Out, "Error: "+format, args...)
	c.Session.markFailed()
}

func fmtOK(struct{}) string { return "OK" }

func fmtString(s string) string { return strconv.Quote(s) }

func fmtOptional(s *string) string {
	if s == nil {
		return "(nil)"
	}
	return strconv.Quote(*s)
}

func fmtNumber(n float64) string { return storage.FormatNumber(n) }

func fmtInt(n int) string { return strconv.Itoa(n) }

func fmtBool(b bool) string { return strconv.FormatBool(b) }

func fmtList(values []string) string {
	if len(values) == 0 {
		return "(empty)"
	}
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteByte('\n')
		}
		_, _ = fmt.Fprintf(&b, "%d) %s", i+1, strconv.Quote(v))
	}
	return b.String()
}

func fmtEntries(entries []storage.Entry) string {
	if len(entries) == 0 {
		return "(empty)"
	}
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		_, _ = fmt.Fprintf(&b, "%s = %s", e.Key, strconv.Quote(e.Value))
	}
	return b.String()
}
