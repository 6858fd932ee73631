// Package logger builds the process-wide slog logger.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
)

// New returns a tint logger writing to w at level. Timestamps are RFC3339 in
// UTC with millisecond precision and empty string attributes are dropped.
func New(w io.Writer, level slog.Level, noColor bool) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:   level,
		NoColor: noColor,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				a.Value = slog.StringValue(formatRFC3339Millis(a.Value.Time()))
			}
			if s, ok := a.Value.Any().(string); ok && s == "" {
				return slog.Attr{}
			}
			return a
		},
	}))
}

// Level maps the verbose flag onto base.
func Level(verbose bool, base slog.Level) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return base
}

func formatRFC3339Millis(t time.Time) string {
	t = t.UTC()
	base := t.Format("2006-01-02T15:04:05")
	ms := t.Nanosecond() / 1_000_000
	return fmt.Sprintf("%s.%03dZ", base, ms)
}
