package logger

import (
	"bytes"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLogger_New(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := New(&buf, slog.LevelInfo, true)

	log.Debug("hidden")
	log.Info("pipeline: question resolved", "state", "succeeded", "empty", "")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "pipeline: question resolved")
	require.Contains(t, out, "state=succeeded")
	require.NotContains(t, out, "empty=")
	require.Regexp(t, regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z `), out)
}

func TestLogger_Level(t *testing.T) {
	t.Parallel()

	require.Equal(t, slog.LevelDebug, Level(true, slog.LevelWarn))
	require.Equal(t, slog.LevelWarn, Level(false, slog.LevelWarn))
}

func TestLogger_FormatRFC3339Millis(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 5, 14, 7, 9, 123_456_789, time.FixedZone("BRT", -3*60*60))
	require.Equal(t, "2024-03-05T17:07:09.123Z", formatRFC3339Millis(ts))
}
