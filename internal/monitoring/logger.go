package monitoring

import (
	"io"
	"log/slog"
	"time"
)

// NewLogger builds the process-wide JSON logger. main installs it with
// slog.SetDefault so every package logs through the same handler.
func NewLogger(out io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{
					Key:   "timestamp",
					Value: slog.StringValue(a.Value.Time().Format(time.RFC3339)),
				}
			}
			return a
		},
	})

	return slog.New(handler)
}
