package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/lmittmann/tint"
)

type Logger = *slog.Logger

type Options struct {
	Level     slog.Level
	SentryDSN string
	// Output defaults to stderr.
	Output io.Writer
}

// New builds the colored console logger. With a Sentry DSN, error records
// are also reported to Sentry; the returned flush must run before exit.
func New(opts Options) (Logger, func(), error) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	var handler slog.Handler = tint.NewHandler(out, &tint.Options{
		Level:      opts.Level,
		TimeFormat: time.TimeOnly,
	})

	flush := func() {}
	if opts.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              opts.SentryDSN,
			AttachStacktrace: true,
		}); err != nil {
			return nil, nil, fmt.Errorf("init sentry: %w", err)
		}
		handler = NewSentryHandler(handler)
		flush = func() { sentry.Flush(2 * time.Second) }
	}
	return slog.New(handler), flush, nil
}

// ParseLevel accepts debug, info, warn and error; anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
