package logger

import (
	"context"
	"errors"
	"log/slog"

	"github.com/getsentry/sentry-go"
)

// SentryHandler wraps an slog.Handler and reports error records to Sentry.
// Logger attributes and groups become Sentry extras, so a report carries
// the vote_id and chat_id the record was logged with.
type SentryHandler struct {
	handler slog.Handler
	attrs   []slog.Attr
	groups  []string
}

func NewSentryHandler(handler slog.Handler) *SentryHandler {
	return &SentryHandler{handler: handler}
}

func (h *SentryHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *SentryHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		h.capture(ctx, r)
	}
	return h.handler.Handle(ctx, r)
}

func (h *SentryHandler) capture(ctx context.Context, r slog.Record) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}

	var captured error
	extras := make(map[string]any)
	for _, a := range h.attrs {
		extras[a.Key] = a.Value.Any()
	}
	prefix := groupPrefix(h.groups)
	r.Attrs(func(a slog.Attr) bool {
		if err, ok := a.Value.Any().(error); ok && a.Key == "error" {
			captured = err
			return true
		}
		extras[prefix+a.Key] = a.Value.Any()
		return true
	})

	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetExtras(extras)
		scope.SetTag("log.message", r.Message)
		if captured == nil {
			captured = errors.New(r.Message)
		}
		hub.CaptureException(captured)
	})
}

func groupPrefix(groups []string) string {
	var p string
	for _, g := range groups {
		p += g + "."
	}
	return p
}

func (h *SentryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefixed := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	prefixed = append(prefixed, h.attrs...)
	prefix := groupPrefix(h.groups)
	for _, a := range attrs {
		prefixed = append(prefixed, slog.Attr{Key: prefix + a.Key, Value: a.Value})
	}
	return &SentryHandler{handler: h.handler.WithAttrs(attrs), attrs: prefixed, groups: h.groups}
}

func (h *SentryHandler) WithGroup(name string) slog.Handler {
	groups := append(append([]string(nil), h.groups...), name)
	return &SentryHandler{handler: h.handler.WithGroup(name), attrs: h.attrs, groups: groups}
}
