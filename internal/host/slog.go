package host

import (
	"context"
	"log/slog"
	"strings"
)

// SlogHandler forwards records at or above Level to a Host's log, and every
// record to an inner handler.
type SlogHandler struct {
	inner slog.Handler
	host  Host
	level slog.Leveler
	attrs []slog.Attr
}

// NewSlogHandler wraps inner. A nil level forwards warnings and errors.
func NewSlogHandler(inner slog.Handler, h Host, level slog.Leveler) *SlogHandler {
	if level == nil {
		level = slog.LevelWarn
	}
	return &SlogHandler{inner: inner, host: h, level: level}
}

func (h *SlogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level() || h.inner.Enabled(ctx, level)
}

func (h *SlogHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.level.Level() {
		h.host.Log(r.Level, h.format(r))
	}
	if h.inner.Enabled(ctx, r.Level) {
		return h.inner.Handle(ctx, r)
	}
	return nil
}

func (h *SlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.inner = h.inner.WithAttrs(attrs)
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

func (h *SlogHandler) WithGroup(name string) slog.Handler {
	next := *h
	next.inner = h.inner.WithGroup(name)
	return &next
}

// format renders "msg key=value ..." for the host log.
func (h *SlogHandler) format(r slog.Record) string {
	var b strings.Builder
	b.WriteString(r.Message)
	write := func(a slog.Attr) bool {
		b.WriteByte(' ')
		b.WriteString(a.Key)
		b.WriteByte('=')
		b.WriteString(a.Value.String())
		return true
	}
	for _, a := range h.attrs {
		write(a)
	}
	r.Attrs(write)
	return b.String()
}
