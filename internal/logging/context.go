// Package logging carries macro correlation ids through context.Context and
// injects them into slog records.
package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	macroKey ctxKey = iota
	segmentKey
	runIDKey
)

// WithMacro returns a context tagged with the macro name.
func WithMacro(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, macroKey, name)
}

// WithSegment returns a context tagged with a segment label such as
// "action[2]:scene_switch".
func WithSegment(ctx context.Context, label string) context.Context {
	return context.WithValue(ctx, segmentKey, label)
}

// WithRunID returns a context tagged with the id of one macro run.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// Macro extracts the macro name, or "".
func Macro(ctx context.Context) string {
	v, _ := ctx.Value(macroKey).(string)
	return v
}

// Segment extracts the segment label, or "".
func Segment(ctx context.Context) string {
	v, _ := ctx.Value(segmentKey).(string)
	return v
}

// RunID extracts the run id, or "".
func RunID(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey).(string)
	return v
}

func attrs(ctx context.Context) []slog.Attr {
	var out []slog.Attr
	if v := Macro(ctx); v != "" {
		out = append(out, slog.String("macro", v))
	}
	if v := Segment(ctx); v != "" {
		out = append(out, slog.String("segment", v))
	}
	if v := RunID(ctx); v != "" {
		out = append(out, slog.String("run_id", v))
	}
	return out
}

// LogWith returns logger enriched with the correlation ids found in ctx.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range attrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

// CorrelationHandler injects correlation ids from the record's context.
// Wrap the root handler with it and log through the *Context methods.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps inner.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		r.AddAttrs(attrs(ctx)...)
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(as []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(as)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
