package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Field keys shared by every component so log lines can be correlated per run.
const (
	KeyComponent  = "component"
	KeyRunID      = "runId"
	KeySource     = "source"
	KeyState      = "state"
	KeyDurationMs = "durationMs"
	KeyError      = "error"
)

type contextKey struct{}

// deferredHandler forwards to whatever handler Init installed last, so that
// package-level loggers created at import time follow later configuration.
type deferredHandler struct {
	target *atomic.Pointer[handlerBox]
	attrs  []slog.Attr
	groups []string
}

// handlerBox gives the atomic pointer one concrete type whatever the handler.
type handlerBox struct {
	h slog.Handler
}

func newDeferredHandler(h slog.Handler) *deferredHandler {
	target := &atomic.Pointer[handlerBox]{}
	target.Store(&handlerBox{h: h})
	return &deferredHandler{target: target}
}

func (h *deferredHandler) resolve() slog.Handler {
	handler := h.target.Load().h
	for _, g := range h.groups {
		handler = handler.WithGroup(g)
	}
	if len(h.attrs) > 0 {
		handler = handler.WithAttrs(h.attrs)
	}
	return handler
}

func (h *deferredHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.resolve().Enabled(ctx, level)
}

func (h *deferredHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.resolve().Handle(ctx, record)
}

func (h *deferredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &deferredHandler{
		target: h.target,
		attrs:  append(append([]slog.Attr{}, h.attrs...), attrs...),
		groups: append([]string{}, h.groups...),
	}
}

func (h *deferredHandler) WithGroup(name string) slog.Handler {
	return &deferredHandler{
		target: h.target,
		attrs:  append([]slog.Attr{}, h.attrs...),
		groups: append(append([]string{}, h.groups...), name),
	}
}

var (
	root          = newDeferredHandler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	defaultLogger = slog.New(root)
)

func init() {
	slog.SetDefault(defaultLogger)
}

// Init configures the process logger. Call once after config is loaded.
// format: "json" or "text" (default "text")
// level: "debug", "info", "warn", "error" (default "info")
// output: writer to log to (nil = os.Stderr)
func Init(format, level string, output io.Writer) {
	if output == nil {
		output = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	root.target.Store(&handlerBox{h: handler})
	slog.SetDefault(defaultLogger)
}

// L returns a logger tagged with the given component name.
func L(component string) *slog.Logger {
	return defaultLogger.With(slog.String(KeyComponent, component))
}

// WithRun returns a child logger carrying the run correlation fields.
func WithRun(logger *slog.Logger, runID, source string) *slog.Logger {
	return logger.With(
		slog.String(KeyRunID, runID),
		slog.String(KeySource, source),
	)
}

// NewContext returns a new context carrying the given logger.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext extracts the logger from context, falling back to the default.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return l
	}
	return defaultLogger
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
