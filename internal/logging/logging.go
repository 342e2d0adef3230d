// Package logging wraps log/slog with the dual file/stderr sink the rest
// of this module expects: every subsystem logs through a *slog.Logger with
// a "subsys" attribute, and warnings/errors (plus every record when debug
// is on) echo to stderr so an operator watching the console sees them even
// when file logging is quiet.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Handler is a slog.Handler that writes a single-line, space-joined record
// to an optional file sink and, for warnings/errors or when debug is on,
// to stderr.
type Handler struct {
	out   io.Writer
	inner slog.Handler
	mu    *sync.Mutex
	debug bool
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{out: h.out, inner: h.inner.WithAttrs(attrs), mu: h.mu, debug: h.debug}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{out: h.out, inner: h.inner.WithGroup(name), mu: h.mu, debug: h.debug}
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	parts := []string{r.Time.Format("2006/01/02 15:04:05"), r.Level.String() + ":", r.Message}
	r.Attrs(func(a slog.Attr) bool {
		parts = append(parts, a.Key+"="+a.Value.String())
		return true
	})
	line := strings.Join(parts, " ") + "\n"
	b := []byte(line)

	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	if h.out != nil {
		_, err = h.out.Write(b)
	}
	if h.debug || r.Level >= slog.LevelWarn {
		_, err = os.Stderr.Write(b)
	}
	return err
}

// SetDebug toggles stderr echo of sub-warning records at runtime without
// re-creating the logger.
func (h *Handler) SetDebug(debug bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.debug = debug
}

// New builds a top-level slog.Logger writing to file (may be nil to
// disable file logging) with the given minimum level.
func New(file io.Writer, level slog.Level, debug bool) (*slog.Logger, *Handler) {
	h := &Handler{
		out:   file,
		inner: slog.NewTextHandler(file, &slog.HandlerOptions{Level: level}),
		mu:    &sync.Mutex{},
		debug: debug,
	}
	return slog.New(h), h
}

// For returns a child logger tagged with the owning subsystem, the
// convention every package in this module follows (storage, dat, cpu,
// channel, ckd, console, ...).
func For(base *slog.Logger, subsys string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With("subsys", subsys)
}
