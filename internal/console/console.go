// Package console renders node events as plain timestamped lines.
//
// Every line has the form
//
//	HH:MM:SS - event text[ key=value]...
//
// where the clock shows time elapsed since the handler was created rather
// than wall-clock time, so the output of nodes started together is directly
// comparable.
package console

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Handler is a slog.Handler that writes elapsed-time console lines.
type Handler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Level
	start  time.Time
	prefix string // open group path, "" at top level
	attrs  string // preformatted attrs from WithAttrs
}

// NewHandler creates a Handler writing to w. The elapsed clock starts now.
func NewHandler(w io.Writer, level slog.Level) *Handler {
	return &Handler{
		mu:    &sync.Mutex{},
		w:     w,
		level: level,
		start: time.Now(),
	}
}

// New returns a logger that writes elapsed-time lines to w at LevelInfo.
func New(w io.Writer) *slog.Logger {
	return slog.New(NewHandler(w, slog.LevelInfo))
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	at := r.Time
	if at.IsZero() {
		at = time.Now()
	}

	var b strings.Builder
	b.WriteString(formatElapsed(at.Sub(h.start)))
	b.WriteString(" - ")
	b.WriteString(r.Message)
	b.WriteString(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&b, h.prefix, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := h.clone()
	var b strings.Builder
	for _, a := range attrs {
		appendAttr(&b, c.prefix, a)
	}
	c.attrs += b.String()
	return c
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := h.clone()
	if c.prefix != "" {
		c.prefix += "." + name
	} else {
		c.prefix = name
	}
	return c
}

// clone shares the mutex and start time so derived handlers stay
// serialized against each other and keep one clock.
func (h *Handler) clone() *Handler {
	c := *h
	return &c
}

func appendAttr(b *strings.Builder, prefix string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	fmt.Fprintf(b, " %s=%v", key, a.Value)
}

// formatElapsed renders d as HH:MM:SS. The hour field widens past two
// digits on long uptimes instead of wrapping.
func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s/60%60, s%60)
}
