package testutil

import (
	"context"
	"log/slog"
	"sync"
)

// CountingHandler is a slog.Handler that counts records per level and
// keeps their messages. Warnings in the calibration core are part of the
// contract ("exactly one warning when flats are skipped"), so tests assert
// on counts rather than grepping output.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type CountingHandler struct {
	mu       sync.Mutex
	counts   map[slog.Level]int
	messages map[slog.Level][]string
}

// NewCountingHandler creates an empty handler.
func NewCountingHandler() *CountingHandler {
	return &CountingHandler{
		counts:   make(map[slog.Level]int),
		messages: make(map[slog.Level][]string),
	}
}

// Logger returns a slog.Logger writing into the handler.
func (h *CountingHandler) Logger() *slog.Logger {
	return slog.New(h)
}

// Enabled reports true for every level; counting is the whole point.
func (h *CountingHandler) Enabled(context.Context, slog.Level) bool { return true }

// Handle records the entry.
func (h *CountingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counts[r.Level]++
	h.messages[r.Level] = append(h.messages[r.Level], r.Message)
	return nil
}

// WithAttrs returns the handler unchanged; attributes are not counted.
func (h *CountingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

// WithGroup returns the handler unchanged.
func (h *CountingHandler) WithGroup(string) slog.Handler { return h }

// Count returns how many records were logged at level.
func (h *CountingHandler) Count(level slog.Level) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[level]
}

// Warnings returns the warning-level messages in log order.
func (h *CountingHandler) Warnings() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.messages[slog.LevelWarn]))
	copy(out, h.messages[slog.LevelWarn])
	return out
}

// Reset clears all counts and messages.
func (h *CountingHandler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counts = make(map[slog.Level]int)
	h.messages = make(map[slog.Level][]string)
}
