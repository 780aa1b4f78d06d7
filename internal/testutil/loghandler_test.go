package testutil

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountingHandler(t *testing.T) {
	h := NewCountingHandler()
	log := h.Logger()

	log.Info("one")
	log.Warn("two")
	log.Warn("three")
	log.Error("four")

	assert.Equal(t, 1, h.Count(slog.LevelInfo))
	assert.Equal(t, 2, h.Count(slog.LevelWarn))
	assert.Equal(t, 1, h.Count(slog.LevelError))
	assert.Equal(t, []string{"two", "three"}, h.Warnings())
}

func TestCountingHandlerReset(t *testing.T) {
	h := NewCountingHandler()
	h.Logger().Warn("stale")
	h.Reset()

	assert.Equal(t, 0, h.Count(slog.LevelWarn))
	assert.Empty(t, h.Warnings())
}

func TestCountingHandlerGroupsAndAttrs(t *testing.T) {
	h := NewCountingHandler()
	log := h.Logger().With("det", 1).WithGroup("calib")

	log.Warn("still counted")
	assert.Equal(t, 1, h.Count(slog.LevelWarn))
}
