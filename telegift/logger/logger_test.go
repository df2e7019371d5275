package logger

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerLevel(t *testing.T) {
	t.Run("default admits debug", func(t *testing.T) {
		h := NewHandler("Test")
		assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))
	})

	t.Run("configured level gates lower records", func(t *testing.T) {
		h := NewHandlerWithOptions("Test", &slog.HandlerOptions{Level: slog.LevelWarn})
		assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
		assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
		assert.True(t, h.Enabled(context.Background(), slog.LevelWarn))
		assert.True(t, h.Enabled(context.Background(), slog.LevelError))
	})

	t.Run("nil level in options falls back to debug", func(t *testing.T) {
		h := NewHandlerWithOptions("Test", &slog.HandlerOptions{AddSource: true})
		assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))
	})
}

// captureHandler records every slog record it receives.
type captureHandler struct {
	records []slog.Record
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.records = append(h.records, r)
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func TestLogQuery(t *testing.T) {
	capture := &captureHandler{}
	prev := slog.Default()
	slog.SetDefault(slog.New(capture))
	t.Cleanup(func() { slog.SetDefault(prev) })

	LogQuery("SELECT 1", time.Millisecond, nil, slog.String("operation", "query"))
	LogQuery("UPDATE gifts", time.Millisecond, errors.New("boom"))

	require.Len(t, capture.records, 2)
	assert.Equal(t, slog.LevelDebug, capture.records[0].Level)
	assert.Equal(t, slog.LevelError, capture.records[1].Level)

	attrs := map[string]string{}
	capture.records[0].Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.String()
		return true
	})
	assert.Equal(t, "db", attrs["type"])
	assert.Equal(t, "SELECT 1", attrs["query"])
	assert.Equal(t, "query", attrs["operation"])
}
