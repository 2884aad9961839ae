package logger

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext(t *testing.T) {
	t.Run("Should return logger from context when present", func(t *testing.T) {
		expectedLogger := NewLogger(TestConfig())
		ctx := ContextWithLogger(t.Context(), expectedLogger)

		actualLogger := FromContext(ctx)

		require.NotNil(t, actualLogger)
		assert.Equal(t, expectedLogger, actualLogger)
	})

	t.Run("Should return default logger when no logger in context", func(t *testing.T) {
		logger := FromContext(t.Context())

		require.NotNil(t, logger)
		logger.Info("test message from default logger")
	})

	t.Run("Should return default logger when wrong type in context", func(t *testing.T) {
		ctx := context.WithValue(t.Context(), LoggerCtxKey, "not a logger")

		logger := FromContext(ctx)

		require.NotNil(t, logger)
		assert.Equal(t, GetDefault(), logger)
	})

	t.Run("Should return default logger when nil logger in context", func(t *testing.T) {
		ctx := context.WithValue(t.Context(), LoggerCtxKey, (Logger)(nil))

		logger := FromContext(ctx)

		require.NotNil(t, logger)
		assert.Equal(t, GetDefault(), logger)
	})
}

func TestLogLevel_ToCharmlogLevel(t *testing.T) {
	t.Run("Should convert all log levels to charm log levels correctly", func(t *testing.T) {
		testCases := []struct {
			level    LogLevel
			expected int
		}{
			{DebugLevel, -4},
			{InfoLevel, 0},
			{WarnLevel, 4},
			{ErrorLevel, 8},
			{DisabledLevel, 1000},
			{LogLevel("unknown"), 0},
		}
		for _, tc := range testCases {
			actual := tc.level.ToCharmlogLevel()
			assert.Equal(t, tc.expected, int(actual), "LogLevel %s", tc.level)
		}
	})
}

func TestNewLogger(t *testing.T) {
	t.Run("Should write text output at or above the configured level", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewLogger(&Config{Level: WarnLevel, Output: &buf, TimeFormat: "15:04:05"})

		log.Info("hidden")
		log.Warn("visible", "key", "value")

		out := buf.String()
		assert.NotContains(t, out, "hidden")
		assert.Contains(t, out, "visible")
		assert.Contains(t, out, "key")
	})

	t.Run("Should write JSON output when requested", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewLogger(&Config{Level: InfoLevel, Output: &buf, JSON: true})

		log.Info("json message", "n", 1)

		assert.True(t, strings.HasPrefix(strings.TrimSpace(buf.String()), "{"))
		assert.Contains(t, buf.String(), `"msg":"json message"`)
	})
}

func TestStream(t *testing.T) {
	t.Run("Should mirror records with their scope onto the stream", func(t *testing.T) {
		stream := NewStream(8)
		defer stream.Close()
		var mu sync.Mutex
		var got []Entry
		unsubscribe := stream.Subscribe(func(e Entry) {
			mu.Lock()
			got = append(got, e)
			mu.Unlock()
		})
		defer unsubscribe()
		base := NewLogger(&Config{Level: InfoLevel, Output: &bytes.Buffer{}, Stream: stream})
		ctx := ContextWithScope(ContextWithLogger(t.Context(), base), "exec-1")

		FromContext(ctx).With("module", "cal").Info("scoped", "n", 2)
		base.Debug("filtered by level")
		base.Info("unscoped")
		stream.Sync()

		mu.Lock()
		defer mu.Unlock()
		require.Len(t, got, 2)
		assert.Equal(t, "exec-1", got[0].Scope)
		assert.Equal(t, "scoped", got[0].Message)
		assert.Equal(t, []any{"module", "cal", "n", 2}, got[0].Keyvals)
		assert.Empty(t, got[1].Scope)
	})

	t.Run("Should stop delivering after unsubscribe", func(t *testing.T) {
		stream := NewStream(0)
		defer stream.Close()
		count := 0
		unsubscribe := stream.Subscribe(func(Entry) { count++ })
		stream.Publish(Entry{Message: "one"})
		stream.Sync()
		unsubscribe()
		stream.Publish(Entry{Message: "two"})
		stream.Sync()
		assert.Equal(t, 1, count)
	})

	t.Run("Should drop entries published after close", func(t *testing.T) {
		stream := NewStream(1)
		stream.Close()
		assert.NotPanics(t, func() {
			stream.Publish(Entry{Message: "late"})
			stream.Sync()
		})
	})
}
