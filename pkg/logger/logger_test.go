package logger

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(buf *bytes.Buffer, level LogLevel) Logger {
	return NewLogger(&Config{
		Level:      level,
		Output:     buf,
		TimeFormat: "15:04:05",
	})
}

func TestFromContext(t *testing.T) {
	t.Run("Should round-trip a logger through the context", func(t *testing.T) {
		log := NewLogger(TestConfig())
		ctx := ContextWithLogger(t.Context(), log)
		assert.Equal(t, log, FromContext(ctx))
	})

	t.Run("Should fall back to a usable logger when the context carries none", func(t *testing.T) {
		log := FromContext(t.Context())
		require.NotNil(t, log)
		log.Info("fallback path")
	})

	t.Run("Should fall back when the context value is not a logger", func(t *testing.T) {
		ctx := context.WithValue(t.Context(), LoggerCtxKey, 42)
		log := FromContext(ctx)
		require.NotNil(t, log)
		log.Info("fallback path")
	})
}

func TestNewLogger(t *testing.T) {
	t.Run("Should write messages to the configured output", func(t *testing.T) {
		var buf bytes.Buffer
		log := newBufferLogger(&buf, InfoLevel)
		log.Info("indexing complete", "chunks", 42)
		assert.Contains(t, buf.String(), "indexing complete")
		assert.Contains(t, buf.String(), "42")
	})

	t.Run("Should emit structured JSON when configured", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewLogger(&Config{Level: InfoLevel, Output: &buf, JSON: true})
		log.Info("job submitted", "job_id", "abc")
		output := buf.String()
		assert.Contains(t, output, `"job submitted"`)
		assert.Contains(t, output, "job_id")
	})

	t.Run("Should not panic with a nil config", func(t *testing.T) {
		log := NewLogger(nil)
		require.NotNil(t, log)
	})
}

func TestLogger_With(t *testing.T) {
	t.Run("Should carry bound fields on every message", func(t *testing.T) {
		var buf bytes.Buffer
		log := newBufferLogger(&buf, InfoLevel).With("job_id", "j-1")
		log.Info("stage done")
		log.Info("next stage")
		output := buf.String()
		assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("j-1")))
		assert.Contains(t, output, "stage done")
	})
}

func TestLogLevels(t *testing.T) {
	t.Run("Should filter below the configured level", func(t *testing.T) {
		var buf bytes.Buffer
		log := newBufferLogger(&buf, WarnLevel)
		log.Debug("debug line")
		log.Info("info line")
		log.Warn("warn line")
		log.Error("error line")
		output := buf.String()
		assert.NotContains(t, output, "debug line")
		assert.NotContains(t, output, "info line")
		assert.Contains(t, output, "warn line")
		assert.Contains(t, output, "error line")
	})

	t.Run("Should silence everything at the disabled level", func(t *testing.T) {
		var buf bytes.Buffer
		log := newBufferLogger(&buf, DisabledLevel)
		log.Error("should not appear")
		assert.Empty(t, buf.String())
	})

	t.Run("Should map level names onto charm levels", func(t *testing.T) {
		cases := []struct {
			level LogLevel
			want  int
		}{
			{DebugLevel, -4},
			{InfoLevel, 0},
			{WarnLevel, 4},
			{ErrorLevel, 8},
			{LogLevel("bogus"), 0},
		}
		for _, tc := range cases {
			assert.Equal(t, tc.want, int(tc.level.ToCharmlogLevel()), "level %s", tc.level)
		}
	})
}

func TestConfigDefaults(t *testing.T) {
	t.Run("Should default to human-readable info logging on stdout", func(t *testing.T) {
		cfg := DefaultConfig()
		assert.Equal(t, InfoLevel, cfg.Level)
		assert.Equal(t, os.Stdout, cfg.Output)
		assert.False(t, cfg.JSON)
	})

	t.Run("Should discard output under the test config", func(t *testing.T) {
		cfg := TestConfig()
		assert.Equal(t, DisabledLevel, cfg.Level)
		assert.Equal(t, io.Discard, cfg.Output)
	})
}
