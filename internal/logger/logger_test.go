package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestModuleLoggerWritesFields(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelDebug, time.UTC).Module("activelearning").Module("sampler")

	log.Info("batch drawn", Int("size", 16), Float64("epsilon", 0.123456), Error(errors.New("boom")))

	out := buf.String()
	assert.Contains(t, out, "module=activelearning.sampler")
	assert.Contains(t, out, "size=16")
	assert.Contains(t, out, "epsilon=0.123")
	assert.Contains(t, out, "error=boom")
	assert.NotContains(t, out, "time=")
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		level   LogLevel
		logFn   func(Logger)
		written bool
	}{
		{"debug suppressed at info", LogLevelInfo, func(l Logger) { l.Debug("x") }, false},
		{"info written at info", LogLevelInfo, func(l Logger) { l.Info("x") }, true},
		{"trace suppressed at debug", LogLevelDebug, func(l Logger) { l.Trace("x") }, false},
		{"trace written at trace", LogLevelTrace, func(l Logger) { l.Trace("x") }, true},
		{"error written at error", LogLevelError, func(l Logger) { l.Log(LogLevelError, "x") }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			buf := &bytes.Buffer{}
			tt.logFn(NewSlogLogger(buf, tt.level, time.UTC))
			assert.Equal(t, tt.written, buf.Len() > 0)
		})
	}
}

func TestTraceLevelLabel(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	NewSlogLogger(buf, LogLevelTrace, time.UTC).Trace("deep")
	assert.Contains(t, buf.String(), "level=TRACE")
}

func TestWithContextAddsTraceID(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelInfo, time.UTC)

	log.WithContext(WithTraceID(context.Background(), "abc-123")).Info("hello")
	assert.Contains(t, buf.String(), "trace_id=abc-123")

	buf.Reset()
	log.WithContext(context.Background()).Info("hello")
	assert.NotContains(t, buf.String(), "trace_id")
}

func TestWithDoesNotLeakIntoParent(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	parent := NewSlogLogger(buf, LogLevelInfo, time.UTC)
	_ = parent.With(String("session", "s1"))

	parent.Info("plain")
	assert.NotContains(t, buf.String(), "session=")
}

func TestCentralLoggerFileOutput(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "run.log")
	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "debug",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: true, Path: path},
		ModuleLevels: map[string]string{"datastore": "warn"},
	})
	require.NoError(t, err)

	cl.Module("session").Debug("started", String("id", "s1"))
	cl.Module("datastore").Info("suppressed")
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	assert.Equal(t, "session", rec["module"])
	assert.Equal(t, "s1", rec["id"])
}

func TestNewCentralLoggerRejectsBadTimezone(t *testing.T) {
	t.Parallel()

	_, err := NewCentralLogger(&LoggingConfig{Timezone: "Mars/Olympus"})
	require.Error(t, err)

	_, err = NewCentralLogger(nil)
	require.Error(t, err)
}

func TestGormLoggerAdapterTrace(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	adapter := NewGormLoggerAdapter(NewSlogLogger(buf, LogLevelInfo, time.UTC), time.Nanosecond)

	adapter.Trace(context.Background(), time.Now().Add(-time.Second),
		func() (string, int64) { return "SELECT 1", 1 }, nil)
	assert.Contains(t, buf.String(), "slow query")

	buf.Reset()
	adapter.Trace(context.Background(), time.Now(),
		func() (string, int64) { return "SELECT 1", 0 }, gorm.ErrRecordNotFound)
	assert.NotContains(t, buf.String(), "query error")
}
