package logger_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madello/paarvai/internal/logger"
)

func TestSlogLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewSlogLogger(&buf, logger.LogLevelInfo, time.UTC)

	log.Debug("hidden")
	log.Info("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "level=INFO")
	assert.Contains(t, out, "msg=shown")
	assert.NotContains(t, out, "time=", "console output should not carry timestamps")
}

func TestSlogLoggerTraceLevel(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewSlogLogger(&buf, logger.LogLevelTrace, time.UTC)

	log.Trace("deep")

	assert.Contains(t, buf.String(), "level=TRACE")
}

func TestModuleAndFields(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewSlogLogger(&buf, logger.LogLevelDebug, time.UTC).
		Module("feed").
		Module("service").
		With(logger.String("store", "primary"))

	log.Info("record ingested",
		logger.String("id", "DET-1001"),
		logger.Float64("confidence", 87.12345),
		logger.Duration("took", 1234567891*time.Nanosecond),
		logger.Error(errors.New("boom")),
		logger.Bool("replaced", false))

	out := buf.String()
	assert.Contains(t, out, "module=feed.service")
	assert.Contains(t, out, "store=primary")
	assert.Contains(t, out, "id=DET-1001")
	assert.Contains(t, out, "confidence=87.123")
	assert.Contains(t, out, "took=1.235s")
	assert.Contains(t, out, "error=boom")
	assert.Contains(t, out, "replaced=false")
}

func TestWithDoesNotLeakBetweenChildren(t *testing.T) {
	var buf bytes.Buffer
	base := logger.NewSlogLogger(&buf, logger.LogLevelInfo, time.UTC)

	a := base.With(logger.String("child", "a"))
	_ = base.With(logger.String("child", "b"))

	a.Info("from a")

	assert.Contains(t, buf.String(), "child=a")
	assert.NotContains(t, buf.String(), "child=b")
}

func TestWithContextAddsTraceID(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewSlogLogger(&buf, logger.LogLevelInfo, time.UTC)

	ctx := logger.WithTraceID(t.Context(), "req-42")
	log.WithContext(ctx).Info("handled")
	log.WithContext(t.Context()).Info("untraced")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), "trace_id=req-42")
	assert.NotContains(t, string(lines[1]), "trace_id")
}

func TestCentralLoggerWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "paarvai.log")

	central, err := logger.NewCentralLogger(&logger.LoggingConfig{
		DefaultLevel: "info",
		Timezone:     "UTC",
		Console:      &logger.ConsoleOutput{Enabled: false},
		FileOutput:   &logger.FileOutput{Enabled: true, Path: path, Level: "debug"},
		ModuleLevels: map[string]string{"simulator": "debug"},
	})
	require.NoError(t, err)

	central.Module("feed").Debug("filtered by module level")
	central.Module("simulator").Debug("tick", logger.Int("n", 3))
	require.NoError(t, central.Close())
	require.NoError(t, central.Close(), "close should be idempotent")

	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	var entries []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		entries = append(entries, entry)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, entries, 1)
	assert.Equal(t, "tick", entries[0]["msg"])
	assert.Equal(t, "simulator", entries[0]["module"])
	assert.InDelta(t, 3, entries[0]["n"], 0)
}

func TestNewCentralLoggerRejectsBadTimezone(t *testing.T) {
	_, err := logger.NewCentralLogger(&logger.LoggingConfig{Timezone: "Mars/Olympus"})
	require.Error(t, err)

	_, err = logger.NewCentralLogger(nil)
	require.Error(t, err)
}

func TestGlobalFallback(t *testing.T) {
	assert.NotNil(t, logger.Global())
	assert.NotNil(t, logger.Global().Module("test"))
}
