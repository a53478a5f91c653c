package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func writeLogConfig(t *testing.T, dir, logFile string) string {
	t.Helper()
	cfg := map[string]any{
		"loggers": map[string]any{
			"suivi": map[string]any{
				"level":       "debug",
				"outputPaths": []string{logFile},
				"logRotation": map[string]any{"enabled": false},
				"sampling":    map[string]any{"initial": 0},
			},
		},
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(dir, "log.config.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestManagerWritesNamedLoggersAndMasksSecrets(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "suivi.log")
	cfgPath := writeLogConfig(t, dir, logFile)

	lm, err := NewLoggerManager([]string{cfgPath, filepath.Join(dir, "missing.json")})
	require.NoError(t, err)

	auth := lm.GetLogger("suivi.auth")
	auth.With(zap.String("session_id", "abc")).Info("Login succeeded",
		zap.String("username", "alice"),
		zap.String("password", "hunter2"))
	require.NoError(t, lm.Close())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "suivi.auth", entry["logger"])
	assert.Equal(t, "alice", entry["username"])
	assert.Equal(t, "****", entry["password"])
	assert.Equal(t, "****", entry["session_id"])
	assert.NotContains(t, string(data), "hunter2")
}

func TestSanitizerLeavesInputUntouched(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := NewSanitizerCore(core, []string{"Token"}, "xx")

	fields := []zapcore.Field{zap.String("token", "secret"), zap.Int("n", 1)}
	require.NoError(t, s.Write(zapcore.Entry{Message: "m"}, fields))

	assert.Equal(t, "secret", fields[0].String)
	got := logs.All()[0].ContextMap()
	assert.Equal(t, "xx", got["token"])
	assert.EqualValues(t, 1, got["n"])
}

func TestAsyncCoreSyncFlushesAndKeepsWithFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	async := NewAsyncCore(core, 16, 4, 0)
	defer async.Close()

	l := zap.New(async).With(zap.String("component", "api"))
	l.Info("one")
	l.Info("two")
	require.NoError(t, l.Sync())

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "api", logs.All()[0].ContextMap()["component"])

	require.NoError(t, async.Close())
	require.NoError(t, async.Close())
}

func TestZapWriterCapsLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	w := NewZapWriter(zap.New(core), zapcore.FatalLevel, "http")

	n, err := w.Write([]byte("http: TLS handshake error\n"))
	require.NoError(t, err)
	assert.Equal(t, 26, n)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.ErrorLevel, logs.All()[0].Level)
	assert.Equal(t, "http: TLS handshake error", logs.All()[0].Message)
}
