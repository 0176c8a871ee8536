package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_WritesJSONToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "server.log")

	logger, err := NewLogger(LoggerConfig{
		Level:      "info",
		OutputPath: logPath,
		Format:     "json",
	})
	require.NoError(t, err)

	logger.Info("receipt accepted")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"receipt accepted"`)
	assert.Contains(t, string(data), `"timestamp"`)
}

func TestNewLogger_UnknownLevelFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger(LoggerConfig{
		Level:      "chatty",
		OutputPath: "stdout",
		Format:     "console",
	})
	require.NoError(t, err)

	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNewLogger_DebugLevel(t *testing.T) {
	logger, err := NewLogger(LoggerConfig{
		Level:      "debug",
		OutputPath: "stderr",
		Format:     "json",
	})
	require.NoError(t, err)

	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}
