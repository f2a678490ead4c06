package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"alpha_executor/internal/config"
)

func TestSetup_WritesToRotatedFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "executor.log")

	l := Setup(config.LogConfig{Level: "DEBUG", File: file, Output: "file", MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1})
	l.Debug("engine started")
	S().Infow("trade filled", "symbol", "AAPL")
	Sync()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "engine started")
	assert.Contains(t, string(data), "trade filled")
	assert.Contains(t, string(data), "AAPL")
}

func TestSetup_LevelFiltersDebug(t *testing.T) {
	file := filepath.Join(t.TempDir(), "executor.log")

	l := Setup(config.LogConfig{Level: "WARN", File: file, Output: "file"})
	l.Info("not written")
	l.Warn("written")
	Sync()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "not written")
	assert.Contains(t, string(data), "written")
}

func TestSetup_UnknownLevelDefaultsToInfo(t *testing.T) {
	l := Setup(config.LogConfig{Level: "chatty", Output: "console"})
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}
