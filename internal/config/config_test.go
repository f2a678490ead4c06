package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var optionalVars = []string{
	"TRADING_MODE", "TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", "DATABASE_PATH", "BOTS_FILE",
	"WEBHOOK_ADDR", "WEBHOOK_SECRET", "WEBHOOK_MAX_PARALLEL", "LOG_LEVEL", "LOG_FILE", "LOG_OUTPUT",
	"MAX_LOG_SIZE_MB", "MAX_LOG_BACKUPS", "MAX_LOG_AGE_DAYS",
	"ENTRY_FILL_ATTEMPTS", "ENTRY_FILL_DELAY_SEC", "CLOSE_FILL_ATTEMPTS", "CLOSE_FILL_DELAY_SEC",
	"FLATTEN_WAIT_SEC", "RECONCILE_INTERVAL_SEC", "RECONCILE_GRACE_SEC", "RECONCILE_CONCURRENCY",
}

// unset clears a variable for the duration of the test.
func unset(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("APCA_API_KEY_ID", "test_key_1234")
	t.Setenv("APCA_API_SECRET_KEY", "test_secret_abcd")
	t.Setenv("APCA_API_BASE_URL", "https://paper-api.alpaca.markets/")
	for _, k := range optionalVars {
		unset(t, k)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://paper-api.alpaca.markets", cfg.APIBaseURL)
	assert.Equal(t, ModePaper, cfg.TradingMode)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "both", cfg.LogOutput)
	assert.Equal(t, "data/trades.db", cfg.DatabasePath)
	assert.Equal(t, "bots.yaml", cfg.BotsFile)
	assert.Equal(t, ":8080", cfg.WebhookAddr)
	assert.Equal(t, 1, cfg.EntryFillAttempts)
	assert.Equal(t, 2*time.Second, cfg.EntryFillDelay)
	assert.Equal(t, 3, cfg.CloseFillAttempts)
	assert.Equal(t, time.Second, cfg.FlattenWait)
	assert.Equal(t, time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, 4, cfg.ReconcileConcurrency)
	assert.Equal(t, 8, cfg.WebhookMaxParallel)
	assert.False(t, cfg.TelegramEnabled())

	eng := cfg.Engine()
	assert.Equal(t, 1, eng.EntryPoll.MaxAttempts)
	assert.Equal(t, 3, eng.ClosePoll.MaxAttempts)
	assert.Equal(t, 2*time.Second, eng.ClosePoll.Delay)

	b := cfg.Broker()
	assert.Equal(t, "test_key_1234", b.APIKey)
	assert.Equal(t, ModePaper, b.Mode)
}

func TestLoadConfig_MissingRequired(t *testing.T) {
	setRequired(t)
	unset(t, "APCA_API_SECRET_KEY")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APCA_API_SECRET_KEY")
}

func TestLoadConfig_ModeMismatch(t *testing.T) {
	setRequired(t)
	t.Setenv("TRADING_MODE", "live")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "paper endpoint")

	t.Setenv("TRADING_MODE", "paper")
	t.Setenv("APCA_API_BASE_URL", "https://api.alpaca.markets")
	_, err = Load()
	require.Error(t, err)
}

func TestLoadConfig_InvalidValuesFallBack(t *testing.T) {
	setRequired(t)
	t.Setenv("CLOSE_FILL_ATTEMPTS", "three")
	t.Setenv("ENTRY_FILL_DELAY_SEC", "0.5")
	t.Setenv("TELEGRAM_CHAT_ID", "12345")
	t.Setenv("TELEGRAM_BOT_TOKEN", "bot-token")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.CloseFillAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.EntryFillDelay)
	assert.True(t, cfg.TelegramEnabled())
	assert.NotEmpty(t, cfg.Warnings)
}

func TestLoadConfig_WebhookParallelismIsIndependent(t *testing.T) {
	setRequired(t)
	t.Setenv("WEBHOOK_MAX_PARALLEL", "16")
	t.Setenv("RECONCILE_CONCURRENCY", "2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.WebhookMaxParallel)
	assert.Equal(t, 2, cfg.ReconcileConcurrency)

	t.Setenv("WEBHOOK_MAX_PARALLEL", "0")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WEBHOOK_MAX_PARALLEL")
}

func TestDescribe_MasksSecrets(t *testing.T) {
	setRequired(t)
	cfg, err := Load()
	require.NoError(t, err)

	lines := cfg.Describe()
	assert.Contains(t, lines, "APCA_API_KEY_ID=***1234")
	assert.Contains(t, lines, "APCA_API_SECRET_KEY=***abcd")
	assert.Contains(t, lines, "TRADING_MODE=paper")
	for _, l := range lines {
		assert.NotContains(t, l, "test_secret")
	}
}
