package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"alpha_executor/internal/retry"
)

// Trading modes.
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// secretVars are printed masked.
var secretVars = map[string]bool{
	"APCA_API_KEY_ID":     true,
	"APCA_API_SECRET_KEY": true,
	"TELEGRAM_BOT_TOKEN":  true,
	"WEBHOOK_SECRET":      true,
}

var requiredVars = []string{
	"APCA_API_KEY_ID",
	"APCA_API_SECRET_KEY",
	"APCA_API_BASE_URL",
}

// Config holds the process configuration read from .env and the environment.
type Config struct {
	APIKeyID     string
	APISecretKey string
	APIBaseURL   string
	TradingMode  string

	TelegramBotToken string
	TelegramChatID   int64

	DatabasePath  string
	BotsFile      string
	WebhookAddr   string
	WebhookSecret string

	// WebhookMaxParallel bounds how many bots one alert executes at once.
	WebhookMaxParallel int

	LogLevel      string
	LogFile       string
	LogOutput     string
	MaxLogSizeMB  int
	MaxLogBackups int
	MaxLogAgeDays int

	EntryFillAttempts int
	EntryFillDelay    time.Duration
	CloseFillAttempts int
	CloseFillDelay    time.Duration
	FlattenWait       time.Duration

	ReconcileInterval    time.Duration
	ReconcileGrace       time.Duration
	ReconcileConcurrency int

	// Warnings collects values that failed to parse and fell back to defaults.
	Warnings []string
}

// EngineConfig is what the execution engine needs; it carries no process-wide state.
type EngineConfig struct {
	Mode        string
	EntryPoll   retry.Policy
	ClosePoll   retry.Policy
	FlattenWait time.Duration
}

// BrokerConfig carries brokerage credentials for one gateway instance.
type BrokerConfig struct {
	APIKey    string
	APISecret string
	BaseURL   string
	Mode      string
}

// LogConfig feeds logger.Setup.
type LogConfig struct {
	Level      string
	File       string
	Output     string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Load reads a .env file when present, then the process environment.
// Missing required variables and an inconsistent trading mode are reported as errors.
func Load() (*Config, error) {
	r := &envReader{}
	if err := godotenv.Load(); err != nil {
		r.warnf("no .env file found, using system environment variables")
	}

	var missing []string
	for _, key := range requiredVars {
		if strings.TrimSpace(os.Getenv(key)) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}

	cfg := &Config{
		APIKeyID:     r.str("APCA_API_KEY_ID", ""),
		APISecretKey: r.str("APCA_API_SECRET_KEY", ""),
		APIBaseURL:   strings.TrimRight(r.str("APCA_API_BASE_URL", ""), "/"),
		TradingMode:  strings.ToLower(r.str("TRADING_MODE", ModePaper)),

		TelegramBotToken: r.str("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   r.int64("TELEGRAM_CHAT_ID", 0),

		DatabasePath:  r.str("DATABASE_PATH", "data/trades.db"),
		BotsFile:      r.str("BOTS_FILE", "bots.yaml"),
		WebhookAddr:   r.str("WEBHOOK_ADDR", ":8080"),
		WebhookSecret: r.str("WEBHOOK_SECRET", ""),

		WebhookMaxParallel: r.int("WEBHOOK_MAX_PARALLEL", 8),

		LogLevel:      strings.ToUpper(r.str("LOG_LEVEL", "INFO")),
		LogFile:       r.str("LOG_FILE", "executor.log"),
		LogOutput:     strings.ToLower(r.str("LOG_OUTPUT", "both")),
		MaxLogSizeMB:  r.int("MAX_LOG_SIZE_MB", 10),
		MaxLogBackups: r.int("MAX_LOG_BACKUPS", 5),
		MaxLogAgeDays: r.int("MAX_LOG_AGE_DAYS", 30),

		EntryFillAttempts: r.int("ENTRY_FILL_ATTEMPTS", 1),
		EntryFillDelay:    r.seconds("ENTRY_FILL_DELAY_SEC", 2*time.Second),
		CloseFillAttempts: r.int("CLOSE_FILL_ATTEMPTS", 3),
		CloseFillDelay:    r.seconds("CLOSE_FILL_DELAY_SEC", 2*time.Second),
		FlattenWait:       r.seconds("FLATTEN_WAIT_SEC", time.Second),

		ReconcileInterval:    r.seconds("RECONCILE_INTERVAL_SEC", 60*time.Second),
		ReconcileGrace:       r.seconds("RECONCILE_GRACE_SEC", 30*time.Second),
		ReconcileConcurrency: r.int("RECONCILE_CONCURRENCY", 4),
	}
	cfg.Warnings = r.warnings

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	var errs []error
	switch c.TradingMode {
	case ModePaper:
		if !strings.Contains(c.APIBaseURL, "paper") {
			errs = append(errs, fmt.Errorf("TRADING_MODE=paper but APCA_API_BASE_URL %q is not a paper endpoint", c.APIBaseURL))
		}
	case ModeLive:
		if strings.Contains(c.APIBaseURL, "paper") {
			errs = append(errs, fmt.Errorf("TRADING_MODE=live but APCA_API_BASE_URL %q is a paper endpoint", c.APIBaseURL))
		}
	default:
		errs = append(errs, fmt.Errorf("TRADING_MODE must be %q or %q, got %q", ModePaper, ModeLive, c.TradingMode))
	}
	switch c.LogOutput {
	case "both", "console", "file":
	default:
		errs = append(errs, fmt.Errorf("LOG_OUTPUT must be both, console or file, got %q", c.LogOutput))
	}
	if c.EntryFillAttempts < 1 || c.CloseFillAttempts < 1 {
		errs = append(errs, errors.New("ENTRY_FILL_ATTEMPTS and CLOSE_FILL_ATTEMPTS must be at least 1"))
	}
	if c.ReconcileConcurrency < 1 {
		errs = append(errs, errors.New("RECONCILE_CONCURRENCY must be at least 1"))
	}
	if c.WebhookMaxParallel < 1 {
		errs = append(errs, errors.New("WEBHOOK_MAX_PARALLEL must be at least 1"))
	}
	return errors.Join(errs...)
}

// TelegramEnabled reports whether both Telegram credentials are present.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != 0
}

func (c *Config) Engine() EngineConfig {
	return EngineConfig{
		Mode:        c.TradingMode,
		EntryPoll:   retry.Fixed(c.EntryFillAttempts, c.EntryFillDelay),
		ClosePoll:   retry.Fixed(c.CloseFillAttempts, c.CloseFillDelay),
		FlattenWait: c.FlattenWait,
	}
}

func (c *Config) Broker() BrokerConfig {
	return BrokerConfig{
		APIKey:    c.APIKeyID,
		APISecret: c.APISecretKey,
		BaseURL:   c.APIBaseURL,
		Mode:      c.TradingMode,
	}
}

func (c *Config) Log() LogConfig {
	return LogConfig{
		Level:      c.LogLevel,
		File:       c.LogFile,
		Output:     c.LogOutput,
		MaxSizeMB:  c.MaxLogSizeMB,
		MaxBackups: c.MaxLogBackups,
		MaxAgeDays: c.MaxLogAgeDays,
	}
}

// Describe lists the effective settings as KEY=value lines, secrets masked, sorted by key.
func (c *Config) Describe() []string {
	vals := map[string]string{
		"APCA_API_KEY_ID":        c.APIKeyID,
		"APCA_API_SECRET_KEY":    c.APISecretKey,
		"APCA_API_BASE_URL":      c.APIBaseURL,
		"TRADING_MODE":           c.TradingMode,
		"TELEGRAM_BOT_TOKEN":     c.TelegramBotToken,
		"TELEGRAM_CHAT_ID":       strconv.FormatInt(c.TelegramChatID, 10),
		"DATABASE_PATH":          c.DatabasePath,
		"BOTS_FILE":              c.BotsFile,
		"WEBHOOK_ADDR":           c.WebhookAddr,
		"WEBHOOK_SECRET":         c.WebhookSecret,
		"WEBHOOK_MAX_PARALLEL":   strconv.Itoa(c.WebhookMaxParallel),
		"LOG_LEVEL":              c.LogLevel,
		"LOG_FILE":               c.LogFile,
		"LOG_OUTPUT":             c.LogOutput,
		"ENTRY_FILL_ATTEMPTS":    strconv.Itoa(c.EntryFillAttempts),
		"ENTRY_FILL_DELAY_SEC":   c.EntryFillDelay.String(),
		"CLOSE_FILL_ATTEMPTS":    strconv.Itoa(c.CloseFillAttempts),
		"CLOSE_FILL_DELAY_SEC":   c.CloseFillDelay.String(),
		"FLATTEN_WAIT_SEC":       c.FlattenWait.String(),
		"RECONCILE_INTERVAL_SEC": c.ReconcileInterval.String(),
		"RECONCILE_GRACE_SEC":    c.ReconcileGrace.String(),
		"RECONCILE_CONCURRENCY":  strconv.Itoa(c.ReconcileConcurrency),
	}
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		v := vals[k]
		if secretVars[k] && v != "" {
			v = mask(v)
		}
		lines = append(lines, k+"="+v)
	}
	return lines
}
