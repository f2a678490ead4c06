// Package bots loads bot definitions from a YAML file and keeps the bot table in step
// with it while the process runs.
package bots

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"alpha_executor/internal/models"
)

// Definition is one entry under `bots:` in the definitions file.
type Definition struct {
	UserID           int64  `mapstructure:"user_id"`
	Symbol           string `mapstructure:"symbol"`
	Timeframe        string `mapstructure:"timeframe"`
	PositionSize     string `mapstructure:"position_size"`
	Sizing           string `mapstructure:"sizing"`
	RiskLimitPercent string `mapstructure:"risk_limit_percent"`
	Active           *bool  `mapstructure:"active"`
}

type fileConfig struct {
	Bots []Definition `mapstructure:"bots"`
}

// Syncer writes a definition into the bot table.
type Syncer interface {
	SyncBotConfig(ctx context.Context, def models.BotConfig) (*models.BotConfig, bool, error)
}

// Snapshot is the last successfully loaded file.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Bots     []models.BotConfig
}

// Registry owns the definitions file.
type Registry struct {
	path  string
	v     *viper.Viper
	store Syncer
	log   *zap.Logger

	mu       sync.RWMutex
	snapshot Snapshot
}

// NewRegistry reads path and syncs every definition. A missing or invalid file is an error.
func NewRegistry(ctx context.Context, path string, store Syncer, log *zap.Logger) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("bots: definitions path is required")
	}
	if store == nil {
		return nil, errors.New("bots: store is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	r := &Registry{path: path, v: v, store: store, log: log.Named("bots")}
	if err := r.reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Watch re-syncs on every change to the file until ctx is done. A bad edit is logged
// and the previous snapshot stays in effect.
func (r *Registry) Watch(ctx context.Context) {
	r.v.OnConfigChange(func(evt fsnotify.Event) {
		if ctx.Err() != nil {
			return
		}
		if err := r.reload(ctx); err != nil {
			r.log.Error("bot definitions reload failed", zap.String("file", evt.Name), zap.Error(err))
		}
	})
	r.v.WatchConfig()
}

// Snapshot returns a copy of the current definitions.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.snapshot
	s.Bots = append([]models.BotConfig(nil), r.snapshot.Bots...)
	return s
}

func (r *Registry) reload(ctx context.Context) error {
	if err := r.v.ReadInConfig(); err != nil {
		return fmt.Errorf("bots: read %s: %w", r.path, err)
	}
	defs, err := decode(r.v)
	if err != nil {
		return fmt.Errorf("bots: %s: %w", r.path, err)
	}

	synced := make([]models.BotConfig, 0, len(defs))
	var errs []error
	for _, def := range defs {
		bot, created, err := r.store.SyncBotConfig(ctx, def)
		if err != nil {
			errs = append(errs, fmt.Errorf("sync %s: %w", def.Key(), err))
			continue
		}
		r.log.Info("bot synced",
			zap.Int64("bot_id", bot.ID),
			zap.String("symbol", bot.Symbol),
			zap.String("timeframe", bot.Timeframe),
			zap.Bool("created", created),
			zap.Bool("active", bot.IsActive),
		)
		synced = append(synced, *bot)
	}

	r.mu.Lock()
	r.snapshot = Snapshot{Version: r.snapshot.Version + 1, LoadedAt: time.Now(), Bots: synced}
	r.mu.Unlock()
	return errors.Join(errs...)
}

// Parse reads and validates a definitions file without touching the store.
func Parse(path string) ([]models.BotConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("bots: read %s: %w", path, err)
	}
	return decode(v)
}

func decode(v *viper.Viper) ([]models.BotConfig, error) {
	var f fileConfig
	err := v.Unmarshal(&f, func(dc *mapstructure.DecoderConfig) {
		dc.ErrorUnused = true
		dc.WeaklyTypedInput = true
	})
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	out := make([]models.BotConfig, 0, len(f.Bots))
	seen := make(map[string]int, len(f.Bots))
	var errs []error
	for i, d := range f.Bots {
		bot, err := d.toBotConfig()
		if err != nil {
			errs = append(errs, fmt.Errorf("bots[%d]: %w", i, err))
			continue
		}
		if j, dup := seen[bot.Key()]; dup {
			errs = append(errs, fmt.Errorf("bots[%d]: duplicates bots[%d] (%s)", i, j, bot.Key()))
			continue
		}
		seen[bot.Key()] = i
		out = append(out, bot)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

func (d Definition) toBotConfig() (models.BotConfig, error) {
	b := models.BotConfig{
		UserID:    d.UserID,
		Symbol:    strings.ToUpper(strings.TrimSpace(d.Symbol)),
		Timeframe: strings.TrimSpace(d.Timeframe),
		Sizing:    strings.ToLower(strings.TrimSpace(d.Sizing)),
		IsActive:  d.Active == nil || *d.Active,
	}
	if b.UserID <= 0 {
		return b, errors.New("user_id must be positive")
	}
	if b.Symbol == "" {
		return b, errors.New("symbol is required")
	}
	if b.Timeframe == "" {
		return b, errors.New("timeframe is required")
	}
	switch b.Sizing {
	case "":
		b.Sizing = models.SizingNotional
	case models.SizingNotional, models.SizingQty:
	default:
		return b, fmt.Errorf("sizing %q must be notional or qty", d.Sizing)
	}

	size, err := decimal.NewFromString(strings.TrimSpace(d.PositionSize))
	if err != nil || !size.IsPositive() {
		return b, fmt.Errorf("position_size %q must be a positive number", d.PositionSize)
	}
	b.PositionSize = size

	if strings.TrimSpace(d.RiskLimitPercent) != "" {
		limit, err := decimal.NewFromString(strings.TrimSpace(d.RiskLimitPercent))
		if err != nil || limit.IsNegative() || limit.GreaterThan(decimal.NewFromInt(100)) {
			return b, fmt.Errorf("risk_limit_percent %q must be between 0 and 100", d.RiskLimitPercent)
		}
		b.RiskLimitPercent = limit
	}
	return b, nil
}
