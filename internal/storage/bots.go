package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"alpha_executor/internal/market"
	"alpha_executor/internal/models"
)

// maxMutateAttempts bounds how often a version conflict is retried against a fresh read.
const maxMutateAttempts = 3

func (s *Store) GetBotConfig(ctx context.Context, id int64) (*models.BotConfig, error) {
	var bot models.BotConfig
	if err := s.db.WithContext(ctx).First(&bot, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &bot, nil
}

// FindBotConfig looks a bot up by its natural key.
func (s *Store) FindBotConfig(ctx context.Context, userID int64, symbol, timeframe string) (*models.BotConfig, error) {
	var bot models.BotConfig
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND symbol IN ? AND timeframe = ?", userID, symbolVariants(symbol), timeframe).
		First(&bot).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &bot, nil
}

func (s *Store) ListBotConfigs(ctx context.Context) ([]models.BotConfig, error) {
	var bots []models.BotConfig
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&bots).Error; err != nil {
		return nil, fmt.Errorf("storage: list bots: %w", err)
	}
	return bots, nil
}

// FindActiveBots returns every active bot trading symbol (any spelling) on timeframe.
func (s *Store) FindActiveBots(ctx context.Context, symbol, timeframe string) ([]models.BotConfig, error) {
	var candidates []models.BotConfig
	err := s.db.WithContext(ctx).
		Where("is_active = ? AND LOWER(timeframe) = ?", true, strings.ToLower(strings.TrimSpace(timeframe))).
		Order("id ASC").
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("storage: find active bots: %w", err)
	}
	out := candidates[:0]
	for _, b := range candidates {
		if market.SameSymbol(b.Symbol, symbol) {
			out = append(out, b)
		}
	}
	return out, nil
}

// MutateBotConfig applies fn to a fresh copy of the row and writes it back only if nobody
// else wrote in between. On conflict fn is re-applied to a new read, up to three times.
func (s *Store) MutateBotConfig(ctx context.Context, id int64, fn func(*models.BotConfig) error) (*models.BotConfig, error) {
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		cur, err := s.GetBotConfig(ctx, id)
		if err != nil {
			return nil, err
		}
		next := *cur
		if err := fn(&next); err != nil {
			return nil, err
		}
		next.ID = cur.ID
		next.CreatedAt = cur.CreatedAt
		next.Version = cur.Version + 1

		res := s.db.WithContext(ctx).
			Model(&models.BotConfig{}).
			Where("id = ? AND version = ?", id, cur.Version).
			Select("*").
			Omit("id", "created_at").
			Updates(&next)
		if res.Error != nil {
			return nil, fmt.Errorf("storage: update bot %d: %w", id, res.Error)
		}
		if res.RowsAffected == 1 {
			return &next, nil
		}
	}
	return nil, ErrVersionConflict
}

// SetBotActive flips is_active. Re-enabling is the only way back after a risk-limit stop.
func (s *Store) SetBotActive(ctx context.Context, id int64, active bool) (*models.BotConfig, error) {
	return s.MutateBotConfig(ctx, id, func(b *models.BotConfig) error {
		b.IsActive = active
		if active {
			b.OrderStatus = "ENABLED"
		} else {
			b.OrderStatus = "DISABLED"
		}
		return nil
	})
}

// SyncBotConfig creates the bot if its (user, symbol, timeframe) key is new, otherwise
// updates the sizing fields. An inactive definition deactivates the row; an active one
// never re-enables a row that was switched off.
func (s *Store) SyncBotConfig(ctx context.Context, def models.BotConfig) (*models.BotConfig, bool, error) {
	existing, err := s.FindBotConfig(ctx, def.UserID, def.Symbol, def.Timeframe)
	if errors.Is(err, ErrNotFound) {
		created := def
		created.ID = 0
		created.Symbol = strings.ToUpper(strings.TrimSpace(def.Symbol))
		if created.Sizing == "" {
			created.Sizing = models.SizingNotional
		}
		created.CurrentPositionSide = models.SideFlat
		created.TotalPnL = decimal.Zero
		created.Version = 1
		if err := s.db.WithContext(ctx).Create(&created).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil, false, ErrVersionConflict
			}
			return nil, false, fmt.Errorf("storage: create bot: %w", err)
		}
		return &created, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	updated, err := s.MutateBotConfig(ctx, existing.ID, func(b *models.BotConfig) error {
		b.PositionSize = def.PositionSize
		if def.Sizing != "" {
			b.Sizing = def.Sizing
		}
		b.RiskLimitPercent = def.RiskLimitPercent
		if !def.IsActive {
			b.IsActive = false
		}
		return nil
	})
	return updated, false, err
}
