package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"alpha_executor/internal/market"
	"alpha_executor/internal/models"
)

// LogTrade inserts a new audit row and returns its id. New rows default to SUBMITTED.
func (s *Store) LogTrade(ctx context.Context, rec *models.TradeRecord) (int64, error) {
	if rec == nil {
		return 0, errors.New("storage: nil trade record")
	}
	if rec.Status == "" {
		rec.Status = models.TradeStatusSubmitted
	}
	// SQLite compares timestamps as text, so every stored time is UTC.
	rec.SignalReceivedAt = rec.SignalReceivedAt.UTC()
	rec.OrderSubmittedAt = rec.OrderSubmittedAt.UTC()
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return 0, fmt.Errorf("storage: log trade: %w", err)
	}
	return rec.ID, nil
}

// UpdateTradeStatus moves a SUBMITTED or PENDING record to its next status.
// Rows already holding a final status are left alone and ErrTerminalStatus is returned.
// Execution details are merged into whatever the row already carries.
func (s *Store) UpdateTradeStatus(ctx context.Context, id int64, upd models.TradeUpdate) (bool, error) {
	if strings.TrimSpace(upd.Status) == "" {
		return false, errors.New("storage: empty trade status")
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur models.TradeRecord
		if err := tx.First(&cur, id).Error; err != nil {
			return notFound(err)
		}
		if models.IsFinalTradeStatus(cur.Status) {
			return ErrTerminalStatus
		}

		cols := map[string]any{"status": upd.Status}
		if upd.FilledQty.Valid {
			cols["filled_qty"] = upd.FilledQty
		}
		if upd.FilledAvgPrice.Valid {
			cols["filled_avg_price"] = upd.FilledAvgPrice
		}
		if upd.Slippage.Valid {
			cols["slippage"] = upd.Slippage
		}
		if upd.SlippagePercent.Valid {
			cols["slippage_percent"] = upd.SlippagePercent
		}
		if upd.RealizedPnL.Valid {
			cols["realized_pnl"] = upd.RealizedPnL
		}
		if upd.ExecutionLatencyMs != nil {
			cols["execution_latency_ms"] = *upd.ExecutionLatencyMs
		}
		if upd.TimeToFillMs != nil {
			cols["time_to_fill_ms"] = *upd.TimeToFillMs
		}
		if upd.FilledAt != nil {
			cols["filled_at"] = upd.FilledAt.UTC()
		}
		if upd.ErrorMessage != "" {
			cols["error_message"] = upd.ErrorMessage
		}
		if len(upd.ExecutionDetails) > 0 {
			merged, err := mergeDetails(cur.ExecutionDetails, upd.ExecutionDetails)
			if err != nil {
				return err
			}
			cols["execution_details"] = merged
		}

		res := tx.Model(&models.TradeRecord{}).
			Where("id = ? AND status = ?", id, cur.Status).
			Updates(cols)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrTerminalStatus
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrTerminalStatus) {
			return false, err
		}
		return false, fmt.Errorf("storage: update trade %d: %w", id, err)
	}
	return true, nil
}

func mergeDetails(existing datatypes.JSON, add map[string]any) (datatypes.JSON, error) {
	out := map[string]any{}
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &out); err != nil {
			out = map[string]any{"previous": string(existing)}
		}
	}
	for k, v := range add {
		out[k] = v
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("storage: encode execution details: %w", err)
	}
	return datatypes.JSON(b), nil
}

func (s *Store) GetTrade(ctx context.Context, id int64) (*models.TradeRecord, error) {
	var rec models.TradeRecord
	if err := s.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

// LastFilledEntry finds the most recent FILLED trade of the given action for (user, symbol)
// submitted before the cutoff. Symbol spellings such as BTC/USD and BTCUSD match.
func (s *Store) LastFilledEntry(ctx context.Context, userID int64, symbol string, action models.Action, before time.Time) (*models.TradeRecord, error) {
	var rec models.TradeRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND symbol IN ? AND action = ? AND status = ? AND order_submitted_at < ?",
			userID, symbolVariants(symbol), action, models.TradeStatusFilled, before.UTC()).
		Order("order_submitted_at DESC").
		Order("id DESC").
		First(&rec).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

// ListUnresolved returns SUBMITTED or PENDING records with an order id that were
// submitted before olderThan, oldest first.
func (s *Store) ListUnresolved(ctx context.Context, olderThan time.Time, limit int) ([]models.TradeRecord, error) {
	var recs []models.TradeRecord
	q := s.db.WithContext(ctx).
		Where("status IN ? AND order_id <> '' AND order_submitted_at < ?",
			[]string{models.TradeStatusSubmitted, models.TradeStatusPending}, olderThan.UTC()).
		Order("order_submitted_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("storage: list unresolved: %w", err)
	}
	return recs, nil
}

// TradeFilter narrows ListTrades. Zero fields are ignored.
type TradeFilter struct {
	BotConfigID int64
	UserID      int64
	Symbol      string
	Since       time.Time
	Limit       int
}

// ListTrades returns matching records, newest first.
func (s *Store) ListTrades(ctx context.Context, f TradeFilter) ([]models.TradeRecord, error) {
	q := s.db.WithContext(ctx).Model(&models.TradeRecord{})
	if f.BotConfigID != 0 {
		q = q.Where("bot_config_id = ?", f.BotConfigID)
	}
	if f.UserID != 0 {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Symbol != "" {
		q = q.Where("symbol IN ?", symbolVariants(f.Symbol))
	}
	if !f.Since.IsZero() {
		q = q.Where("order_submitted_at >= ?", f.Since.UTC())
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var recs []models.TradeRecord
	if err := q.Order("order_submitted_at DESC").Order("id DESC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("storage: list trades: %w", err)
	}
	return recs, nil
}

func symbolVariants(symbol string) []string {
	aliases := market.Aliases(symbol)
	if len(aliases) == 0 {
		return []string{strings.ToUpper(symbol)}
	}
	return aliases
}
