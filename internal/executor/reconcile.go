package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"alpha_executor/internal/models"
)

// Reconcile re-checks an unresolved (SUBMITTED or PENDING) record against the broker and
// writes its final state. It returns the record's status afterwards; in-flight orders are
// left untouched. A fill also moves the bot to the resulting side; a filled CLOSE adds
// its P&L to the bot's running totals.
func (e *Engine) Reconcile(ctx context.Context, rec models.TradeRecord) (string, error) {
	if models.IsFinalTradeStatus(rec.Status) {
		return rec.Status, nil
	}
	if rec.OrderID == "" {
		return rec.Status, errors.New("reconcile: record has no order id")
	}

	unlock := e.locks.Lock(models.BotKey(rec.UserID, rec.Symbol, rec.Timeframe))
	defer unlock()

	log := e.log.With(
		zap.Int64("trade_id", rec.ID),
		zap.Int64("bot_id", rec.BotConfigID),
		zap.String("symbol", rec.Symbol),
		zap.String("order_id", rec.OrderID),
	)

	o, err := e.gw.GetOrder(ctx, rec.OrderID)
	if err != nil {
		return rec.Status, fmt.Errorf("reconcile trade %d: %w", rec.ID, err)
	}
	details := map[string]any{"resolved_by": "reconciler", "broker_status": o.Status}

	switch classifyStatus(o.Status) {
	case fillInFlight:
		return rec.Status, nil
	case fillRejected:
		msg := fmt.Sprintf("order %s", strings.ToLower(o.Status))
		if _, err := e.trades.UpdateTradeStatus(ctx, rec.ID, models.TradeUpdate{Status: models.TradeStatusFailed, ErrorMessage: msg, ExecutionDetails: details}); err != nil {
			return rec.Status, err
		}
		log.Info("unresolved trade failed", zap.String("broker_status", o.Status))
		return models.TradeStatusFailed, nil
	case fillUnknown:
		status := strings.ToUpper(o.Status)
		if _, err := e.trades.UpdateTradeStatus(ctx, rec.ID, models.TradeUpdate{Status: status, ErrorMessage: "unexpected order status " + status, ExecutionDetails: details}); err != nil {
			return rec.Status, err
		}
		return status, nil
	}

	return e.reconcileFill(ctx, rec, o, details, log)
}

func (e *Engine) reconcileFill(ctx context.Context, rec models.TradeRecord, o *models.Order, details map[string]any, log *zap.Logger) (string, error) {
	now := e.now()
	filledAt := now
	if o.FilledAt != nil {
		filledAt = *o.FilledAt
	}
	saved := models.DecodeDetails(rec.ExecutionDetails)
	orderSide := reconciledOrderSide(rec, o, saved)
	slip, slipPct := slippage(orderSide, rec.ExpectedPrice.Decimal, o.FilledAvgPrice)
	ttf := filledAt.Sub(rec.OrderSubmittedAt).Milliseconds()
	if ttf < 0 {
		ttf = 0
	}

	upd := models.TradeUpdate{
		Status:           models.TradeStatusFilled,
		FilledQty:        decimal.NewNullDecimal(o.FilledQty),
		FilledAvgPrice:   decimal.NewNullDecimal(o.FilledAvgPrice),
		Slippage:         slip,
		SlippagePercent:  slipPct,
		TimeToFillMs:     &ttf,
		FilledAt:         &filledAt,
		ExecutionDetails: details,
	}

	key := models.BotKey(rec.UserID, rec.Symbol, rec.Timeframe)
	if rec.Action == models.ActionClose {
		closedSide := models.SideLong
		if orderSide == models.OrderSideBuy {
			closedSide = models.SideShort
		}
		// the entry price captured at submission stands in for the live position
		var pos *models.Position
		if ep, err := decimal.NewFromString(fmt.Sprint(saved["entry_price"])); err == nil && ep.IsPositive() {
			pos = &models.Position{Symbol: rec.Symbol, Side: closedSide, Quantity: o.FilledQty, EntryPrice: ep}
		}
		entry, source, ok := e.resolveEntryPrice(ctx, entryLookup{
			userID: rec.UserID,
			symbol: rec.Symbol,
			key:    key,
			side:   closedSide,
			pos:    pos,
			before: rec.OrderSubmittedAt,
		}, log)
		if ok && o.FilledAvgPrice.IsPositive() {
			upd.RealizedPnL = decimal.NewNullDecimal(realizedPnL(closedSide, entry, o.FilledAvgPrice, o.FilledQty))
			details["entry_price"] = entry.String()
			details["entry_price_source"] = source
		} else {
			details["pnl_unresolved"] = true
		}
		e.forgetEntry(key)
	} else if o.FilledAvgPrice.IsPositive() {
		side := models.SideLong
		if orderSide == models.OrderSideSell {
			side = models.SideShort
		}
		e.rememberEntry(key, entryContext{Side: side, Price: o.FilledAvgPrice, Qty: o.FilledQty, At: filledAt})
	}

	if _, err := e.trades.UpdateTradeStatus(ctx, rec.ID, upd); err != nil {
		return rec.Status, err
	}

	if rec.BotConfigID != 0 {
		side := models.SideFlat
		if rec.Action != models.ActionClose {
			side = models.SideLong
			if orderSide == models.OrderSideSell {
				side = models.SideShort
			}
		}
		_, err := e.bots.MutateBotConfig(ctx, rec.BotConfigID, func(b *models.BotConfig) error {
			b.OrderStatus = "FILLED"
			b.CurrentPositionSide = side
			if rec.Action == models.ActionClose {
				b.TotalTrades++
				if upd.RealizedPnL.Valid {
					b.TotalPnL = b.TotalPnL.Add(upd.RealizedPnL.Decimal)
				}
			}
			return nil
		})
		if err != nil {
			log.Error("bot config update failed", zap.Error(err))
		}
	}

	payload := map[string]any{
		"bot_id":       rec.BotConfigID,
		"user_id":      rec.UserID,
		"symbol":       rec.Symbol,
		"timeframe":    rec.Timeframe,
		"action":       string(rec.Action),
		"source":       rec.SignalSource,
		"order_id":     rec.OrderID,
		"filled_qty":   o.FilledQty.String(),
		"filled_price": o.FilledAvgPrice.String(),
		"resolved_by":  "reconciler",
	}
	if upd.RealizedPnL.Valid {
		payload["realized_pnl"] = upd.RealizedPnL.Decimal.StringFixed(2)
	}
	e.notify(EventTradeFilled, payload)
	log.Info("unresolved trade filled", zap.String("filled_price", o.FilledAvgPrice.String()))
	return models.TradeStatusFilled, nil
}

// reconciledOrderSide prefers the broker's side, then what the record implies.
func reconciledOrderSide(rec models.TradeRecord, o *models.Order, saved map[string]any) models.OrderSide {
	switch strings.ToLower(o.Side) {
	case "buy":
		return models.OrderSideBuy
	case "sell":
		return models.OrderSideSell
	}
	switch rec.Action {
	case models.ActionBuy:
		return models.OrderSideBuy
	case models.ActionSell:
		return models.OrderSideSell
	}
	if saved["closed_side"] == string(models.SideShort) {
		return models.OrderSideBuy
	}
	return models.OrderSideSell
}
