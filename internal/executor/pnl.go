package executor

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"alpha_executor/internal/models"
)

var hundred = decimal.NewFromInt(100)

// slippage reports how much better the fill was than expected: negative when the buyer
// paid more or the seller received less. Percent is relative to the expected price.
func slippage(side models.OrderSide, expected, filled decimal.Decimal) (amount, percent decimal.NullDecimal) {
	if !expected.IsPositive() || !filled.IsPositive() {
		return decimal.NullDecimal{}, decimal.NullDecimal{}
	}
	diff := filled.Sub(expected)
	if side == models.OrderSideBuy {
		diff = expected.Sub(filled)
	}
	pct := diff.Div(expected).Mul(hundred).Round(4)
	return decimal.NewNullDecimal(diff), decimal.NewNullDecimal(pct)
}

// realizedPnL for closing a position of the given side.
func realizedPnL(side models.Side, entry, exit, qty decimal.Decimal) decimal.Decimal {
	if side == models.SideShort {
		return entry.Sub(exit).Mul(qty)
	}
	return exit.Sub(entry).Mul(qty)
}

// lossPercent is unrealized P&L over |market value| in percent. ok is false when the
// ratio is undefined.
func lossPercent(pos *models.Position) (decimal.Decimal, bool) {
	if pos.IsFlat() || pos.MarketValue.IsZero() {
		return decimal.Zero, false
	}
	return pos.UnrealizedPL.Div(pos.MarketValue.Abs()).Mul(hundred), true
}

// riskLimitHit compares the loss against limitPercent. A non-positive limit disables the check.
func riskLimitHit(pos *models.Position, limitPercent decimal.Decimal) (bool, decimal.Decimal) {
	if !limitPercent.IsPositive() {
		return false, decimal.Zero
	}
	pct, ok := lossPercent(pos)
	if !ok {
		return false, decimal.Zero
	}
	return pct.IsNegative() && pct.Abs().GreaterThanOrEqual(limitPercent), pct
}

// entryContext is what the engine remembers about the fill that opened a position.
type entryContext struct {
	Side  models.Side
	Price decimal.Decimal
	Qty   decimal.Decimal
	At    time.Time
}

func (e *Engine) rememberEntry(key string, c entryContext) {
	e.entriesMu.Lock()
	e.entries[key] = c
	e.entriesMu.Unlock()
}

func (e *Engine) recallEntry(key string) (entryContext, bool) {
	e.entriesMu.Lock()
	defer e.entriesMu.Unlock()
	c, ok := e.entries[key]
	return c, ok
}

func (e *Engine) forgetEntry(key string) {
	e.entriesMu.Lock()
	delete(e.entries, key)
	e.entriesMu.Unlock()
}

// Entry price sources, in order of preference.
const (
	entrySourcePosition     = "position"
	entrySourceContext      = "entry_context"
	entrySourceTradeHistory = "trade_history"
)

// entryLookup describes the position a CLOSE flattened.
type entryLookup struct {
	userID int64
	symbol string
	key    string
	side   models.Side
	pos    *models.Position // captured before the close, may be nil
	before time.Time
}

// resolveEntryPrice finds the price the closed position was opened at: the live position,
// then the remembered entry fill, then the last matching filled trade in the log.
// ok is false when none is available; P&L is then left unset.
func (e *Engine) resolveEntryPrice(ctx context.Context, q entryLookup, log *zap.Logger) (price decimal.Decimal, source string, ok bool) {
	if q.pos != nil && !q.pos.IsFlat() && q.pos.Side == q.side && q.pos.EntryPrice.IsPositive() {
		return q.pos.EntryPrice, entrySourcePosition, true
	}
	if q.key != "" {
		if c, found := e.recallEntry(q.key); found && c.Side == q.side && c.Price.IsPositive() {
			return c.Price, entrySourceContext, true
		}
	}
	entryAction := models.ActionBuy
	if q.side == models.SideShort {
		entryAction = models.ActionSell
	}
	rec, err := e.trades.LastFilledEntry(ctx, q.userID, q.symbol, entryAction, q.before)
	if err != nil {
		log.Debug("no entry trade found for P&L", zap.Error(err))
		return decimal.Zero, "", false
	}
	if !rec.FilledAvgPrice.Valid || !rec.FilledAvgPrice.Decimal.IsPositive() {
		return decimal.Zero, "", false
	}
	return rec.FilledAvgPrice.Decimal, entrySourceTradeHistory, true
}

func floatPtr(d decimal.Decimal) *float64 {
	f, _ := d.Float64()
	return &f
}
