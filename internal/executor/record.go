package executor

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"alpha_executor/internal/models"
)

// newRecord assembles the SUBMITTED audit row from the pre-trade context.
func (x *execution) newRecord(pre preTrade, orderID, clientOrderID string) *models.TradeRecord {
	rec := &models.TradeRecord{
		UserID:           x.bot.UserID,
		BotConfigID:      x.bot.ID,
		Symbol:           x.symbol,
		Timeframe:        x.bot.Timeframe,
		Action:           x.sig.Action,
		OrderID:          orderID,
		ClientOrderID:    clientOrderID,
		MarketOpen:       pre.marketOpen,
		SignalSource:     x.sig.Source,
		SignalReceivedAt: x.sig.ReceivedAt,
		OrderSubmittedAt: pre.submittedAt,
		Status:           models.TradeStatusSubmitted,
	}
	if pre.quote != nil {
		rec.BidPrice = decimal.NewNullDecimal(pre.quote.BidPrice)
		rec.AskPrice = decimal.NewNullDecimal(pre.quote.AskPrice)
		rec.Spread = decimal.NewNullDecimal(pre.quote.Spread())
	}
	if pre.expected.IsPositive() {
		rec.ExpectedPrice = decimal.NewNullDecimal(pre.expected)
	}
	rec.ExecutionLatencyMs = x.latencyMs(pre.submittedAt)
	rec.ExecutionDetails = models.EncodeDetails(x.details)
	return rec
}

// logTrade persists rec. A failed write is logged and the engine carries on: the order
// is already at the broker and the result still reports its id.
func (x *execution) logTrade(ctx context.Context, rec *models.TradeRecord) *int64 {
	id, err := x.engine.trades.LogTrade(ctx, rec)
	if err != nil {
		x.log.Error("trade record write failed", zap.String("order_id", rec.OrderID), zap.Error(err))
		return nil
	}
	x.log.Debug("trade recorded", zap.Int64("trade_id", id), zap.String("order_id", rec.OrderID), zap.String("status", rec.Status))
	return &id
}

func (x *execution) updateTrade(ctx context.Context, id *int64, upd models.TradeUpdate) {
	if id == nil {
		return
	}
	if _, err := x.engine.trades.UpdateTradeStatus(ctx, *id, upd); err != nil {
		x.log.Error("trade record update failed", zap.Int64("trade_id", *id), zap.String("status", upd.Status), zap.Error(err))
	}
}

func (x *execution) latencyMs(submittedAt time.Time) *int64 {
	if x.sig.ReceivedAt.IsZero() {
		return nil
	}
	ms := submittedAt.Sub(x.sig.ReceivedAt).Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return &ms
}

// errNoUsableQuote is fatal for entries: without a price there is nothing to size or compare against.
var errNoUsableQuote = errors.New("no usable quote")
