package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"alpha_executor/internal/market"
	"alpha_executor/internal/models"
)

// execution carries the state of one Execute call.
type execution struct {
	engine  *Engine
	bot     models.BotConfig
	sig     models.Signal
	symbol  string
	res     models.ExecutionResult
	log     *zap.Logger
	details map[string]any
}

// preTrade is the market context captured before an order goes out.
type preTrade struct {
	quote       *models.Quote
	expected    decimal.Decimal
	marketOpen  *bool
	submittedAt time.Time
}

// submission ties a broker order to its audit row.
type submission struct {
	rec        *models.TradeRecord
	tradeID    *int64
	orderID    string
	orderSide  models.OrderSide
	closing    bool
	closedSide models.Side
	pos        *models.Position
}

func (x *execution) key() string {
	return models.BotKey(x.bot.UserID, x.symbol, x.bot.Timeframe)
}

func (x *execution) run(ctx context.Context) Outcome {
	x.details = map[string]any{}
	if !x.bot.IsActive {
		x.res.Message = "bot disabled"
		return OutcomeDisabled
	}

	e := x.engine
	pos, err := e.gw.GetPosition(ctx, x.symbol)
	if err != nil {
		return x.fail(fmt.Sprintf("resolve position: %v", err))
	}
	if pos == nil {
		pos = models.FlatPosition()
	}
	x.log.Debug("position resolved",
		zap.String("side", string(pos.Side)),
		zap.String("qty", pos.Quantity.String()),
		zap.String("unrealized_pl", pos.UnrealizedPL.String()),
	)

	if hit, pct := riskLimitHit(pos, x.bot.RiskLimitPercent); hit {
		return x.riskLimit(ctx, pos, pct)
	}

	action := x.sig.Action
	switch {
	case isNoop(action, pos):
		return x.skip(ctx, pos)
	case action == models.ActionClose:
		return x.closeOut(ctx, pos)
	}

	// Everything that can abort the entry is settled before the opposing
	// position is closed, so a flatten is always followed by a recorded order.
	ent, err := x.prepareEntry(ctx)
	if err != nil {
		return x.fail(err.Error())
	}
	if opposes(action, pos) {
		if err := x.flatten(ctx, pos); err != nil {
			return x.fail(err.Error())
		}
	}
	return x.enter(ctx, ent)
}

func isNoop(action models.Action, pos *models.Position) bool {
	switch action {
	case models.ActionBuy:
		return !pos.IsFlat() && pos.Side == models.SideLong
	case models.ActionSell:
		return !pos.IsFlat() && pos.Side == models.SideShort
	case models.ActionClose:
		return pos.IsFlat()
	}
	return false
}

func opposes(action models.Action, pos *models.Position) bool {
	if pos.IsFlat() {
		return false
	}
	return (action == models.ActionBuy && pos.Side == models.SideShort) ||
		(action == models.ActionSell && pos.Side == models.SideLong)
}

// brokerSymbol is the spelling the broker holds the position under.
func brokerSymbol(pos *models.Position, fallback string) string {
	if pos != nil && pos.Symbol != "" {
		return pos.Symbol
	}
	return fallback
}

// fail aborts the signal before any order reached the broker. The bot row is not touched.
func (x *execution) fail(msg string) Outcome {
	x.res.Message = msg
	x.log.Warn("signal aborted", zap.String("reason", msg))
	x.engine.notify(EventExecutionError, x.payload(map[string]any{"error": msg}))
	return OutcomeError
}

func (x *execution) skip(ctx context.Context, pos *models.Position) Outcome {
	status := "NO POSITION"
	if !pos.IsFlat() {
		status = "ALREADY " + string(pos.Side)
	}
	x.updateBot(ctx, func(b *models.BotConfig) {
		b.OrderStatus = status
		b.CurrentPositionSide = sideOf(pos)
	})
	x.res.Message = fmt.Sprintf("skipped: %s", strings.ToLower(status))
	return OutcomeSkipped
}

func sideOf(pos *models.Position) models.Side {
	if pos.IsFlat() {
		return models.SideFlat
	}
	return pos.Side
}

// flatten closes the opposing position ahead of an entry in the other direction.
// Only a refused close is an error; once the close order is out, the entry goes ahead
// and its record carries the flatten leg.
func (x *execution) flatten(ctx context.Context, pos *models.Position) error {
	e := x.engine
	orderID, err := e.gw.ClosePosition(ctx, brokerSymbol(pos, x.symbol))
	if err != nil {
		return fmt.Errorf("flatten %s position: %w", strings.ToLower(string(pos.Side)), err)
	}
	x.details["flatten_order_id"] = orderID
	x.details["flattened_side"] = string(pos.Side)
	x.details["flattened_qty"] = pos.Quantity.String()
	x.log.Info("opposing position flattened", zap.String("order_id", orderID), zap.String("side", string(pos.Side)))

	if err := e.sleeper.Sleep(ctx, e.cfg.FlattenWait); err != nil {
		x.log.Warn("wait after flatten interrupted", zap.Error(err))
	}

	pnl, known := x.flattenPnL(ctx, orderID, pos)
	e.forgetEntry(x.key())
	x.updateBot(ctx, func(b *models.BotConfig) {
		b.CurrentPositionSide = models.SideFlat
		b.OrderStatus = "FLATTENED"
		if known {
			b.TotalTrades++
			b.TotalPnL = b.TotalPnL.Add(pnl)
		}
	})
	return nil
}

// flattenPnL checks the close order once and prices the leg it closed. ok is false
// when the close has not filled yet or the entry price is unknown.
func (x *execution) flattenPnL(ctx context.Context, orderID string, pos *models.Position) (decimal.Decimal, bool) {
	e := x.engine
	o, err := e.gw.GetOrder(ctx, orderID)
	if err != nil || classifyStatus(o.Status) != fillFilled || !o.FilledAvgPrice.IsPositive() {
		if err != nil {
			x.log.Warn("flatten order status unavailable", zap.String("order_id", orderID), zap.Error(err))
		}
		x.details[models.DetailFlattenPnLUnresolved] = true
		return decimal.Zero, false
	}
	qty := o.FilledQty
	if !qty.IsPositive() {
		qty = pos.Quantity
	}
	entry, source, ok := e.resolveEntryPrice(ctx, entryLookup{
		userID: x.bot.UserID,
		symbol: x.symbol,
		key:    x.key(),
		side:   pos.Side,
		pos:    pos,
		before: e.now(),
	}, x.log)
	x.details["flatten_filled_price"] = o.FilledAvgPrice.String()
	if !ok {
		x.details[models.DetailFlattenPnLUnresolved] = true
		return decimal.Zero, false
	}
	pnl := realizedPnL(pos.Side, entry, o.FilledAvgPrice, qty)
	x.details["flatten_entry_price"] = entry.String()
	x.details["flatten_entry_price_source"] = source
	x.details[models.DetailFlattenPnL] = pnl.StringFixed(2)
	return pnl, true
}

// enrich gathers optional context. Failures are logged and never change the outcome.
func (x *execution) enrich(ctx context.Context) *bool {
	e := x.engine
	var open *bool
	if clock, err := e.gw.GetMarketClock(ctx, x.symbol); err != nil {
		x.log.Warn("market clock unavailable", zap.Error(err))
	} else {
		v := clock.IsOpen
		open = &v
	}
	if acct, err := e.gw.GetAccount(ctx); err != nil {
		x.log.Warn("account unavailable", zap.Error(err))
	} else {
		x.details["account_equity"] = acct.Equity.String()
		x.details["buying_power"] = acct.BuyingPower.String()
	}
	return open
}

// entryOrder is a sized order together with the quote it was priced from.
type entryOrder struct {
	side     models.OrderSide
	quote    *models.Quote
	expected decimal.Decimal
	req      models.OrderRequest
}

// prepareEntry quotes and sizes a BUY or SELL. Nothing reaches the broker here.
func (x *execution) prepareEntry(ctx context.Context) (entryOrder, error) {
	e := x.engine
	side := models.OrderSideBuy
	if x.sig.Action == models.ActionSell {
		side = models.OrderSideSell
	}

	q, err := e.gw.GetQuote(ctx, x.symbol)
	if err != nil {
		return entryOrder{}, fmt.Errorf("quote required for entry: %w", err)
	}
	expected := q.AskPrice
	if side == models.OrderSideSell {
		expected = q.BidPrice
	}
	if !expected.IsPositive() {
		return entryOrder{}, fmt.Errorf("%w for %s: bid %s ask %s", errNoUsableQuote, x.symbol, q.BidPrice, q.AskPrice)
	}

	req, err := x.orderRequest(side, q)
	if err != nil {
		return entryOrder{}, err
	}
	return entryOrder{side: side, quote: q, expected: expected, req: req}, nil
}

// enter opens a LONG (BUY) or SHORT (SELL) position from FLAT.
func (x *execution) enter(ctx context.Context, ent entryOrder) Outcome {
	e := x.engine
	pre := preTrade{quote: ent.quote, expected: ent.expected}
	pre.marketOpen = x.enrich(ctx)

	req := ent.req
	if req.Notional != nil {
		x.details["notional"] = req.Notional.String()
	} else {
		x.details["qty"] = req.Qty.String()
	}

	pre.submittedAt = e.now()
	orderID, err := e.gw.SubmitOrder(ctx, req)
	if err != nil {
		return x.rejectedAtSubmit(ctx, pre, req.ClientOrderID, err)
	}
	rec := x.newRecord(pre, orderID, req.ClientOrderID)
	sub := submission{rec: rec, tradeID: x.logTrade(ctx, rec), orderID: orderID, orderSide: ent.side}
	x.log.Info("entry order submitted", zap.String("order_id", orderID), zap.String("side", string(ent.side)), zap.String("expected_price", ent.expected.String()))

	poll := e.pollFill(ctx, orderID, e.cfg.EntryPoll, x.log)
	return x.finish(ctx, sub, poll)
}

// closeOut flattens a non-FLAT position in response to a CLOSE signal.
func (x *execution) closeOut(ctx context.Context, pos *models.Position) Outcome {
	e := x.engine
	side := models.OrderSideSell
	if pos.Side == models.SideShort {
		side = models.OrderSideBuy
	}

	pre := preTrade{}
	if q, err := e.gw.GetQuote(ctx, x.symbol); err != nil {
		x.log.Warn("quote unavailable for close, slippage will be empty", zap.Error(err))
	} else {
		pre.quote = q
		pre.expected = q.BidPrice
		if side == models.OrderSideBuy {
			pre.expected = q.AskPrice
		}
	}
	pre.marketOpen = x.enrich(ctx)

	x.details["closed_side"] = string(pos.Side)
	x.details["position_qty"] = pos.Quantity.String()
	if pos.EntryPrice.IsPositive() {
		x.details["entry_price"] = pos.EntryPrice.String()
	}

	pre.submittedAt = e.now()
	orderID, err := e.gw.ClosePosition(ctx, brokerSymbol(pos, x.symbol))
	if err != nil {
		return x.rejectedAtSubmit(ctx, pre, "", err)
	}
	rec := x.newRecord(pre, orderID, "")
	sub := submission{
		rec:        rec,
		tradeID:    x.logTrade(ctx, rec),
		orderID:    orderID,
		orderSide:  side,
		closing:    true,
		closedSide: pos.Side,
		pos:        pos,
	}
	x.log.Info("close order submitted", zap.String("order_id", orderID), zap.String("closed_side", string(pos.Side)))

	poll := e.pollFill(ctx, orderID, e.cfg.ClosePoll, x.log)
	return x.finish(ctx, sub, poll)
}

// rejectedAtSubmit records an attempt the broker refused outright.
func (x *execution) rejectedAtSubmit(ctx context.Context, pre preTrade, clientOrderID string, err error) Outcome {
	msg := fmt.Sprintf("submit order: %v", err)
	rec := x.newRecord(pre, "", clientOrderID)
	rec.Status = models.TradeStatusFailed
	rec.ErrorMessage = msg
	x.res.TradeID = x.logTrade(ctx, rec)

	x.updateBot(ctx, func(b *models.BotConfig) { b.OrderStatus = "ORDER FAILED" })
	x.res.Message = msg
	x.log.Error("order submission failed", zap.Error(err))
	x.engine.notify(EventTradeFailed, x.payload(map[string]any{"error": msg}))
	return OutcomeFailed
}

// orderRequest sizes the entry. Notional BUYs go out as notional orders; notional SELLs
// become a quantity at the bid, whole shares for equities since fractional shorts are refused.
func (x *execution) orderRequest(side models.OrderSide, q *models.Quote) (models.OrderRequest, error) {
	size := x.sig.PositionSize
	if !size.IsPositive() {
		size = x.bot.PositionSize
	}
	if !size.IsPositive() {
		return models.OrderRequest{}, fmt.Errorf("position size must be positive, got %s", size)
	}
	crypto := market.IsCrypto(x.symbol)
	req := models.OrderRequest{
		Symbol:        x.symbol,
		Side:          side,
		Type:          "market",
		TimeInForce:   models.TimeInForceDay,
		ClientOrderID: x.engine.newCOID(),
	}
	if crypto {
		req.TimeInForce = models.TimeInForceGTC
	}

	if x.bot.Sizing == models.SizingQty {
		qty := size
		req.Qty = &qty
		return req, nil
	}
	if side == models.OrderSideBuy {
		notional := size.Round(2)
		req.Notional = &notional
		return req, nil
	}
	qty := size.Div(q.BidPrice)
	if crypto {
		qty = qty.Truncate(8)
	} else {
		qty = qty.Floor()
	}
	if !qty.IsPositive() {
		return models.OrderRequest{}, fmt.Errorf("position size %s buys zero units at %s", size, q.BidPrice)
	}
	req.Qty = &qty
	return req, nil
}

// riskLimit closes the position, records the breach and deactivates the bot.
// The close is recorded as SUBMITTED and left for the reconciler.
func (x *execution) riskLimit(ctx context.Context, pos *models.Position, pct decimal.Decimal) Outcome {
	e := x.engine
	limit := x.bot.RiskLimitPercent
	x.log.Warn("risk limit hit",
		zap.String("loss_percent", pct.StringFixed(2)),
		zap.String("limit_percent", limit.String()),
	)

	if err := e.gw.CancelAllOrders(ctx); err != nil {
		x.log.Warn("cancel open orders failed", zap.Error(err))
	}
	closeID, closeErr := e.gw.ClosePosition(ctx, brokerSymbol(pos, x.symbol))
	taken := "closed position, bot deactivated"
	if closeErr != nil {
		taken = fmt.Sprintf("close failed (%v), bot deactivated", closeErr)
		x.log.Error("risk close failed", zap.Error(closeErr))
	}

	ev := &models.RiskEvent{
		UserID:         x.bot.UserID,
		BotConfigID:    x.bot.ID,
		EventType:      "loss_limit",
		Symbol:         x.symbol,
		Timeframe:      x.bot.Timeframe,
		ThresholdValue: limit,
		CurrentValue:   pct.Round(4),
		ActionTaken:    taken,
	}
	if err := e.risk.RecordRiskEvent(ctx, ev); err != nil {
		x.log.Error("risk event write failed", zap.Error(err))
	}

	if closeErr == nil {
		x.details["closed_side"] = string(pos.Side)
		x.details["position_qty"] = pos.Quantity.String()
		x.details["loss_percent"] = pct.StringFixed(4)
		x.details["triggering_signal"] = string(x.sig.Action)
		if pos.EntryPrice.IsPositive() {
			x.details["entry_price"] = pos.EntryPrice.String()
		}
		rec := x.newRecord(preTrade{submittedAt: e.now()}, closeID, "")
		rec.Action = models.ActionClose
		rec.SignalSource = models.SourceRiskLimit
		x.res.OrderID = closeID
		x.res.TradeID = x.logTrade(ctx, rec)
		e.forgetEntry(x.key())
	}

	x.updateBot(ctx, func(b *models.BotConfig) {
		b.IsActive = false
		b.OrderStatus = "RISK LIMIT HIT"
		if closeErr == nil {
			b.CurrentPositionSide = models.SideFlat
		}
	})
	x.res.Message = fmt.Sprintf("risk limit hit: loss %s%% >= %s%%; %s", pct.Abs().StringFixed(2), limit.String(), taken)
	e.notify(EventRiskLimit, x.payload(map[string]any{
		"loss_percent":  pct.StringFixed(2),
		"limit_percent": limit.String(),
		"action_taken":  taken,
	}))
	return OutcomeRiskLimitHit
}

// finish turns the poll result into the final record, bot state and caller result.
func (x *execution) finish(ctx context.Context, sub submission, poll pollResult) Outcome {
	x.res.OrderID = sub.orderID
	x.res.TradeID = sub.tradeID
	details := map[string]any{"poll_attempts": poll.attempts}
	if poll.order != nil {
		details["broker_status"] = poll.order.Status
	}

	switch poll.kind {
	case fillFilled:
		return x.filled(ctx, sub, poll, details)

	case fillInFlight:
		if poll.err != nil {
			details["interrupted"] = poll.err.Error()
		}
		x.updateTrade(ctx, sub.tradeID, models.TradeUpdate{Status: models.TradeStatusPending, ExecutionDetails: details})
		x.updateBot(ctx, func(b *models.BotConfig) { b.OrderStatus = "PENDING" })
		x.res.Message = "order submitted, fill not confirmed yet"
		x.engine.notify(EventTradePending, x.payload(map[string]any{"order_id": sub.orderID}))
		return OutcomePending

	case fillRejected:
		msg := fmt.Sprintf("order %s", strings.ToLower(poll.order.Status))
		x.updateTrade(ctx, sub.tradeID, models.TradeUpdate{Status: models.TradeStatusFailed, ErrorMessage: msg, ExecutionDetails: details})
		x.updateBot(ctx, func(b *models.BotConfig) { b.OrderStatus = "FAILED" })
		x.res.Message = msg
		x.engine.notify(EventTradeFailed, x.payload(map[string]any{"order_id": sub.orderID, "error": msg}))
		return OutcomeFailed

	case fillUnknown:
		status := strings.ToUpper(poll.order.Status)
		msg := fmt.Sprintf("unexpected order status %s", status)
		x.updateTrade(ctx, sub.tradeID, models.TradeUpdate{Status: status, ErrorMessage: msg, ExecutionDetails: details})
		x.updateBot(ctx, func(b *models.BotConfig) { b.OrderStatus = status })
		x.res.Message = msg
		x.engine.notify(EventTradeFailed, x.payload(map[string]any{"order_id": sub.orderID, "error": msg}))
		return OutcomeError
	}

	msg := fmt.Sprintf("fill check failed: %v", poll.err)
	x.updateTrade(ctx, sub.tradeID, models.TradeUpdate{Status: models.TradeStatusFailed, ErrorMessage: msg, ExecutionDetails: details})
	x.updateBot(ctx, func(b *models.BotConfig) { b.OrderStatus = "FAILED" })
	x.res.Message = msg
	x.engine.notify(EventTradeFailed, x.payload(map[string]any{"order_id": sub.orderID, "error": msg}))
	return OutcomeFailed
}

func (x *execution) filled(ctx context.Context, sub submission, poll pollResult, details map[string]any) Outcome {
	e := x.engine
	o := poll.order
	qty, price := o.FilledQty, o.FilledAvgPrice
	slip, slipPct := slippage(sub.orderSide, sub.rec.ExpectedPrice.Decimal, price)

	ttf := poll.observedAt.Sub(sub.rec.OrderSubmittedAt).Milliseconds()
	filledAt := poll.observedAt
	if o.FilledAt != nil {
		filledAt = *o.FilledAt
	}
	upd := models.TradeUpdate{
		Status:             models.TradeStatusFilled,
		FilledQty:          decimal.NewNullDecimal(qty),
		FilledAvgPrice:     decimal.NewNullDecimal(price),
		Slippage:           slip,
		SlippagePercent:    slipPct,
		ExecutionLatencyMs: sub.rec.ExecutionLatencyMs,
		TimeToFillMs:       &ttf,
		FilledAt:           &filledAt,
		ExecutionDetails:   details,
	}

	key := x.key()
	if sub.closing {
		pnlQty := qty
		if !pnlQty.IsPositive() && sub.pos != nil {
			pnlQty = sub.pos.Quantity
		}
		entry, source, ok := e.resolveEntryPrice(ctx, entryLookup{
			userID: x.bot.UserID,
			symbol: x.symbol,
			key:    key,
			side:   sub.closedSide,
			pos:    sub.pos,
			before: sub.rec.OrderSubmittedAt,
		}, x.log)
		var pnl decimal.NullDecimal
		if ok && price.IsPositive() {
			pnl = decimal.NewNullDecimal(realizedPnL(sub.closedSide, entry, price, pnlQty))
			upd.RealizedPnL = pnl
			details["entry_price"] = entry.String()
			details["entry_price_source"] = source
			x.res.RealizedPnL = floatPtr(pnl.Decimal)
		} else {
			details["pnl_unresolved"] = true
			x.log.Warn("entry price unknown, realized P&L left empty")
		}
		e.forgetEntry(key)
		x.updateBot(ctx, func(b *models.BotConfig) {
			b.OrderStatus = "FILLED"
			b.CurrentPositionSide = models.SideFlat
			b.TotalTrades++
			if pnl.Valid {
				b.TotalPnL = b.TotalPnL.Add(pnl.Decimal)
			}
		})
	} else {
		side := models.SideLong
		if sub.orderSide == models.OrderSideSell {
			side = models.SideShort
		}
		e.rememberEntry(key, entryContext{Side: side, Price: price, Qty: qty, At: filledAt})
		x.updateBot(ctx, func(b *models.BotConfig) {
			b.OrderStatus = "FILLED"
			b.CurrentPositionSide = side
		})
	}
	x.updateTrade(ctx, sub.tradeID, upd)

	x.res.FilledQty = floatPtr(qty)
	x.res.FilledPrice = floatPtr(price)
	if slip.Valid {
		x.res.Slippage = floatPtr(slip.Decimal)
	}
	x.res.Message = fmt.Sprintf("filled %s @ %s", qty, price)

	payload := map[string]any{"order_id": sub.orderID, "filled_qty": qty.String(), "filled_price": price.String()}
	if upd.RealizedPnL.Valid {
		payload["realized_pnl"] = upd.RealizedPnL.Decimal.StringFixed(2)
	}
	if slip.Valid {
		payload["slippage"] = slip.Decimal.String()
	}
	e.notify(EventTradeFilled, x.payload(payload))
	return OutcomeFilled
}

func (x *execution) payload(extra map[string]any) map[string]any {
	p := map[string]any{
		"bot_id":    x.bot.ID,
		"user_id":   x.bot.UserID,
		"symbol":    x.symbol,
		"timeframe": x.bot.Timeframe,
		"action":    string(x.sig.Action),
		"source":    x.sig.Source,
	}
	for k, v := range extra {
		p[k] = v
	}
	return p
}
