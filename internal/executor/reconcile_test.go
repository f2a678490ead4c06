package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alpha_executor/internal/models"
)

func unresolved(t *testing.T, h *harness, rec models.TradeRecord) models.TradeRecord {
	t.Helper()
	if rec.Status == "" {
		rec.Status = models.TradeStatusSubmitted
	}
	rec.UserID, rec.BotConfigID, rec.Symbol, rec.Timeframe = 7, 1, "AAPL", "1h"
	rec.OrderSubmittedAt = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	id, err := h.trades.LogTrade(context.Background(), &rec)
	require.NoError(t, err)
	rec.ID = id
	return rec
}

func TestReconcile_FilledCloseAddsToTotals(t *testing.T) {
	h := newHarness(testBot())
	rec := unresolved(t, h, models.TradeRecord{
		Action:           models.ActionClose,
		OrderID:          "c9",
		SignalSource:     models.SourceRiskLimit,
		ExpectedPrice:    decNull("100"),
		ExecutionDetails: models.EncodeDetails(map[string]any{"closed_side": "LONG", "entry_price": "100"}),
	})
	h.gw.fill("c9", "sell", "10", "95")

	status, err := h.engine.Reconcile(context.Background(), rec)

	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusFilled, status)
	stored := h.trades.last()
	assert.Equal(t, models.TradeStatusFilled, stored.Status)
	assert.True(t, stored.RealizedPnL.Decimal.Equal(dec("-50")))
	assert.True(t, stored.Slippage.Decimal.Equal(dec("-5")))
	details := models.DecodeDetails(stored.ExecutionDetails)
	assert.Equal(t, "reconciler", details["resolved_by"])
	assert.Equal(t, entrySourcePosition, details["entry_price_source"])

	bot := h.bots.get(1)
	assert.Equal(t, 1, bot.TotalTrades)
	assert.True(t, bot.TotalPnL.Equal(dec("-50")))
	assert.Equal(t, models.SideFlat, bot.CurrentPositionSide)
	assert.Equal(t, "FILLED", bot.OrderStatus)
	assert.Equal(t, "reconciler", h.notifier.last[EventTradeFilled]["resolved_by"])
}

func TestReconcile_FilledEntryUpdatesBotState(t *testing.T) {
	cases := []struct {
		action models.Action
		side   string
		want   models.Side
	}{
		{models.ActionBuy, "buy", models.SideLong},
		{models.ActionSell, "sell", models.SideShort},
	}
	for _, tc := range cases {
		t.Run(string(tc.action), func(t *testing.T) {
			bot := testBot()
			bot.OrderStatus = "PENDING"
			h := newHarness(bot)
			rec := unresolved(t, h, models.TradeRecord{Action: tc.action, OrderID: "o9", Status: models.TradeStatusPending, ExpectedPrice: decNull("100")})
			h.gw.fill("o9", tc.side, "10", "100")

			_, err := h.engine.Reconcile(context.Background(), rec)
			require.NoError(t, err)

			stored := h.bots.get(1)
			assert.Equal(t, "FILLED", stored.OrderStatus)
			assert.Equal(t, tc.want, stored.CurrentPositionSide)
			assert.Zero(t, stored.TotalTrades)
		})
	}
}

func TestReconcile_FilledEntryIsRememberedForTheClose(t *testing.T) {
	h := newHarness(testBot())
	rec := unresolved(t, h, models.TradeRecord{Action: models.ActionBuy, OrderID: "o9", ExpectedPrice: decNull("100")})
	h.gw.fill("o9", "buy", "10", "100")

	status, err := h.engine.Reconcile(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusFilled, status)
	assert.Zero(t, h.bots.get(1).TotalTrades)

	// broker lost the average entry price; the reconciled fill supplies it
	h.gw.position = longPosition("10", "1000", "0", "0")
	h.gw.fill("c1", "sell", "10", "110")
	res := h.engine.Execute(context.Background(), testBot(), signal(models.ActionClose))

	require.NotNil(t, res.RealizedPnL)
	assert.InDelta(t, 100.0, *res.RealizedPnL, 1e-9)
	assert.Equal(t, entrySourceContext, models.DecodeDetails(h.trades.last().ExecutionDetails)["entry_price_source"])
}

func TestReconcile_StatusOutcomes(t *testing.T) {
	cases := []struct {
		name   string
		broker string
		want   string
	}{
		{"still in flight", "partially_filled", models.TradeStatusSubmitted},
		{"canceled", "canceled", models.TradeStatusFailed},
		{"expired", "expired", models.TradeStatusFailed},
		{"unknown", "held", "HELD"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(testBot())
			rec := unresolved(t, h, models.TradeRecord{Action: models.ActionBuy, OrderID: "o9"})
			h.gw.script("o9", orderReply{order: &models.Order{ID: "o9", Status: tc.broker}})

			status, err := h.engine.Reconcile(context.Background(), rec)

			require.NoError(t, err)
			assert.Equal(t, tc.want, status)
			assert.Equal(t, tc.want, h.trades.last().Status)
			assert.Empty(t, h.notifier.events)
		})
	}
}

func TestReconcile_SkipsWhatItCannotCheck(t *testing.T) {
	h := newHarness(testBot())

	status, err := h.engine.Reconcile(context.Background(), models.TradeRecord{ID: 3, Status: models.TradeStatusFilled, OrderID: "o1"})
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusFilled, status)

	_, err = h.engine.Reconcile(context.Background(), models.TradeRecord{ID: 4, Status: models.TradeStatusPending})
	require.Error(t, err)

	assert.Empty(t, h.gw.calls)
}

func TestReconcile_BrokerErrorLeavesRecord(t *testing.T) {
	h := newHarness(testBot())
	rec := unresolved(t, h, models.TradeRecord{Action: models.ActionBuy, OrderID: "o9", Status: models.TradeStatusPending})
	h.gw.script("o9", orderReply{err: errors.New("503")})

	status, err := h.engine.Reconcile(context.Background(), rec)

	require.Error(t, err)
	assert.Equal(t, models.TradeStatusPending, status)
	assert.Equal(t, models.TradeStatusPending, h.trades.last().Status)
}
