package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alpha_executor/internal/models"
)

func nd(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func ms(v int64) *int64 { return &v }

func sample() []models.TradeRecord {
	return []models.TradeRecord{
		{ID: 1, BotConfigID: 2, Symbol: "MSFT", Timeframe: "4h", Action: models.ActionBuy, Status: models.TradeStatusFilled, SlippagePercent: nd("-0.1"), ExecutionLatencyMs: ms(100)},
		{ID: 2, BotConfigID: 1, Symbol: "AAPL", Timeframe: "1h", Action: models.ActionBuy, Status: models.TradeStatusFilled, SlippagePercent: nd("0.2"), ExecutionLatencyMs: ms(200)},
		{ID: 3, BotConfigID: 1, Symbol: "AAPL", Timeframe: "1h", Action: models.ActionClose, Status: models.TradeStatusFilled, RealizedPnL: nd("100"), SlippagePercent: nd("-0.4"), ExecutionLatencyMs: ms(300)},
		{ID: 4, BotConfigID: 1, Symbol: "AAPL", Timeframe: "1h", Action: models.ActionClose, Status: models.TradeStatusFilled, RealizedPnL: nd("-40")},
		{ID: 5, BotConfigID: 1, Symbol: "AAPL", Timeframe: "1h", Action: models.ActionSell, Status: models.TradeStatusFailed},
		{ID: 6, BotConfigID: 1, Symbol: "AAPL", Timeframe: "1h", Action: models.ActionClose, Status: models.TradeStatusPending},
		{ID: 7, BotConfigID: 1, Symbol: "AAPL", Timeframe: "1h", Action: models.ActionBuy, Status: "DONE_FOR_DAY"},
	}
}

func TestSummarize(t *testing.T) {
	sums := Summarize(sample())
	require.Len(t, sums, 2)

	aapl := sums[0]
	assert.Equal(t, int64(1), aapl.BotConfigID)
	assert.Equal(t, 6, aapl.Trades)
	assert.Equal(t, 3, aapl.Filled)
	assert.Equal(t, 2, aapl.Failed)
	assert.Equal(t, 1, aapl.Pending)
	assert.Equal(t, 1, aapl.Wins)
	assert.Equal(t, 1, aapl.Losses)
	assert.True(t, aapl.RealizedPnL.Equal(decimal.NewFromInt(60)))
	assert.True(t, aapl.WinRate().Decimal.Equal(decimal.NewFromInt(50)))
	assert.True(t, aapl.AvgSlippagePct.Decimal.Equal(decimal.RequireFromString("-0.1")))
	assert.True(t, aapl.AvgLatencyMs.Decimal.Equal(decimal.NewFromInt(250)))

	msft := sums[1]
	assert.Equal(t, "MSFT", msft.Symbol)
	assert.False(t, msft.WinRate().Valid)
	assert.True(t, msft.RealizedPnL.IsZero())
}

func TestSummarize_IncludesFlattenedLeg(t *testing.T) {
	recs := []models.TradeRecord{
		{ID: 1, BotConfigID: 3, Symbol: "AAPL", Action: models.ActionBuy, Status: models.TradeStatusFilled,
			ExecutionDetails: models.EncodeDetails(map[string]any{"flatten_order_id": "c1", models.DetailFlattenPnL: "-25.50"})},
		{ID: 2, BotConfigID: 3, Symbol: "AAPL", Action: models.ActionClose, Status: models.TradeStatusFilled, RealizedPnL: nd("40")},
		{ID: 3, BotConfigID: 3, Symbol: "AAPL", Action: models.ActionSell, Status: models.TradeStatusFilled,
			ExecutionDetails: models.EncodeDetails(map[string]any{models.DetailFlattenPnLUnresolved: true})},
	}

	sums := Summarize(recs)
	require.Len(t, sums, 1)
	assert.True(t, sums[0].RealizedPnL.Equal(decimal.RequireFromString("14.5")), sums[0].RealizedPnL.String())
	assert.Equal(t, 1, sums[0].Wins)
	assert.Equal(t, 1, sums[0].Losses)
}

func TestTotal(t *testing.T) {
	total := Total(sample())
	assert.Equal(t, 7, total.Trades)
	assert.Equal(t, 4, total.Filled)
	assert.True(t, total.AvgLatencyMs.Decimal.Equal(decimal.NewFromInt(200)))
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	RenderSummary(&buf, Summarize(sample()), Total(sample()))
	out := buf.String()
	assert.Contains(t, strings.ToLower(out), "execution summary")
	assert.Contains(t, out, "AAPL")
	assert.Contains(t, out, "60.00")
	assert.Contains(t, out, "TOTAL")

	buf.Reset()
	RenderTrades(&buf, sample())
	out = buf.String()
	assert.Contains(t, out, "DONE_FOR_DAY")
	assert.Contains(t, out, "-40")
}
