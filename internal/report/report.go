// Package report summarizes the trade log per bot.
package report

import (
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/shopspring/decimal"

	"alpha_executor/internal/models"
)

var hundred = decimal.NewFromInt(100)

// BotSummary aggregates every record of one bot.
type BotSummary struct {
	BotConfigID    int64
	Symbol         string
	Timeframe      string
	Trades         int
	Filled         int
	Failed         int
	Pending        int
	Wins           int
	Losses         int
	RealizedPnL    decimal.Decimal
	AvgSlippagePct decimal.NullDecimal
	AvgLatencyMs   decimal.NullDecimal
}

// WinRate is wins over closed trades with a known P&L, in percent.
func (s BotSummary) WinRate() decimal.NullDecimal {
	closed := s.Wins + s.Losses
	if closed == 0 {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromInt(int64(s.Wins)).Div(decimal.NewFromInt(int64(closed))).Mul(hundred).Round(2))
}

type accumulator struct {
	BotSummary
	slipSum    decimal.Decimal
	slipN      int64
	latencySum int64
	latencyN   int64
}

func (a *accumulator) add(r models.TradeRecord) {
	a.Trades++
	switch {
	case r.Status == models.TradeStatusFilled:
		a.Filled++
	case !models.IsFinalTradeStatus(r.Status):
		a.Pending++
	default:
		a.Failed++
	}
	if r.Action == models.ActionClose && r.RealizedPnL.Valid {
		a.addPnL(r.RealizedPnL.Decimal)
	}
	// a flip closes the opposing position first; that leg is priced on the entry row
	if pnl, ok := r.FlattenPnL(); ok {
		a.addPnL(pnl)
	}
	if r.Status == models.TradeStatusFilled && r.SlippagePercent.Valid {
		a.slipSum = a.slipSum.Add(r.SlippagePercent.Decimal)
		a.slipN++
	}
	if r.ExecutionLatencyMs != nil {
		a.latencySum += *r.ExecutionLatencyMs
		a.latencyN++
	}
}

func (a *accumulator) addPnL(pnl decimal.Decimal) {
	a.RealizedPnL = a.RealizedPnL.Add(pnl)
	switch {
	case pnl.IsPositive():
		a.Wins++
	case pnl.IsNegative():
		a.Losses++
	}
}

func (a *accumulator) summary() BotSummary {
	s := a.BotSummary
	if a.slipN > 0 {
		s.AvgSlippagePct = decimal.NewNullDecimal(a.slipSum.Div(decimal.NewFromInt(a.slipN)).Round(4))
	}
	if a.latencyN > 0 {
		s.AvgLatencyMs = decimal.NewNullDecimal(decimal.NewFromInt(a.latencySum).Div(decimal.NewFromInt(a.latencyN)).Round(1))
	}
	return s
}

// Summarize groups records by bot, ordered by bot id.
func Summarize(recs []models.TradeRecord) []BotSummary {
	byBot := map[int64]*accumulator{}
	for _, r := range recs {
		a, ok := byBot[r.BotConfigID]
		if !ok {
			a = &accumulator{BotSummary: BotSummary{BotConfigID: r.BotConfigID, Symbol: r.Symbol, Timeframe: r.Timeframe}}
			byBot[r.BotConfigID] = a
		}
		a.add(r)
	}
	out := make([]BotSummary, 0, len(byBot))
	for _, a := range byBot {
		out = append(out, a.summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BotConfigID < out[j].BotConfigID })
	return out
}

// Total folds every record into a single summary.
func Total(recs []models.TradeRecord) BotSummary {
	a := &accumulator{}
	for _, r := range recs {
		a.add(r)
	}
	return a.summary()
}

// RenderSummary writes one row per bot plus a totals footer.
func RenderSummary(w io.Writer, sums []BotSummary, total BotSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Execution summary")
	t.AppendHeader(table.Row{"Bot", "Symbol", "TF", "Trades", "Filled", "Failed", "Pending", "Win %", "Realized P&L", "Avg slip %", "Avg latency ms"})
	for _, s := range sums {
		t.AppendRow(table.Row{
			s.BotConfigID, s.Symbol, s.Timeframe, s.Trades, s.Filled, s.Failed, s.Pending,
			nullString(s.WinRate()), s.RealizedPnL.StringFixed(2), nullString(s.AvgSlippagePct), nullString(s.AvgLatencyMs),
		})
	}
	t.AppendFooter(table.Row{
		"", "TOTAL", "", total.Trades, total.Filled, total.Failed, total.Pending,
		nullString(total.WinRate()), total.RealizedPnL.StringFixed(2), nullString(total.AvgSlippagePct), nullString(total.AvgLatencyMs),
	})
	t.SetColumnConfigs(numericColumns(4, 11))
	t.Render()
}

// RenderTrades writes the records as they are stored, newest first as given.
func RenderTrades(w io.Writer, recs []models.TradeRecord) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Submitted (UTC)", "Bot", "Symbol", "Action", "Status", "Qty", "Price", "Expected", "Slip %", "P&L", "Source"})
	for _, r := range recs {
		t.AppendRow(table.Row{
			r.ID, r.OrderSubmittedAt.UTC().Format("2006-01-02 15:04:05"), r.BotConfigID, r.Symbol, string(r.Action), r.Status,
			nullString(r.FilledQty), nullString(r.FilledAvgPrice), nullString(r.ExpectedPrice), nullString(r.SlippagePercent),
			nullString(r.RealizedPnL), r.SignalSource,
		})
	}
	t.SetColumnConfigs(numericColumns(7, 11))
	t.Render()
}

func numericColumns(from, to int) []table.ColumnConfig {
	cfgs := make([]table.ColumnConfig, 0, to-from+1)
	for n := from; n <= to; n++ {
		cfgs = append(cfgs, table.ColumnConfig{Number: n, Align: text.AlignRight, AlignFooter: text.AlignRight})
	}
	return cfgs
}

func nullString(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.String()
}
