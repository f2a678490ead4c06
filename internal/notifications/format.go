package notifications

import (
	"fmt"
	"sort"
	"strings"

	"alpha_executor/internal/executor"
)

// Format renders ev as a Telegram Markdown message.
func Format(ev Event) string {
	p := ev.Payload
	var sb strings.Builder
	switch ev.Type {
	case executor.EventTradeFilled:
		fmt.Fprintf(&sb, "✅ *FILLED* %s %s (%s)\n", get(p, "action"), get(p, "symbol"), get(p, "timeframe"))
		fmt.Fprintf(&sb, "Qty: %s @ $%s", get(p, "filled_qty"), get(p, "filled_price"))
		if v, ok := p["slippage"]; ok {
			fmt.Fprintf(&sb, "\nSlippage: %v", v)
		}
		if v, ok := p["realized_pnl"]; ok {
			fmt.Fprintf(&sb, "\nRealized P&L: $%v", v)
		}
		if v, ok := p["resolved_by"]; ok {
			fmt.Fprintf(&sb, "\n_resolved by %v_", v)
		}
	case executor.EventTradePending:
		fmt.Fprintf(&sb, "⏳ *PENDING* %s %s (%s)\nOrder %s not filled yet", get(p, "action"), get(p, "symbol"), get(p, "timeframe"), get(p, "order_id"))
	case executor.EventTradeFailed:
		fmt.Fprintf(&sb, "❌ *ORDER FAILED* %s %s (%s)\n%s", get(p, "action"), get(p, "symbol"), get(p, "timeframe"), get(p, "error"))
	case executor.EventRiskLimit:
		fmt.Fprintf(&sb, "🛑 *RISK LIMIT HIT* %s (%s)\nLoss: %s%% (limit %s%%)\n%s\nBot #%s disabled",
			get(p, "symbol"), get(p, "timeframe"), get(p, "loss_percent"), get(p, "limit_percent"), get(p, "action_taken"), get(p, "bot_id"))
	case executor.EventExecutionError:
		fmt.Fprintf(&sb, "⚠️ *EXECUTION ERROR* %s %s (%s)\n%s", get(p, "action"), get(p, "symbol"), get(p, "timeframe"), get(p, "error"))
	case EventSystemStart:
		fmt.Fprintf(&sb, "🚀 *SYSTEM START: Alpha Executor %s online*\nMode: [%s]", get(p, "version"), get(p, "mode"))
		if v, ok := p["equity"]; ok {
			fmt.Fprintf(&sb, "\nEquity: $%v", v)
		}
	case EventSystemStop:
		sb.WriteString("🛑 SYSTEM SHUTDOWN: signal received")
	default:
		fmt.Fprintf(&sb, "*%s*", strings.ToUpper(ev.Type))
		for _, k := range sortedKeys(p) {
			fmt.Fprintf(&sb, "\n%s: %v", k, p[k])
		}
	}
	return sb.String()
}

func get(p map[string]any, key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return "-"
	}
	return fmt.Sprint(v)
}

func sortedKeys(p map[string]any) []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
