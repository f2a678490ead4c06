package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Action is the instruction carried by a signal.
type Action string

const (
	ActionBuy   Action = "BUY"
	ActionSell  Action = "SELL"
	ActionClose Action = "CLOSE"
)

// ParseAction normalizes the spellings alert templates tend to emit.
func ParseAction(s string) (Action, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "LONG":
		return ActionBuy, true
	case "SELL", "SHORT":
		return ActionSell, true
	case "CLOSE", "EXIT", "FLAT", "FLATTEN":
		return ActionClose, true
	}
	return "", false
}

// Signal source tags.
const (
	SourceWebhook   = "webhook"
	SourceScheduler = "internal-scheduler"
	SourceManual    = "manual"
	SourceRiskLimit = "risk_limit"
)

// Signal is a normalized trading instruction. It is built once by a collaborator
// (webhook parser, scheduler, manual action) and consumed once by the engine.
type Signal struct {
	Symbol       string          `json:"symbol"`
	Action       Action          `json:"action"`
	Timeframe    string          `json:"timeframe"`
	PositionSize decimal.Decimal `json:"position_size"` // zero means use the bot's size
	Source       string          `json:"source"`
	ReceivedAt   time.Time       `json:"received_at"`
}

// Sizing modes for BotConfig.PositionSize.
const (
	SizingNotional = "notional"
	SizingQty      = "qty"
)

// BotConfig controls whether and how signals for one (user, symbol, timeframe) are acted on.
type BotConfig struct {
	ID                  int64           `gorm:"column:id;primaryKey" json:"id"`
	UserID              int64           `gorm:"column:user_id;uniqueIndex:idx_bot_key,priority:1" json:"user_id"`
	Symbol              string          `gorm:"column:symbol;size:32;uniqueIndex:idx_bot_key,priority:2" json:"symbol"`
	Timeframe           string          `gorm:"column:timeframe;size:16;uniqueIndex:idx_bot_key,priority:3" json:"timeframe"`
	PositionSize        decimal.Decimal `gorm:"column:position_size;type:text" json:"position_size"`
	Sizing              string          `gorm:"column:sizing;size:16;default:notional" json:"sizing"`
	RiskLimitPercent    decimal.Decimal `gorm:"column:risk_limit_percent;type:text" json:"risk_limit_percent"`
	IsActive            bool            `gorm:"column:is_active" json:"is_active"`
	OrderStatus         string          `gorm:"column:order_status" json:"order_status"`
	LastSignal          string          `gorm:"column:last_signal;size:16" json:"last_signal"`
	CurrentPositionSide Side            `gorm:"column:current_position_side;size:8;default:FLAT" json:"current_position_side"`
	TotalPnL            decimal.Decimal `gorm:"column:total_pnl;type:text" json:"total_pnl"`
	TotalTrades         int             `gorm:"column:total_trades" json:"total_trades"`
	Version             int64           `gorm:"column:version" json:"version"`
	CreatedAt           time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

func (BotConfig) TableName() string { return "bot_configs" }

// Key identifies the bot for per-key serialization.
func (b *BotConfig) Key() string {
	return BotKey(b.UserID, b.Symbol, b.Timeframe)
}

// BotKey formats the (user, symbol, timeframe) tuple.
func BotKey(userID int64, symbol, timeframe string) string {
	return strings.Join([]string{strconv.FormatInt(userID, 10), strings.ToUpper(symbol), timeframe}, "|")
}

// Trade record statuses. Broker statuses outside this set are stored uppercased.
const (
	TradeStatusSubmitted = "SUBMITTED"
	TradeStatusPending   = "PENDING"
	TradeStatusFilled    = "FILLED"
	TradeStatusFailed    = "FAILED"
)

// Execution detail keys for the position a flip closed before its entry.
const (
	DetailFlattenPnL           = "flatten_realized_pnl"
	DetailFlattenPnLUnresolved = "flatten_pnl_unresolved"
)

// FlattenPnL returns the realized P&L of the flatten leg stored with an entry record.
func (r *TradeRecord) FlattenPnL() (decimal.Decimal, bool) {
	v, ok := DecodeDetails(r.ExecutionDetails)[DetailFlattenPnL].(string)
	if !ok {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// IsFinalTradeStatus reports whether a record may no longer be updated.
func IsFinalTradeStatus(status string) bool {
	return status != TradeStatusSubmitted && status != TradeStatusPending
}

// TradeRecord is the append-only audit row for one execution attempt.
type TradeRecord struct {
	ID            int64  `gorm:"column:id;primaryKey" json:"id"`
	UserID        int64  `gorm:"column:user_id;index:idx_trade_lookup,priority:1" json:"user_id"`
	BotConfigID   int64  `gorm:"column:bot_config_id;index" json:"bot_config_id"`
	Symbol        string `gorm:"column:symbol;size:32;index:idx_trade_lookup,priority:2" json:"symbol"`
	Timeframe     string `gorm:"column:timeframe;size:16" json:"timeframe"`
	Action        Action `gorm:"column:action;size:8" json:"action"`
	OrderID       string `gorm:"column:order_id;size:64;index" json:"order_id"`
	ClientOrderID string `gorm:"column:client_order_id;size:64" json:"client_order_id"`

	BidPrice         decimal.NullDecimal `gorm:"column:bid_price;type:text" json:"bid_price"`
	AskPrice         decimal.NullDecimal `gorm:"column:ask_price;type:text" json:"ask_price"`
	Spread           decimal.NullDecimal `gorm:"column:spread;type:text" json:"spread"`
	MarketOpen       *bool               `gorm:"column:market_open" json:"market_open"`
	SignalSource     string              `gorm:"column:signal_source;size:32" json:"signal_source"`
	SignalReceivedAt time.Time           `gorm:"column:signal_received_at" json:"signal_received_at"`
	OrderSubmittedAt time.Time           `gorm:"column:order_submitted_at;index:idx_trade_lookup,priority:3" json:"order_submitted_at"`
	ExpectedPrice    decimal.NullDecimal `gorm:"column:expected_price;type:text" json:"expected_price"`

	Status             string              `gorm:"column:status;size:24;index" json:"status"`
	FilledQty          decimal.NullDecimal `gorm:"column:filled_qty;type:text" json:"filled_qty"`
	FilledAvgPrice     decimal.NullDecimal `gorm:"column:filled_avg_price;type:text" json:"filled_avg_price"`
	Slippage           decimal.NullDecimal `gorm:"column:slippage;type:text" json:"slippage"`
	SlippagePercent    decimal.NullDecimal `gorm:"column:slippage_percent;type:text" json:"slippage_percent"`
	ExecutionLatencyMs *int64              `gorm:"column:execution_latency_ms" json:"execution_latency_ms"`
	TimeToFillMs       *int64              `gorm:"column:time_to_fill_ms" json:"time_to_fill_ms"`
	RealizedPnL        decimal.NullDecimal `gorm:"column:realized_pnl;type:text" json:"realized_pnl"`
	ErrorMessage       string              `gorm:"column:error_message" json:"error_message,omitempty"`
	ExecutionDetails   datatypes.JSON      `gorm:"column:execution_details" json:"execution_details,omitempty"`
	FilledAt           *time.Time          `gorm:"column:filled_at" json:"filled_at,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (TradeRecord) TableName() string { return "trade_records" }

// TradeUpdate carries the outcome fields written when a record leaves SUBMITTED.
type TradeUpdate struct {
	Status             string
	FilledQty          decimal.NullDecimal
	FilledAvgPrice     decimal.NullDecimal
	Slippage           decimal.NullDecimal
	SlippagePercent    decimal.NullDecimal
	ExecutionLatencyMs *int64
	TimeToFillMs       *int64
	RealizedPnL        decimal.NullDecimal
	FilledAt           *time.Time
	ExecutionDetails   map[string]any
	ErrorMessage       string
}

// RiskEvent records an automatic risk-limit breach.
type RiskEvent struct {
	ID             int64           `gorm:"column:id;primaryKey" json:"id"`
	UserID         int64           `gorm:"column:user_id;index" json:"user_id"`
	BotConfigID    int64           `gorm:"column:bot_config_id;index" json:"bot_config_id"`
	EventType      string          `gorm:"column:event_type;size:32" json:"event_type"`
	Symbol         string          `gorm:"column:symbol;size:32" json:"symbol"`
	Timeframe      string          `gorm:"column:timeframe;size:16" json:"timeframe"`
	ThresholdValue decimal.Decimal `gorm:"column:threshold_value;type:text" json:"threshold_value"`
	CurrentValue   decimal.Decimal `gorm:"column:current_value;type:text" json:"current_value"`
	ActionTaken    string          `gorm:"column:action_taken" json:"action_taken"`
	CreatedAt      time.Time       `gorm:"column:created_at" json:"created_at"`
}

func (RiskEvent) TableName() string { return "risk_events" }

// Execution result statuses returned to callers.
const (
	ResultSuccess   = "success"
	ResultSkipped   = "skipped"
	ResultPending   = "pending"
	ResultError     = "error"
	ResultRiskLimit = "risk_limit"
)

// ExecutionResult is what every engine call returns; it is never replaced by an error.
type ExecutionResult struct {
	Status      string   `json:"status"`
	Action      string   `json:"action"`
	Symbol      string   `json:"symbol"`
	BotConfigID int64    `json:"bot_config_id,omitempty"`
	OrderID     string   `json:"order_id,omitempty"`
	TradeID     *int64   `json:"trade_id,omitempty"`
	FilledQty   *float64 `json:"filled_qty,omitempty"`
	FilledPrice *float64 `json:"filled_price,omitempty"`
	RealizedPnL *float64 `json:"realized_pnl,omitempty"`
	Slippage    *float64 `json:"slippage,omitempty"`
	Message     string   `json:"message,omitempty"`
}

// EncodeDetails turns an execution details map into the JSON column value.
func EncodeDetails(details map[string]any) datatypes.JSON {
	if len(details) == 0 {
		return nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// DecodeDetails never returns nil; unreadable JSON yields an empty map.
func DecodeDetails(raw datatypes.JSON) map[string]any {
	out := map[string]any{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}
