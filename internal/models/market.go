package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the net direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
	SideFlat  Side = "FLAT"
)

// OrderSide is the direction of a single order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// TimeInForce values accepted by the gateway.
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "day"
	TimeInForceGTC TimeInForce = "gtc"
)

// Position is the broker's view of net exposure for one symbol.
// Quantity is always >= 0; the direction lives in Side.
type Position struct {
	Symbol       string          `json:"symbol"` // spelling the broker holds, e.g. "BTCUSD"
	Side         Side            `json:"side"`
	Quantity     decimal.Decimal `json:"quantity"`
	MarketValue  decimal.Decimal `json:"market_value"`
	UnrealizedPL decimal.Decimal `json:"unrealized_pl"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
}

// FlatPosition returns the position reported when nothing is held.
func FlatPosition() *Position {
	return &Position{Side: SideFlat}
}

// IsFlat reports whether there is no exposure. Side and Quantity must agree.
func (p *Position) IsFlat() bool {
	return p == nil || p.Side == SideFlat || p.Quantity.IsZero()
}

// Order represents a generic order found in any broker.
type Order struct {
	ID             string          `json:"id"`
	ClientOrderID  string          `json:"client_order_id"`
	Symbol         string          `json:"symbol"`
	Qty            decimal.Decimal `json:"qty"`
	FilledQty      decimal.Decimal `json:"filled_qty"`
	Type           string          `json:"type"`   // market, limit, stop, etc.
	Side           string          `json:"side"`   // buy, sell
	Status         string          `json:"status"` // new, filled, canceled, expired, rejected
	FilledAvgPrice decimal.Decimal `json:"filled_avg_price"`
	CreatedAt      time.Time       `json:"created_at"`
	FilledAt       *time.Time      `json:"filled_at,omitempty"`
}

// OrderRequest is what the engine asks the gateway to submit.
// Exactly one of Qty and Notional is set.
type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Qty           *decimal.Decimal
	Notional      *decimal.Decimal
	Type          string // market
	TimeInForce   TimeInForce
	ClientOrderID string
}

// Quote represents a generic bid/ask quote.
type Quote struct {
	Symbol    string
	BidPrice  decimal.Decimal
	AskPrice  decimal.Decimal
	Timestamp time.Time
}

// Spread is ask minus bid.
func (q *Quote) Spread() decimal.Decimal {
	return q.AskPrice.Sub(q.BidPrice)
}

// Account represents the generic account state.
type Account struct {
	ID             string
	Currency       string
	Equity         decimal.Decimal
	Cash           decimal.Decimal
	BuyingPower    decimal.Decimal
	PortfolioValue decimal.Decimal
}

// Clock represents the market status.
type Clock struct {
	Timestamp time.Time
	IsOpen    bool
	NextOpen  time.Time
	NextClose time.Time
}
