package alpaca

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"alpha_executor/internal/config"
	"alpha_executor/internal/market"
	"alpha_executor/internal/models"
)

// tradingAPI is the subset of *alpaca.Client the provider calls.
type tradingAPI interface {
	GetAccount() (*alpaca.Account, error)
	GetClock() (*alpaca.Clock, error)
	GetPosition(symbol string) (*alpaca.Position, error)
	GetPositions() ([]alpaca.Position, error)
	PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error)
	GetOrder(orderID string) (*alpaca.Order, error)
	ClosePosition(symbol string, req alpaca.ClosePositionRequest) (*alpaca.Order, error)
	CancelAllOrders() error
}

// marketDataAPI is the subset of *marketdata.Client the provider calls.
type marketDataAPI interface {
	GetLatestQuote(symbol string, req marketdata.GetLatestQuoteRequest) (*marketdata.Quote, error)
	GetLatestCryptoQuote(symbol string, req marketdata.GetLatestCryptoQuoteRequest) (*marketdata.CryptoQuote, error)
}

// Provider implements market.Gateway for Alpaca.
type Provider struct {
	trade tradingAPI
	data  marketDataAPI
	log   *zap.Logger
}

// Ensure Provider implements the interface
var _ market.Gateway = (*Provider)(nil)

// NewProvider returns a provider bound to one set of credentials.
// Missing credentials are a construction error.
func NewProvider(cfg config.BrokerConfig, log *zap.Logger) (*Provider, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("alpaca: api key and secret are required")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("alpaca: base url is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{
		trade: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			BaseURL:   cfg.BaseURL,
		}),
		data: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
		}),
		log: log.Named("alpaca"),
	}, nil
}

func newWithClients(trade tradingAPI, data marketDataAPI) *Provider {
	return &Provider{trade: trade, data: data, log: zap.NewNop()}
}

// --- Positions ---

// GetPosition tries each spelling of symbol; the broker stores crypto pairs
// without the slash, while signals usually carry it.
func (p *Provider) GetPosition(ctx context.Context, symbol string) (*models.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, alias := range market.Aliases(symbol) {
		pos, err := p.trade.GetPosition(alias)
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return nil, market.Wrap("get_position", symbol, err)
		}
		return mapPosition(pos), nil
	}
	flat := models.FlatPosition()
	flat.Symbol = strings.ToUpper(symbol)
	return flat, nil
}

func (p *Provider) ListPositions(ctx context.Context) ([]models.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := p.trade.GetPositions()
	if err != nil {
		return nil, market.Wrap("list_positions", "", err)
	}
	result := make([]models.Position, 0, len(raw))
	for i := range raw {
		result = append(result, *mapPosition(&raw[i]))
	}
	return result, nil
}

// --- Market Data ---

func (p *Provider) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pair := market.ParseSymbol(symbol)
	if market.IsCrypto(symbol) {
		q, err := p.data.GetLatestCryptoQuote(pair.Slash(), marketdata.GetLatestCryptoQuoteRequest{})
		if err != nil {
			return nil, market.Wrap("get_quote", symbol, err)
		}
		if q == nil {
			return nil, market.Wrap("get_quote", symbol, errors.New("no quote returned"))
		}
		return &models.Quote{
			Symbol:    pair.Slash(),
			BidPrice:  decimal.NewFromFloat(q.BidPrice),
			AskPrice:  decimal.NewFromFloat(q.AskPrice),
			Timestamp: q.Timestamp,
		}, nil
	}

	ticker := strings.ToUpper(strings.TrimSpace(symbol))
	q, err := p.data.GetLatestQuote(ticker, marketdata.GetLatestQuoteRequest{})
	if err != nil {
		return nil, market.Wrap("get_quote", symbol, err)
	}
	if q == nil {
		return nil, market.Wrap("get_quote", symbol, errors.New("no quote returned"))
	}
	return &models.Quote{
		Symbol:    ticker,
		BidPrice:  decimal.NewFromFloat(q.BidPrice),
		AskPrice:  decimal.NewFromFloat(q.AskPrice),
		Timestamp: q.Timestamp,
	}, nil
}

func (p *Provider) GetAccount(ctx context.Context) (*models.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a, err := p.trade.GetAccount()
	if err != nil {
		return nil, market.Wrap("get_account", "", err)
	}
	return &models.Account{
		ID:             a.ID,
		Currency:       a.Currency,
		Equity:         a.Equity,
		Cash:           a.Cash,
		BuyingPower:    a.BuyingPower,
		PortfolioValue: a.PortfolioValue,
	}, nil
}

// GetMarketClock asks the broker for equities; crypto trades around the clock.
func (p *Provider) GetMarketClock(ctx context.Context, symbol string) (*models.Clock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := p.trade.GetClock()
	if err != nil {
		if market.IsCrypto(symbol) {
			return &models.Clock{IsOpen: true}, nil
		}
		return nil, market.Wrap("get_clock", symbol, err)
	}
	clock := &models.Clock{
		Timestamp: c.Timestamp,
		IsOpen:    c.IsOpen,
		NextOpen:  c.NextOpen,
		NextClose: c.NextClose,
	}
	if market.IsCrypto(symbol) {
		clock.IsOpen = true
	}
	return clock, nil
}

// --- Execution ---

func (p *Provider) SubmitOrder(ctx context.Context, req models.OrderRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if (req.Qty == nil) == (req.Notional == nil) {
		return "", market.Wrap("submit_order", req.Symbol, errors.New("exactly one of qty and notional must be set"))
	}
	orderType := alpaca.Market
	if req.Type != "" {
		orderType = alpaca.OrderType(req.Type)
	}
	tif := alpaca.Day
	if req.TimeInForce == models.TimeInForceGTC {
		tif = alpaca.GTC
	}
	symbol := req.Symbol
	if market.IsCrypto(symbol) {
		symbol = market.ParseSymbol(symbol).Slash()
	}

	o, err := p.trade.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:        symbol,
		Qty:           req.Qty,
		Notional:      req.Notional,
		Side:          alpaca.Side(req.Side),
		Type:          orderType,
		TimeInForce:   tif,
		ClientOrderID: req.ClientOrderID,
	})
	if err != nil {
		return "", market.Wrap("submit_order", req.Symbol, err)
	}
	p.log.Debug("order placed", zap.String("symbol", symbol), zap.String("order_id", o.ID), zap.String("side", string(req.Side)))
	return o.ID, nil
}

func (p *Provider) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o, err := p.trade.GetOrder(orderID)
	if err != nil {
		return nil, market.Wrap("get_order", "", fmt.Errorf("order %s: %w", orderID, err))
	}
	return mapOrder(o), nil
}

func (p *Provider) ClosePosition(ctx context.Context, symbol string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	o, err := p.trade.ClosePosition(symbol, alpaca.ClosePositionRequest{})
	if err != nil {
		return "", market.Wrap("close_position", symbol, err)
	}
	return o.ID, nil
}

func (p *Provider) CancelAllOrders(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return market.Wrap("cancel_all_orders", "", p.trade.CancelAllOrders())
}

// Helpers

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusNotFound
	}
	return false
}

func mapPosition(x *alpaca.Position) *models.Position {
	qty := x.Qty.Abs()
	side := models.SideLong
	if strings.EqualFold(x.Side, "short") || x.Qty.IsNegative() {
		side = models.SideShort
	}
	if qty.IsZero() {
		side = models.SideFlat
	}
	marketValue := decimal.Zero
	if x.MarketValue != nil {
		marketValue = *x.MarketValue
	}
	unrealizedPL := decimal.Zero
	if x.UnrealizedPL != nil {
		unrealizedPL = *x.UnrealizedPL
	}
	return &models.Position{
		Symbol:       x.Symbol,
		Side:         side,
		Quantity:     qty,
		MarketValue:  marketValue,
		UnrealizedPL: unrealizedPL,
		EntryPrice:   x.AvgEntryPrice,
	}
}

func mapOrder(o *alpaca.Order) *models.Order {
	if o == nil {
		return nil
	}
	res := &models.Order{
		ID:            o.ID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		FilledQty:     o.FilledQty,
		Type:          string(o.Type),
		Side:          string(o.Side),
		Status:        strings.ToLower(o.Status),
		CreatedAt:     o.CreatedAt,
		FilledAt:      o.FilledAt,
	}
	// notional orders carry no qty
	if o.Qty != nil {
		res.Qty = *o.Qty
	}
	if o.FilledAvgPrice != nil {
		res.FilledAvgPrice = *o.FilledAvgPrice
	}
	return res
}
