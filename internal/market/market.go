package market

import (
	"context"
	"errors"
	"fmt"

	"alpha_executor/internal/models"
)

// Gateway is the capability set the execution engine needs from a brokerage.
// Implementations wrap a broker SDK; the engine and its tests only see this interface,
// so Alpaca can be swapped for another broker or a fake without touching the engine.
type Gateway interface {
	// GetPosition returns a FLAT position, not an error, when nothing is held.
	GetPosition(ctx context.Context, symbol string) (*models.Position, error)
	ListPositions(ctx context.Context) ([]models.Position, error)
	GetQuote(ctx context.Context, symbol string) (*models.Quote, error)
	GetAccount(ctx context.Context) (*models.Account, error)
	// GetMarketClock reports IsOpen=true for always-on asset classes such as crypto.
	GetMarketClock(ctx context.Context, symbol string) (*models.Clock, error)
	// SubmitOrder does not wait for a fill.
	SubmitOrder(ctx context.Context, req models.OrderRequest) (string, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	// ClosePosition flattens the whole position. symbol must be the spelling the broker holds.
	ClosePosition(ctx context.Context, symbol string) (string, error)
	CancelAllOrders(ctx context.Context) error
}

// GatewayError wraps every failure coming back from the brokerage.
type GatewayError struct {
	Op     string
	Symbol string
	Err    error
}

func (e *GatewayError) Error() string {
	if e.Symbol == "" {
		return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("gateway %s %s: %v", e.Op, e.Symbol, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Wrap builds a GatewayError; it returns nil for a nil err.
func Wrap(op, symbol string, err error) error {
	if err == nil {
		return nil
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return err
	}
	return &GatewayError{Op: op, Symbol: symbol, Err: err}
}

// IsGatewayError reports whether err came from the brokerage.
func IsGatewayError(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr)
}
