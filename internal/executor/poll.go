package executor

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"alpha_executor/internal/models"
	"alpha_executor/internal/retry"
)

type fillKind int

const (
	fillFilled fillKind = iota
	fillInFlight
	fillRejected
	fillUnknown
	// fillUnconfirmed means the last status query itself failed.
	fillUnconfirmed
)

var inFlightStatuses = map[string]bool{
	"new":              true,
	"partially_filled": true,
	"pending_new":      true,
	"accepted":         true,
	"pending_replace":  true,
}

var failureStatuses = map[string]bool{
	"rejected":  true,
	"canceled":  true,
	"cancelled": true,
	"expired":   true,
	"suspended": true,
	"stopped":   true,
}

func classifyStatus(status string) fillKind {
	s := strings.ToLower(strings.TrimSpace(status))
	switch {
	case s == "filled":
		return fillFilled
	case inFlightStatuses[s]:
		return fillInFlight
	case failureStatuses[s]:
		return fillRejected
	}
	return fillUnknown
}

type pollResult struct {
	kind       fillKind
	order      *models.Order
	err        error
	attempts   int
	observedAt time.Time
}

// pollFill checks the order under policy until it leaves the in-flight set or the
// budget runs out. Status query errors are retried like in-flight statuses.
func (e *Engine) pollFill(ctx context.Context, orderID string, policy retry.Policy, log *zap.Logger) pollResult {
	var res pollResult
	var queryErr error

	attempts, err := policy.Do(ctx, e.sleeper, func(ctx context.Context, attempt int) (bool, error) {
		o, err := e.gw.GetOrder(ctx, orderID)
		if err != nil {
			queryErr = err
			log.Warn("order status poll failed", zap.String("order_id", orderID), zap.Int("attempt", attempt+1), zap.Error(err))
			return false, err
		}
		queryErr = nil
		res.order = o
		res.observedAt = e.now()
		return classifyStatus(o.Status) != fillInFlight, nil
	})
	res.attempts = attempts

	switch {
	case err == nil:
		res.kind = classifyStatus(res.order.Status)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// the order is live at the broker; leave it for reconciliation
		res.kind = fillInFlight
		res.err = err
	case queryErr != nil:
		res.kind = fillUnconfirmed
		res.err = queryErr
	default:
		res.kind = fillInFlight
	}
	return res
}
