// Package executor turns a normalized signal into a position transition at the broker.
//
// One Execute call resolves the current position, applies the risk limit, skips
// no-op signals, flattens an opposing position when needed, submits the order,
// polls for the fill and records the attempt. Calls for the same bot key are
// serialized; calls for different keys run concurrently.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"alpha_executor/internal/config"
	"alpha_executor/internal/market"
	"alpha_executor/internal/models"
	"alpha_executor/internal/retry"
)

// TradeLog is the append-only sink for execution attempts.
type TradeLog interface {
	LogTrade(ctx context.Context, rec *models.TradeRecord) (int64, error)
	UpdateTradeStatus(ctx context.Context, id int64, upd models.TradeUpdate) (bool, error)
	LastFilledEntry(ctx context.Context, userID int64, symbol string, action models.Action, before time.Time) (*models.TradeRecord, error)
}

// BotStore reads and writes BotConfig rows.
type BotStore interface {
	GetBotConfig(ctx context.Context, id int64) (*models.BotConfig, error)
	MutateBotConfig(ctx context.Context, id int64, fn func(*models.BotConfig) error) (*models.BotConfig, error)
}

// RiskLog stores risk-limit breaches.
type RiskLog interface {
	RecordRiskEvent(ctx context.Context, ev *models.RiskEvent) error
}

// Notifier is fire-and-forget; it must not block or fail the caller.
type Notifier interface {
	Notify(eventType string, payload map[string]any)
}

// Notification event types.
const (
	EventTradeFilled    = "trade_filled"
	EventTradePending   = "trade_pending"
	EventTradeFailed    = "trade_failed"
	EventRiskLimit      = "risk_limit"
	EventExecutionError = "execution_error"
)

// Deps are the collaborators the engine is built from.
type Deps struct {
	Gateway  market.Gateway
	Trades   TradeLog
	Bots     BotStore
	Risk     RiskLog
	Notifier Notifier // optional
	Sleeper  retry.Sleeper
	Now      func() time.Time
	// NewClientOrderID defaults to a random UUID.
	NewClientOrderID func() string
	Log              *zap.Logger
}

// Engine executes signals for any number of bots.
type Engine struct {
	cfg      config.EngineConfig
	gw       market.Gateway
	trades   TradeLog
	bots     BotStore
	risk     RiskLog
	notifier Notifier
	sleeper  retry.Sleeper
	now      func() time.Time
	newCOID  func() string
	log      *zap.Logger

	locks *keyLocks

	entriesMu sync.Mutex
	entries   map[string]entryContext
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, map[string]any) {}

// New validates the collaborators. This is the only place the engine reports a plain error.
func New(cfg config.EngineConfig, deps Deps) (*Engine, error) {
	var missing []string
	if deps.Gateway == nil {
		missing = append(missing, "gateway")
	}
	if deps.Trades == nil {
		missing = append(missing, "trade log")
	}
	if deps.Bots == nil {
		missing = append(missing, "bot store")
	}
	if deps.Risk == nil {
		missing = append(missing, "risk log")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("executor: missing dependencies: %s", strings.Join(missing, ", "))
	}
	if cfg.EntryPoll.MaxAttempts < 1 || cfg.ClosePoll.MaxAttempts < 1 {
		return nil, errors.New("executor: poll policies need at least one attempt")
	}

	e := &Engine{
		cfg:      cfg,
		gw:       deps.Gateway,
		trades:   deps.Trades,
		bots:     deps.Bots,
		risk:     deps.Risk,
		notifier: deps.Notifier,
		sleeper:  deps.Sleeper,
		now:      deps.Now,
		newCOID:  deps.NewClientOrderID,
		log:      deps.Log,
		locks:    newKeyLocks(),
		entries:  make(map[string]entryContext),
	}
	if e.notifier == nil {
		e.notifier = nopNotifier{}
	}
	if e.sleeper == nil {
		e.sleeper = retry.TimerSleeper
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newCOID == nil {
		e.newCOID = uuid.NewString
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	e.log = e.log.Named("executor")
	return e, nil
}

// Execute runs one signal against one bot and always returns a result; failures are
// reported through Status "error" rather than a Go error.
func (e *Engine) Execute(ctx context.Context, bot models.BotConfig, sig models.Signal) models.ExecutionResult {
	symbol := strings.ToUpper(strings.TrimSpace(bot.Symbol))
	if symbol == "" {
		symbol = strings.ToUpper(strings.TrimSpace(sig.Symbol))
	}
	res := models.ExecutionResult{
		Action:      string(sig.Action),
		Symbol:      symbol,
		BotConfigID: bot.ID,
	}

	action, ok := models.ParseAction(string(sig.Action))
	if !ok {
		res.Status = OutcomeError.ResultStatus()
		res.Message = fmt.Sprintf("unknown action %q", sig.Action)
		return res
	}
	sig.Action = action
	res.Action = string(action)
	if sig.ReceivedAt.IsZero() {
		sig.ReceivedAt = e.now()
	}
	if sig.Source == "" {
		sig.Source = models.SourceManual
	}

	unlock := e.locks.Lock(models.BotKey(bot.UserID, symbol, bot.Timeframe))
	defer unlock()

	// The caller's copy may be stale by the time the lock is ours.
	if bot.ID != 0 {
		fresh, err := e.bots.GetBotConfig(ctx, bot.ID)
		if err != nil {
			res.Status = OutcomeError.ResultStatus()
			res.Message = fmt.Sprintf("load bot config: %v", err)
			return res
		}
		bot = *fresh
	}

	x := &execution{
		engine: e,
		bot:    bot,
		sig:    sig,
		symbol: symbol,
		res:    res,
		log: e.log.With(
			zap.Int64("bot_id", bot.ID),
			zap.String("symbol", symbol),
			zap.String("timeframe", bot.Timeframe),
			zap.String("action", string(action)),
		),
	}
	outcome := x.run(ctx)
	x.res.Status = outcome.ResultStatus()

	x.log.Info("signal executed",
		zap.String("outcome", outcome.String()),
		zap.String("order_id", x.res.OrderID),
		zap.String("source", sig.Source),
		zap.String("message", x.res.Message),
	)
	return x.res
}

// updateBot applies fn to the stored BotConfig. Failures are logged; they never
// change the outcome of an order that already reached the broker.
func (x *execution) updateBot(ctx context.Context, fn func(*models.BotConfig)) {
	if x.bot.ID == 0 {
		x.bot.LastSignal = string(x.sig.Action)
		fn(&x.bot)
		return
	}
	updated, err := x.engine.bots.MutateBotConfig(ctx, x.bot.ID, func(b *models.BotConfig) error {
		b.LastSignal = string(x.sig.Action)
		fn(b)
		return nil
	})
	if err != nil {
		x.log.Error("bot config update failed", zap.Error(err))
		return
	}
	x.bot = *updated
}

func (e *Engine) notify(event string, payload map[string]any) {
	e.notifier.Notify(event, payload)
}
