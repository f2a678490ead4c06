package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"alpha_executor/internal/config"
	"alpha_executor/internal/models"
	"alpha_executor/internal/retry"
)

type orderReply struct {
	order *models.Order
	err   error
}

// fakeGateway is a scripted broker that records every call in order.
type fakeGateway struct {
	mu sync.Mutex

	calls []string

	position    *models.Position
	positionErr error
	quote       *models.Quote
	quoteErr    error
	clockErr    error
	accountErr  error

	submitted []models.OrderRequest
	submitErr error
	submitID  string
	// afterSubmit, when set, changes the broker position the way a fill would.
	afterSubmit func(req models.OrderRequest)

	closed   []string
	closeErr error
	closeID  string

	replies     map[string][]orderReply
	cancelCalls int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		position: models.FlatPosition(),
		quote:    &models.Quote{Symbol: "AAPL", BidPrice: dec("99.9"), AskPrice: dec("100")},
		submitID: "o1",
		closeID:  "c1",
		replies:  map[string][]orderReply{},
	}
}

func (g *fakeGateway) record(call string) {
	g.calls = append(g.calls, call)
}

// fill scripts orderID to report filled on the first poll.
func (g *fakeGateway) fill(orderID, side, qty, price string) {
	g.replies[orderID] = []orderReply{{order: &models.Order{ID: orderID, Side: side, Status: "filled", FilledQty: dec(qty), FilledAvgPrice: dec(price)}}}
}

func (g *fakeGateway) script(orderID string, replies ...orderReply) {
	g.replies[orderID] = replies
}

func (g *fakeGateway) GetPosition(_ context.Context, symbol string) (*models.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("get_position")
	if g.positionErr != nil {
		return nil, g.positionErr
	}
	p := *g.position
	if p.Symbol == "" {
		p.Symbol = symbol
	}
	return &p, nil
}

func (g *fakeGateway) ListPositions(context.Context) ([]models.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return []models.Position{*g.position}, nil
}

func (g *fakeGateway) GetQuote(context.Context, string) (*models.Quote, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("get_quote")
	if g.quoteErr != nil {
		return nil, g.quoteErr
	}
	q := *g.quote
	return &q, nil
}

func (g *fakeGateway) GetAccount(context.Context) (*models.Account, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.accountErr != nil {
		return nil, g.accountErr
	}
	return &models.Account{Equity: dec("10000"), BuyingPower: dec("20000")}, nil
}

func (g *fakeGateway) GetMarketClock(context.Context, string) (*models.Clock, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.clockErr != nil {
		return nil, g.clockErr
	}
	return &models.Clock{IsOpen: true}, nil
}

func (g *fakeGateway) SubmitOrder(_ context.Context, req models.OrderRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("submit_order")
	g.submitted = append(g.submitted, req)
	if g.submitErr != nil {
		return "", g.submitErr
	}
	if g.afterSubmit != nil {
		g.afterSubmit(req)
	}
	return g.submitID, nil
}

func (g *fakeGateway) GetOrder(_ context.Context, orderID string) (*models.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("get_order")
	replies := g.replies[orderID]
	if len(replies) == 0 {
		return nil, errors.New("unknown order " + orderID)
	}
	r := replies[0]
	if len(replies) > 1 {
		g.replies[orderID] = replies[1:]
	}
	if r.order != nil {
		o := *r.order
		return &o, r.err
	}
	return nil, r.err
}

func (g *fakeGateway) ClosePosition(_ context.Context, symbol string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("close_position")
	g.closed = append(g.closed, symbol)
	if g.closeErr != nil {
		return "", g.closeErr
	}
	return g.closeID, nil
}

func (g *fakeGateway) CancelAllOrders(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("cancel_all_orders")
	g.cancelCalls++
	return nil
}

func (g *fakeGateway) count(call string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (g *fakeGateway) callsOf(names ...string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	want := map[string]bool{}
	for _, n := range names {
		want[n] = true
	}
	var out []string
	for _, c := range g.calls {
		if want[c] {
			out = append(out, c)
		}
	}
	return out
}

// fakeTrades is an in-memory trade log with the same final-status rule as the real store.
type fakeTrades struct {
	mu      sync.Mutex
	records []*models.TradeRecord
	logErr  error
}

func (f *fakeTrades) LogTrade(_ context.Context, rec *models.TradeRecord) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.logErr != nil {
		return 0, f.logErr
	}
	cp := *rec
	cp.ID = int64(len(f.records) + 1)
	f.records = append(f.records, &cp)
	return cp.ID, nil
}

func (f *fakeTrades) UpdateTradeStatus(_ context.Context, id int64, upd models.TradeUpdate) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id < 1 || int(id) > len(f.records) {
		return false, errors.New("not found")
	}
	rec := f.records[id-1]
	if models.IsFinalTradeStatus(rec.Status) {
		return false, errors.New("final")
	}
	rec.Status = upd.Status
	if upd.FilledQty.Valid {
		rec.FilledQty = upd.FilledQty
	}
	if upd.FilledAvgPrice.Valid {
		rec.FilledAvgPrice = upd.FilledAvgPrice
	}
	rec.Slippage = upd.Slippage
	rec.SlippagePercent = upd.SlippagePercent
	rec.RealizedPnL = upd.RealizedPnL
	rec.TimeToFillMs = upd.TimeToFillMs
	if upd.ErrorMessage != "" {
		rec.ErrorMessage = upd.ErrorMessage
	}
	if upd.ExecutionDetails != nil {
		merged := models.DecodeDetails(rec.ExecutionDetails)
		for k, v := range upd.ExecutionDetails {
			merged[k] = v
		}
		rec.ExecutionDetails = models.EncodeDetails(merged)
	}
	return true, nil
}

func (f *fakeTrades) LastFilledEntry(_ context.Context, userID int64, symbol string, action models.Action, before time.Time) (*models.TradeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.records) - 1; i >= 0; i-- {
		r := f.records[i]
		if r.UserID == userID && r.Symbol == symbol && r.Action == action &&
			r.Status == models.TradeStatusFilled && r.OrderSubmittedAt.Before(before) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeTrades) last() *models.TradeRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.records) == 0 {
		return nil
	}
	cp := *f.records[len(f.records)-1]
	return &cp
}

func (f *fakeTrades) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fakeBots struct {
	mu   sync.Mutex
	bots map[int64]*models.BotConfig
}

func newFakeBots(bots ...models.BotConfig) *fakeBots {
	f := &fakeBots{bots: map[int64]*models.BotConfig{}}
	for i := range bots {
		b := bots[i]
		f.bots[b.ID] = &b
	}
	return f
}

func (f *fakeBots) GetBotConfig(_ context.Context, id int64) (*models.BotConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bots[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *b
	return &cp, nil
}

func (f *fakeBots) MutateBotConfig(_ context.Context, id int64, fn func(*models.BotConfig) error) (*models.BotConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bots[id]
	if !ok {
		return nil, errors.New("not found")
	}
	next := *b
	if err := fn(&next); err != nil {
		return nil, err
	}
	next.Version++
	f.bots[id] = &next
	cp := next
	return &cp, nil
}

func (f *fakeBots) get(id int64) models.BotConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.bots[id]
}

type fakeRisk struct {
	mu     sync.Mutex
	events []models.RiskEvent
}

func (f *fakeRisk) RecordRiskEvent(_ context.Context, ev *models.RiskEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *ev)
	return nil
}

type spyNotifier struct {
	mu     sync.Mutex
	events []string
	last   map[string]map[string]any
}

func (s *spyNotifier) Notify(eventType string, payload map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		s.last = map[string]map[string]any{}
	}
	s.events = append(s.events, eventType)
	s.last[eventType] = payload
}

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

// steppingClock advances 50ms on every read so latencies are positive and deterministic.
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(50 * time.Millisecond)
	return c.now
}

type harness struct {
	engine   *Engine
	gw       *fakeGateway
	trades   *fakeTrades
	bots     *fakeBots
	risk     *fakeRisk
	notifier *spyNotifier
	sleeper  *recordingSleeper
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		Mode:        config.ModePaper,
		EntryPoll:   retry.Fixed(1, 2*time.Second),
		ClosePoll:   retry.Fixed(3, 2*time.Second),
		FlattenWait: time.Second,
	}
}

func newHarness(bots ...models.BotConfig) *harness {
	h := &harness{
		gw:       newFakeGateway(),
		trades:   &fakeTrades{},
		bots:     newFakeBots(bots...),
		risk:     &fakeRisk{},
		notifier: &spyNotifier{},
		sleeper:  &recordingSleeper{},
	}
	clock := &steppingClock{now: time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)}
	e, err := New(testEngineConfig(), Deps{
		Gateway:          h.gw,
		Trades:           h.trades,
		Bots:             h.bots,
		Risk:             h.risk,
		Notifier:         h.notifier,
		Sleeper:          h.sleeper,
		Now:              clock.Now,
		NewClientOrderID: func() string { return "coid-1" },
		Log:              zap.NewNop(),
	})
	if err != nil {
		panic(err)
	}
	h.engine = e
	return h
}

func testBot() models.BotConfig {
	return models.BotConfig{
		ID:                  1,
		UserID:              7,
		Symbol:              "AAPL",
		Timeframe:           "1h",
		PositionSize:        dec("1000"),
		Sizing:              models.SizingNotional,
		RiskLimitPercent:    dec("5"),
		IsActive:            true,
		CurrentPositionSide: models.SideFlat,
	}
}

func signal(action models.Action) models.Signal {
	return models.Signal{
		Symbol:     "AAPL",
		Action:     action,
		Timeframe:  "1h",
		Source:     models.SourceWebhook,
		ReceivedAt: time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC),
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decNull(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(dec(s))
}
