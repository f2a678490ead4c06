package bots

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"alpha_executor/internal/models"
)

func writeFile(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "bots.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const twoBots = `
bots:
  - user_id: 7
    symbol: aapl
    timeframe: 1h
    position_size: 1000
    risk_limit_percent: 5
  - user_id: 7
    symbol: BTC/USD
    timeframe: 4h
    position_size: 0.25
    sizing: qty
    active: false
`

func TestParse(t *testing.T) {
	bots, err := Parse(writeFile(t, t.TempDir(), twoBots))
	require.NoError(t, err)
	require.Len(t, bots, 2)

	assert.Equal(t, "AAPL", bots[0].Symbol)
	assert.Equal(t, models.SizingNotional, bots[0].Sizing)
	assert.True(t, bots[0].PositionSize.Equal(decimal.NewFromInt(1000)))
	assert.True(t, bots[0].RiskLimitPercent.Equal(decimal.NewFromInt(5)))
	assert.True(t, bots[0].IsActive)

	assert.Equal(t, "BTC/USD", bots[1].Symbol)
	assert.Equal(t, models.SizingQty, bots[1].Sizing)
	assert.True(t, bots[1].PositionSize.Equal(decimal.RequireFromString("0.25")))
	assert.False(t, bots[1].IsActive)
	assert.True(t, bots[1].RiskLimitPercent.IsZero())
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]struct {
		body string
		want string
	}{
		"unknown key": {`
bots:
  - user_id: 7
    symbol: AAPL
    timeframe: 1h
    position_size: 100
    stop_loss: 3
`, "stop_loss"},
		"missing symbol": {`
bots:
  - user_id: 7
    timeframe: 1h
    position_size: 100
`, "symbol is required"},
		"zero size": {`
bots:
  - user_id: 7
    symbol: AAPL
    timeframe: 1h
    position_size: 0
`, "position_size"},
		"bad sizing": {`
bots:
  - user_id: 7
    symbol: AAPL
    timeframe: 1h
    position_size: 100
    sizing: percent
`, "sizing"},
		"risk above 100": {`
bots:
  - user_id: 7
    symbol: AAPL
    timeframe: 1h
    position_size: 100
    risk_limit_percent: 150
`, "risk_limit_percent"},
		"duplicate key": {`
bots:
  - {user_id: 7, symbol: AAPL, timeframe: 1h, position_size: 100}
  - {user_id: 7, symbol: aapl, timeframe: 1h, position_size: 200}
`, "duplicates bots[0]"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(writeFile(t, t.TempDir(), tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

type fakeSyncer struct {
	mu    sync.Mutex
	calls []models.BotConfig
	fail  string
}

func (f *fakeSyncer) SyncBotConfig(_ context.Context, def models.BotConfig) (*models.BotConfig, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if def.Symbol == f.fail {
		return nil, false, errors.New("database is locked")
	}
	f.calls = append(f.calls, def)
	def.ID = int64(len(f.calls))
	return &def, true, nil
}

func (f *fakeSyncer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestNewRegistry_SyncsEveryDefinition(t *testing.T) {
	store := &fakeSyncer{}
	r, err := NewRegistry(context.Background(), writeFile(t, t.TempDir(), twoBots), store, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 2, store.count())
	snap := r.Snapshot()
	assert.Equal(t, int64(1), snap.Version)
	require.Len(t, snap.Bots, 2)
	assert.Equal(t, int64(1), snap.Bots[0].ID)
}

func TestNewRegistry_Errors(t *testing.T) {
	_, err := NewRegistry(context.Background(), "", &fakeSyncer{}, nil)
	require.Error(t, err)

	_, err = NewRegistry(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"), &fakeSyncer{}, nil)
	require.Error(t, err)

	store := &fakeSyncer{fail: "AAPL"}
	_, err = NewRegistry(context.Background(), writeFile(t, t.TempDir(), twoBots), store, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "7|AAPL|1h")
	assert.Equal(t, 1, store.count(), "the other definition is still synced")
}

func TestRegistry_WatchResyncsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, twoBots)
	store := &fakeSyncer{}
	r, err := NewRegistry(context.Background(), path, store, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Watch(ctx)

	writeFile(t, dir, `
bots:
  - {user_id: 7, symbol: MSFT, timeframe: 15m, position_size: 500}
`)

	assert.Eventually(t, func() bool {
		snap := r.Snapshot()
		return len(snap.Bots) == 1 && snap.Bots[0].Symbol == "MSFT"
	}, 5*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, store.count(), 3)
}
