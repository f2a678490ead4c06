// Package reconcile periodically settles trade records whose fill was not confirmed
// while the signal was being executed.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"alpha_executor/internal/models"
)

// Source lists records still waiting on the broker.
type Source interface {
	ListUnresolved(ctx context.Context, olderThan time.Time, limit int) ([]models.TradeRecord, error)
}

// Resolver re-checks one record and returns its status afterwards.
type Resolver interface {
	Reconcile(ctx context.Context, rec models.TradeRecord) (string, error)
}

type Config struct {
	Interval time.Duration
	// Grace keeps the loop away from orders the engine is still polling.
	Grace       time.Duration
	Concurrency int
	BatchSize   int
}

// Stats summarizes one pass.
type Stats struct {
	Checked   int
	Filled    int
	Failed    int
	StillOpen int
	Errors    int
}

type Reconciler struct {
	cfg      Config
	source   Source
	resolver Resolver
	log      *zap.Logger
	now      func() time.Time
}

func New(cfg Config, source Source, resolver Resolver, log *zap.Logger) (*Reconciler, error) {
	if source == nil || resolver == nil {
		return nil, errors.New("reconcile: source and resolver are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{cfg: cfg, source: source, resolver: resolver, log: log.Named("reconcile"), now: time.Now}, nil
}

// Run passes once right away and then on every tick until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.log.Error("reconcile pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce resolves the current batch. Per-record failures are counted, not returned.
func (r *Reconciler) RunOnce(ctx context.Context) (Stats, error) {
	recs, err := r.source.ListUnresolved(ctx, r.now().Add(-r.cfg.Grace), r.cfg.BatchSize)
	if err != nil {
		return Stats{}, err
	}
	if len(recs) == 0 {
		return Stats{}, nil
	}

	var (
		mu    sync.Mutex
		stats Stats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, rec := range recs {
		rec := rec
		g.Go(func() error {
			status, err := r.resolver.Reconcile(gctx, rec)
			mu.Lock()
			defer mu.Unlock()
			stats.Checked++
			switch {
			case err != nil:
				stats.Errors++
				r.log.Warn("trade not reconciled", zap.Int64("trade_id", rec.ID), zap.String("order_id", rec.OrderID), zap.Error(err))
			case status == models.TradeStatusFilled:
				stats.Filled++
			case !models.IsFinalTradeStatus(status):
				stats.StillOpen++
			default:
				stats.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	r.log.Info("reconcile pass",
		zap.Int("checked", stats.Checked),
		zap.Int("filled", stats.Filled),
		zap.Int("failed", stats.Failed),
		zap.Int("still_open", stats.StillOpen),
		zap.Int("errors", stats.Errors),
	)
	return stats, nil
}
