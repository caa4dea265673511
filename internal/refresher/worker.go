// Package refresher keeps tracked assets warm by refreshing the stalest
// rows in the background, so list requests rarely wait on the model.
package refresher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/M-sasank/finsight/internal/refresh"
	"github.com/M-sasank/finsight/internal/storage"
)

// StaleLister finds assets of any owner last updated before cutoff.
type StaleLister interface {
	ListStaleAssets(ctx context.Context, cutoff time.Time, limit int) ([]storage.Asset, error)
}

// AssetRefresher refreshes one asset through the shared coordinator.
type AssetRefresher interface {
	RefreshStale(ctx context.Context, a storage.Asset) (refresh.Result[storage.Asset], error)
	TTL() time.Duration
}

const defaultBatchSize = 20

// Worker periodically refreshes stale assets.
type Worker struct {
	store    StaleLister
	assets   AssetRefresher
	interval time.Duration
	batch    int
	logger   *slog.Logger
	now      func() time.Time
}

// NewWorker creates a Worker. An interval <= 0 makes Run return at once.
// If batch is <= 0, it defaults to 20.
func NewWorker(store StaleLister, assets AssetRefresher, interval time.Duration, batch int) *Worker {
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &Worker{
		store:    store,
		assets:   assets,
		interval: interval,
		batch:    batch,
		logger:   slog.Default(),
		now:      time.Now,
	}
}

// SetLogger replaces the worker's logger.
func (w *Worker) SetLogger(l *slog.Logger) {
	if l != nil {
		w.logger = l
	}
}

// Run refreshes a batch every interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	if w.interval <= 0 {
		return
	}
	w.logger.Info("background refresher started", "interval", w.interval, "batch", w.batch)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("refresher iteration failed", "error", err)
			continue
		}
		if n > 0 {
			w.logger.Info("refreshed stale assets", "count", n)
		}
	}
}

// RunOnce refreshes up to one batch of stale assets, oldest first, and
// returns how many received new data. A failed asset keeps its stored row
// and does not stop the batch.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	cutoff := w.now().Add(-w.assets.TTL())
	stale, err := w.store.ListStaleAssets(ctx, cutoff, w.batch)
	if err != nil {
		return 0, fmt.Errorf("listing stale assets: %w", err)
	}

	refreshed := 0
	for _, a := range stale {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}
		res, err := w.assets.RefreshStale(ctx, a)
		if err != nil {
			w.logger.Warn("asset refresh failed", "owner", a.OwnerID, "symbol", a.Symbol, "error", err)
			continue
		}
		if res.Source == refresh.SourceFresh {
			refreshed++
		}
	}
	return refreshed, nil
}
