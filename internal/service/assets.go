package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/M-sasank/finsight/internal/cache"
	"github.com/M-sasank/finsight/internal/extract"
	"github.com/M-sasank/finsight/internal/prompt"
	"github.com/M-sasank/finsight/internal/refresh"
	"github.com/M-sasank/finsight/internal/storage"
)

// listRefreshLimit bounds concurrent refreshes while listing assets.
const listRefreshLimit = 4

// assetBacking serves asset detail from tracked_assets rows. Age is measured
// from last_updated. Only values whose ID is registered in inserts may create
// a row; every other write is update-only so a refresh cannot resurrect an
// asset deleted while its fetch was in flight.
type assetBacking struct {
	store   Store
	logger  *slog.Logger
	inserts *sync.Map
}

func (b assetBacking) Get(ctx context.Context, key cache.Key) (storage.Asset, time.Time, bool) {
	symbol := strings.TrimPrefix(key.Subject, cache.AssetSubject(""))
	a, err := b.store.GetAssetBySymbol(ctx, key.Owner, symbol)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			b.logger.Warn("asset read failed, treating as miss", "key", key.String(), "error", err)
		}
		return storage.Asset{}, time.Time{}, false
	}
	return a, a.LastUpdated, true
}

func (b assetBacking) Put(ctx context.Context, _ cache.Key, a storage.Asset) error {
	if _, ok := b.inserts.LoadAndDelete(a.ID); ok {
		_, err := b.store.SaveAsset(ctx, a)
		return err
	}
	_, err := b.store.UpdateAsset(ctx, a)
	return err
}

// AssetService manages tracked assets and their detail refreshes.
type AssetService struct {
	deps    Deps
	coord   *refresh.Coordinator[storage.Asset]
	inserts sync.Map
}

// NewAssetService returns an AssetService refreshing rows older than ttl.
func NewAssetService(deps Deps, ttl time.Duration) *AssetService {
	deps = deps.withDefaults()
	s := &AssetService{deps: deps}
	backing := assetBacking{store: deps.Store, logger: deps.Logger, inserts: &s.inserts}
	s.coord = refresh.New[storage.Asset](backing, ttl, refresh.WithLogger(deps.Logger), refresh.WithClock(deps.Now))
	return s
}

// TTL returns the age after which an asset is refreshed.
func (s *AssetService) TTL() time.Duration { return s.coord.TTL() }

func assetKey(owner, symbol string) cache.Key {
	return cache.Key{Owner: owner, Subject: cache.AssetSubject(symbol)}
}

// Create starts tracking symbol for owner. An asset already tracked and
// fresh is returned as is; otherwise its detail is fetched synchronously
// and any failure is returned without storing a row.
func (s *AssetService) Create(ctx context.Context, owner, symbol, name string) (refresh.Result[storage.Asset], error) {
	symbol = storage.NormalizeSymbol(symbol)
	if symbol == "" {
		return refresh.Result[storage.Asset]{}, invalid("symbol is required")
	}
	name = strings.TrimSpace(name)
	return s.coord.Resolve(ctx, assetKey(owner, symbol), refresh.Options{}, s.fetch(owner, symbol, name, true))
}

// List returns owner's assets newest first. Stale rows are refreshed
// concurrently; a row whose refresh fails is returned unchanged.
func (s *AssetService) List(ctx context.Context, owner string) ([]storage.Asset, error) {
	assets, err := s.deps.Store.ListAssets(ctx, owner)
	if err != nil {
		return nil, err
	}

	now := s.deps.Now()
	var g errgroup.Group
	g.SetLimit(listRefreshLimit)
	for i, a := range assets {
		if cache.IsFresh(now.Sub(a.LastUpdated), s.TTL()) {
			continue
		}
		g.Go(func() error {
			res, err := s.coord.Resolve(ctx, assetKey(owner, a.Symbol), refresh.Options{AllowStale: true}, s.fetch(owner, a.Symbol, "", false))
			if err != nil {
				s.deps.Logger.Warn("asset refresh failed, serving stored row", "symbol", a.Symbol, "error", err)
				return nil
			}
			assets[i] = res.Value
			return nil
		})
	}
	g.Wait()
	return assets, nil
}

// Refresh refetches the detail of owner's asset id when it is stale, or
// unconditionally when force is set. Failures are returned.
func (s *AssetService) Refresh(ctx context.Context, owner, id string, force bool) (refresh.Result[storage.Asset], error) {
	a, err := s.deps.Store.GetAsset(ctx, owner, id)
	if err != nil {
		return refresh.Result[storage.Asset]{}, err
	}
	return s.coord.Resolve(ctx, assetKey(owner, a.Symbol), refresh.Options{Force: force}, s.fetch(owner, a.Symbol, "", false))
}

// RefreshStale refreshes a if it is stale, keeping the stored row when the
// upstream call fails. It is used by the background refresher.
func (s *AssetService) RefreshStale(ctx context.Context, a storage.Asset) (refresh.Result[storage.Asset], error) {
	return s.coord.Resolve(ctx, assetKey(a.OwnerID, a.Symbol), refresh.Options{AllowStale: true}, s.fetch(a.OwnerID, a.Symbol, "", false))
}

// Delete stops tracking owner's asset id and drops its risk snapshot.
func (s *AssetService) Delete(ctx context.Context, owner, id string) (storage.Asset, error) {
	return s.deps.Store.DeleteAsset(ctx, owner, id)
}

// fetch builds the refresh for owner's symbol. Only create may produce a
// value for an untracked symbol; refreshes of a vanished row fail with
// storage.ErrNotFound before calling upstream.
func (s *AssetService) fetch(owner, symbol, name string, create bool) refresh.FetchFunc[storage.Asset] {
	return func(ctx context.Context) (storage.Asset, error) {
		existing, err := s.deps.Store.GetAssetBySymbol(ctx, owner, symbol)
		found := err == nil
		if err != nil && (!create || !errors.Is(err, storage.ErrNotFound)) {
			return storage.Asset{}, err
		}
		name := name
		if found && existing.Name != "" {
			name = existing.Name
		}

		now := s.deps.Now()
		var detail extract.AssetDetail
		req := prompt.Request{Kind: prompt.KindAssetDetail, Owner: owner, Symbol: symbol, Name: name, AsOf: now}
		fast := s.deps.Models.Fast
		if err := s.deps.completeInto(ctx, req, fast, s.deps.Models.domainsFor(fast), extract.AssetDetail{}, &detail); err != nil {
			return storage.Asset{}, err
		}

		if name == "" {
			name = strings.TrimSpace(detail.Name)
		}
		if name == "" {
			name = symbol
		}
		price := round2(detail.Price)
		history, ok := normalizeHistory(detail.PriceHistory, price)
		if !ok {
			s.deps.Logger.Warn("malformed price history, repeating current price", "symbol", symbol)
		}

		a := storage.Asset{
			ID:           uuid.NewString(),
			OwnerID:      owner,
			Symbol:       symbol,
			Name:         name,
			Price:        price,
			Movement:     round2(detail.Movement),
			Reason:       detail.Reason,
			Sector:       detail.Sector,
			News:         detail.News,
			PriceHistory: history,
			CreatedAt:    now,
			LastUpdated:  now,
		}
		if found {
			a.ID = existing.ID
			a.CreatedAt = existing.CreatedAt
		} else {
			s.inserts.Store(a.ID, struct{}{})
		}
		return a, nil
	}
}

// normalizeHistory decodes raw into exactly storage.HistoryLen prices. A
// missing, malformed, or wrong-length history becomes price repeated; ok
// reports whether raw was usable.
func normalizeHistory(raw json.RawMessage, price float64) (history []float64, ok bool) {
	var points []float64
	if err := json.Unmarshal(raw, &points); err == nil && len(points) == storage.HistoryLen {
		for i, p := range points {
			points[i] = round2(p)
		}
		return points, true
	}
	flat := make([]float64, storage.HistoryLen)
	for i := range flat {
		flat[i] = price
	}
	return flat, false
}
