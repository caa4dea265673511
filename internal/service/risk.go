package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/M-sasank/finsight/internal/cache"
	"github.com/M-sasank/finsight/internal/extract"
	"github.com/M-sasank/finsight/internal/prompt"
	"github.com/M-sasank/finsight/internal/refresh"
	"github.com/M-sasank/finsight/internal/storage"
)

type riskBacking struct {
	store  Store
	logger *slog.Logger
}

func (b riskBacking) Get(ctx context.Context, key cache.Key) (storage.RiskSnapshot, time.Time, bool) {
	symbol := strings.TrimPrefix(key.Subject, cache.RiskSubject(""))
	r, err := b.store.GetRisk(ctx, key.Owner, symbol)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			b.logger.Warn("risk read failed, treating as miss", "key", key.String(), "error", err)
		}
		return storage.RiskSnapshot{}, time.Time{}, false
	}
	return r, r.UpdatedAt, true
}

func (b riskBacking) Put(ctx context.Context, _ cache.Key, r storage.RiskSnapshot) error {
	_, err := b.store.UpsertRisk(ctx, r)
	return err
}

// RiskService produces risk analyses for tracked assets. One snapshot is
// kept per (owner, symbol) and reused while younger than the TTL.
type RiskService struct {
	deps  Deps
	coord *refresh.Coordinator[storage.RiskSnapshot]
}

// NewRiskService returns a RiskService reusing snapshots younger than ttl.
func NewRiskService(deps Deps, ttl time.Duration) *RiskService {
	deps = deps.withDefaults()
	backing := riskBacking{store: deps.Store, logger: deps.Logger}
	return &RiskService{
		deps:  deps,
		coord: refresh.New[storage.RiskSnapshot](backing, ttl, refresh.WithLogger(deps.Logger), refresh.WithClock(deps.Now)),
	}
}

// Analyze returns the risk snapshot for owner's tracked symbol. The asset
// must be tracked. A failed refresh serves the previous snapshot if any.
func (s *RiskService) Analyze(ctx context.Context, owner, symbol string, force bool) (refresh.Result[storage.RiskSnapshot], error) {
	symbol = storage.NormalizeSymbol(symbol)
	asset, err := s.deps.Store.GetAssetBySymbol(ctx, owner, symbol)
	if err != nil {
		return refresh.Result[storage.RiskSnapshot]{}, fmt.Errorf("asset %s: %w", symbol, err)
	}

	key := cache.Key{Owner: owner, Subject: cache.RiskSubject(symbol)}
	return s.coord.Resolve(ctx, key, refresh.Options{Force: force, AllowStale: true}, func(ctx context.Context) (storage.RiskSnapshot, error) {
		var ra extract.RiskAnalysis
		req := prompt.Request{Kind: prompt.KindRisk, Owner: owner, Symbol: symbol, AsOf: s.deps.Now()}
		if err := s.deps.completeInto(ctx, req, s.deps.Models.Fast, nil, extract.RiskAnalysis{}, &ra); err != nil {
			return storage.RiskSnapshot{}, err
		}
		snap := SnapshotFromAnalysis(owner, symbol, ra)
		if snap.AssetName == "" {
			snap.AssetName = asset.Name
		}
		snap.UpdatedAt = s.deps.Now()
		return snap, nil
	})
}

// SnapshotFromAnalysis flattens an extracted analysis into a stored snapshot.
// The symbol is the requested one, not the model's echo.
func SnapshotFromAnalysis(owner, symbol string, ra extract.RiskAnalysis) storage.RiskSnapshot {
	return storage.RiskSnapshot{
		OwnerID:           owner,
		Symbol:            symbol,
		AssetName:         ra.AssetName,
		RiskLevel:         ra.RiskLevel,
		VolatilityScore:   round2(ra.Factors.VolatilityScore),
		SectorTrendScore:  round2(ra.Factors.SectorTrendScore),
		DipCountLastMonth: ra.Factors.DipCountLastMonth,
		SentimentClass:    ra.Factors.SentimentClass,
		VolatilityNote:    ra.RiskBreakdown.Volatility,
		SectorNote:        ra.RiskBreakdown.Sector,
		SentimentNote:     ra.RiskBreakdown.Sentiment,
		Confidence:        round2(ra.Confidence),
		Recommendation:    ra.Recommendation,
	}
}

// AnalysisFromSnapshot rebuilds the response shape of a stored snapshot.
func AnalysisFromSnapshot(r storage.RiskSnapshot) extract.RiskAnalysis {
	return extract.RiskAnalysis{
		AssetSymbol: r.Symbol,
		AssetName:   r.AssetName,
		RiskLevel:   r.RiskLevel,
		Factors: extract.RiskFactors{
			VolatilityScore:   r.VolatilityScore,
			SectorTrendScore:  r.SectorTrendScore,
			DipCountLastMonth: r.DipCountLastMonth,
			SentimentClass:    r.SentimentClass,
		},
		RiskBreakdown: extract.RiskBreakdown{
			Volatility: r.VolatilityNote,
			Sector:     r.SectorNote,
			Sentiment:  r.SentimentNote,
		},
		Confidence:     r.Confidence,
		Recommendation: r.Recommendation,
	}
}
