package service

import (
	"context"
	"time"

	"github.com/M-sasank/finsight/internal/cache"
	"github.com/M-sasank/finsight/internal/extract"
	"github.com/M-sasank/finsight/internal/prompt"
	"github.com/M-sasank/finsight/internal/refresh"
)

// RecommendationService serves stock suggestions cached per owner and model.
type RecommendationService struct {
	deps  Deps
	coord *refresh.Coordinator[extract.StockRecommendation]
}

// NewRecommendationService returns a RecommendationService caching in store for ttl.
func NewRecommendationService(deps Deps, store cache.BlobStore, ttl time.Duration) *RecommendationService {
	deps = deps.withDefaults()
	blob := cache.NewBlob[extract.StockRecommendation](store, deps.Logger)
	blob.SetClock(deps.Now)
	return &RecommendationService{
		deps:  deps,
		coord: refresh.New[extract.StockRecommendation](blob, ttl, refresh.WithLogger(deps.Logger), refresh.WithClock(deps.Now)),
	}
}

// Recommend returns a stock suggestion for owner from the named model.
func (s *RecommendationService) Recommend(ctx context.Context, owner, modelName string, force bool) (refresh.Result[extract.StockRecommendation], error) {
	model, err := s.deps.Models.Resolve(modelName)
	if err != nil {
		return refresh.Result[extract.StockRecommendation]{}, err
	}

	key := cache.Key{Owner: owner, Subject: cache.SubjectRecommendation, Model: model}
	return s.coord.Resolve(ctx, key, refresh.Options{Force: force, AllowStale: true}, func(ctx context.Context) (extract.StockRecommendation, error) {
		var rec extract.StockRecommendation
		req := prompt.Request{Kind: prompt.KindRecommendation, Owner: owner, AsOf: s.deps.Now()}
		if err := s.deps.completeInto(ctx, req, model, nil, extract.StockRecommendation{}, &rec); err != nil {
			return extract.StockRecommendation{}, err
		}
		rec.CurrentPrice = round2(rec.CurrentPrice)
		rec.PriceChangePercent24h = round2(rec.PriceChangePercent24h)
		return rec, nil
	})
}
