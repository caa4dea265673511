package service

import (
	"context"
	"strings"
	"time"

	"github.com/M-sasank/finsight/internal/cache"
	"github.com/M-sasank/finsight/internal/extract"
	"github.com/M-sasank/finsight/internal/prompt"
	"github.com/M-sasank/finsight/internal/refresh"
)

// News is a personalised news feed together with the request it answered.
type News struct {
	extract.NewsFeed
	Model           string `json:"model"`
	TopicsCachedFor string `json:"topics_cached_for"`
}

// NewsService serves per-owner news feeds from a blob cache.
type NewsService struct {
	deps  Deps
	coord *refresh.Coordinator[News]
}

// NewNewsService returns a NewsService caching feeds in store for ttl.
func NewNewsService(deps Deps, store cache.BlobStore, ttl time.Duration) *NewsService {
	deps = deps.withDefaults()
	blob := cache.NewBlob[News](store, deps.Logger)
	blob.SetClock(deps.Now)
	return &NewsService{
		deps:  deps,
		coord: refresh.New[News](blob, ttl, refresh.WithLogger(deps.Logger), refresh.WithClock(deps.Now)),
	}
}

// Feed returns owner's news feed. The cached feed is shared by all topics
// and models until it expires or force is set.
func (s *NewsService) Feed(ctx context.Context, owner, topics, modelName string, force bool) (refresh.Result[News], error) {
	model, err := s.deps.Models.Resolve(modelName)
	if err != nil {
		return refresh.Result[News]{}, err
	}
	topics = strings.TrimSpace(topics)

	key := cache.Key{Owner: owner, Subject: cache.SubjectNews}
	return s.coord.Resolve(ctx, key, refresh.Options{Force: force, AllowStale: true}, func(ctx context.Context) (News, error) {
		var feed extract.NewsFeed
		req := prompt.Request{Kind: prompt.KindNews, Owner: owner, Topics: topics, AsOf: s.deps.Now()}
		if err := s.deps.completeInto(ctx, req, model, s.deps.Models.domainsFor(model), extract.NewsFeed{}, &feed); err != nil {
			return News{}, err
		}
		if feed.TotalItems == 0 {
			feed.TotalItems = len(feed.NewsItems)
		}
		return News{NewsFeed: feed, Model: model, TopicsCachedFor: topics}, nil
	})
}
