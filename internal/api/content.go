package api

import (
	"net/http"
	"time"

	"github.com/M-sasank/finsight/internal/extract"
	"github.com/M-sasank/finsight/internal/service"
)

type newsResponse struct {
	service.News
	FetchedAt time.Time `json:"fetched_at"`
	Source    string    `json:"source"`
}

type recommendationResponse struct {
	extract.StockRecommendation
	FetchedAt time.Time `json:"fetched_at"`
	Source    string    `json:"source"`
}

func handleNews(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		force, ok := forceReload(w, r)
		if !ok {
			return
		}
		q := r.URL.Query()

		res, err := deps.News.Feed(r.Context(), ownerOf(r), q.Get("topics"), q.Get("model"), force)
		if err != nil {
			serviceError(w, deps.Logger, "news", err)
			return
		}
		if res.Value.NewsItems == nil {
			res.Value.NewsItems = []extract.NewsItem{}
		}
		writeJSON(w, http.StatusOK, newsResponse{News: res.Value, FetchedAt: res.FetchedAt, Source: res.Source.String()})
	}
}

func handleRecommendation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		force, ok := forceReload(w, r)
		if !ok {
			return
		}

		res, err := deps.Recommendations.Recommend(r.Context(), ownerOf(r), r.URL.Query().Get("model"), force)
		if err != nil {
			serviceError(w, deps.Logger, "stock recommendation", err)
			return
		}
		writeJSON(w, http.StatusOK, recommendationResponse{
			StockRecommendation: res.Value,
			FetchedAt:           res.FetchedAt,
			Source:              res.Source.String(),
		})
	}
}
