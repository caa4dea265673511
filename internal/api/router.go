// Package api serves FinSight's REST interface.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/M-sasank/finsight/internal/service"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps are the services behind the routes.
type Deps struct {
	Assets          *service.AssetService
	Risk            *service.RiskService
	News            *service.NewsService
	Recommendations *service.RecommendationService
	Chat            *service.ChatService
	AssetChat       *service.AssetChatService
	Tokens          TokenVerifier
	AllowedOrigins  []string
	Logger          *slog.Logger
}

// NewHandler returns the HTTP handler for all routes.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(CORS(deps.AllowedOrigins))

	r.Get("/health", handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Tokens))

		r.Post("/tracker/assets", handleCreateAsset(deps))
		r.Get("/tracker/assets", handleListAssets(deps))
		r.Delete("/tracker/assets/{id}", handleDeleteAsset(deps))
		r.Post("/tracker/assets/{id}/refresh", handleRefreshAsset(deps))
		r.Get("/tracker/assets/{symbol}/risk", handleRisk(deps))

		r.Post("/chat/send", handleChatSend(deps))
		r.Get("/chat/history", handleChatHistory(deps))
		r.Delete("/chat/clear", handleChatClear(deps))
		r.Get("/chat/{conversationID}", handleChatMessages(deps))

		r.Post("/asset-chat", handleAssetChatSend(deps))
		r.Get("/asset-chat/{symbol}/history", handleAssetChatHistory(deps))
		r.Get("/asset-chat/{symbol}/{conversationID}", handleAssetChatMessages(deps))

		r.Get("/news", handleNews(deps))
		r.Get("/stock_recommendation", handleRecommendation(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
