package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/M-sasank/finsight/internal/extract"
	"github.com/M-sasank/finsight/internal/refresh"
	"github.com/M-sasank/finsight/internal/service"
	"github.com/M-sasank/finsight/internal/storage"
)

type CreateAssetRequest struct {
	Symbol string `json:"symbol" validate:"required,max=16"`
	Name   string `json:"name" validate:"max=128"`
}

type assetResponse struct {
	storage.Asset
	Source string `json:"source"`
}

type riskResponse struct {
	extract.RiskAnalysis
	UpdatedAt time.Time `json:"updated_at"`
	Source    string    `json:"source"`
}

func handleCreateAsset(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAssetRequest
		if !decodeBody(w, r, &req) {
			return
		}

		res, err := deps.Assets.Create(r.Context(), ownerOf(r), req.Symbol, req.Name)
		if err != nil {
			serviceError(w, deps.Logger, "create asset", err)
			return
		}
		code := http.StatusOK
		if res.Source == refresh.SourceFresh {
			code = http.StatusCreated
		}
		writeJSON(w, code, assetResponse{Asset: res.Value, Source: res.Source.String()})
	}
}

func handleListAssets(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assets, err := deps.Assets.List(r.Context(), ownerOf(r))
		if err != nil {
			serviceError(w, deps.Logger, "list assets", err)
			return
		}
		if assets == nil {
			assets = []storage.Asset{}
		}
		writeJSON(w, http.StatusOK, assets)
	}
}

func handleDeleteAsset(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		deleted, err := deps.Assets.Delete(r.Context(), ownerOf(r), id)
		if err != nil {
			serviceError(w, deps.Logger, "delete asset", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "deleted",
			"id":     deleted.ID,
			"symbol": deleted.Symbol,
		})
	}
}

func handleRefreshAsset(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		force, ok := forceReload(w, r)
		if !ok {
			return
		}

		res, err := deps.Assets.Refresh(r.Context(), ownerOf(r), chi.URLParam(r, "id"), force)
		if err != nil {
			serviceError(w, deps.Logger, "refresh asset", err)
			return
		}
		writeJSON(w, http.StatusOK, assetResponse{Asset: res.Value, Source: res.Source.String()})
	}
}

func handleRisk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		force, ok := forceReload(w, r)
		if !ok {
			return
		}

		res, err := deps.Risk.Analyze(r.Context(), ownerOf(r), chi.URLParam(r, "symbol"), force)
		if err != nil {
			serviceError(w, deps.Logger, "risk analysis", err)
			return
		}
		writeJSON(w, http.StatusOK, riskResponse{
			RiskAnalysis: service.AnalysisFromSnapshot(res.Value),
			UpdatedAt:    res.Value.UpdatedAt,
			Source:       res.Source.String(),
		})
	}
}
