package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/M-sasank/finsight/internal/service"
)

type ChatRequest struct {
	Type           string `json:"type" validate:"required"`
	UserQuery      string `json:"user_query" validate:"required"`
	ConversationID string `json:"conversation_id" validate:"omitempty,max=64"`
}

type AssetChatRequest struct {
	Symbol         string `json:"symbol" validate:"required,max=16"`
	UserQuery      string `json:"user_query" validate:"required"`
	ConversationID string `json:"conversation_id" validate:"omitempty,max=64"`
}

func handleChatSend(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if !decodeBody(w, r, &req) {
			return
		}

		reply, err := deps.Chat.Send(r.Context(), ownerOf(r), req.Type, req.UserQuery, req.ConversationID)
		if err != nil {
			serviceError(w, deps.Logger, "chat", err)
			return
		}
		writeJSON(w, http.StatusOK, reply)
	}
}

func handleChatHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		history, err := deps.Chat.History(r.Context(), ownerOf(r))
		if err != nil {
			serviceError(w, deps.Logger, "chat history", err)
			return
		}
		writeJSON(w, http.StatusOK, summaries(history))
	}
}

func handleChatMessages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgs, err := deps.Chat.Messages(r.Context(), ownerOf(r), chi.URLParam(r, "conversationID"))
		if err != nil {
			serviceError(w, deps.Logger, "conversation", err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func handleChatClear(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Chat.Clear(r.Context(), ownerOf(r))
		if err != nil {
			serviceError(w, deps.Logger, "clear chat", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "cleared", "deleted_messages": n})
	}
}

func handleAssetChatSend(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AssetChatRequest
		if !decodeBody(w, r, &req) {
			return
		}

		reply, err := deps.AssetChat.Send(r.Context(), ownerOf(r), req.Symbol, req.UserQuery, req.ConversationID)
		if err != nil {
			serviceError(w, deps.Logger, "asset chat", err)
			return
		}
		writeJSON(w, http.StatusOK, reply)
	}
}

func handleAssetChatHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		history, err := deps.AssetChat.History(r.Context(), ownerOf(r), chi.URLParam(r, "symbol"))
		if err != nil {
			serviceError(w, deps.Logger, "asset chat history", err)
			return
		}
		writeJSON(w, http.StatusOK, summaries(history))
	}
}

func handleAssetChatMessages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgs, err := deps.AssetChat.Messages(r.Context(), ownerOf(r), chi.URLParam(r, "symbol"), chi.URLParam(r, "conversationID"))
		if err != nil {
			serviceError(w, deps.Logger, "asset conversation", err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func summaries(s []service.Summary) []service.Summary {
	if s == nil {
		return []service.Summary{}
	}
	return s
}
