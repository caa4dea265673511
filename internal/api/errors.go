package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/M-sasank/finsight/internal/completion"
	"github.com/M-sasank/finsight/internal/extract"
	"github.com/M-sasank/finsight/internal/service"
	"github.com/M-sasank/finsight/internal/storage"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// serviceError writes the response for an error returned by a service.
func serviceError(w http.ResponseWriter, logger *slog.Logger, action string, err error) {
	var ce *completion.CompletionError
	var ee *extract.ExtractionError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%s: not found", action)
	case errors.Is(err, service.ErrInvalidInput):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s: %v", action, err)
	case errors.As(err, &ce):
		logger.Warn("upstream completion failed", "action", action, "model", ce.Model, "status", ce.Status, "error", ce.Err)
		httpError(w, http.StatusBadGateway, "upstream_error", "%s: %v", action, err)
	case errors.As(err, &ee):
		logger.Warn("upstream response unusable", "action", action, "kind", ee.Kind.String(), "fragment", ee.Fragment)
		httpError(w, http.StatusBadGateway, "upstream_error", "%s: %v", action, err)
	default:
		logger.Error("request failed", "action", action, "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "%s: %v", action, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// decodeBody decodes a JSON request body into dst and validates it.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	if err := extract.Validate(dst); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request: %v", err)
		return false
	}
	return true
}

// forceReload parses the force_reload query parameter.
func forceReload(w http.ResponseWriter, r *http.Request) (force, ok bool) {
	s := r.URL.Query().Get("force_reload")
	if s == "" {
		return false, true
	}
	force, err := strconv.ParseBool(s)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "force_reload must be a boolean")
		return false, false
	}
	return force, true
}
