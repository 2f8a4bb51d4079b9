package search

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"prospek/internal/retrieval"
)

type Handler struct {
	service *retrieval.Service
}

func NewHandler(service *retrieval.Service) *Handler {
	return &Handler{service: service}
}

type searchRequest struct {
	Query          string `json:"query"`
	TopK           *int   `json:"top_k,omitempty"`
	IssuerCode     string `json:"issuer_code,omitempty"`
	CollectionCode string `json:"collection_code,omitempty"`
}

// Search handles POST /search: embeds the query and returns the closest
// slides of ready documents.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "query is required", http.StatusBadRequest)
		return
	}
	if req.TopK != nil && *req.TopK <= 0 {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "top_k must be positive", http.StatusBadRequest)
		return
	}

	results, err := h.service.Search(r.Context(), req.Query, &retrieval.SearchOptions{
		TopK:           req.TopK,
		IssuerCode:     req.IssuerCode,
		CollectionCode: req.CollectionCode,
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "search failed", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"data": map[string]any{
			"query":   req.Query,
			"results": results,
		},
	}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	}); err != nil {
		slog.ErrorContext(ctx, "failed to encode error response", "error", err)
	}
}
