package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) ImportBoards(w http.ResponseWriter, r *http.Request) {
	var boards []ListingBoard
	if err := json.NewDecoder(r.Body).Decode(&boards); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.service.ImportBoards(r.Context(), boards); err != nil {
		slog.ErrorContext(r.Context(), "board import failed", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	h.writeOK(w, len(boards))
}

func (h *Handler) ImportIssuers(w http.ResponseWriter, r *http.Request) {
	var issuers []Issuer
	if err := json.NewDecoder(r.Body).Decode(&issuers); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.service.ImportIssuers(r.Context(), issuers); err != nil {
		slog.ErrorContext(r.Context(), "issuer import failed", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	h.writeOK(w, len(issuers))
}

func (h *Handler) ImportCollections(w http.ResponseWriter, r *http.Request) {
	var collections []Collection
	if err := json.NewDecoder(r.Body).Decode(&collections); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.service.ImportCollections(r.Context(), collections); err != nil {
		slog.ErrorContext(r.Context(), "collection import failed", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	h.writeOK(w, len(collections))
}

func (h *Handler) ListIssuers(w http.ResponseWriter, r *http.Request) {
	issuers, err := h.service.ListIssuers(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "list issuers failed", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if issuers == nil {
		issuers = []Issuer{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"data": issuers}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) ListCollections(w http.ResponseWriter, r *http.Request) {
	collections, err := h.service.ListCollections(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "list collections failed", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if collections == nil {
		collections = []Collection{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"data": collections}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeOK(w http.ResponseWriter, count int) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"data": map[string]int{"imported": count}}); err != nil {
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
