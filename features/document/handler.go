package document

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FilePath       string         `json:"file_path"`
		Checksum       string         `json:"checksum"`
		CollectionCode string         `json:"collection_code"`
		IssuerCode     string         `json:"issuer_code"`
		Name           string         `json:"name"`
		PublishAt      string         `json:"publish_at"`
		Metadata       map[string]any `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if req.Checksum == "" || req.FilePath == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "file_path and checksum are required", http.StatusBadRequest)
		return
	}

	in := RegisterInput{
		FilePath:       req.FilePath,
		Checksum:       req.Checksum,
		CollectionCode: req.CollectionCode,
		IssuerCode:     req.IssuerCode,
		Name:           req.Name,
		Metadata:       req.Metadata,
	}
	if req.PublishAt != "" {
		t, err := time.Parse(time.RFC3339, req.PublishAt)
		if err != nil {
			h.writeError(r.Context(), w, "VALIDATION_ERROR", "publish_at must be RFC3339", http.StatusBadRequest)
			return
		}
		in.PublishAt = &t
	}

	doc, created, err := h.service.Register(r.Context(), in)
	if err != nil {
		slog.ErrorContext(r.Context(), "register failed", "error", err, "checksum", req.Checksum)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	status := http.StatusCreated
	if !created {
		// Duplicate checksum is not an error: same logical document.
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{"data": doc, "created": created}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	var status *Status
	if name := r.URL.Query().Get("status"); name != "" {
		s, ok := ParseStatus(name)
		if !ok {
			h.writeError(r.Context(), w, "VALIDATION_ERROR", "unknown status", http.StatusBadRequest)
			return
		}
		status = &s
	}

	docs, err := h.service.List(r.Context(), status)
	if err != nil {
		slog.ErrorContext(r.Context(), "list documents failed", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []Document{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"data": docs}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	detail, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(r.Context(), w, "NOT_FOUND", "document not found", http.StatusNotFound)
			return
		}
		slog.ErrorContext(r.Context(), "get document failed", "error", err, "document_id", id)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"data": detail}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) Reprocess(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.service.Reprocess(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeError(r.Context(), w, "NOT_FOUND", "document not found", http.StatusNotFound)
			return
		}
		slog.ErrorContext(r.Context(), "reprocess failed", "error", err, "document_id", id)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]any{"data": map[string]string{"id": id, "status": StatusDownloaded.String()}}); err != nil {
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
