package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"prospek/features/document"
)

type DocumentCounter interface {
	CountByStatus(ctx context.Context) (map[document.Status]int, error)
}

type SlideCounter interface {
	Counts(ctx context.Context) (slides int, vectors int, err error)
}

type Handler struct {
	documents DocumentCounter
	slides    SlideCounter
}

func NewHandler(documents DocumentCounter, slides SlideCounter) *Handler {
	return &Handler{documents: documents, slides: slides}
}

// Stats handles GET /stats: document counts per lifecycle status plus slide
// and vector totals.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	byStatus, err := h.documents.CountByStatus(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count documents", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	slides, vectors, err := h.slides.Counts(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count slides", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	documents := make(map[string]int, len(byStatus))
	total := 0
	for status, n := range byStatus {
		documents[status.String()] = n
		total += n
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"data": map[string]any{
			"documents":       documents,
			"documents_total": total,
			"slides_total":    slides,
			"vectors_total":   vectors,
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
