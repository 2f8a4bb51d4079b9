package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"

	"prospek/features/document"
	"prospek/internal/middleware"
)

type Registrar interface {
	Register(ctx context.Context, in document.RegisterInput) (*document.Document, bool, error)
}

// RegisterConsumer ingests download events from the connector: each message
// becomes a document in downloaded status, ready for the pipeline.
type RegisterConsumer struct {
	registrar Registrar
}

func NewRegisterConsumer(r Registrar) *RegisterConsumer {
	return &RegisterConsumer{registrar: r}
}

func (h *RegisterConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload DownloadedPayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		// Poison Pill: Invalid JSON, don't retry
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}

	ctx := context.Background()
	if payload.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, payload.CorrelationID)
	}

	if payload.FilePath == "" || payload.Checksum == "" ||
		payload.CollectionCode == "" || payload.IssuerCode == "" {
		// Incomplete events can never register; retrying won't help.
		slog.ErrorContext(ctx, "poison pill: incomplete download event",
			"checksum", payload.Checksum, "collection", payload.CollectionCode)
		return nil
	}

	var publishAt *time.Time
	if payload.PublishAt != "" {
		t, err := time.Parse(time.RFC3339, payload.PublishAt)
		if err != nil {
			slog.WarnContext(ctx, "unparseable publish_at, ignoring",
				"publish_at", payload.PublishAt, "checksum", payload.Checksum)
		} else {
			publishAt = &t
		}
	}

	regCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	in := document.RegisterInput{
		FilePath:       payload.FilePath,
		Checksum:       payload.Checksum,
		CollectionCode: payload.CollectionCode,
		IssuerCode:     payload.IssuerCode,
		Name:           payload.Name,
		PublishAt:      publishAt,
	}
	if payload.SourceURL != "" {
		in.Metadata = map[string]any{document.MetaSource: payload.SourceURL}
	}

	doc, created, err := h.registrar.Register(regCtx, in)
	if err != nil {
		slog.ErrorContext(ctx, "document registration failed",
			"error", err, "checksum", payload.Checksum)
		return err // Retry
	}

	slog.InfoContext(ctx, "download event processed",
		"document_id", doc.ID, "created", created, "collection", payload.CollectionCode)
	return nil
}
