package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"prospek/features/document"
)

// finalize promotes an embedded document to ready. The search mirror is
// populated first so a ready document is always fully indexed; the
// relational side only serves ready documents via the status join.
func (p *Pipeline) finalize(ctx context.Context, doc document.Document) error {
	if p.mirror != nil {
		vecs, err := p.vectors.ListDocumentVectors(ctx, doc.ID)
		if err != nil {
			return err
		}
		if len(vecs) == 0 {
			return fmt.Errorf("%w: no vectors to index", ErrNoEmbeddableContent)
		}
		err = RetryWithBackoff(ctx, func(ctx context.Context) error {
			return p.mirror.UpsertSlides(ctx, doc, vecs)
		}, p.opts.MaxAttempts, p.opts.RetryBase)
		if err != nil {
			return err
		}
	}

	if err := p.docs.Transition(ctx, doc.ID, document.StatusReady); err != nil {
		return err
	}

	slog.InfoContext(ctx, "document ready", "document_id", doc.ID, "collection", doc.CollectionCode)
	p.publishEvent(ctx, doc, document.StatusReady, "", nil)
	return nil
}
