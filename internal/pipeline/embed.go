package pipeline

import (
	"context"
	"log/slog"

	"prospek/features/document"
)

// embed vectorizes a parsed document's non-empty slides in batches and
// persists each vector as it arrives. Empty slides keep their image but get
// no vector, so they can never match a query.
func (p *Pipeline) embed(ctx context.Context, doc document.Document) error {
	slides, err := p.slides.GetSlides(ctx, doc.ID)
	if err != nil {
		return err
	}

	var pending []document.Slide
	for _, s := range slides {
		if s.Text != "" {
			pending = append(pending, s)
		}
	}
	if len(pending) == 0 {
		return ErrNoEmbeddableContent
	}

	batchSize := p.opts.EmbedBatchSize
	if batchSize < 1 {
		batchSize = 1
	}

	for start := 0; start < len(pending); start += batchSize {
		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		texts := make([]string, len(batch))
		for i, s := range batch {
			texts[i] = s.Text
		}

		var vecs [][]float32
		err := RetryWithBackoff(ctx, func(ctx context.Context) error {
			var embErr error
			vecs, embErr = p.embedder.Embed(ctx, texts)
			return embErr
		}, p.opts.MaxAttempts, p.opts.RetryBase)
		if err != nil {
			return err
		}

		for i, vec := range vecs {
			if len(vec) != p.opts.EmbedDim {
				return &DimensionMismatchError{Got: len(vec), Want: p.opts.EmbedDim}
			}
			if err := p.vectors.UpsertVector(ctx, batch[i].ID, vec); err != nil {
				return err
			}
		}
	}

	if err := p.docs.Transition(ctx, doc.ID, document.StatusEmbedded); err != nil {
		return err
	}

	slog.InfoContext(ctx, "document embedded", "document_id", doc.ID, "slides", len(pending))
	return nil
}
