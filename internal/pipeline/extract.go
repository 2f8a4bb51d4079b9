package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"prospek/features/document"
	"prospek/internal/text"
)

// extract converts the source file and materializes one slide per page.
// Page images are decoded to disk so the API can serve them later; slide
// rows replace any previous extraction for the document.
func (p *Pipeline) extract(ctx context.Context, doc document.Document) error {
	var ext *Extraction
	err := RetryWithBackoff(ctx, func(ctx context.Context) error {
		var convErr error
		ext, convErr = p.converter.Convert(ctx, doc.FilePath)
		return convErr
	}, p.opts.MaxAttempts, p.opts.RetryBase)
	if err != nil {
		return err
	}

	pages := text.SplitPages(ext.Markdown, p.converter.Placeholder())

	// When the service renders images it must render one per page; a count
	// mismatch would silently attach text to the wrong slide.
	if len(ext.Images) > 0 && len(ext.Images) != len(pages) {
		return fmt.Errorf("%w: %d pages, %d images", ErrExtractionMismatch, len(pages), len(ext.Images))
	}
	if text.CountEmbeddable(pages) == 0 {
		return ErrNoEmbeddableContent
	}

	slides := make([]document.NewSlide, 0, len(pages))
	for _, page := range pages {
		slide := document.NewSlide{
			SlideNo: page.Index + 1,
			Text:    page.Text,
			Metadata: map[string]any{
				"total_pages": len(pages),
			},
		}
		if page.Index < len(ext.Images) {
			imgPath, err := p.writePageImage(doc.ID, page.Index+1, ext.Images[page.Index])
			if err != nil {
				return err
			}
			slide.ImagePath = imgPath
			slide.Metadata["image_mime"] = "image/png"
		}
		slides = append(slides, slide)
	}

	if err := p.slides.ReplaceSlides(ctx, doc.ID, slides); err != nil {
		return err
	}
	if err := p.slides.MergeMetadata(ctx, doc.ID, map[string]any{
		document.MetaPageCount: len(pages),
	}); err != nil {
		slog.WarnContext(ctx, "failed to record page count", "error", err, "document_id", doc.ID)
	}

	if err := p.docs.Transition(ctx, doc.ID, document.StatusParsed); err != nil {
		return err
	}

	slog.InfoContext(ctx, "document parsed",
		"document_id", doc.ID, "pages", len(pages), "embeddable", text.CountEmbeddable(pages))
	return nil
}

func (p *Pipeline) writePageImage(documentID string, slideNo int, data []byte) (string, error) {
	dir := filepath.Join(p.opts.DataDir, "slides", documentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("page-%d.png", slideNo))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
