package pipeline

import (
	"context"
	"time"

	"prospek/features/document"
	"prospek/internal/vector"
)

// Extraction is the raw conversion output: one markdown stream with
// page-break placeholders, plus optional rendered page images in page order.
type Extraction struct {
	Markdown string
	Images   [][]byte
}

// Converter turns a source file into markdown and page images.
type Converter interface {
	Convert(ctx context.Context, filePath string) (*Extraction, error)
	Placeholder() string
}

// Embedder produces one vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Documents is the lifecycle surface the pipeline drives.
type Documents interface {
	ListPending(ctx context.Context, status document.Status, limit int) ([]document.Document, error)
	Claim(ctx context.Context, id string, status document.Status, lease time.Duration) (bool, error)
	Transition(ctx context.Context, id string, to document.Status) error
	MarkFailed(ctx context.Context, id, stage string, cause error) error
}

// SlideStore is the slide persistence surface the pipeline writes through.
type SlideStore interface {
	ReplaceSlides(ctx context.Context, documentID string, slides []document.NewSlide) error
	GetSlides(ctx context.Context, documentID string) ([]document.Slide, error)
	MergeMetadata(ctx context.Context, id string, patch map[string]any) error
}

// VectorStore persists and reads back slide embeddings.
type VectorStore interface {
	UpsertVector(ctx context.Context, slideID string, vec []float32) error
	ListDocumentVectors(ctx context.Context, documentID string) ([]vector.SlideVector, error)
}

// Mirror is the optional external search index, populated only when a
// document reaches ready.
type Mirror interface {
	UpsertSlides(ctx context.Context, doc document.Document, slides []vector.SlideVector) error
	DeleteDocument(ctx context.Context, documentID string) error
}

// EventPublisher emits lifecycle events to the message bus.
type EventPublisher interface {
	Publish(topic string, body []byte) error
}

// Notifier delivers operator alerts. Best effort.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}
