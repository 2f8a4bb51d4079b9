package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"prospek/features/document"
	"prospek/internal/config"
)

type Options struct {
	BatchSize      int
	Interval       time.Duration
	MaxAttempts    int
	RetryBase      time.Duration
	EmbedBatchSize int
	EmbedDim       int
	Lease          time.Duration
	DataDir        string
	Concurrency    int
}

// Pipeline advances documents through the lifecycle in the background:
// downloaded -> parsed -> embedded -> ready, with failed as the terminal
// error state. Each cycle drains one batch per stage; documents within a
// stage are processed concurrently on a bounded pool.
type Pipeline struct {
	docs      Documents
	slides    SlideStore
	converter Converter
	embedder  Embedder
	vectors   VectorStore
	mirror    Mirror
	publisher EventPublisher
	notifier  Notifier
	opts      Options
	pool      *ants.Pool
}

func New(docs Documents, slides SlideStore, converter Converter, embedder Embedder,
	vectors VectorStore, mirror Mirror, publisher EventPublisher, notifier Notifier,
	opts Options) (*Pipeline, error) {

	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	pool, err := ants.NewPool(opts.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	return &Pipeline{
		docs:      docs,
		slides:    slides,
		converter: converter,
		embedder:  embedder,
		vectors:   vectors,
		mirror:    mirror,
		publisher: publisher,
		notifier:  notifier,
		opts:      opts,
		pool:      pool,
	}, nil
}

func (p *Pipeline) Close() {
	p.pool.Release()
}

// Run drives cycles on a fixed interval until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		if err := p.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.ErrorContext(ctx, "pipeline cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunCycle runs all three stages once. Stages run concurrently; a document
// promoted by one stage is picked up by the next stage in a later cycle.
func (p *Pipeline) RunCycle(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.runStage(ctx, document.StatusDownloaded, "extract", p.extract)
	})
	g.Go(func() error {
		return p.runStage(ctx, document.StatusParsed, "embed", p.embed)
	})
	g.Go(func() error {
		return p.runStage(ctx, document.StatusEmbedded, "finalize", p.finalize)
	})
	return g.Wait()
}

func (p *Pipeline) runStage(ctx context.Context, status document.Status, stage string,
	fn func(context.Context, document.Document) error) error {

	docs, err := p.docs.ListPending(ctx, status, p.opts.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list %s documents: %w", status, err)
	}

	var wg sync.WaitGroup
	for _, doc := range docs {
		claimed, err := p.docs.Claim(ctx, doc.ID, status, p.opts.Lease)
		if err != nil {
			slog.WarnContext(ctx, "claim failed", "document_id", doc.ID, "error", err)
			continue
		}
		if !claimed {
			// Another worker holds the lease.
			continue
		}

		doc := doc
		wg.Add(1)
		if err := p.pool.Submit(func() {
			defer wg.Done()
			p.process(ctx, stage, doc, fn)
		}); err != nil {
			wg.Done()
			slog.WarnContext(ctx, "failed to submit document", "document_id", doc.ID, "error", err)
		}
	}
	wg.Wait()
	return nil
}

func (p *Pipeline) process(ctx context.Context, stage string, doc document.Document,
	fn func(context.Context, document.Document) error) {

	err := fn(ctx, doc)
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}

	// A lost transition race means another actor moved the document while
	// this worker held it (operator reset, concurrent worker). Leave it
	// alone; the next cycle sees its real status.
	var invalid *document.InvalidTransitionError
	if errors.As(err, &invalid) {
		slog.WarnContext(ctx, "document moved during processing, skipping",
			"document_id", doc.ID, "stage", stage, "error", err)
		return
	}

	// A dimension mismatch is a deployment misconfiguration, not a document
	// problem. The document stays where it is and the lease expires; an
	// operator has to fix the config before any document can proceed.
	var dim *DimensionMismatchError
	if errors.As(err, &dim) {
		slog.ErrorContext(ctx, "embedding dimension mismatch, pipeline halted for document",
			"document_id", doc.ID, "got", dim.Got, "want", dim.Want)
		p.alert(ctx, fmt.Sprintf("⚠️ Embedding dimension mismatch: got %d, want %d (document %s). Check EMBED_DIM and the embedding service.", dim.Got, dim.Want, doc.ID))
		return
	}

	slog.ErrorContext(ctx, "document processing failed",
		"document_id", doc.ID, "stage", stage, "error", err)

	if markErr := p.docs.MarkFailed(ctx, doc.ID, stage, err); markErr != nil {
		slog.ErrorContext(ctx, "failed to mark document failed",
			"document_id", doc.ID, "error", markErr)
		return
	}

	p.publishEvent(ctx, doc, document.StatusFailed, stage, err)
	p.alert(ctx, fmt.Sprintf("❌ Document %s (%s/%s) failed at %s: %v",
		doc.ID, doc.IssuerCode, doc.CollectionCode, stage, err))
}

// Event is the lifecycle notification published to subscribers.
type Event struct {
	DocumentID     string    `json:"document_id"`
	CollectionCode string    `json:"collection_code"`
	IssuerCode     string    `json:"issuer_code"`
	Status         string    `json:"status"`
	Stage          string    `json:"stage,omitempty"`
	Error          string    `json:"error,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func (p *Pipeline) publishEvent(ctx context.Context, doc document.Document, status document.Status, stage string, cause error) {
	if p.publisher == nil {
		return
	}

	evt := Event{
		DocumentID:     doc.ID,
		CollectionCode: doc.CollectionCode,
		IssuerCode:     doc.IssuerCode,
		Status:         status.String(),
		Stage:          stage,
		OccurredAt:     time.Now().UTC(),
	}
	if cause != nil {
		evt.Error = cause.Error()
	}

	topic := config.TopicReady
	if status == document.StatusFailed {
		topic = config.TopicFailed
	}

	body, _ := json.Marshal(evt)
	if err := p.publisher.Publish(topic, body); err != nil {
		slog.WarnContext(ctx, "failed to publish lifecycle event",
			"topic", topic, "document_id", doc.ID, "error", err)
	}
}

// Alert is the operator notification published alongside the Telegram
// message, for subscribers that watch the bus instead of the chat.
type Alert struct {
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (p *Pipeline) alert(ctx context.Context, message string) {
	if p.publisher != nil {
		body, _ := json.Marshal(Alert{Message: message, OccurredAt: time.Now().UTC()})
		if err := p.publisher.Publish(config.TopicAlert, body); err != nil {
			slog.WarnContext(ctx, "failed to publish operator alert", "error", err)
		}
	}
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Notify(ctx, message); err != nil {
		slog.WarnContext(ctx, "failed to send operator alert", "error", err)
	}
}
