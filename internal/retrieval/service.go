package retrieval

import (
	"context"
	"fmt"
	"time"

	"prospek/internal/middleware"
	"prospek/internal/settings"
	"prospek/internal/vector"
)

type SearchOptions struct {
	TopK           *int
	IssuerCode     string
	CollectionCode string
}

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type VectorStore interface {
	Search(ctx context.Context, vec []float32, topK int, filters vector.SearchFilters) ([]vector.SearchResult, error)
}

type Service struct {
	embedder Embedder
	store    VectorStore
	settings *settings.Service
	logger   *QueryLogger
}

func NewService(e Embedder, s VectorStore, set *settings.Service, l *QueryLogger) *Service {
	return &Service{embedder: e, store: s, settings: set, logger: l}
}

// Search embeds the query and returns the nearest ready slides. The result
// set only ever contains slides of documents in ready status; a document mid
// pipeline or failed is invisible here.
func (s *Service) Search(ctx context.Context, query string, opts *SearchOptions) ([]vector.SearchResult, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	start := time.Now()
	var results []vector.SearchResult
	var err error

	defer func() {
		if s.logger != nil && err == nil {
			entry := QueryLogEntry{
				Query:         query,
				NumResults:    len(results),
				Duration:      time.Since(start),
				CorrelationID: middleware.GetCorrelationID(ctx),
			}
			if opts != nil {
				entry.IssuerCode = opts.IssuerCode
				entry.CollectionCode = opts.CollectionCode
			}
			s.logger.Log(entry)
		}
	}()

	cfg, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load search settings: %w", err)
	}

	topK := cfg.SearchTopK
	var filters vector.SearchFilters
	if opts != nil {
		if opts.TopK != nil {
			topK = *opts.TopK
		}
		filters.IssuerCode = opts.IssuerCode
		filters.CollectionCode = opts.CollectionCode
	}
	if topK <= 0 {
		return nil, fmt.Errorf("top_k must be positive")
	}

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vecs) != 1 {
		err = fmt.Errorf("embedder returned %d vectors for one query", len(vecs))
		return nil, err
	}

	results, err = s.store.Search(ctx, vecs[0], topK, filters)
	if err != nil {
		return nil, err
	}
	return results, nil
}
