package weaviate

import (
	"context"
	"fmt"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"prospek/features/document"
	"prospek/internal/vector"
)

// Store mirrors ready slides into Weaviate. The mirror holds ready documents
// only: slides go in right before the ready transition and are purged before
// a document leaves ready.
type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

func (s *Store) UpsertSlides(ctx context.Context, doc document.Document, slides []vector.SlideVector) error {
	// Replace any previous index state for this document first.
	if err := s.DeleteDocument(ctx, doc.ID); err != nil {
		return err
	}

	for _, slide := range slides {
		props := map[string]interface{}{
			"content":        slide.Text,
			"documentId":     doc.ID,
			"slideNo":        slide.SlideNo,
			"issuerCode":     doc.IssuerCode,
			"collectionCode": doc.CollectionCode,
		}
		if doc.PublishAt != nil {
			props["publishAt"] = doc.PublishAt.Format(time.RFC3339)
		}

		_, err := s.client.Data().Creator().
			WithClassName(vector.MirrorClass).
			WithProperties(props).
			WithVector(slide.Vector).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to index slide %d: %w", slide.SlideNo, err)
		}
	}
	return nil
}

func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(vector.MirrorClass).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithPath([]string{"documentId"}).
			WithOperator(filters.Equal).
			WithValueString(documentID)).
		Do(ctx)
	return err
}

// CountSlides reports how many slides the mirror holds for a document.
func (s *Store) CountSlides(ctx context.Context, documentID string) (int, error) {
	where := filters.Where().
		WithPath([]string{"documentId"}).
		WithOperator(filters.Equal).
		WithValueString(documentID)

	res, err := s.client.GraphQL().Aggregate().
		WithClassName(vector.MirrorClass).
		WithWhere(where).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors)
	}

	if data, ok := res.Data["Aggregate"].(map[string]interface{}); ok {
		if classes, ok := data[vector.MirrorClass].([]interface{}); ok && len(classes) > 0 {
			if agg, ok := classes[0].(map[string]interface{}); ok {
				if meta, ok := agg["meta"].(map[string]interface{}); ok {
					if count, ok := meta["count"].(float64); ok {
						return int(count), nil
					}
				}
			}
		}
	}
	return 0, nil
}
