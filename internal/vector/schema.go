package vector

import (
	"context"

	"github.com/weaviate/weaviate/entities/models"
)

// MirrorClass is the Weaviate class holding ready slides.
const MirrorClass = "DisclosureSlide"

// SchemaClient defines the interface for Weaviate schema operations
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// EnsureSchema checks if the mirror class exists and creates it if not
func EnsureSchema(ctx context.Context, client SchemaClient) error {
	exists, err := client.ClassExists(ctx, MirrorClass)
	if err != nil {
		return err
	}

	properties := []*models.Property{
		{
			Name:     "content",
			DataType: []string{"text"},
		},
		{
			Name:     "documentId",
			DataType: []string{"string"}, // UUID as string (exact match)
		},
		{
			Name:     "slideNo",
			DataType: []string{"int"},
		},
		{
			Name:     "issuerCode",
			DataType: []string{"string"},
		},
		{
			Name:     "collectionCode",
			DataType: []string{"string"},
		},
		{
			Name:     "publishAt",
			DataType: []string{"date"},
		},
	}

	if !exists {
		class := &models.Class{
			Class:       MirrorClass,
			Description: "A slide of a ready disclosure document",
			Vectorizer:  "none",
			Properties:  properties,
		}
		return client.CreateClass(ctx, class)
	}

	// Class exists, check for missing properties
	class, err := client.GetClass(ctx, MirrorClass)
	if err != nil {
		return err
	}

	existingProps := make(map[string]bool)
	for _, p := range class.Properties {
		existingProps[p.Name] = true
	}

	for _, p := range properties {
		if !existingProps[p.Name] {
			if err := client.AddProperty(ctx, MirrorClass, p); err != nil {
				return err
			}
		}
	}

	return nil
}
