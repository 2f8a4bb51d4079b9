package catalog

import (
	"context"
	"fmt"
)

// Reference data: listing boards, issuers and collections. Maintained by
// administrative import, never written by the pipeline.

type ListingBoard struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type Issuer struct {
	Code             string `json:"code"`
	ListingBoardCode string `json:"listing_board_code"`
	Name             string `json:"name"`
}

type Collection struct {
	Code     string         `json:"code"`
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type Repository interface {
	UpsertBoards(ctx context.Context, boards []ListingBoard) error
	UpsertIssuers(ctx context.Context, issuers []Issuer) error
	UpsertCollections(ctx context.Context, collections []Collection) error
	ListIssuers(ctx context.Context) ([]Issuer, error)
	ListCollections(ctx context.Context) ([]Collection, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) ImportBoards(ctx context.Context, boards []ListingBoard) error {
	for _, b := range boards {
		if b.Code == "" {
			return fmt.Errorf("listing board code is required")
		}
	}
	return s.repo.UpsertBoards(ctx, boards)
}

func (s *Service) ImportIssuers(ctx context.Context, issuers []Issuer) error {
	for _, i := range issuers {
		if i.Code == "" || i.ListingBoardCode == "" {
			return fmt.Errorf("issuer code and listing board are required")
		}
	}
	return s.repo.UpsertIssuers(ctx, issuers)
}

func (s *Service) ImportCollections(ctx context.Context, collections []Collection) error {
	for _, c := range collections {
		if c.Code == "" {
			return fmt.Errorf("collection code is required")
		}
	}
	return s.repo.UpsertCollections(ctx, collections)
}

func (s *Service) ListIssuers(ctx context.Context) ([]Issuer, error) {
	return s.repo.ListIssuers(ctx)
}

func (s *Service) ListCollections(ctx context.Context) ([]Collection, error) {
	return s.repo.ListCollections(ctx)
}
