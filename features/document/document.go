package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Recognized metadata keys. Unknown keys are passed through opaquely.
const (
	MetaLastError   = "last_error"
	MetaFailedStage = "failed_stage"
	MetaAttempts    = "attempts"
	MetaPageCount   = "page_count"
	MetaSource      = "source"
)

var ErrNotFound = errors.New("document not found")

type Document struct {
	ID             string         `json:"id"`
	CollectionCode string         `json:"collection_code"`
	IssuerCode     string         `json:"issuer_code"`
	Checksum       string         `json:"-"`
	Name           string         `json:"name"`
	PublishAt      *time.Time     `json:"publish_at,omitempty"`
	Status         Status         `json:"-"`
	StatusName     string         `json:"status"`
	FilePath       string         `json:"file_path"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type Slide struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	SlideNo    int            `json:"slide_no"`
	ChunkIndex int            `json:"chunk_index"`
	Text       string         `json:"text"`
	HasVector  bool           `json:"has_vector"`
	ImagePath  string         `json:"image_path,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewSlide is a slide as produced by extraction, before it has an id.
type NewSlide struct {
	SlideNo    int
	ChunkIndex int
	Text       string
	ImagePath  string
	Metadata   map[string]any
}

type RegisterInput struct {
	FilePath       string
	Checksum       string
	CollectionCode string
	IssuerCode     string
	Name           string
	PublishAt      *time.Time
	Metadata       map[string]any
}

type Repository interface {
	Insert(ctx context.Context, doc *Document) error
	GetByChecksum(ctx context.Context, collectionCode, checksum string) (*Document, error)
	Get(ctx context.Context, id string) (*Document, error)
	List(ctx context.Context, status *Status) ([]Document, error)
	ListPending(ctx context.Context, status Status, limit int) ([]Document, error)
	UpdateStatus(ctx context.Context, id string, from, to Status) (bool, error)
	Claim(ctx context.Context, id string, status Status, lease time.Duration) (bool, error)
	MergeMetadata(ctx context.Context, id string, patch map[string]any) error
	ReplaceSlides(ctx context.Context, documentID string, slides []NewSlide) error
	GetSlides(ctx context.Context, documentID string) ([]Slide, error)
	DeleteSlides(ctx context.Context, documentID string) error
	ResetToDownloaded(ctx context.Context, id string) error
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

// SearchMirror is the optional external index that only ever holds ready
// documents. Purge must be called before a document leaves ready state.
type SearchMirror interface {
	DeleteDocument(ctx context.Context, documentID string) error
}

type Service struct {
	repo   Repository
	mirror SearchMirror
}

func NewService(repo Repository, mirror SearchMirror) *Service {
	return &Service{repo: repo, mirror: mirror}
}

// Register creates a document in status downloaded, or returns the existing
// one when the checksum is already known within the collection. The second
// return value reports whether a new row was created.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Document, bool, error) {
	if in.Checksum == "" {
		return nil, false, fmt.Errorf("checksum is required")
	}
	if in.CollectionCode == "" || in.IssuerCode == "" {
		return nil, false, fmt.Errorf("collection and issuer are required")
	}

	existing, err := s.repo.GetByChecksum(ctx, in.CollectionCode, in.Checksum)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	if existing != nil {
		slog.InfoContext(ctx, "duplicate checksum, reusing document",
			"document_id", existing.ID, "checksum", in.Checksum)
		return existing, false, nil
	}

	doc := &Document{
		CollectionCode: in.CollectionCode,
		IssuerCode:     in.IssuerCode,
		Checksum:       in.Checksum,
		Name:           in.Name,
		PublishAt:      in.PublishAt,
		Status:         StatusDownloaded,
		FilePath:       in.FilePath,
		Metadata:       in.Metadata,
	}
	if err := s.repo.Insert(ctx, doc); err != nil {
		// A concurrent register can win the unique constraint race.
		if dup, dupErr := s.repo.GetByChecksum(ctx, in.CollectionCode, in.Checksum); dupErr == nil && dup != nil {
			return dup, false, nil
		}
		return nil, false, err
	}
	return doc, true, nil
}

// Transition moves a document along the lifecycle graph. The underlying
// update is conditional on the current status, so a lost race surfaces as
// InvalidTransitionError rather than a silent double transition.
func (s *Service) Transition(ctx context.Context, id string, to Status) error {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(doc.Status, to) {
		return &InvalidTransitionError{From: doc.Status, To: to}
	}

	ok, err := s.repo.UpdateStatus(ctx, id, doc.Status, to)
	if err != nil {
		return err
	}
	if !ok {
		return &InvalidTransitionError{From: doc.Status, To: to}
	}
	return nil
}

// MarkFailed is the terminal failure path: sticky failed status plus the
// causing error recorded in metadata for operator inspection.
func (s *Service) MarkFailed(ctx context.Context, id, stage string, cause error) error {
	if err := s.Transition(ctx, id, StatusFailed); err != nil {
		return err
	}
	patch := map[string]any{
		MetaFailedStage: stage,
	}
	if cause != nil {
		patch[MetaLastError] = cause.Error()
	}
	if err := s.repo.MergeMetadata(ctx, id, patch); err != nil {
		slog.WarnContext(ctx, "failed to record failure metadata", "error", err, "document_id", id)
	}
	return nil
}

func (s *Service) ListPending(ctx context.Context, status Status, limit int) ([]Document, error) {
	return s.repo.ListPending(ctx, status, limit)
}

func (s *Service) Claim(ctx context.Context, id string, status Status, lease time.Duration) (bool, error) {
	return s.repo.Claim(ctx, id, status, lease)
}

func (s *Service) List(ctx context.Context, status *Status) ([]Document, error) {
	return s.repo.List(ctx, status)
}

type Detail struct {
	Document
	Slides []Slide `json:"slides"`
}

func (s *Service) Get(ctx context.Context, id string) (*Detail, error) {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	slides, err := s.repo.GetSlides(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Detail{Document: *doc, Slides: slides}, nil
}

// Reprocess is the operator reset: clears the slide set, purges the search
// mirror and puts the document back at the start of the pipeline. Allowed
// from any status, including ready.
func (s *Service) Reprocess(ctx context.Context, id string) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}

	// Purge the mirror first so a ready document can never be served while
	// its slides are being rebuilt.
	if s.mirror != nil {
		if err := s.mirror.DeleteDocument(ctx, id); err != nil {
			return fmt.Errorf("failed to purge search mirror: %w", err)
		}
	}

	if err := s.repo.DeleteSlides(ctx, id); err != nil {
		return err
	}
	if err := s.repo.ResetToDownloaded(ctx, id); err != nil {
		return err
	}

	slog.InfoContext(ctx, "document reset for reprocessing", "document_id", id)
	return nil
}
