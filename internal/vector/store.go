package vector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"

	"prospek/features/document"
)

// Store persists slide vectors in the pgvector column and serves the
// ready-only nearest-neighbour query.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// SlideVector is a slide with its embedding, as mirrored into the optional
// external index.
type SlideVector struct {
	SlideID string
	SlideNo int
	Text    string
	Vector  []float32
}

type SearchFilters struct {
	IssuerCode     string
	CollectionCode string
}

type SearchResult struct {
	SlideID        string     `json:"slide_id"`
	DocumentID     string     `json:"document_id"`
	DocumentName   string     `json:"document_name"`
	IssuerCode     string     `json:"issuer_code"`
	CollectionCode string     `json:"collection_code"`
	SlideNo        int        `json:"slide_no"`
	Text           string     `json:"text"`
	Distance       float32    `json:"distance"`
	PublishAt      *time.Time `json:"publish_at,omitempty"`
}

// UpsertVector stores or replaces a slide's vector. Last write wins.
func (s *Store) UpsertVector(ctx context.Context, slideID string, vec []float32) error {
	query := `UPDATE slides SET content_text_vector = $1, updated_at = NOW() WHERE id = $2`
	res, err := s.db.ExecContext(ctx, query, pgvector.NewVector(vec), slideID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("slide not found: %s", slideID)
	}
	return nil
}

// Search returns the topK slides closest to the query vector by cosine
// distance, restricted to documents in ready status. Ties prefer newer
// disclosures (publish_at DESC), then lower slide numbers.
func (s *Store) Search(ctx context.Context, vec []float32, topK int, filters SearchFilters) ([]SearchResult, error) {
	var (
		conds []string
		args  []any
	)
	args = append(args, pgvector.NewVector(vec), int16(document.StatusReady))
	if filters.IssuerCode != "" {
		args = append(args, filters.IssuerCode)
		conds = append(conds, fmt.Sprintf("AND d.issuer_code = $%d", len(args)))
	}
	if filters.CollectionCode != "" {
		args = append(args, filters.CollectionCode)
		conds = append(conds, fmt.Sprintf("AND d.collection_code = $%d", len(args)))
	}
	args = append(args, topK)

	query := fmt.Sprintf(`SELECT s.id, s.document_id, s.slide_no, COALESCE(s.content_text, ''),
			d.name, d.issuer_code, d.collection_code, d.publish_at,
			s.content_text_vector <=> $1 AS distance
		FROM slides s
		JOIN documents d ON d.id = s.document_id
		WHERE d.status = $2 AND s.content_text_vector IS NOT NULL %s
		ORDER BY distance ASC, d.publish_at DESC NULLS LAST, s.slide_no ASC
		LIMIT $%d`, strings.Join(conds, " "), len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			r       SearchResult
			publish sql.NullTime
		)
		if err := rows.Scan(&r.SlideID, &r.DocumentID, &r.SlideNo, &r.Text,
			&r.DocumentName, &r.IssuerCode, &r.CollectionCode, &publish, &r.Distance); err != nil {
			return nil, err
		}
		r.IssuerCode = strings.TrimSpace(r.IssuerCode)
		if publish.Valid {
			t := publish.Time
			r.PublishAt = &t
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ListDocumentVectors returns a document's vectorized slides in order.
func (s *Store) ListDocumentVectors(ctx context.Context, documentID string) ([]SlideVector, error) {
	query := `SELECT id, slide_no, COALESCE(content_text, ''), content_text_vector
		FROM slides
		WHERE document_id = $1 AND content_text_vector IS NOT NULL
		ORDER BY slide_no ASC, chunk_index ASC`
	rows, err := s.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SlideVector
	for rows.Next() {
		var (
			sv  SlideVector
			vec pgvector.Vector
		)
		if err := rows.Scan(&sv.SlideID, &sv.SlideNo, &sv.Text, &vec); err != nil {
			return nil, err
		}
		sv.Vector = vec.Slice()
		out = append(out, sv)
	}
	return out, rows.Err()
}

// CountVectors counts a document's vectorized slides.
func (s *Store) CountVectors(ctx context.Context, documentID string) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM slides WHERE document_id = $1 AND content_text_vector IS NOT NULL`
	err := s.db.QueryRowContext(ctx, query, documentID).Scan(&n)
	return n, err
}

// Counts returns total and vectorized slide counts for stats.
func (s *Store) Counts(ctx context.Context) (slides int, vectors int, err error) {
	query := `SELECT COUNT(*), COUNT(content_text_vector) FROM slides`
	err = s.db.QueryRowContext(ctx, query).Scan(&slides, &vectors)
	return slides, vectors, err
}

// ColumnDimension reads the declared dimension of the slide vector column.
// pgvector stores the dimension as the column typmod. Checked against
// EMBED_DIM at startup so a misconfigured deployment fails loudly instead of
// erroring on the first vector write.
func (s *Store) ColumnDimension(ctx context.Context) (int, error) {
	query := `SELECT atttypmod FROM pg_attribute
		WHERE attrelid = 'slides'::regclass AND attname = 'content_text_vector'`
	var dim int
	if err := s.db.QueryRowContext(ctx, query).Scan(&dim); err != nil {
		return 0, fmt.Errorf("failed to read vector column dimension: %w", err)
	}
	return dim, nil
}
