package document

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const docColumns = `id, collection_code, issuer_code, checksum, name, publish_at, status, file_path, metadata, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (*Document, error) {
	var (
		d        Document
		status   int16
		metaRaw  []byte
		publish  sql.NullTime
		issuer   string
		collCode string
	)
	err := row.Scan(&d.ID, &collCode, &issuer, &d.Checksum, &d.Name, &publish, &status, &d.FilePath, &metaRaw, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.CollectionCode = strings.TrimSpace(collCode)
	d.IssuerCode = strings.TrimSpace(issuer)
	d.Status = Status(status)
	d.StatusName = d.Status.String()
	if publish.Valid {
		t := publish.Time
		d.PublishAt = &t
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &d.Metadata); err != nil {
			return nil, fmt.Errorf("corrupt document metadata: %w", err)
		}
	}
	return &d, nil
}

func marshalMeta(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	return json.Marshal(m)
}

func (r *PostgresRepo) Insert(ctx context.Context, doc *Document) error {
	meta, err := marshalMeta(doc.Metadata)
	if err != nil {
		return err
	}
	query := `INSERT INTO documents (collection_code, issuer_code, checksum, name, publish_at, status, file_path, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`
	return r.db.QueryRowContext(ctx, query,
		doc.CollectionCode, doc.IssuerCode, doc.Checksum, doc.Name, doc.PublishAt,
		int16(doc.Status), doc.FilePath, meta,
	).Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
}

func (r *PostgresRepo) GetByChecksum(ctx context.Context, collectionCode, checksum string) (*Document, error) {
	query := `SELECT ` + docColumns + ` FROM documents WHERE collection_code = $1 AND checksum = $2`
	doc, err := scanDocument(r.db.QueryRowContext(ctx, query, collectionCode, checksum))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return doc, err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Document, error) {
	query := `SELECT ` + docColumns + ` FROM documents WHERE id = $1`
	doc, err := scanDocument(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return doc, err
}

func (r *PostgresRepo) List(ctx context.Context, status *Status) ([]Document, error) {
	query := `SELECT ` + docColumns + ` FROM documents ORDER BY created_at DESC`
	args := []any{}
	if status != nil {
		query = `SELECT ` + docColumns + ` FROM documents WHERE status = $1 ORDER BY created_at DESC`
		args = append(args, int16(*status))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// ListPending returns documents sitting at a status, oldest first, so no
// issuer can starve the batch.
func (r *PostgresRepo) ListPending(ctx context.Context, status Status, limit int) ([]Document, error) {
	query := `SELECT ` + docColumns + ` FROM documents WHERE status = $1 ORDER BY created_at ASC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, int16(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// UpdateStatus performs the transition conditionally on the current status.
// Returns false when another worker got there first.
func (r *PostgresRepo) UpdateStatus(ctx context.Context, id string, from, to Status) (bool, error) {
	query := `UPDATE documents SET status = $1, claimed_at = NULL, updated_at = NOW() WHERE id = $2 AND status = $3`
	res, err := r.db.ExecContext(ctx, query, int16(to), id, int16(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Claim takes a processing lease on a document via a conditional update.
// An unexpired lease held by another worker makes the claim fail, and the
// caller skips the document for this cycle.
func (r *PostgresRepo) Claim(ctx context.Context, id string, status Status, lease time.Duration) (bool, error) {
	query := `UPDATE documents SET claimed_at = NOW()
		WHERE id = $1 AND status = $2
		  AND (claimed_at IS NULL OR claimed_at < NOW() - ($3 * interval '1 second'))`
	res, err := r.db.ExecContext(ctx, query, id, int16(status), int64(lease.Seconds()))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *PostgresRepo) MergeMetadata(ctx context.Context, id string, patch map[string]any) error {
	raw, err := marshalMeta(patch)
	if err != nil {
		return err
	}
	query := `UPDATE documents SET metadata = COALESCE(metadata, '{}'::jsonb) || $1::jsonb, updated_at = NOW() WHERE id = $2`
	_, err = r.db.ExecContext(ctx, query, raw, id)
	return err
}

// ReplaceSlides swaps a document's slide set in one transaction, so a
// concurrent reader never observes a mix of old and new slides.
func (r *PostgresRepo) ReplaceSlides(ctx context.Context, documentID string, slides []NewSlide) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM slides WHERE document_id = $1`, documentID); err != nil {
		return err
	}

	insert := `INSERT INTO slides (document_id, slide_no, chunk_index, content_text, image_path, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`
	for _, s := range slides {
		meta, err := marshalMeta(s.Metadata)
		if err != nil {
			return err
		}
		var text sql.NullString
		if s.Text != "" {
			text = sql.NullString{String: s.Text, Valid: true}
		}
		var image sql.NullString
		if s.ImagePath != "" {
			image = sql.NullString{String: s.ImagePath, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, insert, documentID, s.SlideNo, s.ChunkIndex, text, image, meta); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *PostgresRepo) GetSlides(ctx context.Context, documentID string) ([]Slide, error) {
	query := `SELECT id, document_id, slide_no, chunk_index, COALESCE(content_text, ''),
			(content_text_vector IS NOT NULL), COALESCE(image_path, ''), metadata
		FROM slides WHERE document_id = $1 ORDER BY slide_no ASC, chunk_index ASC`
	rows, err := r.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slides []Slide
	for rows.Next() {
		var (
			s       Slide
			metaRaw []byte
		)
		if err := rows.Scan(&s.ID, &s.DocumentID, &s.SlideNo, &s.ChunkIndex, &s.Text, &s.HasVector, &s.ImagePath, &metaRaw); err != nil {
			return nil, err
		}
		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &s.Metadata); err != nil {
				return nil, fmt.Errorf("corrupt slide metadata: %w", err)
			}
		}
		slides = append(slides, s)
	}
	return slides, rows.Err()
}

func (r *PostgresRepo) DeleteSlides(ctx context.Context, documentID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM slides WHERE document_id = $1`, documentID)
	return err
}

// ResetToDownloaded is the operator escape hatch; unlike UpdateStatus it is
// unconditional and also clears failure metadata.
func (r *PostgresRepo) ResetToDownloaded(ctx context.Context, id string) error {
	query := `UPDATE documents
		SET status = $1, claimed_at = NULL,
		    metadata = COALESCE(metadata, '{}'::jsonb) - 'last_error' - 'failed_stage' - 'attempts',
		    updated_at = NOW()
		WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, int16(StatusDownloaded), id)
	return err
}

func (r *PostgresRepo) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var (
			status int16
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}
