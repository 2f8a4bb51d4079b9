package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) UpsertBoards(ctx context.Context, boards []ListingBoard) error {
	query := `INSERT INTO listing_boards (code, name) VALUES ($1, $2)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name`
	for _, b := range boards {
		if _, err := r.db.ExecContext(ctx, query, b.Code, b.Name); err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresRepo) UpsertIssuers(ctx context.Context, issuers []Issuer) error {
	query := `INSERT INTO issuers (code, listing_board_code, name) VALUES ($1, $2, $3)
		ON CONFLICT (code) DO UPDATE SET listing_board_code = EXCLUDED.listing_board_code, name = EXCLUDED.name`
	for _, i := range issuers {
		if _, err := r.db.ExecContext(ctx, query, i.Code, i.ListingBoardCode, i.Name); err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresRepo) UpsertCollections(ctx context.Context, collections []Collection) error {
	query := `INSERT INTO collections (code, name, metadata) VALUES ($1, $2, $3)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, metadata = EXCLUDED.metadata`
	for _, c := range collections {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, query, c.Code, c.Name, meta); err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresRepo) ListIssuers(ctx context.Context) ([]Issuer, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT code, listing_board_code, name FROM issuers ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issuers []Issuer
	for rows.Next() {
		var i Issuer
		if err := rows.Scan(&i.Code, &i.ListingBoardCode, &i.Name); err != nil {
			return nil, err
		}
		i.Code = strings.TrimSpace(i.Code)
		i.ListingBoardCode = strings.TrimSpace(i.ListingBoardCode)
		issuers = append(issuers, i)
	}
	return issuers, rows.Err()
}

func (r *PostgresRepo) ListCollections(ctx context.Context) ([]Collection, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT code, name, metadata FROM collections ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var collections []Collection
	for rows.Next() {
		var (
			c       Collection
			metaRaw []byte
		)
		if err := rows.Scan(&c.Code, &c.Name, &metaRaw); err != nil {
			return nil, err
		}
		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &c.Metadata); err != nil {
				return nil, err
			}
		}
		collections = append(collections, c)
	}
	return collections, rows.Err()
}
