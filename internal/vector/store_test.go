package vector_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"prospek/internal/vector"
)

func TestStore_UpsertVector(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := vector.NewStore(db)

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE slides SET content_text_vector = $1")).
			WithArgs(sqlmock.AnyArg(), "slide-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.UpsertVector(context.Background(), "slide-1", []float32{0.1, 0.2})
		assert.NoError(t, err)
	})

	t.Run("UnknownSlide", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE slides SET content_text_vector = $1")).
			WithArgs(sqlmock.AnyArg(), "missing").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.UpsertVector(context.Background(), "missing", []float32{0.1})
		assert.ErrorContains(t, err, "slide not found")
	})
}

func TestStore_Search(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := vector.NewStore(db)
	publish := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	cols := []string{"id", "document_id", "slide_no", "content_text",
		"name", "issuer_code", "collection_code", "publish_at", "distance"}

	t.Run("NoFilters", func(t *testing.T) {
		rows := sqlmock.NewRows(cols).
			AddRow("s1", "doc-1", 3, "Revenue grew 12%", "Q2 Deck", "ACME    ", "prospectus", publish, 0.12).
			AddRow("s2", "doc-2", 1, "Guidance raised", "Q2 Update", "BETA    ", "prospectus", nil, 0.27)

		mock.ExpectQuery(regexp.QuoteMeta("JOIN documents d ON d.id = s.document_id")).
			WithArgs(sqlmock.AnyArg(), int16(4), 5).
			WillReturnRows(rows)

		results, err := store.Search(context.Background(), []float32{0.1, 0.2}, 5, vector.SearchFilters{})
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "s1", results[0].SlideID)
		assert.Equal(t, "ACME", results[0].IssuerCode)
		assert.Equal(t, float32(0.12), results[0].Distance)
		require.NotNil(t, results[0].PublishAt)
		assert.Nil(t, results[1].PublishAt)
	})

	t.Run("WithFilters", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("JOIN documents d ON d.id = s.document_id")).
			WithArgs(sqlmock.AnyArg(), int16(4), "ACME", "prospectus", 3).
			WillReturnRows(sqlmock.NewRows(cols))

		results, err := store.Search(context.Background(), []float32{0.1}, 3,
			vector.SearchFilters{IssuerCode: "ACME", CollectionCode: "prospectus"})
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestStore_ListDocumentVectors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := vector.NewStore(db)

	rows := sqlmock.NewRows([]string{"id", "slide_no", "content_text", "content_text_vector"}).
		AddRow("s1", 1, "Cover", "[0.1,0.2]").
		AddRow("s2", 2, "Revenue", "[0.3,0.4]")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, slide_no, COALESCE(content_text, ''), content_text_vector")).
		WithArgs("doc-1").
		WillReturnRows(rows)

	vecs, err := store.ListDocumentVectors(context.Background(), "doc-1")
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, "s1", vecs[0].SlideID)
	assert.Equal(t, []float32{0.1, 0.2}, vecs[0].Vector)
	assert.Equal(t, 2, vecs[1].SlideNo)
}

func TestStore_Counts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := vector.NewStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*), COUNT(content_text_vector) FROM slides")).
		WillReturnRows(sqlmock.NewRows([]string{"slides", "vectors"}).AddRow(14, 11))

	slides, vectors, err := store.Counts(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 14, slides)
	assert.Equal(t, 11, vectors)
}

func TestStore_ColumnDimension(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := vector.NewStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT atttypmod FROM pg_attribute")).
		WillReturnRows(sqlmock.NewRows([]string{"atttypmod"}).AddRow(1024))

	dim, err := store.ColumnDimension(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1024, dim)
}
