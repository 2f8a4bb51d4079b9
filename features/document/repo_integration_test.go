package document_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"prospek/features/catalog"
	"prospek/features/document"
	"prospek/internal/testutils"
	"prospek/internal/vector"
)

func seedCatalog(t *testing.T, repo *catalog.PostgresRepo) {
	ctx := context.Background()
	require.NoError(t, repo.UpsertBoards(ctx, []catalog.ListingBoard{{Code: "main", Name: "Main Board"}}))
	require.NoError(t, repo.UpsertIssuers(ctx, []catalog.Issuer{{Code: "ACME", ListingBoardCode: "main", Name: "Acme Corp"}}))
	require.NoError(t, repo.UpsertCollections(ctx, []catalog.Collection{{Code: "prospectus", Name: "Prospectuses"}}))
}

func testVector(seed float32) []float32 {
	vec := make([]float32, 1024)
	vec[0] = seed
	vec[1] = 1
	return vec
}

func TestRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	suite := testutils.NewIntegrationSuite(t)
	suite.Setup()
	defer suite.Teardown()

	ctx := context.Background()
	seedCatalog(t, catalog.NewPostgresRepo(suite.DB))

	repo := document.NewPostgresRepo(suite.DB)
	vecStore := vector.NewStore(suite.DB)

	// Register
	doc := &document.Document{
		CollectionCode: "prospectus",
		IssuerCode:     "ACME",
		Checksum:       "sha256-1",
		Name:           "Q2 Deck",
		Status:         document.StatusDownloaded,
		FilePath:       "/data/deck.pdf",
	}
	require.NoError(t, repo.Insert(ctx, doc))
	require.NotEmpty(t, doc.ID)

	// The checksum is unique within the collection
	dup := *doc
	dup.ID = ""
	assert.Error(t, repo.Insert(ctx, &dup))

	found, err := repo.GetByChecksum(ctx, "prospectus", "sha256-1")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, found.ID)

	// Claim: second claim within the lease fails, expired lease succeeds
	ok, err := repo.Claim(ctx, doc.ID, document.StatusDownloaded, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Claim(ctx, doc.ID, document.StatusDownloaded, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.Claim(ctx, doc.ID, document.StatusDownloaded, time.Nanosecond)
	require.NoError(t, err)
	assert.True(t, ok)

	// Slides
	require.NoError(t, repo.ReplaceSlides(ctx, doc.ID, []document.NewSlide{
		{SlideNo: 1, Text: "Revenue grew 12%"},
		{SlideNo: 2, Text: ""},
	}))
	slides, err := repo.GetSlides(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, slides, 2)

	// Vector on the textual slide only
	require.NoError(t, vecStore.UpsertVector(ctx, slides[0].ID, testVector(0.5)))

	// Lifecycle to ready; search stays empty until the document arrives there
	results, err := vecStore.Search(ctx, testVector(0.5), 10, vector.SearchFilters{})
	require.NoError(t, err)
	assert.Empty(t, results, "non-ready documents must be invisible to search")

	for _, to := range []document.Status{document.StatusParsed, document.StatusEmbedded, document.StatusReady} {
		cur, err := repo.Get(ctx, doc.ID)
		require.NoError(t, err)
		ok, err := repo.UpdateStatus(ctx, doc.ID, cur.Status, to)
		require.NoError(t, err)
		require.True(t, ok)
	}

	results, err = vecStore.Search(ctx, testVector(0.5), 10, vector.SearchFilters{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, slides[0].ID, results[0].SlideID)
	assert.Equal(t, "ACME", results[0].IssuerCode)

	// Issuer filter
	results, err = vecStore.Search(ctx, testVector(0.5), 10, vector.SearchFilters{IssuerCode: "OTHER"})
	require.NoError(t, err)
	assert.Empty(t, results)

	// Reset clears the claim and failure metadata
	require.NoError(t, repo.MergeMetadata(ctx, doc.ID, map[string]any{
		document.MetaLastError: "boom", document.MetaFailedStage: "embed",
	}))
	require.NoError(t, repo.ResetToDownloaded(ctx, doc.ID))
	cur, err := repo.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, document.StatusDownloaded, cur.Status)
	assert.NotContains(t, cur.Metadata, document.MetaLastError)
}
