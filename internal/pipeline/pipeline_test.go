package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"prospek/features/document"
	"prospek/internal/config"
	"prospek/internal/pipeline"
	"prospek/internal/vector"
)

const pageBreak = "[[[DOC_PAGE_BREAK]]]"

// fakeStore backs both the document lifecycle and the slide set in memory.
type fakeStore struct {
	mu     sync.Mutex
	docs   map[string]*document.Document
	slides map[string][]document.Slide
	nextID int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:   make(map[string]*document.Document),
		slides: make(map[string][]document.Slide),
	}
}

func (f *fakeStore) addDoc(id string, status document.Status) *document.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc := &document.Document{
		ID:             id,
		CollectionCode: "prospectus",
		IssuerCode:     "ACME",
		Status:         status,
		FilePath:       "/data/" + id + ".pdf",
		Metadata:       map[string]any{},
	}
	f.docs[id] = doc
	return doc
}

func (f *fakeStore) status(id string) document.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[id].Status
}

func (f *fakeStore) ListPending(ctx context.Context, status document.Status, limit int) ([]document.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []document.Document
	for _, d := range f.docs {
		if d.Status == status && len(out) < limit {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeStore) Claim(ctx context.Context, id string, status document.Status, lease time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok || d.Status != status {
		return false, nil
	}
	return true, nil
}

func (f *fakeStore) Transition(ctx context.Context, id string, to document.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return document.ErrNotFound
	}
	if !document.CanTransition(d.Status, to) {
		return &document.InvalidTransitionError{From: d.Status, To: to}
	}
	d.Status = to
	return nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, id, stage string, cause error) error {
	if err := f.Transition(ctx, id, document.StatusFailed); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.docs[id]
	d.Metadata[document.MetaFailedStage] = stage
	if cause != nil {
		d.Metadata[document.MetaLastError] = cause.Error()
	}
	return nil
}

func (f *fakeStore) ReplaceSlides(ctx context.Context, documentID string, slides []document.NewSlide) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]document.Slide, 0, len(slides))
	for _, s := range slides {
		f.nextID++
		out = append(out, document.Slide{
			ID:         fmt.Sprintf("slide-%d", f.nextID),
			DocumentID: documentID,
			SlideNo:    s.SlideNo,
			ChunkIndex: s.ChunkIndex,
			Text:       s.Text,
			ImagePath:  s.ImagePath,
			Metadata:   s.Metadata,
		})
	}
	f.slides[documentID] = out
	return nil
}

func (f *fakeStore) GetSlides(ctx context.Context, documentID string) ([]document.Slide, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]document.Slide(nil), f.slides[documentID]...), nil
}

func (f *fakeStore) MergeMetadata(ctx context.Context, id string, patch map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return document.ErrNotFound
	}
	for k, v := range patch {
		d.Metadata[k] = v
	}
	return nil
}

type fakeConverter struct {
	mu       sync.Mutex
	markdown string
	images   [][]byte
	err      error
	calls    int
}

func (f *fakeConverter) Convert(ctx context.Context, filePath string) (*pipeline.Extraction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Extraction{Markdown: f.markdown, Images: f.images}, nil
}

func (f *fakeConverter) Placeholder() string { return pageBreak }

func (f *fakeConverter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeEmbedder struct {
	mu      sync.Mutex
	dim     int
	err     error
	onEmbed func()
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onEmbed != nil {
		f.onEmbed()
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, f.dim)
		vec[0] = float32(i + 1)
		out[i] = vec
	}
	return out, nil
}

type fakeVectors struct {
	mu   sync.Mutex
	vecs map[string][]float32
}

func newFakeVectors() *fakeVectors {
	return &fakeVectors{vecs: make(map[string][]float32)}
}

func (f *fakeVectors) UpsertVector(ctx context.Context, slideID string, vec []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vecs[slideID] = vec
	return nil
}

func (f *fakeVectors) ListDocumentVectors(ctx context.Context, documentID string) ([]vector.SlideVector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []vector.SlideVector
	for id, vec := range f.vecs {
		out = append(out, vector.SlideVector{SlideID: id, Vector: vec})
	}
	return out, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
	bodies [][]byte
}

func (f *fakePublisher) Publish(topic string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	f.bodies = append(f.bodies, body)
	return nil
}

func (f *fakePublisher) published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.topics...)
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) Notify(ctx context.Context, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeNotifier) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

func testOptions(t *testing.T) pipeline.Options {
	return pipeline.Options{
		BatchSize:      10,
		Interval:       time.Second,
		MaxAttempts:    3,
		RetryBase:      time.Millisecond,
		EmbedBatchSize: 2,
		EmbedDim:       4,
		Lease:          time.Minute,
		DataDir:        t.TempDir(),
		Concurrency:    2,
	}
}

func newTestPipeline(t *testing.T, store *fakeStore, conv *fakeConverter, emb *fakeEmbedder,
	vecs *fakeVectors, pub *fakePublisher, notif *fakeNotifier) *pipeline.Pipeline {

	p, err := pipeline.New(store, store, conv, emb, vecs, nil, pub, notif, testOptions(t))
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestPipeline_FullLifecycle(t *testing.T) {
	store := newFakeStore()
	store.addDoc("doc-1", document.StatusDownloaded)

	conv := &fakeConverter{markdown: "Cover" + pageBreak + "Revenue grew" + pageBreak + "<!-- image -->"}
	emb := &fakeEmbedder{dim: 4}
	vecs := newFakeVectors()
	pub := &fakePublisher{}
	notif := &fakeNotifier{}

	p := newTestPipeline(t, store, conv, emb, vecs, pub, notif)
	ctx := context.Background()

	// Three cycles are enough for extract, embed and finalize even if a
	// stage misses the document within a cycle.
	require.NoError(t, p.RunCycle(ctx))
	require.NoError(t, p.RunCycle(ctx))
	require.NoError(t, p.RunCycle(ctx))

	assert.Equal(t, document.StatusReady, store.status("doc-1"))

	slides, _ := store.GetSlides(ctx, "doc-1")
	require.Len(t, slides, 3)
	assert.Equal(t, "Cover", slides[0].Text)
	assert.Equal(t, "", slides[2].Text) // image-only page kept without text

	// Only the two textual slides are vectorized.
	assert.Len(t, vecs.vecs, 2)

	assert.Contains(t, pub.published(), config.TopicReady)
	assert.Empty(t, notif.sent())
}

func TestPipeline_TransientConversionFailureExhaustsRetries(t *testing.T) {
	store := newFakeStore()
	store.addDoc("doc-1", document.StatusDownloaded)

	conv := &fakeConverter{err: errors.New("conversion service error: 503")}
	p := newTestPipeline(t, store, conv, &fakeEmbedder{dim: 4}, newFakeVectors(),
		&fakePublisher{}, &fakeNotifier{})

	require.NoError(t, p.RunCycle(context.Background()))

	assert.Equal(t, document.StatusFailed, store.status("doc-1"))
	assert.Equal(t, 3, conv.callCount())
	assert.Equal(t, "extract", store.docs["doc-1"].Metadata[document.MetaFailedStage])
	assert.Contains(t, store.docs["doc-1"].Metadata[document.MetaLastError], "503")
}

func TestPipeline_FailureEventAndAlert(t *testing.T) {
	store := newFakeStore()
	store.addDoc("doc-1", document.StatusDownloaded)

	pub := &fakePublisher{}
	notif := &fakeNotifier{}
	conv := &fakeConverter{err: errors.New("boom")}
	p := newTestPipeline(t, store, conv, &fakeEmbedder{dim: 4}, newFakeVectors(), pub, notif)

	require.NoError(t, p.RunCycle(context.Background()))

	assert.Contains(t, pub.published(), config.TopicFailed)
	assert.Contains(t, pub.published(), config.TopicAlert)
	require.Len(t, notif.sent(), 1)
	assert.Contains(t, notif.sent()[0], "doc-1")
}

func TestPipeline_NoEmbeddableContentFailsWithoutRetry(t *testing.T) {
	store := newFakeStore()
	store.addDoc("doc-1", document.StatusDownloaded)

	// Every page is an image placeholder, nothing to embed.
	conv := &fakeConverter{markdown: "<!-- image -->" + pageBreak + "<!-- image -->"}
	p := newTestPipeline(t, store, conv, &fakeEmbedder{dim: 4}, newFakeVectors(),
		&fakePublisher{}, &fakeNotifier{})

	require.NoError(t, p.RunCycle(context.Background()))

	assert.Equal(t, document.StatusFailed, store.status("doc-1"))
	assert.Equal(t, 1, conv.callCount())
	assert.Contains(t, store.docs["doc-1"].Metadata[document.MetaLastError], "no embeddable content")
}

func TestPipeline_ImageCountMismatchIsPermanent(t *testing.T) {
	store := newFakeStore()
	store.addDoc("doc-1", document.StatusDownloaded)

	// Two pages of text but three rendered images.
	conv := &fakeConverter{
		markdown: "Page one" + pageBreak + "Page two",
		images:   [][]byte{{1}, {2}, {3}},
	}
	p := newTestPipeline(t, store, conv, &fakeEmbedder{dim: 4}, newFakeVectors(),
		&fakePublisher{}, &fakeNotifier{})

	require.NoError(t, p.RunCycle(context.Background()))

	assert.Equal(t, document.StatusFailed, store.status("doc-1"))
	assert.Equal(t, 1, conv.callCount())
	assert.Contains(t, store.docs["doc-1"].Metadata[document.MetaLastError], "extraction mismatch")
}

func TestPipeline_DimensionMismatchLeavesStatusUnchanged(t *testing.T) {
	store := newFakeStore()
	doc := store.addDoc("doc-1", document.StatusParsed)
	require.NoError(t, store.ReplaceSlides(context.Background(), doc.ID, []document.NewSlide{
		{SlideNo: 1, Text: "Revenue grew"},
	}))

	pub := &fakePublisher{}
	notif := &fakeNotifier{}
	emb := &fakeEmbedder{dim: 768} // deployment persists 4 in these tests
	p := newTestPipeline(t, store, &fakeConverter{}, emb, newFakeVectors(), pub, notif)

	require.NoError(t, p.RunCycle(context.Background()))

	// Not failed: the document is fine, the deployment is not.
	assert.Equal(t, document.StatusParsed, store.status("doc-1"))
	assert.NotContains(t, pub.published(), config.TopicFailed)
	assert.Contains(t, pub.published(), config.TopicAlert)
	require.Len(t, notif.sent(), 1)
	assert.Contains(t, notif.sent()[0], "dimension mismatch")
}

func TestPipeline_LostTransitionRaceDoesNotFailDocument(t *testing.T) {
	store := newFakeStore()
	doc := store.addDoc("doc-1", document.StatusParsed)
	require.NoError(t, store.ReplaceSlides(context.Background(), doc.ID, []document.NewSlide{
		{SlideNo: 1, Text: "Revenue grew"},
	}))

	pub := &fakePublisher{}
	notif := &fakeNotifier{}
	emb := &fakeEmbedder{dim: 4}
	// Operator resets the document while the embed stage holds it; the
	// worker's parsed -> embedded transition then loses the race.
	emb.onEmbed = func() {
		store.mu.Lock()
		store.docs["doc-1"].Status = document.StatusDownloaded
		store.mu.Unlock()
	}
	p := newTestPipeline(t, store, &fakeConverter{markdown: "Recovered page"}, emb,
		newFakeVectors(), pub, notif)

	require.NoError(t, p.RunCycle(context.Background()))

	// The reset must stick: no sticky failed, no failure event, no alert.
	assert.NotEqual(t, document.StatusFailed, store.status("doc-1"))
	assert.NotContains(t, store.docs["doc-1"].Metadata, document.MetaLastError)
	assert.NotContains(t, pub.published(), config.TopicFailed)
	assert.Empty(t, notif.sent())
}

func TestPipeline_RerunAfterEmbedFailureIsIdempotent(t *testing.T) {
	store := newFakeStore()
	store.addDoc("doc-1", document.StatusDownloaded)

	conv := &fakeConverter{markdown: "Only page"}
	emb := &fakeEmbedder{dim: 4}
	emb.err = errors.New("embedder down")
	vecs := newFakeVectors()
	p := newTestPipeline(t, store, conv, emb, vecs, &fakePublisher{}, &fakeNotifier{})
	ctx := context.Background()

	require.NoError(t, p.RunCycle(ctx)) // extract ok
	require.NoError(t, p.RunCycle(ctx)) // embed fails terminally
	assert.Equal(t, document.StatusFailed, store.status("doc-1"))

	// Operator reset, embedder recovered: the document flows through again.
	require.NoError(t, store.Transition(ctx, "doc-1", document.StatusDownloaded))
	emb.mu.Lock()
	emb.err = nil
	emb.mu.Unlock()

	require.NoError(t, p.RunCycle(ctx))
	require.NoError(t, p.RunCycle(ctx))
	require.NoError(t, p.RunCycle(ctx))
	assert.Equal(t, document.StatusReady, store.status("doc-1"))
	assert.Len(t, vecs.vecs, 1)
}
