package stats

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"prospek/features/document"
)

type mockDocs struct{ mock.Mock }

func (m *mockDocs) CountByStatus(ctx context.Context) (map[document.Status]int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[document.Status]int), args.Error(1)
}

type mockSlides struct{ mock.Mock }

func (m *mockSlides) Counts(ctx context.Context) (int, int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Int(1), args.Error(2)
}

func TestHandler_Stats(t *testing.T) {
	docs := new(mockDocs)
	slides := new(mockSlides)
	h := NewHandler(docs, slides)

	docs.On("CountByStatus", mock.Anything).Return(map[document.Status]int{
		document.StatusDownloaded: 2,
		document.StatusReady:      7,
		document.StatusFailed:     1,
	}, nil)
	slides.On("Counts", mock.Anything).Return(31, 27, nil)

	rec := httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data struct {
			Documents      map[string]int `json:"documents"`
			DocumentsTotal int            `json:"documents_total"`
			SlidesTotal    int            `json:"slides_total"`
			VectorsTotal   int            `json:"vectors_total"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 7, resp.Data.Documents["ready"])
	assert.Equal(t, 10, resp.Data.DocumentsTotal)
	assert.Equal(t, 31, resp.Data.SlidesTotal)
	assert.Equal(t, 27, resp.Data.VectorsTotal)
}

func TestHandler_Stats_CountFailure(t *testing.T) {
	docs := new(mockDocs)
	h := NewHandler(docs, new(mockSlides))

	docs.On("CountByStatus", mock.Anything).Return(nil, errors.New("db down"))

	rec := httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
