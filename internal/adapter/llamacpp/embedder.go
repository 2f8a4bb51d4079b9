package llamacpp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"time"

	"prospek/internal/pipeline"
)

// Embedder calls an OpenAI-compatible /v1/embeddings endpoint (llama.cpp
// server). Batched: one request per call, one vector per input, input order.
type Embedder struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewEmbedder(baseURL, model string, timeout time.Duration) *Embedder {
	return &Embedder{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

type embeddingRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	EncodingFormat string   `json:"encoding_format"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, pipeline.Permanent(fmt.Errorf("empty embedding batch"))
	}

	payload, err := json.Marshal(embeddingRequest{
		Model:          e.model,
		Input:          texts,
		EncodingFormat: "float",
	})
	if err != nil {
		return nil, pipeline.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err // network/timeout: transient
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("embedding service error: %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, pipeline.Permanent(fmt.Errorf("embedding request rejected: %d: %s", resp.StatusCode, raw))
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, pipeline.Permanent(fmt.Errorf("malformed embeddings response: %w", err))
	}
	if len(parsed.Data) != len(texts) {
		return nil, pipeline.Permanent(fmt.Errorf("embedding count mismatch: got %d, want %d", len(parsed.Data), len(texts)))
	}

	// The service reports an index per item; sort to restore input order.
	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })

	vectors := make([][]float32, len(parsed.Data))
	for i, item := range parsed.Data {
		if err := validateVector(item.Embedding); err != nil {
			return nil, pipeline.Permanent(fmt.Errorf("vector %d: %w", i, err))
		}
		vectors[i] = item.Embedding
	}
	return vectors, nil
}

func validateVector(vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("empty vector")
	}
	for _, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("non-finite component")
		}
	}
	return nil
}
