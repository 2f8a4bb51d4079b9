package gemini

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"prospek/internal/settings"
)

// DynamicEmbedder resolves the API key from settings on each call, so a key
// rotated at runtime takes effect without a restart.
type DynamicEmbedder struct {
	settingsSvc *settings.Service
	embedder    *Embedder
	currentKey  string
	mu          sync.Mutex
	clientOpts  []option.ClientOption
}

func NewDynamicEmbedder(svc *settings.Service, opts ...option.ClientOption) *DynamicEmbedder {
	return &DynamicEmbedder{
		settingsSvc: svc,
		clientOpts:  opts,
	}
}

func (e *DynamicEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	s, err := e.settingsSvc.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	if s.GeminiAPIKey == "" {
		return nil, fmt.Errorf("gemini api key not configured")
	}

	embedder, err := e.resolve(ctx, s.GeminiAPIKey)
	if err != nil {
		return nil, err
	}
	return embedder.Embed(ctx, texts)
}

func (e *DynamicEmbedder) resolve(ctx context.Context, key string) (*Embedder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.embedder != nil && e.currentKey == key {
		return e.embedder, nil
	}

	opts := append([]option.ClientOption{option.WithAPIKey(key)}, e.clientOpts...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	e.embedder = &Embedder{client: client, model: "gemini-embedding-001"}
	e.currentKey = key
	return e.embedder, nil
}
