package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/alfredhq/alfred/internal/memory"
	"github.com/sashabaranov/go-openai"
)

// Embedder produces embeddings through an OpenAI-compatible
// /v1/embeddings endpoint. The default deployment points it at a local
// Ollama instance, so no API key is required.
type Embedder struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewEmbedder creates an embedding client for the given base URL (the
// server root, e.g. http://localhost:11434) and model name.
func NewEmbedder(baseURL, model string, timeout time.Duration) *Embedder {
	cfg := openai.DefaultConfig("ollama") // key not required for Ollama
	cfg.BaseURL = baseURL + "/v1"

	return &Embedder{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		timeout: timeout,
	}
}

// Embed returns one L2-normalized vector per input text, in order. The
// call is bounded by the configured timeout and honors ctx cancellation;
// any transport or model failure surfaces as memory.ErrModelUnavailable
// so callers know the operation is retryable.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", memory.ErrModelUnavailable, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs",
			memory.ErrModelUnavailable, len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		vectors[d.Index] = memory.Normalize(d.Embedding)
	}
	return vectors, nil
}
