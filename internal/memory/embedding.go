package memory

import "context"

// Embedder converts text into L2-normalized fixed-dimension vectors,
// one per input, preserving order. This interface allows the memory
// store to request embeddings without depending on the AI service.
//
// Implementations must be safe to call with a single-element batch.
// When the underlying model cannot be reached, calls should fail with
// an error wrapping ErrModelUnavailable.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
