// Package embed dispatches text embedding across multiple engines.
//
// The dispatcher resolves an engine name to a concrete embedder: a
// locally injected encode function, an Ollama server, or an
// OpenAI-compatible API. All engines batch their inputs and preserve
// input order; a failed remote call fails the whole batch.
package embed

import (
	"context"
	"time"
)

// Batch size bounds for embedding requests.
const (
	MinBatchSize     = 1
	MaxBatchSize     = 256
	DefaultBatchSize = 32

	// DefaultTimeout bounds a single remote embedding call.
	DefaultTimeout = 60 * time.Second
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// EmbedBatch generates one embedding per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query text.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Engine returns the resolved engine name.
	Engine() string

	// Model returns the model identifier.
	Model() string
}

// batched splits texts into batches of at most batchSize and calls fn
// per batch, concatenating results in input order. Any batch failure
// fails the whole call.
func batched(ctx context.Context, texts []string, batchSize int, fn func(context.Context, []string) ([][]float32, error)) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		vectors, err := fn(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, vectors...)
	}
	return results, nil
}
