package embed

import (
	"context"

	ierrors "github.com/kbforge/ingestd/internal/errors"
)

// EncodeFunc is a locally hosted encoding function, injected by the
// host process for the default and sentence-transformers engines.
type EncodeFunc func(ctx context.Context, texts []string) ([][]float32, error)

// LocalEmbedder wraps an in-process encode function behind the
// Embedder interface, applying the same batching as remote engines.
type LocalEmbedder struct {
	encode    EncodeFunc
	engine    string
	model     string
	batchSize int
}

var _ Embedder = (*LocalEmbedder)(nil)

// NewLocalEmbedder wraps encode as an Embedder.
func NewLocalEmbedder(engine, model string, batchSize int, encode EncodeFunc) *LocalEmbedder {
	return &LocalEmbedder{
		encode:    encode,
		engine:    engine,
		model:     model,
		batchSize: batchSize,
	}
}

func (e *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := batched(ctx, texts, e.batchSize, e.encode)
	if err != nil {
		return nil, ierrors.EmbeddingFailed("local encode failed", err)
	}
	return vectors, nil
}

func (e *LocalEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, ierrors.EmbeddingFailed("local encode returned no vector", nil)
	}
	return vectors[0], nil
}

func (e *LocalEmbedder) Engine() string { return e.engine }
func (e *LocalEmbedder) Model() string  { return e.model }
