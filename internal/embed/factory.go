package embed

import (
	"github.com/kbforge/ingestd/internal/config"
	ierrors "github.com/kbforge/ingestd/internal/errors"
)

// Engine names the dispatcher recognizes.
const (
	EngineDefault              = "default"
	EngineSentenceTransformers = "sentence-transformers"
	EngineOllama               = "ollama"
	EngineOpenAI               = "openai"
)

// New resolves the configured engine name to a concrete embedder.
// The empty engine name, "default" and "sentence-transformers" all
// select the locally injected encode function; "ollama" and "openai"
// select the remote engines. Any other name is a configuration error.
func New(cfg config.EmbeddingConfig, local EncodeFunc) (Embedder, error) {
	var embedder Embedder

	switch cfg.Engine {
	case "", EngineDefault, EngineSentenceTransformers:
		if local == nil {
			return nil, ierrors.EmbeddingFailed("no local encode function configured", nil)
		}
		embedder = NewLocalEmbedder(cfg.Engine, cfg.Model, cfg.BatchSize, local)
	case EngineOllama:
		embedder = NewOllamaEmbedder(OllamaConfig{
			BaseURL:   cfg.OllamaBaseURL,
			Model:     cfg.Model,
			BatchSize: cfg.BatchSize,
		})
	case EngineOpenAI:
		embedder = NewOpenAIEmbedder(OpenAIConfig{
			BaseURL:   cfg.OpenAIBaseURL,
			APIKey:    cfg.OpenAIAPIKey,
			Model:     cfg.Model,
			BatchSize: cfg.BatchSize,
		})
	default:
		return nil, ierrors.UnknownEngine(cfg.Engine)
	}

	if cfg.CacheSize > 0 {
		return NewCachedEmbedder(embedder, cfg.CacheSize)
	}
	return embedder, nil
}
