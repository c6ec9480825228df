package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	ierrors "github.com/kbforge/ingestd/internal/errors"
)

// OllamaEmbedder generates embeddings using Ollama's HTTP batch API.
type OllamaEmbedder struct {
	client    *http.Client
	baseURL   string
	model     string
	batchSize int
}

var _ Embedder = (*OllamaEmbedder)(nil)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	BaseURL   string
	Model     string
	BatchSize int
	Timeout   time.Duration
}

// NewOllamaEmbedder creates an embedder against an Ollama server.
func NewOllamaEmbedder(cfg OllamaConfig) *OllamaEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     10 * time.Second,
	}
	return &OllamaEmbedder{
		client:    &http.Client{Transport: transport, Timeout: cfg.Timeout},
		baseURL:   cfg.BaseURL,
		model:     cfg.Model,
		batchSize: cfg.BatchSize,
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return batched(ctx, texts, e.batchSize, e.embedOnce)
}

func (e *OllamaEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embedOnce(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *OllamaEmbedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, ierrors.EmbeddingFailed("marshal ollama request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, ierrors.EmbeddingFailed("build ollama request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, ierrors.EmbeddingFailed("ollama request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, ierrors.EmbeddingFailed(
			fmt.Sprintf("ollama returned status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, ierrors.EmbeddingFailed("decode ollama response", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, ierrors.EmbeddingFailed(
			fmt.Sprintf("ollama returned %d embeddings for %d inputs", len(result.Embeddings), len(texts)), nil)
	}
	return result.Embeddings, nil
}

func (e *OllamaEmbedder) Engine() string { return "ollama" }
func (e *OllamaEmbedder) Model() string  { return e.model }
