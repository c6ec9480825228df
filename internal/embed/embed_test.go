package embed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbforge/ingestd/internal/config"
	ierrors "github.com/kbforge/ingestd/internal/errors"
)

func TestOllamaEmbedBatchPreservesOrder(t *testing.T) {
	var batchSizes []int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		batchSizes = append(batchSizes, len(req.Input))

		// Embed each text as its length so order is observable.
		embeddings := make([][]float32, len(req.Input))
		for i, text := range req.Input {
			embeddings[i] = []float32{float32(len(text))}
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: embeddings})
	}))
	defer server.Close()

	e := NewOllamaEmbedder(OllamaConfig{BaseURL: server.URL, Model: "test-model", BatchSize: 2})

	vectors, err := e.EmbedBatch(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
	require.NoError(t, err)

	require.Len(t, vectors, 5)
	for i, v := range vectors {
		assert.Equal(t, float32(i+1), v[0])
	}
	assert.Equal(t, []int{2, 2, 1}, batchSizes)
}

func TestOllamaWholeBatchFailsOnError(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 2 {
			http.Error(w, "model not found", http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{
			Embeddings: [][]float32{{1}, {2}},
		})
	}))
	defer server.Close()

	e := NewOllamaEmbedder(OllamaConfig{BaseURL: server.URL, Model: "m", BatchSize: 2})

	_, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c", "d"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ierrors.ErrEmbeddingFailed))
	assert.True(t, ierrors.IsRetryable(err))
}

func TestOllamaCountMismatchIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{1}}})
	}))
	defer server.Close()

	e := NewOllamaEmbedder(OllamaConfig{BaseURL: server.URL, Model: "m"})
	_, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	assert.True(t, errors.Is(err, ierrors.ErrEmbeddingFailed))
}

func TestOpenAIEmbedReordersByIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		// Respond out of order; the index field is authoritative.
		_, _ = w.Write([]byte(`{"data":[
			{"index":1,"embedding":[2.0]},
			{"index":0,"embedding":[1.0]}
		]}`))
	}))
	defer server.Close()

	e := NewOpenAIEmbedder(OpenAIConfig{
		BaseURL: server.URL + "/v1",
		APIKey:  "sk-test",
		Model:   "text-embedding-3-small",
	})

	vectors, err := e.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1.0}, vectors[0])
	assert.Equal(t, []float32{2.0}, vectors[1])
}

func TestOpenAIErrorStatusFailsBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	e := NewOpenAIEmbedder(OpenAIConfig{BaseURL: server.URL + "/v1", Model: "m"})
	_, err := e.EmbedBatch(context.Background(), []string{"a"})
	assert.True(t, errors.Is(err, ierrors.ErrEmbeddingFailed))
}

func TestFactoryDispatch(t *testing.T) {
	local := func(ctx context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{1}
		}
		return out, nil
	}

	for _, engine := range []string{"", "default", "sentence-transformers"} {
		e, err := New(config.EmbeddingConfig{Engine: engine, Model: "local-model"}, local)
		require.NoError(t, err)
		_, ok := e.(*LocalEmbedder)
		assert.True(t, ok, "engine %q selects the local embedder", engine)
	}

	e, err := New(config.EmbeddingConfig{Engine: "ollama", Model: "m"}, nil)
	require.NoError(t, err)
	_, ok := e.(*OllamaEmbedder)
	assert.True(t, ok)

	e, err = New(config.EmbeddingConfig{Engine: "openai", Model: "m"}, nil)
	require.NoError(t, err)
	_, ok = e.(*OpenAIEmbedder)
	assert.True(t, ok)
}

func TestFactoryUnknownEngine(t *testing.T) {
	_, err := New(config.EmbeddingConfig{Engine: "qdrant"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ierrors.ErrUnknownEngine))
	assert.False(t, ierrors.IsRetryable(err))
}

func TestFactoryWrapsCache(t *testing.T) {
	local := func(ctx context.Context, texts []string) ([][]float32, error) {
		return make([][]float32, len(texts)), nil
	}
	e, err := New(config.EmbeddingConfig{Engine: "default", CacheSize: 10}, local)
	require.NoError(t, err)
	_, ok := e.(*CachedEmbedder)
	assert.True(t, ok)
}

func TestCachedEmbedderHitsSkipInner(t *testing.T) {
	innerCalls := 0
	local := NewLocalEmbedder("default", "m", 0, func(ctx context.Context, texts []string) ([][]float32, error) {
		innerCalls++
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{42}
		}
		return out, nil
	})

	cached, err := NewCachedEmbedder(local, 16)
	require.NoError(t, err)

	ctx := context.Background()
	v1, err := cached.EmbedQuery(ctx, "hello")
	require.NoError(t, err)
	v2, err := cached.EmbedQuery(ctx, "hello")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, innerCalls)

	// Batch reuses the query cache and embeds only misses.
	vectors, err := cached.EmbedBatch(ctx, []string{"hello", "world"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, 2, innerCalls)
}

func TestSparseModelTermFrequencies(t *testing.T) {
	m := NewSparseModel()

	sv := m.Embed("the cat sat on the mat")
	require.NotNil(t, sv)
	require.Len(t, sv.Indices, 5)
	require.Len(t, sv.Values, len(sv.Indices))

	// "the" appears twice; find its dimension and check the count.
	theIdx := TokenIndex("the")
	found := false
	for i, idx := range sv.Indices {
		if idx == theIdx {
			assert.Equal(t, float32(2), sv.Values[i])
			found = true
		} else {
			assert.Equal(t, float32(1), sv.Values[i])
		}
	}
	assert.True(t, found)

	// Same text yields the identical vector.
	assert.Equal(t, sv, m.Embed("the cat sat on the mat"))
}

func TestSparseModelEmptyText(t *testing.T) {
	m := NewSparseModel()
	sv := m.Embed("   \n\t ")
	assert.True(t, sv.IsZero())
}
