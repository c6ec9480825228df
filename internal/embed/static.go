package embed

import (
	"context"
	"math"
	"strings"
)

// StaticDimensions is the dense dimensionality of the static encoder.
const StaticDimensions = 384

// Weights for the static vector components.
const (
	staticTokenWeight = 0.7
	staticNgramWeight = 0.3
	staticNgramSize   = 3
)

// StaticEncoder generates deterministic hash-based dense vectors without
// any external model. It trades semantic quality for zero dependencies
// and is the default local encode function when no hosted model is
// wired in.
type StaticEncoder struct {
	dims int
}

// NewStaticEncoder returns a static encoder at the default dimension.
func NewStaticEncoder() *StaticEncoder {
	return &StaticEncoder{dims: StaticDimensions}
}

// Encode is an EncodeFunc producing one vector per text.
func (e *StaticEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		out[i] = e.encodeOne(text)
	}
	return out, nil
}

func (e *StaticEncoder) encodeOne(text string) []float32 {
	vector := make([]float32, e.dims)
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return vector
	}

	for _, token := range NewSparseModel().Tokenize(trimmed) {
		vector[TokenIndex(token)%uint32(e.dims)] += staticTokenWeight
	}

	// Character n-grams catch partial-word overlap that whole-token
	// hashing misses.
	normalized := strings.ToLower(trimmed)
	runes := []rune(normalized)
	for i := 0; i+staticNgramSize <= len(runes); i++ {
		ngram := string(runes[i : i+staticNgramSize])
		vector[TokenIndex(ngram)%uint32(e.dims)] += staticNgramWeight
	}

	return l2Normalize(vector)
}

func l2Normalize(vector []float32) []float32 {
	var sum float64
	for _, v := range vector {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vector
	}
	norm := float32(math.Sqrt(sum))
	for i := range vector {
		vector[i] /= norm
	}
	return vector
}
