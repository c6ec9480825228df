package embed

import (
	"hash/fnv"
	"regexp"
	"sort"
	"strings"

	"github.com/kbforge/ingestd/internal/vecstore"
)

var wordRegex = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// SparseModel computes lexical sparse vectors carrying plain term
// frequencies. Corpus-level IDF weighting is applied by the vector
// store at query time, which keeps stored sparse vectors stable as the
// collection grows.
type SparseModel struct{}

// NewSparseModel returns the fixed lexical model.
func NewSparseModel() *SparseModel {
	return &SparseModel{}
}

// Tokenize lowercases and splits text into alphanumeric word tokens.
func (m *SparseModel) Tokenize(text string) []string {
	words := wordRegex.FindAllString(text, -1)
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		tokens = append(tokens, strings.ToLower(w))
	}
	return tokens
}

// Embed produces a term-frequency sparse vector for text. Token
// identity is a 32-bit FNV-1a hash, so vectors are comparable across
// runs without a shared vocabulary.
func (m *SparseModel) Embed(text string) *vecstore.SparseVector {
	tokens := m.Tokenize(text)
	if len(tokens) == 0 {
		return &vecstore.SparseVector{}
	}

	freq := make(map[uint32]float32, len(tokens))
	for _, tok := range tokens {
		freq[TokenIndex(tok)]++
	}

	indices := make([]uint32, 0, len(freq))
	for idx := range freq {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	values := make([]float32, len(indices))
	for i, idx := range indices {
		values[i] = freq[idx]
	}
	return &vecstore.SparseVector{Indices: indices, Values: values}
}

// TokenIndex maps a token to its sparse dimension.
func TokenIndex(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	return h.Sum32()
}
