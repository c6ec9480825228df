// Package vecstore implements an embedded vector store with hybrid
// dense+sparse retrieval.
//
// Each collection persists its points in a per-collection sqlite
// database. Dense vectors are indexed in an HNSW graph under cosine
// distance; sparse vectors are kept as raw term frequencies and
// weighted by corpus IDF at query time. Hybrid searches fuse the two
// rankings with Reciprocal Rank Fusion.
package vecstore

import "encoding/json"

// NoLimit stands in for "return everything" on query-style reads.
const NoLimit = 999999999

// SparseVector is a lexical vector in indices+values form. Values are
// plain term frequencies; IDF weighting happens at query time.
type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// IsZero reports whether the vector carries no terms.
func (s *SparseVector) IsZero() bool {
	return s == nil || len(s.Indices) == 0
}

// VectorItem is one chunk to be stored. ID is generated at insert time
// and never derived from content.
type VectorItem struct {
	ID           string
	Text         string
	Vector       []float32
	SparseVector *SparseVector
	Metadata     map[string]any
}

// Point is a stored point in raw form, as returned by GetRawData and
// accepted by InsertRawData. It round-trips between collections without
// re-chunking or re-embedding.
type Point struct {
	ID           string
	Text         string
	Vector       []float32
	SparseVector *SparseVector
	Metadata     map[string]any
}

// GetResult groups read results the way callers consume them: parallel
// id/document/metadata lists wrapped in a single outer batch.
type GetResult struct {
	IDs       [][]string
	Documents [][]string
	Metadatas [][]map[string]any
}

// Empty reports whether the result carries no points.
func (r *GetResult) Empty() bool {
	return r == nil || len(r.IDs) == 0 || len(r.IDs[0]) == 0
}

// SearchResult extends GetResult with per-point scores. Dense-only
// scores are normalized to [0,1]; hybrid fusion scores are raw RRF
// values.
type SearchResult struct {
	GetResult
	Distances [][]float64
}

func marshalSparse(s *SparseVector) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

func unmarshalSparse(data []byte) (*SparseVector, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var s SparseVector
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
