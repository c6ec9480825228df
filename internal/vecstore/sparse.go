package vecstore

import (
	"math"
	"sort"
)

// sparseResult is one lexical search hit.
type sparseResult struct {
	ID    string
	Score float64
}

// sparseIndex is an inverted index over sparse term-frequency vectors.
// Stored values are raw term frequencies; inverse document frequency is
// computed from current postings at query time, so stored vectors never
// need rewriting as the collection grows.
type sparseIndex struct {
	// postings maps term dimension -> doc id -> term frequency.
	postings map[uint32]map[string]float32
	docs     map[string]struct{}
}

func newSparseIndex() *sparseIndex {
	return &sparseIndex{
		postings: make(map[uint32]map[string]float32),
		docs:     make(map[string]struct{}),
	}
}

// Add indexes a document's sparse vector, replacing any previous entry
// for the same id.
func (s *sparseIndex) Add(id string, vec *SparseVector) {
	if _, exists := s.docs[id]; exists {
		s.Delete([]string{id})
	}
	if vec.IsZero() {
		return
	}

	s.docs[id] = struct{}{}
	for i, idx := range vec.Indices {
		m, ok := s.postings[idx]
		if !ok {
			m = make(map[string]float32)
			s.postings[idx] = m
		}
		m[id] = vec.Values[i]
	}
}

// Delete removes documents from the index.
func (s *sparseIndex) Delete(ids []string) {
	for _, id := range ids {
		if _, exists := s.docs[id]; !exists {
			continue
		}
		delete(s.docs, id)
		for idx, m := range s.postings {
			delete(m, id)
			if len(m) == 0 {
				delete(s.postings, idx)
			}
		}
	}
}

// Count returns the number of indexed documents.
func (s *sparseIndex) Count() int {
	return len(s.docs)
}

// Search scores documents against the query vector with BM25-style IDF
// weighting: contribution = query_tf * idf(term) * doc_tf.
func (s *sparseIndex) Search(query *SparseVector, k int) []sparseResult {
	if query.IsZero() || len(s.docs) == 0 || k <= 0 {
		return []sparseResult{}
	}

	n := float64(len(s.docs))
	scores := make(map[string]float64)
	for i, idx := range query.Indices {
		m, ok := s.postings[idx]
		if !ok {
			continue
		}
		df := float64(len(m))
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		qv := float64(query.Values[i])
		for id, tf := range m {
			scores[id] += qv * idf * float64(tf)
		}
	}

	results := make([]sparseResult, 0, len(scores))
	for id, score := range scores {
		results = append(results, sparseResult{ID: id, Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}
