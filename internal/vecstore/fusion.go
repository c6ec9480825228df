package vecstore

import "sort"

// DefaultRRFConstant is the standard RRF smoothing parameter.
// k=60 is empirically validated across domains.
const DefaultRRFConstant = 60

// fusedResult is one hit after Reciprocal Rank Fusion.
type fusedResult struct {
	ID          string
	RRFScore    float64
	SparseRank  int // 1-indexed, 0 if absent
	DenseRank   int // 1-indexed, 0 if absent
	DenseScore  float64
	SparseScore float64
}

// fuseRRF combines sparse and dense rankings:
//
//	RRF_score(d) = Σ 1 / (k + rank_i)
//
// over the lists the document appears in. Scores are returned raw, not
// normalized, so identical rankings produce identical scores regardless
// of list sizes.
func fuseRRF(sparse []sparseResult, dense []denseResult, k int) []fusedResult {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	if len(sparse) == 0 && len(dense) == 0 {
		return []fusedResult{}
	}

	scores := make(map[string]*fusedResult, len(sparse)+len(dense))
	get := func(id string) *fusedResult {
		if r, ok := scores[id]; ok {
			return r
		}
		r := &fusedResult{ID: id}
		scores[id] = r
		return r
	}

	for rank, r := range sparse {
		f := get(r.ID)
		f.SparseRank = rank + 1
		f.SparseScore = r.Score
		f.RRFScore += 1.0 / float64(k+rank+1)
	}
	for rank, r := range dense {
		f := get(r.ID)
		f.DenseRank = rank + 1
		f.DenseScore = r.Score
		f.RRFScore += 1.0 / float64(k+rank+1)
	}

	results := make([]fusedResult, 0, len(scores))
	for _, r := range scores {
		results = append(results, *r)
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.RRFScore != b.RRFScore {
			return a.RRFScore > b.RRFScore
		}
		// Prefer documents found by both retrievers, then break ties
		// deterministically.
		aBoth := a.SparseRank > 0 && a.DenseRank > 0
		bBoth := b.SparseRank > 0 && b.DenseRank > 0
		if aBoth != bBoth {
			return aBoth
		}
		if a.DenseScore != b.DenseScore {
			return a.DenseScore > b.DenseScore
		}
		return a.ID < b.ID
	})

	return results
}
