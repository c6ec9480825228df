package vecstore

import (
	"fmt"
	"math"
	"sort"

	"github.com/coder/hnsw"
)

// HNSW tuning, following coder/hnsw recommendations.
const (
	hnswM        = 16
	hnswEfSearch = 20
	hnswMl       = 0.25
)

// denseResult is one dense search hit. Score is cosine similarity in
// [-1, 1].
type denseResult struct {
	ID    string
	Score float64
}

// denseIndex wraps an HNSW graph under cosine distance with a
// deferrable indexing path for bulk loads. While indexing is deferred,
// added vectors accumulate in a pending list that search scans brute
// force, so results stay complete during a bulk upload.
type denseIndex struct {
	graph *hnsw.Graph[uint64]
	dim   int

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	deferred bool
	pending  []pendingVec
}

type pendingVec struct {
	id  string
	vec []float32
}

func newDenseIndex(dim int) *denseIndex {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = hnswM
	graph.EfSearch = hnswEfSearch
	graph.Ml = hnswMl

	return &denseIndex{
		graph:  graph,
		dim:    dim,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

// SetDeferred toggles the bulk-load path. Turning indexing back on
// flushes all pending vectors into the graph.
func (d *denseIndex) SetDeferred(deferred bool) {
	if d.deferred == deferred {
		return
	}
	d.deferred = deferred
	if !deferred {
		for _, p := range d.pending {
			d.addToGraph(p.id, p.vec)
		}
		d.pending = nil
	}
}

// Add inserts or replaces a vector. Replacement uses lazy deletion:
// the old graph node is orphaned by dropping its key mapping.
func (d *denseIndex) Add(id string, vec []float32) error {
	if len(vec) != d.dim {
		return fmt.Errorf("vector dimension mismatch: expected %d, got %d", d.dim, len(vec))
	}

	if existingKey, exists := d.idMap[id]; exists {
		delete(d.keyMap, existingKey)
		delete(d.idMap, id)
		for i := range d.pending {
			if d.pending[i].id == id {
				d.pending = append(d.pending[:i], d.pending[i+1:]...)
				break
			}
		}
	}

	normalized := make([]float32, len(vec))
	copy(normalized, vec)
	normalizeInPlace(normalized)

	if d.deferred {
		d.pending = append(d.pending, pendingVec{id: id, vec: normalized})
		d.idMap[id] = math.MaxUint64 // placeholder, no graph key yet
		return nil
	}

	d.addToGraph(id, normalized)
	return nil
}

func (d *denseIndex) addToGraph(id string, normalized []float32) {
	key := d.nextKey
	d.nextKey++
	d.graph.Add(hnsw.MakeNode(key, normalized))
	d.idMap[id] = key
	d.keyMap[key] = id
}

// Delete removes vectors by id, lazily for graph-resident nodes.
func (d *denseIndex) Delete(ids []string) {
	for _, id := range ids {
		key, exists := d.idMap[id]
		if !exists {
			continue
		}
		delete(d.idMap, id)
		delete(d.keyMap, key)
		for i := range d.pending {
			if d.pending[i].id == id {
				d.pending = append(d.pending[:i], d.pending[i+1:]...)
				break
			}
		}
	}
}

// Contains reports whether id is present.
func (d *denseIndex) Contains(id string) bool {
	_, ok := d.idMap[id]
	return ok
}

// Count returns the number of live vectors.
func (d *denseIndex) Count() int {
	return len(d.idMap)
}

// Search returns the k nearest vectors by cosine similarity, covering
// both graph-resident and pending vectors.
func (d *denseIndex) Search(query []float32, k int) ([]denseResult, error) {
	if len(query) != d.dim {
		return nil, fmt.Errorf("query dimension mismatch: expected %d, got %d", d.dim, len(query))
	}
	// The graph allocates k-sized buffers, so an unbounded caller limit
	// must be clamped to the stored population before it reaches hnsw.
	if total := d.graph.Len() + len(d.pending); k > total {
		k = total
	}
	if k <= 0 {
		return []denseResult{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	var results []denseResult
	if d.graph.Len() > 0 {
		for _, node := range d.graph.Search(normalized, k) {
			id, ok := d.keyMap[node.Key]
			if !ok {
				// lazily deleted node
				continue
			}
			distance := d.graph.Distance(normalized, node.Value)
			results = append(results, denseResult{ID: id, Score: 1 - float64(distance)})
		}
	}

	for _, p := range d.pending {
		distance := hnsw.CosineDistance(normalized, p.vec)
		results = append(results, denseResult{ID: p.id, Score: 1 - float64(distance)})
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
	return results, nil
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
