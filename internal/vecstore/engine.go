package vecstore

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/kbforge/ingestd/internal/config"
	ierrors "github.com/kbforge/ingestd/internal/errors"
)

// DefaultInsertBatchSize bounds one write transaction during bulk
// inserts.
const DefaultInsertBatchSize = 100

// SparseEncoder turns query text into a sparse lexical vector. It is
// injected so the engine stays decoupled from the embedding layer.
type SparseEncoder func(text string) *SparseVector

// Engine manages vector collections under a data directory.
//
// Collection lifecycle is idempotent: the first insert creates the
// collection and fixes its dimension and hybrid flag; later writers
// inherit both.
type Engine struct {
	dataDir         string
	insertBatchSize int
	sparseEncode    SparseEncoder

	mu          sync.Mutex
	collections map[string]*collection
}

// Option configures an Engine.
type Option func(*Engine)

// WithSparseEncoder sets the lexical encoder used for hybrid search.
func WithSparseEncoder(enc SparseEncoder) Option {
	return func(e *Engine) { e.sparseEncode = enc }
}

// NewEngine opens the vector store rooted at cfg.DataDir.
func NewEngine(cfg config.VectorStoreConfig, opts ...Option) (*Engine, error) {
	if cfg.DataDir == "" {
		return nil, ierrors.VectorStoreError("vector store data_dir is empty", nil)
	}
	if err := os.MkdirAll(filepath.Join(cfg.DataDir, "collections"), 0o755); err != nil {
		return nil, ierrors.VectorStoreError("create data dir", err)
	}

	batchSize := cfg.InsertBatchSize
	if batchSize <= 0 {
		batchSize = DefaultInsertBatchSize
	}

	e := &Engine{
		dataDir:         cfg.DataDir,
		insertBatchSize: batchSize,
		collections:     make(map[string]*collection),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) collectionDir(name string) string {
	return filepath.Join(e.dataDir, "collections", url.PathEscape(name))
}

// HasCollection reports whether a collection exists.
func (e *Engine) HasCollection(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.collections[name]; ok {
		return true
	}
	_, err := os.Stat(filepath.Join(e.collectionDir(name), "points.db"))
	return err == nil
}

// CreateCollection ensures a collection exists with the given dimension
// and hybrid flag. Creation is idempotent and first-writer-wins: an
// existing collection keeps its stored dimension and hybrid flag.
func (e *Engine) CreateCollection(name string, dim int, hybrid bool) error {
	_, _, err := e.getOrCreateCollection(name, dim, hybrid)
	return err
}

// getCollection returns the loaded collection, opening it from disk if
// needed. Returns nil when the collection does not exist.
func (e *Engine) getCollection(name string) (*collection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c, ok := e.collections[name]; ok {
		return c, nil
	}

	dir := e.collectionDir(name)
	if _, err := os.Stat(filepath.Join(dir, "points.db")); err != nil {
		return nil, nil
	}
	c, err := openCollection(dir, name)
	if err != nil {
		return nil, ierrors.VectorStoreError("open collection "+name, err)
	}
	e.collections[name] = c
	return c, nil
}

// getOrCreateCollection resolves the collection, creating it with the
// given dimension and hybrid flag if absent. Creation is idempotent:
// an existing collection keeps its own parameters.
func (e *Engine) getOrCreateCollection(name string, dim int, hybrid bool) (*collection, bool, error) {
	if c, err := e.getCollection(name); err != nil {
		return nil, false, err
	} else if c != nil {
		return c, true, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// A concurrent creator may have won the race.
	if c, ok := e.collections[name]; ok {
		return c, true, nil
	}

	c, err := createCollection(e.collectionDir(name), name, dim, hybrid)
	if err != nil {
		return nil, false, ierrors.VectorStoreError("create collection "+name, err)
	}
	slog.Info("collection created",
		slog.String("collection", name),
		slog.Int("dimension", dim),
		slog.Bool("hybrid", hybrid))
	e.collections[name] = c
	return c, false, nil
}

// withSparse fills missing sparse vectors from item text when the
// collection is hybrid.
func (e *Engine) withSparse(c *collection, items []VectorItem) ([]Point, error) {
	points := make([]Point, len(items))
	for i, item := range items {
		p := Point{
			ID:           item.ID,
			Text:         item.Text,
			Vector:       item.Vector,
			SparseVector: item.SparseVector,
			Metadata:     item.Metadata,
		}
		if c.hybrid && p.SparseVector == nil {
			if e.sparseEncode == nil {
				return nil, ierrors.VectorStoreError("hybrid collection requires a sparse encoder", nil)
			}
			p.SparseVector = e.sparseEncode(item.Text)
		}
		points[i] = p
	}
	return points, nil
}

// Insert writes items through the bulk-load path: the collection is
// created if absent, dense indexing is deferred for the duration of the
// batched upload and re-enabled afterwards. Searches issued while the
// upload runs fall back to brute force over the un-indexed tail, so the
// toggle never hides points.
func (e *Engine) Insert(ctx context.Context, name string, items []VectorItem, hybrid bool) error {
	if len(items) == 0 {
		return ierrors.VectorStoreError("no items to insert", nil)
	}

	c, _, err := e.getOrCreateCollection(name, len(items[0].Vector), hybrid || itemsCarrySparse(items))
	if err != nil {
		return err
	}

	points, err := e.withSparse(c, items)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Cross-process writers must not interleave with the indexing
	// toggle window.
	if err := c.bulkLock.Lock(); err != nil {
		return ierrors.VectorStoreError("acquire bulk lock for "+name, err)
	}
	defer func() { _ = c.bulkLock.Unlock() }()

	c.dense.SetDeferred(true)
	defer c.dense.SetDeferred(false)

	slog.Info("inserting items",
		slog.String("collection", name),
		slog.Int("count", len(points)))

	for start := 0; start < len(points); start += e.insertBatchSize {
		if err := ctx.Err(); err != nil {
			return ierrors.VectorStoreError("insert cancelled", err)
		}
		end := start + e.insertBatchSize
		if end > len(points) {
			end = len(points)
		}
		if err := c.insertPoints(points[start:end]); err != nil {
			return ierrors.VectorStoreError("insert batch into "+name, err)
		}
	}
	return nil
}

// Upsert writes items without the bulk-load toggle. Existing ids are
// replaced; the collection is created if absent.
func (e *Engine) Upsert(ctx context.Context, name string, items []VectorItem, hybrid bool) error {
	if len(items) == 0 {
		return ierrors.VectorStoreError("no items to upsert", nil)
	}
	if err := ctx.Err(); err != nil {
		return ierrors.VectorStoreError("upsert cancelled", err)
	}

	c, _, err := e.getOrCreateCollection(name, len(items[0].Vector), hybrid || itemsCarrySparse(items))
	if err != nil {
		return err
	}

	points, err := e.withSparse(c, items)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.insertPoints(points); err != nil {
		return ierrors.VectorStoreError("upsert into "+name, err)
	}
	return nil
}

func itemsCarrySparse(items []VectorItem) bool {
	for _, item := range items {
		if item.SparseVector != nil {
			return true
		}
	}
	return false
}

// Search runs nearest-neighbor retrieval. On a hybrid collection with
// query text available, dense and sparse rankings are fused with RRF
// and the fused scores are returned raw; dense-only scores are cosine
// similarities normalized to [0, 1].
func (e *Engine) Search(ctx context.Context, name string, vectors [][]float32, queries []string, limit int) (*SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, ierrors.VectorStoreError("search cancelled", err)
	}
	if len(vectors) == 0 {
		return nil, ierrors.VectorStoreError("search requires a query vector", nil)
	}
	if limit <= 0 {
		limit = NoLimit
	}

	c, err := e.getCollection(name)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ierrors.VectorStoreError("collection "+name+" does not exist", nil)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	dense, err := c.dense.Search(vectors[0], limit)
	if err != nil {
		return nil, ierrors.VectorStoreError("dense search in "+name, err)
	}

	var ids []string
	var distances []float64

	if c.hybrid && len(queries) > 0 && e.sparseEncode != nil {
		sparse := c.sparse.Search(e.sparseEncode(queries[0]), limit)
		fused := fuseRRF(sparse, dense, DefaultRRFConstant)
		if len(fused) > limit {
			fused = fused[:limit]
		}
		for _, f := range fused {
			ids = append(ids, f.ID)
			distances = append(distances, f.RRFScore)
		}
	} else {
		for _, r := range dense {
			ids = append(ids, r.ID)
			// cosine similarity [-1, 1] -> [0, 1]
			distances = append(distances, (r.Score+1.0)/2.0)
		}
	}

	points, err := c.pointsByID(ids)
	if err != nil {
		return nil, ierrors.VectorStoreError("load search results from "+name, err)
	}

	result := &SearchResult{GetResult: pointsToGetResult(points)}
	result.Distances = [][]float64{distances}
	return result, nil
}

// SearchSparse retrieves by lexical match only.
func (e *Engine) SearchSparse(ctx context.Context, name string, queries []string, limit int) (*GetResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, ierrors.VectorStoreError("sparse search cancelled", err)
	}
	if len(queries) == 0 {
		return nil, ierrors.VectorStoreError("sparse search requires query text", nil)
	}
	if e.sparseEncode == nil {
		return nil, ierrors.VectorStoreError("no sparse encoder configured", nil)
	}
	if limit <= 0 {
		limit = NoLimit
	}

	c, err := e.getCollection(name)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ierrors.VectorStoreError("collection "+name+" does not exist", nil)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	hits := c.sparse.Search(e.sparseEncode(queries[0]), limit)
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	points, err := c.pointsByID(ids)
	if err != nil {
		return nil, ierrors.VectorStoreError("load sparse results from "+name, err)
	}
	result := pointsToGetResult(points)
	return &result, nil
}

// Query returns points whose metadata matches the filter. A missing
// collection yields nil rather than an error, keeping read paths
// idempotent against a not-yet-created collection; backend failures are
// logged and also yield nil.
func (e *Engine) Query(ctx context.Context, name string, filter map[string]any, limit int) *GetResult {
	if ctx.Err() != nil {
		return nil
	}
	if limit <= 0 {
		limit = NoLimit
	}

	c, err := e.getCollection(name)
	if err != nil || c == nil {
		if err != nil {
			slog.Error("query failed to open collection",
				slog.String("collection", name),
				slog.String("error", err.Error()))
		}
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	points, err := c.filterPoints(filter, matchAny, limit)
	if err != nil {
		slog.Error("query failed",
			slog.String("collection", name),
			slog.String("error", err.Error()))
		return nil
	}
	result := pointsToGetResult(points)
	return &result
}

// Get returns every point in the collection, or nil when it is absent.
func (e *Engine) Get(ctx context.Context, name string) (*GetResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, ierrors.VectorStoreError("get cancelled", err)
	}

	c, err := e.getCollection(name)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	points, err := c.scanPoints(`SELECT id, text, vector, sparse, metadata FROM points`)
	if err != nil {
		return nil, ierrors.VectorStoreError("get points from "+name, err)
	}
	result := pointsToGetResult(points)
	return &result, nil
}

// Delete removes points by id or by metadata filter. With neither ids
// nor filter the call is a no-op. Deleting from a missing collection is
// also a no-op.
func (e *Engine) Delete(ctx context.Context, name string, ids []string, filter map[string]any) error {
	if err := ctx.Err(); err != nil {
		return ierrors.VectorStoreError("delete cancelled", err)
	}
	if len(ids) == 0 && len(filter) == 0 {
		return nil
	}

	c, err := e.getCollection(name)
	if err != nil {
		return err
	}
	if c == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	targets := ids
	if len(targets) == 0 {
		matched, err := c.filterPoints(filter, matchAll, 0)
		if err != nil {
			return ierrors.VectorStoreError("resolve delete filter in "+name, err)
		}
		for _, p := range matched {
			targets = append(targets, p.ID)
		}
	}
	if err := c.deletePoints(targets); err != nil {
		return ierrors.VectorStoreError("delete from "+name, err)
	}
	return nil
}

// DeleteCollection drops a collection and its on-disk state.
func (e *Engine) DeleteCollection(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c, ok := e.collections[name]; ok {
		delete(e.collections, name)
		if err := c.destroy(); err != nil {
			return ierrors.VectorStoreError("delete collection "+name, err)
		}
		return nil
	}

	dir := e.collectionDir(name)
	if _, err := os.Stat(dir); err != nil {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return ierrors.VectorStoreError("delete collection "+name, err)
	}
	return nil
}

// Reset drops every collection.
func (e *Engine) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return ierrors.VectorStoreError("reset cancelled", err)
	}

	e.mu.Lock()
	for name, c := range e.collections {
		_ = c.close()
		delete(e.collections, name)
	}
	e.mu.Unlock()

	root := filepath.Join(e.dataDir, "collections")
	entries, err := os.ReadDir(root)
	if err != nil {
		return ierrors.VectorStoreError("list collections", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(root, entry.Name())); err != nil {
			return ierrors.VectorStoreError("remove collection dir", err)
		}
	}
	return nil
}

// GetRawData dumps a collection's points in raw form for migration.
// A missing collection yields nil; real backend failures propagate.
func (e *Engine) GetRawData(ctx context.Context, name string) ([]Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, ierrors.VectorStoreError("raw dump cancelled", err)
	}

	c, err := e.getCollection(name)
	if err != nil {
		return nil, err
	}
	if c == nil {
		slog.Info("collection does not exist", slog.String("collection", name))
		return nil, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	points, err := c.scanPoints(`SELECT id, text, vector, sparse, metadata FROM points`)
	if err != nil {
		return nil, ierrors.VectorStoreError("dump raw data from "+name, err)
	}
	return points, nil
}

// InsertRawData bulk-copies raw points into a collection, creating it
// if needed with the dimension of the first point. Used to promote a
// per-file collection into a shared knowledge-base collection without
// re-chunking or re-embedding.
func (e *Engine) InsertRawData(ctx context.Context, name string, points []Point) error {
	if len(points) == 0 {
		return ierrors.VectorStoreError("no points to migrate", nil)
	}

	hybrid := false
	for _, p := range points {
		if p.SparseVector != nil {
			hybrid = true
			break
		}
	}

	c, existed, err := e.getOrCreateCollection(name, len(points[0].Vector), hybrid)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.bulkLock.Lock(); err != nil {
		return ierrors.VectorStoreError("acquire bulk lock for "+name, err)
	}
	defer func() { _ = c.bulkLock.Unlock() }()

	// A destination with a mature index keeps indexing on; the bulk-load
	// toggle only pays off when the graph is being built from scratch.
	if !existed {
		c.dense.SetDeferred(true)
		defer c.dense.SetDeferred(false)
	}

	slog.Info("migrating raw points",
		slog.String("collection", name),
		slog.Int("count", len(points)))

	for start := 0; start < len(points); start += e.insertBatchSize {
		if err := ctx.Err(); err != nil {
			return ierrors.VectorStoreError("migration cancelled", err)
		}
		end := start + e.insertBatchSize
		if end > len(points) {
			end = len(points)
		}
		if err := c.insertPoints(points[start:end]); err != nil {
			return ierrors.VectorStoreError("migrate batch into "+name, err)
		}
	}
	return nil
}

// Close releases all open collections.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error
	for name, c := range e.collections {
		if err := c.close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(e.collections, name)
	}
	return firstErr
}

func pointsToGetResult(points []Point) GetResult {
	ids := make([]string, 0, len(points))
	documents := make([]string, 0, len(points))
	metadatas := make([]map[string]any, 0, len(points))
	for _, p := range points {
		ids = append(ids, p.ID)
		documents = append(documents, p.Text)
		metadatas = append(metadatas, p.Metadata)
	}
	return GetResult{
		IDs:       [][]string{ids},
		Documents: [][]string{documents},
		Metadatas: [][]map[string]any{metadatas},
	}
}
