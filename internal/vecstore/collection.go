package vecstore

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite" // pure Go sqlite driver, no CGO
)

// collection is one named vector collection: a sqlite point store of
// record plus in-memory dense and sparse indexes rebuilt on open.
type collection struct {
	name string
	dir  string

	mu sync.RWMutex
	db *sql.DB

	// bulkLock serializes bulk-load index toggling across processes.
	bulkLock *flock.Flock

	dim    int
	hybrid bool
	dense  *denseIndex
	sparse *sparseIndex
}

const collectionSchema = `
CREATE TABLE IF NOT EXISTS collection_info (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS points (
	id       TEXT PRIMARY KEY,
	text     TEXT NOT NULL,
	vector   BLOB NOT NULL,
	sparse   TEXT,
	metadata TEXT NOT NULL
);
`

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer keeps sqlite lock contention out of the picture.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}
	return db, nil
}

// createCollection initializes a new collection directory. Dimension
// and hybrid flag are fixed at creation; later writers inherit them.
func createCollection(dir, name string, dim int, hybrid bool) (*collection, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create collection dir: %w", err)
	}

	db, err := openDB(filepath.Join(dir, "points.db"))
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(collectionSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	info := map[string]string{
		"name":      name,
		"dimension": strconv.Itoa(dim),
		"hybrid":    strconv.FormatBool(hybrid),
	}
	for key, value := range info {
		if _, err := db.Exec(
			`INSERT OR REPLACE INTO collection_info (key, value) VALUES (?, ?)`, key, value); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("write collection info: %w", err)
		}
	}

	return &collection{
		name:     name,
		dir:      dir,
		db:       db,
		bulkLock: flock.New(filepath.Join(dir, "bulk.lock")),
		dim:      dim,
		hybrid:   hybrid,
		dense:    newDenseIndex(dim),
		sparse:   newSparseIndex(),
	}, nil
}

// openCollection loads an existing collection and rebuilds its
// in-memory indexes from the point store.
func openCollection(dir, name string) (*collection, error) {
	db, err := openDB(filepath.Join(dir, "points.db"))
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(collectionSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	info := make(map[string]string)
	rows, err := db.Query(`SELECT key, value FROM collection_info`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("read collection info: %w", err)
	}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			_ = rows.Close()
			_ = db.Close()
			return nil, fmt.Errorf("scan collection info: %w", err)
		}
		info[key] = value
	}
	if err := rows.Err(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("iterate collection info: %w", err)
	}

	dim, err := strconv.Atoi(info["dimension"])
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("collection %s has invalid dimension %q", name, info["dimension"])
	}
	hybrid := info["hybrid"] == "true"

	c := &collection{
		name:     name,
		dir:      dir,
		db:       db,
		bulkLock: flock.New(filepath.Join(dir, "bulk.lock")),
		dim:      dim,
		hybrid:   hybrid,
		dense:    newDenseIndex(dim),
		sparse:   newSparseIndex(),
	}
	if err := c.rebuildIndexes(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *collection) rebuildIndexes() error {
	points, err := c.scanPoints(`SELECT id, text, vector, sparse, metadata FROM points`)
	if err != nil {
		return err
	}
	for _, p := range points {
		if err := c.dense.Add(p.ID, p.Vector); err != nil {
			return fmt.Errorf("rebuild dense index: %w", err)
		}
		if p.SparseVector != nil {
			c.sparse.Add(p.ID, p.SparseVector)
		}
	}
	return nil
}

// insertPoints writes points to the store of record and the in-memory
// indexes within one transaction. Existing ids are replaced.
func (c *collection) insertPoints(points []Point) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT OR REPLACE INTO points (id, text, vector, sparse, metadata) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, p := range points {
		metaJSON, err := json.Marshal(p.Metadata)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("marshal metadata for %s: %w", p.ID, err)
		}
		sparseJSON, err := marshalSparse(p.SparseVector)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("marshal sparse vector for %s: %w", p.ID, err)
		}

		var sparseArg any
		if sparseJSON != nil {
			sparseArg = string(sparseJSON)
		}
		if _, err := stmt.Exec(p.ID, p.Text, encodeVector(p.Vector), sparseArg, string(metaJSON)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert point %s: %w", p.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}

	for _, p := range points {
		if err := c.dense.Add(p.ID, p.Vector); err != nil {
			return err
		}
		if p.SparseVector != nil {
			c.sparse.Add(p.ID, p.SparseVector)
		} else {
			c.sparse.Delete([]string{p.ID})
		}
	}
	return nil
}

func (c *collection) deletePoints(ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := c.db.Exec(`DELETE FROM points WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("delete points: %w", err)
	}

	c.dense.Delete(ids)
	c.sparse.Delete(ids)
	return nil
}

// scanPoints runs a point query and decodes full rows.
func (c *collection) scanPoints(query string, args ...any) ([]Point, error) {
	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query points: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var points []Point
	for rows.Next() {
		var p Point
		var vecBlob []byte
		var sparseJSON sql.NullString
		var metaJSON string
		if err := rows.Scan(&p.ID, &p.Text, &vecBlob, &sparseJSON, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}
		p.Vector = decodeVector(vecBlob)
		if sparseJSON.Valid {
			sv, err := unmarshalSparse([]byte(sparseJSON.String))
			if err != nil {
				return nil, fmt.Errorf("decode sparse vector for %s: %w", p.ID, err)
			}
			p.SparseVector = sv
		}
		if err := json.Unmarshal([]byte(metaJSON), &p.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", p.ID, err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate points: %w", err)
	}
	return points, nil
}

// pointsByID fetches full rows for the given ids, preserving id order.
func (c *collection) pointsByID(ids []string) ([]Point, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	points, err := c.scanPoints(
		`SELECT id, text, vector, sparse, metadata FROM points WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]Point, len(points))
	for _, p := range points {
		byID[p.ID] = p
	}
	ordered := make([]Point, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			ordered = append(ordered, p)
		}
	}
	return ordered, nil
}

// filterMode selects how multiple filter entries combine.
type filterMode int

const (
	matchAny filterMode = iota // query semantics: any condition suffices
	matchAll                   // delete semantics: all conditions required
)

// filterPoints returns up to limit points whose metadata matches the
// filter under the given mode.
func (c *collection) filterPoints(filter map[string]any, mode filterMode, limit int) ([]Point, error) {
	points, err := c.scanPoints(`SELECT id, text, vector, sparse, metadata FROM points`)
	if err != nil {
		return nil, err
	}

	matched := make([]Point, 0)
	for _, p := range points {
		if matchesFilter(p.Metadata, filter, mode) {
			matched = append(matched, p)
			if limit > 0 && len(matched) >= limit {
				break
			}
		}
	}
	return matched, nil
}

// matchesFilter compares metadata values loosely: json numeric types
// differ between write and read paths, so values compare by their
// string forms.
func matchesFilter(meta map[string]any, filter map[string]any, mode filterMode) bool {
	if len(filter) == 0 {
		return false
	}
	for key, want := range filter {
		got, ok := meta[key]
		hit := ok && fmt.Sprint(got) == fmt.Sprint(want)
		if mode == matchAny && hit {
			return true
		}
		if mode == matchAll && !hit {
			return false
		}
	}
	return mode == matchAll
}

func (c *collection) count() (int, error) {
	var n int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM points`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count points: %w", err)
	}
	return n, nil
}

func (c *collection) close() error {
	return c.db.Close()
}

// destroy closes the collection and removes its directory.
func (c *collection) destroy() error {
	_ = c.db.Close()
	return os.RemoveAll(c.dir)
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, val := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(val))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
