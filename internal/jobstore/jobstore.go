// Package jobstore persists ingestion job records.
//
// A job record tracks one file through the pipeline: its resolved
// content and hash, the collection it lands in, and its lifecycle
// status. All shared state between workers lives here or in the vector
// store, never in process memory.
package jobstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure Go sqlite driver, no CGO
)

// Job lifecycle statuses.
const (
	StatusPending    = "pending"
	StatusExtracting = "extracting"
	StatusChunking   = "chunking"
	StatusEmbedding  = "embedding"
	StatusInserting  = "inserting"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ErrNotFound is returned when no job record exists for an id.
var ErrNotFound = errors.New("job not found")

// Job is one persisted ingestion job record.
type Job struct {
	ID             string         `json:"id"`
	Filename       string         `json:"filename"`
	Path           string         `json:"path,omitempty"`
	Content        string         `json:"content,omitempty"`
	Meta           map[string]any `json:"meta,omitempty"`
	Hash           string         `json:"hash,omitempty"`
	Status         string         `json:"status"`
	CollectionName string         `json:"collection_name,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Store is the sqlite-backed job record store.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS files (
	id              TEXT PRIMARY KEY,
	filename        TEXT NOT NULL,
	path            TEXT NOT NULL DEFAULT '',
	content         TEXT NOT NULL DEFAULT '',
	meta            TEXT NOT NULL DEFAULT '{}',
	hash            TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'pending',
	collection_name TEXT NOT NULL DEFAULT '',
	error_message   TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_files_status ON files(status);
`

// Open opens (or creates) the job store at path. An empty path opens an
// in-memory store for testing.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create job store dir: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init job store schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Create inserts a new job record with status pending.
func (s *Store) Create(job Job) error {
	if job.Status == "" {
		job.Status = StatusPending
	}
	metaJSON, err := json.Marshal(orEmptyMeta(job.Meta))
	if err != nil {
		return fmt.Errorf("marshal job meta: %w", err)
	}

	now := time.Now().Unix()
	_, err = s.db.Exec(`
		INSERT INTO files (id, filename, path, content, meta, hash, status, collection_name, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Filename, job.Path, job.Content, string(metaJSON),
		job.Hash, job.Status, job.CollectionName, job.ErrorMessage, now, now)
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

// Get returns the job record for id, or ErrNotFound.
func (s *Store) Get(id string) (*Job, error) {
	row := s.db.QueryRow(`
		SELECT id, filename, path, content, meta, hash, status, collection_name, error_message, created_at, updated_at
		FROM files WHERE id = ?`, id)

	var job Job
	var metaJSON string
	var createdAt, updatedAt int64
	err := row.Scan(&job.ID, &job.Filename, &job.Path, &job.Content, &metaJSON,
		&job.Hash, &job.Status, &job.CollectionName, &job.ErrorMessage, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}

	if err := json.Unmarshal([]byte(metaJSON), &job.Meta); err != nil {
		return nil, fmt.Errorf("decode meta for job %s: %w", id, err)
	}
	job.CreatedAt = time.Unix(createdAt, 0)
	job.UpdatedAt = time.Unix(updatedAt, 0)
	return &job, nil
}

// UpdateContent persists the resolved source text.
func (s *Store) UpdateContent(id, content string) error {
	return s.update(id, `UPDATE files SET content = ?, updated_at = ? WHERE id = ?`, content)
}

// UpdateHash persists the content hash.
func (s *Store) UpdateHash(id, hash string) error {
	return s.update(id, `UPDATE files SET hash = ?, updated_at = ? WHERE id = ?`, hash)
}

// UpdateCollection records the collection the job's chunks land in.
func (s *Store) UpdateCollection(id, collection string) error {
	return s.update(id, `UPDATE files SET collection_name = ?, updated_at = ? WHERE id = ?`, collection)
}

// UpdateStatus transitions the job's status. The error message is
// cleared on non-failed transitions and set on failure.
func (s *Store) UpdateStatus(id, status, errorMessage string) error {
	res, err := s.db.Exec(`UPDATE files SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		status, errorMessage, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("update status for job %s: %w", id, err)
	}
	return checkUpdated(res, id)
}

func (s *Store) update(id, query string, value string) error {
	res, err := s.db.Exec(query, value, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	return checkUpdated(res, id)
}

func checkUpdated(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

// Close releases the store.
func (s *Store) Close() error {
	return s.db.Close()
}

func orEmptyMeta(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
