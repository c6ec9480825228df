package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure Go sqlite driver, no CGO
)

// DefaultVisibilityTimeout is how long a claimed message stays
// invisible before it is redelivered.
const DefaultVisibilityTimeout = 5 * time.Minute

// receivePollInterval is how often Receive re-checks for messages.
const receivePollInterval = 200 * time.Millisecond

// Message states.
const (
	stateReady    = "ready"
	stateInflight = "inflight"
	stateDead     = "dead"
)

// SQLiteQueue is a durable Queue backed by a sqlite database. Claimed
// messages become visible again after the visibility timeout, giving
// at-least-once delivery across process restarts.
type SQLiteQueue struct {
	db                *sql.DB
	visibilityTimeout time.Duration
}

var _ Queue = (*SQLiteQueue)(nil)

const queueSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	queue      TEXT NOT NULL,
	body       BLOB NOT NULL,
	state      TEXT NOT NULL DEFAULT 'ready',
	visible_at INTEGER NOT NULL,
	attempts   INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_claim ON messages(queue, state, visible_at);
`

// OpenSQLite opens (or creates) a durable queue at path. An empty path
// opens an in-memory queue for testing. A non-positive
// visibilityTimeout selects the default.
func OpenSQLite(path string, visibilityTimeout time.Duration) (*SQLiteQueue, error) {
	if visibilityTimeout <= 0 {
		visibilityTimeout = DefaultVisibilityTimeout
	}

	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create queue dir: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
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

	if _, err := db.Exec(queueSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init queue schema: %w", err)
	}
	return &SQLiteQueue{db: db, visibilityTimeout: visibilityTimeout}, nil
}

func (q *SQLiteQueue) Enqueue(ctx context.Context, queue string, body []byte) error {
	now := time.Now().Unix()
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO messages (queue, body, state, visible_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		queue, body, stateReady, now, now)
	if err != nil {
		return fmt.Errorf("enqueue to %s: %w", queue, err)
	}
	return nil
}

// Receive polls for the next visible message, claiming it for the
// visibility window. Expired inflight messages are reclaimed.
func (q *SQLiteQueue) Receive(ctx context.Context, queue string) (Delivery, error) {
	ticker := time.NewTicker(receivePollInterval)
	defer ticker.Stop()

	for {
		d, err := q.tryClaim(ctx, queue)
		if err != nil {
			return nil, err
		}
		if d != nil {
			return d, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q *SQLiteQueue) tryClaim(ctx context.Context, queue string) (Delivery, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}

	now := time.Now().Unix()
	row := tx.QueryRow(`
		SELECT id, body FROM messages
		WHERE queue = ? AND state IN (?, ?) AND visible_at <= ?
		ORDER BY id LIMIT 1`,
		queue, stateReady, stateInflight, now)

	var id int64
	var body []byte
	if err := row.Scan(&id, &body); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim from %s: %w", queue, err)
	}

	visibleAt := time.Now().Add(q.visibilityTimeout).Unix()
	if _, err := tx.Exec(
		`UPDATE messages SET state = ?, visible_at = ?, attempts = attempts + 1 WHERE id = ?`,
		stateInflight, visibleAt, id); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("mark inflight: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	return &sqliteDelivery{q: q, id: id, body: body}, nil
}

type sqliteDelivery struct {
	q    *SQLiteQueue
	id   int64
	body []byte
}

func (d *sqliteDelivery) Body() []byte { return d.body }

func (d *sqliteDelivery) Ack() error {
	_, err := d.q.db.Exec(`DELETE FROM messages WHERE id = ?`, d.id)
	if err != nil {
		return fmt.Errorf("ack message %d: %w", d.id, err)
	}
	return nil
}

func (d *sqliteDelivery) Nack(requeue bool) error {
	if requeue {
		_, err := d.q.db.Exec(
			`UPDATE messages SET state = ?, visible_at = ? WHERE id = ?`,
			stateReady, time.Now().Unix(), d.id)
		if err != nil {
			return fmt.Errorf("requeue message %d: %w", d.id, err)
		}
		return nil
	}

	// Dead-lettered messages stay in the table for inspection but are
	// never claimed again.
	_, err := d.q.db.Exec(`UPDATE messages SET state = ? WHERE id = ?`, stateDead, d.id)
	if err != nil {
		return fmt.Errorf("dead-letter message %d: %w", d.id, err)
	}
	return nil
}

// Depth returns the number of claimable messages in the queue.
func (q *SQLiteQueue) Depth(ctx context.Context, queue string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE queue = ? AND state IN (?, ?)`,
		queue, stateReady, stateInflight).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}
