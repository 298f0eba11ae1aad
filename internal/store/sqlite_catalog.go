package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	woerrors "github.com/Aman-CERP/woochi/internal/errors"
)

const sqliteCatalogSchema = `
CREATE TABLE IF NOT EXISTS collections (
	name       TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS chunks (
	collection TEXT    NOT NULL,
	seq        INTEGER NOT NULL,
	id         TEXT    NOT NULL,
	text       TEXT    NOT NULL,
	metadata   TEXT    NOT NULL,
	embedding  BLOB    NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_chunks_seq ON chunks(collection, seq);
`

// SQLiteCatalog stores collections in a SQLite database.
type SQLiteCatalog struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	closed bool
}

// NewSQLiteCatalog opens or creates the catalog at path.
// If path is empty, creates an in-memory database for testing.
func NewSQLiteCatalog(path string) (*SQLiteCatalog, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, woerrors.New(woerrors.ErrCodeStorageOpen, "failed to open catalog database", err)
	}

	// Single connection: writes are serialized and :memory: stays one database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, woerrors.New(woerrors.ErrCodeStorageOpen, "failed to set pragma", err)
		}
	}

	if _, err := db.Exec(sqliteCatalogSchema); err != nil {
		_ = db.Close()
		return nil, woerrors.New(woerrors.ErrCodeStorageOpen, "failed to create catalog schema", err)
	}

	return &SQLiteCatalog{db: db, path: path}, nil
}

// Append inserts the batch in one transaction.
func (c *SQLiteCatalog) Append(ctx context.Context, collection string, chunks []*Chunk, vectors [][]float32) error {
	if err := checkBatch(chunks, vectors); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("catalog is closed")
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return woerrors.StorageError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO collections (name, created_at) VALUES (?, ?)`,
		collection, time.Now().Unix()); err != nil {
		return woerrors.StorageError("failed to register collection", err)
	}

	var next int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), -1) + 1 FROM chunks WHERE collection = ?`,
		collection).Scan(&next); err != nil {
		return woerrors.StorageError("failed to read sequence", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (collection, seq, id, text, metadata, embedding) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return woerrors.StorageError("failed to prepare insert", err)
	}
	defer stmt.Close()

	for i, ch := range chunks {
		meta, err := json.Marshal(ch.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", ch.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			collection, next+int64(i), ch.ID, ch.Text, string(meta), encodeVector(vectors[i])); err != nil {
			return woerrors.StorageError(fmt.Sprintf("failed to insert chunk %s", ch.ID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return woerrors.StorageError("failed to commit batch", err)
	}
	return nil
}

// Load returns a collection's rows ordered by insertion sequence.
func (c *SQLiteCatalog) Load(ctx context.Context, collection string) ([]*Chunk, [][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, fmt.Errorf("catalog is closed")
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT id, text, metadata, embedding FROM chunks WHERE collection = ? ORDER BY seq`, collection)
	if err != nil {
		return nil, nil, woerrors.New(woerrors.ErrCodeStorageRead, "failed to query chunks", err)
	}
	defer rows.Close()

	var (
		chunks  []*Chunk
		vectors [][]float32
	)
	for rows.Next() {
		var (
			ch   Chunk
			meta string
			blob []byte
		)
		if err := rows.Scan(&ch.ID, &ch.Text, &meta, &blob); err != nil {
			return nil, nil, woerrors.New(woerrors.ErrCodeStorageRead, "failed to scan chunk", err)
		}
		if err := json.Unmarshal([]byte(meta), &ch.Metadata); err != nil {
			return nil, nil, woerrors.New(woerrors.ErrCodeStorageCorrupt, "corrupt metadata for "+ch.ID, err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, nil, woerrors.New(woerrors.ErrCodeStorageCorrupt, "corrupt embedding for "+ch.ID, err)
		}
		ch.Collection = collection
		chunks = append(chunks, &ch)
		vectors = append(vectors, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, woerrors.New(woerrors.ErrCodeStorageRead, "failed to iterate chunks", err)
	}
	return chunks, vectors, nil
}

// Collections returns all registered collection names, sorted.
func (c *SQLiteCatalog) Collections(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("catalog is closed")
	}

	rows, err := c.db.QueryContext(ctx, `SELECT name FROM collections ORDER BY name`)
	if err != nil {
		return nil, woerrors.New(woerrors.ErrCodeStorageRead, "failed to list collections", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, woerrors.New(woerrors.ErrCodeStorageRead, "failed to scan collection", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Drop removes a collection and its chunks in one transaction.
func (c *SQLiteCatalog) Drop(ctx context.Context, collection string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("catalog is closed")
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return woerrors.StorageError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE collection = ?`, collection); err != nil {
		return woerrors.StorageError("failed to delete chunks", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, collection); err != nil {
		return woerrors.StorageError("failed to delete collection", err)
	}
	if err := tx.Commit(); err != nil {
		return woerrors.StorageError("failed to commit drop", err)
	}
	return nil
}

// Close closes the database. Safe to call more than once.
func (c *SQLiteCatalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}

var _ Catalog = (*SQLiteCatalog)(nil)
