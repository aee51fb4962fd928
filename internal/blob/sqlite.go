package blob

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const sqliteScheme = "sqlite-blob://"

// SQLite keeps blobs in a table next to the local document store.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(db *sql.DB) (*SQLite, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS blobs (
		key TEXT PRIMARY KEY,
		content_type TEXT NOT NULL,
		data BLOB NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob table: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO blobs (key, content_type, data, created_at) VALUES (?, ?, ?, ?)`,
		key, contentType, data, time.Now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("failed to store blob: %w", err)
	}
	return sqliteScheme + key, nil
}

// Open returns the bytes and content type behind a URL produced by Upload.
func (s *SQLite) Open(ctx context.Context, rawURL string) ([]byte, string, error) {
	key, ok := strings.CutPrefix(rawURL, sqliteScheme)
	if !ok {
		return nil, "", fmt.Errorf("not a local blob url: %q", rawURL)
	}
	var data []byte
	var contentType string
	err := s.db.QueryRowContext(ctx, `SELECT data, content_type FROM blobs WHERE key = ?`, key).Scan(&data, &contentType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("blob %s not found", key)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to read blob: %w", err)
	}
	return data, contentType, nil
}

func (s *SQLite) Delete(ctx context.Context, rawURL string) error {
	key, ok := strings.CutPrefix(rawURL, sqliteScheme)
	if !ok {
		return fmt.Errorf("not a local blob url: %q", rawURL)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}
