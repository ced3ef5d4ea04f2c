package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps watermarks in a SQLite database, one row per source.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; keeps the transaction in Save on a single connection.
	db.SetMaxOpenConns(1)

	if err := migrate(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context) (Watermarks, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT grp, topic_id, message_id FROM watermarks`)
	if err != nil {
		return nil, fmt.Errorf("load watermarks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	marks := make(Watermarks)
	for rows.Next() {
		var (
			k  Key
			id int
		)
		if err := rows.Scan(&k.Group, &k.TopicID, &id); err != nil {
			return nil, fmt.Errorf("scan watermark: %w", err)
		}
		marks[k] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watermarks: %w", err)
	}
	return marks, nil
}

// Save upserts every entry of w and deletes rows for sources no longer in w,
// in one transaction. updated_at only moves when the message id changes.
func (s *SQLiteStore) Save(ctx context.Context, w Watermarks) error {
	if s == nil || s.db == nil {
		return &PersistError{Backend: BackendSQLite, Err: errors.New("store is not initialized")}
	}
	if err := s.save(ctx, w); err != nil {
		return &PersistError{Backend: BackendSQLite, Err: err}
	}
	return nil
}

func (s *SQLiteStore) save(ctx context.Context, w Watermarks) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	existing, err := tx.QueryContext(ctx, `SELECT grp, topic_id FROM watermarks`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("query watermarks: %w", err)
	}
	var stale []Key
	for existing.Next() {
		var k Key
		if err := existing.Scan(&k.Group, &k.TopicID); err != nil {
			_ = existing.Close()
			_ = tx.Rollback()
			return fmt.Errorf("scan watermark: %w", err)
		}
		if _, ok := w[k]; !ok {
			stale = append(stale, k)
		}
	}
	if err := existing.Err(); err != nil {
		_ = existing.Close()
		_ = tx.Rollback()
		return fmt.Errorf("iterate watermarks: %w", err)
	}
	_ = existing.Close()

	for _, k := range stale {
		if _, err := tx.ExecContext(ctx, "DELETE FROM watermarks WHERE grp = ? AND topic_id = ?", k.Group, k.TopicID); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("delete watermark %s: %w", k, err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, k := range w.Keys() {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO watermarks (grp, topic_id, message_id, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(grp, topic_id) DO UPDATE SET
				updated_at = CASE WHEN message_id != excluded.message_id THEN excluded.updated_at ELSE updated_at END,
				message_id = excluded.message_id
		`, k.Group, k.TopicID, w[k], now)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert watermark %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit watermarks: %w", err)
	}
	return nil
}

// UpdatedAt returns when the watermark for k last changed.
func (s *SQLiteStore) UpdatedAt(ctx context.Context, k Key) (time.Time, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT updated_at FROM watermarks WHERE grp = ? AND topic_id = ?", k.Group, k.TopicID,
	).Scan(&value)
	if err != nil {
		return time.Time{}, fmt.Errorf("read updated_at for %s: %w", k, err)
	}
	return time.Parse(time.RFC3339Nano, value)
}
