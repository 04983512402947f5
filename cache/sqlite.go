package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore wraps an SQLite connection.
type SQLiteStore struct {
	conn *sql.DB
	opts options
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens or creates an SQLite database at the given path.
func NewSQLite(path string, opts ...Option) (*SQLiteStore, error) {
	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, unavailable("open sqlite", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, unavailable("ping sqlite", err)
	}
	s := &SQLiteStore{conn: conn, opts: newOptions(opts)}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, unavailable("migrate", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS dash_cache (
		domain TEXT NOT NULL,
		cache_key TEXT NOT NULL,
		payload TEXT NOT NULL,
		written_at INTEGER NOT NULL,
		UNIQUE(domain, cache_key)
	);
	CREATE INDEX IF NOT EXISTS idx_dash_cache_written_at ON dash_cache(written_at);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// Get implements Reader.
func (s *SQLiteStore) Get(ctx context.Context, domain, key string) (*Entry, bool, error) {
	var (
		payload string
		written int64
	)
	err := s.conn.QueryRowContext(ctx,
		"SELECT payload, written_at FROM dash_cache WHERE domain = ? AND cache_key = ? AND written_at >= ?",
		domain, key, s.opts.cutoff().UnixNano(),
	).Scan(&payload, &written)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("select entry", err)
	}
	return &Entry{
		Domain:    domain,
		Key:       key,
		Payload:   json.RawMessage(payload),
		WrittenAt: time.Unix(0, written),
	}, true, nil
}

// Put implements Writer.
func (s *SQLiteStore) Put(ctx context.Context, domain, key string, payload json.RawMessage) (*Entry, error) {
	now := s.opts.now()
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO dash_cache (domain, cache_key, payload, written_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(domain, cache_key) DO UPDATE SET payload = excluded.payload, written_at = excluded.written_at`,
		domain, key, string(payload), now.UnixNano(),
	)
	if err != nil {
		return nil, unavailable("upsert entry", err)
	}
	return &Entry{Domain: domain, Key: key, Payload: payload, WrittenAt: now}, nil
}

// Delete implements Writer.
func (s *SQLiteStore) Delete(ctx context.Context, domain, key string) (bool, error) {
	res, err := s.conn.ExecContext(ctx, "DELETE FROM dash_cache WHERE domain = ? AND cache_key = ?", domain, key)
	if err != nil {
		return false, unavailable("delete entry", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("delete entry", err)
	}
	return n > 0, nil
}

// Purge implements Purger.
func (s *SQLiteStore) Purge(ctx context.Context) (int64, error) {
	res, err := s.conn.ExecContext(ctx, "DELETE FROM dash_cache WHERE written_at < ?", s.opts.cutoff().UnixNano())
	if err != nil {
		return 0, unavailable("purge", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("purge", err)
	}
	return n, nil
}
