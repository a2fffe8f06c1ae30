package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// SQLStore persists records in a single table. SQLite files are shared by
// every process on the host; Postgres lets sessions span hosts.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

type dialect struct {
	driver   string
	blobType string
}

func (d dialect) bind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// OpenSQL opens (and migrates) a SQL backed store.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	d := dialect{driver: driver, blobType: "BLOB"}
	switch driver {
	case DriverSQLite:
		if dsn == "" {
			return nil, errors.New("storage: sqlite dsn is required")
		}
		if path := sqlitePath(dsn); path != "" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("storage: ensure db dir: %w", err)
			}
		}
	case DriverPostgres:
		d.blobType = "BYTEA"
	default:
		return nil, fmt.Errorf("storage: unsupported sql driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One writer per process; other processes wait on the busy timeout.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("storage: %s: %w", pragma, err)
			}
		}
	}

	store := &SQLStore{db: db, dialect: d}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return ""
	}
	return path
}

func (s *SQLStore) migrate(ctx context.Context) error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS kv_records (
			name TEXT PRIMARY KEY,
			data %s NOT NULL,
			updated_at BIGINT NOT NULL
		)`, s.dialect.blobType)
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}
	return nil
}

// Get returns the record stored under key.
func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, s.dialect.bind(`SELECT data FROM kv_records WHERE name = ?`), key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get %s: %w", key, err)
	}
	return data, nil
}

// Put replaces the record stored under key.
func (s *SQLStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, s.dialect.bind(`
		INSERT INTO kv_records (name, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`), key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("storage: put %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.bind(`DELETE FROM kv_records WHERE name = ?`), key); err != nil {
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	return nil
}

// List returns the keys starting with prefix in lexical order.
func (s *SQLStore) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		s.dialect.bind(`SELECT name FROM kv_records WHERE substr(name, 1, ?) = ? ORDER BY name`),
		len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		keys = append(keys, name)
	}
	return keys, rows.Err()
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
