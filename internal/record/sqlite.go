package record

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/Iron-Ham/roster/internal/errors"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore keeps records in a single SQLite table. Versions are bumped
// inside the statement that writes the row, so conditional writes need no
// application-level locking.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite creates or opens the database at path.
//
// The database is configured with:
//   - WAL mode so readers do not block the writer
//   - NORMAL synchronous mode
//   - 5-second busy timeout for writers in other processes
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, unavailable("open", "", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, unavailable("open", "", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Put unconditionally replaces the value at key.
func (s *SQLiteStore) Put(ctx context.Context, key string, value []byte) (int64, error) {
	data, err := s.prepare(ctx, "put", key, value)
	if err != nil {
		return 0, err
	}
	var version int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO records (key, value, version, modified_at) VALUES (?, ?, 1, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			version = records.version + 1,
			modified_at = excluded.modified_at
		RETURNING version`,
		key, string(data), s.now().UnixNano()).Scan(&version)
	if err != nil {
		return 0, s.classify("put", key, err)
	}
	return version, nil
}

// CompareAndSwap writes value only if the stored version equals expected.
func (s *SQLiteStore) CompareAndSwap(ctx context.Context, key string, value []byte, expected int64) (int64, error) {
	data, err := s.prepare(ctx, "cas", key, value)
	if err != nil {
		return 0, err
	}
	if expected < 0 {
		return 0, errors.NewValidationError("expected version", expected, "must not be negative")
	}

	var res sql.Result
	if expected == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO records (key, value, version, modified_at) VALUES (?, ?, 1, ?)
			 ON CONFLICT(key) DO NOTHING`,
			key, string(data), s.now().UnixNano())
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE records SET value = ?, version = version + 1, modified_at = ?
			 WHERE key = ? AND version = ?`,
			string(data), s.now().UnixNano(), key, expected)
	}
	if err != nil {
		return 0, s.classify("cas", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, s.classify("cas", key, err)
	}
	if n == 0 {
		actual, err := s.version(ctx, key)
		if err != nil {
			return 0, s.classify("cas", key, err)
		}
		return 0, conflict("cas", key, expected, actual)
	}
	return expected + 1, nil
}

// Get reads the record at key.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*Record, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if err := checkContext(ctx, "get", key); err != nil {
		return nil, err
	}
	var (
		value    string
		version  int64
		modified int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, version, modified_at FROM records WHERE key = ?`, key).
		Scan(&value, &version, &modified)
	if err == sql.ErrNoRows {
		return nil, notFound("get", key)
	}
	if err != nil {
		return nil, s.classify("get", key, err)
	}
	return &Record{
		Key:        key,
		Value:      []byte(value),
		Version:    version,
		ModifiedAt: time.Unix(0, modified).UTC(),
	}, nil
}

// Delete removes key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := checkContext(ctx, "delete", key); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE key = ?`, key)
	if err != nil {
		return s.classify("delete", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("delete", key)
	}
	return nil
}

// CompareAndDelete removes key only if its version equals expected.
func (s *SQLiteStore) CompareAndDelete(ctx context.Context, key string, expected int64) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := checkContext(ctx, "cad", key); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE key = ? AND version = ?`, key, expected)
	if err != nil {
		return s.classify("cad", key, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	actual, err := s.version(ctx, key)
	if err != nil {
		return s.classify("cad", key, err)
	}
	if actual == 0 {
		return notFound("cad", key)
	}
	return conflict("cad", key, expected, actual)
}

// List returns keys beginning with prefix, sorted.
func (s *SQLiteStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := checkContext(ctx, "list", prefix); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM records WHERE substr(key, 1, length(?)) = ? ORDER BY key`, prefix, prefix)
	if err != nil {
		return nil, s.classify("list", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, s.classify("list", prefix, err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, s.classify("list", prefix, err)
	}
	return keys, nil
}

// Versions returns key -> stamp for every record under prefix.
func (s *SQLiteStore) Versions(ctx context.Context, prefix string) (map[string]Stamp, error) {
	if err := checkContext(ctx, "versions", prefix); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, version, modified_at FROM records WHERE substr(key, 1, length(?)) = ?`, prefix, prefix)
	if err != nil {
		return nil, s.classify("versions", prefix, err)
	}
	defer rows.Close()

	out := make(map[string]Stamp)
	for rows.Next() {
		var (
			k        string
			version  int64
			modified int64
		)
		if err := rows.Scan(&k, &version, &modified); err != nil {
			return nil, s.classify("versions", prefix, err)
		}
		out[k] = Stamp{Version: version, ModifiedAt: time.Unix(0, modified).UTC()}
	}
	if err := rows.Err(); err != nil {
		return nil, s.classify("versions", prefix, err)
	}
	return out, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) prepare(ctx context.Context, op, key string, value []byte) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if err := checkContext(ctx, op, key); err != nil {
		return nil, err
	}
	return compactValue(key, value)
}

// version returns the stored version of key, or 0 when absent.
func (s *SQLiteStore) version(ctx context.Context, key string) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM records WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return v, err
}

// classify maps driver errors onto the store error taxonomy. Lock
// contention that outlasts busy_timeout is reported as unavailability;
// anything else is an I/O failure.
func (s *SQLiteStore) classify(op, key string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errors.NewStoreError(op, key, err)
	}
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen:
			return unavailable(op, key, err)
		}
	}
	return ioFailure(op, key, err)
}
