// Package record provides the durable key/value store that every roster
// process coordinates through. Records are JSON documents addressed by
// "/"-separated keys; each key carries a version that increases by one on
// every successful write, which is what conditional writes compare against.
//
// Two backends implement [Store]: [FileStore], a directory of JSON files
// replaced by atomic rename under an advisory flock, and [SQLiteStore], an
// embedded database for hosts where many processes churn records.
package record

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Iron-Ham/roster/internal/errors"
)

// Key prefixes for the record kinds roster stores.
const (
	SessionsPrefix = "sessions/"
	LocksPrefix    = "locks/"
	ClaimsPrefix   = "claims/"
	BacklogPrefix  = "backlog/"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Record is one versioned value read from the store.
type Record struct {
	Key        string
	Value      []byte
	Version    int64
	ModifiedAt time.Time
}

// Decode unmarshals the record value into v.
func (r *Record) Decode(v any) error {
	if err := json.Unmarshal(r.Value, v); err != nil {
		return fmt.Errorf("decode %s: %w", r.Key, err)
	}
	return nil
}

// Stamp identifies one write to a key. Versions restart at 1 when a deleted
// key is created again, so the write time is what tells the new record from
// the one it replaced.
type Stamp struct {
	Version    int64     `json:"version"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Store is the process-safe persistence contract shared by all coordination
// components. Every mutation is atomic: readers observe either the previous
// or the new value, never a partial write.
//
// Versions start at 1 when a key is created and grow by one per write.
// Conditional writes succeed only against the version the caller last
// observed and fail with errors.ErrConflict otherwise.
type Store interface {
	// Put unconditionally replaces the value at key and returns the new version.
	Put(ctx context.Context, key string, value []byte) (int64, error)

	// Get returns the record at key, or errors.ErrNotFound.
	Get(ctx context.Context, key string) (*Record, error)

	// Delete removes key. Returns errors.ErrNotFound if it does not exist.
	Delete(ctx context.Context, key string) error

	// List returns the keys starting with prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	// CompareAndSwap writes value only if the current version equals
	// expected. An expected version of 0 means the key must not exist.
	CompareAndSwap(ctx context.Context, key string, value []byte, expected int64) (int64, error)

	// CompareAndDelete removes key only if its version equals expected.
	CompareAndDelete(ctx context.Context, key string, expected int64) error

	// Versions returns the current stamp of every key under prefix.
	// Watchers diff successive results to detect mutations.
	Versions(ctx context.Context, prefix string) (map[string]Stamp, error)

	// Close releases resources held by the store.
	Close() error
}

// Options selects and configures a backend for Open.
type Options struct {
	Backend    string
	Dir        string
	SQLitePath string
}

// Open creates the store described by opts.
func Open(opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendFile:
		return NewFileStore(opts.Dir)
	case BackendSQLite:
		path := opts.SQLitePath
		if path == "" {
			path = filepath.Join(opts.Dir, "roster.db")
		}
		return OpenSQLite(path)
	default:
		return nil, errors.NewValidationError("store backend", opts.Backend, "must be file or sqlite")
	}
}

// ValidateKey checks that key is usable by every backend: non-empty
// "/"-separated segments with no relative or hidden components.
func ValidateKey(key string) error {
	if key == "" {
		return errors.NewValidationError("key", key, "must not be empty")
	}
	if strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") {
		return errors.NewValidationError("key", key, "must not start or end with /")
	}
	if strings.ContainsAny(key, "\\\x00") {
		return errors.NewValidationError("key", key, "must not contain backslashes or NUL")
	}
	for _, seg := range strings.Split(key, "/") {
		switch {
		case seg == "":
			return errors.NewValidationError("key", key, "must not contain empty segments")
		case seg == "." || seg == "..":
			return errors.NewValidationError("key", key, "must not contain . or .. segments")
		case strings.HasPrefix(seg, "."):
			return errors.NewValidationError("key", key, "segments must not start with .")
		}
	}
	return nil
}

// compactValue validates that value is a JSON document and strips
// insignificant whitespace so that what Get returns is byte-identical
// across backends.
func compactValue(key string, value []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, value); err != nil {
		return nil, errors.NewValidationError("value for "+key, string(value), "must be a JSON document")
	}
	return buf.Bytes(), nil
}

func checkContext(ctx context.Context, op, key string) error {
	if err := ctx.Err(); err != nil {
		return errors.NewStoreError(op, key, err)
	}
	return nil
}

func notFound(op, key string) error {
	return errors.NewStoreError(op, key, errors.ErrNotFound)
}

func conflict(op, key string, expected, actual int64) error {
	return errors.NewStoreError(op, key, fmt.Errorf("%w: expected version %d, found %d", errors.ErrConflict, expected, actual))
}

func ioFailure(op, key string, err error) error {
	return errors.NewStoreError(op, key, fmt.Errorf("%w: %w", errors.ErrIOFailure, err))
}

func unavailable(op, key string, err error) error {
	return errors.NewStoreError(op, key, fmt.Errorf("%w: %w", errors.ErrStoreUnavailable, err))
}
