package record

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/roster/internal/errors"
)

const (
	// recordExt is appended to every key's file so that "locks/a" and
	// "locks/a/b" can coexist as file and directory.
	recordExt = ".json"

	// storeLockName is the flock target serializing mutations across processes.
	storeLockName = ".roster.lock"

	tempPattern = ".tmp-*"
)

// envelope is the on-disk form of a record.
type envelope struct {
	Version    int64           `json:"version"`
	ModifiedAt time.Time       `json:"modified_at"`
	Record     json.RawMessage `json:"record"`
}

// FileStore stores each key as a JSON file beneath a root directory.
//
// Writes go to a temporary file in the destination directory, are fsynced,
// then renamed over the target, so readers never see a partial record.
// Every mutation holds an exclusive flock on {root}/.roster.lock while it
// reads the current version and swaps the file in, which makes
// compare-and-swap linearizable per key across independent processes.
type FileStore struct {
	root string
	mu   sync.Mutex // serializes this instance's own mutations; flock covers other processes
	now  func() time.Time
}

// NewFileStore creates a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.NewValidationError("store dir", dir, "must not be empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, unavailable("open", "", err)
	}
	return &FileStore{root: abs, now: time.Now}, nil
}

// Root returns the directory holding the record files.
func (s *FileStore) Root() string {
	return s.root
}

// PathForKey returns the file backing key.
func (s *FileStore) PathForKey(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key)) + recordExt
}

// KeyForPath maps a record file path back to its key. The second result is
// false for paths that are not record files (temp files, the lock file,
// directories outside the root).
func (s *FileStore) KeyForPath(path string) (string, bool) {
	rel, err := filepath.Rel(s.root, path)
	if err != nil || !strings.HasSuffix(rel, recordExt) {
		return "", false
	}
	key := strings.TrimSuffix(filepath.ToSlash(rel), recordExt)
	if ValidateKey(key) != nil {
		return "", false
	}
	return key, true
}

// Put unconditionally replaces the value at key.
func (s *FileStore) Put(ctx context.Context, key string, value []byte) (int64, error) {
	var version int64
	err := s.mutate(ctx, "put", key, func(current *envelope) error {
		data, err := compactValue(key, value)
		if err != nil {
			return err
		}
		next := int64(1)
		if current != nil {
			next = current.Version + 1
		}
		if err := s.writeEnvelope(key, &envelope{Version: next, ModifiedAt: s.now().UTC(), Record: data}); err != nil {
			return ioFailure("put", key, err)
		}
		version = next
		return nil
	})
	return version, err
}

// CompareAndSwap writes value only if the stored version equals expected.
func (s *FileStore) CompareAndSwap(ctx context.Context, key string, value []byte, expected int64) (int64, error) {
	var version int64
	err := s.mutate(ctx, "cas", key, func(current *envelope) error {
		var actual int64
		if current != nil {
			actual = current.Version
		}
		if actual != expected {
			return conflict("cas", key, expected, actual)
		}
		data, err := compactValue(key, value)
		if err != nil {
			return err
		}
		if err := s.writeEnvelope(key, &envelope{Version: actual + 1, ModifiedAt: s.now().UTC(), Record: data}); err != nil {
			return ioFailure("cas", key, err)
		}
		version = actual + 1
		return nil
	})
	return version, err
}

// Delete removes key.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	return s.mutate(ctx, "delete", key, func(current *envelope) error {
		if current == nil {
			return notFound("delete", key)
		}
		return s.removeKey("delete", key)
	})
}

// CompareAndDelete removes key only if its version equals expected.
func (s *FileStore) CompareAndDelete(ctx context.Context, key string, expected int64) error {
	return s.mutate(ctx, "cad", key, func(current *envelope) error {
		if current == nil {
			return notFound("cad", key)
		}
		if current.Version != expected {
			return conflict("cad", key, expected, current.Version)
		}
		return s.removeKey("cad", key)
	})
}

// Get reads the record at key. Reads take no lock: rename is atomic.
func (s *FileStore) Get(ctx context.Context, key string) (*Record, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if err := checkContext(ctx, "get", key); err != nil {
		return nil, err
	}
	env, err := s.readEnvelope(key)
	if err != nil {
		return nil, unavailable("get", key, err)
	}
	if env == nil {
		return nil, notFound("get", key)
	}
	return &Record{Key: key, Value: []byte(env.Record), Version: env.Version, ModifiedAt: env.ModifiedAt}, nil
}

// List returns keys beginning with prefix, sorted.
func (s *FileStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := checkContext(ctx, "list", prefix); err != nil {
		return nil, err
	}
	var keys []string
	err := s.walk(prefix, func(key, _ string) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return nil, unavailable("list", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Versions returns key -> stamp for every record under prefix.
func (s *FileStore) Versions(ctx context.Context, prefix string) (map[string]Stamp, error) {
	if err := checkContext(ctx, "versions", prefix); err != nil {
		return nil, err
	}
	out := make(map[string]Stamp)
	err := s.walk(prefix, func(key, _ string) error {
		env, err := s.readEnvelope(key)
		if err != nil {
			return err
		}
		if env != nil { // removed between walk and read
			out[key] = Stamp{Version: env.Version, ModifiedAt: env.ModifiedAt}
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("versions", prefix, err)
	}
	return out, nil
}

// Close is a no-op; FileStore holds no open handles between calls.
func (s *FileStore) Close() error {
	return nil
}

// mutate runs fn with the store-wide flock held and the current envelope
// for key (nil when absent).
func (s *FileStore) mutate(ctx context.Context, op, key string, fn func(current *envelope) error) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := checkContext(ctx, op, key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fl := newFileLock(filepath.Join(s.root, storeLockName))
	if err := fl.Lock(); err != nil {
		return unavailable(op, key, err)
	}
	defer func() { _ = fl.Unlock() }()

	current, err := s.readEnvelope(key)
	if err != nil {
		return unavailable(op, key, err)
	}
	return fn(current)
}

// readEnvelope returns nil, nil when the key does not exist.
func (s *FileStore) readEnvelope(key string) (*envelope, error) {
	data, err := os.ReadFile(s.PathForKey(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("corrupt record file for %s: %w", key, err)
	}
	return &env, nil
}

func (s *FileStore) writeEnvelope(key string, env *envelope) error {
	path := s.PathForKey(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	// HTML escaping would rewrite the stored value and break byte equality.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(env); err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return atomicWriteFile(path, buf.Bytes(), 0644)
}

func (s *FileStore) removeKey(op, key string) error {
	if err := os.Remove(s.PathForKey(key)); err != nil {
		if os.IsNotExist(err) {
			return notFound(op, key)
		}
		return ioFailure(op, key, err)
	}
	return nil
}

// walk visits every record file whose key starts with prefix. Only the
// directory implied by the prefix is traversed.
func (s *FileStore) walk(prefix string, fn func(key, path string) error) error {
	start := s.root
	if i := strings.LastIndex(prefix, "/"); i > 0 {
		start = filepath.Join(s.root, filepath.FromSlash(prefix[:i]))
	}

	err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && path != start {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		key, ok := s.KeyForPath(path)
		if !ok || !strings.HasPrefix(key, prefix) {
			return nil
		}
		return fn(key, path)
	})
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// atomicWriteFile writes data to a temporary file in the target directory,
// syncs it and renames it over path. On any failure the previous contents
// of path are left untouched.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), tempPattern)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
