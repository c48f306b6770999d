package record

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/roster/internal/errors"
)

type storeFactory func(t *testing.T, dir string) Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		BackendFile: func(t *testing.T, dir string) Store {
			s, err := NewFileStore(dir)
			require.NoError(t, err)
			return s
		},
		BackendSQLite: func(t *testing.T, dir string) Store {
			s, err := OpenSQLite(filepath.Join(dir, "roster.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, open func() Store)) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			fn(t, func() Store { return factory(t, dir) })
		})
	}
}

func TestStore_PutGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open func() Store) {
		ctx := context.Background()
		s := open()

		v, err := s.Put(ctx, "locks/db-migrate", []byte(`{"holder": "A"}`))
		require.NoError(t, err)
		assert.EqualValues(t, 1, v)

		rec, err := s.Get(ctx, "locks/db-migrate")
		require.NoError(t, err)
		assert.Equal(t, `{"holder":"A"}`, string(rec.Value))
		assert.EqualValues(t, 1, rec.Version)
		assert.False(t, rec.ModifiedAt.IsZero())

		v, err = s.Put(ctx, "locks/db-migrate", []byte(`{"holder":"<B>"}`))
		require.NoError(t, err)
		assert.EqualValues(t, 2, v)

		rec, err = s.Get(ctx, "locks/db-migrate")
		require.NoError(t, err)
		assert.Equal(t, `{"holder":"<B>"}`, string(rec.Value))

		var decoded struct{ Holder string }
		require.NoError(t, rec.Decode(&decoded))
		assert.Equal(t, "<B>", decoded.Holder)
	})
}

func TestStore_GetMissing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open func() Store) {
		_, err := open().Get(context.Background(), "sessions/nope")
		assert.ErrorIs(t, err, errors.ErrNotFound)
	})
}

func TestStore_CompareAndSwap(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open func() Store) {
		ctx := context.Background()
		s := open()

		v, err := s.CompareAndSwap(ctx, "claims/T1", []byte(`{"holder":"A"}`), 0)
		require.NoError(t, err)
		assert.EqualValues(t, 1, v)

		_, err = s.CompareAndSwap(ctx, "claims/T1", []byte(`{"holder":"B"}`), 0)
		require.ErrorIs(t, err, errors.ErrConflict)
		assert.True(t, errors.IsRetryable(err))

		_, err = s.CompareAndSwap(ctx, "claims/T1", []byte(`{"holder":"B"}`), 7)
		require.ErrorIs(t, err, errors.ErrConflict)

		v, err = s.CompareAndSwap(ctx, "claims/T1", []byte(`{"holder":""}`), 1)
		require.NoError(t, err)
		assert.EqualValues(t, 2, v)

		rec, err := s.Get(ctx, "claims/T1")
		require.NoError(t, err)
		assert.Equal(t, `{"holder":""}`, string(rec.Value))
		assert.EqualValues(t, 2, rec.Version)
	})
}

func TestStore_CompareAndSwapMissingWithVersion(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open func() Store) {
		_, err := open().CompareAndSwap(context.Background(), "claims/T9", []byte(`{}`), 3)
		assert.ErrorIs(t, err, errors.ErrConflict)
	})
}

func TestStore_DeleteAndCompareAndDelete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open func() Store) {
		ctx := context.Background()
		s := open()

		_, err := s.Put(ctx, "sessions/a", []byte(`{}`))
		require.NoError(t, err)
		_, err = s.Put(ctx, "sessions/b", []byte(`{}`))
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, "sessions/a"))
		assert.ErrorIs(t, s.Delete(ctx, "sessions/a"), errors.ErrNotFound)

		assert.ErrorIs(t, s.CompareAndDelete(ctx, "sessions/b", 5), errors.ErrConflict)
		require.NoError(t, s.CompareAndDelete(ctx, "sessions/b", 1))
		assert.ErrorIs(t, s.CompareAndDelete(ctx, "sessions/b", 1), errors.ErrNotFound)
	})
}

func TestStore_ListAndVersions(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open func() Store) {
		ctx := context.Background()
		s := open()

		for _, k := range []string{"locks/b", "locks/a", "locks/a/nested", "claims/T1", "sessions/s1"} {
			_, err := s.Put(ctx, k, []byte(`{}`))
			require.NoError(t, err)
		}
		_, err := s.Put(ctx, "locks/a", []byte(`{"n":2}`))
		require.NoError(t, err)

		keys, err := s.List(ctx, LocksPrefix)
		require.NoError(t, err)
		assert.Equal(t, []string{"locks/a", "locks/a/nested", "locks/b"}, keys)

		keys, err = s.List(ctx, "locks/a")
		require.NoError(t, err)
		assert.Equal(t, []string{"locks/a", "locks/a/nested"}, keys)

		keys, err = s.List(ctx, "")
		require.NoError(t, err)
		assert.Len(t, keys, 5)

		keys, err = s.List(ctx, BacklogPrefix)
		require.NoError(t, err)
		assert.Empty(t, keys)

		versions, err := s.Versions(ctx, LocksPrefix)
		require.NoError(t, err)
		got := make(map[string]int64, len(versions))
		for k, st := range versions {
			got[k] = st.Version
			assert.False(t, st.ModifiedAt.IsZero(), k)
		}
		assert.Equal(t, map[string]int64{"locks/a": 2, "locks/a/nested": 1, "locks/b": 1}, got)
	})
}

func TestStore_RejectsInvalidInput(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open func() Store) {
		ctx := context.Background()
		s := open()

		for _, key := range []string{"", "/abs", "trailing/", "a//b", "a/../b", "a/.hidden", `a\b`} {
			_, err := s.Put(ctx, key, []byte(`{}`))
			assert.ErrorIs(t, err, errors.ErrInvalidInput, "key %q", key)
		}

		_, err := s.Put(ctx, "locks/x", []byte(`not json`))
		assert.ErrorIs(t, err, errors.ErrInvalidInput)
	})
}

func TestStore_CanceledContext(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open func() Store) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := open().Put(ctx, "locks/x", []byte(`{}`))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

// Two store handles over the same location stand in for two processes.
// Exactly one of many racing creators may win.
func TestStore_ConcurrentCreateSingleWinner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open func() Store) {
		ctx := context.Background()
		stores := []Store{open(), open()}

		var (
			wg       sync.WaitGroup
			winners  atomic.Int32
			conflict atomic.Int32
		)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				_, err := stores[n%2].CompareAndSwap(ctx, "locks/db-migrate", []byte(`{"holder":"x"}`), 0)
				switch {
				case err == nil:
					winners.Add(1)
				case errors.Is(err, errors.ErrConflict):
					conflict.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		assert.EqualValues(t, 1, winners.Load())
		assert.EqualValues(t, 15, conflict.Load())
	})
}

func TestStore_ConcurrentIncrementsAreNotLost(t *testing.T) {
	forEachBackend(t, func(t *testing.T, open func() Store) {
		ctx := context.Background()
		stores := []Store{open(), open()}
		_, err := stores[0].Put(ctx, "counter", []byte(`{}`))
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				s := stores[n%2]
				for {
					rec, err := s.Get(ctx, "counter")
					if !assert.NoError(t, err) {
						return
					}
					_, err = s.CompareAndSwap(ctx, "counter", []byte(`{}`), rec.Version)
					if err == nil {
						return
					}
					if !errors.Is(err, errors.ErrConflict) {
						t.Errorf("unexpected error: %v", err)
						return
					}
				}
			}(i)
		}
		wg.Wait()

		rec, err := stores[0].Get(ctx, "counter")
		require.NoError(t, err)
		assert.EqualValues(t, 9, rec.Version)
	})
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(Options{Dir: dir})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = Open(Options{Backend: BackendSQLite, Dir: dir})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())
	_, err = os.Stat(filepath.Join(dir, "roster.db"))
	assert.NoError(t, err)

	fresh := filepath.Join(t.TempDir(), "workspace", ".roster")
	s, err = Open(Options{Backend: BackendSQLite, Dir: fresh})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	_, err = os.Stat(filepath.Join(fresh, "roster.db"))
	assert.NoError(t, err)

	nested := filepath.Join(t.TempDir(), "a", "b", "coord.db")
	s, err = Open(Options{Backend: BackendSQLite, SQLitePath: nested})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	_, err = os.Stat(nested)
	assert.NoError(t, err)

	_, err = Open(Options{Backend: "etcd"})
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}
