package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/roster/internal/liveness"
)

func TestClock(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewClock(start)
	assert.Equal(t, start, c.Now())

	c.Advance(time.Minute)
	assert.Equal(t, start.Add(time.Minute), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestProber(t *testing.T) {
	p := NewProber(liveness.Unknown)
	p.Set(7, liveness.Dead)

	assert.Equal(t, liveness.Dead, p.Probe(7, ""))
	assert.Equal(t, liveness.Unknown, p.Probe(8, ""))
	assert.Equal(t, 2, p.Calls())
}

func TestStoresShareDirectory(t *testing.T) {
	dir := t.TempDir()
	a := FileStoreAt(t, dir)
	b := FileStoreAt(t, dir)

	_, err := a.Put(context.Background(), "locks/x", []byte(`{}`))
	require.NoError(t, err)
	rec, err := b.Get(context.Background(), "locks/x")
	require.NoError(t, err)
	assert.EqualValues(t, 1, rec.Version)

	_, err = NewSQLiteStore(t).Put(context.Background(), "locks/x", []byte(`{}`))
	assert.NoError(t, err)
}
