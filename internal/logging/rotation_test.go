package logging

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// oneMB is the smallest rotation size the config can express.
const oneMB = 1024 * 1024

func TestRotatingWriter_NoRotationWhenDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	rw, err := NewRotatingWriter(path, RotationConfig{})
	require.NoError(t, err)
	defer rw.Close()

	_, err = rw.Write([]byte(strings.Repeat("x", 2*oneMB)))
	require.NoError(t, err)

	assert.EqualValues(t, 2*oneMB, rw.CurrentSize())
	_, err = os.Stat(path + ".1")
	assert.True(t, os.IsNotExist(err))
}

func TestRotatingWriter_Rotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 2})
	require.NoError(t, err)
	defer rw.Close()

	chunk := []byte(strings.Repeat("a", oneMB-10))
	_, err = rw.Write(chunk)
	require.NoError(t, err)
	_, err = rw.Write([]byte("second chunk that overflows\n"))
	require.NoError(t, err)

	backup, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	assert.Len(t, backup, len(chunk))

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second chunk that overflows\n", string(current))
}

func TestRotatingWriter_KeepsMaxBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 2})
	require.NoError(t, err)
	defer rw.Close()

	big := []byte(strings.Repeat("b", oneMB))
	for i := 0; i < 4; i++ {
		_, err := rw.Write(big)
		require.NoError(t, err)
	}

	_, err = os.Stat(path + ".1")
	assert.NoError(t, err)
	_, err = os.Stat(path + ".2")
	assert.NoError(t, err)
	_, err = os.Stat(path + ".3")
	assert.True(t, os.IsNotExist(err))
}

func TestRotatingWriter_Compress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 1, Compress: true})
	require.NoError(t, err)
	defer rw.Close()

	payload := strings.Repeat("c", oneMB)
	_, err = rw.Write([]byte(payload))
	require.NoError(t, err)
	_, err = rw.Write([]byte("tail"))
	require.NoError(t, err)

	f, err := os.Open(path + ".1.gz")
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))

	_, err = os.Stat(path + ".1")
	assert.True(t, os.IsNotExist(err))
}

func TestRotatingWriter_WriteAfterClose(t *testing.T) {
	rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), "app.log"), RotationConfig{})
	require.NoError(t, err)
	require.NoError(t, rw.Close())
	require.NoError(t, rw.Close())

	_, err = rw.Write([]byte("x"))
	assert.Error(t, err)
}

func TestNewLoggerWithRotation(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLoggerWithRotation(dir, LevelDebug, DefaultRotationConfig())
	require.NoError(t, err)
	logger.Debug("hello")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}
