package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingFile(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "gw.log")

	r, err := NewRotatingFile(name, 10, 2)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		n, err := r.Write([]byte("0123456789"))
		require.NoError(t, err)
		assert.Equal(t, 10, n)
	}
	require.NoError(t, r.Close())

	backups, err := filepath.Glob(filepath.Join(dir, "gw-*.log"))
	require.NoError(t, err)
	assert.Len(t, backups, 2)

	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))

	_, err = r.Write([]byte("x"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestRotatingFile_NoLimit(t *testing.T) {
	name := filepath.Join(t.TempDir(), "gw.log")
	r, err := NewRotatingFile(name, 0, 0)
	require.NoError(t, err)
	defer r.Close()

	for i := 0; i < 3; i++ {
		_, err := r.Write([]byte("abc"))
		require.NoError(t, err)
	}
	info, err := os.Stat(name)
	require.NoError(t, err)
	assert.Equal(t, int64(9), info.Size())

	_, err = NewRotatingFile("", 0, 0)
	assert.Error(t, err)
}
