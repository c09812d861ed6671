package memory

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/objectfs/streamfs/pkg/errors"
	"github.com/objectfs/streamfs/pkg/types"
)

func TestBackend_OpenMissing(t *testing.T) {
	b := New()
	_, err := b.Open(context.Background(), "/nope", types.ReadOnly)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.Equal(t, unix.ENOENT, errors.ErrnoOf(err))

	err = b.Unlink(context.Background(), "/nope")
	assert.True(t, errors.IsNotFound(err))
}

func TestBackend_WriteThenRead(t *testing.T) {
	ctx := context.Background()
	b := New()

	f, err := b.Open(ctx, "/data/f", types.WriteOnly|types.Create|types.Truncate)
	require.NoError(t, err)
	_, err = f.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = f.Write([]byte("world"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r, err := b.Open(ctx, "/data/f", types.ReadOnly)
	require.NoError(t, err)
	defer r.Close()

	buf := make([]byte, 5)
	n, err := r.ReadAt(buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]))

	n, err = r.ReadAt(make([]byte, 10), 8)
	assert.Equal(t, 3, n)
	assert.Equal(t, io.EOF, err)

	n, err = r.ReadAt(buf, 11)
	assert.Zero(t, n)
	assert.Equal(t, io.EOF, err)

	st := b.Stats()
	assert.Equal(t, 2, st.Opens)
	assert.Equal(t, 2, st.Writes)
	assert.Equal(t, int64(11), st.BytesWritten)
}

func TestBackend_FaultInjection(t *testing.T) {
	ctx := context.Background()
	b := New()
	b.Put("/f", []byte("0123456789"))

	f, err := b.Open(ctx, "/f", types.ReadOnly)
	require.NoError(t, err)

	b.InjectInterrupts(1)
	_, err = f.ReadAt(make([]byte, 4), 0)
	assert.ErrorIs(t, err, unix.EINTR)

	b.SetMaxRead(3)
	n, err := f.ReadAt(make([]byte, 4), 0)
	assert.NoError(t, err)
	assert.Equal(t, 3, n)

	b.Fail("/f", unix.EIO)
	_, err = f.ReadAt(make([]byte, 4), 0)
	assert.ErrorIs(t, err, unix.EIO)
	b.Fail("/f", nil)

	w, err := b.Open(ctx, "/f", types.WriteOnly|types.Truncate)
	require.NoError(t, err)
	b.FailClose("/f", unix.EDQUOT)
	assert.ErrorIs(t, w.Close(), unix.EDQUOT)
	assert.Equal(t, 1, b.Stats().Interrupts)
}

func TestBackend_ReadOnlyRejectsWrite(t *testing.T) {
	b := New()
	b.Put("/f", nil)
	f, err := b.Open(context.Background(), "/f", types.ReadOnly)
	require.NoError(t, err)
	_, err = f.Write([]byte("x"))
	assert.Error(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, []string{"/f"}, b.Paths())
}
