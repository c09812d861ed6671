package checksum

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/objectfs/streamfs/internal/storage/memory"
	"github.com/objectfs/streamfs/pkg/errors"
	"github.com/objectfs/streamfs/pkg/types"
)

type recordedOp struct {
	op, alg string
	err     error
}

type fakeRecorder struct {
	mu  sync.Mutex
	ops []recordedOp
}

func (r *fakeRecorder) RecordChecksumOperation(op, alg string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, recordedOp{op, alg, err})
}

func newTestManager(t *testing.T, opts Options) (*Manager, *memory.Backend, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	backend := memory.New()
	return NewManager(backend, opts), backend, &logs
}

func sidecar(t *testing.T, b *memory.Backend, path string) string {
	t.Helper()
	data, ok := b.Contents("/cksums" + path)
	require.True(t, ok, "sidecar for %s missing", path)
	return string(data)
}

func TestManager_SidecarPath(t *testing.T) {
	m, _, _ := newTestManager(t, Options{})
	assert.Equal(t, "/cksums/data/f", m.SidecarPath("/data/f"))
	assert.True(t, m.IsSidecar("/cksums/data/f"))
	assert.True(t, m.IsSidecar("/cksums"))
	assert.False(t, m.IsSidecar("/cksumsx/f"))

	custom, _, _ := newTestManager(t, Options{SidecarPrefix: "meta/"})
	assert.Equal(t, "/meta/f", custom.SidecarPath("/f"))
}

func TestManager_SetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	m, b, _ := newTestManager(t, Options{})

	require.NoError(t, m.Set(ctx, "/f", "adler32", "0a0b0c0d"))
	require.NoError(t, m.Set(ctx, "/f", "MD5", "d41d8cd98f00b204e9800998ecf8427e"))

	v, err := m.Get(ctx, "/f", "ADLER32")
	require.NoError(t, err)
	assert.Equal(t, "0a0b0c0d", v)

	v, err = m.Get(ctx, "/f", "")
	require.NoError(t, err)
	assert.Equal(t, "0a0b0c0d", v, "empty name falls back to ADLER32")

	assert.Equal(t, "ADLER32:0a0b0c0d\nMD5:d41d8cd98f00b204e9800998ecf8427e", sidecar(t, b, "/f"))

	names, err := m.List(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, []string{"ADLER32", "MD5"}, names)
}

func TestManager_SetNoOpDoesNotWrite(t *testing.T) {
	ctx := context.Background()
	m, b, _ := newTestManager(t, Options{})
	require.NoError(t, m.Set(ctx, "/f", "CKSUM", "01020304"))

	b.ResetStats()
	require.NoError(t, m.Set(ctx, "/f", "cksum", "01020304"))
	st := b.Stats()
	assert.Zero(t, st.Writes)
	assert.Equal(t, 1, st.Opens, "only the read of the existing sidecar")

	require.NoError(t, m.Set(ctx, "/f", "cksum", "05060708"))
	assert.Equal(t, "CKSUM:05060708", sidecar(t, b, "/f"))
}

func TestManager_SetRejectsBadRecords(t *testing.T) {
	m, b, _ := newTestManager(t, Options{})
	for _, tc := range [][2]string{{"", "1"}, {"MD5", ""}, {"A:B", "1"}, {"MD5", "a\nb"}, {"MD5", "abc def"}, {"MD5", "abc\t"}, {"MD5", "abc\r"}, {"MD 5", "abc"}} {
		err := m.Set(context.Background(), "/f", tc[0], tc[1])
		assert.True(t, errors.HasCode(err, errors.ErrCodeMalformed), "%q", tc)
	}
	assert.Zero(t, b.Stats().Writes, "rejected records never reach the backend")
}

func TestManager_GetNotFound(t *testing.T) {
	ctx := context.Background()
	m, b, _ := newTestManager(t, Options{})

	_, err := m.Get(ctx, "/missing", "MD5")
	assert.True(t, errors.IsNotFound(err))

	b.Put("/cksums/bad", []byte("garbage"))
	_, err = m.Get(ctx, "/bad", "MD5")
	assert.True(t, errors.IsNotFound(err), "malformed sidecar reads as not found")
	_, err = m.List(ctx, "/bad")
	assert.True(t, errors.IsNotFound(err))

	b.Put("/cksums/f", []byte("ADLER32:00000001\nCKSUM:00000000"))
	_, err = m.Get(ctx, "/f", "MD5")
	assert.True(t, errors.IsNotFound(err))
	_, ok := b.Contents("/cksums/f")
	assert.True(t, ok, "sidecar kept when purge is disabled")
}

func TestManager_GetPurgesStaleSidecar(t *testing.T) {
	ctx := context.Background()
	m, b, _ := newTestManager(t, Options{PurgeStaleSidecar: true})
	b.Put("/cksums/f", []byte("ADLER32:00000001"))

	_, err := m.Get(ctx, "/f", "MD5")
	assert.True(t, errors.IsNotFound(err))
	_, ok := b.Contents("/cksums/f")
	assert.False(t, ok)
}

func TestManager_GetInto(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, Options{})
	require.NoError(t, m.Set(ctx, "/f", "MD5", "d41d8cd98f00b204e9800998ecf8427e"))

	buf := make([]byte, 32)
	n, err := m.GetInto(ctx, "/f", "md5", buf)
	require.NoError(t, err)
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", string(buf[:n]))

	_, err = m.GetInto(ctx, "/f", "md5", make([]byte, 31))
	assert.True(t, errors.HasCode(err, errors.ErrCodeTooLarge))
}

func TestManager_Del(t *testing.T) {
	ctx := context.Background()
	m, b, _ := newTestManager(t, Options{})
	require.NoError(t, m.Set(ctx, "/f", "MD5", "aa"))

	require.NoError(t, m.Del(ctx, "/f"))
	_, ok := b.Contents("/cksums/f")
	assert.False(t, ok)
	require.NoError(t, m.Del(ctx, "/f"), "deleting a missing sidecar is not an error")

	b.Put("/cksums/g", []byte("MD5:aa"))
	b.Fail("/cksums/g", unix.EACCES)
	assert.ErrorIs(t, m.Del(ctx, "/g"), unix.EACCES)
}

func TestManager_CalcEmptyAdler(t *testing.T) {
	ctx := context.Background()
	m, b, _ := newTestManager(t, Options{})
	b.Put("/empty", nil)

	v, err := m.Calc(ctx, "/empty", "ADLER32", false)
	require.NoError(t, err)
	assert.Equal(t, "00000001", v)
	_, ok := b.Contents("/cksums/empty")
	assert.False(t, ok, "calc without persist writes nothing")
}

func TestManager_CalcPersistMergesAll(t *testing.T) {
	ctx := context.Background()
	m, b, _ := newTestManager(t, Options{ReadSize: 4})
	b.Put("/f", []byte("123456789"))
	b.Put("/cksums/f", []byte("SHA256:keepme"))
	b.InjectInterrupts(2)

	v, err := m.Calc(ctx, "/f", "cksum", true)
	require.NoError(t, err)
	assert.Equal(t, "89a1897f", v)

	names, err := m.List(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, []string{"SHA256", "CKSUM", "ADLER32", "CRC32", "MD5", "CVMFS"}, names)

	got, err := m.Get(ctx, "/f", "CRC32")
	require.NoError(t, err)
	assert.Equal(t, "cbf43926", got)
	assert.Equal(t, 2, b.Stats().Interrupts)
}

func TestManager_CalcErrors(t *testing.T) {
	ctx := context.Background()
	m, b, logs := newTestManager(t, Options{})

	_, err := m.Calc(ctx, "/f", "sha512", false)
	assert.True(t, errors.HasCode(err, errors.ErrCodeUnsupported))

	_, err = m.Calc(ctx, "/missing", "MD5", false)
	assert.True(t, errors.IsNotFound(err))

	b.Put("/f", []byte("data"))
	b.Fail("/cksums/f", unix.EROFS)
	v, err := m.Calc(ctx, "/f", "ADLER32", true)
	require.NoError(t, err, "persist failures are logged, not returned")
	assert.NotEmpty(t, v)
	assert.Contains(t, logs.String(), "Failed to persist computed checksums")

	b.Fail("/cksums/f", nil)
	b.Fail("/f", unix.EIO)
	_, err = m.Calc(ctx, "/f", "ADLER32", false)
	assert.ErrorIs(t, err, unix.EIO)
}

// vanishing opens files normally but fails every read with readErr.
type vanishing struct {
	*memory.Backend
	readErr error
}

type vanishingFile struct {
	types.File
	err error
}

func (v vanishing) Open(ctx context.Context, path string, flag types.OpenFlag) (types.File, error) {
	f, err := v.Backend.Open(ctx, path, flag)
	if err != nil {
		return nil, err
	}
	return vanishingFile{File: f, err: v.readErr}, nil
}

func (f vanishingFile) ReadAt([]byte, int64) (int, error) { return 0, f.err }

func TestManager_ReadErrorsKeepCode(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	mem.Put("/f", []byte("data"))
	mem.Put("/cksums/f", []byte("MD5:aa"))

	gone := errors.NewError(errors.ErrCodeNotFound, "object vanished").WithErrno(unix.ENOENT)
	m := NewManager(vanishing{Backend: mem, readErr: gone}, Options{})
	_, err := m.Calc(ctx, "/f", "ADLER32", false)
	assert.True(t, errors.IsNotFound(err))
	assert.Equal(t, unix.ENOENT, errors.ErrnoOf(err))

	m = NewManager(vanishing{Backend: mem, readErr: unix.EIO}, Options{})
	_, err = m.Calc(ctx, "/f", "ADLER32", false)
	assert.True(t, errors.HasCode(err, errors.ErrCodeBackendIO), "uncoded errors become BACKEND_IO")
	_, err = m.Get(ctx, "/f", "MD5")
	assert.True(t, errors.HasCode(err, errors.ErrCodeBackendIO))
}

func TestManager_Verify(t *testing.T) {
	ctx := context.Background()
	m, b, _ := newTestManager(t, Options{})
	b.Put("/f", []byte("123456789"))

	ok, err := m.Verify(ctx, "/f", "ADLER32", "091e01de")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, sidecar(t, b, "/f"), "ADLER32:091e01de", "verify computes and persists")

	ok, err = m.Verify(ctx, "/f", "ADLER32", "deadbeef")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.Verify(ctx, "/missing", "ADLER32", "00000001")
	assert.True(t, errors.IsNotFound(err))
}

func TestManager_Metrics(t *testing.T) {
	rec := &fakeRecorder{}
	m, _, _ := newTestManager(t, Options{Metrics: rec, DefaultAlgorithm: "md5"})

	_, err := m.Get(context.Background(), "/f", "")
	require.Error(t, err)

	require.Len(t, rec.ops, 1)
	assert.Equal(t, "get", rec.ops[0].op)
	assert.Equal(t, "MD5", rec.ops[0].alg)
	assert.True(t, errors.IsNotFound(rec.ops[0].err))
}
