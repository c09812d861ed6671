package s3

import (
	"bytes"
	"context"
	"io"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/objectfs/streamfs/pkg/errors"
)

// object is an open handle on one key. Read handles issue ranged GETs;
// write handles buffer until Close. ctx is detached from the opening
// request.
type object struct {
	b   *Backend
	ctx context.Context
	key string

	mu       sync.Mutex
	size     int64
	writable bool
	buf      *bytes.Buffer
	closed   bool
}

func (o *object) ReadAt(p []byte, off int64) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return 0, errors.NewError(errors.ErrCodeClosed, "read on closed object").
			WithComponent("s3").WithErrno(unix.EBADF)
	}
	if o.writable {
		return 0, errors.NewError(errors.ErrCodeInvalidState, "object is open for writing").
			WithComponent("s3").WithOperation("read").WithErrno(unix.EBADF)
	}
	if off < 0 {
		return 0, errors.Newf(errors.ErrCodeInvalidState, "negative offset %d", off).
			WithComponent("s3").WithErrno(unix.EINVAL)
	}
	if off >= o.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	want := p
	if remain := o.size - off; int64(len(want)) > remain {
		want = want[:remain]
	}
	n, err := o.b.readRange(o.ctx, o.key, want, off)
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (o *object) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return 0, errors.NewError(errors.ErrCodeClosed, "write on closed object").
			WithComponent("s3").WithErrno(unix.EBADF)
	}
	if !o.writable {
		return 0, errors.NewError(errors.ErrCodeInvalidState, "object is open read-only").
			WithComponent("s3").WithOperation("write").WithErrno(unix.EBADF)
	}
	return o.buf.Write(p)
}

// Size reports the object size, or the buffered length for write handles.
func (o *object) Size() (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.writable {
		return int64(o.buf.Len()), nil
	}
	return o.size, nil
}

// Close uploads buffered content. A second Close is a no-op.
func (o *object) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}
	o.closed = true
	if !o.writable {
		return nil
	}
	body := o.buf.Bytes()
	o.buf = nil
	return o.b.upload(o.ctx, o.key, body)
}
