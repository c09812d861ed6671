// Package memory is an in-process byte-stream backend. It counts every
// operation and can inject interrupts and hard failures, which makes it the
// backend of choice for tests and dry runs.
package memory

import (
	"context"
	"io"
	"sort"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/objectfs/streamfs/pkg/errors"
	"github.com/objectfs/streamfs/pkg/types"
)

// Stats counts backend operations.
type Stats struct {
	Opens        int
	Reads        int
	BytesRead    int64
	Writes       int
	BytesWritten int64
	Closes       int
	Unlinks      int
	Interrupts   int
}

// Backend stores files in memory.
type Backend struct {
	mu    sync.Mutex
	files map[string][]byte
	stats Stats

	interrupts int
	maxRead    int
	failures   map[string]error
	closeErr   map[string]error
}

var _ types.Backend = (*Backend)(nil)

// New creates an empty backend.
func New() *Backend {
	return &Backend{
		files:    make(map[string][]byte),
		failures: make(map[string]error),
		closeErr: make(map[string]error),
	}
}

// Put stores data at path, replacing any previous content.
func (b *Backend) Put(path string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.files[path] = append([]byte(nil), data...)
}

// Contents returns a copy of the data at path.
func (b *Backend) Contents(path string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.files[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Paths lists stored paths in lexical order.
func (b *Backend) Paths() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.files))
	for p := range b.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Stats returns a snapshot of the operation counters.
func (b *Backend) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// ResetStats zeroes the operation counters.
func (b *Backend) ResetStats() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats = Stats{}
}

// InjectInterrupts makes the next n reads or writes fail with EINTR.
func (b *Backend) InjectInterrupts(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interrupts = n
}

// SetMaxRead caps the bytes returned by one ReadAt call; 0 removes the cap.
func (b *Backend) SetMaxRead(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maxRead = n
}

// Fail makes every operation on path return err until cleared with a nil err.
func (b *Backend) Fail(path string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failures, path)
		return
	}
	b.failures[path] = err
}

// FailClose makes Close of a writable handle on path return err.
func (b *Backend) FailClose(path string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.closeErr, path)
		return
	}
	b.closeErr[path] = err
}

// Open implements types.Backend.
func (b *Backend) Open(_ context.Context, path string, flag types.OpenFlag) (types.File, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.Opens++
	if err := b.failures[path]; err != nil {
		return nil, err
	}

	_, exists := b.files[path]
	if !exists && !flag.Has(types.Create) {
		return nil, errors.NewError(errors.ErrCodeNotFound, "no such file").
			WithComponent("memory").WithOperation("open").WithContext("path", path).
			WithErrno(unix.ENOENT)
	}
	if flag.Writable() && (flag.Has(types.Truncate) || !exists) {
		b.files[path] = nil
	}
	return &file{b: b, path: path, flag: flag}, nil
}

// Unlink implements types.Backend.
func (b *Backend) Unlink(_ context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.Unlinks++
	if err := b.failures[path]; err != nil {
		return err
	}
	if _, ok := b.files[path]; !ok {
		return errors.NewError(errors.ErrCodeNotFound, "no such file").
			WithComponent("memory").WithOperation("unlink").WithContext("path", path).
			WithErrno(unix.ENOENT)
	}
	delete(b.files, path)
	return nil
}

// takeInterrupt consumes one pending interrupt. Caller holds b.mu.
func (b *Backend) takeInterrupt() bool {
	if b.interrupts == 0 {
		return false
	}
	b.interrupts--
	b.stats.Interrupts++
	return true
}

type file struct {
	b      *Backend
	path   string
	flag   types.OpenFlag
	closed bool
}

func (f *file) ReadAt(p []byte, off int64) (int, error) {
	b := f.b
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.Reads++
	if f.closed {
		return 0, errors.NewError(errors.ErrCodeClosed, "read on closed file").WithComponent("memory")
	}
	if err := b.failures[f.path]; err != nil {
		return 0, err
	}
	if b.takeInterrupt() {
		return 0, unix.EINTR
	}

	data := b.files[f.path]
	if off >= int64(len(data)) {
		return 0, io.EOF
	}
	want := p
	if b.maxRead > 0 && len(want) > b.maxRead {
		want = want[:b.maxRead]
	}
	n := copy(want, data[off:])
	b.stats.BytesRead += int64(n)
	if n < len(p) && off+int64(n) == int64(len(data)) {
		return n, io.EOF
	}
	return n, nil
}

func (f *file) Write(p []byte) (int, error) {
	b := f.b
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.Writes++
	if f.closed {
		return 0, errors.NewError(errors.ErrCodeClosed, "write on closed file").WithComponent("memory")
	}
	if !f.flag.Writable() {
		return 0, errors.NewError(errors.ErrCodeBackendIO, "file not open for writing").
			WithComponent("memory").WithErrno(unix.EBADF)
	}
	if err := b.failures[f.path]; err != nil {
		return 0, err
	}
	if b.takeInterrupt() {
		return 0, unix.EINTR
	}
	b.files[f.path] = append(b.files[f.path], p...)
	b.stats.BytesWritten += int64(len(p))
	return len(p), nil
}

func (f *file) Size() (int64, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()
	return int64(len(f.b.files[f.path])), nil
}

func (f *file) Close() error {
	b := f.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	b.stats.Closes++
	if f.flag.Writable() {
		if err := b.closeErr[f.path]; err != nil {
			return err
		}
	}
	return nil
}
