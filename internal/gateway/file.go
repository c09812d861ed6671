package gateway

import (
	"context"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/objectfs/streamfs/internal/checksum"
	"github.com/objectfs/streamfs/internal/readahead"
	"github.com/objectfs/streamfs/pkg/errors"
	"github.com/objectfs/streamfs/pkg/retry"
	"github.com/objectfs/streamfs/pkg/types"
)

// CloseResult reports what Close finalized.
type CloseResult struct {
	Path string

	// ReadAhead holds the window counters of a read handle.
	ReadAhead types.ReadAheadStats

	// Written is the write cursor at close.
	Written int64

	// Checksums is set when the handle accumulated digests.
	Checksums *checksum.Result

	// Persisted reports whether Checksums reached the sidecar.
	Persisted bool

	// ChecksumErr is the finalize or sidecar failure, if any. It never
	// masks a data close error.
	ChecksumErr error
}

// File is one open gateway file.
type File struct {
	fs   *FileSystem
	id   types.Identity
	path string
	flag types.OpenFlag
	f    types.File
	mgr  *checksum.Manager

	cache *readahead.Cache // read handles only

	wmu    sync.Mutex
	cursor int64
	acc    *checksum.Accumulator
	broken bool // a hard write error; digests no longer match the data

	mu       sync.Mutex
	closed   bool
	released bool
}

// Path is the cleaned gateway path.
func (f *File) Path() string { return f.path }

// Writable reports whether f was opened for writing.
func (f *File) Writable() bool { return f.flag.Writable() }

// Offset returns the write cursor.
func (f *File) Offset() int64 {
	f.wmu.Lock()
	defer f.wmu.Unlock()
	return f.cursor
}

// ReadAt reads through the handle's read-ahead window.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if f.cache == nil {
		return 0, errors.NewError(errors.ErrCodeInvalidState, "file is open for writing").
			WithComponent("gateway").WithOperation("read").WithContext("path", f.path).WithErrno(unix.EBADF)
	}
	return f.cache.ReadAt(p, off)
}

// WriteAt writes p at off. Writes must be sequential: off must equal the
// current cursor, otherwise the write is rejected with OUT_OF_ORDER_WRITE and
// the cursor does not move.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	f.wmu.Lock()
	defer f.wmu.Unlock()
	return f.writeLocked(p, off)
}

// Write appends p at the cursor.
func (f *File) Write(p []byte) (int, error) {
	f.wmu.Lock()
	defer f.wmu.Unlock()
	return f.writeLocked(p, f.cursor)
}

func (f *File) writeLocked(p []byte, off int64) (int, error) {
	if !f.flag.Writable() {
		return 0, errors.NewError(errors.ErrCodeInvalidState, "file is open read-only").
			WithComponent("gateway").WithOperation("write").WithContext("path", f.path).WithErrno(unix.EBADF)
	}
	if f.isClosed() {
		return 0, errors.NewError(errors.ErrCodeClosed, "write on closed file").
			WithComponent("gateway").WithOperation("write").WithContext("path", f.path).WithErrno(unix.EBADF)
	}
	if off != f.cursor {
		return 0, errors.Newf(errors.ErrCodeOutOfOrderWrite, "write at offset %d, expected %d", off, f.cursor).
			WithComponent("gateway").WithOperation("write").WithContext("path", f.path).WithErrno(unix.ENOTSUP)
	}

	n, err := retry.WriteFull(f.f, p)
	f.cursor += int64(n)
	if f.acc != nil && n > 0 {
		if uerr := f.acc.Update(p[:n]); uerr != nil {
			return n, uerr
		}
	}
	if err != nil {
		f.broken = true
		if errors.CodeOf(err) != "" {
			return n, err
		}
		return n, errors.Wrap(errors.ErrCodeBackendIO, err, "write failed").
			WithComponent("gateway").WithOperation("write").WithContext("path", f.path)
	}
	return n, nil
}

func (f *File) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed || f.released
}

// Close finalizes the handle: it logs and records read-ahead counters,
// closes the backend file and, when that succeeded, persists accumulated
// checksums under ctx. The returned error is the data close error; checksum
// failures are reported in CloseResult.ChecksumErr. Close may be called once.
func (f *File) Close(ctx context.Context) (*CloseResult, error) {
	f.mu.Lock()
	if f.closed || f.released {
		f.mu.Unlock()
		return nil, errors.NewError(errors.ErrCodeClosed, "file already closed").
			WithComponent("gateway").WithOperation("close").WithContext("path", f.path).WithErrno(unix.EBADF)
	}
	f.closed = true
	f.mu.Unlock()

	f.wmu.Lock()
	defer f.wmu.Unlock()
	defer f.fs.pool.Release(f.id)

	res := &CloseResult{Path: f.path, Written: f.cursor}
	logger := f.fs.logger

	if f.cache != nil {
		res.ReadAhead = f.cache.Close()
		st := res.ReadAhead
		if st.Hits+st.PartialHits+st.Misses+st.Bypassed > 0 {
			logger.Info("Readahead buffer stats",
				"path", f.path,
				"misses", st.Misses,
				"hits", st.Hits,
				"partial_hits", st.PartialHits,
				"unbuffered", st.Bypassed,
				"bytes_used", st.BytesUsed,
				"bytes_loaded", st.BytesLoaded,
				"used_percent", st.UsedPercent())
		}
		if f.fs.opts.Metrics != nil {
			f.fs.opts.Metrics.RecordReadAhead(st)
		}
	}

	dataErr := f.f.Close()
	if dataErr != nil && errors.CodeOf(dataErr) == "" {
		dataErr = errors.Wrap(errors.ErrCodeBackendIO, dataErr, "close failed").
			WithComponent("gateway").WithOperation("close").WithContext("path", f.path)
	}

	if f.acc != nil {
		sums, err := f.acc.Finalize()
		f.acc = nil
		switch {
		case err != nil:
			res.ChecksumErr = err
		case dataErr != nil:
			res.Checksums = sums
		case f.broken:
			res.Checksums = sums
			res.ChecksumErr = errors.NewError(errors.ErrCodeInvalidState, "write failed; checksums not persisted").
				WithComponent("gateway").WithOperation("close").WithContext("path", f.path)
		default:
			res.Checksums = sums
			if err := f.mgr.SetRecords(ctx, f.path, sums.Records()...); err != nil {
				res.ChecksumErr = err
				logger.Warn("Failed to persist checksums", "path", f.path, "error", err)
			} else {
				res.Persisted = true
			}
		}
	}

	return res, dataErr
}

// Release drops the handle's memory and pool reference without finalizing
// it: no stats are logged and no checksums are persisted. It is a no-op after
// Close.
func (f *File) Release() {
	f.mu.Lock()
	if f.closed || f.released {
		f.mu.Unlock()
		return
	}
	f.released = true
	f.mu.Unlock()

	f.wmu.Lock()
	defer f.wmu.Unlock()

	if f.cache != nil {
		f.cache.Close()
	}
	f.acc = nil
	if err := f.f.Close(); err != nil {
		f.fs.logger.Debug("Close during release failed", "path", f.path, "error", err)
	}
	f.fs.pool.Release(f.id)
}
