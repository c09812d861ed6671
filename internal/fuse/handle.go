package fuse

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/objectfs/streamfs/internal/gateway"
)

// FileHandle serves kernel requests for one open gateway file.
type FileHandle struct {
	file   *gateway.File
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	errno  syscall.Errno
	result *gateway.CloseResult
}

var _ fs.FileReader = (*FileHandle)(nil)
var _ fs.FileWriter = (*FileHandle)(nil)
var _ fs.FileFlusher = (*FileHandle)(nil)
var _ fs.FileReleaser = (*FileHandle)(nil)

// NewHandle wraps an open gateway file.
func NewHandle(file *gateway.File, logger *slog.Logger) *FileHandle {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileHandle{file: file, logger: logger.With("component", "fuse")}
}

// Read fills dest from off. A read at or past the end of the file returns
// the bytes that exist, possibly none.
func (h *FileHandle) Read(_ context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := h.file.ReadAt(dest, off)
	if err != nil && err != io.EOF {
		h.logger.Debug("Read failed", "path", h.file.Path(), "offset", off, "error", err)
		return nil, ToErrno(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

// Write writes data at off, which must be the end of what was written so
// far.
func (h *FileHandle) Write(_ context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := h.file.WriteAt(data, off)
	if err != nil {
		h.logger.Debug("Write failed", "path", h.file.Path(), "offset", off, "error", err)
		return uint32(n), ToErrno(err)
	}
	return uint32(n), 0
}

// Flush finalizes a writable handle so close(2) sees backend and upload
// errors. Later flushes of the same handle (dup'd descriptors) return the
// first outcome.
func (h *FileHandle) Flush(ctx context.Context) syscall.Errno {
	if !h.file.Writable() {
		return 0
	}
	return h.finalize(ctx)
}

// Release finalizes the handle if Flush did not.
func (h *FileHandle) Release(ctx context.Context) syscall.Errno {
	return h.finalize(ctx)
}

// Result returns what finalizing the handle produced, or nil while it is
// still open.
func (h *FileHandle) Result() *gateway.CloseResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

func (h *FileHandle) finalize(ctx context.Context) syscall.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return h.errno
	}
	h.closed = true

	res, err := h.file.Close(ctx)
	h.result = res
	if err != nil {
		h.logger.Warn("Close failed", "path", h.file.Path(), "error", err)
		h.errno = ToErrno(err)
		return h.errno
	}
	if res.ChecksumErr != nil {
		// the data is committed; a missing sidecar is recomputed by calc
		h.logger.Warn("Checksums not stored", "path", res.Path, "error", res.ChecksumErr)
	}
	h.logger.Debug("Closed file", "path", res.Path, "written", res.Written, "checksums_persisted", res.Persisted)
	return 0
}
