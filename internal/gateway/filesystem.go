// Package gateway is the data path of an open file. It joins the connection
// pool, the per-handle read-ahead window and the checksum manager behind one
// File type that hosts (FUSE, the CLI) drive.
package gateway

import (
	"context"
	"log/slog"

	"github.com/objectfs/streamfs/internal/buffer"
	"github.com/objectfs/streamfs/internal/checksum"
	"github.com/objectfs/streamfs/internal/pool"
	"github.com/objectfs/streamfs/internal/readahead"
	"github.com/objectfs/streamfs/pkg/errors"
	"github.com/objectfs/streamfs/pkg/types"
	"github.com/objectfs/streamfs/pkg/utils"
)

// Recorder receives the read-ahead counters of every closed read handle.
type Recorder interface {
	RecordReadAhead(stats types.ReadAheadStats)
}

// Options configure a FileSystem.
type Options struct {
	// ReadAheadSize is the per-handle window capacity.
	ReadAheadSize int

	// Algorithms computed while writing. Nil means every supported one.
	Algorithms []checksum.Algorithm

	// Checksum configures the manager created for each backend. Logger,
	// Pool and Metrics default to the FileSystem's own.
	Checksum checksum.Options

	Logger  *slog.Logger
	Metrics Recorder
	Pool    *buffer.BytePool
}

// FileSystem opens gateway files on behalf of identities.
type FileSystem struct {
	pool   *pool.Pool
	opts   Options
	logger *slog.Logger
}

// New creates a FileSystem that draws backends from p.
func New(p *pool.Pool, opts Options) *FileSystem {
	if opts.ReadAheadSize <= 0 {
		opts.ReadAheadSize = readahead.DefaultCapacity
	}
	if opts.Algorithms == nil {
		opts.Algorithms = checksum.All()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Pool == nil {
		opts.Pool = buffer.Default()
	}
	if opts.Checksum.Logger == nil {
		opts.Checksum.Logger = opts.Logger
	}
	if opts.Checksum.Pool == nil {
		opts.Checksum.Pool = opts.Pool
	}
	return &FileSystem{
		pool:   p,
		opts:   opts,
		logger: opts.Logger.With("component", "gateway"),
	}
}

// Open opens path for id. Read-only opens get a read-ahead window; writable
// opens get a write cursor and, outside the sidecar tree, a digest
// accumulator. The returned File holds a pool reference until Close or
// Release.
func (fs *FileSystem) Open(ctx context.Context, id types.Identity, path string, flag types.OpenFlag) (*File, error) {
	clean, err := utils.CleanPath(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidState, err, "invalid path").
			WithComponent("gateway").WithOperation("open").WithContext("path", path)
	}

	backend, err := fs.pool.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	f, err := backend.Open(ctx, clean, flag)
	if err != nil {
		fs.pool.Release(id)
		return nil, err
	}

	mgr := fs.manager(backend)
	file := &File{
		fs:   fs,
		id:   id,
		path: clean,
		flag: flag,
		f:    f,
		mgr:  mgr,
	}
	if flag.Writable() {
		if !mgr.IsSidecar(clean) && len(fs.opts.Algorithms) > 0 {
			file.acc = checksum.NewChunkedAccumulator(mgr.ChunkSize(), fs.opts.Algorithms...)
		}
	} else {
		file.cache = readahead.New(f, readahead.Options{Capacity: fs.opts.ReadAheadSize, Pool: fs.opts.Pool})
	}

	fs.logger.Debug("Opened file", "path", clean, "identity", id.String(), "flag", flag.String())
	return file, nil
}

// Remove unlinks path and its sidecar. A missing sidecar is not an error.
func (fs *FileSystem) Remove(ctx context.Context, id types.Identity, path string) error {
	clean, err := utils.CleanPath(path)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidState, err, "invalid path").
			WithComponent("gateway").WithOperation("remove").WithContext("path", path)
	}

	backend, err := fs.pool.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer fs.pool.Release(id)

	if err := backend.Unlink(ctx, clean); err != nil {
		return err
	}
	mgr := fs.manager(backend)
	if mgr.IsSidecar(clean) {
		return nil
	}
	return mgr.Del(ctx, clean)
}

// WithChecksums runs fn with the checksum manager for id's backend.
func (fs *FileSystem) WithChecksums(ctx context.Context, id types.Identity, fn func(*checksum.Manager) error) error {
	backend, err := fs.pool.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer fs.pool.Release(id)
	return fn(fs.manager(backend))
}

// Stats returns the connection pool counters.
func (fs *FileSystem) Stats() types.PoolStats {
	return fs.pool.Stats()
}

func (fs *FileSystem) manager(backend types.Backend) *checksum.Manager {
	return checksum.NewManager(backend, fs.opts.Checksum)
}
