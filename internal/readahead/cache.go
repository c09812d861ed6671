// Package readahead turns small positioned reads into large ones.
//
// A Cache keeps one resident window per open file. Each ReadAt is classified
// against the window:
//
//   - bypass: the request is larger than the window and goes straight to the
//     source
//   - hit: the request lies inside the window
//   - partial hit: the request starts inside the window and runs past it; the
//     resident prefix is copied and the window is refilled from its end
//   - miss: the window is refilled at the request offset
//
// A refill always asks the source for a full window and loops over short
// reads until the window is full or the source reports end of stream.
package readahead

import (
	"io"
	"sync"

	"github.com/objectfs/streamfs/internal/buffer"
	"github.com/objectfs/streamfs/pkg/errors"
	"github.com/objectfs/streamfs/pkg/retry"
	"github.com/objectfs/streamfs/pkg/types"
)

// DefaultCapacity is the window size used when Options.Capacity is zero.
const DefaultCapacity = 32 << 10

// Options configure a Cache.
type Options struct {
	Capacity int
	Pool     *buffer.BytePool
}

// Cache is a single-window read-ahead cache over a positioned-read source.
// It is safe for concurrent use; all reads on one Cache are serialized.
type Cache struct {
	mu sync.Mutex

	src      io.ReaderAt
	pool     *buffer.BytePool
	capacity int

	buf    []byte // nil until the first refill
	start  int64
	length int

	stats  types.ReadAheadStats
	closed bool
}

// New creates a cache over src.
func New(src io.ReaderAt, opts Options) *Cache {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Pool == nil {
		opts.Pool = buffer.Default()
	}
	return &Cache{src: src, pool: opts.Pool, capacity: opts.Capacity}
}

// Capacity is the window size in bytes.
func (c *Cache) Capacity() int { return c.capacity }

// ReadAt reads len(p) bytes at off. At end of stream it returns the bytes
// available together with io.EOF.
func (c *Cache) ReadAt(p []byte, off int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, errors.NewError(errors.ErrCodeClosed, "read-ahead cache closed").
			WithComponent("readahead").WithOperation("read")
	}
	if off < 0 {
		return 0, errors.NewError(errors.ErrCodeInvalidState, "negative offset").
			WithComponent("readahead").WithOperation("read")
	}
	if len(p) == 0 {
		return 0, nil
	}

	if len(p) > c.capacity {
		c.stats.Bypassed++
		return c.fill(p, off)
	}

	end := off + int64(len(p))
	winEnd := c.start + int64(c.length)
	if off >= c.start && end <= winEnd {
		n := copy(p, c.buf[off-c.start:c.length])
		c.stats.Hits++
		c.stats.BytesUsed += uint64(n)
		return n, nil
	}

	copied := 0
	if off >= c.start && off < winEnd {
		copied = copy(p, c.buf[off-c.start:c.length])
		c.stats.PartialHits++
		c.stats.BytesUsed += uint64(copied)
		off += int64(copied)
	} else {
		c.stats.Misses++
	}

	if err := c.refill(off); err != nil {
		return copied, err
	}

	n := copy(p[copied:], c.buf[:c.length])
	c.stats.BytesLoaded += uint64(c.length - n)
	copied += n
	if copied < len(p) {
		return copied, io.EOF
	}
	return copied, nil
}

// refill loads the window starting at off. On error the window is left
// empty.
func (c *Cache) refill(off int64) error {
	if c.buf == nil {
		c.buf = c.pool.Get(c.capacity)
	}
	c.start = off
	c.length = 0

	n, err := c.fill(c.buf, off)
	if err != nil && err != io.EOF {
		return err
	}
	c.length = n
	return nil
}

// fill reads into p at off until p is full, the source reports end of
// stream, or a hard error occurs. Interrupted reads are retried. Errors that
// already carry a code are returned as is.
func (c *Cache) fill(p []byte, off int64) (int, error) {
	got := 0
	for got < len(p) {
		n, err := retry.ReadAt(c.src, p[got:], off+int64(got))
		got += n
		if err == io.EOF || (err == nil && n == 0) {
			if got == len(p) {
				return got, nil
			}
			return got, io.EOF
		}
		if err != nil {
			if errors.CodeOf(err) != "" {
				return got, err
			}
			return got, errors.Wrap(errors.ErrCodeBackendIO, err, "read failed").
				WithComponent("readahead").WithOperation("refill")
		}
	}
	return got, nil
}

// Stats returns the current counters.
func (c *Cache) Stats() types.ReadAheadStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Close releases the window and returns the final counters. Later reads
// fail; a second Close returns the same counters.
func (c *Cache) Close() types.ReadAheadStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		if c.buf != nil {
			c.pool.Put(c.buf)
			c.buf = nil
		}
		c.length = 0
	}
	return c.stats
}
