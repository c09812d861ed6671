// Package buffer pools the byte slices used by read-ahead windows and
// checksum streaming.
package buffer

import (
	"sort"
	"sync"
	"sync/atomic"
)

// DefaultSizes are the bucket sizes of a BytePool created without explicit
// sizes.
var DefaultSizes = []int{
	4 << 10,   // 4KiB
	32 << 10,  // 32KiB, default read-ahead window
	64 << 10,  // 64KiB
	256 << 10, // 256KiB, checksum calc reads
	1 << 20,   // 1MiB
	4 << 20,   // 4MiB
}

// BytePool hands out byte slices from size buckets. Requests larger than the
// biggest bucket are allocated directly and dropped on Put.
type BytePool struct {
	sizes []int
	pools map[int]*sync.Pool

	gets   atomic.Uint64
	puts   atomic.Uint64
	allocs atomic.Uint64
}

// NewBytePool creates a pool with the given bucket sizes, or DefaultSizes.
func NewBytePool(sizes ...int) *BytePool {
	if len(sizes) == 0 {
		sizes = DefaultSizes
	}
	sorted := append([]int(nil), sizes...)
	sort.Ints(sorted)

	p := &BytePool{sizes: sorted, pools: make(map[int]*sync.Pool, len(sorted))}
	for _, size := range sorted {
		size := size
		p.pools[size] = &sync.Pool{
			New: func() any {
				p.allocs.Add(1)
				buf := make([]byte, size)
				return &buf
			},
		}
	}
	return p
}

// Get returns a slice of length size. Its contents are undefined.
func (p *BytePool) Get(size int) []byte {
	p.gets.Add(1)
	for _, bucket := range p.sizes {
		if bucket >= size {
			buf := p.pools[bucket].Get().(*[]byte)
			return (*buf)[:size]
		}
	}
	p.allocs.Add(1)
	return make([]byte, size)
}

// Put returns buf to its bucket. Slices whose capacity matches no bucket are
// left to the garbage collector.
func (p *BytePool) Put(buf []byte) {
	if buf == nil {
		return
	}
	pool, ok := p.pools[cap(buf)]
	if !ok {
		return
	}
	p.puts.Add(1)
	buf = buf[:cap(buf)]
	pool.Put(&buf)
}

// PoolStats reports pool usage.
type PoolStats struct {
	BucketSizes []int  `json:"bucket_sizes"`
	Gets        uint64 `json:"gets"`
	Puts        uint64 `json:"puts"`
	Allocs      uint64 `json:"allocs"`
}

// Stats returns current pool statistics.
func (p *BytePool) Stats() PoolStats {
	return PoolStats{
		BucketSizes: append([]int(nil), p.sizes...),
		Gets:        p.gets.Load(),
		Puts:        p.puts.Load(),
		Allocs:      p.allocs.Load(),
	}
}

var defaultPool = NewBytePool()

// Default returns the process-wide pool.
func Default() *BytePool { return defaultPool }
