package checksum

import (
	"crypto/sha1"
	"encoding/hex"
	"hash"
)

// DefaultChunkSize is the CVMFS content chunk size.
const DefaultChunkSize = 24 << 20

// Chunk is one content chunk of a CVMFS descriptor.
type Chunk struct {
	Offset int64
	Sum    string
}

// ChunkTracker splits a byte stream into fixed-size chunks from stream
// start, independent of how the stream is partitioned into writes.
type ChunkTracker struct {
	size   int64
	h      hash.Hash
	filled int64 // bytes in the current chunk
	next   int64 // offset of the current chunk
	chunks []Chunk
}

// NewChunkTracker creates a tracker; size <= 0 selects DefaultChunkSize.
func NewChunkTracker(size int64) *ChunkTracker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &ChunkTracker{size: size, h: sha1.New()}
}

// Write feeds p to the tracker, closing every chunk it completes.
func (t *ChunkTracker) Write(p []byte) {
	for len(p) > 0 {
		room := t.size - t.filled
		n := int64(len(p))
		if n > room {
			n = room
		}
		_, _ = t.h.Write(p[:n])
		t.filled += n
		p = p[n:]
		if t.filled == t.size {
			t.push()
		}
	}
}

func (t *ChunkTracker) push() {
	t.chunks = append(t.chunks, Chunk{Offset: t.next, Sum: hex.EncodeToString(t.h.Sum(nil))})
	t.next += t.filled
	t.filled = 0
	t.h.Reset()
}

// Finish closes the trailing partial chunk, when it is non-empty and not the
// first chunk, and returns all chunks in offset order.
func (t *ChunkTracker) Finish() []Chunk {
	if t.filled > 0 && t.next != 0 {
		t.push()
	}
	return t.chunks
}
