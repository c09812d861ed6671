package checksum

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"hash"
	"hash/adler32"
	"hash/crc32"
	"strconv"
	"strings"
)

// digest is one live algorithm inside an Accumulator.
type digest interface {
	update(p []byte)
	// sum renders the final value. It is called once.
	sum() string
}

// hashDigest adapts a standard hash; hash.Hash32 sums are big-endian, which
// is the rendering every numeric digest uses.
type hashDigest struct {
	h hash.Hash
}

func (d *hashDigest) update(p []byte) { _, _ = d.h.Write(p) }
func (d *hashDigest) sum() string     { return hex.EncodeToString(d.h.Sum(nil)) }

func newDigest(alg Algorithm, chunkSize int64) digest {
	switch alg {
	case MD5:
		return &hashDigest{h: md5.New()}
	case CKSUM:
		return &hashDigest{h: newCksum()}
	case ADLER32:
		return &hashDigest{h: adler32.New()}
	case CRC32:
		return &hashDigest{h: crc32.NewIEEE()}
	case CVMFS:
		return newCVMFSDigest(chunkSize)
	}
	return nil
}

// cksumTable is the CRC table of the POSIX cksum utility (polynomial
// 0x04c11db7, most significant bit first).
var cksumTable = func() (t [256]uint32) {
	for i := range t {
		c := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if c&0x80000000 != 0 {
				c = c<<1 ^ 0x04c11db7
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}()

// cksum runs the POSIX CRC over the data only: the length is not folded in
// and the result is not complemented, so values differ from cksum(1).
type cksum struct {
	crc uint32
}

func newCksum() hash.Hash32 { return &cksum{} }

func (c *cksum) Write(p []byte) (int, error) {
	crc := c.crc
	for _, b := range p {
		crc = crc<<8 ^ cksumTable[byte(crc>>24)^b]
	}
	c.crc = crc
	return len(p), nil
}

func (c *cksum) Sum32() uint32  { return c.crc }
func (c *cksum) Reset()         { c.crc = 0 }
func (c *cksum) Size() int      { return 4 }
func (c *cksum) BlockSize() int { return 1 }

func (c *cksum) Sum(in []byte) []byte {
	s := c.crc
	return append(in, byte(s>>24), byte(s>>16), byte(s>>8), byte(s))
}

// cvmfsDigest hashes the whole stream and each content chunk.
type cvmfsDigest struct {
	file    hash.Hash
	chunks  *ChunkTracker
	size    int64
	content []Chunk
}

func newCVMFSDigest(chunkSize int64) *cvmfsDigest {
	return &cvmfsDigest{file: sha1.New(), chunks: NewChunkTracker(chunkSize)}
}

func (d *cvmfsDigest) update(p []byte) {
	_, _ = d.file.Write(p)
	d.size += int64(len(p))
	d.chunks.Write(p)
}

func (d *cvmfsDigest) sum() string {
	d.content = d.chunks.Finish()
	return Descriptor(d.size, hex.EncodeToString(d.file.Sum(nil)), d.content)
}

// Descriptor renders the CVMFS record value. With fewer than two chunks the
// lists collapse to a single chunk at offset 0 carrying the file digest.
func Descriptor(size int64, fileSum string, chunks []Chunk) string {
	var b strings.Builder
	b.WriteString("size=")
	b.WriteString(strconv.FormatInt(size, 10))
	b.WriteString(";checksum=")
	b.WriteString(fileSum)
	if len(chunks) < 2 {
		b.WriteString(";chunk_offsets=0;chunk_checksums=")
		b.WriteString(fileSum)
		return b.String()
	}
	b.WriteString(";chunk_offsets=")
	for i, c := range chunks {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(c.Offset, 10))
	}
	b.WriteString(";chunk_checksums=")
	for i, c := range chunks {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(c.Sum)
	}
	return b.String()
}
