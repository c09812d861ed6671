package checksum

import (
	"github.com/objectfs/streamfs/pkg/errors"
)

// Accumulator feeds a byte stream through a set of digests. It is not safe
// for concurrent use; the owning handle serializes writes.
type Accumulator struct {
	digests   map[Algorithm]digest
	size      int64
	finalized bool
}

// NewAccumulator creates an accumulator for algs using DefaultChunkSize.
// Duplicate algorithms are ignored.
func NewAccumulator(algs ...Algorithm) *Accumulator {
	return NewChunkedAccumulator(DefaultChunkSize, algs...)
}

// NewChunkedAccumulator is NewAccumulator with an explicit CVMFS chunk size.
func NewChunkedAccumulator(chunkSize int64, algs ...Algorithm) *Accumulator {
	a := &Accumulator{digests: make(map[Algorithm]digest, len(algs))}
	for _, alg := range algs {
		if _, ok := a.digests[alg]; ok {
			continue
		}
		if d := newDigest(alg, chunkSize); d != nil {
			a.digests[alg] = d
		}
	}
	return a
}

// Enabled reports whether alg is being accumulated.
func (a *Accumulator) Enabled(alg Algorithm) bool {
	_, ok := a.digests[alg]
	return ok
}

// Size is the number of bytes consumed so far.
func (a *Accumulator) Size() int64 { return a.size }

// Update consumes p. Spans of any length, including zero, are accepted.
func (a *Accumulator) Update(p []byte) error {
	if a.finalized {
		return errors.NewError(errors.ErrCodeInvalidState, "update after finalize").
			WithComponent("checksum").WithOperation("update")
	}
	if len(p) == 0 {
		return nil
	}
	a.size += int64(len(p))
	for _, d := range a.digests {
		d.update(p)
	}
	return nil
}

// Write implements io.Writer so an Accumulator can sit behind io.Copy.
func (a *Accumulator) Write(p []byte) (int, error) {
	if err := a.Update(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Finalize closes every digest. It may be called once.
func (a *Accumulator) Finalize() (*Result, error) {
	if a.finalized {
		return nil, errors.NewError(errors.ErrCodeInvalidState, "already finalized").
			WithComponent("checksum").WithOperation("finalize")
	}
	a.finalized = true

	res := &Result{Size: a.size, Digests: make(map[Algorithm]string, len(a.digests))}
	for alg, d := range a.digests {
		res.Digests[alg] = d.sum()
		if cv, ok := d.(*cvmfsDigest); ok {
			res.Chunks = cv.content
		}
	}
	return res, nil
}

// Result holds finalized digests.
type Result struct {
	Size    int64
	Digests map[Algorithm]string
	// Chunks are the CVMFS content chunks, empty when the stream fit in one.
	Chunks []Chunk
}

// Get returns the digest for alg.
func (r *Result) Get(alg Algorithm) (string, bool) {
	v, ok := r.Digests[alg]
	return v, ok
}

// Records returns one record per digest in canonical order.
func (r *Result) Records() []Record {
	out := make([]Record, 0, len(r.Digests))
	for _, alg := range canonical {
		if v, ok := r.Digests[alg]; ok && v != "" {
			out = append(out, Record{Name: alg.String(), Value: v})
		}
	}
	return out
}
