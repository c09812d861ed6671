package types

import "time"

// ReadAheadStats are the counters of one read-ahead window, reported when the
// owning handle closes.
type ReadAheadStats struct {
	Hits        uint64 `json:"hits"`
	PartialHits uint64 `json:"partial_hits"`
	Misses      uint64 `json:"misses"`
	Bypassed    uint64 `json:"bypassed"`
	// BytesUsed counts bytes served out of an already resident window.
	BytesUsed uint64 `json:"bytes_used"`
	// BytesLoaded counts bytes a refill read beyond the request that
	// triggered it, which is the speculative part of every refill.
	BytesLoaded uint64 `json:"bytes_loaded"`
}

// UsedPercent is BytesUsed as a share of BytesLoaded.
func (s ReadAheadStats) UsedPercent() float64 {
	if s.BytesLoaded == 0 {
		return 0
	}
	return float64(s.BytesUsed) * 100 / float64(s.BytesLoaded)
}

// BytesWasted estimates loaded bytes that never reached a caller.
func (s ReadAheadStats) BytesWasted() uint64 {
	if s.BytesUsed >= s.BytesLoaded {
		return 0
	}
	return s.BytesLoaded - s.BytesUsed
}

// Add merges o into s.
func (s *ReadAheadStats) Add(o ReadAheadStats) {
	s.Hits += o.Hits
	s.PartialHits += o.PartialHits
	s.Misses += o.Misses
	s.Bypassed += o.Bypassed
	s.BytesUsed += o.BytesUsed
	s.BytesLoaded += o.BytesLoaded
}

// PoolStats describes the backend connection pool.
type PoolStats struct {
	Open        int           `json:"open"`
	InUse       int           `json:"in_use"`
	Idle        int           `json:"idle"`
	Acquired    uint64        `json:"acquired"`
	Created     uint64        `json:"created"`
	Evicted     uint64        `json:"evicted"`
	IdleTimeout time.Duration `json:"idle_timeout"`
}
