// Package pool shares backend connections between open files of the same
// identity.
package pool

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/objectfs/streamfs/pkg/errors"
	"github.com/objectfs/streamfs/pkg/retry"
	"github.com/objectfs/streamfs/pkg/types"
)

// EvictionPolicy decides when an unreferenced connection is closed.
type EvictionPolicy interface {
	Evict(idleSince, now time.Time) bool
}

type keepForever struct{}

func (keepForever) Evict(time.Time, time.Time) bool { return false }

// KeepForever never evicts: a connection lives until the pool is closed.
func KeepForever() EvictionPolicy { return keepForever{} }

type idleTimeout time.Duration

func (d idleTimeout) Evict(idleSince, now time.Time) bool {
	return now.Sub(idleSince) >= time.Duration(d)
}

// IdleTimeout evicts connections unreferenced for at least d.
func IdleTimeout(d time.Duration) EvictionPolicy { return idleTimeout(d) }

// Options configure a Pool.
type Options struct {
	Policy EvictionPolicy
	Retry  retry.Config
	Logger *slog.Logger

	// SweepInterval runs Sweep periodically when positive.
	SweepInterval time.Duration

	// Now is the clock; tests replace it.
	Now func() time.Time
}

type entry struct {
	backend   types.Backend
	refs      int
	idleSince time.Time
}

// Pool holds at most one backend per identity.
type Pool struct {
	mu      sync.Mutex
	factory types.BackendFactory
	entries map[types.Identity]*entry
	policy  EvictionPolicy
	retryer *retry.Retryer
	logger  *slog.Logger
	now     func() time.Time
	closed  bool

	acquired uint64
	created  uint64
	evicted  uint64

	stopCh  chan struct{}
	stopped chan struct{}
}

// New creates a pool that opens connections with factory.
func New(factory types.BackendFactory, opts Options) *Pool {
	if opts.Policy == nil {
		opts.Policy = KeepForever()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Retry.MaxAttempts == 0 && len(opts.Retry.RetryableErrors) == 0 {
		opts.Retry = retry.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	p := &Pool{
		factory: factory,
		entries: make(map[types.Identity]*entry),
		policy:  opts.Policy,
		retryer: retry.New(opts.Retry),
		logger:  opts.Logger.With("component", "pool"),
		now:     opts.Now,
	}
	if opts.SweepInterval > 0 {
		p.stopCh = make(chan struct{})
		p.stopped = make(chan struct{})
		go p.sweepLoop(opts.SweepInterval)
	}
	return p
}

// Acquire returns the backend for id, opening one if needed. Every Acquire
// must be paired with a Release.
func (p *Pool) Acquire(ctx context.Context, id types.Identity) (types.Backend, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.NewError(errors.ErrCodeClosed, "pool closed").WithComponent("pool")
	}
	if e, ok := p.entries[id]; ok {
		e.refs++
		p.acquired++
		p.mu.Unlock()
		return e.backend, nil
	}
	p.mu.Unlock()

	var backend types.Backend
	err := p.retryer.Do(ctx, func(ctx context.Context) error {
		b, err := p.factory(ctx, id)
		if err != nil {
			if errors.CodeOf(err) == "" {
				return errors.Wrap(errors.ErrCodeConnectionFailed, err, "connect failed").
					WithComponent("pool").WithContext("identity", id.String())
			}
			return err
		}
		backend = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		closeBackend(backend)
		return nil, errors.NewError(errors.ErrCodeClosed, "pool closed").WithComponent("pool")
	}
	if e, ok := p.entries[id]; ok {
		// lost a race with another Acquire for the same identity
		closeBackend(backend)
		e.refs++
		p.acquired++
		return e.backend, nil
	}
	p.entries[id] = &entry{backend: backend, refs: 1}
	p.acquired++
	p.created++
	p.logger.Debug("Opened backend connection", "identity", id.String())
	return backend, nil
}

// Release drops one reference to the backend of id.
func (p *Pool) Release(id types.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[id]
	if !ok || e.refs == 0 {
		return
	}
	e.refs--
	if e.refs == 0 {
		e.idleSince = p.now()
	}
}

// Sweep closes unreferenced connections the policy evicts and returns how
// many were closed.
func (p *Pool) Sweep() int {
	p.mu.Lock()
	var victims []types.Backend
	now := p.now()
	for id, e := range p.entries {
		if e.refs == 0 && p.policy.Evict(e.idleSince, now) {
			victims = append(victims, e.backend)
			delete(p.entries, id)
			p.logger.Debug("Evicting idle backend connection", "identity", id.String())
		}
	}
	p.evicted += uint64(len(victims))
	p.mu.Unlock()

	for _, b := range victims {
		closeBackend(b)
	}
	return len(victims)
}

func (p *Pool) sweepLoop(interval time.Duration) {
	defer close(p.stopped)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Sweep()
		case <-p.stopCh:
			return
		}
	}
}

// Stats returns current pool statistics.
func (p *Pool) Stats() types.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := types.PoolStats{
		Open:     len(p.entries),
		Acquired: p.acquired,
		Created:  p.created,
		Evicted:  p.evicted,
	}
	for _, e := range p.entries {
		if e.refs > 0 {
			st.InUse++
		} else {
			st.Idle++
		}
	}
	if d, ok := p.policy.(idleTimeout); ok {
		st.IdleTimeout = time.Duration(d)
	}
	return st
}

// Close closes every connection, referenced or not.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	entries := p.entries
	p.entries = make(map[types.Identity]*entry)
	p.mu.Unlock()

	if p.stopCh != nil {
		close(p.stopCh)
		<-p.stopped
	}
	for _, e := range entries {
		closeBackend(e.backend)
	}
	return nil
}

func closeBackend(b types.Backend) {
	if c, ok := b.(io.Closer); ok {
		_ = c.Close()
	}
}
