// Package circuit stops hammering a failing backend. A Breaker counts
// consecutive backend failures; past a threshold it rejects calls outright
// until a timeout passes, then lets a trial request through to decide
// whether the backend recovered.
package circuit

import (
	"sync"
	"time"

	"github.com/objectfs/streamfs/pkg/errors"
	"github.com/objectfs/streamfs/pkg/retry"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed - requests pass through
	StateClosed State = iota
	// StateOpen - requests are rejected
	StateOpen
	// StateHalfOpen - a limited number of trial requests test whether the backend recovered
	StateHalfOpen
)

// String returns string representation of state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config contains circuit breaker configuration
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips the
	// breaker.
	FailureThreshold uint32 `yaml:"failure_threshold"`

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRequests is the number of trial requests allowed while half-open.
	MaxRequests uint32 `yaml:"max_requests"`

	// OnStateChange is called with the breaker lock held.
	OnStateChange func(name string, from, to State) `yaml:"-"`

	// Now is the clock; tests replace it.
	Now func() time.Time `yaml:"-"`
}

// Counts holds the numbers of requests and their outcomes in the current
// state.
type Counts struct {
	Requests             uint32 `json:"requests"`
	TotalFailures        uint32 `json:"total_failures"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
	ConsecutiveFailures  uint32 `json:"consecutive_failures"`
}

// Breaker implements the circuit breaker pattern
type Breaker struct {
	name   string
	config Config

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// New creates a closed breaker.
func New(name string, config Config) *Breaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Breaker{name: name, config: config}
}

// Execute runs fn unless the breaker rejects it. Rejections are
// CONNECTION_FAILED errors and do not reach fn.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.beforeRequest(); err != nil {
		return err
	}
	err := fn()
	b.afterRequest(err)
	return err
}

// IsFailure reports whether err says something about backend health.
// Missing paths, state errors and interrupts are answers from a healthy
// backend and do not count.
func IsFailure(err error) bool {
	if err == nil || retry.Interrupted(err) {
		return false
	}
	switch errors.CodeOf(err) {
	case "", errors.ErrCodeBackendIO, errors.ErrCodeConnectionFailed:
		return true
	default:
		return false
	}
}

func (b *Breaker) beforeRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case StateOpen:
		return errors.NewError(errors.ErrCodeConnectionFailed, "circuit breaker is open").
			WithComponent("circuit").WithContext("breaker", b.name)
	case StateHalfOpen:
		if b.counts.Requests >= b.config.MaxRequests {
			return errors.NewError(errors.ErrCodeConnectionFailed, "too many requests in half-open state").
				WithComponent("circuit").WithContext("breaker", b.name)
		}
	}
	b.counts.Requests++
	return nil
}

func (b *Breaker) afterRequest(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.currentState()
	if !IsFailure(err) {
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
		if state == StateHalfOpen {
			b.setState(StateClosed)
		}
		return
	}

	b.counts.TotalFailures++
	b.counts.ConsecutiveFailures++
	b.counts.ConsecutiveSuccesses = 0
	switch state {
	case StateClosed:
		if b.counts.ConsecutiveFailures >= b.config.FailureThreshold {
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.setState(StateOpen)
	}
}

// currentState moves an expired open breaker to half-open. Caller holds b.mu.
func (b *Breaker) currentState() State {
	if b.state == StateOpen && !b.config.Now().Before(b.expiry) {
		b.setState(StateHalfOpen)
	}
	return b.state
}

func (b *Breaker) setState(state State) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state
	b.counts = Counts{}
	if state == StateOpen {
		b.expiry = b.config.Now().Add(b.config.Timeout)
	}
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, prev, state)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// Counts returns a copy of the current counts.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts = Counts{}
	b.setState(StateClosed)
}

// Name returns the name of the circuit breaker
func (b *Breaker) Name() string { return b.name }
