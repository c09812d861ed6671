package circuit

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/objectfs/streamfs/internal/storage/memory"
	"github.com/objectfs/streamfs/pkg/errors"
	"github.com/objectfs/streamfs/pkg/types"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(threshold uint32) (*Breaker, *fakeClock, *[]string) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	var transitions []string
	b := New("test", Config{
		FailureThreshold: threshold,
		Timeout:          time.Minute,
		Now:              clock.Now,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, fmt.Sprintf("%s:%s->%s", name, from, to))
		},
	})
	return b, clock, &transitions
}

var errBackend = errors.NewError(errors.ErrCodeBackendIO, "disk on fire")

func fail() error { return errBackend }
func ok() error   { return nil }

func TestState_String(t *testing.T) {
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "HALF_OPEN", StateHalfOpen.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}

func TestNew_Defaults(t *testing.T) {
	b := New("defaults", Config{})
	assert.Equal(t, uint32(5), b.config.FailureThreshold)
	assert.Equal(t, 60*time.Second, b.config.Timeout)
	assert.Equal(t, uint32(1), b.config.MaxRequests)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "defaults", b.Name())
}

func TestIsFailure(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{unix.EINTR, false},
		{fmt.Errorf("read: %w", unix.EINTR), false},
		{errors.NewError(errors.ErrCodeNotFound, "gone"), false},
		{errors.NewError(errors.ErrCodeOutOfOrderWrite, "seek"), false},
		{errors.NewError(errors.ErrCodeBackendIO, "io"), true},
		{errors.NewError(errors.ErrCodeConnectionFailed, "conn"), true},
		{stderrors.New("raw"), true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsFailure(tt.err), "%v", tt.err)
	}
}

func TestBreaker_TripsAndRecovers(t *testing.T) {
	b, clock, transitions := newTestBreaker(3)

	require.NoError(t, b.Execute(ok))
	for i := 0; i < 2; i++ {
		assert.Equal(t, errBackend, b.Execute(fail))
	}
	assert.Equal(t, StateClosed, b.State(), "below threshold")

	// a success resets the consecutive count
	require.NoError(t, b.Execute(ok))
	for i := 0; i < 3; i++ {
		_ = b.Execute(fail)
	}
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(func() error { called = true; return nil })
	assert.False(t, called, "open breaker rejects without calling")
	assert.True(t, errors.HasCode(err, errors.ErrCodeConnectionFailed))

	clock.Advance(time.Minute)
	assert.Equal(t, StateHalfOpen, b.State())

	// one trial request allowed; a second concurrent one is rejected
	err = b.Execute(func() error {
		inner := b.Execute(ok)
		assert.True(t, errors.HasCode(inner, errors.ErrCodeConnectionFailed))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())

	assert.Equal(t, []string{
		"test:CLOSED->OPEN",
		"test:OPEN->HALF_OPEN",
		"test:HALF_OPEN->CLOSED",
	}, *transitions)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock, _ := newTestBreaker(1)

	_ = b.Execute(fail)
	require.Equal(t, StateOpen, b.State())
	clock.Advance(time.Minute)

	_ = b.Execute(fail)
	assert.Equal(t, StateOpen, b.State())

	clock.Advance(30 * time.Second)
	assert.Equal(t, StateOpen, b.State(), "timeout restarts on reopen")
}

func TestBreaker_HealthyAnswersDoNotTrip(t *testing.T) {
	b, _, _ := newTestBreaker(2)
	notFound := errors.NewError(errors.ErrCodeNotFound, "no such file")

	for i := 0; i < 10; i++ {
		assert.Equal(t, notFound, b.Execute(func() error { return notFound }))
	}
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.Counts().TotalFailures)
}

func TestBreaker_Reset(t *testing.T) {
	b, _, _ := newTestBreaker(1)
	_ = b.Execute(fail)
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, Counts{}, b.Counts())
}

func TestGuard_Backend(t *testing.T) {
	mem := memory.New()
	mem.Put("/f", []byte("0123456789"))
	b, clock, _ := newTestBreaker(2)
	g := Guard(mem, b)
	ctx := context.Background()

	f, err := g.Open(ctx, "/f", types.ReadOnly)
	require.NoError(t, err)
	p := make([]byte, 4)
	n, err := f.ReadAt(p, 8)
	assert.Equal(t, io.EOF, err, "EOF passes through")
	assert.Equal(t, 2, n)
	size, err := f.(types.Stater).Size()
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)

	_, err = g.Open(ctx, "/missing", types.ReadOnly)
	assert.True(t, errors.IsNotFound(err))
	assert.Equal(t, StateClosed, b.State(), "EOF and NOT_FOUND are healthy")

	mem.Fail("/f", stderrors.New("connection reset"))
	for i := 0; i < 2; i++ {
		_, err = f.ReadAt(p, 0)
		require.Error(t, err)
	}
	assert.Equal(t, StateOpen, b.State())

	err = g.Unlink(ctx, "/other")
	assert.True(t, errors.HasCode(err, errors.ErrCodeConnectionFailed))
	assert.Equal(t, 0, mem.Stats().Unlinks, "rejected before reaching the backend")

	require.NoError(t, f.Close(), "close is never rejected")

	mem.Fail("/f", nil)
	clock.Advance(time.Minute)
	w, err := g.Open(ctx, "/new", types.WriteOnly|types.Create)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
	_, err = w.Write([]byte("ok"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, g.(io.Closer).Close())
}
