package retry

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/objectfs/streamfs/pkg/errors"
	"golang.org/x/sys/unix"
)

func TestRetryer_Success(t *testing.T) {
	retryer := New(DefaultConfig())

	attempts := 0
	err := retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_RetryableError(t *testing.T) {
	config := DefaultConfig()
	config.InitialDelay = time.Millisecond
	config.Jitter = false
	retryer := New(config)

	attempts := 0
	err := retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.NewError(errors.ErrCodeConnectionFailed, "dial failed")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryer_NonRetryableError(t *testing.T) {
	retryer := New(DefaultConfig())

	attempts := 0
	err := retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		return errors.NewError(errors.ErrCodeNotFound, "missing")
	})

	if !errors.HasCode(err, errors.ErrCodeNotFound) {
		t.Errorf("Expected NOT_FOUND, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_MaxAttemptsExceeded(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 2
	config.InitialDelay = time.Millisecond
	retryer := New(config)

	attempts := 0
	err := retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		return errors.NewError(errors.ErrCodeConnectionFailed, "dial failed")
	})

	if err == nil {
		t.Fatal("Expected error")
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
	if !errors.HasCode(err, errors.ErrCodeConnectionFailed) {
		t.Errorf("cause lost: %v", err)
	}
}

func TestRetryer_ContextCancellation(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 10
	config.InitialDelay = time.Second
	retryer := New(config)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := retryer.Do(ctx, func(context.Context) error {
		attempts++
		cancel()
		return errors.NewError(errors.ErrCodeConnectionFailed, "dial failed")
	})

	if err == nil {
		t.Fatal("Expected cancellation error")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_OnRetryCallback(t *testing.T) {
	config := DefaultConfig()
	config.InitialDelay = time.Millisecond
	config.Jitter = false

	var delays []time.Duration
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		delays = append(delays, delay)
	}
	retryer := New(config)

	_ = retryer.Do(context.Background(), func(context.Context) error {
		return errors.NewError(errors.ErrCodeConnectionFailed, "dial failed")
	})

	if len(delays) != 2 {
		t.Fatalf("Expected 2 callbacks, got %d", len(delays))
	}
	if delays[1] != 2*delays[0] {
		t.Errorf("Expected exponential delays, got %v", delays)
	}
}

func TestRetryer_MaxDelayCap(t *testing.T) {
	retryer := New(Config{
		InitialDelay: time.Second,
		MaxDelay:     2 * time.Second,
		Multiplier:   10,
	})
	if d := retryer.calculateDelay(4); d != 2*time.Second {
		t.Errorf("Expected capped delay, got %v", d)
	}
}

type flakyReader struct {
	data       []byte
	interrupts int
	calls      int
}

func (r *flakyReader) ReadAt(p []byte, off int64) (int, error) {
	r.calls++
	if r.interrupts > 0 {
		r.interrupts--
		return 0, fmt.Errorf("pread: %w", unix.EINTR)
	}
	if off >= int64(len(r.data)) {
		return 0, io.EOF
	}
	return copy(p, r.data[off:]), nil
}

func TestInterrupted(t *testing.T) {
	if !Interrupted(unix.EINTR) {
		t.Error("bare EINTR not detected")
	}
	if !Interrupted(errors.Wrap(errors.ErrCodeBackendIO, fmt.Errorf("x: %w", unix.EINTR), "read")) {
		t.Error("wrapped EINTR not detected")
	}
	if Interrupted(unix.EIO) || Interrupted(nil) {
		t.Error("false positive")
	}
}

func TestReadAt_RetriesInterrupts(t *testing.T) {
	r := &flakyReader{data: []byte("hello"), interrupts: 3}
	buf := make([]byte, 5)

	n, err := ReadAt(r, buf, 0)
	if err != nil || n != 5 || string(buf) != "hello" {
		t.Errorf("ReadAt = %d, %v, %q", n, err, buf)
	}
	if r.calls != 4 {
		t.Errorf("Expected 4 calls, got %d", r.calls)
	}
}

type chunkyWriter struct {
	got        []byte
	max        int
	interrupts int
	fail       error
}

func (w *chunkyWriter) Write(p []byte) (int, error) {
	if w.interrupts > 0 {
		w.interrupts--
		return 0, unix.EINTR
	}
	if w.fail != nil {
		return 0, w.fail
	}
	if len(p) > w.max {
		p = p[:w.max]
	}
	w.got = append(w.got, p...)
	return len(p), nil
}

func TestWriteFull(t *testing.T) {
	w := &chunkyWriter{max: 3, interrupts: 2}
	n, err := WriteFull(w, []byte("ADLER32:00000001"))
	if err != nil || n != 16 {
		t.Fatalf("WriteFull = %d, %v", n, err)
	}
	if string(w.got) != "ADLER32:00000001" {
		t.Errorf("got %q", w.got)
	}

	failing := &chunkyWriter{max: 3, fail: unix.ENOSPC}
	if _, err := WriteFull(failing, []byte("x")); err != unix.ENOSPC {
		t.Errorf("Expected ENOSPC, got %v", err)
	}
}
