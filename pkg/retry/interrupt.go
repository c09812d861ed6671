package retry

import (
	stderr "errors"
	"io"

	"golang.org/x/sys/unix"
)

// Interrupted reports whether err is an interrupted system call.
func Interrupted(err error) bool {
	return err != nil && stderr.Is(err, unix.EINTR)
}

// ReadAt calls r.ReadAt until it returns something other than an interrupt.
// An interrupted attempt is discarded and repeated with the same arguments.
func ReadAt(r interface {
	ReadAt(p []byte, off int64) (int, error)
}, p []byte, off int64) (int, error) {
	for {
		n, err := r.ReadAt(p, off)
		if Interrupted(err) {
			continue
		}
		return n, err
	}
}

// WriteFull writes all of p to w, retrying interrupted writes and short
// writes. It returns the number of bytes written before a hard error.
func WriteFull(w interface {
	Write(p []byte) (int, error)
}, p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := w.Write(p[written:])
		if n > 0 {
			written += n
		}
		if err != nil {
			if Interrupted(err) {
				continue
			}
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}
