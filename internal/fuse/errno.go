package fuse

import (
	"syscall"

	"github.com/objectfs/streamfs/pkg/errors"
)

// ToErrno converts a gateway error into the errno reported to the kernel.
func ToErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound:
		return syscall.ENOENT
	case errors.ErrCodeOutOfOrderWrite, errors.ErrCodeUnsupported:
		return syscall.ENOTSUP
	case errors.ErrCodeTooLarge:
		return syscall.EDOM
	}
	if errno := errors.ErrnoOf(err); errno != 0 {
		return errno
	}
	return syscall.EIO
}
