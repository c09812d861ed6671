// Package local serves a directory tree as a byte-stream backend.
package local

import (
	"context"
	stderr "errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/objectfs/streamfs/pkg/errors"
	"github.com/objectfs/streamfs/pkg/types"
	"github.com/objectfs/streamfs/pkg/utils"
)

// Backend maps gateway paths below Root.
type Backend struct {
	root string
	perm fs.FileMode
}

var _ types.Backend = (*Backend)(nil)

// New creates a backend rooted at root, which must be an existing directory.
func New(root string) (*Backend, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "local root unavailable").
			WithComponent("local").WithContext("root", root)
	}
	if !info.IsDir() {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "local root %s is not a directory", root).
			WithComponent("local")
	}
	return &Backend{root: root, perm: 0o644}, nil
}

// Root is the backing directory.
func (b *Backend) Root() string { return b.root }

// Open implements types.Backend. Parent directories are created for
// writable opens with Create.
func (b *Backend) Open(_ context.Context, path string, flag types.OpenFlag) (types.File, error) {
	full, err := utils.SecureJoin(b.root, path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidState, err, "invalid path").
			WithComponent("local").WithOperation("open").WithContext("path", path)
	}

	mode := os.O_RDONLY
	if flag.Writable() {
		mode = os.O_WRONLY
		if flag.Has(types.Truncate) {
			mode |= os.O_TRUNC
		} else {
			mode |= os.O_APPEND
		}
		if flag.Has(types.Create) {
			mode |= os.O_CREATE
			if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
				return nil, mapError(err, "open", path)
			}
		}
	}

	f, err := os.OpenFile(full, mode, b.perm)
	if err != nil {
		return nil, mapError(err, "open", path)
	}
	return &file{f: f, path: path}, nil
}

// Unlink implements types.Backend.
func (b *Backend) Unlink(_ context.Context, path string) error {
	full, err := utils.SecureJoin(b.root, path)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidState, err, "invalid path").
			WithComponent("local").WithOperation("unlink").WithContext("path", path)
	}
	if err := os.Remove(full); err != nil {
		return mapError(err, "unlink", path)
	}
	return nil
}

func mapError(err error, op, path string) error {
	code := errors.ErrCodeBackendIO
	if stderr.Is(err, fs.ErrNotExist) {
		code = errors.ErrCodeNotFound
	}
	return errors.Wrap(code, err, op+" failed").
		WithComponent("local").WithOperation(op).WithContext("path", path)
}

type file struct {
	f    *os.File
	path string
}

func (f *file) ReadAt(p []byte, off int64) (int, error) {
	return f.f.ReadAt(p, off)
}

func (f *file) Write(p []byte) (int, error) {
	return f.f.Write(p)
}

func (f *file) Size() (int64, error) {
	info, err := f.f.Stat()
	if err != nil {
		return 0, mapError(err, "stat", f.path)
	}
	return info.Size(), nil
}

func (f *file) Close() error {
	if err := f.f.Close(); err != nil {
		return mapError(err, "close", f.path)
	}
	return nil
}
