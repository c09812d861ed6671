package circuit

import (
	"context"
	"io"

	"github.com/objectfs/streamfs/pkg/errors"
	"github.com/objectfs/streamfs/pkg/types"
)

// Guard wraps backend so every call passes through b. Files opened through
// the guard are guarded as well.
func Guard(backend types.Backend, b *Breaker) types.Backend {
	return &guarded{backend: backend, breaker: b}
}

type guarded struct {
	backend types.Backend
	breaker *Breaker
}

func (g *guarded) Open(ctx context.Context, path string, flag types.OpenFlag) (types.File, error) {
	var f types.File
	err := g.breaker.Execute(func() error {
		var err error
		f, err = g.backend.Open(ctx, path, flag)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &guardedFile{f: f, breaker: g.breaker}, nil
}

func (g *guarded) Unlink(ctx context.Context, path string) error {
	return g.breaker.Execute(func() error {
		return g.backend.Unlink(ctx, path)
	})
}

// Close closes the wrapped backend when it holds resources.
func (g *guarded) Close() error {
	if c, ok := g.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

type guardedFile struct {
	f       types.File
	breaker *Breaker
}

func (gf *guardedFile) ReadAt(p []byte, off int64) (int, error) {
	var n int
	var eof bool
	err := gf.breaker.Execute(func() error {
		var err error
		n, err = gf.f.ReadAt(p, off)
		if err == io.EOF {
			eof = true
			return nil
		}
		return err
	})
	if eof {
		return n, io.EOF
	}
	return n, err
}

func (gf *guardedFile) Write(p []byte) (int, error) {
	var n int
	err := gf.breaker.Execute(func() error {
		var err error
		n, err = gf.f.Write(p)
		return err
	})
	return n, err
}

// Close is never rejected: a handle must always be able to release its
// backend resources.
func (gf *guardedFile) Close() error {
	err := gf.f.Close()
	gf.breaker.afterRequest(err)
	return err
}

func (gf *guardedFile) Size() (int64, error) {
	if s, ok := gf.f.(types.Stater); ok {
		return s.Size()
	}
	return 0, errors.NewError(errors.ErrCodeUnsupported, "backend file does not report its size").
		WithComponent("circuit")
}
