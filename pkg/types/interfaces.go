package types

import (
	"context"
	"io"
)

// OpenFlag selects how a Backend opens a path.
type OpenFlag int

const (
	// ReadOnly opens an existing path for positioned reads.
	ReadOnly OpenFlag = 1 << iota
	// WriteOnly opens a path for sequential writes.
	WriteOnly
	// Create creates the path when it does not exist.
	Create
	// Truncate discards existing content.
	Truncate
)

// Has reports whether all bits of want are set.
func (f OpenFlag) Has(want OpenFlag) bool {
	return f&want == want
}

// Writable reports whether the flag opens the path for writing.
func (f OpenFlag) Writable() bool {
	return f.Has(WriteOnly)
}

func (f OpenFlag) String() string {
	var parts []byte
	add := func(s string) {
		if len(parts) > 0 {
			parts = append(parts, '|')
		}
		parts = append(parts, s...)
	}
	if f.Has(ReadOnly) {
		add("read")
	}
	if f.Has(WriteOnly) {
		add("write")
	}
	if f.Has(Create) {
		add("create")
	}
	if f.Has(Truncate) {
		add("truncate")
	}
	if len(parts) == 0 {
		return "none"
	}
	return string(parts)
}

// Backend is the byte-stream filesystem the gateway fronts.
type Backend interface {
	// Open opens path with the given flags.
	Open(ctx context.Context, path string, flag OpenFlag) (File, error)
	// Unlink removes path.
	Unlink(ctx context.Context, path string) error
}

// File is an open backend stream.
//
// ReadAt follows io.ReaderAt except that a short read without error is
// allowed; callers loop until they have what they need or see io.EOF.
type File interface {
	io.ReaderAt
	io.Writer
	io.Closer
}

// Stater is implemented by Files that can report their current size.
type Stater interface {
	Size() (int64, error)
}

// Identity names the principal a backend connection is opened for.
type Identity struct {
	User  string `json:"user" yaml:"user"`
	Group string `json:"group,omitempty" yaml:"group,omitempty"`
}

func (id Identity) String() string {
	if id.Group == "" {
		return id.User
	}
	return id.User + ":" + id.Group
}

// BackendFactory opens a new backend connection for an identity.
type BackendFactory func(ctx context.Context, id Identity) (Backend, error)
