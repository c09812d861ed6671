package fuse

import (
	"context"
	"log/slog"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/objectfs/streamfs/internal/gateway"
	"github.com/objectfs/streamfs/pkg/types"
)

// FileNode is a regular file served through the gateway. Hosts embed it in
// their inode tree; the zero Inode is filled in by go-fuse when the node is
// added.
type FileNode struct {
	fs.Inode

	Gateway  *gateway.FileSystem
	Identity types.Identity
	Path     string
	Logger   *slog.Logger
}

var _ fs.NodeOpener = (*FileNode)(nil)

// Open opens the node's path with the kernel's open flags.
func (n *FileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	flag, errno := OpenFlags(flags)
	if errno != 0 {
		return nil, 0, errno
	}
	f, err := n.Gateway.Open(ctx, n.Identity, n.Path, flag)
	if err != nil {
		return nil, 0, ToErrno(err)
	}
	var fuseFlags uint32
	if flag.Writable() {
		// the page cache would go stale behind sequential writes
		fuseFlags = fuse.FOPEN_DIRECT_IO
	}
	return NewHandle(f, n.Logger), fuseFlags, 0
}

// OpenFlags translates open(2) flags. Read-write opens are not supported.
func OpenFlags(flags uint32) (types.OpenFlag, syscall.Errno) {
	var flag types.OpenFlag
	switch int(flags) & syscall.O_ACCMODE {
	case syscall.O_RDONLY:
		flag = types.ReadOnly
	case syscall.O_WRONLY:
		flag = types.WriteOnly
	default:
		return 0, syscall.ENOTSUP
	}
	if int(flags)&syscall.O_CREAT != 0 {
		flag |= types.Create
	}
	if int(flags)&syscall.O_TRUNC != 0 {
		flag |= types.Truncate
	}
	if !flag.Writable() && flag&(types.Create|types.Truncate) != 0 {
		return 0, syscall.EINVAL
	}
	return flag, 0
}
