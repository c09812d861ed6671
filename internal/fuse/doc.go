/*
Package fuse exposes gateway files to the kernel through go-fuse.

The package does not build a directory tree or mount anything. A host that
owns the tree embeds FileNode for every regular file it serves; the node turns
kernel open flags into gateway open flags and hands back a FileHandle that
drives one gateway File:

	┌─────────────────────────────────────────────┐
	│        Kernel VFS / FUSE (go-fuse fs)       │
	└─────────────────────────────────────────────┘
	                      │  Open(flags)
	┌─────────────────────────────────────────────┐
	│   FileNode ──► FileHandle                   │  ← This Package
	│   Read / Write / Flush / Release            │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│   gateway.File (read-ahead, digests)        │
	└─────────────────────────────────────────────┘

# Lifecycle

A writable handle is finalized on the first Flush, so checksum persistence
and backend close errors are reported to close(2). A read-only handle is
finalized on Release. Release always finalizes a handle that was not yet
closed.

# Errors

ToErrno maps gateway error codes to errno values:

	NOT_FOUND            ENOENT
	OUT_OF_ORDER_WRITE   ENOTSUP
	UNSUPPORTED          ENOTSUP
	TOO_LARGE            EDOM
	anything else        the preserved errno, or EIO

Opens with O_RDWR are refused with ENOTSUP: a gateway file is either read
through its read-ahead window or written sequentially, never both.
*/
package fuse
