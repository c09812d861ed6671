/*
Package types defines the contracts shared by the streamfs data path.

The gateway sits between a POSIX-like caller and a remote byte-stream
filesystem whose read primitive is a single positioned read. Everything above
the storage layer talks to that filesystem only through the interfaces in this
package:

	┌─────────────────────────────────────────────┐
	│        FUSE file handle (internal/fuse)     │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│        Open-file handle (internal/gateway)  │
	└─────────────────────────────────────────────┘
	          │                    │
	┌─────────┴─────────┐ ┌────────┴────────────────┐
	│ Read-ahead window │ │ Checksum accumulator +  │
	│ (readahead)       │ │ sidecar manager         │
	└───────────────────┘ └─────────────────────────┘
	          │                    │
	┌─────────────────────────────────────────────┐
	│  Backend / File (s3, local, memory)         │
	└─────────────────────────────────────────────┘

# Backend contract

A Backend opens paths and unlinks them. An opened File supports positioned
reads, sequential writes and Close. Missing paths are reported with an error
carrying the NOT_FOUND code from pkg/errors; an interrupted call returns an
error wrapping unix.EINTR and the caller is expected to retry it.

Implementations must be safe for concurrent use across different Files. A
single File is used by one goroutine at a time.
*/
package types
