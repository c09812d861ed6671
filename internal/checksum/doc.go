/*
Package checksum computes, stores and verifies integrity digests for files
served through the gateway.

Digests are accumulated while a file is written (Accumulator) or recomputed
by streaming the file back (Manager.Calc). They are persisted in a sidecar
text file at SidecarPath(p), one NAME:value record per line:

	CKSUM:1a2b3c4d
	ADLER32:00000001
	MD5:d41d8cd98f00b204e9800998ecf8427e

The CVMFS record holds a descriptor of the whole-file SHA-1 plus one SHA-1
per fixed-size content chunk:

	size=41943040;checksum=<sha1>;chunk_offsets=0,25165824;chunk_checksums=<sha1>,<sha1>
*/
package checksum
