/*
Package s3 exposes an S3 bucket as a byte-stream backend for the gateway.

Gateway paths are translated into object keys under an optional root prefix:

	root_prefix: "store"     /data/run1/file.root  ->  store/data/run1/file.root

# Reads

A read-only open issues a HeadObject to learn the object size and to report
missing keys as NOT_FOUND. Every positioned read becomes one ranged GET:

	ReadAt(p, off)  ->  GET Range: bytes=off-(off+len(p)-1)

Reads that reach the end of the object return a short count with io.EOF,
matching the io.ReaderAt contract the read-ahead cache expects.

# Writes

Objects are immutable, so a writable open buffers every Write in memory and
uploads the whole object when the handle is closed. With cargoship enabled the
upload goes through the cargoship transporter (chunked, concurrent multipart
upload); if that fails, or cargoship is disabled, a single PutObject is used.
A writable open without Truncate on an existing object first loads the current
content so that writes append.

# Errors

NoSuchKey and NotFound responses map to NOT_FOUND with ENOENT. Every other
failure is reported as BACKEND_IO with the SDK error kept as the cause.
*/
package s3
