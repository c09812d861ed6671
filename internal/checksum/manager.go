package checksum

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/objectfs/streamfs/internal/buffer"
	"github.com/objectfs/streamfs/pkg/errors"
	"github.com/objectfs/streamfs/pkg/retry"
	"github.com/objectfs/streamfs/pkg/types"
)

const (
	// DefaultSidecarPrefix is prepended to a path to locate its sidecar.
	DefaultSidecarPrefix = "/cksums"
	// DefaultReadSize is the read size used when streaming a file in Calc.
	DefaultReadSize = 256 << 10

	fallbackAlgorithm = "ADLER32"
)

// Recorder receives one observation per manager operation.
type Recorder interface {
	RecordChecksumOperation(op, algorithm string, duration time.Duration, err error)
}

// Options configure a Manager.
type Options struct {
	SidecarPrefix    string
	DefaultAlgorithm string
	ChunkSize        int64
	ReadSize         int

	// PurgeStaleSidecar deletes a sidecar when Get finds it lacks the
	// requested algorithm. Off by default: the other records survive.
	PurgeStaleSidecar bool

	Logger  *slog.Logger
	Metrics Recorder
	Pool    *buffer.BytePool
}

// Manager stores and recomputes checksums through a backend.
type Manager struct {
	backend types.Backend
	opts    Options
	logger  *slog.Logger
}

// NewManager creates a manager over backend.
func NewManager(backend types.Backend, opts Options) *Manager {
	if opts.SidecarPrefix == "" {
		opts.SidecarPrefix = DefaultSidecarPrefix
	}
	opts.SidecarPrefix = "/" + strings.Trim(opts.SidecarPrefix, "/")
	if opts.DefaultAlgorithm == "" {
		opts.DefaultAlgorithm = fallbackAlgorithm
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ReadSize <= 0 {
		opts.ReadSize = DefaultReadSize
	}
	if opts.Pool == nil {
		opts.Pool = buffer.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		backend: backend,
		opts:    opts,
		logger:  logger.With("component", "checksum"),
	}
}

// SidecarPath returns the sidecar path for p.
func (m *Manager) SidecarPath(p string) string {
	return m.opts.SidecarPrefix + p
}

// IsSidecar reports whether p lives under the sidecar prefix.
func (m *Manager) IsSidecar(p string) bool {
	return p == m.opts.SidecarPrefix || strings.HasPrefix(p, m.opts.SidecarPrefix+"/")
}

// ChunkSize is the CVMFS chunk size used for new accumulators.
func (m *Manager) ChunkSize() int64 { return m.opts.ChunkSize }

// algorithmName applies the default to an empty name.
func (m *Manager) algorithmName(name string) string {
	if name == "" {
		return m.opts.DefaultAlgorithm
	}
	return name
}

// Get returns the stored value of name for path. A missing or unparsable
// sidecar, or one without name, is NOT_FOUND.
func (m *Manager) Get(ctx context.Context, path, name string) (value string, err error) {
	name = m.algorithmName(name)
	defer m.observe("get", name, time.Now(), &err)

	rs, err := m.load(ctx, path)
	if err != nil {
		return "", err
	}
	v, ok := rs.Get(name)
	if !ok {
		if m.opts.PurgeStaleSidecar {
			if derr := m.Del(ctx, path); derr != nil {
				m.logger.Warn("Failed to purge sidecar", "path", path, "error", derr)
			}
		}
		return "", notFound("get", path, "no "+strings.ToUpper(name)+" checksum recorded")
	}
	return v, nil
}

// GetInto copies the stored value into dst and returns its length. It fails
// with TOO_LARGE when dst is too small.
func (m *Manager) GetInto(ctx context.Context, path, name string, dst []byte) (int, error) {
	v, err := m.Get(ctx, path, name)
	if err != nil {
		return 0, err
	}
	if len(v) > len(dst) {
		return 0, errors.Newf(errors.ErrCodeTooLarge, "checksum of %d bytes exceeds buffer of %d", len(v), len(dst)).
			WithComponent("checksum").WithOperation("get").WithContext("path", path)
	}
	return copy(dst, v), nil
}

// Set records one value for path.
func (m *Manager) Set(ctx context.Context, path, name, value string) error {
	if _, _, err := parseToken(name + ":" + value); err != nil {
		return errors.Wrap(errors.ErrCodeMalformed, err, "invalid checksum record").
			WithComponent("checksum").WithOperation("set")
	}
	return m.SetRecords(ctx, path, Record{Name: name, Value: value})
}

// SetRecords merges records into the sidecar of path. The sidecar is only
// rewritten when the merge changed its content.
func (m *Manager) SetRecords(ctx context.Context, path string, records ...Record) (err error) {
	defer m.observe("set", recordNames(records), time.Now(), &err)

	rs, err := m.load(ctx, path)
	switch {
	case err == nil:
	case errors.IsNotFound(err):
		rs = NewRecordSet()
	default:
		return err
	}
	if !rs.Merge(records...) {
		return nil
	}
	return m.store(ctx, path, rs)
}

// Del removes the sidecar of path. A missing sidecar is not an error.
func (m *Manager) Del(ctx context.Context, path string) (err error) {
	defer m.observe("del", "", time.Now(), &err)

	err = m.backend.Unlink(ctx, m.SidecarPath(path))
	if err != nil && !errors.IsNotFound(err) {
		return err
	}
	return nil
}

// Calc streams path through the digests and returns the value for name.
// With persist every supported digest is computed and merged into the
// sidecar; a failure to persist is logged and does not fail Calc.
func (m *Manager) Calc(ctx context.Context, path, name string, persist bool) (value string, err error) {
	name = m.algorithmName(name)
	defer m.observe("calc", name, time.Now(), &err)

	alg, err := ParseAlgorithm(name)
	if err != nil {
		return "", err
	}
	algs := []Algorithm{alg}
	if persist {
		algs = All()
	}

	res, err := m.digestFile(ctx, path, NewChunkedAccumulator(m.opts.ChunkSize, algs...))
	if err != nil {
		return "", err
	}

	if persist {
		if perr := m.SetRecords(ctx, path, res.Records()...); perr != nil {
			m.logger.Warn("Failed to persist computed checksums", "path", path, "error", perr)
		}
	}
	v, _ := res.Get(alg)
	return v, nil
}

func (m *Manager) digestFile(ctx context.Context, path string, acc *Accumulator) (*Result, error) {
	f, err := m.backend.Open(ctx, path, types.ReadOnly)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			m.logger.Debug("Close after checksum read failed", "path", path, "error", cerr)
		}
	}()

	buf := m.opts.Pool.Get(m.opts.ReadSize)
	defer m.opts.Pool.Put(buf)

	var off int64
	for {
		n, rerr := retry.ReadAt(f, buf, off)
		if n > 0 {
			if err := acc.Update(buf[:n]); err != nil {
				return nil, err
			}
			off += int64(n)
		}
		if rerr == io.EOF || (rerr == nil && n == 0) {
			break
		}
		if rerr != nil {
			if errors.CodeOf(rerr) != "" {
				return nil, rerr
			}
			return nil, errors.Wrap(errors.ErrCodeBackendIO, rerr, "read failed").
				WithComponent("checksum").WithOperation("calc").WithContext("path", path)
		}
	}
	return acc.Finalize()
}

// Verify reports whether the checksum of path equals expected. A checksum
// that was never recorded is computed and persisted first.
func (m *Manager) Verify(ctx context.Context, path, name, expected string) (bool, error) {
	v, err := m.Get(ctx, path, name)
	if errors.IsNotFound(err) {
		v, err = m.Calc(ctx, path, name, true)
	}
	if err != nil {
		return false, err
	}
	return v == expected, nil
}

// List returns the algorithm names recorded for path, in sidecar order.
func (m *Manager) List(ctx context.Context, path string) (names []string, err error) {
	defer m.observe("list", "", time.Now(), &err)

	rs, err := m.load(ctx, path)
	if err != nil {
		return nil, err
	}
	return rs.Names(), nil
}

// load reads and parses the sidecar. Missing and malformed sidecars are
// both reported as NOT_FOUND.
func (m *Manager) load(ctx context.Context, path string) (*RecordSet, error) {
	text, err := m.readSidecar(ctx, path)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, notFound("load", path, "no sidecar").WithCause(err)
		}
		return nil, err
	}
	rs, err := ParseRecords(text)
	if err != nil {
		m.logger.Debug("Ignoring malformed sidecar", "path", path, "error", err)
		return nil, notFound("load", path, "malformed sidecar").WithCause(err)
	}
	return rs, nil
}

func (m *Manager) readSidecar(ctx context.Context, path string) (string, error) {
	f, err := m.backend.Open(ctx, m.SidecarPath(path), types.ReadOnly)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var b strings.Builder
	buf := m.opts.Pool.Get(4 << 10)
	defer m.opts.Pool.Put(buf)

	var off int64
	for {
		n, rerr := retry.ReadAt(f, buf, off)
		b.Write(buf[:n])
		off += int64(n)
		if rerr == io.EOF || (rerr == nil && n == 0) {
			return b.String(), nil
		}
		if rerr != nil {
			if errors.CodeOf(rerr) != "" {
				return "", rerr
			}
			return "", errors.Wrap(errors.ErrCodeBackendIO, rerr, "sidecar read failed").
				WithComponent("checksum").WithContext("path", path)
		}
	}
}

func (m *Manager) store(ctx context.Context, path string, rs *RecordSet) error {
	sidecar := m.SidecarPath(path)
	f, err := m.backend.Open(ctx, sidecar, types.WriteOnly|types.Create|types.Truncate)
	if err != nil {
		return err
	}
	if _, err := retry.WriteFull(f, []byte(rs.Serialize("\n"))); err != nil {
		_ = f.Close()
		return errors.Wrap(errors.ErrCodeBackendIO, err, "sidecar write failed").
			WithComponent("checksum").WithOperation("set").WithContext("path", sidecar)
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(errors.ErrCodeBackendIO, err, "sidecar close failed").
			WithComponent("checksum").WithOperation("set").WithContext("path", sidecar)
	}
	m.logger.Debug("Sidecar written", "path", sidecar, "records", rs.Len())
	return nil
}

func (m *Manager) observe(op, alg string, start time.Time, err *error) {
	if m.opts.Metrics == nil {
		return
	}
	m.opts.Metrics.RecordChecksumOperation(op, strings.ToUpper(alg), time.Since(start), *err)
}

func notFound(op, path, msg string) *errors.StreamFSError {
	return errors.NewError(errors.ErrCodeNotFound, msg).
		WithComponent("checksum").WithOperation(op).WithContext("path", path)
}

func recordNames(records []Record) string {
	if len(records) == 1 {
		return records[0].Name
	}
	return "multiple"
}
