package s3

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/streamfs/pkg/errors"
	"github.com/objectfs/streamfs/pkg/types"
)

// fakeAPI is an in-memory objectAPI.
type fakeAPI struct {
	mu      sync.Mutex
	objects map[string][]byte
	ranges  []string
	puts    int
	getErr  error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{objects: make(map[string][]byte)}
}

func (f *fakeAPI) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	if in.Range != nil {
		f.ranges = append(f.ranges, *in.Range)
		var first, last int64
		if _, err := fmt.Sscanf(*in.Range, "bytes=%d-%d", &first, &last); err != nil {
			return nil, err
		}
		if last >= int64(len(data)) {
			last = int64(len(data)) - 1
		}
		data = data[first : last+1]
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeAPI) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	f.objects[aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeAPI) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeAPI) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func testBackend(api *fakeAPI, root string) *Backend {
	return newBackend(api, &Config{Bucket: "test-bucket", Region: "us-east-1", RootPrefix: root}, nil)
}

func TestConfig_Validate(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.Error(t, cfg.Validate(), "bucket is required")

	cfg.Bucket = "data"
	assert.NoError(t, cfg.Validate())

	cfg.StorageClass = "cold-and-cheap"
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfig))

	cfg.StorageClass = "standard_ia"
	assert.NoError(t, cfg.Validate())

	cfg.AccessKeyID = "AKIA"
	assert.Error(t, cfg.Validate(), "secret key missing")
}

func TestNewBackend_RequiresConfig(t *testing.T) {
	_, err := NewBackend(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfig))

	_, err = NewBackend(context.Background(), &Config{Region: "us-east-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket name cannot be empty")
}

func TestBackend_OpenMissing(t *testing.T) {
	b := testBackend(newFakeAPI(), "")

	_, err := b.Open(context.Background(), "/nope", types.ReadOnly)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	_, err = b.Open(context.Background(), "/nope", types.WriteOnly)
	assert.True(t, errors.IsNotFound(err), "write without create on a missing key")
}

func TestBackend_RangedReads(t *testing.T) {
	api := newFakeAPI()
	api.objects["store/data/f"] = []byte("0123456789")
	b := testBackend(api, "store")

	f, err := b.Open(context.Background(), "/data/f", types.ReadOnly)
	require.NoError(t, err)
	defer f.Close()

	p := make([]byte, 4)
	n, err := f.ReadAt(p, 2)
	require.NoError(t, err)
	assert.Equal(t, "2345", string(p[:n]))

	n, err = f.ReadAt(p, 8)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, "89", string(p[:n]))

	n, err = f.ReadAt(p, 10)
	assert.Equal(t, io.EOF, err)
	assert.Zero(t, n)

	assert.Equal(t, []string{"bytes=2-5", "bytes=8-9"}, api.ranges)

	size, err := f.(types.Stater).Size()
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)

	m := b.Metrics()
	assert.Equal(t, int64(6), m.BytesDownloaded)
}

func TestBackend_WriteUploadsOnClose(t *testing.T) {
	api := newFakeAPI()
	b := testBackend(api, "")
	ctx := context.Background()

	f, err := b.Open(ctx, "/out", types.WriteOnly|types.Create|types.Truncate)
	require.NoError(t, err)
	_, err = f.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = f.Write([]byte("world"))
	require.NoError(t, err)
	assert.Empty(t, api.objects, "nothing uploaded before close")

	require.NoError(t, f.Close())
	assert.Equal(t, "hello world", string(api.objects["out"]))
	require.NoError(t, f.Close(), "second close is a no-op")
	assert.Equal(t, 1, api.puts)

	// reopening without truncate appends
	f, err = b.Open(ctx, "/out", types.WriteOnly)
	require.NoError(t, err)
	_, err = f.Write([]byte("!"))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, "hello world!", string(api.objects["out"]))

	m := b.Metrics()
	assert.Equal(t, int64(2), m.FallbackUploads)
	assert.Zero(t, m.CargoShipUploads)
}

type requestKey struct{}

func TestBackend_HandleOutlivesOpenContext(t *testing.T) {
	api := newFakeAPI()
	api.objects["in"] = []byte("0123456789")
	b := testBackend(api, "")

	var seen []any
	b.cargo = func(ctx context.Context, key string, body []byte) error {
		seen = append(seen, ctx.Value(requestKey{}))
		return stderrors.New("cargoship unavailable")
	}

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), requestKey{}, "req-1"))
	r, err := b.Open(ctx, "/in", types.ReadOnly)
	require.NoError(t, err)
	w, err := b.Open(ctx, "/out", types.WriteOnly|types.Create)
	require.NoError(t, err)
	cancel()

	p := make([]byte, 4)
	n, err := r.ReadAt(p, 3)
	require.NoError(t, err, "reads after the open request ended")
	assert.Equal(t, "3456", string(p[:n]))
	require.NoError(t, r.Close())

	_, err = w.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, w.Close(), "upload after the open request ended")
	assert.Equal(t, "payload", string(api.objects["out"]))
	assert.Equal(t, []any{"req-1"}, seen, "request values are kept")

	_, err = b.Open(ctx, "/in", types.ReadOnly)
	assert.Error(t, err, "a cancelled context still fails new opens")
}

func TestBackend_CargoShipFallback(t *testing.T) {
	api := newFakeAPI()
	b := testBackend(api, "")
	ctx := context.Background()

	var calls int
	b.cargo = func(_ context.Context, key string, body []byte) error {
		calls++
		if key == "fails" {
			return stderrors.New("transfer aborted")
		}
		api.mu.Lock()
		api.objects[key] = append([]byte(nil), body...)
		api.mu.Unlock()
		return nil
	}

	for _, p := range []string{"/ok", "/fails"} {
		f, err := b.Open(ctx, p, types.WriteOnly|types.Create)
		require.NoError(t, err)
		_, err = f.Write([]byte("payload"))
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}

	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, api.puts, "only the failed cargoship upload falls back")
	assert.Equal(t, "payload", string(api.objects["fails"]))
	m := b.Metrics()
	assert.Equal(t, int64(1), m.CargoShipUploads)
	assert.Equal(t, int64(1), m.FallbackUploads)
}

func TestBackend_HandleModes(t *testing.T) {
	api := newFakeAPI()
	api.objects["f"] = []byte("abc")
	b := testBackend(api, "")
	ctx := context.Background()

	r, err := b.Open(ctx, "/f", types.ReadOnly)
	require.NoError(t, err)
	_, err = r.Write([]byte("x"))
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidState))
	require.NoError(t, r.Close())
	_, err = r.ReadAt(make([]byte, 1), 0)
	assert.True(t, errors.HasCode(err, errors.ErrCodeClosed))

	w, err := b.Open(ctx, "/f", types.WriteOnly|types.Truncate)
	require.NoError(t, err)
	_, err = w.ReadAt(make([]byte, 1), 0)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidState))
	require.NoError(t, w.Close())
	assert.Empty(t, api.objects["f"])
}

func TestBackend_Unlink(t *testing.T) {
	api := newFakeAPI()
	api.objects["root/a"] = []byte("x")
	b := testBackend(api, "root")
	ctx := context.Background()

	require.NoError(t, b.Unlink(ctx, "/a"))
	assert.NotContains(t, api.objects, "root/a")

	err := b.Unlink(ctx, "/a")
	assert.True(t, errors.IsNotFound(err))

	err = b.Unlink(ctx, "/../etc")
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidState))
}

func TestBackend_TranslateError(t *testing.T) {
	b := testBackend(newFakeAPI(), "")

	err := b.translateError(&s3types.NoSuchBucket{}, "GetObject", "k")
	assert.True(t, errors.HasCode(err, errors.ErrCodeBackendIO))
	assert.Contains(t, err.Error(), "test-bucket")

	cause := stderrors.New("connection reset")
	err = b.translateError(fmt.Errorf("op: %w", cause), "PutObject", "k")
	assert.True(t, errors.HasCode(err, errors.ErrCodeBackendIO))
	assert.ErrorIs(t, err, cause)
}

func TestBackend_ReadErrorCounted(t *testing.T) {
	api := newFakeAPI()
	api.objects["f"] = []byte("abc")
	b := testBackend(api, "")

	f, err := b.Open(context.Background(), "/f", types.ReadOnly)
	require.NoError(t, err)
	api.getErr = stderrors.New("throttled")

	_, err = f.ReadAt(make([]byte, 2), 0)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeBackendIO))
	m := b.Metrics()
	assert.Equal(t, int64(1), m.Errors)
	assert.Contains(t, m.LastError, "throttled")
}
