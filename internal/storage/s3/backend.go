package s3

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	awsconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"
	"golang.org/x/sys/unix"

	"github.com/objectfs/streamfs/pkg/errors"
	"github.com/objectfs/streamfs/pkg/types"
	"github.com/objectfs/streamfs/pkg/utils"
)

// objectAPI is the subset of the S3 client the backend calls.
type objectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// uploadFunc sends a complete object body under key.
type uploadFunc func(ctx context.Context, key string, body []byte) error

// Backend implements types.Backend over an S3 bucket.
type Backend struct {
	api          objectAPI
	bucket       string
	root         string
	storageClass s3types.StorageClass

	// cargo is the cargoship upload path; nil when disabled.
	cargo uploadFunc

	logger  *slog.Logger
	metrics metricsCollector
}

var _ types.Backend = (*Backend)(nil)

// NewBackend creates a new S3 backend from cfg.
func NewBackend(ctx context.Context, cfg *Config) (*Backend, error) {
	if cfg == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "s3 config is required").WithComponent("s3")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.MaxRetries > 0 {
		loadOpts = append(loadOpts, config.WithRetryMaxAttempts(cfg.MaxRetries))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeConnectionFailed, err, "failed to load AWS config").
			WithComponent("s3")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	b := newBackend(client, cfg, slog.Default())

	if cfg.UseCargoShip {
		storageClass, _ := parseStorageClass(cfg.StorageClass)
		concurrency := cfg.Concurrency
		if concurrency == 0 {
			concurrency = 8
		}
		transporter := cargoships3.NewTransporter(client, awsconfig.S3Config{
			Bucket:             cfg.Bucket,
			StorageClass:       storageClass,
			MultipartThreshold: 32 * 1024 * 1024,
			MultipartChunkSize: 16 * 1024 * 1024,
			Concurrency:        concurrency,
		})
		b.cargo = func(ctx context.Context, key string, body []byte) error {
			result, err := transporter.Upload(ctx, cargoships3.Archive{
				Key:          key,
				Reader:       bytes.NewReader(body),
				Size:         int64(len(body)),
				StorageClass: storageClass,
				Metadata:     map[string]string{"streamfs-upload": "true"},
			})
			if err != nil {
				return err
			}
			b.logger.Debug("CargoShip upload completed",
				"key", key,
				"size", len(body),
				"throughput", result.Throughput,
				"duration", result.Duration)
			return nil
		}
		b.logger.Info("CargoShip upload path enabled", "concurrency", concurrency, "storage_class", cfg.StorageClass)
	}

	return b, nil
}

func newBackend(api objectAPI, cfg *Config, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	storageClass := s3types.StorageClassStandard
	if cfg.StorageClass != "" {
		storageClass = s3types.StorageClass(cfg.StorageClass)
	}
	return &Backend{
		api:          api,
		bucket:       cfg.Bucket,
		root:         cfg.RootPrefix,
		storageClass: storageClass,
		logger:       logger.With("component", "s3-backend", "bucket", cfg.Bucket),
	}
}

// Bucket returns the bucket name.
func (b *Backend) Bucket() string { return b.bucket }

// Metrics returns a snapshot of the request counters.
func (b *Backend) Metrics() BackendMetrics { return b.metrics.snapshot() }

// Open implements types.Backend.
func (b *Backend) Open(ctx context.Context, path string, flag types.OpenFlag) (types.File, error) {
	key, err := utils.ObjectKey(b.root, path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidState, err, "invalid path").
			WithComponent("s3").WithOperation("open").WithContext("path", path).WithErrno(unix.EINVAL)
	}

	size, err := b.head(ctx, key)
	exists := err == nil
	switch {
	case err == nil:
	case errors.IsNotFound(err) && flag.Writable() && flag.Has(types.Create):
	default:
		return nil, err
	}

	// The handle outlives the open request; later reads and the upload at
	// Close keep its values but not its cancellation.
	hctx := context.WithoutCancel(ctx)
	if !flag.Writable() {
		return &object{b: b, ctx: hctx, key: key, size: size}, nil
	}

	w := &object{b: b, ctx: hctx, key: key, writable: true, buf: new(bytes.Buffer)}
	if exists && !flag.Has(types.Truncate) && size > 0 {
		if err := b.fetch(ctx, key, w.buf); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// Unlink implements types.Backend.
func (b *Backend) Unlink(ctx context.Context, path string) error {
	key, err := utils.ObjectKey(b.root, path)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidState, err, "invalid path").
			WithComponent("s3").WithOperation("unlink").WithContext("path", path).WithErrno(unix.EINVAL)
	}
	// DeleteObject succeeds on missing keys; unlink must not.
	if _, err := b.head(ctx, key); err != nil {
		return err
	}

	start := time.Now()
	_, err = b.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	b.metrics.request(time.Since(start), err)
	if err != nil {
		return b.translateError(err, "DeleteObject", key)
	}
	return nil
}

func (b *Backend) head(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	out, err := b.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	b.metrics.request(time.Since(start), err)
	if err != nil {
		return 0, b.translateError(err, "HeadObject", key)
	}
	return aws.ToInt64(out.ContentLength), nil
}

// fetch copies the whole object into dst.
func (b *Backend) fetch(ctx context.Context, key string, dst *bytes.Buffer) error {
	start := time.Now()
	out, err := b.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	b.metrics.request(time.Since(start), err)
	if err != nil {
		return b.translateError(err, "GetObject", key)
	}
	defer out.Body.Close()

	n, err := dst.ReadFrom(out.Body)
	b.metrics.downloaded(int(n))
	if err != nil {
		return errors.Wrap(errors.ErrCodeBackendIO, err, "failed to read object body").
			WithComponent("s3").WithOperation("GetObject").WithContext("key", key)
	}
	return nil
}

// readRange reads up to len(p) bytes starting at off. The caller clamps the
// range to the object size.
func (b *Backend) readRange(ctx context.Context, key string, p []byte, off int64) (int, error) {
	start := time.Now()
	out, err := b.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, off+int64(len(p))-1)),
	})
	b.metrics.request(time.Since(start), err)
	if err != nil {
		return 0, b.translateError(err, "GetObject", key)
	}
	defer out.Body.Close()

	n, err := io.ReadFull(out.Body, p)
	b.metrics.downloaded(n)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		// object shrank under us; report what arrived
		return n, nil
	}
	if err != nil {
		return n, errors.Wrap(errors.ErrCodeBackendIO, err, "failed to read object body").
			WithComponent("s3").WithOperation("GetObject").WithContext("key", key)
	}
	return n, nil
}

// upload stores body under key, preferring the cargoship path.
func (b *Backend) upload(ctx context.Context, key string, body []byte) error {
	if b.cargo != nil {
		err := b.cargo(ctx, key, body)
		if err == nil {
			b.metrics.uploaded(len(body), true)
			return nil
		}
		b.logger.Warn("CargoShip upload failed, falling back to PutObject", "key", key, "error", err)
	}

	start := time.Now()
	_, err := b.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/octet-stream"),
		StorageClass:  b.storageClass,
	})
	b.metrics.request(time.Since(start), err)
	if err != nil {
		return b.translateError(err, "PutObject", key)
	}
	b.metrics.uploaded(len(body), false)
	return nil
}

func (b *Backend) translateError(err error, operation, key string) error {
	switch {
	case isErrorType[*s3types.NoSuchKey](err), isErrorType[*s3types.NotFound](err):
		return errors.Wrap(errors.ErrCodeNotFound, err, "object not found").
			WithComponent("s3").WithOperation(operation).WithContext("key", key).WithErrno(unix.ENOENT)
	case isErrorType[*s3types.NoSuchBucket](err):
		return errors.Wrap(errors.ErrCodeBackendIO, err, fmt.Sprintf("bucket not found: %s", b.bucket)).
			WithComponent("s3").WithOperation(operation).WithContext("key", key)
	default:
		return errors.Wrap(errors.ErrCodeBackendIO, err, fmt.Sprintf("%s failed", operation)).
			WithComponent("s3").WithOperation(operation).WithContext("key", key)
	}
}

// isErrorType checks if an error is of a specific type
func isErrorType[T error](err error) bool {
	var target T
	return stderrors.As(err, &target)
}
