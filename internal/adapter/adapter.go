package adapter

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/objectfs/streamfs/internal/checksum"
	"github.com/objectfs/streamfs/internal/circuit"
	"github.com/objectfs/streamfs/internal/config"
	"github.com/objectfs/streamfs/internal/gateway"
	"github.com/objectfs/streamfs/internal/metrics"
	"github.com/objectfs/streamfs/internal/pool"
	"github.com/objectfs/streamfs/internal/storage/local"
	"github.com/objectfs/streamfs/internal/storage/memory"
	"github.com/objectfs/streamfs/internal/storage/s3"
	"github.com/objectfs/streamfs/pkg/errors"
	"github.com/objectfs/streamfs/pkg/health"
	"github.com/objectfs/streamfs/pkg/retry"
	"github.com/objectfs/streamfs/pkg/types"
)

const serviceName = "streamfs"

// Adapter represents the assembled streamfs data path
type Adapter struct {
	config  *config.Configuration
	logger  *slog.Logger
	metrics *metrics.Collector
	health  *health.Tracker
	pool    *pool.Pool
	fs      *gateway.FileSystem

	// memory is the shared store of the memory backend; every identity sees
	// the same files.
	memory *memory.Backend

	mu       sync.Mutex
	breakers map[types.Identity]*circuit.Breaker
	started  bool
	closed   bool
}

// New assembles the data path described by cfg. A non-empty storageURI
// overrides the configured storage backend.
func New(ctx context.Context, storageURI string, cfg *config.Configuration, logger *slog.Logger) (*Adapter, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := ApplyStorageURI(cfg, storageURI); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "invalid storage URI").
			WithComponent("adapter").WithOperation("new").WithContext("uri", storageURI)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Validate already parsed these
	readAhead, _ := cfg.ReadAheadBytes()
	chunkSize, _ := cfg.ChunkSizeBytes()
	readSize, _ := cfg.ReadSizeBytes()
	algorithms, _ := cfg.ChecksumAlgorithms()

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Monitoring.Metrics.Enabled,
		Port:      cfg.Monitoring.Metrics.Port,
		Path:      cfg.Monitoring.Metrics.Path,
		Namespace: serviceName,
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternalError, err, "failed to create metrics collector").
			WithComponent("adapter").WithOperation("new")
	}

	a := &Adapter{
		config:   cfg,
		logger:   logger.With("component", "adapter"),
		metrics:  collector,
		health:   health.NewTracker(),
		breakers: make(map[types.Identity]*circuit.Breaker),
	}
	if cfg.Storage.Backend == config.BackendMemory {
		a.memory = memory.New()
	}
	collector.SetHealthHandler(a.health.Handler(serviceName))

	var policy pool.EvictionPolicy = pool.KeepForever()
	if cfg.Pool.IdleTimeout > 0 {
		policy = pool.IdleTimeout(cfg.Pool.IdleTimeout)
	}
	a.pool = pool.New(a.newBackend, pool.Options{
		Policy: policy,
		Retry: retry.Config{
			MaxAttempts:     cfg.Network.Retry.MaxAttempts,
			InitialDelay:    cfg.Network.Retry.BaseDelay,
			MaxDelay:        cfg.Network.Retry.MaxDelay,
			Multiplier:      2.0,
			Jitter:          true,
			RetryableErrors: []errors.ErrorCode{errors.ErrCodeConnectionFailed},
		},
		Logger:        logger,
		SweepInterval: sweepInterval(cfg.Pool),
	})
	if err := collector.RegisterPool(a.pool.Stats); err != nil {
		_ = a.pool.Close()
		return nil, errors.Wrap(errors.ErrCodeInternalError, err, "failed to register pool metrics").
			WithComponent("adapter").WithOperation("new")
	}

	a.fs = gateway.New(a.pool, gateway.Options{
		ReadAheadSize: readAhead,
		Algorithms:    algorithms,
		Checksum: checksum.Options{
			SidecarPrefix:     cfg.Checksum.SidecarPrefix,
			DefaultAlgorithm:  cfg.Checksum.DefaultAlgorithm,
			ChunkSize:         chunkSize,
			ReadSize:          readSize,
			PurgeStaleSidecar: cfg.Checksum.PurgeStaleSidecar,
			Metrics:           collector,
		},
		Logger:  logger,
		Metrics: collector,
	})

	return a, nil
}

// sweepInterval only runs the sweeper when something can be evicted.
func sweepInterval(cfg config.PoolConfig) time.Duration {
	if cfg.IdleTimeout <= 0 {
		return 0
	}
	return cfg.SweepInterval
}

// Start starts the metrics endpoint.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.NewError(errors.ErrCodeClosed, "adapter closed").WithComponent("adapter")
	}
	if a.started {
		return errors.NewError(errors.ErrCodeInvalidState, "adapter already started").WithComponent("adapter")
	}

	a.logger.Info("Starting streamfs",
		"backend", a.config.Storage.Backend,
		"read_ahead", a.config.ReadAhead.Size,
		"sidecar_prefix", a.config.Checksum.SidecarPrefix,
		"circuit_breaker", a.config.Network.CircuitBreaker.Enabled)
	if err := a.metrics.Start(ctx); err != nil {
		return errors.Wrap(errors.ErrCodeInternalError, err, "failed to start metrics").WithComponent("adapter")
	}
	a.started = true
	return nil
}

// Stop stops the metrics endpoint and closes every pooled backend.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return errors.NewError(errors.ErrCodeInvalidState, "adapter not started").WithComponent("adapter")
	}
	a.started = false
	a.mu.Unlock()

	a.logger.Info("Stopping streamfs")
	metricsErr := a.metrics.Stop(ctx)
	if err := a.Close(); err != nil {
		return err
	}
	return metricsErr
}

// Close closes every pooled backend. It is safe to call more than once.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()
	return a.pool.Close()
}

// FileSystem is the gateway hosts open files through.
func (a *Adapter) FileSystem() *gateway.FileSystem { return a.fs }

// Metrics returns the collector; it records nothing when metrics are
// disabled.
func (a *Adapter) Metrics() *metrics.Collector { return a.metrics }

// Health tracks one component per identity whose backend is guarded by a
// circuit breaker.
func (a *Adapter) Health() *health.Tracker { return a.health }

// Memory returns the shared store of the memory backend, nil for other
// backends.
func (a *Adapter) Memory() *memory.Backend { return a.memory }

// Breaker returns id's circuit breaker, nil when none was created.
func (a *Adapter) Breaker(id types.Identity) *circuit.Breaker {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.breakers[id]
}

// newBackend is the pool's factory.
func (a *Adapter) newBackend(ctx context.Context, id types.Identity) (types.Backend, error) {
	var backend types.Backend
	switch a.config.Storage.Backend {
	case config.BackendMemory:
		backend = a.memory
	case config.BackendLocal:
		b, err := local.New(a.config.Storage.Local.Root)
		if err != nil {
			return nil, err
		}
		backend = b
	case config.BackendS3:
		s3cfg := a.config.Storage.S3
		b, err := s3.NewBackend(ctx, &s3cfg)
		if err != nil {
			if errors.CodeOf(err) == "" {
				err = errors.Wrap(errors.ErrCodeConnectionFailed, err, "failed to connect to S3").
					WithComponent("adapter").WithContext("identity", id.String())
			}
			return nil, err
		}
		backend = b
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "unknown storage backend %q", a.config.Storage.Backend).
			WithComponent("adapter")
	}

	a.logger.Debug("Connected backend", "backend", a.config.Storage.Backend, "identity", id.String())
	if !a.config.Network.CircuitBreaker.Enabled {
		return backend, nil
	}
	return circuit.Guard(backend, a.breakerFor(id)), nil
}

// breakerFor returns id's breaker. Breakers outlive pool evictions so a
// reconnect does not forget a failing backend.
func (a *Adapter) breakerFor(id types.Identity) *circuit.Breaker {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.breakers[id]; ok {
		return b
	}

	cb := a.config.Network.CircuitBreaker
	name := "backend:" + id.String()
	b := circuit.New(name, circuit.Config{
		FailureThreshold: uint32(cb.FailureThreshold),
		Timeout:          cb.Timeout,
		OnStateChange: func(name string, from, to circuit.State) {
			a.logger.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			a.health.SetState(name, healthState(to), nil)
		},
	})
	a.breakers[id] = b
	a.health.RegisterComponent(name)
	return b
}

func healthState(s circuit.State) health.HealthState {
	switch s {
	case circuit.StateOpen:
		return health.StateUnavailable
	case circuit.StateHalfOpen:
		return health.StateDegraded
	default:
		return health.StateHealthy
	}
}

// ApplyStorageURI points cfg at the storage named by uri:
//
//	s3://bucket[/prefix]   S3 bucket, optional key prefix
//	file:///path           local directory
//	mem://                 process-local memory
//
// An empty uri leaves cfg unchanged.
func ApplyStorageURI(cfg *config.Configuration, uri string) error {
	if uri == "" {
		return nil
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, err, "failed to parse URI")
	}

	switch parsed.Scheme {
	case "s3":
		if parsed.Host == "" {
			return errors.NewError(errors.ErrCodeInvalidConfig, "S3 URI must include bucket name")
		}
		cfg.Storage.Backend = config.BackendS3
		cfg.Storage.S3.Bucket = parsed.Host
		if prefix := strings.Trim(parsed.Path, "/"); prefix != "" {
			cfg.Storage.S3.RootPrefix = prefix
		}
	case "file":
		if parsed.Host != "" && parsed.Host != "localhost" {
			return errors.Newf(errors.ErrCodeInvalidConfig, "file URI must be local, got host %q", parsed.Host)
		}
		if parsed.Path == "" {
			return errors.NewError(errors.ErrCodeInvalidConfig, "file URI must include a directory")
		}
		cfg.Storage.Backend = config.BackendLocal
		cfg.Storage.Local.Root = parsed.Path
	case "mem", "memory":
		cfg.Storage.Backend = config.BackendMemory
	default:
		return errors.Newf(errors.ErrCodeInvalidConfig, "unsupported storage scheme: %q (s3, file or mem)", parsed.Scheme)
	}
	return nil
}
