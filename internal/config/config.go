package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/objectfs/streamfs/internal/checksum"
	"github.com/objectfs/streamfs/internal/storage/s3"
	"github.com/objectfs/streamfs/pkg/errors"
	"github.com/objectfs/streamfs/pkg/utils"
)

// Storage backend names.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendS3     = "s3"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	ReadAhead  ReadAheadConfig  `yaml:"read_ahead"`
	Checksum   ChecksumConfig   `yaml:"checksum"`
	Storage    StorageConfig    `yaml:"storage"`
	Pool       PoolConfig       `yaml:"pool"`
	Network    NetworkConfig    `yaml:"network"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
	LogFile       string `yaml:"log_file"`
	LogMaxSize    string `yaml:"log_max_size"`
	LogMaxBackups int    `yaml:"log_max_backups"`
}

// ReadAheadConfig sizes the per-handle read-ahead window.
type ReadAheadConfig struct {
	Size string `yaml:"size"`
}

// ChecksumConfig represents checksum and sidecar settings
type ChecksumConfig struct {
	SidecarPrefix    string `yaml:"sidecar_prefix"`
	DefaultAlgorithm string `yaml:"default_algorithm"`
	// Algorithms computed while writing; empty means all.
	Algorithms        []string `yaml:"algorithms"`
	ChunkSize         string   `yaml:"chunk_size"`
	ReadSize          string   `yaml:"read_size"`
	PurgeStaleSidecar bool     `yaml:"purge_stale_sidecar"`
}

// StorageConfig selects and configures the byte-stream backend.
type StorageConfig struct {
	Backend string      `yaml:"backend"`
	Local   LocalConfig `yaml:"local"`
	S3      s3.Config   `yaml:"s3"`
}

// LocalConfig represents local directory backend settings
type LocalConfig struct {
	Root string `yaml:"root"`
}

// PoolConfig represents backend connection pool settings
type PoolConfig struct {
	// IdleTimeout evicts unreferenced connections; zero keeps them until
	// shutdown.
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// NetworkConfig represents backend connection settings
type NetworkConfig struct {
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig represents retry settings
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig represents circuit breaker settings
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:      "INFO",
			LogFormat:     "text",
			LogMaxSize:    "100MiB",
			LogMaxBackups: 5,
		},
		ReadAhead: ReadAheadConfig{
			Size: "32KiB",
		},
		Checksum: ChecksumConfig{
			SidecarPrefix:    checksum.DefaultSidecarPrefix,
			DefaultAlgorithm: "ADLER32",
			ChunkSize:        "24MiB",
			ReadSize:         "256KiB",
		},
		Storage: StorageConfig{
			Backend: BackendLocal,
			Local:   LocalConfig{Root: "/var/lib/streamfs"},
			S3:      *s3.NewDefaultConfig(),
		},
		Pool: PoolConfig{
			SweepInterval: time.Minute,
		},
		Network: NetworkConfig{
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   100 * time.Millisecond,
				MaxDelay:    5 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          60 * time.Second,
			},
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled: false,
				Port:    9100,
				Path:    "/metrics",
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConfigLoad, err, "failed to read config file").
			WithComponent("config").WithContext("file", filename)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(errors.ErrCodeConfigLoad, err, "failed to parse config file").
			WithComponent("config").WithContext("file", filename)
	}

	return nil
}

// LoadFromEnv loads configuration from STREAMFS_* environment variables.
// A variable that does not parse is an error.
func (c *Configuration) LoadFromEnv() error {
	str := func(name string, dst *string) {
		if val := os.Getenv(name); val != "" {
			*dst = val
		}
	}
	var firstErr error
	fail := func(name, val string, err error) {
		if firstErr == nil {
			firstErr = errors.Wrap(errors.ErrCodeConfigLoad, err,
				fmt.Sprintf("invalid value %q for %s", val, name)).WithComponent("config")
		}
	}
	boolean := func(name string, dst *bool) {
		if val := os.Getenv(name); val != "" {
			b, err := strconv.ParseBool(val)
			if err != nil {
				fail(name, val, err)
				return
			}
			*dst = b
		}
	}
	integer := func(name string, dst *int) {
		if val := os.Getenv(name); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				fail(name, val, err)
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if val := os.Getenv(name); val != "" {
			d, err := time.ParseDuration(val)
			if err != nil {
				fail(name, val, err)
				return
			}
			*dst = d
		}
	}

	// Global settings
	str("STREAMFS_LOG_LEVEL", &c.Global.LogLevel)
	str("STREAMFS_LOG_FORMAT", &c.Global.LogFormat)
	str("STREAMFS_LOG_FILE", &c.Global.LogFile)

	// Data path
	str("STREAMFS_READ_AHEAD_SIZE", &c.ReadAhead.Size)
	str("STREAMFS_CHECKSUM_SIDECAR_PREFIX", &c.Checksum.SidecarPrefix)
	str("STREAMFS_CHECKSUM_DEFAULT_ALGORITHM", &c.Checksum.DefaultAlgorithm)
	str("STREAMFS_CHECKSUM_CHUNK_SIZE", &c.Checksum.ChunkSize)
	if val := os.Getenv("STREAMFS_CHECKSUM_ALGORITHMS"); val != "" {
		c.Checksum.Algorithms = splitList(val)
	}
	boolean("STREAMFS_CHECKSUM_PURGE_STALE_SIDECAR", &c.Checksum.PurgeStaleSidecar)

	// Storage
	str("STREAMFS_STORAGE_BACKEND", &c.Storage.Backend)
	str("STREAMFS_LOCAL_ROOT", &c.Storage.Local.Root)
	str("STREAMFS_S3_BUCKET", &c.Storage.S3.Bucket)
	str("STREAMFS_S3_REGION", &c.Storage.S3.Region)
	str("STREAMFS_S3_ENDPOINT", &c.Storage.S3.Endpoint)
	str("STREAMFS_S3_ROOT_PREFIX", &c.Storage.S3.RootPrefix)
	boolean("STREAMFS_S3_FORCE_PATH_STYLE", &c.Storage.S3.ForcePathStyle)
	boolean("STREAMFS_S3_USE_CARGOSHIP", &c.Storage.S3.UseCargoShip)

	// Pool and monitoring
	duration("STREAMFS_POOL_IDLE_TIMEOUT", &c.Pool.IdleTimeout)
	boolean("STREAMFS_METRICS_ENABLED", &c.Monitoring.Metrics.Enabled)
	integer("STREAMFS_METRICS_PORT", &c.Monitoring.Metrics.Port)

	return firstErr
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		return invalid("global.log_level", err)
	}
	switch strings.ToLower(c.Global.LogFormat) {
	case "", "text", "json":
	default:
		return invalid("global.log_format", fmt.Errorf("must be text or json, got %q", c.Global.LogFormat))
	}
	if c.Global.LogMaxSize != "" {
		if _, err := utils.ParseBytes(c.Global.LogMaxSize); err != nil {
			return invalid("global.log_max_size", err)
		}
	}

	if _, err := c.ReadAheadBytes(); err != nil {
		return invalid("read_ahead.size", err)
	}

	prefix := c.Checksum.SidecarPrefix
	if !strings.HasPrefix(prefix, "/") || strings.Trim(prefix, "/") == "" {
		return invalid("checksum.sidecar_prefix", fmt.Errorf("must be an absolute path below /, got %q", prefix))
	}
	if _, err := checksum.ParseAlgorithm(c.Checksum.DefaultAlgorithm); err != nil {
		return invalid("checksum.default_algorithm", err)
	}
	if _, err := c.ChecksumAlgorithms(); err != nil {
		return invalid("checksum.algorithms", err)
	}
	if _, err := c.ChunkSizeBytes(); err != nil {
		return invalid("checksum.chunk_size", err)
	}
	if _, err := c.ReadSizeBytes(); err != nil {
		return invalid("checksum.read_size", err)
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Storage.Local.Root == "" {
			return invalid("storage.local.root", fmt.Errorf("required for the local backend"))
		}
	case BackendS3:
		if err := c.Storage.S3.Validate(); err != nil {
			return invalid("storage.s3", err)
		}
	default:
		return invalid("storage.backend", fmt.Errorf("must be one of %s, %s, %s; got %q",
			BackendMemory, BackendLocal, BackendS3, c.Storage.Backend))
	}

	if c.Pool.IdleTimeout < 0 || c.Pool.SweepInterval < 0 {
		return invalid("pool", fmt.Errorf("durations must not be negative"))
	}
	if c.Network.Retry.MaxAttempts < 1 {
		return invalid("network.retry.max_attempts", fmt.Errorf("must be at least 1"))
	}
	if cb := c.Network.CircuitBreaker; cb.Enabled && cb.FailureThreshold < 1 {
		return invalid("network.circuit_breaker.failure_threshold", fmt.Errorf("must be at least 1"))
	}
	if m := c.Monitoring.Metrics; m.Enabled && (m.Port < 0 || m.Port > 65535) {
		return invalid("monitoring.metrics.port", fmt.Errorf("out of range: %d", m.Port))
	}

	return nil
}

// ReadAheadBytes is the parsed read-ahead window size.
func (c *Configuration) ReadAheadBytes() (int, error) {
	return positiveSize(c.ReadAhead.Size)
}

// ChunkSizeBytes is the parsed CVMFS chunk size.
func (c *Configuration) ChunkSizeBytes() (int64, error) {
	n, err := positiveSize(c.Checksum.ChunkSize)
	return int64(n), err
}

// ReadSizeBytes is the parsed read size used when recomputing checksums.
func (c *Configuration) ReadSizeBytes() (int, error) {
	return positiveSize(c.Checksum.ReadSize)
}

// ChecksumAlgorithms resolves the configured write-time algorithms. An
// empty list means every supported algorithm.
func (c *Configuration) ChecksumAlgorithms() ([]checksum.Algorithm, error) {
	if len(c.Checksum.Algorithms) == 0 {
		return checksum.All(), nil
	}
	out := make([]checksum.Algorithm, 0, len(c.Checksum.Algorithms))
	for _, name := range c.Checksum.Algorithms {
		alg, err := checksum.ParseAlgorithm(name)
		if err != nil {
			return nil, err
		}
		out = append(out, alg)
	}
	return out, nil
}

func positiveSize(s string) (int, error) {
	n, err := utils.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("size must be positive, got %q", s)
	}
	return int(n), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func invalid(field string, err error) error {
	return errors.Wrap(errors.ErrCodeConfigValidation, err, "invalid "+field).
		WithComponent("config").WithContext("field", field)
}
