package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/objectfs/streamfs/pkg/errors"
	"github.com/objectfs/streamfs/pkg/types"
)

// Collector records streamfs metrics into its own Prometheus registry.
type Collector struct {
	config   *Config
	registry *prometheus.Registry
	logger   *slog.Logger

	readAheadRequests *prometheus.CounterVec
	readAheadBytes    *prometheus.CounterVec
	readAheadUsed     prometheus.Histogram
	checksumOps       *prometheus.CounterVec
	checksumDuration  *prometheus.HistogramVec

	health http.Handler
	server *http.Server
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// DefaultConfig returns the metrics defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Port:      9100,
		Path:      "/metrics",
		Namespace: "streamfs",
	}
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}

	c := &Collector{
		config: config,
		logger: slog.Default().With("component", "metrics"),
	}
	if !config.Enabled {
		return c, nil
	}

	c.registry = prometheus.NewRegistry()
	c.initMetrics()
	if err := c.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return c, nil
}

// Enabled reports whether the collector records anything.
func (c *Collector) Enabled() bool { return c.config.Enabled }

// Registry returns the collector's registry, nil when disabled.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	if c.config.Enabled {
		mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}
	if c.health != nil {
		mux.Handle("/health", c.health)
	} else {
		mux.HandleFunc("/health", c.healthHandler)
	}
	return mux
}

// SetHealthHandler replaces the static /health answer. Call before Start.
func (c *Collector) SetHealthHandler(h http.Handler) { c.health = h }

// Start serves Handler on the configured port in the background.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled || c.config.Port == 0 {
		return nil
	}

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           c.Handler(),
		ReadHeaderTimeout: 30 * time.Second, // Prevent Slowloris attacks
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("Metrics server error", "error", err)
		}
	}()
	c.logger.Info("Metrics endpoint started", "port", c.config.Port, "path", c.config.Path)
	return nil
}

// Stop stops the metrics server.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// RecordReadAhead adds the counters of one closed read handle.
func (c *Collector) RecordReadAhead(st types.ReadAheadStats) {
	if !c.config.Enabled {
		return
	}
	c.readAheadRequests.WithLabelValues("hit").Add(float64(st.Hits))
	c.readAheadRequests.WithLabelValues("partial_hit").Add(float64(st.PartialHits))
	c.readAheadRequests.WithLabelValues("miss").Add(float64(st.Misses))
	c.readAheadRequests.WithLabelValues("bypass").Add(float64(st.Bypassed))
	c.readAheadBytes.WithLabelValues("used").Add(float64(st.BytesUsed))
	c.readAheadBytes.WithLabelValues("loaded").Add(float64(st.BytesLoaded))
	if st.BytesLoaded > 0 {
		c.readAheadUsed.Observe(st.UsedPercent() / 100)
	}
}

// RecordChecksumOperation records one checksum manager operation.
func (c *Collector) RecordChecksumOperation(op, algorithm string, duration time.Duration, err error) {
	if !c.config.Enabled {
		return
	}
	c.checksumOps.WithLabelValues(op, strings.ToUpper(algorithm), classifyError(err)).Inc()
	c.checksumDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RegisterPool exports connection pool gauges sampled from stats on every
// scrape.
func (c *Collector) RegisterPool(stats func() types.PoolStats) error {
	if !c.config.Enabled {
		return nil
	}
	gauge := func(state string, pick func(types.PoolStats) int) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   c.config.Namespace,
			Name:        "pool_connections",
			Help:        "Backend connections held by the pool",
			ConstLabels: prometheus.Labels{"state": state},
		}, func() float64 { return float64(pick(stats())) })
	}
	for _, g := range []prometheus.Collector{
		gauge("open", func(s types.PoolStats) int { return s.Open }),
		gauge("in_use", func(s types.PoolStats) int { return s.InUse }),
		gauge("idle", func(s types.PoolStats) int { return s.Idle }),
	} {
		if err := c.registry.Register(g); err != nil {
			return fmt.Errorf("failed to register pool gauge: %w", err)
		}
	}
	return nil
}

func (c *Collector) initMetrics() {
	c.readAheadRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Name:      "readahead_requests_total",
			Help:      "Read requests by read-ahead outcome",
		},
		[]string{"outcome"},
	)

	c.readAheadBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Name:      "readahead_bytes_total",
			Help:      "Bytes served from the window (used) and read ahead of requests (loaded)",
		},
		[]string{"kind"},
	)

	c.readAheadUsed = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: c.config.Namespace,
			Name:      "readahead_used_ratio",
			Help:      "Share of read-ahead bytes later used, per closed handle",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		},
	)

	c.checksumOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Name:      "checksum_operations_total",
			Help:      "Checksum manager operations",
		},
		[]string{"operation", "algorithm", "status"},
	)

	c.checksumDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.config.Namespace,
			Name:      "checksum_operation_duration_seconds",
			Help:      "Duration of checksum manager operations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
		[]string{"operation"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.readAheadRequests,
		c.readAheadBytes,
		c.readAheadUsed,
		c.checksumOps,
		c.checksumDuration,
	}
	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}
	return nil
}

func classifyError(err error) string {
	if err == nil {
		return "success"
	}
	if code := errors.CodeOf(err); code != "" {
		return strings.ToLower(string(code))
	}
	return "other"
}

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"streamfs-metrics"}`))
}
