package s3

import (
	"sync"
	"time"
)

// BackendMetrics tracks S3 backend request counters.
type BackendMetrics struct {
	Requests        int64         `json:"requests"`
	Errors          int64         `json:"errors"`
	BytesUploaded   int64         `json:"bytes_uploaded"`
	BytesDownloaded int64         `json:"bytes_downloaded"`
	AverageLatency  time.Duration `json:"average_latency"`
	LastError       string        `json:"last_error"`
	LastErrorTime   time.Time     `json:"last_error_time"`

	// Upload path counters
	CargoShipUploads int64 `json:"cargoship_uploads"`
	FallbackUploads  int64 `json:"fallback_uploads"`
}

// metricsCollector guards BackendMetrics for concurrent handles.
type metricsCollector struct {
	mu      sync.RWMutex
	metrics BackendMetrics
}

func (mc *metricsCollector) request(duration time.Duration, err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.metrics.Requests++
	if err != nil {
		mc.metrics.Errors++
		mc.metrics.LastError = err.Error()
		mc.metrics.LastErrorTime = time.Now()
	}

	// rolling average, weighted toward history
	if mc.metrics.Requests == 1 {
		mc.metrics.AverageLatency = duration
	} else {
		mc.metrics.AverageLatency = time.Duration(
			(int64(mc.metrics.AverageLatency)*9 + int64(duration)) / 10,
		)
	}
}

func (mc *metricsCollector) downloaded(n int) {
	mc.mu.Lock()
	mc.metrics.BytesDownloaded += int64(n)
	mc.mu.Unlock()
}

func (mc *metricsCollector) uploaded(n int, viaCargoShip bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.metrics.BytesUploaded += int64(n)
	if viaCargoShip {
		mc.metrics.CargoShipUploads++
	} else {
		mc.metrics.FallbackUploads++
	}
}

func (mc *metricsCollector) snapshot() BackendMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.metrics
}
