/*
Package metrics exports streamfs counters through Prometheus.

# Overview

A Collector owns a private Prometheus registry and exposes it over HTTP:

	┌─────────────┐
	│  Collector  │  ← RecordReadAhead / RecordChecksumOperation
	└──────┬──────┘
	       │
	   ┌───┴────────────────────────────┐
	   │                                │
	┌──▼───────────┐         ┌─────────▼──────┐
	│  Prometheus  │         │  HTTP Endpoints │
	│   Registry   │         │  /metrics       │
	│              │         │  /health        │
	└──────────────┘         └─────────────────┘

The gateway reports the read-ahead counters of every closed read handle, the
checksum manager reports one observation per operation, and the connection
pool is sampled on scrape through gauge functions.

# Exported series

	streamfs_readahead_requests_total{outcome}     hit, partial_hit, miss, bypass
	streamfs_readahead_bytes_total{kind}           used, loaded
	streamfs_readahead_used_ratio                  histogram, one sample per handle
	streamfs_checksum_operations_total{operation,algorithm,status}
	streamfs_checksum_operation_duration_seconds{operation}
	streamfs_pool_connections{state}               open, in_use, idle

The status label is "success" or the lower-cased error code, for example
"not_found" or "backend_io".

# Usage

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      9100,
		Path:      "/metrics",
		Namespace: "streamfs",
	})
	if err != nil {
		return err
	}
	collector.RegisterPool(pool.Stats)
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(context.Background())

A disabled collector accepts every call and records nothing.
*/
package metrics
