/*
Package adapter assembles the streamfs data path from a configuration.

The Adapter is the one place that knows how the pieces fit:

	┌─────────────────────────────────────────────┐
	│        Hosts (FUSE handles, CLI)            │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│   gateway.FileSystem                        │
	│   read-ahead windows, digests, sidecars     │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│   pool.Pool (one backend per identity)      │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│   circuit.Guard ──► memory | local | s3     │
	└─────────────────────────────────────────────┘

Every identity gets its own circuit breaker. Breaker transitions are logged
and mirrored into a health.Tracker that the metrics server answers /health
from: an open breaker makes the gateway report unavailable.

# Storage URIs

A storage URI given to New overrides storage.backend:

	s3://bucket                 S3 bucket
	s3://bucket/path/prefix     S3 bucket, keys below prefix
	file:///srv/data            local directory
	mem://                      process-local memory, for tests and dry runs

# Lifecycle

	a, err := adapter.New(ctx, "s3://physics-data/store", cfg, logger)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer a.Stop(ctx)

	f, err := a.FileSystem().Open(ctx, id, "/run1.root", types.ReadOnly)

One-shot tools skip Start and call Close when done.
*/
package adapter
