/*
Package config loads streamfs configuration from defaults, a YAML file and
the environment.

# Precedence

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│           (STREAMFS_*)                      │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File                  │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	│           (NewDefault)                      │
	└─────────────────────────────────────────────┘

Callers apply the layers in order and validate once:

	cfg := config.NewDefault()
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

# Example

	global:
	  log_level: INFO
	  log_format: json
	  log_file: /var/log/streamfs/streamfs.log
	read_ahead:
	  size: 32KiB
	checksum:
	  sidecar_prefix: /cksums
	  default_algorithm: ADLER32
	  algorithms: [ADLER32, MD5, CVMFS]
	  chunk_size: 24MiB
	storage:
	  backend: s3
	  s3:
	    bucket: physics-data
	    region: us-east-1
	    root_prefix: store
	    use_cargoship: true
	pool:
	  idle_timeout: 10m
	network:
	  circuit_breaker:
	    enabled: true
	    failure_threshold: 5
	    timeout: 60s
	monitoring:
	  metrics:
	    enabled: true
	    port: 9100

Sizes accept binary suffixes (KiB, MiB, GiB, or K, M, G). Durations use Go
duration syntax.

# Environment Variables

	STREAMFS_LOG_LEVEL, STREAMFS_LOG_FORMAT, STREAMFS_LOG_FILE
	STREAMFS_READ_AHEAD_SIZE
	STREAMFS_CHECKSUM_SIDECAR_PREFIX, STREAMFS_CHECKSUM_DEFAULT_ALGORITHM,
	STREAMFS_CHECKSUM_ALGORITHMS (comma separated), STREAMFS_CHECKSUM_CHUNK_SIZE,
	STREAMFS_CHECKSUM_PURGE_STALE_SIDECAR
	STREAMFS_STORAGE_BACKEND, STREAMFS_LOCAL_ROOT
	STREAMFS_S3_BUCKET, STREAMFS_S3_REGION, STREAMFS_S3_ENDPOINT,
	STREAMFS_S3_ROOT_PREFIX, STREAMFS_S3_FORCE_PATH_STYLE, STREAMFS_S3_USE_CARGOSHIP
	STREAMFS_POOL_IDLE_TIMEOUT
	STREAMFS_METRICS_ENABLED, STREAMFS_METRICS_PORT

S3 credentials come from the standard AWS chain (AWS_ACCESS_KEY_ID,
AWS_PROFILE, instance roles) unless storage.s3.access_key_id is set.
*/
package config
