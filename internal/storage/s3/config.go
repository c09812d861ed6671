package s3

import (
	"fmt"
	"strings"

	awsconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"

	"github.com/objectfs/streamfs/pkg/errors"
)

// Config contains S3 backend configuration.
type Config struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`

	// Static credentials. When AccessKeyID is empty the default AWS
	// credential chain is used.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`

	ForcePathStyle bool   `yaml:"force_path_style"`
	RootPrefix     string `yaml:"root_prefix"`
	MaxRetries     int    `yaml:"max_retries"`

	// Upload settings
	UseCargoShip bool   `yaml:"use_cargoship"`
	StorageClass string `yaml:"storage_class"`
	Concurrency  int    `yaml:"concurrency"`
}

// NewDefaultConfig creates a new S3 config with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Region:       "us-east-1",
		MaxRetries:   3,
		UseCargoShip: true,
		StorageClass: "STANDARD",
		Concurrency:  8,
	}
}

// Validate checks the configuration for values NewBackend cannot work with.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return errors.NewError(errors.ErrCodeInvalidConfig, "bucket name cannot be empty").
			WithComponent("s3")
	}
	if c.Region == "" {
		return errors.NewError(errors.ErrCodeInvalidConfig, "region cannot be empty").
			WithComponent("s3")
	}
	if c.MaxRetries < 0 {
		return errors.Newf(errors.ErrCodeInvalidConfig, "max_retries must be >= 0, got %d", c.MaxRetries).
			WithComponent("s3")
	}
	if c.AccessKeyID != "" && c.SecretAccessKey == "" {
		return errors.NewError(errors.ErrCodeInvalidConfig, "secret_access_key is required with access_key_id").
			WithComponent("s3")
	}
	if c.Concurrency < 0 {
		return errors.Newf(errors.ErrCodeInvalidConfig, "concurrency must be >= 0, got %d", c.Concurrency).
			WithComponent("s3")
	}
	if _, err := parseStorageClass(c.StorageClass); err != nil {
		return err
	}
	return nil
}

// parseStorageClass maps a configured storage class name onto the cargoship
// constant. An empty name means STANDARD.
func parseStorageClass(name string) (awsconfig.StorageClass, error) {
	switch strings.ToUpper(name) {
	case "", "STANDARD":
		return awsconfig.StorageClassStandard, nil
	case "STANDARD_IA":
		return awsconfig.StorageClassStandardIA, nil
	case "ONEZONE_IA":
		return awsconfig.StorageClassOneZoneIA, nil
	case "INTELLIGENT_TIERING":
		return awsconfig.StorageClassIntelligentTiering, nil
	case "GLACIER":
		return awsconfig.StorageClassGlacier, nil
	case "DEEP_ARCHIVE":
		return awsconfig.StorageClassDeepArchive, nil
	default:
		return awsconfig.StorageClassStandard, errors.NewError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("unknown storage class %q", name)).WithComponent("s3")
	}
}
