package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/analyses-go/internal/platform/env"
)

// Config describes the S3-compatible endpoint that receives archived run
// outputs. An empty Endpoint disables archiving.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("ANALYSES_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:  env.String("ANALYSES_MINIO_ENDPOINT", ""),
		AccessKey: env.String("ANALYSES_MINIO_ACCESS_KEY", "analyses"),
		SecretKey: env.String("ANALYSES_MINIO_SECRET_KEY", "analysesminio"),
		Region:    env.String("ANALYSES_MINIO_REGION", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    env.String("ANALYSES_MINIO_BUCKET", "analysis-results"),
		Prefix:    env.String("ANALYSES_MINIO_PREFIX", "runs"),
	}
	if !cfg.Enabled() {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
