package objectstore

import (
	"errors"
	"strings"

	"github.com/conveyor-labs/conveyor-go/internal/platform/env"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("CONVEYOR_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:  env.String("CONVEYOR_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey: env.String("CONVEYOR_MINIO_ACCESS_KEY", "conveyor"),
		SecretKey: env.String("CONVEYOR_MINIO_SECRET_KEY", "conveyorminio"),
		Region:    env.String("CONVEYOR_MINIO_REGION", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    env.String("CONVEYOR_MINIO_BUCKET_ARTIFACTS", "artifacts"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return errors.New("endpoint must not include a scheme")
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
		return errors.New("artifacts bucket is required")
	}
	return nil
}
