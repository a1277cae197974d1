package storage

import (
	"fmt"
	"strings"

	"github.com/fluxbase-eu/mediapack/internal/config"
)

// NewProvider creates the storage provider named by the publish config
func NewProvider(cfg *config.PublishConfig) (Provider, error) {
	if err := cfg.ValidateCredentials(); err != nil {
		return nil, err
	}

	switch strings.ToLower(cfg.Provider) {
	case "local":
		provider, err := NewLocalStorage(cfg.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize local storage: %w", err)
		}
		return provider, nil

	case "s3":
		endpoint, useSSL := s3Endpoint(cfg.S3Endpoint, cfg.S3UseSSL)
		provider, err := NewS3Storage(
			endpoint,
			cfg.S3AccessKey,
			cfg.S3SecretKey,
			cfg.S3Bucket,
			cfg.S3Region,
			useSSL,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		return provider, nil

	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.Provider)
	}
}

// s3Endpoint strips a scheme from endpoint. An explicit scheme decides
// SSL; otherwise useSSL does.
func s3Endpoint(endpoint string, useSSL bool) (string, bool) {
	switch {
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimPrefix(endpoint, "http://"), false
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimPrefix(endpoint, "https://"), true
	}
	return endpoint, useSSL
}
