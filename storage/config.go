package storage

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/ruteri/soulkeeper/interfaces"
	"gopkg.in/yaml.v3"
)

// Config describes where souls are stored. It is read from a YAML file:
//
//	backends:
//	  - file:///var/lib/soulkeeper
//	  - s3://soul-archive/prod/?region=eu-west-1
//	index: sqlite:///var/lib/soulkeeper/index.db
//	rateLimit:
//	  uploadsPerSecond: 5
//	  burst: 10
//	clientTLS:
//	  certFile: /etc/soulkeeper/client.crt
//	  keyFile: /etc/soulkeeper/client.key
type Config struct {
	Backends  []string        `yaml:"backends"`
	Index     string          `yaml:"index"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	ClientTLS ClientTLSConfig `yaml:"clientTLS"`
}

// ClientTLSConfig is the client certificate presented to backends that
// support TLS client authentication (Vault).
type ClientTLSConfig struct {
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
}

func (c ClientTLSConfig) enabled() bool {
	return c.CertFile != ""
}

func (c ClientTLSConfig) load() (tls.Certificate, error) {
	return tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
}

// RateLimitConfig bounds uploads per client. Zero disables limiting.
type RateLimitConfig struct {
	UploadsPerSecond float64 `yaml:"uploadsPerSecond"`
	Burst            int     `yaml:"burst"`
}

// DefaultConfig keeps everything in memory.
func DefaultConfig() Config {
	return Config{
		Backends: []string{"memory://souls"},
		Index:    "memory://",
	}
}

// LoadConfig reads a YAML config file. An empty path returns DefaultConfig.
// Fields missing from the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if len(parsed.Backends) > 0 {
		cfg.Backends = parsed.Backends
	}
	if parsed.Index != "" {
		cfg.Index = parsed.Index
	}
	cfg.RateLimit = parsed.RateLimit
	cfg.ClientTLS = parsed.ClientTLS

	return cfg, cfg.Validate()
}

// Validate checks every URI parses and the rate limit is sane.
func (c Config) Validate() error {
	if len(c.Backends) == 0 {
		return errors.New("at least one storage backend is required")
	}
	if _, err := parseLocations(c.Backends); err != nil {
		return err
	}
	if c.RateLimit.UploadsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return errors.New("rate limit must not be negative")
	}
	if c.RateLimit.UploadsPerSecond > 0 && c.RateLimit.Burst == 0 {
		return errors.New("rate limit burst must be positive")
	}
	if (c.ClientTLS.CertFile == "") != (c.ClientTLS.KeyFile == "") {
		return errors.New("clientTLS needs both certFile and keyFile")
	}
	return nil
}

// OpenSoulStore builds the backends and index described by the config.
func (c Config) OpenSoulStore(ctx context.Context, factory *StorageBackendFactory, log *slog.Logger) (*BlobSoulStore, error) {
	if factory == nil {
		factory = NewStorageBackendFactory(log)
	}

	locations, err := parseLocations(c.Backends)
	if err != nil {
		return nil, err
	}

	var backends interfaces.StorageBackendFactory = factory
	if c.ClientTLS.enabled() {
		backends = factory.WithTLSAuth(c.ClientTLS.load)
	}
	backend, err := backends.CreateMultiBackend(locations)
	if err != nil {
		return nil, err
	}

	index, err := OpenIndex(ctx, c.Index)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	return NewBlobSoulStore(backend, index, log), nil
}
