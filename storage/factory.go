package storage

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ruteri/soulkeeper/interfaces"
)

// StorageBackendFactory creates storage backends from URI strings and manages
// multi-backend configurations for redundant storage.
type StorageBackendFactory struct {
	log     *slog.Logger
	tlsAuth func() (tls.Certificate, error)

	mu       *sync.Mutex
	memories map[string]*MemoryBackend
}

// NewStorageBackendFactory creates a new factory instance that can create storage backends.
func NewStorageBackendFactory(logger *slog.Logger) *StorageBackendFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &StorageBackendFactory{
		log:      logger,
		mu:       &sync.Mutex{},
		memories: make(map[string]*MemoryBackend),
	}
}

// WithTLSAuth returns a copy of the factory that authenticates to backends
// supporting client certificates (currently Vault) with the certificate
// returned by getCert. The certificate is requested lazily, once per backend.
func (sf *StorageBackendFactory) WithTLSAuth(getCert func() (tls.Certificate, error)) interfaces.StorageBackendFactory {
	clone := *sf
	clone.tlsAuth = getCert
	return &clone
}

// StorageBackendFor creates a storage backend from a location URI.
// The URI format should be [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - memory:// - Process-local storage, shared per name within a factory
//   - file:// - Local filesystem storage
//   - s3:// - Amazon S3 or compatible object storage
//   - ipfs:// - IPFS node, payloads kept in MFS
//   - vault:// - HashiCorp Vault KV v2
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (sf *StorageBackendFactory) StorageBackendFor(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	switch location.Scheme {
	case "memory":
		return sf.createMemoryBackend(location), nil
	case "file":
		return sf.createFileBackend(location)
	case "s3":
		return sf.createS3Backend(location)
	case "ipfs":
		return sf.createIPFSBackend(location)
	case "vault":
		return sf.createVaultBackend(location)
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme %q", interfaces.ErrInvalidLocationURI, location.Scheme)
	}
}

// StorageBackendForURI parses uri and creates the matching backend.
func (sf *StorageBackendFactory) StorageBackendForURI(uri string) (interfaces.StorageBackend, error) {
	location, err := interfaces.NewStorageBackendLocation(uri)
	if err != nil {
		return nil, err
	}
	return sf.StorageBackendFor(location)
}

// CreateMultiBackend creates a multi-storage backend from a list of locations.
// Locations that fail to produce a backend are logged and skipped.
// Returns an error if no valid backends could be created.
func (sf *StorageBackendFactory) CreateMultiBackend(locations []interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	backends := make([]interfaces.StorageBackend, 0, len(locations))

	for _, location := range locations {
		backend, err := sf.StorageBackendFor(location)
		if err != nil {
			sf.log.Warn("Failed to create storage backend",
				"err", err,
				slog.String("locationURI", redactLocation(location)))
			continue
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no valid storage backends created")
	}

	// A single backend needs no fan-out
	if len(backends) == 1 {
		return backends[0], nil
	}

	return NewMultiStorageBackend(backends, sf.log), nil
}

// CreateMultiBackendFromURIs parses every uri and calls CreateMultiBackend.
func (sf *StorageBackendFactory) CreateMultiBackendFromURIs(uris []string) (interfaces.StorageBackend, error) {
	locations, err := parseLocations(uris)
	if err != nil {
		return nil, err
	}
	return sf.CreateMultiBackend(locations)
}

func parseLocations(uris []string) ([]interfaces.StorageBackendLocation, error) {
	locations := make([]interfaces.StorageBackendLocation, 0, len(uris))
	for _, uri := range uris {
		location, err := interfaces.NewStorageBackendLocation(uri)
		if err != nil {
			return nil, err
		}
		locations = append(locations, location)
	}
	return locations, nil
}

// createMemoryBackend returns the memory backend registered under the host
// name, creating it on first use.
// URI format: memory://name
func (sf *StorageBackendFactory) createMemoryBackend(location interfaces.StorageBackendLocation) interfaces.StorageBackend {
	name := location.Host
	if name == "" {
		name = "default"
	}

	sf.mu.Lock()
	defer sf.mu.Unlock()

	if backend, ok := sf.memories[name]; ok {
		return backend
	}
	backend := NewMemoryBackend(name, sf.log)
	sf.memories[name] = backend
	return backend
}

// createFileBackend creates a file system storage backend.
// URI format: file:///absolute/path/ or file://./relative/path/
func (sf *StorageBackendFactory) createFileBackend(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	sf.log.Debug("Creating file backend", slog.String("uri", location.String()))

	path := location.Path
	if location.Host != "" {
		path = location.Host + "/" + strings.TrimPrefix(path, "/")
	}

	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI %s", interfaces.ErrInvalidLocationURI, location.String())
	}

	return NewFileBackend(path, sf.log)
}

// createS3Backend creates an S3 or S3-compatible storage backend.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket-name/prefix/?region=us-west-2&endpoint=http://minio:9000
// Without embedded credentials the default AWS credential chain applies.
func (sf *StorageBackendFactory) createS3Backend(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	sf.log.Debug("Creating S3 backend", slog.String("uri", redactLocation(location)))

	opts := S3Options{
		Bucket:   location.Host,
		Prefix:   strings.Trim(location.Path, "/"),
		Region:   location.GetParam("region"),
		Endpoint: location.GetParam("endpoint"),
	}

	if location.Auth != "" {
		accessKey, secretKey, _ := strings.Cut(location.Auth, ":")
		opts.AccessKey = accessKey
		opts.SecretKey = secretKey
		sf.log.Debug("Using embedded credentials for S3")
	}

	return NewS3Backend(opts, sf.log)
}

// createIPFSBackend creates an IPFS storage backend.
// URI format: ipfs://host:port/mfs/root?timeout=30s
func (sf *StorageBackendFactory) createIPFSBackend(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	sf.log.Debug("Creating IPFS backend", slog.String("uri", location.String()))

	host, port, found := strings.Cut(location.Host, ":")
	if !found || port == "" {
		port = "5001" // Default IPFS API port
	}
	if host == "" {
		host = "localhost"
	}

	timeout := 30 * time.Second
	if raw := location.GetParam("timeout"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid IPFS timeout %q", interfaces.ErrInvalidLocationURI, raw)
		}
		timeout = parsed
	}

	return NewIPFSBackend(host, port, location.Path, timeout, sf.log)
}

// createVaultBackend creates a Vault KV v2 backend.
// URI format: vault://[token@]vault.example.com:8200/mount/data/path?scheme=http
// Without an embedded token, the Vault client reads VAULT_TOKEN. When the
// factory carries TLS auth, the client certificate is attached.
func (sf *StorageBackendFactory) createVaultBackend(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	sf.log.Debug("Creating Vault backend", slog.String("uri", redactLocation(location)))

	scheme := location.GetParam("scheme")
	if scheme == "" {
		scheme = "https"
	}

	mountPath, dataPath, _ := strings.Cut(strings.Trim(location.Path, "/"), "/")

	opts := VaultOptions{
		Address:   fmt.Sprintf("%s://%s", scheme, location.Host),
		MountPath: mountPath,
		DataPath:  dataPath,
		Token:     location.Auth,
	}

	if sf.tlsAuth != nil {
		cert, err := sf.tlsAuth()
		if err != nil {
			return nil, fmt.Errorf("failed to obtain TLS client certificate: %w", err)
		}
		opts.ClientCert = &cert
	}

	return NewVaultBackend(opts, sf.log)
}

// redactLocation drops credentials from a location for logging.
func redactLocation(location interfaces.StorageBackendLocation) string {
	if location.Auth == "" {
		return location.String()
	}
	return strings.Replace(location.String(), location.Auth+"@", "***@", 1)
}
