package storage

import (
	"context"
	"crypto/tls"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ruteri/soulkeeper/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageBackendFactory_StorageBackendFor(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name      string
		uri       string
		wantType  interfaces.StorageBackend
		wantName  string
		expectErr bool
	}{
		{
			name:     "memory",
			uri:      "memory://cache",
			wantType: &MemoryBackend{},
			wantName: "memory-cache",
		},
		{
			name:     "file",
			uri:      "file://" + dir,
			wantType: &FileBackend{},
			wantName: "file-" + filepath.Base(dir),
		},
		{
			name:     "s3 with credentials",
			uri:      "s3://AKID:SECRET@soul-bucket/agents/?region=eu-west-1&endpoint=http://localhost:9000",
			wantType: &S3Backend{},
			wantName: "s3-soul-bucket",
		},
		{
			name:     "ipfs",
			uri:      "ipfs://localhost:5001/souls?timeout=5s",
			wantType: &IPFSBackend{},
			wantName: "ipfs-localhost:5001",
		},
		{
			name:     "vault",
			uri:      "vault://vault.example.com:8200/secret/souls",
			wantType: &VaultBackend{},
			wantName: "vault-secret-souls",
		},
		{
			name:      "bad ipfs timeout",
			uri:       "ipfs://localhost:5001/?timeout=soon",
			expectErr: true,
		},
		{
			name:      "unsupported scheme",
			uri:       "ftp://archive.example.com/souls",
			expectErr: true,
		},
	}

	factory := NewStorageBackendFactory(discardLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend, err := factory.StorageBackendForURI(tt.uri)
			if tt.expectErr {
				assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, backend)
			assert.Equal(t, tt.wantName, backend.Name())
		})
	}
}

func TestStorageBackendFactory_S3LocationRedactsSecret(t *testing.T) {
	factory := NewStorageBackendFactory(discardLogger())
	backend, err := factory.StorageBackendForURI("s3://AKID:SECRET@bucket/prefix")
	require.NoError(t, err)
	assert.NotContains(t, backend.LocationURI(), "SECRET")
	assert.Equal(t, "s3://***@bucket/prefix", redactLocation(mustLocation(t, "s3://AKID:SECRET@bucket/prefix")))
}

func TestStorageBackendFactory_MemoryIsShared(t *testing.T) {
	ctx := context.Background()
	factory := NewStorageBackendFactory(discardLogger())

	a, err := factory.StorageBackendForURI("memory://shared")
	require.NoError(t, err)
	b, err := factory.StorageBackendForURI("memory://shared")
	require.NoError(t, err)

	id, err := a.Store(ctx, []byte("soul"))
	require.NoError(t, err)
	got, err := b.Fetch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("soul"), got)
}

func TestStorageBackendFactory_CreateMultiBackend(t *testing.T) {
	factory := NewStorageBackendFactory(discardLogger())

	single, err := factory.CreateMultiBackendFromURIs([]string{"memory://one"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryBackend{}, single)

	multi, err := factory.CreateMultiBackendFromURIs([]string{"memory://one", "file://" + t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &MultiStorageBackend{}, multi)

	_, err = factory.CreateMultiBackendFromURIs([]string{"ftp://nowhere"})
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	// Backends that fail to build are skipped
	_, err = factory.CreateMultiBackend([]interfaces.StorageBackendLocation{mustLocation(t, "ipfs://host:1/?timeout=x")})
	assert.Error(t, err)
}

func TestStorageBackendFactory_WithTLSAuth(t *testing.T) {
	factory := NewStorageBackendFactory(discardLogger())

	calls := 0
	withAuth := factory.WithTLSAuth(func() (tls.Certificate, error) {
		calls++
		return tls.Certificate{}, errors.New("no certificate yet")
	})

	_, err := withAuth.StorageBackendFor(mustLocation(t, "vault://vault:8200/secret/souls"))
	assert.ErrorContains(t, err, "no certificate yet")
	assert.Equal(t, 1, calls)

	// Backends without client auth ignore the callback
	_, err = withAuth.StorageBackendFor(mustLocation(t, "memory://x"))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	// The original factory is unchanged
	_, err = factory.StorageBackendFor(mustLocation(t, "vault://vault:8200/secret/souls"))
	require.NoError(t, err)
}

func mustLocation(t *testing.T, uri string) interfaces.StorageBackendLocation {
	t.Helper()
	location, err := interfaces.NewStorageBackendLocation(uri)
	require.NoError(t, err)
	return location
}
