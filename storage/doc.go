// Package storage persists encrypted soul payloads.
//
// Payloads are opaque to this package: they are produced by the soul codec
// and stored content-addressed, identified by the SHA-256 of their bytes.
//
// # Backends
//
// A StorageBackend stores and fetches blobs by content id. Backends are
// created from location URIs of the form [scheme]://[auth@]host[:port][/path][?params]:
//
//   - memory://name - process memory, shared per name within one factory
//   - file:///var/lib/soulkeeper/ - local file system
//   - s3://[KEY:SECRET@]bucket/prefix/?region=us-west-2&endpoint=... - S3 or compatible
//   - ipfs://localhost:5001/souls?timeout=30s - IPFS node, payloads kept in MFS
//   - vault://[token@]vault.example.com:8200/secret/souls - Vault KV v2
//
// MultiStorageBackend replicates every payload to all of its backends and
// reads from the first one that returns bytes matching the requested id.
//
// # Soul stores
//
// BlobSoulStore implements interfaces.SoulStore on a backend plus an
// AgentIndex, which maps agent ids to uploads newest first. Indexes are
// opened from URIs as well:
//
//   - memory://
//   - sqlite:///var/lib/soulkeeper/index.db
//   - redis://localhost:6379/0?prefix=prod:
//
// GatewayStore implements the same interface against a remote soul gateway.
//
// # Example
//
//	cfg, err := storage.LoadConfig("soulkeeper.yaml")
//	if err != nil {
//	    return err
//	}
//	store, err := cfg.OpenSoulStore(ctx, storage.NewStorageBackendFactory(log), log)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//	receipt, err := store.Upload(ctx, payload, map[string]string{interfaces.AgentIDTag: "agent-7"})
package storage
