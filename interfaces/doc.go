// Package interfaces defines the shared types and contracts of the soul
// persistence system, separating them from their implementations.
//
// # Identity Model
//
// Soul is the identity record of an agent: an ordered list of Fragment values
// plus provenance metadata. Fragment payloads and metadata entries are Value
// instances, a tagged union over JSON data. Both serialize to a canonical JSON
// form (sorted keys, no whitespace, ASCII-only strings, fixed float notation)
// which is what the codec encrypts and what Merkle leaves hash.
//
// # Key Material
//
// KeyShare is one share of a split 32-byte key, tagged with the key's
// fingerprint. Shares round-trip through the text form
// "index:hexdata:fingerprint" for out-of-band distribution.
//
// # Storage Interfaces
//
// SoulStore: the durable object store souls are uploaded to, downloaded from
// and searched in by agent id.
//
// StorageBackend: content-addressed blob storage (memory, file, S3, IPFS,
// Vault) used to build SoulStore implementations.
//
// AgentIndex: the agent to object id index backing SoulStore search.
//
// # Errors
//
// Every failure of the codec, the key sharer and the stores is reported with
// a sentinel error from this package, wrapped with context. Callers branch
// with errors.Is.
package interfaces
