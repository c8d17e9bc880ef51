// Package kms splits soul keys into threshold shares and reconstructs them.
//
// Two schemes implement KeySharer:
//
// # PrimeFieldSharer
//
// Shamir sharing over GF(257), one polynomial per key byte. Coefficients are
// derived from the key with HKDF-SHA512, so a split is reproducible. Share
// data holds two big-endian bytes per key byte. Up to 256 shares.
//
// # VaultSharer
//
// Shamir sharing over GF(2^8) with fresh randomness, backed by
// github.com/hashicorp/vault/shamir. Up to 255 shares.
//
// Shares of both schemes carry the first 16 hex characters of SHA-256(key).
// Combine refuses shares with differing fingerprints before interpolating,
// and checks the reconstructed key against the fingerprint afterwards; too
// few shares are reported as a reconstruction failure.
//
// # ShareCollector
//
// ShareCollector accepts shares one at a time, optionally requiring each to
// be signed by a registered holder key, and reconstructs the key in memory
// once the threshold is reached:
//
//	collector, _ := kms.NewShareCollector(kms.NewPrimeFieldSharer(), 3)
//	_ = collector.RegisterHolder(holderPubPEM)
//	sig, _ := kms.SignShare(share, holderPriv)
//	_ = collector.SubmitSigned(share, sig, holderPubPEM)
//	key, err := collector.Key()
package kms
