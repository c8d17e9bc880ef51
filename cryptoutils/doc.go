// Package cryptoutils holds the soul payload codec and key helpers.
//
// SoulCodec produces version 1 payloads:
//
//	magic "ATMAN" (5) | version 0x01 (1) | nonce (12) | plaintext length (4, BE) | AES-256-GCM ciphertext + tag
//
// The plaintext is the zlib-compressed canonical JSON of the soul; the magic
// is the associated data. Decode reports each failure with its own sentinel
// from the interfaces package.
//
// Key helpers generate random soul keys, derive keys from passphrases with
// Argon2id, and seal data (usually key shares) to a holder's P-256 public key
// for out-of-band distribution.
package cryptoutils
