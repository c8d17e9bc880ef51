package kms

import (
	"fmt"

	"github.com/hashicorp/vault/shamir"
	"github.com/ruteri/soulkeeper/cryptoutils"
	"github.com/ruteri/soulkeeper/interfaces"
)

// MaxVaultShares is the share count limit of the GF(2^8) scheme.
const MaxVaultShares = 255

// VaultSharer splits keys with HashiCorp Vault's Shamir implementation over
// GF(2^8). Unlike PrimeFieldSharer its polynomials use fresh randomness, so
// two splits of the same key produce unrelated shares. Share data is the raw
// Vault part (secret length + 1 bytes, the x coordinate last); shares from
// the two schemes are not interchangeable.
type VaultSharer struct{}

// NewVaultSharer returns a VaultSharer.
func NewVaultSharer() *VaultSharer {
	return &VaultSharer{}
}

// Split implements KeySharer.
func (VaultSharer) Split(key []byte, threshold, shareCount int) ([]byte, []interfaces.KeyShare, error) {
	if key == nil {
		generated, err := cryptoutils.GenerateKey()
		if err != nil {
			return nil, nil, err
		}
		key = generated
	}

	if len(key) != cryptoutils.KeySize {
		return nil, nil, fmt.Errorf("%w: got %d", interfaces.ErrInvalidKeyLength, len(key))
	}
	if err := validateThreshold(threshold, shareCount, MaxVaultShares); err != nil {
		return nil, nil, err
	}

	parts, err := shamir.Split(key, shareCount, threshold)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to split key: %w", err)
	}

	fingerprint := interfaces.KeyFingerprint(key)
	shares := make([]interfaces.KeyShare, len(parts))
	for i, part := range parts {
		shares[i] = interfaces.KeyShare{Index: i + 1, Data: part, Fingerprint: fingerprint}
	}
	return key, shares, nil
}

// Combine implements KeySharer.
func (VaultSharer) Combine(shares []interfaces.KeyShare) ([]byte, error) {
	if err := checkShareSet(shares); err != nil {
		return nil, err
	}

	seen := make(map[int]bool, len(shares))
	parts := make([][]byte, len(shares))
	for i, share := range shares {
		if seen[share.Index] {
			return nil, fmt.Errorf("%w: duplicate share index %d", interfaces.ErrShareReconstructionFailed, share.Index)
		}
		seen[share.Index] = true
		parts[i] = share.Data
	}

	key, err := shamir.Combine(parts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrShareReconstructionFailed, err)
	}

	if interfaces.KeyFingerprint(key) != shares[0].Fingerprint {
		cryptoutils.WipeBytes(key)
		return nil, fmt.Errorf("%w: reconstructed key does not match fingerprint", interfaces.ErrShareReconstructionFailed)
	}
	return key, nil
}

// SharerByName returns the sharer for a scheme name as used on the command
// line: "prime" (default) or "vault".
func SharerByName(name string) (KeySharer, error) {
	switch name {
	case "", "prime", "gf257":
		return NewPrimeFieldSharer(), nil
	case "vault", "gf256":
		return NewVaultSharer(), nil
	default:
		return nil, fmt.Errorf("unknown sharing scheme %q", name)
	}
}
