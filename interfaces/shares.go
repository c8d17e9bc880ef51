package interfaces

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// FingerprintLength is the number of hex characters in a key fingerprint.
const FingerprintLength = 16

// KeyFingerprint returns the first 16 hex characters of SHA-256(key). Shares
// carry it so that shares of different keys are never combined and a
// reconstruction can be checked.
func KeyFingerprint(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:])[:FingerprintLength]
}

// KeyShare is one share of a split key. It reveals nothing about the key on
// its own and is safe to hand to a single holder.
type KeyShare struct {
	Index       int    // 1-based evaluation point
	Data        []byte // scheme-specific share bytes
	Fingerprint string // KeyFingerprint of the original key
}

// String renders the share as "index:hexdata:fingerprint".
func (s KeyShare) String() string {
	return fmt.Sprintf("%d:%s:%s", s.Index, hex.EncodeToString(s.Data), s.Fingerprint)
}

// MarshalText implements encoding.TextMarshaler using the share text form.
func (s KeyShare) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *KeyShare) UnmarshalText(text []byte) error {
	parsed, err := ParseKeyShare(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseKeyShare parses the "index:hexdata:fingerprint" form produced by String.
func ParseKeyShare(text string) (KeyShare, error) {
	parts := strings.Split(strings.TrimSpace(text), ":")
	if len(parts) != 3 {
		return KeyShare{}, fmt.Errorf("%w: expected 3 colon-separated fields, got %d", ErrInvalidShareEncoding, len(parts))
	}

	index, err := strconv.Atoi(parts[0])
	if err != nil || index < 1 {
		return KeyShare{}, fmt.Errorf("%w: index must be a positive integer", ErrInvalidShareEncoding)
	}

	data, err := hex.DecodeString(parts[1])
	if err != nil {
		return KeyShare{}, fmt.Errorf("%w: share data is not hex: %v", ErrInvalidShareEncoding, err)
	}

	fingerprint := strings.ToLower(parts[2])
	if len(fingerprint) != FingerprintLength {
		return KeyShare{}, fmt.Errorf("%w: fingerprint must be %d hex characters", ErrInvalidShareEncoding, FingerprintLength)
	}
	if _, err := hex.DecodeString(fingerprint); err != nil {
		return KeyShare{}, fmt.Errorf("%w: fingerprint is not hex", ErrInvalidShareEncoding)
	}

	return KeyShare{Index: index, Data: data, Fingerprint: fingerprint}, nil
}
