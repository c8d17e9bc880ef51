package interfaces

import "errors"

// Codec errors. Every check performed while decoding a payload maps to
// exactly one of these.
var (
	// ErrPayloadTooShort is returned when a payload is shorter than the fixed header.
	ErrPayloadTooShort = errors.New("payload too short")

	// ErrBadMagic is returned when the payload does not start with the format tag.
	ErrBadMagic = errors.New("invalid magic bytes")

	// ErrUnsupportedVersion is returned for an unknown format version byte.
	ErrUnsupportedVersion = errors.New("unsupported format version")

	// ErrDecryptionFailed covers a wrong key as well as a tampered ciphertext.
	ErrDecryptionFailed = errors.New("decryption failed (wrong key or corrupted data)")

	// ErrDecompressionFailed is returned when the authenticated plaintext is not a valid zlib stream.
	ErrDecompressionFailed = errors.New("decompression failed")

	// ErrSizeMismatch is returned when the decompressed length differs from the header.
	ErrSizeMismatch = errors.New("size mismatch")

	// ErrMalformedContent is returned when the decrypted document is not a valid soul.
	ErrMalformedContent = errors.New("malformed soul content")

	// ErrInvalidRecord is returned when a soul violates its invariants before encoding.
	ErrInvalidRecord = errors.New("invalid soul record")
)

// Key and share errors.
var (
	// ErrInvalidKeyLength is returned for keys that are not exactly 32 bytes.
	ErrInvalidKeyLength = errors.New("key must be exactly 32 bytes")

	// ErrInvalidThreshold is returned for threshold < 2, threshold > share count,
	// or a share count the field cannot accommodate.
	ErrInvalidThreshold = errors.New("invalid threshold")

	// ErrInsufficientShares is returned when fewer than two shares are combined.
	ErrInsufficientShares = errors.New("need at least 2 shares")

	// ErrMismatchedShareFingerprints is returned when shares belong to different keys.
	ErrMismatchedShareFingerprints = errors.New("shares are from different keys")

	// ErrShareReconstructionFailed is returned when the interpolated key does
	// not match the share fingerprint (wrong, insufficient or corrupted shares).
	ErrShareReconstructionFailed = errors.New("share reconstruction failed")

	// ErrInvalidShareEncoding is returned when a share text cannot be parsed.
	ErrInvalidShareEncoding = errors.New("invalid share encoding")
)

// Store errors.
var (
	// ErrObjectNotFound is returned when an object id is unknown to the store.
	ErrObjectNotFound = errors.New("object not found")

	// ErrAgentNotFound is returned when no stored soul exists for an agent.
	ErrAgentNotFound = errors.New("no soul found for agent")
)
