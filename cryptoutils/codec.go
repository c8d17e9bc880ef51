package cryptoutils

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zlib"
	"github.com/ruteri/soulkeeper/interfaces"
)

// Payload format version 1, all integers big-endian:
//
//	[5B magic][1B version][12B nonce][4B plaintext length][ciphertext + 16B GCM tag]
//
// The plaintext length is the length of the canonical JSON before
// compression. The magic is also the AEAD associated data, which binds the
// ciphertext to this format.
const (
	Magic         = "ATMAN"
	FormatVersion = 1
	KeySize       = 32
	NonceSize     = 12
	HeaderSize    = len(Magic) + 1 + NonceSize + 4
	gcmTagSize    = 16
)

// SoulCodec turns souls into authenticated, compressed, versioned payloads
// and back. It holds no key material; keys are passed per call.
type SoulCodec struct {
	random io.Reader
}

// NewSoulCodec returns a codec drawing nonces from crypto/rand.
func NewSoulCodec() *SoulCodec {
	return &SoulCodec{random: rand.Reader}
}

// WithRandom replaces the nonce source.
func (c *SoulCodec) WithRandom(r io.Reader) *SoulCodec {
	return &SoulCodec{random: r}
}

// Encode serializes the soul canonically, compresses it at maximum ratio and
// seals it with AES-256-GCM under a fresh nonce.
func (c *SoulCodec) Encode(soul *interfaces.Soul, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	if err := soul.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidRecord, err)
	}

	raw, err := soul.CanonicalJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidRecord, err)
	}
	if uint64(len(raw)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: canonical form of %d bytes exceeds format limit", interfaces.ErrInvalidRecord, len(raw))
	}

	compressed, err := compress(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to compress soul: %w", err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(c.random, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, HeaderSize, HeaderSize+len(compressed)+gcmTagSize)
	copy(out, Magic)
	out[len(Magic)] = FormatVersion
	copy(out[len(Magic)+1:], nonce)
	binary.BigEndian.PutUint32(out[len(Magic)+1+NonceSize:], uint32(len(raw)))

	return aead.Seal(out, nonce, compressed, []byte(Magic)), nil
}

// Decode reverses Encode. Each check has its own error: header length,
// magic, version, authentication, decompression, recorded size, and finally
// the structure of the decrypted document.
func (c *SoulCodec) Decode(payload []byte, key []byte) (*interfaces.Soul, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	if len(payload) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", interfaces.ErrPayloadTooShort, len(payload), HeaderSize)
	}

	if string(payload[:len(Magic)]) != Magic {
		return nil, fmt.Errorf("%w: %q", interfaces.ErrBadMagic, payload[:len(Magic)])
	}

	if version := payload[len(Magic)]; version != FormatVersion {
		return nil, fmt.Errorf("%w: %d", interfaces.ErrUnsupportedVersion, version)
	}

	nonce := payload[len(Magic)+1 : len(Magic)+1+NonceSize]
	originalSize := binary.BigEndian.Uint32(payload[len(Magic)+1+NonceSize : HeaderSize])
	ciphertext := payload[HeaderSize:]

	compressed, err := aead.Open(nil, nonce, ciphertext, []byte(Magic))
	if err != nil {
		return nil, interfaces.ErrDecryptionFailed
	}

	raw, err := decompress(compressed, originalSize)
	if err != nil {
		return nil, err
	}

	return interfaces.ParseSoul(raw)
}

// EncodeToHex encodes the soul and returns the payload as hex.
func (c *SoulCodec) EncodeToHex(soul *interfaces.Soul, key []byte) (string, error) {
	payload, err := c.Encode(soul, key)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(payload), nil
}

// DecodeHex decodes a hex payload produced by EncodeToHex.
func (c *SoulCodec) DecodeHex(hexPayload string, key []byte) (*interfaces.Soul, error) {
	payload, err := hex.DecodeString(hexPayload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not hex: %v", interfaces.ErrMalformedContent, err)
	}
	return c.Decode(payload, key)
}

// ContentFingerprint returns the SHA-256 hex digest of the soul's canonical form.
func ContentFingerprint(soul *interfaces.Soul) (string, error) {
	raw, err := soul.CanonicalJSON()
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrInvalidRecord, err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// SizeEstimate describes how large an encoded soul will be.
type SizeEstimate struct {
	RawBytes                int     `json:"raw_bytes"`
	CompressedBytes         int     `json:"compressed_bytes"`
	EstimatedEncryptedBytes int     `json:"estimated_encrypted_bytes"`
	CompressionRatio        float64 `json:"compression_ratio"`
	FragmentCount           int     `json:"fragment_count"`
}

// EstimateSize computes the encoded size without encrypting.
func EstimateSize(soul *interfaces.Soul) (SizeEstimate, error) {
	raw, err := soul.CanonicalJSON()
	if err != nil {
		return SizeEstimate{}, fmt.Errorf("%w: %v", interfaces.ErrInvalidRecord, err)
	}
	compressed, err := compress(raw)
	if err != nil {
		return SizeEstimate{}, fmt.Errorf("failed to compress soul: %w", err)
	}

	ratio := 0.0
	if len(raw) > 0 {
		ratio = math.Round(float64(len(compressed))/float64(len(raw))*1000) / 1000
	}

	return SizeEstimate{
		RawBytes:                len(raw),
		CompressedBytes:         len(compressed),
		EstimatedEncryptedBytes: HeaderSize + len(compressed) + gcmTagSize,
		CompressionRatio:        ratio,
		FragmentCount:           len(soul.Fragments),
	}, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d", interfaces.ErrInvalidKeyLength, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}

func compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decompress inflates at most expected+1 bytes so a forged length field or
// a compression bomb cannot allocate beyond what the header announces.
func decompress(compressed []byte, expected uint32) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrDecompressionFailed, err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(io.LimitReader(zr, int64(expected)+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrDecompressionFailed, err)
	}

	if uint64(len(raw)) != uint64(expected) {
		return nil, fmt.Errorf("%w: expected %d, got %d", interfaces.ErrSizeMismatch, expected, len(raw))
	}
	return raw, nil
}
