package kms

import (
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ruteri/soulkeeper/cryptoutils"
	"github.com/ruteri/soulkeeper/interfaces"
	"golang.org/x/crypto/hkdf"
)

// KeySharer splits a soul key into threshold shares and reconstructs it.
type KeySharer interface {
	// Split divides key into shareCount shares, any threshold of which
	// reconstruct it. A nil key is replaced by a freshly generated one. The
	// key actually shared is returned alongside the shares.
	Split(key []byte, threshold, shareCount int) ([]byte, []interfaces.KeyShare, error)

	// Combine reconstructs the key from at least two shares. The threshold is
	// not known at combine time; too few shares are caught by the
	// fingerprint check.
	Combine(shares []interfaces.KeyShare) ([]byte, error)
}

const (
	// fieldPrime is the order of the field the per-byte polynomials live in.
	fieldPrime = 257

	// MaxPrimeFieldShares bounds the share count: evaluation points 1..n
	// must be distinct non-zero elements of GF(257).
	MaxPrimeFieldShares = 256

	// shareValueSize is the encoded size of one field element in share data.
	shareValueSize = 2

	defaultCoefficientLabel = "soul-shamir-coefficients"
)

// PrimeFieldSharer implements Shamir sharing per key byte over GF(257).
//
// Each byte b of the key is the constant term of a polynomial of degree
// threshold-1. The other coefficients are derived deterministically from the
// key with HKDF-SHA512, so splitting the same key with the same parameters
// always yields the same shares. Share i holds the polynomial values at x=i,
// two big-endian bytes per key byte.
type PrimeFieldSharer struct {
	label []byte
}

// NewPrimeFieldSharer returns a sharer using the default HKDF label.
func NewPrimeFieldSharer() *PrimeFieldSharer {
	return &PrimeFieldSharer{label: []byte(defaultCoefficientLabel)}
}

// WithLabel returns a sharer whose coefficients are derived under a
// different HKDF label. Combine does not depend on the label.
func (s *PrimeFieldSharer) WithLabel(label string) *PrimeFieldSharer {
	return &PrimeFieldSharer{label: []byte(label)}
}

// Split implements KeySharer.
func (s *PrimeFieldSharer) Split(key []byte, threshold, shareCount int) ([]byte, []interfaces.KeyShare, error) {
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
	if err := validateThreshold(threshold, shareCount, MaxPrimeFieldShares); err != nil {
		return nil, nil, err
	}

	fingerprint := interfaces.KeyFingerprint(key)
	data := make([][]byte, shareCount)
	for i := range data {
		data[i] = make([]byte, 0, len(key)*shareValueSize)
	}

	coeffs := make([]uint32, threshold)
	for byteIdx, b := range key {
		coeffs[0] = uint32(b)
		for c := 1; c < threshold; c++ {
			coeff, err := s.coefficient(key, byteIdx, c)
			if err != nil {
				return nil, nil, err
			}
			coeffs[c] = coeff
		}

		for i := range data {
			y := evalPoly(coeffs, uint32(i+1))
			data[i] = binary.BigEndian.AppendUint16(data[i], uint16(y))
		}
	}
	wipeCoefficients(coeffs)

	shares := make([]interfaces.KeyShare, shareCount)
	for i := range shares {
		shares[i] = interfaces.KeyShare{Index: i + 1, Data: data[i], Fingerprint: fingerprint}
	}
	return key, shares, nil
}

// Combine implements KeySharer.
func (s *PrimeFieldSharer) Combine(shares []interfaces.KeyShare) ([]byte, error) {
	if err := checkShareSet(shares); err != nil {
		return nil, err
	}

	dataLen := len(shares[0].Data)
	if dataLen == 0 || dataLen%shareValueSize != 0 {
		return nil, fmt.Errorf("%w: share data length %d", interfaces.ErrShareReconstructionFailed, dataLen)
	}

	xs := make([]uint32, len(shares))
	seen := make(map[int]bool, len(shares))
	for i, share := range shares {
		if len(share.Data) != dataLen {
			return nil, fmt.Errorf("%w: shares have different lengths", interfaces.ErrShareReconstructionFailed)
		}
		if share.Index < 1 || share.Index > MaxPrimeFieldShares {
			return nil, fmt.Errorf("%w: share index %d out of range", interfaces.ErrShareReconstructionFailed, share.Index)
		}
		if seen[share.Index] {
			return nil, fmt.Errorf("%w: duplicate share index %d", interfaces.ErrShareReconstructionFailed, share.Index)
		}
		seen[share.Index] = true
		xs[i] = uint32(share.Index)
	}

	keyLen := dataLen / shareValueSize
	key := make([]byte, keyLen)
	ys := make([]uint32, len(shares))
	for byteIdx := 0; byteIdx < keyLen; byteIdx++ {
		offset := byteIdx * shareValueSize
		for i, share := range shares {
			y := uint32(binary.BigEndian.Uint16(share.Data[offset : offset+shareValueSize]))
			if y >= fieldPrime {
				cryptoutils.WipeBytes(key)
				return nil, fmt.Errorf("%w: share value outside field", interfaces.ErrShareReconstructionFailed)
			}
			ys[i] = y
		}
		key[byteIdx] = byte(interpolateAtZero(xs, ys) % 256)
	}
	wipeCoefficients(ys)

	if interfaces.KeyFingerprint(key) != shares[0].Fingerprint {
		cryptoutils.WipeBytes(key)
		return nil, fmt.Errorf("%w: reconstructed key does not match fingerprint", interfaces.ErrShareReconstructionFailed)
	}
	return key, nil
}

// coefficient derives the c-th coefficient of the byteIdx-th polynomial.
func (s *PrimeFieldSharer) coefficient(key []byte, byteIdx, c int) (uint32, error) {
	info := make([]byte, 0, len(s.label)+8)
	info = append(info, s.label...)
	info = binary.BigEndian.AppendUint32(info, uint32(byteIdx))
	info = binary.BigEndian.AppendUint32(info, uint32(c))

	var buf [8]byte
	if _, err := io.ReadFull(hkdf.New(sha512.New, key, nil, info), buf[:]); err != nil {
		return 0, fmt.Errorf("failed to derive coefficient: %w", err)
	}
	return uint32(binary.BigEndian.Uint64(buf[:]) % fieldPrime), nil
}

// evalPoly evaluates the polynomial at x with Horner's rule, mod fieldPrime.
func evalPoly(coeffs []uint32, x uint32) uint32 {
	var y uint32
	for i := len(coeffs) - 1; i >= 0; i-- {
		y = (y*x + coeffs[i]) % fieldPrime
	}
	return y
}

// interpolateAtZero evaluates the Lagrange polynomial through (xs, ys) at 0.
func interpolateAtZero(xs, ys []uint32) uint32 {
	var result uint32
	for i := range xs {
		num, den := ys[i], uint32(1)
		for j := range xs {
			if i == j {
				continue
			}
			// (0 - xj) and (xi - xj) mod p, kept non-negative
			num = num * (fieldPrime - xs[j]%fieldPrime) % fieldPrime
			den = den * ((xs[i] + fieldPrime - xs[j]) % fieldPrime) % fieldPrime
		}
		result = (result + num*modInverse(den)) % fieldPrime
	}
	return result
}

// modInverse uses Fermat's little theorem: a^(p-2) mod p.
func modInverse(a uint32) uint32 {
	result, base, exp := uint32(1), a%fieldPrime, uint32(fieldPrime-2)
	for exp > 0 {
		if exp&1 == 1 {
			result = result * base % fieldPrime
		}
		base = base * base % fieldPrime
		exp >>= 1
	}
	return result
}

func validateThreshold(threshold, shareCount, maxShares int) error {
	if threshold < 2 {
		return fmt.Errorf("%w: threshold %d must be at least 2", interfaces.ErrInvalidThreshold, threshold)
	}
	if threshold > shareCount {
		return fmt.Errorf("%w: threshold %d exceeds share count %d", interfaces.ErrInvalidThreshold, threshold, shareCount)
	}
	if shareCount > maxShares {
		return fmt.Errorf("%w: share count %d exceeds maximum %d", interfaces.ErrInvalidThreshold, shareCount, maxShares)
	}
	return nil
}

// checkShareSet performs the scheme-independent checks every Combine starts
// with. The fingerprint gate runs before any interpolation.
func checkShareSet(shares []interfaces.KeyShare) error {
	if len(shares) < 2 {
		return fmt.Errorf("%w: got %d", interfaces.ErrInsufficientShares, len(shares))
	}
	for _, share := range shares[1:] {
		if share.Fingerprint != shares[0].Fingerprint {
			return interfaces.ErrMismatchedShareFingerprints
		}
	}
	return nil
}

func wipeCoefficients(values []uint32) {
	for i := range values {
		values[i] = 0
	}
}
