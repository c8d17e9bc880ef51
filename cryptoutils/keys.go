package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters used for passphrase-derived soul keys.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
	// MinSaltSize is the shortest salt DeriveKeyFromPassphrase accepts.
	MinSaltSize = 16
)

// GenerateKey returns a fresh random 32-byte soul key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// DeriveKeyFromPassphrase derives a 32-byte soul key from a memorised
// passphrase with Argon2id. The same passphrase and salt always yield the
// same key; the salt must be stored alongside the payload reference.
func DeriveKeyFromPassphrase(passphrase string, salt []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase must not be empty")
	}
	if len(salt) < MinSaltSize {
		return nil, fmt.Errorf("salt must be at least %d bytes", MinSaltSize)
	}

	domainSalt := append([]byte("SOUL-KEY-"), salt...)
	return argon2.IDKey([]byte(passphrase), domainSalt, argonTime, argonMemory, argonThreads, KeySize), nil
}

// WipeBytes zeroes a buffer holding key material.
func WipeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}

// GenerateHolderKey creates a P-256 key pair for a share holder. The private
// key is returned as an EC PRIVATE KEY PEM block, the public key as PKIX PEM.
func GenerateHolderKey() (privateKeyPEM []byte, publicKeyPEM []byte, err error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate holder key: %w", err)
	}

	privDER, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	privateKeyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: privDER})
	publicKeyPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return privateKeyPEM, publicKeyPEM, nil
}

// SealForHolder encrypts data (typically a share in text form) to a holder's
// public key with ECIES: ephemeral ECDH, SHA-256 of the shared secret as the
// AES-256-GCM key. Every call uses a new ephemeral key.
//
// Output format: [2B ephemeral key length][ephemeral public key][12B nonce][ciphertext]
func SealForHolder(publicKeyPEM []byte, data []byte) ([]byte, error) {
	block, _ := pem.Decode(publicKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode public key PEM")
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	ecdsaKey, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("not an ECDSA public key")
	}
	holderKey, err := ecdsaKey.ECDH()
	if err != nil {
		return nil, fmt.Errorf("unsupported holder key: %w", err)
	}

	ephemeral, err := holderKey.Curve().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	shared, err := ephemeral.ECDH(holderKey)
	if err != nil {
		return nil, fmt.Errorf("key agreement failed: %w", err)
	}

	aead, err := sharedSecretAEAD(shared)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ephemeralPub := ephemeral.PublicKey().Bytes()
	out := make([]byte, 2, 2+len(ephemeralPub)+NonceSize+len(data)+gcmTagSize)
	binary.BigEndian.PutUint16(out, uint16(len(ephemeralPub)))
	out = append(out, ephemeralPub...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, data, nil), nil
}

// OpenSealed decrypts the output of SealForHolder with the holder's private key.
func OpenSealed(privateKeyPEM []byte, sealed []byte) ([]byte, error) {
	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode private key PEM")
	}

	ecdsaKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	holderKey, err := ecdsaKey.ECDH()
	if err != nil {
		return nil, fmt.Errorf("unsupported holder key: %w", err)
	}

	if len(sealed) < 2 {
		return nil, errors.New("sealed data too short")
	}
	ephemeralLen := int(binary.BigEndian.Uint16(sealed[:2]))
	if len(sealed) < 2+ephemeralLen+NonceSize+gcmTagSize {
		return nil, errors.New("sealed data has invalid format")
	}

	ephemeralPub, err := holderKey.Curve().NewPublicKey(sealed[2 : 2+ephemeralLen])
	if err != nil {
		return nil, fmt.Errorf("invalid ephemeral public key: %w", err)
	}
	shared, err := holderKey.ECDH(ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("key agreement failed: %w", err)
	}

	aead, err := sharedSecretAEAD(shared)
	if err != nil {
		return nil, err
	}

	nonceStart := 2 + ephemeralLen
	nonce := sealed[nonceStart : nonceStart+NonceSize]
	plaintext, err := aead.Open(nil, nonce, sealed[nonceStart+NonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open sealed data: %w", err)
	}
	return plaintext, nil
}

func sharedSecretAEAD(shared []byte) (cipher.AEAD, error) {
	key := sha256.Sum256(shared)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
