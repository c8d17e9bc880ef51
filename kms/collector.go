package kms

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"

	"github.com/ruteri/soulkeeper/cryptoutils"
	"github.com/ruteri/soulkeeper/interfaces"
)

// ErrCollectorLocked is returned when the key is requested before enough
// shares were submitted.
var ErrCollectorLocked = errors.New("key is locked - need more shares to unlock")

// ShareCollector gathers shares from holders one at a time and reconstructs
// the soul key once the threshold is reached.
//
// When holder public keys are registered, every share must be submitted with
// an ECDSA signature by one of them (see SignShare), and each holder
// contributes at most one share per unlock. With no holders registered,
// Submit accepts unsigned shares.
//
// The reconstructed key is only kept in memory. Submitted shares are wiped as
// soon as reconstruction succeeds.
type ShareCollector struct {
	mu             sync.RWMutex
	sharer         KeySharer
	threshold      int
	key            []byte
	receivedShares map[int]interfaces.KeyShare
	holderPubKeys  map[string]*ecdsa.PublicKey
	submittedBy    map[string]bool
}

// NewShareCollector creates a locked collector that needs threshold shares.
func NewShareCollector(sharer KeySharer, threshold int) (*ShareCollector, error) {
	if threshold < 2 {
		return nil, fmt.Errorf("%w: threshold %d must be at least 2", interfaces.ErrInvalidThreshold, threshold)
	}
	return &ShareCollector{
		sharer:         sharer,
		threshold:      threshold,
		receivedShares: make(map[int]interfaces.KeyShare),
		holderPubKeys:  make(map[string]*ecdsa.PublicKey),
		submittedBy:    make(map[string]bool),
	}, nil
}

// RegisterHolder authorizes a share holder by PEM-encoded ECDSA public key.
func (c *ShareCollector) RegisterHolder(publicKeyPEM []byte) error {
	pubKey, err := parseHolderKey(publicKeyPEM)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.holderPubKeys[holderID(publicKeyPEM)] = pubKey
	return nil
}

// Submit adds an unsigned share. It is rejected when holders are registered.
func (c *ShareCollector) Submit(share interfaces.KeyShare) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.holderPubKeys) > 0 {
		return errors.New("holders are registered: shares must be signed")
	}
	return c.addShare(share)
}

// SubmitSigned adds a share signed by a registered holder. A holder whose
// share fails reconstruction may submit again.
func (c *ShareCollector) SubmitSigned(share interfaces.KeyShare, signature, holderPubKeyPEM []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := holderID(holderPubKeyPEM)
	pubKey, ok := c.holderPubKeys[id]
	if !ok {
		return errors.New("unauthorized holder public key")
	}

	digest := shareDigest(share)
	if !ecdsa.VerifyASN1(pubKey, digest[:], signature) {
		return errors.New("invalid share signature")
	}

	if c.key == nil && c.submittedBy[id] {
		return errors.New("holder already submitted a share")
	}
	if err := c.addShare(share); err != nil {
		return err
	}
	if c.key == nil {
		c.submittedBy[id] = true
	}
	return nil
}

// addShare records the share and tries reconstruction. Caller holds the lock.
func (c *ShareCollector) addShare(share interfaces.KeyShare) error {
	if c.key != nil {
		return nil
	}

	if _, exists := c.receivedShares[share.Index]; exists {
		return fmt.Errorf("share %d already submitted", share.Index)
	}
	for _, other := range c.receivedShares {
		if other.Fingerprint != share.Fingerprint {
			return interfaces.ErrMismatchedShareFingerprints
		}
	}

	share.Data = append([]byte(nil), share.Data...)
	c.receivedShares[share.Index] = share
	if err := c.tryReconstruct(); err != nil {
		// A share that breaks reconstruction is dropped so it can be
		// resubmitted correctly.
		cryptoutils.WipeBytes(share.Data)
		delete(c.receivedShares, share.Index)
		return err
	}
	return nil
}

func (c *ShareCollector) tryReconstruct() error {
	if len(c.receivedShares) < c.threshold {
		return nil
	}

	shares := make([]interfaces.KeyShare, 0, len(c.receivedShares))
	for _, share := range c.receivedShares {
		shares = append(shares, share)
	}

	key, err := c.sharer.Combine(shares)
	if err != nil {
		return fmt.Errorf("failed to reconstruct key: %w", err)
	}
	c.key = key
	c.resetShares()
	return nil
}

// resetShares wipes pending shares. Caller holds the lock.
func (c *ShareCollector) resetShares() {
	for i := range c.receivedShares {
		cryptoutils.WipeBytes(c.receivedShares[i].Data)
	}
	c.receivedShares = make(map[int]interfaces.KeyShare)
	c.submittedBy = make(map[string]bool)
}

// IsUnlocked reports whether the key has been reconstructed.
func (c *ShareCollector) IsUnlocked() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.key != nil
}

// Pending returns how many more shares are needed.
func (c *ShareCollector) Pending() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.key != nil {
		return 0
	}
	return max(0, c.threshold-len(c.receivedShares))
}

// Key returns a copy of the reconstructed key.
func (c *ShareCollector) Key() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.key == nil {
		return nil, ErrCollectorLocked
	}
	return append([]byte(nil), c.key...), nil
}

// Lock wipes the reconstructed key and any pending shares.
func (c *ShareCollector) Lock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	cryptoutils.WipeBytes(c.key)
	c.key = nil
	c.resetShares()
}

// SignShare signs a share with a holder's private key, proving the share is
// submitted by its legitimate holder.
func SignShare(share interfaces.KeyShare, privateKey *ecdsa.PrivateKey) ([]byte, error) {
	digest := shareDigest(share)
	return ecdsa.SignASN1(rand.Reader, privateKey, digest[:])
}

// ParseHolderPrivateKey parses an EC PRIVATE KEY PEM block as produced by
// cryptoutils.GenerateHolderKey.
func ParseHolderPrivateKey(privateKeyPEM []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode private key PEM")
	}
	return x509.ParseECPrivateKey(block.Bytes)
}

func shareDigest(share interfaces.KeyShare) [32]byte {
	return sha256.Sum256([]byte(share.String()))
}

func parseHolderKey(publicKeyPEM []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(publicKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode holder public key PEM")
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse holder public key: %w", err)
	}

	pubKey, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("holder key is not an ECDSA public key")
	}
	return pubKey, nil
}

func holderID(publicKeyPEM []byte) string {
	fingerprint := sha256.Sum256(publicKeyPEM)
	return hex.EncodeToString(fingerprint[:])
}
