package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/ruteri/soulkeeper/interfaces"
)

const (
	leafPrefix  = "leaf:"
	nodePrefix  = "node:"
	emptyMarker = "empty-soul"
	sentinelTag = "soul-padding"
)

// Padding decides how a tree level with an odd number of nodes is evened out
// before pairing.
type Padding interface {
	// Pad returns level extended by one node. It is only called for
	// levels with an odd number of nodes and more than one node.
	Pad(level []string) []string
}

// DuplicateLast pairs the last node of an odd level with itself. This is the
// classic construction, but it lets [a, b, c] and [a, b, c, c] share a root.
type DuplicateLast struct{}

// Pad implements Padding.
func (DuplicateLast) Pad(level []string) []string {
	return append(level, level[len(level)-1])
}

// SentinelPadding pairs the last node of an odd level with a fixed sentinel
// hash that no leaf or node can produce.
type SentinelPadding struct{}

// Pad implements Padding.
func (SentinelPadding) Pad(level []string) []string {
	return append(level, SentinelHash())
}

// SentinelHash is the hash SentinelPadding appends to odd levels.
func SentinelHash() string {
	return hashHex([]byte(sentinelTag))
}

// MerkleIntegrity builds Merkle trees over the ordered fragment list of a
// soul. It is stateless and safe for concurrent use.
type MerkleIntegrity struct {
	padding Padding
}

// NewMerkleIntegrity returns a tree builder using DuplicateLast padding.
func NewMerkleIntegrity() *MerkleIntegrity {
	return &MerkleIntegrity{padding: DuplicateLast{}}
}

// WithPadding returns a builder using the given padding rule. Roots and proofs
// produced under different rules are not comparable.
func (m *MerkleIntegrity) WithPadding(p Padding) *MerkleIntegrity {
	return &MerkleIntegrity{padding: p}
}

// EmptyRoot is the root of a soul without fragments.
func EmptyRoot() string {
	return hashHex([]byte(emptyMarker))
}

// LeafHash is SHA-256 over "leaf:" followed by the canonical fragment JSON.
func LeafHash(f interfaces.Fragment) (string, error) {
	canonical, err := f.CanonicalJSON()
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrInvalidRecord, err)
	}
	return hashHex(append([]byte(leafPrefix), canonical...)), nil
}

// NodeHash is SHA-256 over "node:{left}:{right}" with hex child hashes.
func NodeHash(left, right string) string {
	return hashHex([]byte(nodePrefix + left + ":" + right))
}

// ComputeRoot returns the Merkle root of the fragment sequence. Any change
// of content, order or count changes the root.
func (m *MerkleIntegrity) ComputeRoot(fragments []interfaces.Fragment) (string, error) {
	if len(fragments) == 0 {
		return EmptyRoot(), nil
	}

	level, err := leafHashes(fragments)
	if err != nil {
		return "", err
	}

	for len(level) > 1 {
		level = m.nextLevel(level)
	}
	return level[0], nil
}

// ProveFragment builds an inclusion proof for fragments[index]. The proof
// walks the same levels ComputeRoot does, so proof.Root always equals the
// computed root. An index outside the list is a programming error and panics.
func (m *MerkleIntegrity) ProveFragment(fragments []interfaces.Fragment, index int) (interfaces.MerkleProof, error) {
	if index < 0 || index >= len(fragments) {
		panic(fmt.Sprintf("integrity: fragment index %d out of range [0, %d)", index, len(fragments)))
	}

	level, err := leafHashes(fragments)
	if err != nil {
		return interfaces.MerkleProof{}, err
	}

	proof := interfaces.MerkleProof{
		LeafIndex: index,
		LeafHash:  level[index],
		Siblings:  []interfaces.ProofStep{},
	}

	pos := index
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = m.padding.Pad(level)
		}

		side := interfaces.RightSide
		if pos%2 == 1 {
			side = interfaces.LeftSide
		}
		proof.Siblings = append(proof.Siblings, interfaces.ProofStep{Hash: level[pos^1], Side: side})

		level = pairUp(level)
		pos /= 2
	}

	proof.Root = level[0]
	return proof, nil
}

// VerifyProof folds the siblings into the leaf hash and compares the result
// with the proof root. It never fails loudly: malformed proofs, including
// unknown sides, are simply invalid.
func VerifyProof(proof interfaces.MerkleProof) bool {
	current := proof.LeafHash
	for _, step := range proof.Siblings {
		switch step.Side {
		case interfaces.RightSide:
			current = NodeHash(current, step.Hash)
		case interfaces.LeftSide:
			current = NodeHash(step.Hash, current)
		default:
			return false
		}
	}
	return current == proof.Root
}

// VerifyProof is the method form of the package-level VerifyProof.
func (m *MerkleIntegrity) VerifyProof(proof interfaces.MerkleProof) bool {
	return VerifyProof(proof)
}

// VerifyFragment checks that the proof is valid and was issued for exactly
// this fragment.
func VerifyFragment(f interfaces.Fragment, proof interfaces.MerkleProof) bool {
	leaf, err := LeafHash(f)
	if err != nil || leaf != proof.LeafHash {
		return false
	}
	return VerifyProof(proof)
}

// Fingerprint summarizes a soul: the fragment Merkle root, the SHA-256 of
// the whole canonical record and the fragment count.
func (m *MerkleIntegrity) Fingerprint(soul *interfaces.Soul) (interfaces.SoulFingerprint, error) {
	root, err := m.ComputeRoot(soul.Fragments)
	if err != nil {
		return interfaces.SoulFingerprint{}, err
	}

	canonical, err := soul.CanonicalJSON()
	if err != nil {
		return interfaces.SoulFingerprint{}, fmt.Errorf("%w: %v", interfaces.ErrInvalidRecord, err)
	}

	return interfaces.SoulFingerprint{
		MerkleRoot:    root,
		ContentHash:   hashHex(canonical),
		FragmentCount: len(soul.Fragments),
	}, nil
}

func (m *MerkleIntegrity) nextLevel(level []string) []string {
	if len(level)%2 == 1 {
		level = m.padding.Pad(level)
	}
	return pairUp(level)
}

func pairUp(level []string) []string {
	next := make([]string, 0, len(level)/2)
	for i := 0; i < len(level); i += 2 {
		next = append(next, NodeHash(level[i], level[i+1]))
	}
	return next
}

func leafHashes(fragments []interfaces.Fragment) ([]string, error) {
	hashes := make([]string, len(fragments), len(fragments)+1)
	for i, f := range fragments {
		h, err := LeafHash(f)
		if err != nil {
			return nil, fmt.Errorf("fragment %d: %w", i, err)
		}
		hashes[i] = h
	}
	return hashes, nil
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
