package interfaces

// Side tells on which side of the running hash a proof sibling sits.
type Side string

const (
	LeftSide  Side = "left"
	RightSide Side = "right"
)

// ProofStep is one sibling on the path from a leaf to the root.
type ProofStep struct {
	Hash string `json:"hash"`
	Side Side   `json:"side"`
}

// MerkleProof shows that one fragment is part of a fragment list with a
// given root. It is only valid against the exact sequence it was built from.
type MerkleProof struct {
	LeafIndex int         `json:"leaf_index"`
	LeafHash  string      `json:"leaf_hash"`
	Siblings  []ProofStep `json:"siblings"`
	Root      string      `json:"root"`
}

// SoulFingerprint summarizes a soul for integrity bookkeeping.
type SoulFingerprint struct {
	MerkleRoot    string `json:"merkle_root"`
	ContentHash   string `json:"sha256"`
	FragmentCount int    `json:"fragment_count"`
}
