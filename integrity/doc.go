// Package integrity builds Merkle trees over the ordered fragments of a soul.
//
// Leaves are SHA-256 over "leaf:" followed by the canonical JSON of a
// fragment; inner nodes are SHA-256 over "node:{left}:{right}" using the hex
// form of the children. A soul without fragments has the root
// SHA-256("empty-soul"). Odd levels are evened out by a Padding rule,
// DuplicateLast by default.
//
// Example:
//
//	m := integrity.NewMerkleIntegrity()
//	root, err := m.ComputeRoot(soul.Fragments)
//	proof, err := m.ProveFragment(soul.Fragments, 2)
//	ok := integrity.VerifyProof(proof) // proof.Root == root
//
// A proof is only meaningful against the exact fragment sequence it was built
// from; reordering fragments invalidates every proof.
package integrity
