// Package merkleTree provides the Merkle proof engine shared by the owner and the provider
//
// Features:
//   - Build: bottom-up pairwise SHA-256 over an ordered leaf list
//   - Root: root hash, bit-identical for the same ordered leaves
//   - Proof: sibling path for a leaf value
//   - Verify: fold a proof path and compare to a root
//
// Tree shape:
//   - Leaves are used as given, they are not hashed again
//   - Parent = SHA256(left || right)
//   - An odd node at the end of a layer is promoted unchanged
//
// Usage:
//
//	tree := merkleTree.New(leaves)
//	proof := tree.Proof(leaves[0])
//	ok := merkleTree.Verify(proof, leaves[0], tree.Root())
package merkleTree

import (
	"bytes"
	"encoding/hex"
	"encoding/json"

	"github.com/minio/sha256-simd"
	"golang.org/x/xerrors"
)

// Position tells on which side of the running hash a proof sibling sits.
type Position string

const (
	Left  Position = "left"
	Right Position = "right"
)

// ProofNode is one step of an inclusion proof.
type ProofNode struct {
	Position Position `json:"position"`
	Data     []byte   `json:"data"`
}

type proofNodeJSON struct {
	Position Position `json:"position"`
	Data     string   `json:"data"`
}

// MarshalJSON writes Data as hex.
func (n ProofNode) MarshalJSON() ([]byte, error) {
	return json.Marshal(proofNodeJSON{Position: n.Position, Data: hex.EncodeToString(n.Data)})
}

func (n *ProofNode) UnmarshalJSON(data []byte) error {
	var raw proofNodeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Position != Left && raw.Position != Right {
		return xerrors.Errorf("invalid proof position %q", raw.Position)
	}
	d, err := hex.DecodeString(raw.Data)
	if err != nil {
		return xerrors.Errorf("invalid proof data: %w", err)
	}
	n.Position, n.Data = raw.Position, d
	return nil
}

type Proof []ProofNode

// Tree keeps every layer so proofs can be produced without rebuilding.
type Tree struct {
	layers [][][]byte
}

// New builds a tree over leaves. The slice is copied, the leaf bytes are not.
func New(leaves [][]byte) *Tree {
	level := append([][]byte(nil), leaves...)
	t := &Tree{layers: [][][]byte{level}}

	for len(level) > 1 {
		var next [][]byte
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				// odd node, promote
				next = append(next, level[i])
				continue
			}
			next = append(next, hashPair(level[i], level[i+1]))
		}
		t.layers = append(t.layers, next)
		level = next
	}
	return t
}

// FromHex builds a tree from hex encoded leaves, as stored on the ledger.
func FromHex(leaves []string) (*Tree, error) {
	raw := make([][]byte, len(leaves))
	for i, l := range leaves {
		b, err := hex.DecodeString(l)
		if err != nil {
			return nil, xerrors.Errorf("leaf %d is not hex: %w", i, err)
		}
		raw[i] = b
	}
	return New(raw), nil
}

func hashPair(left, right []byte) []byte {
	h := sha256.New()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// Root returns the root hash, or an empty slice for an empty tree.
func (t *Tree) Root() []byte {
	top := t.layers[len(t.layers)-1]
	if len(top) == 0 {
		return []byte{}
	}
	return top[0]
}

func (t *Tree) RootHex() string {
	return hex.EncodeToString(t.Root())
}

func (t *Tree) Leaves() [][]byte {
	return t.layers[0]
}

// Depth returns the number of layers above the leaves.
func (t *Tree) Depth() int {
	return len(t.layers) - 1
}

// Proof returns the inclusion path for the first leaf equal to leaf.
// A leaf that is not in the tree gets an empty proof.
func (t *Tree) Proof(leaf []byte) Proof {
	index := -1
	for i, l := range t.layers[0] {
		if bytes.Equal(l, leaf) {
			index = i
			break
		}
	}
	if index < 0 {
		return Proof{}
	}
	return t.ProofAt(index)
}

// ProofAt returns the inclusion path for the leaf at index.
func (t *Tree) ProofAt(index int) Proof {
	proof := Proof{}
	if index < 0 || index >= len(t.layers[0]) {
		return proof
	}
	for _, layer := range t.layers[:len(t.layers)-1] {
		isRight := index%2 == 1
		pair := index + 1
		pos := Right
		if isRight {
			pair = index - 1
			pos = Left
		}
		if pair < len(layer) {
			proof = append(proof, ProofNode{Position: pos, Data: layer[pair]})
		}
		index /= 2
	}
	return proof
}

// Verify recomputes the root from leaf and proof and compares it with root.
func Verify(proof Proof, leaf, root []byte) bool {
	current := leaf
	for _, node := range proof {
		if node.Position == Left {
			current = hashPair(node.Data, current)
		} else {
			current = hashPair(current, node.Data)
		}
	}
	return bytes.Equal(current, root)
}
