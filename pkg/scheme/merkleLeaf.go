package scheme

import (
	"bytes"
	"context"
	"encoding/hex"
	"math/rand/v2"

	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"p2pStorageAudit/pkg/ecc"
	"p2pStorageAudit/pkg/file"
	"p2pStorageAudit/pkg/merkleTree"
	"p2pStorageAudit/pkg/protocol"
)

// merkleLeaf keeps the root over the block hashes and challenges the
// provider to prove one leaf against it.
type merkleLeaf struct {
	workers         workers
	randomChallenge bool
}

func (s *merkleLeaf) Variant() Variant { return MerkleLeaf }

func (s *merkleLeaf) Generate(ctx context.Context, owner *ecc.Identity, fileID string, blocks [][]byte) (*Generated, error) {
	g, err := generatePlain(ctx, s.workers, MerkleLeaf, owner, fileID, blocks)
	if err != nil {
		return nil, err
	}
	tree := merkleTree.New(hashBlocks(blocks))
	g.Session.Root = tree.Root()
	g.Record.Root = tree.Root()
	return g, nil
}

func (s *merkleLeaf) NewChallenge(_ context.Context, owner *ecc.Identity, sess *Session, payloads []string) (*protocol.Challenge, error) {
	if len(payloads) == 0 {
		return nil, xerrors.Errorf("file %s has no ledger records: %w", sess.FileID, ErrMalformed)
	}
	index := 0
	if s.randomChallenge {
		index = rand.IntN(len(payloads))
	}
	leaf, err := decryptTag(owner, payloads[index])
	if err != nil {
		return nil, xerrors.Errorf("challenge block %d: %w", index, err)
	}
	sess.ChallengeIndex = index

	ch := baseChallenge(owner, sess)
	ch.Challenge = leaf
	return ch, nil
}

func (s *merkleLeaf) Respond(ch *protocol.Challenge, stored [][]byte) (*protocol.ChallengeResponse, error) {
	leaf, err := hex.DecodeString(ch.Challenge)
	if err != nil {
		return nil, xerrors.Errorf("challenge is not hex: %v: %w", err, ErrMalformed)
	}
	tree := merkleTree.New(hashBlocks(stored))
	// an empty proof folds to the leaf itself, which equals the root of a one block file
	if !containsLeaf(tree.Leaves(), leaf) {
		return &protocol.ChallengeResponse{OK: false, Error: "leaf not found"}, nil
	}
	return &protocol.ChallengeResponse{Proof: tree.Proof(leaf), OK: true}, nil
}

func containsLeaf(leaves [][]byte, leaf []byte) bool {
	for _, l := range leaves {
		if bytes.Equal(l, leaf) {
			return true
		}
	}
	return false
}

func (s *merkleLeaf) Verify(_ context.Context, _ *ecc.Identity, sess *Session, _ []string,
	ch *protocol.Challenge, resp *protocol.ChallengeResponse, _ file.BlockStore) (bool, error) {
	if !resp.OK {
		logrus.Warnf("File %s: provider could not answer the challenge: %s", sess.FileID, resp.Error)
		return false, nil
	}
	leaf, err := hex.DecodeString(ch.Challenge)
	if err != nil {
		return false, xerrors.Errorf("challenge is not hex: %v: %w", err, ErrMalformed)
	}
	return merkleTree.Verify(resp.Proof, leaf, sess.Root), nil
}

func hashBlocks(blocks [][]byte) [][]byte {
	leaves := make([][]byte, len(blocks))
	for i, b := range blocks {
		leaves[i] = ecc.Hash(b).Bytes()
	}
	return leaves
}
