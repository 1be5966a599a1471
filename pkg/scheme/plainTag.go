package scheme

import (
	"context"

	"github.com/sirupsen/logrus"

	"p2pStorageAudit/pkg/ecc"
	"p2pStorageAudit/pkg/file"
	"p2pStorageAudit/pkg/protocol"
)

// plainTag anchors encrypted per-block hashes and checks them against the
// hashes the provider computes. Membership is checked per tag, so duplicate
// blocks in the source file cannot be told apart.
type plainTag struct {
	workers workers
}

func (s *plainTag) Variant() Variant { return PlainTag }

type signedTag struct {
	digest    ecc.Digest
	signature []byte
}

func (s *plainTag) Generate(ctx context.Context, owner *ecc.Identity, fileID string, blocks [][]byte) (*Generated, error) {
	return generatePlain(ctx, s.workers, PlainTag, owner, fileID, blocks)
}

// generatePlain is shared by plain-tag and merkle-leaf, which differ only in
// what the owner retains and how the challenge is answered.
func generatePlain(ctx context.Context, w workers, v Variant, owner *ecc.Identity, fileID string, blocks [][]byte) (*Generated, error) {
	if len(blocks) == 0 {
		return nil, ErrEmptyFile
	}
	tags, err := mapBlocks(ctx, w, len(blocks), func(i int) (signedTag, error) {
		d := ecc.Hash(blocks[i])
		return signedTag{digest: d, signature: owner.SignDigest(d)}, nil
	})
	if err != nil {
		return nil, err
	}
	payloads, err := mapBlocks(ctx, w, len(tags), func(i int) (string, error) {
		return encryptTag(owner, tags[i].digest)
	})
	if err != nil {
		return nil, err
	}

	g := newGenerated(v, fileID, len(blocks))
	sigs := make([][]byte, len(tags))
	for i, t := range tags {
		sigs[i] = t.signature
	}
	g.Outsourcing = protocol.NewOutsourcing(owner.ID, fileID, string(v), blocks, nil, sigs)
	g.LedgerPayloads = payloads
	return g, nil
}

func (s *plainTag) NewChallenge(_ context.Context, owner *ecc.Identity, sess *Session, _ []string) (*protocol.Challenge, error) {
	return baseChallenge(owner, sess), nil
}

func (s *plainTag) Respond(_ *protocol.Challenge, stored [][]byte) (*protocol.ChallengeResponse, error) {
	tags := make([]string, len(stored))
	for i, b := range stored {
		tags[i] = ecc.HashHex(b)
	}
	return &protocol.ChallengeResponse{Tags: tags, OK: true}, nil
}

func (s *plainTag) Verify(ctx context.Context, owner *ecc.Identity, sess *Session, payloads []string,
	_ *protocol.Challenge, resp *protocol.ChallengeResponse, _ file.BlockStore) (bool, error) {
	if !resp.OK {
		logrus.Warnf("File %s: provider could not answer the challenge: %s", sess.FileID, resp.Error)
		return false, nil
	}
	ledgerTags, err := mapBlocks(ctx, s.workers, len(payloads), func(i int) (string, error) {
		return decryptTag(owner, payloads[i])
	})
	if err != nil {
		return false, err
	}
	if len(ledgerTags) != sess.Blocks {
		logrus.Warnf("File %s: ledger holds %d tags, expected %d", sess.FileID, len(ledgerTags), sess.Blocks)
		return false, nil
	}
	return allPresent(ledgerTags, tagSet(resp.Tags)), nil
}
