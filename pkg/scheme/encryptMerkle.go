package scheme

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"p2pStorageAudit/pkg/ecc"
	"p2pStorageAudit/pkg/file"
	"p2pStorageAudit/pkg/merkleTree"
	"p2pStorageAudit/pkg/protocol"
)

// encryptMerkle outsources ciphertexts and compares the Merkle root over the
// ledger tags with the root the provider computes over what it stores.
type encryptMerkle struct {
	workers workers
}

func (s *encryptMerkle) Variant() Variant { return EncryptMerkle }

type sealedBlock struct {
	payload   ecc.EncryptedPayload
	tag       ecc.Digest
	signature []byte
}

func (s *encryptMerkle) Generate(ctx context.Context, owner *ecc.Identity, fileID string, blocks [][]byte) (*Generated, error) {
	if len(blocks) == 0 {
		return nil, ErrEmptyFile
	}
	sealed, err := mapBlocks(ctx, s.workers, len(blocks), func(i int) (sealedBlock, error) {
		p, err := ecc.Encrypt(owner.PublicKey(), blocks[i])
		if err != nil {
			return sealedBlock{}, xerrors.Errorf("encrypt block %d: %w", i, err)
		}
		d := ecc.Hash(p.Ciphertext)
		return sealedBlock{payload: *p, tag: d, signature: owner.SignDigest(d)}, nil
	})
	if err != nil {
		return nil, err
	}

	encrypted := make([]ecc.EncryptedPayload, len(sealed))
	sigs := make([][]byte, len(sealed))
	tags := make([][]byte, len(sealed))
	payloads := make([]string, len(sealed))
	for i, b := range sealed {
		encrypted[i] = b.payload
		sigs[i] = b.signature
		tags[i] = b.tag.Bytes()
		payloads[i] = b.tag.Hex()
	}

	g := newGenerated(EncryptMerkle, fileID, len(blocks))
	root := merkleTree.New(tags).Root()
	g.Session.Root = root
	g.Record.Root = root
	g.Outsourcing = protocol.NewOutsourcing(owner.ID, fileID, string(EncryptMerkle), nil, encrypted, sigs)
	g.LedgerPayloads = payloads
	return g, nil
}

func (s *encryptMerkle) NewChallenge(_ context.Context, owner *ecc.Identity, sess *Session, _ []string) (*protocol.Challenge, error) {
	return baseChallenge(owner, sess), nil
}

func (s *encryptMerkle) Respond(_ *protocol.Challenge, stored [][]byte) (*protocol.ChallengeResponse, error) {
	leaves := make([][]byte, len(stored))
	for i, line := range stored {
		p, err := decodeStored(line)
		if err != nil {
			// an unreadable line still contributes a leaf, the root just won't match
			logrus.Warnf("Stored block %d is unreadable: %v", i, err)
			leaves[i] = ecc.Hash(line).Bytes()
			continue
		}
		leaves[i] = ecc.Hash(p.Ciphertext).Bytes()
	}
	return &protocol.ChallengeResponse{RootCSP: merkleTree.New(leaves).RootHex(), OK: true}, nil
}

func (s *encryptMerkle) Verify(_ context.Context, _ *ecc.Identity, sess *Session, payloads []string,
	_ *protocol.Challenge, resp *protocol.ChallengeResponse, _ file.BlockStore) (bool, error) {
	if !resp.OK {
		logrus.Warnf("File %s: provider could not answer the challenge: %s", sess.FileID, resp.Error)
		return false, nil
	}
	tree, err := merkleTree.FromHex(payloads)
	if err != nil {
		return false, xerrors.Errorf("ledger tags of %s: %v: %w", sess.FileID, err, ErrMalformed)
	}
	return tree.RootHex() == resp.RootCSP, nil
}
