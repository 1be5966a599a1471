package scheme

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"p2pStorageAudit/pkg/ecc"
	"p2pStorageAudit/pkg/file"
	"p2pStorageAudit/pkg/protocol"
)

// randomizedSignature binds every ciphertext to the owner, the file and a
// nonce that never leaves the owner. The provider only acknowledges the
// challenge; the owner recomputes the tags over the provider's persisted copy.
type randomizedSignature struct {
	workers workers
}

func (s *randomizedSignature) Variant() Variant { return RandomizedSignature }

// signatureDigest is H(ownerId || pubKeyHex || fileId || ciphertextHex || nonce).
// The outsourced signatures use the same preimage without the nonce.
func signatureDigest(owner *ecc.Identity, fileID string, p *ecc.EncryptedPayload, nonce string) ecc.Digest {
	return ecc.HashConcat(
		[]byte(owner.ID),
		[]byte(owner.PublicKeyHex()),
		[]byte(fileID),
		[]byte(p.CiphertextHex()),
		[]byte(nonce),
	)
}

type randomizedBlock struct {
	payload   ecc.EncryptedPayload
	signature []byte
	tag       string
}

func (s *randomizedSignature) Generate(ctx context.Context, owner *ecc.Identity, fileID string, blocks [][]byte) (*Generated, error) {
	if len(blocks) == 0 {
		return nil, ErrEmptyFile
	}
	nonce := uuid.NewString()
	out, err := mapBlocks(ctx, s.workers, len(blocks), func(i int) (randomizedBlock, error) {
		p, err := ecc.Encrypt(owner.PublicKey(), blocks[i])
		if err != nil {
			return randomizedBlock{}, xerrors.Errorf("encrypt block %d: %w", i, err)
		}
		return randomizedBlock{
			payload:   *p,
			signature: owner.SignDigest(signatureDigest(owner, fileID, p, "")),
			tag:       hexString(owner.SignDigest(signatureDigest(owner, fileID, p, nonce))),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	encrypted := make([]ecc.EncryptedPayload, len(out))
	sigs := make([][]byte, len(out))
	payloads := make([]string, len(out))
	for i, b := range out {
		encrypted[i] = b.payload
		sigs[i] = b.signature
		payloads[i] = b.tag
	}

	g := newGenerated(RandomizedSignature, fileID, len(blocks))
	g.Session.Nonce = nonce
	g.Outsourcing = protocol.NewOutsourcing(owner.ID, fileID, string(RandomizedSignature), nil, encrypted, sigs)
	g.LedgerPayloads = payloads
	return g, nil
}

func (s *randomizedSignature) NewChallenge(_ context.Context, owner *ecc.Identity, sess *Session, _ []string) (*protocol.Challenge, error) {
	if sess.Nonce == "" {
		return nil, xerrors.Errorf("file %s has no retained nonce: %w", sess.FileID, ErrMalformed)
	}
	return baseChallenge(owner, sess), nil
}

func (s *randomizedSignature) Respond(_ *protocol.Challenge, _ [][]byte) (*protocol.ChallengeResponse, error) {
	return &protocol.ChallengeResponse{OK: true}, nil
}

func (s *randomizedSignature) Verify(ctx context.Context, owner *ecc.Identity, sess *Session, payloads []string,
	_ *protocol.Challenge, resp *protocol.ChallengeResponse, provider file.BlockStore) (bool, error) {
	if !resp.OK {
		logrus.Warnf("File %s: provider could not answer the challenge: %s", sess.FileID, resp.Error)
		return false, nil
	}
	if provider == nil {
		return false, xerrors.Errorf("file %s: no provider data path to recompute tags: %w", sess.FileID, file.ErrStore)
	}
	stored, err := provider.ReadLines()
	if err != nil {
		return false, xerrors.Errorf("read provider copy of %s: %w", sess.FileID, err)
	}

	recomputed, err := mapBlocks(ctx, s.workers, len(stored), func(i int) (string, error) {
		p, err := decodeStored(stored[i])
		if err != nil {
			// a corrupted line simply produces no matching tag
			logrus.Warnf("File %s: stored block %d is unreadable: %v", sess.FileID, i, err)
			return "", nil
		}
		return hexString(owner.SignDigest(signatureDigest(owner, sess.FileID, p, sess.Nonce))), nil
	})
	if err != nil {
		return false, err
	}
	if len(payloads) != sess.Blocks {
		logrus.Warnf("File %s: ledger holds %d tags, expected %d", sess.FileID, len(payloads), sess.Blocks)
		return false, nil
	}
	return allPresent(payloads, tagSet(recomputed)), nil
}
