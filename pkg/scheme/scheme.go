// Package scheme implements the tag strategies that turn a file into audit material
//
// Variants:
//   - plain-tag (A): tag = H(block), the ledger keeps encrypted tags, the
//     provider answers with the hashes of its stored blocks
//   - merkle-leaf (B): tag = H(block), the owner keeps the Merkle root, the
//     provider answers a single-leaf challenge with an inclusion proof
//   - encrypt-merkle (C): blocks are encrypted first, tag = H(ciphertext),
//     the provider answers with the Merkle root over its stored ciphertexts
//   - randomized-signature (D): tag = Sign(H(owner, key, file, ciphertext, nonce)),
//     the owner recomputes the tags over the provider's copy with its nonce
//
// Each variant covers both sides of an audit:
//   - Generate and NewChallenge and Verify run on the data owner
//   - Respond runs on the storage provider and only sees what it stores
//
// Notes:
//   - Per-block hashing, signing and encryption runs on a bounded worker pool,
//     results always keep block order
//   - A mismatch is a negative verdict (false, nil), never an error
package scheme

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"golang.org/x/xerrors"

	"p2pStorageAudit/pkg/ecc"
	"p2pStorageAudit/pkg/file"
	"p2pStorageAudit/pkg/protocol"
)

var (
	ErrUnknownVariant = errors.New("scheme: unknown variant")
	ErrEmptyFile      = errors.New("scheme: file has no blocks")
	ErrMalformed      = errors.New("scheme: malformed audit material")
)

type Variant string

const (
	PlainTag            Variant = "plain-tag"
	MerkleLeaf          Variant = "merkle-leaf"
	EncryptMerkle       Variant = "encrypt-merkle"
	RandomizedSignature Variant = "randomized-signature"
)

var Variants = []Variant{PlainTag, MerkleLeaf, EncryptMerkle, RandomizedSignature}

var aliases = map[string]Variant{
	"a": PlainTag, "bdisf": PlainTag,
	"b": MerkleLeaf, "bdmdi": MerkleLeaf,
	"c": EncryptMerkle, "bpas": EncryptMerkle,
	"d": RandomizedSignature, "bprdi": RandomizedSignature,
}

// ParseVariant accepts a variant name or its one letter alias.
func ParseVariant(s string) (Variant, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, v := range Variants {
		if string(v) == s {
			return v, nil
		}
	}
	if v, ok := aliases[s]; ok {
		return v, nil
	}
	return "", xerrors.Errorf("%q: %w", s, ErrUnknownVariant)
}

// Encrypted reports whether the provider stores ciphertexts for this variant.
func (v Variant) Encrypted() bool {
	return v == EncryptMerkle || v == RandomizedSignature
}

type Options struct {
	// MaxConcurrency bounds the per-block worker pool, <= 0 means one worker per CPU.
	MaxConcurrency int
	// RandomChallenge makes merkle-leaf challenge a random block instead of block 0.
	RandomChallenge bool
}

// Session is what the owner retains about one outsourced file between phases.
type Session struct {
	FileID         string  `json:"fileId"`
	Variant        Variant `json:"variant"`
	Root           []byte  `json:"root,omitempty"`
	Nonce          string  `json:"nonce,omitempty"`
	Blocks         int     `json:"blocks"`
	ChallengeIndex int     `json:"challengeIndex"`
}

// Generated is the output of phase one for a single file.
type Generated struct {
	Record         file.FileRecord
	Outsourcing    protocol.Outsourcing
	LedgerPayloads []string
	Session        *Session
}

type Scheme interface {
	Variant() Variant
	// Generate derives tags and signatures and builds the OUTSOURCING message.
	Generate(ctx context.Context, owner *ecc.Identity, fileID string, blocks [][]byte) (*Generated, error)
	// NewChallenge builds the CHALLENGE message from the ledger records of the file.
	NewChallenge(ctx context.Context, owner *ecc.Identity, sess *Session, payloads []string) (*protocol.Challenge, error)
	// Respond computes the provider's answer purely from its stored lines.
	Respond(ch *protocol.Challenge, stored [][]byte) (*protocol.ChallengeResponse, error)
	// Verify compares the provider's answer against the ledger records.
	Verify(ctx context.Context, owner *ecc.Identity, sess *Session, payloads []string,
		ch *protocol.Challenge, resp *protocol.ChallengeResponse, provider file.BlockStore) (bool, error)
}

// New returns the implementation of variant.
func New(v Variant, opts Options) (Scheme, error) {
	w := newWorkers(opts.MaxConcurrency)
	switch v {
	case PlainTag:
		return &plainTag{workers: w}, nil
	case MerkleLeaf:
		return &merkleLeaf{workers: w, randomChallenge: opts.RandomChallenge}, nil
	case EncryptMerkle:
		return &encryptMerkle{workers: w}, nil
	case RandomizedSignature:
		return &randomizedSignature{workers: w}, nil
	}
	return nil, xerrors.Errorf("%q: %w", v, ErrUnknownVariant)
}

// StoredLines renders an OUTSOURCING message the way the provider persists
// it: raw blocks, or one JSON encrypted payload per line.
func StoredLines(o *protocol.Outsourcing) ([][]byte, error) {
	if len(o.EncryptedBlocks) == 0 {
		return o.Blocks(), nil
	}
	lines := make([][]byte, len(o.EncryptedBlocks))
	for i := range o.EncryptedBlocks {
		line, err := json.Marshal(&o.EncryptedBlocks[i])
		if err != nil {
			return nil, xerrors.Errorf("encode block %d: %w", i, err)
		}
		lines[i] = line
	}
	return lines, nil
}

func baseChallenge(owner *ecc.Identity, sess *Session) *protocol.Challenge {
	return &protocol.Challenge{
		DataOwnerID: owner.ID,
		FileID:      sess.FileID,
		Scheme:      string(sess.Variant),
	}
}

func newGenerated(v Variant, fileID string, blocks int) *Generated {
	rec := file.NewFileRecord(string(v), blocks)
	rec.FileID = fileID
	return &Generated{
		Record:  rec,
		Session: &Session{FileID: fileID, Variant: v, Blocks: blocks},
	}
}

// encryptTag seals a digest for the ledger with the owner's own key.
func encryptTag(owner *ecc.Identity, d ecc.Digest) (string, error) {
	p, err := ecc.Encrypt(owner.PublicKey(), d.Bytes())
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", xerrors.Errorf("encode encrypted tag: %w", err)
	}
	return string(data), nil
}

// decryptTag opens a ledger record written by encryptTag and returns the tag hex.
func decryptTag(owner *ecc.Identity, payload string) (string, error) {
	var p ecc.EncryptedPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return "", xerrors.Errorf("ledger record is not an encrypted tag: %v: %w", err, ecc.ErrDecryption)
	}
	tag, err := ecc.Decrypt(owner.PrivateKey(), &p)
	if err != nil {
		return "", err
	}
	return hexString(tag), nil
}

// decodeStored parses one provider line written by StoredLines for an encrypted variant.
func decodeStored(line []byte) (*ecc.EncryptedPayload, error) {
	var p ecc.EncryptedPayload
	if err := json.Unmarshal(line, &p); err != nil {
		return nil, xerrors.Errorf("%v: %w", err, ErrMalformed)
	}
	return &p, nil
}

func tagSet(tags []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	return set
}

// allPresent reports whether every ledger tag appears in set.
func allPresent(ledgerTags []string, set map[string]struct{}) bool {
	for _, t := range ledgerTags {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}
