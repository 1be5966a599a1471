// Package protocol defines the messages exchanged between a data owner and a storage provider
//
// Message kinds:
//   - PUBLIC_KEY: the owner registers its id and public key
//   - OUTSOURCING: the owner hands over a file (raw blocks or ciphertexts) and signatures
//   - CHALLENGE: the owner asks the provider to prove possession of a file
//
// Every request is answered with exactly one reply on the same stream:
//   - PUBLIC_KEY and OUTSOURCING are answered with an Ack
//   - CHALLENGE is answered with a ChallengeResponse
//
// Messages are JSON encoded. Byte slices travel as hex strings so that a
// reply can be inspected by hand when debugging a session.
package protocol

import (
	"encoding/hex"

	"github.com/libp2p/go-libp2p/core/protocol"
	"golang.org/x/xerrors"

	"p2pStorageAudit/pkg/ecc"
	"p2pStorageAudit/pkg/merkleTree"
)

type Kind string

const (
	KindPublicKey   Kind = "PUBLIC_KEY"
	KindOutsourcing Kind = "OUTSOURCING"
	KindChallenge   Kind = "CHALLENGE"
)

const (
	PublicKeyProtocol   protocol.ID = "/storageAudit/publicKey/1.0.0"
	OutsourcingProtocol protocol.ID = "/storageAudit/outsourcing/1.0.0"
	ChallengeProtocol   protocol.ID = "/storageAudit/challenge/1.0.0"
)

// ProtocolFor maps a message kind to the stream protocol that carries it.
func ProtocolFor(k Kind) protocol.ID {
	switch k {
	case KindPublicKey:
		return PublicKeyProtocol
	case KindOutsourcing:
		return OutsourcingProtocol
	case KindChallenge:
		return ChallengeProtocol
	}
	return ""
}

type PublicKey struct {
	DataOwnerID string `json:"dataOwnerId"`
	PublicKey   string `json:"publicKey"`
}

// Outsourcing carries one whole file. Data holds raw blocks for the
// plain-tag and merkle-leaf schemes, EncryptedBlocks holds per-block
// ciphertexts for the encrypt-merkle and randomized-signature schemes.
type Outsourcing struct {
	DataOwnerID     string                 `json:"dataOwnerId"`
	FileID          string                 `json:"fileId"`
	Scheme          string                 `json:"scheme"`
	Data            []string               `json:"data,omitempty"`
	EncryptedBlocks []ecc.EncryptedPayload `json:"encryptedBlocks,omitempty"`
	Signatures      []string               `json:"signatures"`
}

// NewOutsourcing encodes raw blocks and signatures for the wire.
func NewOutsourcing(ownerID, fileID, scheme string, data [][]byte, encrypted []ecc.EncryptedPayload, signatures [][]byte) Outsourcing {
	o := Outsourcing{
		DataOwnerID:     ownerID,
		FileID:          fileID,
		Scheme:          scheme,
		EncryptedBlocks: encrypted,
		Signatures:      make([]string, len(signatures)),
	}
	if data != nil {
		o.Data = make([]string, len(data))
		for i, b := range data {
			o.Data[i] = string(b)
		}
	}
	for i, s := range signatures {
		o.Signatures[i] = hex.EncodeToString(s)
	}
	return o
}

// Blocks returns the raw blocks as byte slices.
func (o *Outsourcing) Blocks() [][]byte {
	out := make([][]byte, len(o.Data))
	for i, d := range o.Data {
		out[i] = []byte(d)
	}
	return out
}

// DecodeSignatures returns the DER signatures.
func (o *Outsourcing) DecodeSignatures() ([][]byte, error) {
	out := make([][]byte, len(o.Signatures))
	for i, s := range o.Signatures {
		raw, err := hex.DecodeString(s)
		if err != nil {
			return nil, xerrors.Errorf("signature %d: %w", i, err)
		}
		out[i] = raw
	}
	return out, nil
}

type Challenge struct {
	DataOwnerID string `json:"dataOwnerId"`
	FileID      string `json:"fileId"`
	Scheme      string `json:"scheme"`
	Challenge   string `json:"challenge,omitempty"`
}

// ChallengeResponse carries exactly one scheme specific artifact.
type ChallengeResponse struct {
	Tags    []string         `json:"tags,omitempty"`
	Proof   merkleTree.Proof `json:"proof,omitempty"`
	RootCSP string           `json:"rootCSP,omitempty"`
	OK      bool             `json:"ok"`
	Error   string           `json:"error,omitempty"`
}

type Ack struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
