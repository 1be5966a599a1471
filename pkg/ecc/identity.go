package ecc

import (
	"encoding/hex"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/google/uuid"
	"golang.org/x/xerrors"
)

var (
	ErrInvalidKey = errors.New("ecc: invalid key")
)

// Identity is a data owner's process-scoped id and secp256k1 key pair.
type Identity struct {
	ID   string
	priv *secp256k1.PrivateKey
}

// NewIdentity generates a fresh owner id and key pair.
func NewIdentity() (*Identity, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, xerrors.Errorf("failed to generate private key: %w", err)
	}
	return &Identity{
		ID:   uuid.NewString(),
		priv: priv,
	}, nil
}

// IdentityFromKey rebuilds an identity from a 32-byte private key.
func IdentityFromKey(id string, secKey []byte) (*Identity, error) {
	if len(secKey) != secp256k1.PrivKeyBytesLen {
		return nil, xerrors.Errorf("private key length %d: %w", len(secKey), ErrInvalidKey)
	}
	return &Identity{
		ID:   id,
		priv: secp256k1.PrivKeyFromBytes(secKey),
	}, nil
}

func (i *Identity) PrivateKey() *secp256k1.PrivateKey {
	return i.priv
}

func (i *Identity) PublicKey() *secp256k1.PublicKey {
	return i.priv.PubKey()
}

// PublicKeyHex returns the uncompressed public key as lowercase hex.
func (i *Identity) PublicKeyHex() string {
	return hex.EncodeToString(i.PublicKey().SerializeUncompressed())
}

// SignDigest signs digest with the identity's private key.
func (i *Identity) SignDigest(d Digest) []byte {
	return Sign(i.priv, d)
}

// ParsePublicKey parses a compressed or uncompressed secp256k1 public key.
func ParsePublicKey(raw []byte) (*secp256k1.PublicKey, error) {
	pub, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return nil, xerrors.Errorf("%v: %w", err, ErrInvalidKey)
	}
	return pub, nil
}

// ParsePublicKeyHex parses a hex encoded public key.
func ParsePublicKeyHex(s string) (*secp256k1.PublicKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, xerrors.Errorf("%v: %w", err, ErrInvalidKey)
	}
	return ParsePublicKey(raw)
}

// Sign returns a DER encoded RFC6979 ECDSA signature over digest.
// The same key and digest always yield the same signature.
func Sign(priv *secp256k1.PrivateKey, d Digest) []byte {
	return ecdsa.Sign(priv, d[:]).Serialize()
}

// Verify reports whether sig is a valid DER signature of digest under pub.
func Verify(pub *secp256k1.PublicKey, d Digest, sig []byte) bool {
	s, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	return s.Verify(d[:], pub)
}
