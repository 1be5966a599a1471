// Package ecc provides the hashing and signature primitives used by every audit scheme
//
// Core features:
//   - Hash: SHA-256 digest (sha256-simd)
//   - Identity: secp256k1 key pair bound to a data owner id
//   - Sign / Verify: deterministic ECDSA (RFC6979), DER encoded
//   - Encrypt / Decrypt: ECIES envelope {iv, ciphertext, mac, ephemPublicKey}
//
// Usage:
//
//	id, err := ecc.NewIdentity()
//	if err != nil {
//	    return err
//	}
//	payload, err := ecc.Encrypt(id.PublicKey(), []byte("tag"))
//	plain, err := ecc.Decrypt(id.PrivateKey(), payload)
//
// Notes:
//   - The private key never leaves the owner process
//   - Decrypt failures wrap ErrDecryption and must be treated as audit failures
package ecc

import (
	"encoding/hex"

	"github.com/minio/sha256-simd"
)

// DigestSize is the size of a SHA-256 digest in bytes.
const DigestSize = sha256.Size

// Digest is a fixed-size SHA-256 output.
type Digest [DigestSize]byte

// Hash returns the SHA-256 digest of data.
func Hash(data []byte) Digest {
	return sha256.Sum256(data)
}

// HashConcat hashes the concatenation of all parts without copying them into one buffer.
func HashConcat(parts ...[]byte) Digest {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

func (d Digest) Bytes() []byte {
	return d[:]
}

func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// HashHex is a shorthand for Hash(data).Hex().
func HashHex(data []byte) string {
	return Hash(data).Hex()
}
