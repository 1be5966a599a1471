package ecc

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/xerrors"
)

// ErrDecryption is returned when a payload was not produced for the key pair or was corrupted.
var ErrDecryption = errors.New("ecc: decryption failed")

const ivSize = aes.BlockSize

// EncryptedPayload is an ECIES envelope. Every field is hex encoded on the wire.
type EncryptedPayload struct {
	IV             []byte
	Ciphertext     []byte
	MAC            []byte
	EphemPublicKey []byte
}

type encryptedPayloadJSON struct {
	IV             string `json:"iv"`
	Ciphertext     string `json:"ciphertext"`
	MAC            string `json:"mac"`
	EphemPublicKey string `json:"ephemPublicKey"`
}

func (p EncryptedPayload) MarshalJSON() ([]byte, error) {
	return json.Marshal(encryptedPayloadJSON{
		IV:             hex.EncodeToString(p.IV),
		Ciphertext:     hex.EncodeToString(p.Ciphertext),
		MAC:            hex.EncodeToString(p.MAC),
		EphemPublicKey: hex.EncodeToString(p.EphemPublicKey),
	})
}

func (p *EncryptedPayload) UnmarshalJSON(data []byte) error {
	var raw encryptedPayloadJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	fields := []struct {
		src string
		dst *[]byte
	}{
		{raw.IV, &p.IV},
		{raw.Ciphertext, &p.Ciphertext},
		{raw.MAC, &p.MAC},
		{raw.EphemPublicKey, &p.EphemPublicKey},
	}
	for _, f := range fields {
		b, err := hex.DecodeString(f.src)
		if err != nil {
			return xerrors.Errorf("invalid hex in encrypted payload: %w", err)
		}
		*f.dst = b
	}
	return nil
}

// CiphertextHex returns the ciphertext as lowercase hex, the form schemes hash and sign.
func (p *EncryptedPayload) CiphertextHex() string {
	return hex.EncodeToString(p.Ciphertext)
}

// Encrypt seals msg for pub.
//
// Layout: ephemeral key k, shared x = ECDH(k, pub), (encKey || macKey) = SHA512(x),
// ciphertext = AES-256-CBC(encKey, iv, PKCS7(msg)), mac = HMAC-SHA256(macKey, iv || ephemPub || ciphertext).
func Encrypt(pub *secp256k1.PublicKey, msg []byte) (*EncryptedPayload, error) {
	return encrypt(rand.Reader, pub, msg)
}

func encrypt(r io.Reader, pub *secp256k1.PublicKey, msg []byte) (*EncryptedPayload, error) {
	if pub == nil {
		return nil, ErrInvalidKey
	}
	ephem, err := secp256k1.GeneratePrivateKeyFromRand(r)
	if err != nil {
		return nil, xerrors.Errorf("failed to generate ephemeral key: %w", err)
	}
	ephemPub := ephem.PubKey().SerializeUncompressed()
	encKey, macKey := deriveKeys(ephem, pub)

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(r, iv); err != nil {
		return nil, xerrors.Errorf("failed to read iv: %w", err)
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(msg, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return &EncryptedPayload{
		IV:             iv,
		Ciphertext:     ciphertext,
		MAC:            computeMAC(macKey, iv, ephemPub, ciphertext),
		EphemPublicKey: ephemPub,
	}, nil
}

// Decrypt opens p with priv. Any failure wraps ErrDecryption.
func Decrypt(priv *secp256k1.PrivateKey, p *EncryptedPayload) ([]byte, error) {
	if p == nil || priv == nil {
		return nil, xerrors.Errorf("missing key or payload: %w", ErrDecryption)
	}
	ephem, err := secp256k1.ParsePubKey(p.EphemPublicKey)
	if err != nil {
		return nil, xerrors.Errorf("bad ephemeral public key: %w", ErrDecryption)
	}
	if len(p.IV) != ivSize || len(p.Ciphertext) == 0 || len(p.Ciphertext)%aes.BlockSize != 0 {
		return nil, xerrors.Errorf("malformed envelope: %w", ErrDecryption)
	}

	encKey, macKey := deriveKeys(priv, ephem)
	expected := computeMAC(macKey, p.IV, p.EphemPublicKey, p.Ciphertext)
	if !hmac.Equal(expected, p.MAC) {
		return nil, xerrors.Errorf("mac mismatch: %w", ErrDecryption)
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(p.Ciphertext))
	cipher.NewCBCDecrypter(block, p.IV).CryptBlocks(plain, p.Ciphertext)
	out, err := pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return nil, xerrors.Errorf("%v: %w", err, ErrDecryption)
	}
	return out, nil
}

func deriveKeys(priv *secp256k1.PrivateKey, pub *secp256k1.PublicKey) (encKey, macKey []byte) {
	shared := secp256k1.GenerateSharedSecret(priv, pub)
	h := sha512.Sum512(shared)
	return h[:32], h[32:]
}

func computeMAC(key, iv, ephemPub, ciphertext []byte) []byte {
	m := hmac.New(sha256.New, key)
	m.Write(iv)
	m.Write(ephemPub)
	m.Write(ciphertext)
	return m.Sum(nil)
}

func pkcs7Pad(data []byte, size int) []byte {
	n := size - len(data)%size
	return append(append([]byte{}, data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, size int) ([]byte, error) {
	if len(data) == 0 || len(data)%size != 0 {
		return nil, errors.New("invalid padded length")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > size {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}
