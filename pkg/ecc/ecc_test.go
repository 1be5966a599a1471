package ecc

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashKnownVector(t *testing.T) {
	// SHA-256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", HashHex([]byte("abc")))
	assert.Equal(t, Hash([]byte("ab"+"c")), HashConcat([]byte("ab"), []byte("c")))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	id, err := NewIdentity()
	require.NoError(t, err)

	tests := []struct {
		name string
		msg  []byte
	}{
		{"empty", []byte{}},
		{"one byte", []byte{0x42}},
		{"block aligned", make([]byte, 32)},
		{"tag", Hash([]byte("block-0")).Bytes()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := Encrypt(id.PublicKey(), tt.msg)
			require.NoError(t, err)
			assert.Len(t, payload.IV, 16)
			assert.Len(t, payload.EphemPublicKey, 65)
			assert.Len(t, payload.MAC, 32)

			plain, err := Decrypt(id.PrivateKey(), payload)
			require.NoError(t, err)
			assert.Equal(t, tt.msg, plain)
		})
	}
}

func TestDecryptWrongKey(t *testing.T) {
	owner, err := NewIdentity()
	require.NoError(t, err)
	stranger, err := NewIdentity()
	require.NoError(t, err)

	payload, err := Encrypt(owner.PublicKey(), []byte("secret tag"))
	require.NoError(t, err)

	_, err = Decrypt(stranger.PrivateKey(), payload)
	require.ErrorIs(t, err, ErrDecryption)
}

func TestDecryptTampered(t *testing.T) {
	id, err := NewIdentity()
	require.NoError(t, err)

	mutate := map[string]func(p *EncryptedPayload){
		"ciphertext": func(p *EncryptedPayload) { p.Ciphertext[0] ^= 0x01 },
		"mac":        func(p *EncryptedPayload) { p.MAC[5] ^= 0x80 },
		"iv":         func(p *EncryptedPayload) { p.IV[0] ^= 0x01 },
		"ephem key":  func(p *EncryptedPayload) { p.EphemPublicKey = p.EphemPublicKey[:10] },
		"truncated":  func(p *EncryptedPayload) { p.Ciphertext = p.Ciphertext[:3] },
	}
	for name, fn := range mutate {
		t.Run(name, func(t *testing.T) {
			payload, err := Encrypt(id.PublicKey(), []byte("some block data"))
			require.NoError(t, err)
			fn(payload)
			_, err = Decrypt(id.PrivateKey(), payload)
			require.ErrorIs(t, err, ErrDecryption)
		})
	}
}

func TestEncryptedPayloadJSON(t *testing.T) {
	id, err := NewIdentity()
	require.NoError(t, err)
	payload, err := Encrypt(id.PublicKey(), []byte("hello"))
	require.NoError(t, err)

	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	var fields map[string]string
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, hex.EncodeToString(payload.Ciphertext), fields["ciphertext"])
	assert.Contains(t, fields, "ephemPublicKey")

	var decoded EncryptedPayload
	require.NoError(t, json.Unmarshal(raw, &decoded))
	plain, err := Decrypt(id.PrivateKey(), &decoded)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(plain))

	require.Error(t, json.Unmarshal([]byte(`{"iv":"zz"}`), &decoded))
}

func TestSignIsDeterministic(t *testing.T) {
	id, err := NewIdentity()
	require.NoError(t, err)
	d := Hash([]byte("owner|pub|file|ct|nonce"))

	s1 := id.SignDigest(d)
	s2 := id.SignDigest(d)
	assert.Equal(t, s1, s2)
	assert.True(t, Verify(id.PublicKey(), d, s1))
	assert.False(t, Verify(id.PublicKey(), Hash([]byte("other")), s1))
	assert.False(t, Verify(id.PublicKey(), d, []byte{0x30, 0x01}))
}

func TestIdentityFromKey(t *testing.T) {
	id, err := NewIdentity()
	require.NoError(t, err)

	rebuilt, err := IdentityFromKey(id.ID, id.PrivateKey().Serialize())
	require.NoError(t, err)
	assert.Equal(t, id.PublicKeyHex(), rebuilt.PublicKeyHex())

	_, err = IdentityFromKey("x", []byte{1, 2, 3})
	require.ErrorIs(t, err, ErrInvalidKey)

	pub, err := ParsePublicKeyHex(id.PublicKeyHex())
	require.NoError(t, err)
	assert.True(t, pub.IsEqual(id.PublicKey()))

	_, err = ParsePublicKeyHex("not-hex")
	require.ErrorIs(t, err, ErrInvalidKey)
}
