package scheme

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"p2pStorageAudit/pkg/ecc"
	"p2pStorageAudit/pkg/file"
	"p2pStorageAudit/pkg/protocol"
)

func testBlocks(n int) [][]byte {
	blocks := make([][]byte, n)
	for i := range blocks {
		blocks[i] = []byte(fmt.Sprintf("%064x", i*7919+1))
	}
	return blocks
}

func newOwner(t require.TestingT) *ecc.Identity {
	id, err := ecc.NewIdentity()
	require.NoError(t, err)
	return id
}

type outsourced struct {
	scheme Scheme
	owner  *ecc.Identity
	gen    *Generated
	store  *file.MemoryBlockStore
}

// outsource runs phase one and hands the message to an in-memory provider
// through a JSON round trip, the way it travels over the network.
func outsource(t require.TestingT, v Variant, opts Options, blocks [][]byte) *outsourced {
	s, err := New(v, opts)
	require.NoError(t, err)
	owner := newOwner(t)
	gen, err := s.Generate(context.Background(), owner, "file-1", blocks)
	require.NoError(t, err)

	data, err := json.Marshal(gen.Outsourcing)
	require.NoError(t, err)
	var received protocol.Outsourcing
	require.NoError(t, json.Unmarshal(data, &received))

	lines, err := StoredLines(&received)
	require.NoError(t, err)
	store := file.NewMemoryBlockStore()
	require.NoError(t, store.WriteLines(lines))
	return &outsourced{scheme: s, owner: owner, gen: gen, store: store}
}

// audit runs phase two against the provider's current copy.
func (o *outsourced) audit(t require.TestingT) (bool, error) {
	ctx := context.Background()
	ch, err := o.scheme.NewChallenge(ctx, o.owner, o.gen.Session, o.gen.LedgerPayloads)
	if err != nil {
		return false, err
	}
	stored, err := o.store.ReadLines()
	require.NoError(t, err)
	resp, err := o.scheme.Respond(ch, stored)
	require.NoError(t, err)
	return o.scheme.Verify(ctx, o.owner, o.gen.Session, o.gen.LedgerPayloads, ch, resp, o.store)
}

// tamperCiphertext flips one ciphertext byte of a stored encrypted block.
func (o *outsourced) tamperCiphertext(t require.TestingT, index, pos int) {
	stored, err := o.store.ReadLines()
	require.NoError(t, err)
	var p ecc.EncryptedPayload
	require.NoError(t, json.Unmarshal(stored[index], &p))
	p.Ciphertext[pos%len(p.Ciphertext)] ^= 0x01
	line, err := json.Marshal(&p)
	require.NoError(t, err)
	o.store.Tamper(index, line)
}

func (o *outsourced) tamperBlock(t require.TestingT, index, pos int) {
	stored, err := o.store.ReadLines()
	require.NoError(t, err)
	line := stored[index]
	line[pos%len(line)] ^= 0x01
	o.store.Tamper(index, line)
}

func TestParseVariant(t *testing.T) {
	tests := []struct {
		in   string
		want Variant
	}{
		{"plain-tag", PlainTag},
		{"A", PlainTag},
		{"merkle-leaf", MerkleLeaf},
		{"bdmdi", MerkleLeaf},
		{" Encrypt-Merkle ", EncryptMerkle},
		{"c", EncryptMerkle},
		{"randomized-signature", RandomizedSignature},
		{"D", RandomizedSignature},
	}
	for _, tt := range tests {
		got, err := ParseVariant(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseVariant("e")
	require.ErrorIs(t, err, ErrUnknownVariant)
	_, err = New("e", Options{})
	require.ErrorIs(t, err, ErrUnknownVariant)
}

func TestRoundTripAllVariants(t *testing.T) {
	for _, v := range Variants {
		for _, n := range []int{1, 2, 3, 11, 24} {
			t.Run(fmt.Sprintf("%s/%d blocks", v, n), func(t *testing.T) {
				o := outsource(t, v, Options{MaxConcurrency: 4}, testBlocks(n))
				assert.Equal(t, v, o.scheme.Variant())
				assert.Equal(t, "file-1", o.gen.Record.FileID)
				assert.Equal(t, n, o.gen.Record.Blocks)
				assert.Len(t, o.gen.LedgerPayloads, n)
				assert.Len(t, o.gen.Outsourcing.Signatures, n)

				intact, err := o.audit(t)
				require.NoError(t, err)
				assert.True(t, intact)
			})
		}
	}
}

func TestGenerateRejectsEmptyFile(t *testing.T) {
	for _, v := range Variants {
		s, err := New(v, Options{})
		require.NoError(t, err)
		_, err = s.Generate(context.Background(), newOwner(t), "f", nil)
		require.ErrorIs(t, err, ErrEmptyFile, v)
	}
}

func TestOutsourcingShape(t *testing.T) {
	blocks := testBlocks(3)
	for _, v := range Variants {
		t.Run(string(v), func(t *testing.T) {
			o := outsource(t, v, Options{}, blocks)
			msg := o.gen.Outsourcing
			if v.Encrypted() {
				assert.Empty(t, msg.Data)
				require.Len(t, msg.EncryptedBlocks, 3)
				for i, p := range msg.EncryptedBlocks {
					plain, err := ecc.Decrypt(o.owner.PrivateKey(), &p)
					require.NoError(t, err)
					assert.Equal(t, blocks[i], plain)
				}
			} else {
				assert.Equal(t, blocks, msg.Blocks())
				assert.Empty(t, msg.EncryptedBlocks)
			}

			sigs, err := msg.DecodeSignatures()
			require.NoError(t, err)
			if v == PlainTag || v == MerkleLeaf {
				for i, sig := range sigs {
					assert.True(t, ecc.Verify(o.owner.PublicKey(), ecc.Hash(blocks[i]), sig))
				}
			}
			if v == EncryptMerkle {
				for i, sig := range sigs {
					d := ecc.Hash(msg.EncryptedBlocks[i].Ciphertext)
					assert.True(t, ecc.Verify(o.owner.PublicKey(), d, sig))
					assert.Equal(t, d.Hex(), o.gen.LedgerPayloads[i])
				}
			}
			if v == RandomizedSignature {
				for i, sig := range sigs {
					d := signatureDigest(o.owner, "file-1", &msg.EncryptedBlocks[i], "")
					assert.True(t, ecc.Verify(o.owner.PublicKey(), d, sig))
				}
				assert.NotEmpty(t, o.gen.Session.Nonce)
			}
		})
	}
}

func TestTamperDetection(t *testing.T) {
	tests := []struct {
		variant Variant
		index   int
	}{
		{PlainTag, 0},
		{PlainTag, 4},
		{MerkleLeaf, 0},
		{MerkleLeaf, 3},
		{EncryptMerkle, 0},
		{EncryptMerkle, 4},
		{RandomizedSignature, 2},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/block %d", tt.variant, tt.index), func(t *testing.T) {
			o := outsource(t, tt.variant, Options{}, testBlocks(5))
			if tt.variant.Encrypted() {
				o.tamperCiphertext(t, tt.index, 7)
			} else {
				o.tamperBlock(t, tt.index, 7)
			}
			intact, err := o.audit(t)
			require.NoError(t, err)
			assert.False(t, intact)
		})
	}
}

func TestCorruptedEncryptedLine(t *testing.T) {
	for _, v := range []Variant{EncryptMerkle, RandomizedSignature} {
		t.Run(string(v), func(t *testing.T) {
			o := outsource(t, v, Options{}, testBlocks(3))
			o.store.Tamper(1, []byte("{not json"))
			intact, err := o.audit(t)
			require.NoError(t, err)
			assert.False(t, intact)
		})
	}
}

func TestMissingBlockDetected(t *testing.T) {
	for _, v := range Variants {
		t.Run(string(v), func(t *testing.T) {
			o := outsource(t, v, Options{}, testBlocks(4))
			stored, err := o.store.ReadLines()
			require.NoError(t, err)
			require.NoError(t, o.store.WriteLines(stored[1:]))
			intact, err := o.audit(t)
			require.NoError(t, err)
			assert.False(t, intact)
		})
	}
}

func TestMerkleLeafThreeBlocks(t *testing.T) {
	blocks := [][]byte{[]byte("block-0"), []byte("block-1"), []byte("block-2")}

	o := outsource(t, MerkleLeaf, Options{}, blocks)
	require.NotEmpty(t, o.gen.Session.Root)
	assert.Equal(t, o.gen.Session.Root, o.gen.Record.Root)

	ch, err := o.scheme.NewChallenge(context.Background(), o.owner, o.gen.Session, o.gen.LedgerPayloads)
	require.NoError(t, err)
	assert.Equal(t, ecc.HashHex(blocks[0]), ch.Challenge)
	assert.Equal(t, 0, o.gen.Session.ChallengeIndex)

	stored, err := o.store.ReadLines()
	require.NoError(t, err)
	resp, err := o.scheme.Respond(ch, stored)
	require.NoError(t, err)
	require.Len(t, resp.Proof, 2)

	intact, err := o.audit(t)
	require.NoError(t, err)
	assert.True(t, intact)

	t.Run("challenged block replaced", func(t *testing.T) {
		o := outsource(t, MerkleLeaf, Options{}, blocks)
		o.store.Tamper(0, []byte("forged"))
		intact, err := o.audit(t)
		require.NoError(t, err)
		assert.False(t, intact)
	})
	t.Run("other block replaced", func(t *testing.T) {
		o := outsource(t, MerkleLeaf, Options{}, blocks)
		o.store.Tamper(2, []byte("forged"))
		intact, err := o.audit(t)
		require.NoError(t, err)
		assert.False(t, intact)
	})
}

func TestMerkleLeafSingleBlockTampered(t *testing.T) {
	o := outsource(t, MerkleLeaf, Options{}, [][]byte{[]byte("only-block")})
	intact, err := o.audit(t)
	require.NoError(t, err)
	assert.True(t, intact)

	o.store.Tamper(0, []byte("forged"))
	ch, err := o.scheme.NewChallenge(context.Background(), o.owner, o.gen.Session, o.gen.LedgerPayloads)
	require.NoError(t, err)
	stored, err := o.store.ReadLines()
	require.NoError(t, err)
	resp, err := o.scheme.Respond(ch, stored)
	require.NoError(t, err)
	assert.False(t, resp.OK)
	assert.Equal(t, "leaf not found", resp.Error)

	intact, err = o.audit(t)
	require.NoError(t, err)
	assert.False(t, intact)
}

func TestMerkleLeafRandomChallenge(t *testing.T) {
	o := outsource(t, MerkleLeaf, Options{RandomChallenge: true}, testBlocks(9))
	for i := 0; i < 5; i++ {
		intact, err := o.audit(t)
		require.NoError(t, err)
		assert.True(t, intact)
		assert.Less(t, o.gen.Session.ChallengeIndex, 9)
	}
}

func TestPlainTagDuplicateBlocksWeakness(t *testing.T) {
	// identical blocks share a tag, so losing one copy goes unnoticed
	blocks := [][]byte{[]byte("same"), []byte("same"), []byte("other")}
	o := outsource(t, PlainTag, Options{}, blocks)
	o.store.Tamper(1, []byte("lost"))
	intact, err := o.audit(t)
	require.NoError(t, err)
	assert.True(t, intact)
}

func TestDecryptionFailureIsAnError(t *testing.T) {
	for _, v := range []Variant{PlainTag, MerkleLeaf} {
		t.Run(string(v), func(t *testing.T) {
			o := outsource(t, v, Options{}, testBlocks(2))
			stranger := newOwner(t)
			forged, err := encryptTag(stranger, ecc.Hash([]byte("x")))
			require.NoError(t, err)
			o.gen.LedgerPayloads[0] = forged

			intact, err := o.audit(t)
			require.ErrorIs(t, err, ecc.ErrDecryption)
			assert.False(t, intact)
		})
	}
}

func TestRandomizedSignatureNeedsNonce(t *testing.T) {
	o := outsource(t, RandomizedSignature, Options{}, testBlocks(3))

	o.gen.Session.Nonce = "other-nonce"
	intact, err := o.audit(t)
	require.NoError(t, err)
	assert.False(t, intact)

	o.gen.Session.Nonce = ""
	_, err = o.audit(t)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestRandomizedSignatureWithoutProviderPath(t *testing.T) {
	o := outsource(t, RandomizedSignature, Options{}, testBlocks(2))
	ch, err := o.scheme.NewChallenge(context.Background(), o.owner, o.gen.Session, o.gen.LedgerPayloads)
	require.NoError(t, err)
	resp := &protocol.ChallengeResponse{OK: true}
	_, err = o.scheme.Verify(context.Background(), o.owner, o.gen.Session, o.gen.LedgerPayloads, ch, resp, nil)
	require.ErrorIs(t, err, file.ErrStore)
}

func TestFailedResponseIsNotIntact(t *testing.T) {
	for _, v := range Variants {
		o := outsource(t, v, Options{}, testBlocks(2))
		ch, err := o.scheme.NewChallenge(context.Background(), o.owner, o.gen.Session, o.gen.LedgerPayloads)
		require.NoError(t, err)
		resp := &protocol.ChallengeResponse{OK: false, Error: "no data"}
		intact, err := o.scheme.Verify(context.Background(), o.owner, o.gen.Session, o.gen.LedgerPayloads, ch, resp, o.store)
		require.NoError(t, err, v)
		assert.False(t, intact, v)
	}
}

func TestPropertyTamperDetected(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		v := rapid.SampledFrom([]Variant{MerkleLeaf, EncryptMerkle, RandomizedSignature}).Draw(rt, "variant")
		n := rapid.IntRange(1, 8).Draw(rt, "blocks")
		blocks := make([][]byte, n)
		for i := range blocks {
			// distinct blocks, duplicates are covered by the plain-tag weakness test
			blocks[i] = []byte(fmt.Sprintf("%d:%s", i, rapid.StringMatching(`[0-9a-f]{1,40}`).Draw(rt, "block")))
		}
		index := rapid.IntRange(0, n-1).Draw(rt, "index")
		pos := rapid.IntRange(0, 1<<16).Draw(rt, "pos")

		o := outsource(rt, v, Options{}, blocks)
		if v.Encrypted() {
			o.tamperCiphertext(rt, index, pos)
		} else {
			o.tamperBlock(rt, index, pos)
		}
		intact, err := o.audit(rt)
		if err != nil {
			rt.Fatalf("audit: %v", err)
		}
		if intact {
			rt.Fatalf("%s: tampered block %d not detected", v, index)
		}
	})
}

func TestMapBlocksKeepsOrder(t *testing.T) {
	var inFlight, peak int32
	out, err := mapBlocks(context.Background(), newWorkers(3), 50, func(i int) (int, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return i * i, nil
	})
	require.NoError(t, err)
	for i, v := range out {
		assert.Equal(t, i*i, v)
	}
	assert.LessOrEqual(t, peak, int32(3))
}

func TestMapBlocksReturnsFirstFailure(t *testing.T) {
	boom := errors.New("boom")
	_, err := mapBlocks(context.Background(), newWorkers(2), 20, func(i int) (int, error) {
		if i == 5 {
			return 0, boom
		}
		return i, nil
	})
	require.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = mapBlocks(ctx, newWorkers(2), 5, func(i int) (int, error) { return i, nil })
	require.ErrorIs(t, err, context.Canceled)
}
