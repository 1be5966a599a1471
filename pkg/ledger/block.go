// Package ledger provides the append-only hash-chained ledger that anchors audit tags
//
// Structure:
//   - Transaction: {id, payload, timestamp}, payload is a scheme specific tag record
//   - Block: {index, timestamp, previousHash, hash, transactions}
//   - Chain: genesis block followed by appended blocks, one chain per file id
//   - Ledger: appends blocks and persists the whole chain under the file id
//
// Invariants:
//   - Block 0 (genesis) has no transactions and an empty previousHash
//   - Every later block's previousHash equals the hash of the block that was
//     latest when it was appended
//   - hash = SHA256("<index>:<timestamp>:<tx>,<tx>,...:<previousHash>")
//   - Blocks are never edited or removed
//
// Storage backends:
//   - leveldb (default), badger, memory
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"p2pStorageAudit/pkg/ecc"
)

// TransactionsPerBlock bounds the payload of one block during a commit.
const TransactionsPerBlock = 10

type Transaction struct {
	ID        string `json:"id"`
	Payload   string `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}

// NewTransaction wraps payload with a fresh id and the current time.
func NewTransaction(payload string) Transaction {
	return Transaction{
		ID:        uuid.NewString(),
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
}

func (t Transaction) String() string {
	return t.ID + "#" + t.Payload + "#" + fmt.Sprint(t.Timestamp)
}

type Block struct {
	Index        int           `json:"index"`
	Timestamp    int64         `json:"timestamp"`
	PreviousHash string        `json:"previousHash"`
	Hash         string        `json:"hash"`
	Transactions []Transaction `json:"transactions"`
}

// NewBlock creates an unlinked block. Append sets previousHash and hash.
func NewBlock(index int, txs []Transaction) *Block {
	if txs == nil {
		txs = []Transaction{}
	}
	return &Block{
		Index:        index,
		Timestamp:    time.Now().UnixMilli(),
		Transactions: txs,
	}
}

// CalculateHash hashes the block's index, timestamp, transactions and previousHash.
func (b *Block) CalculateHash() string {
	txs := make([]string, len(b.Transactions))
	for i, tx := range b.Transactions {
		txs[i] = tx.String()
	}
	preimage := fmt.Sprintf("%d:%d:%s:%s", b.Index, b.Timestamp, strings.Join(txs, ","), b.PreviousHash)
	return ecc.HashHex([]byte(preimage))
}

// Payloads returns the transaction payloads in order.
func (b *Block) Payloads() []string {
	out := make([]string, len(b.Transactions))
	for i, tx := range b.Transactions {
		out[i] = tx.Payload
	}
	return out
}

func newGenesis() Block {
	g := NewBlock(0, nil)
	g.Hash = g.CalculateHash()
	return *g
}
