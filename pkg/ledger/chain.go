package ledger

import (
	"encoding/json"
	"errors"

	"golang.org/x/xerrors"
)

var ErrChainBroken = errors.New("ledger: chain integrity check failed")

// Chain is the recorded block sequence of one file.
type Chain struct {
	Blocks []Block `json:"chain"`
}

// NewChain returns a chain holding only the genesis block.
func NewChain() *Chain {
	return &Chain{Blocks: []Block{newGenesis()}}
}

// Latest returns the last appended block.
func (c *Chain) Latest() *Block {
	return &c.Blocks[len(c.Blocks)-1]
}

// Len counts blocks including genesis.
func (c *Chain) Len() int {
	return len(c.Blocks)
}

// Add links b to the latest block, computes its hash and appends it.
func (c *Chain) Add(b *Block) {
	b.Index = len(c.Blocks)
	b.PreviousHash = c.Latest().Hash
	b.Hash = b.CalculateHash()
	c.Blocks = append(c.Blocks, *b)
}

// Payloads flattens every transaction payload, skipping genesis.
func (c *Chain) Payloads() []string {
	var out []string
	for _, b := range c.Blocks[1:] {
		out = append(out, b.Payloads()...)
	}
	return out
}

// Verify recomputes every block hash and previousHash link.
func (c *Chain) Verify() error {
	if len(c.Blocks) == 0 {
		return xerrors.Errorf("empty chain: %w", ErrChainBroken)
	}
	genesis := c.Blocks[0]
	if genesis.Index != 0 || genesis.PreviousHash != "" || len(genesis.Transactions) != 0 {
		return xerrors.Errorf("malformed genesis block: %w", ErrChainBroken)
	}
	for i := range c.Blocks {
		b := &c.Blocks[i]
		if b.Index != i {
			return xerrors.Errorf("block %d has index %d: %w", i, b.Index, ErrChainBroken)
		}
		if b.Hash != b.CalculateHash() {
			return xerrors.Errorf("block %d hash mismatch: %w", i, ErrChainBroken)
		}
		if i > 0 && b.PreviousHash != c.Blocks[i-1].Hash {
			return xerrors.Errorf("block %d previous hash mismatch: %w", i, ErrChainBroken)
		}
	}
	return nil
}

func (c *Chain) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

func UnmarshalChain(data []byte) (*Chain, error) {
	var c Chain
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, xerrors.Errorf("failed to decode chain: %w", err)
	}
	if len(c.Blocks) == 0 {
		return nil, xerrors.Errorf("decoded chain has no genesis block: %w", ErrChainBroken)
	}
	return &c, nil
}
