package ledger

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Ledger keeps one chain per file id and persists the full chain after every append.
type Ledger struct {
	mu           sync.Mutex
	store        Store
	chains       map[string]*Chain
	verifyOnRead bool
}

type Option func(*Ledger)

// WithVerifyOnRead makes Get re-verify the chain before returning it.
func WithVerifyOnRead(v bool) Option {
	return func(l *Ledger) { l.verifyOnRead = v }
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		chains: make(map[string]*Chain),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Append links block to the latest block of fileID and persists the chain.
// The first append for a file id starts a fresh chain with a genesis block.
func (l *Ledger) Append(fileID string, block *Block) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	chain, ok := l.chains[fileID]
	if !ok {
		var err error
		chain, err = l.load(fileID)
		if err != nil {
			return err
		}
		l.chains[fileID] = chain
	}
	prev := chain.Blocks
	chain.Add(block)

	if err := l.persist(fileID, chain); err != nil {
		chain.Blocks = prev
		return err
	}
	logrus.Debugf("Ledger %s: appended block %d (%d transactions)", fileID, block.Index, len(block.Transactions))
	return nil
}

// load resumes a chain persisted by an earlier process, or starts a new one.
func (l *Ledger) load(fileID string) (*Chain, error) {
	data, err := l.store.Get(fileID)
	if errors.Is(err, ErrNotFound) {
		return NewChain(), nil
	}
	if err != nil {
		return nil, err
	}
	chain, err := UnmarshalChain(data)
	if err != nil {
		return nil, xerrors.Errorf("%v: %w", err, ErrStorage)
	}
	return chain, nil
}

func (l *Ledger) persist(fileID string, chain *Chain) error {
	data, err := chain.Marshal()
	if err != nil {
		return xerrors.Errorf("encode chain %s: %v: %w", fileID, err, ErrStorage)
	}
	return l.store.Put(fileID, data)
}

// Commit batches payloads into blocks of at most TransactionsPerBlock
// transactions and appends them in order. Each append is durable on its own.
func (l *Ledger) Commit(fileID string, payloads []string) error {
	for start := 0; start < len(payloads); start += TransactionsPerBlock {
		end := start + TransactionsPerBlock
		if end > len(payloads) {
			end = len(payloads)
		}
		txs := make([]Transaction, 0, end-start)
		for _, p := range payloads[start:end] {
			txs = append(txs, NewTransaction(p))
		}
		if err := l.Append(fileID, NewBlock(0, txs)); err != nil {
			return xerrors.Errorf("commit batch %d of %s: %w", start/TransactionsPerBlock, fileID, err)
		}
	}
	logrus.Infof("Ledger %s: committed %d records", fileID, len(payloads))
	return nil
}

// Get returns the recorded chain of fileID from the store.
func (l *Ledger) Get(fileID string) (*Chain, error) {
	data, err := l.store.Get(fileID)
	if err != nil {
		return nil, err
	}
	chain, err := UnmarshalChain(data)
	if err != nil {
		return nil, xerrors.Errorf("%v: %w", err, ErrStorage)
	}
	if l.verifyOnRead {
		if err := chain.Verify(); err != nil {
			return nil, err
		}
	}
	return chain, nil
}

// Latest returns the latest recorded block of fileID.
func (l *Ledger) Latest(fileID string) (*Block, error) {
	chain, err := l.Get(fileID)
	if err != nil {
		return nil, err
	}
	return chain.Latest(), nil
}

// Files lists every file id with a recorded chain.
func (l *Ledger) Files() ([]string, error) {
	return l.store.Keys()
}

func (l *Ledger) Close() error {
	return l.store.Close()
}
