package ledger

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/xerrors"
)

var _ Store = (*BadgerStore)(nil)

type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithSyncWrites(true).
		WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, xerrors.Errorf("open badger %s: %v: %w", path, err, ErrStorage)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Put(key string, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(chainPrefix+key), value)
	})
	if err != nil {
		return xerrors.Errorf("put %s: %v: %w", key, err, ErrStorage)
	}
	return nil
}

func (s *BadgerStore) Get(key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(chainPrefix + key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, xerrors.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, xerrors.Errorf("get %s: %v: %w", key, err, ErrStorage)
	}
	return out, nil
}

func (s *BadgerStore) Has(key string) (bool, error) {
	_, err := s.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *BadgerStore) Keys() ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(chainPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().Key()[len(chainPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, xerrors.Errorf("iterate keys: %v: %w", err, ErrStorage)
	}
	return keys, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
