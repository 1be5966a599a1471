package ledger

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"golang.org/x/xerrors"
)

// chains live under their own prefix, the way the ledger used a sublevel
const chainPrefix = "blockchain!"

var _ Store = (*LevelStore)(nil)

type LevelStore struct {
	db *leveldb.DB
}

func NewLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, xerrors.Errorf("open leveldb %s: %v: %w", path, err, ErrStorage)
	}
	return &LevelStore{db: db}, nil
}

func (s *LevelStore) Put(key string, value []byte) error {
	if err := s.db.Put([]byte(chainPrefix+key), value, &opt.WriteOptions{Sync: true}); err != nil {
		return xerrors.Errorf("put %s: %v: %w", key, err, ErrStorage)
	}
	return nil
}

func (s *LevelStore) Get(key string) ([]byte, error) {
	v, err := s.db.Get([]byte(chainPrefix+key), nil)
	if err == leveldb.ErrNotFound {
		return nil, xerrors.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, xerrors.Errorf("get %s: %v: %w", key, err, ErrStorage)
	}
	return v, nil
}

func (s *LevelStore) Has(key string) (bool, error) {
	ok, err := s.db.Has([]byte(chainPrefix+key), nil)
	if err != nil {
		return false, xerrors.Errorf("has %s: %v: %w", key, err, ErrStorage)
	}
	return ok, nil
}

func (s *LevelStore) Keys() ([]string, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte(chainPrefix)), nil)
	defer it.Release()

	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()[len(chainPrefix):]))
	}
	if err := it.Error(); err != nil {
		return nil, xerrors.Errorf("iterate keys: %v: %w", err, ErrStorage)
	}
	return keys, nil
}

func (s *LevelStore) Close() error {
	return s.db.Close()
}
