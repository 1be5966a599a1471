package ledger

import (
	"errors"
	"sync"

	"golang.org/x/xerrors"
)

var (
	ErrNotFound = errors.New("ledger: file id not found")
	ErrStorage  = errors.New("ledger: storage failure")
)

// Backend names accepted by OpenStore.
const (
	BackendLevelDB = "leveldb"
	BackendBadger  = "badger"
	BackendMemory  = "memory"
)

// Store persists one serialized chain per file id.
// Get returns ErrNotFound for an unknown key.
type Store interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, error)
	Has(key string) (bool, error)
	Keys() ([]string, error)
	Close() error
}

// OpenStore opens the named backend rooted at path.
func OpenStore(backend, path string) (Store, error) {
	switch backend {
	case BackendLevelDB, "":
		return NewLevelStore(path)
	case BackendBadger:
		return NewBadgerStore(path)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, xerrors.Errorf("unknown ledger backend %q: %w", backend, ErrStorage)
	}
}

// MemoryStore keeps chains in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, xerrors.Errorf("%s: %w", key, ErrNotFound)
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStore) Has(key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[key]
	return ok, nil
}

func (m *MemoryStore) Keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
