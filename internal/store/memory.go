package store

import (
	"sort"
	"strings"
	"sync"
)

// MemoryStore keeps records in process memory. Update transactions stage
// writes in an overlay that is merged only on success.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Update(fn func(Txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	overlay := &memoryKV{base: s.data, writes: make(map[string][]byte)}
	if err := fn(&recordTxn{kv: overlay}); err != nil {
		return err
	}
	for k, v := range overlay.writes {
		s.data[k] = v
	}
	return nil
}

func (s *MemoryStore) View(fn func(Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(&recordTxn{kv: &memoryKV{base: s.data}})
}

func (s *MemoryStore) Close() error {
	return nil
}

type memoryKV struct {
	base   map[string][]byte
	writes map[string][]byte // nil for read-only views
}

func (m *memoryKV) get(key string) ([]byte, error) {
	if v, ok := m.writes[key]; ok {
		return append([]byte(nil), v...), nil
	}
	if v, ok := m.base[key]; ok {
		return append([]byte(nil), v...), nil
	}
	return nil, ErrNotFound
}

func (m *memoryKV) set(key string, val []byte) error {
	if m.writes == nil {
		return errReadOnly
	}
	m.writes[key] = append([]byte(nil), val...)
	return nil
}

func (m *memoryKV) iterate(prefix string, fn func(string, []byte) error) error {
	keys := make([]string, 0)
	seen := make(map[string]struct{})
	for _, src := range []map[string][]byte{m.writes, m.base} {
		for k := range src {
			if _, dup := seen[k]; dup || !strings.HasPrefix(k, prefix) {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		v, err := m.get(k)
		if err != nil {
			return err
		}
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}
