package hostcall

import "sync"

// Storage is the host capability behind the storage_* imports. Implementations
// must be safe for concurrent use: multiple instances may call in at once.
type Storage interface {
	Get(key []byte) ([]byte, bool)
	Set(key, value []byte) error
	Remove(key []byte) bool
}

// MemStore is an in-memory Storage, the default capability for hosts that do
// not bring their own backing store.
type MemStore struct {
	m  map[string][]byte
	mu sync.RWMutex
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{m: make(map[string][]byte)}
}

func (s *MemStore) Get(key []byte) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[string(key)]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true
}

func (s *MemStore) Set(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	s.m[string(key)] = v
	return nil
}

func (s *MemStore) Remove(key []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[string(key)]
	delete(s.m, string(key))
	return ok
}

// Len reports the number of stored keys.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
