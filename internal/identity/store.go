// Package identity persists the local username between sessions.
package identity

import "sync"

// Store loads, saves and clears the username.
type Store interface {
	// Load returns the stored name. ok is false when nothing is stored.
	Load() (name string, ok bool, err error)
	Save(name string) error
	Clear() error
}

// MemoryStore keeps the name for the lifetime of the process.
type MemoryStore struct {
	mu   sync.Mutex
	name string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name, s.name != "", nil
}

func (s *MemoryStore) Save(name string) error {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	s.name = ""
	s.mu.Unlock()
	return nil
}
