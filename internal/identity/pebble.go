package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble/v2"
)

var usernameKey = []byte("username")

// PebbleStore keeps the name in a Pebble database under dir so it survives
// process restarts.
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebbleStore opens or creates the database in dir.
func OpenPebbleStore(dir string) (*PebbleStore, error) {
	if dir == "" {
		return nil, errors.New("identity: state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening identity store: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Load() (string, bool, error) {
	val, closer, err := s.db.Get(usernameKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading username: %w", err)
	}
	defer closer.Close()
	name := string(val)
	return name, name != "", nil
}

func (s *PebbleStore) Save(name string) error {
	if err := s.db.Set(usernameKey, []byte(name), pebble.Sync); err != nil {
		return fmt.Errorf("saving username: %w", err)
	}
	return nil
}

func (s *PebbleStore) Clear() error {
	if err := s.db.Delete(usernameKey, pebble.Sync); err != nil {
		return fmt.Errorf("clearing username: %w", err)
	}
	return nil
}

// Close flushes and closes the database.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}

// Open returns a PebbleStore when dir is set and a MemoryStore otherwise,
// plus a close function for the caller to defer.
func Open(dir string) (Store, func() error, error) {
	if dir == "" {
		return NewMemoryStore(), func() error { return nil }, nil
	}
	s, err := OpenPebbleStore(dir)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}
