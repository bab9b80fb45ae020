// Package mocksignal persists the mock provider's signal list and keeps it in
// step with the signals applications ask for.
package mocksignal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/opensandbox/kitsync/pkg/types"
)

// Store is the JSON file read by the mock provider. Every mutation is a
// read-modify-write under an in-process mutex and a file lock on <path>.lock,
// and the file is replaced atomically.
type Store struct {
	path        string
	defaultPath string

	mu   sync.Mutex
	lock *flock.Flock
}

// NewStore creates a store backed by path. defaultPath holds the immutable
// default list used by reset.
func NewStore(path, defaultPath string) *Store {
	return &Store{
		path:        path,
		defaultPath: defaultPath,
		lock:        flock.New(path + ".lock"),
	}
}

// Path returns the store file location.
func (s *Store) Path() string { return s.path }

// Load returns the current entries. A missing or empty file is an empty list.
func (s *Store) Load() ([]types.MockSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.lock.Unlock()
	return readEntries(s.path)
}

// Defaults returns the immutable default entries.
func (s *Store) Defaults() ([]types.MockSignal, error) {
	return readEntries(s.defaultPath)
}

// Update runs fn inside the store's critical section. fn receives the current
// entries and returns the new list plus whether it should be persisted.
func (s *Store) Update(fn func([]types.MockSignal) ([]types.MockSignal, bool, error)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.acquire(); err != nil {
		return false, err
	}
	defer s.lock.Unlock()

	current, err := readEntries(s.path)
	if err != nil {
		return false, err
	}
	next, write, err := fn(current)
	if err != nil || !write {
		return false, err
	}
	if err := writeEntries(s.path, next); err != nil {
		return false, err
	}
	return true, nil
}

// Replace overwrites the store with entries.
func (s *Store) Replace(entries []types.MockSignal) error {
	_, err := s.Update(func([]types.MockSignal) ([]types.MockSignal, bool, error) {
		return entries, true, nil
	})
	return err
}

func (s *Store) acquire() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", s.lock.Path(), err)
	}
	return nil
}

func readEntries(path string) ([]types.MockSignal, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return []types.MockSignal{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read mock signals: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []types.MockSignal{}, nil
	}
	var entries []types.MockSignal
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse mock signals %s: %w", path, err)
	}
	if entries == nil {
		entries = []types.MockSignal{}
	}
	return entries, nil
}

func writeEntries(path string, entries []types.MockSignal) error {
	if entries == nil {
		entries = []types.MockSignal{}
	}
	data, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal mock signals: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".signals-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write mock signals: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close mock signals: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("chmod mock signals: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace mock signals: %w", err)
	}
	return nil
}
