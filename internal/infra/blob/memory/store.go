// Package memory implements an in-memory blob store for tests.
package memory

import (
	"bytes"
	"context"
	"sync"

	"carechain/pkg/domain"
)

// Store holds documents in process memory. Intended for tests.
type Store struct {
	mu   sync.RWMutex
	objs map[string][]byte
}

// New returns an empty in-memory blob store.
func New() *Store { return &Store{objs: make(map[string][]byte)} }

// Driver returns the blob driver identifier.
func (s *Store) Driver() string { return "memory" }

// Put stores data at key. Re-putting identical bytes is a no-op; differing
// bytes at the same key are rejected.
func (s *Store) Put(_ context.Context, key string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.objs[key]; ok {
		if bytes.Equal(existing, data) {
			return key, nil
		}
		return "", domain.Conflictf("blob %s exists with different content", key)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.objs[key] = cp
	return key, nil
}

// Get returns a copy of the document at ref.
func (s *Store) Get(_ context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	obj, ok := s.objs[ref]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound{Entity: "blob", ID: ref}
	}
	cp := make([]byte, len(obj))
	copy(cp, obj)
	return cp, nil
}

// Corrupt overwrites the stored bytes at ref, bypassing the create-only
// contract. Test hook for tamper-detection coverage.
func (s *Store) Corrupt(ref string, data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objs[ref]; !ok {
		return false
	}
	s.objs[ref] = data
	return true
}

// Remove deletes the document at ref. Test hook for broken-link coverage.
func (s *Store) Remove(ref string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objs[ref]; !ok {
		return false
	}
	delete(s.objs, ref)
	return true
}
