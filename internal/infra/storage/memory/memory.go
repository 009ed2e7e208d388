package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/fetchkit/internal/infra/storage"
)

// MemoryStorage keeps entries in process memory. Useful for tests and short-lived processes.
type MemoryStorage struct {
	entries map[string]*storage.Entry
	parents map[string]map[string]struct{}
	mu      sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		entries: make(map[string]*storage.Entry),
		parents: make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStorage) Get(ctx context.Context, uri string) (*storage.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// Return a copy to prevent mutation
	return s.entries[uri].Clone(), nil
}

func (s *MemoryStorage) Put(ctx context.Context, e *storage.Entry) error {
	if e == nil || e.URI == "" {
		return storage.ErrEmptyURI
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(e.URI)
	entry := e.Clone()
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now()
	}
	s.entries[entry.URI] = entry
	if entry.ParentID != "" {
		set, ok := s.parents[entry.ParentID]
		if !ok {
			set = make(map[string]struct{})
			s.parents[entry.ParentID] = set
		}
		set[entry.URI] = struct{}{}
	}
	return nil
}

func (s *MemoryStorage) Delete(ctx context.Context, uri string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(uri), nil
}

func (s *MemoryStorage) DeleteByParent(ctx context.Context, parentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for uri := range s.parents[parentID] {
		if s.removeLocked(uri) {
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStorage) Prune(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for uri, e := range s.entries {
		if !e.Permanent && e.StoredAt.Before(before) {
			s.removeLocked(uri)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored entries.
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStorage) Close() error { return nil }

func (s *MemoryStorage) removeLocked(uri string) bool {
	e, ok := s.entries[uri]
	if !ok {
		return false
	}
	delete(s.entries, uri)
	if set, ok := s.parents[e.ParentID]; ok {
		delete(set, uri)
		if len(set) == 0 {
			delete(s.parents, e.ParentID)
		}
	}
	return true
}
