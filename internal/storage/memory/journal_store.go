package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"celo-carmarket/internal/domain"
	"celo-carmarket/internal/storage"
)

// JournalStore is an in-memory implementation of storage.JournalStore.
type JournalStore struct {
	mu   sync.RWMutex
	data map[string]*domain.JournalEntry // keyed by entry_id
}

// NewJournalStore creates a new in-memory journal store.
func NewJournalStore() *JournalStore {
	return &JournalStore{
		data: make(map[string]*domain.JournalEntry),
	}
}

// Compile-time interface check.
var _ storage.JournalStore = (*JournalStore)(nil)

// Insert adds a new entry. Returns ErrDuplicateKey if entry_id exists.
func (s *JournalStore) Insert(_ context.Context, e *domain.JournalEntry) error {
	if e == nil || e.EntryID == "" || !e.Intent.IsValid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[e.EntryID]; exists {
		return storage.ErrDuplicateKey
	}

	// Store a copy to prevent external mutation
	s.data[e.EntryID] = copyEntry(e)
	return nil
}

// GetByID retrieves an entry by its ID. Returns ErrNotFound if not exists.
func (s *JournalStore) GetByID(_ context.Context, entryID string) (*domain.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.data[entryID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyEntry(e), nil
}

// GetByIdentity retrieves the most recent entries of an identity, newest first.
func (s *JournalStore) GetByIdentity(_ context.Context, identity string, limit int) ([]*domain.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.JournalEntry
	for _, e := range s.data {
		if strings.EqualFold(e.Identity, identity) {
			result = append(result, copyEntry(e))
		}
	}

	// Sort by started_at DESC, entry_id for stable ties
	sort.Slice(result, func(i, j int) bool {
		if result[i].StartedAt != result[j].StartedAt {
			return result[i].StartedAt > result[j].StartedAt
		}
		return result[i].EntryID < result[j].EntryID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// GetByListing retrieves all entries touching a listing, ordered by started_at ASC.
func (s *JournalStore) GetByListing(_ context.Context, listingIndex uint64) ([]*domain.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.JournalEntry
	for _, e := range s.data {
		if e.ListingIndex != nil && *e.ListingIndex == listingIndex {
			result = append(result, copyEntry(e))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].StartedAt != result[j].StartedAt {
			return result[i].StartedAt < result[j].StartedAt
		}
		return result[i].EntryID < result[j].EntryID
	})

	return result, nil
}

func copyEntry(e *domain.JournalEntry) *domain.JournalEntry {
	c := *e
	if e.ListingIndex != nil {
		idx := *e.ListingIndex
		c.ListingIndex = &idx
	}
	if e.Args != nil {
		c.Args = make(map[string]string, len(e.Args))
		for k, v := range e.Args {
			c.Args[k] = v
		}
	}
	if e.TxHashes != nil {
		c.TxHashes = append([]string(nil), e.TxHashes...)
	}
	return &c
}
