package memory

import (
	"context"
	"sort"
	"sync"

	"celo-carmarket/internal/domain"
	"celo-carmarket/internal/storage"
)

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
type SnapshotStore struct {
	mu   sync.RWMutex
	data map[string]*domain.ReputationSnapshot // keyed by snapshot_id
}

// NewSnapshotStore creates a new in-memory reputation snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		data: make(map[string]*domain.ReputationSnapshot),
	}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// InsertBulk adds multiple snapshots. Fails entire batch on duplicate.
func (s *SnapshotStore) InsertBulk(_ context.Context, snapshots []*domain.ReputationSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Track keys in this batch to detect intra-batch duplicates
	batchKeys := make(map[string]struct{}, len(snapshots))

	// First pass: check for duplicates (existing + intra-batch)
	for _, snap := range snapshots {
		if snap == nil || snap.SnapshotID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[snap.SnapshotID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[snap.SnapshotID]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[snap.SnapshotID] = struct{}{}
	}

	// Second pass: insert all
	for _, snap := range snapshots {
		c := *snap
		s.data[snap.SnapshotID] = &c
	}

	return nil
}

// GetByListing retrieves all snapshots of a listing, ordered by taken_at ASC.
func (s *SnapshotStore) GetByListing(_ context.Context, listingIndex uint64) ([]*domain.ReputationSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ReputationSnapshot
	for _, snap := range s.data {
		if snap.ListingIndex == listingIndex {
			c := *snap
			result = append(result, &c)
		}
	}

	sortSnapshots(result)
	return result, nil
}

// GetByTimeRange retrieves snapshots taken within [start, end] (inclusive).
func (s *SnapshotStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.ReputationSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ReputationSnapshot
	for _, snap := range s.data {
		if snap.TakenAt >= start && snap.TakenAt <= end {
			c := *snap
			result = append(result, &c)
		}
	}

	sortSnapshots(result)
	return result, nil
}

// sortSnapshots orders by (taken_at, listing_index) ASC.
func sortSnapshots(snaps []*domain.ReputationSnapshot) {
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].TakenAt != snaps[j].TakenAt {
			return snaps[i].TakenAt < snaps[j].TakenAt
		}
		return snaps[i].ListingIndex < snaps[j].ListingIndex
	})
}
