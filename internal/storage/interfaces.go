package storage

import (
	"context"

	"celo-carmarket/internal/domain"
)

// JournalStore provides access to intent_journal storage.
type JournalStore interface {
	// Insert adds a new entry. Returns ErrDuplicateKey if entry_id exists.
	Insert(ctx context.Context, e *domain.JournalEntry) error

	// GetByID retrieves an entry by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, entryID string) (*domain.JournalEntry, error)

	// GetByIdentity retrieves the most recent entries of an identity, newest first.
	// limit <= 0 means no limit.
	GetByIdentity(ctx context.Context, identity string, limit int) ([]*domain.JournalEntry, error)

	// GetByListing retrieves all entries touching a listing, ordered by started_at ASC.
	GetByListing(ctx context.Context, listingIndex uint64) ([]*domain.JournalEntry, error)
}

// SnapshotStore provides access to reputation_snapshots storage.
type SnapshotStore interface {
	// InsertBulk adds multiple snapshots. Fails entire batch on duplicate snapshot_id.
	InsertBulk(ctx context.Context, snapshots []*domain.ReputationSnapshot) error

	// GetByListing retrieves all snapshots of a listing, ordered by taken_at ASC.
	GetByListing(ctx context.Context, listingIndex uint64) ([]*domain.ReputationSnapshot, error)

	// GetByTimeRange retrieves snapshots taken within [start, end] (inclusive),
	// ordered by (taken_at, listing_index) ASC.
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.ReputationSnapshot, error)
}
