package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"celo-carmarket/internal/domain"
	"celo-carmarket/internal/storage"
)

func newTestEntry(id, identity string, intent domain.IntentKind, index *uint64, startedAt int64) *domain.JournalEntry {
	return &domain.JournalEntry{
		EntryID:      id,
		Identity:     identity,
		Intent:       intent,
		ListingIndex: index,
		Args:         map[string]string{"price": "1.50"},
		TxHashes:     []string{"0x01", "0x02"},
		Status:       domain.JournalSucceeded,
		StartedAt:    startedAt,
		FinishedAt:   startedAt + 250,
	}
}

func TestJournalStore_InsertAndGetByID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewJournalStore(pool)
	ctx := context.Background()

	entry := newTestEntry("entry-001", "0xA11CE", domain.IntentPurchase, ptr(uint64(4)), 1700000000000)
	entry.Status = domain.JournalFailed
	entry.Error = "approval failed: execution reverted"

	err := store.Insert(ctx, entry)
	require.NoError(t, err)

	retrieved, err := store.GetByID(ctx, "entry-001")
	require.NoError(t, err)

	assert.Equal(t, entry.EntryID, retrieved.EntryID)
	assert.Equal(t, entry.Identity, retrieved.Identity)
	assert.Equal(t, domain.IntentPurchase, retrieved.Intent)
	require.NotNil(t, retrieved.ListingIndex)
	assert.Equal(t, uint64(4), *retrieved.ListingIndex)
	assert.Equal(t, entry.Args, retrieved.Args)
	assert.Equal(t, entry.TxHashes, retrieved.TxHashes)
	assert.Equal(t, domain.JournalFailed, retrieved.Status)
	assert.Equal(t, entry.Error, retrieved.Error)
	assert.Equal(t, entry.StartedAt, retrieved.StartedAt)
	assert.Equal(t, entry.FinishedAt, retrieved.FinishedAt)
}

func TestJournalStore_NullListingIndex(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewJournalStore(pool)
	ctx := context.Background()

	entry := newTestEntry("entry-add", "0xa11ce", domain.IntentAddListing, nil, 1700000000000)
	entry.TxHashes = nil
	entry.Args = nil
	require.NoError(t, store.Insert(ctx, entry))

	retrieved, err := store.GetByID(ctx, "entry-add")
	require.NoError(t, err)
	assert.Nil(t, retrieved.ListingIndex)
	assert.Empty(t, retrieved.TxHashes)
	assert.Empty(t, retrieved.Args)
}

func TestJournalStore_InsertDuplicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewJournalStore(pool)
	ctx := context.Background()

	entry := newTestEntry("entry-dup", "0xa11ce", domain.IntentLike, ptr(uint64(0)), 1700000000000)

	require.NoError(t, store.Insert(ctx, entry))

	err := store.Insert(ctx, entry)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestJournalStore_GetByIDNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewJournalStore(pool)

	_, err := store.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestJournalStore_GetByIdentity(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewJournalStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, newTestEntry("a", "0xA11CE", domain.IntentLike, ptr(uint64(0)), 1000)))
	require.NoError(t, store.Insert(ctx, newTestEntry("b", "0xa11ce", domain.IntentDislike, ptr(uint64(1)), 3000)))
	require.NoError(t, store.Insert(ctx, newTestEntry("c", "0xa11ce", domain.IntentAddListing, nil, 2000)))
	require.NoError(t, store.Insert(ctx, newTestEntry("d", "0xb0b", domain.IntentLike, ptr(uint64(0)), 4000)))

	entries, err := store.GetByIdentity(ctx, "0xa11ce", 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "b", entries[0].EntryID)
	assert.Equal(t, "c", entries[1].EntryID)
	assert.Equal(t, "a", entries[2].EntryID)

	limited, err := store.GetByIdentity(ctx, "0xA11CE", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "b", limited[0].EntryID)
}

func TestJournalStore_GetByListing(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewJournalStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, newTestEntry("a", "0x1", domain.IntentLike, ptr(uint64(2)), 3000)))
	require.NoError(t, store.Insert(ctx, newTestEntry("b", "0x2", domain.IntentAddReview, ptr(uint64(2)), 1000)))
	require.NoError(t, store.Insert(ctx, newTestEntry("c", "0x1", domain.IntentLike, ptr(uint64(5)), 2000)))

	entries, err := store.GetByListing(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].EntryID)
	assert.Equal(t, "a", entries[1].EntryID)

	none, err := store.GetByListing(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, none)
}
