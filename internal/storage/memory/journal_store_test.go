package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"celo-carmarket/internal/domain"
	"celo-carmarket/internal/storage"
)

func ptr[T any](v T) *T {
	return &v
}

func newEntry(id, identity string, intent domain.IntentKind, index *uint64, startedAt int64) *domain.JournalEntry {
	return &domain.JournalEntry{
		EntryID:      id,
		Identity:     identity,
		Intent:       intent,
		ListingIndex: index,
		Args:         map[string]string{"k": "v"},
		TxHashes:     []string{"0xaa"},
		Status:       domain.JournalSucceeded,
		StartedAt:    startedAt,
		FinishedAt:   startedAt + 10,
	}
}

func TestJournalStore_InsertAndGet(t *testing.T) {
	store := NewJournalStore()
	ctx := context.Background()

	e := newEntry("e1", "0xa11ce", domain.IntentLike, ptr(uint64(3)), 1000)
	if err := store.Insert(ctx, e); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByID(ctx, "e1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Intent != domain.IntentLike {
		t.Errorf("Intent mismatch: got %s", got.Intent)
	}
	if got.ListingIndex == nil || *got.ListingIndex != 3 {
		t.Errorf("ListingIndex mismatch: got %v", got.ListingIndex)
	}

	// Mutating the input or the result must not affect the store
	e.Args["k"] = "changed"
	got.TxHashes[0] = "0xbb"
	*got.ListingIndex = 9

	again, _ := store.GetByID(ctx, "e1")
	if again.Args["k"] != "v" || again.TxHashes[0] != "0xaa" || *again.ListingIndex != 3 {
		t.Errorf("store exposed internal state: %+v", again)
	}
}

func TestJournalStore_DuplicateKey(t *testing.T) {
	store := NewJournalStore()
	ctx := context.Background()

	e := newEntry("e1", "0xa11ce", domain.IntentLike, ptr(uint64(0)), 1000)
	if err := store.Insert(ctx, e); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	if err := store.Insert(ctx, e); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestJournalStore_InvalidInput(t *testing.T) {
	store := NewJournalStore()
	ctx := context.Background()

	if err := store.Insert(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for nil, got %v", err)
	}
	if err := store.Insert(ctx, newEntry("", "0x1", domain.IntentLike, nil, 1)); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for empty id, got %v", err)
	}
	if err := store.Insert(ctx, newEntry("x", "0x1", domain.IntentKind("BURN"), nil, 1)); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for unknown intent, got %v", err)
	}
}

func TestJournalStore_NotFound(t *testing.T) {
	store := NewJournalStore()

	_, err := store.GetByID(context.Background(), "nonexistent")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestJournalStore_GetByIdentity(t *testing.T) {
	store := NewJournalStore()
	ctx := context.Background()

	_ = store.Insert(ctx, newEntry("a", "0xA11CE", domain.IntentLike, ptr(uint64(0)), 1000))
	_ = store.Insert(ctx, newEntry("b", "0xa11ce", domain.IntentDislike, ptr(uint64(0)), 3000))
	_ = store.Insert(ctx, newEntry("c", "0xa11ce", domain.IntentAddListing, nil, 2000))
	_ = store.Insert(ctx, newEntry("d", "0xb0b", domain.IntentLike, ptr(uint64(0)), 4000))

	got, err := store.GetByIdentity(ctx, "0xa11ce", 0)
	if err != nil {
		t.Fatalf("GetByIdentity failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(got))
	}
	want := []string{"b", "c", "a"}
	for i, id := range want {
		if got[i].EntryID != id {
			t.Errorf("position %d: got %s, want %s", i, got[i].EntryID, id)
		}
	}

	limited, _ := store.GetByIdentity(ctx, "0xa11ce", 2)
	if len(limited) != 2 {
		t.Errorf("Expected 2 entries with limit, got %d", len(limited))
	}
}

func TestJournalStore_GetByListing(t *testing.T) {
	store := NewJournalStore()
	ctx := context.Background()

	_ = store.Insert(ctx, newEntry("a", "0x1", domain.IntentLike, ptr(uint64(2)), 3000))
	_ = store.Insert(ctx, newEntry("b", "0x2", domain.IntentAddReview, ptr(uint64(2)), 1000))
	_ = store.Insert(ctx, newEntry("c", "0x1", domain.IntentLike, ptr(uint64(5)), 2000))
	_ = store.Insert(ctx, newEntry("d", "0x1", domain.IntentAddListing, nil, 500))

	got, err := store.GetByListing(ctx, 2)
	if err != nil {
		t.Fatalf("GetByListing failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(got))
	}
	if got[0].EntryID != "b" || got[1].EntryID != "a" {
		t.Errorf("Expected started_at ASC order, got %s, %s", got[0].EntryID, got[1].EntryID)
	}
}

func TestJournalStore_ConcurrentInsert(t *testing.T) {
	store := NewJournalStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	dups := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Insert(ctx, newEntry("same", "0x1", domain.IntentLike, nil, 1))
			if errors.Is(err, storage.ErrDuplicateKey) {
				mu.Lock()
				dups++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if dups != 19 {
		t.Errorf("Expected 19 duplicate errors, got %d", dups)
	}
}
