package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"celo-carmarket/internal/domain"
	"celo-carmarket/internal/storage"
)

// JournalStore implements storage.JournalStore using PostgreSQL.
type JournalStore struct {
	pool *Pool
}

// NewJournalStore creates a new JournalStore.
func NewJournalStore(pool *Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

// Compile-time interface check.
var _ storage.JournalStore = (*JournalStore)(nil)

const journalColumns = `entry_id, identity, intent, listing_index, args, tx_hashes, status, error, started_at, finished_at`

// Insert adds a new entry. Returns ErrDuplicateKey if entry_id exists.
func (s *JournalStore) Insert(ctx context.Context, e *domain.JournalEntry) (err error) {
	if e == nil || e.EntryID == "" || !e.Intent.IsValid() {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("journal_insert", start, err) }(time.Now())

	args := e.Args
	if args == nil {
		args = map[string]string{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode journal args: %w", err)
	}
	txHashes := e.TxHashes
	if txHashes == nil {
		txHashes = []string{}
	}

	query := `
		INSERT INTO intent_journal (` + journalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = s.pool.Exec(ctx, query,
		e.EntryID,
		e.Identity,
		string(e.Intent),
		nullableIndex(e.ListingIndex),
		argsJSON,
		txHashes,
		string(e.Status),
		e.Error,
		e.StartedAt,
		e.FinishedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// GetByID retrieves an entry by its ID. Returns ErrNotFound if not exists.
func (s *JournalStore) GetByID(ctx context.Context, entryID string) (_ *domain.JournalEntry, err error) {
	defer func(start time.Time) { observe("journal_get_by_id", start, err) }(time.Now())

	query := `SELECT ` + journalColumns + ` FROM intent_journal WHERE entry_id = $1`

	e, err := scanEntry(s.pool.QueryRow(ctx, query, entryID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get journal entry by id: %w", err)
	}
	return e, nil
}

// GetByIdentity retrieves the most recent entries of an identity, newest first.
// Identity matching is case-insensitive. limit <= 0 means no limit.
func (s *JournalStore) GetByIdentity(ctx context.Context, identity string, limit int) (_ []*domain.JournalEntry, err error) {
	defer func(start time.Time) { observe("journal_get_by_identity", start, err) }(time.Now())

	query := `
		SELECT ` + journalColumns + `
		FROM intent_journal
		WHERE lower(identity) = lower($1)
		ORDER BY started_at DESC, entry_id ASC
	`
	args := []any{identity}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get journal entries by identity: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// GetByListing retrieves all entries touching a listing, ordered by started_at ASC.
func (s *JournalStore) GetByListing(ctx context.Context, listingIndex uint64) (_ []*domain.JournalEntry, err error) {
	defer func(start time.Time) { observe("journal_get_by_listing", start, err) }(time.Now())

	query := `
		SELECT ` + journalColumns + `
		FROM intent_journal
		WHERE listing_index = $1
		ORDER BY started_at ASC, entry_id ASC
	`

	rows, err := s.pool.Query(ctx, query, int64(listingIndex))
	if err != nil {
		return nil, fmt.Errorf("get journal entries by listing: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func nullableIndex(idx *uint64) *int64 {
	if idx == nil {
		return nil
	}
	v := int64(*idx)
	return &v
}

// scanEntry scans a single row into a JournalEntry.
func scanEntry(row pgx.Row) (*domain.JournalEntry, error) {
	var e domain.JournalEntry
	var intent, status string
	var listingIndex *int64
	var argsJSON []byte

	err := row.Scan(
		&e.EntryID,
		&e.Identity,
		&intent,
		&listingIndex,
		&argsJSON,
		&e.TxHashes,
		&status,
		&e.Error,
		&e.StartedAt,
		&e.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Intent = domain.IntentKind(intent)
	e.Status = domain.JournalStatus(status)
	if listingIndex != nil {
		v := uint64(*listingIndex)
		e.ListingIndex = &v
	}
	if err := json.Unmarshal(argsJSON, &e.Args); err != nil {
		return nil, fmt.Errorf("decode journal args: %w", err)
	}
	return &e, nil
}

// scanEntries scans multiple rows into a slice of JournalEntry.
func scanEntries(rows pgx.Rows) ([]*domain.JournalEntry, error) {
	var entries []*domain.JournalEntry

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal rows: %w", err)
	}

	return entries, nil
}
