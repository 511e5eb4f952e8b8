package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"celo-carmarket/internal/domain"
	"celo-carmarket/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using ClickHouse.
type SnapshotStore struct {
	conn *Conn
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(conn *Conn) *SnapshotStore {
	return &SnapshotStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

const snapshotColumns = `snapshot_id, listing_index, owner, likes, dislikes, reviews, units_available, price_base_units, taken_at`

// InsertBulk adds multiple snapshots. Fails entire batch on duplicate snapshot_id.
// ReplacingMergeTree does not enforce uniqueness, so duplicates are checked before the insert.
func (s *SnapshotStore) InsertBulk(ctx context.Context, snapshots []*domain.ReputationSnapshot) (err error) {
	if len(snapshots) == 0 {
		return nil
	}

	ids := make([]string, 0, len(snapshots))
	seen := make(map[string]struct{}, len(snapshots))
	for _, snap := range snapshots {
		if snap == nil || snap.SnapshotID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := seen[snap.SnapshotID]; exists {
			return storage.ErrDuplicateKey
		}
		seen[snap.SnapshotID] = struct{}{}
		ids = append(ids, snap.SnapshotID)
	}

	defer func(start time.Time) {
		if errors.Is(err, storage.ErrDuplicateKey) {
			observe("snapshot_insert", start, nil)
			return
		}
		observe("snapshot_insert", start, err)
	}(time.Now())

	var count uint64
	err = s.conn.QueryRow(ctx, `SELECT count() FROM reputation_snapshots WHERE snapshot_id IN (?)`, ids).Scan(&count)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if count > 0 {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO reputation_snapshots (`+snapshotColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, snap := range snapshots {
		err = batch.Append(
			snap.SnapshotID,
			snap.ListingIndex,
			snap.Owner,
			snap.Likes,
			snap.Dislikes,
			snap.Reviews,
			snap.UnitsAvailable,
			snap.PriceBaseUnits,
			uint64(snap.TakenAt),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByListing retrieves all snapshots of a listing, ordered by taken_at ASC.
func (s *SnapshotStore) GetByListing(ctx context.Context, listingIndex uint64) (_ []*domain.ReputationSnapshot, err error) {
	defer func(start time.Time) { observe("snapshot_get_by_listing", start, err) }(time.Now())

	query := `
		SELECT ` + snapshotColumns + `
		FROM reputation_snapshots FINAL
		WHERE listing_index = ?
		ORDER BY taken_at ASC, listing_index ASC
	`

	rows, err := s.conn.Query(ctx, query, listingIndex)
	if err != nil {
		return nil, fmt.Errorf("query by listing: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// GetByTimeRange retrieves snapshots taken within [start, end] (inclusive).
func (s *SnapshotStore) GetByTimeRange(ctx context.Context, start, end int64) (_ []*domain.ReputationSnapshot, err error) {
	defer func(began time.Time) { observe("snapshot_get_by_time_range", began, err) }(time.Now())

	query := `
		SELECT ` + snapshotColumns + `
		FROM reputation_snapshots FINAL
		WHERE taken_at >= ? AND taken_at <= ?
		ORDER BY taken_at ASC, listing_index ASC
	`

	rows, err := s.conn.Query(ctx, query, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// scanSnapshots scans multiple rows.
func scanSnapshots(rows chRows) ([]*domain.ReputationSnapshot, error) {
	var snapshots []*domain.ReputationSnapshot

	for rows.Next() {
		var snap domain.ReputationSnapshot
		var takenAt uint64

		err := rows.Scan(
			&snap.SnapshotID,
			&snap.ListingIndex,
			&snap.Owner,
			&snap.Likes,
			&snap.Dislikes,
			&snap.Reviews,
			&snap.UnitsAvailable,
			&snap.PriceBaseUnits,
			&takenAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		snap.TakenAt = int64(takenAt)
		snapshots = append(snapshots, &snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return snapshots, nil
}
