package domain

// ReputationSnapshot captures the reputation signals of one listing at one refresh.
// Corresponds to reputation_snapshots table in ClickHouse.
type ReputationSnapshot struct {
	SnapshotID     string // deterministic hash, see idhash.ComputeSnapshotID
	ListingIndex   uint64
	Owner          string
	Likes          uint64
	Dislikes       uint64
	Reviews        uint64
	UnitsAvailable uint64
	PriceBaseUnits string // decimal string, base units do not fit UInt64
	TakenAt        int64  // Unix timestamp in milliseconds
}
