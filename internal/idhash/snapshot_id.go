package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ComputeSnapshotID computes a deterministic snapshot_id using SHA256.
// Formula: SHA256(listing_index|owner|likes|dislikes|reviews|units_available|price|taken_at)
// Owner is lowercased so checksum casing does not change the ID.
// Returns hex-encoded hash (64 characters).
func ComputeSnapshotID(
	listingIndex uint64,
	owner string,
	likes, dislikes, reviews, unitsAvailable uint64,
	priceBaseUnits string,
	takenAt int64,
) string {
	data := fmt.Sprintf("%d|%s|%d|%d|%d|%d|%s|%d",
		listingIndex,
		strings.ToLower(owner),
		likes,
		dislikes,
		reviews,
		unitsAvailable,
		priceBaseUnits,
		takenAt,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
