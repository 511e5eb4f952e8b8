package domain

// IntentKind identifies a user-triggered mutation.
type IntentKind string

const (
	IntentAddListing IntentKind = "ADD_LISTING"
	IntentLike       IntentKind = "LIKE"
	IntentDislike    IntentKind = "DISLIKE"
	IntentAddReview  IntentKind = "ADD_REVIEW"
	IntentPurchase   IntentKind = "PURCHASE"
)

// String returns the string representation of IntentKind.
func (k IntentKind) String() string {
	return string(k)
}

// IsValid checks if the intent kind is a known value.
func (k IntentKind) IsValid() bool {
	switch k {
	case IntentAddListing, IntentLike, IntentDislike, IntentAddReview, IntentPurchase:
		return true
	}
	return false
}

// JournalStatus is the outcome of a recorded intent.
type JournalStatus string

const (
	JournalSucceeded JournalStatus = "SUCCEEDED"
	JournalFailed    JournalStatus = "FAILED"   // a chain write was attempted and failed
	JournalRejected  JournalStatus = "REJECTED" // a precondition failed before any write
)

// JournalEntry records one mutating intent and its outcome.
// Corresponds to intent_journal table in PostgreSQL.
type JournalEntry struct {
	EntryID      string     // PRIMARY KEY, uuid
	Identity     string     // hex address of the signer
	Intent       IntentKind
	ListingIndex *uint64    // nil for ADD_LISTING
	Args         map[string]string
	TxHashes     []string   // in submission order (approve before purchase)
	Status       JournalStatus
	Error        string
	StartedAt    int64 // Unix timestamp in milliseconds
	FinishedAt   int64 // Unix timestamp in milliseconds
}
