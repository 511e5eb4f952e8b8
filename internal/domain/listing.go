package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Listing represents one car offered for sale on the marketplace contract.
// A Listing is a snapshot of a single getCar read and is never patched in place.
type Listing struct {
	Index          uint64         // position in the on-chain registry, dense in [0, count)
	Owner          common.Address // identity that registered the listing
	Brand          string
	Model          string
	ImageURL       string
	Price          *big.Int // token base units
	UnitsAvailable uint64
	Likes          uint64
	Dislikes       uint64
	ReviewCount    uint64 // numberOfReviews as reported by the contract
	Reviews        []Review
}

// Review is a single message attached to a listing.
type Review struct {
	ID            uint64
	AuthorMessage string
}

// OwnedBy reports whether the listing was registered by addr.
func (l Listing) OwnedBy(addr common.Address) bool {
	return l.Owner == addr
}

// SoldOut reports whether no units remain.
func (l Listing) SoldOut() bool {
	return l.UnitsAvailable == 0
}

// Clone returns a deep copy so callers can hold a listing across refreshes.
func (l Listing) Clone() Listing {
	out := l
	if l.Price != nil {
		out.Price = new(big.Int).Set(l.Price)
	}
	if l.Reviews != nil {
		out.Reviews = make([]Review, len(l.Reviews))
		copy(out.Reviews, l.Reviews)
	}
	return out
}
