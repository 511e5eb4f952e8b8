package orchestrator

import "errors"

var (
	// ErrNotConnected is returned when an operation needs an identity and none is set.
	ErrNotConnected = errors.New("not connected")

	// ErrNotReady is returned when an intent arrives before the contract handle is bound.
	ErrNotReady = errors.New("marketplace not ready")

	// ErrIntentInFlight is returned when a mutation is requested while another one runs.
	ErrIntentInFlight = errors.New("another intent is in flight")

	// ErrUnknownListing is returned for an index outside the current listing snapshot.
	ErrUnknownListing = errors.New("unknown listing")

	// ErrSoldOut is returned when purchasing a listing with no units left.
	ErrSoldOut = errors.New("listing sold out")

	// ErrOwnListing is returned when voting or reviewing one's own listing with the owner guard on.
	ErrOwnListing = errors.New("cannot vote on own listing")

	// ErrInvalidPrice is returned when a listing price cannot be converted to base units.
	ErrInvalidPrice = errors.New("invalid price")

	// ErrApprovalFailed wraps the chain error of a failed spend approval.
	ErrApprovalFailed = errors.New("spend approval failed")
)
