// Package balance derives the display-ready settlement token balance of an identity.
package balance

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"celo-carmarket/internal/domain"
	"celo-carmarket/internal/observability"
)

// Reader is the subset of the gateway a refresh needs.
type Reader interface {
	TotalBalance(ctx context.Context, identity common.Address) (domain.BalanceBreakdown, error)
}

// Tracker keeps the last successfully read balance.
type Tracker struct {
	decimals int32

	mu      sync.RWMutex
	current *domain.Balance
}

// NewTracker creates a tracker for a token with the given decimals. 0 means domain.TokenDecimals.
func NewTracker(decimals int32) *Tracker {
	if decimals == 0 {
		decimals = domain.TokenDecimals
	}
	return &Tracker{decimals: decimals}
}

// Refresh reads the token balance of identity. Errors from r are returned unchanged.
func (t *Tracker) Refresh(ctx context.Context, r Reader, identity common.Address) (domain.Balance, error) {
	breakdown, err := r.TotalBalance(ctx, identity)
	if err != nil {
		return domain.Balance{}, err
	}

	units := breakdown.Token
	if units == nil {
		units = new(big.Int)
	}
	bal := domain.Balance{
		BaseUnits: new(big.Int).Set(units),
		Display:   domain.ToDisplay(units, t.decimals),
	}

	f, _ := decimal.NewFromBigInt(units, -t.decimals).Float64()
	observability.UpdateTokenBalance(f)

	t.mu.Lock()
	t.current = &bal
	t.mu.Unlock()

	return bal, nil
}

// Current returns the last balance and whether one was read.
func (t *Tracker) Current() (domain.Balance, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == nil {
		return domain.Balance{}, false
	}
	return domain.Balance{
		BaseUnits: new(big.Int).Set(t.current.BaseUnits),
		Display:   t.current.Display,
	}, true
}

// Reset forgets the last balance.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = nil
}
