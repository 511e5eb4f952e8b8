package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"celo-carmarket/internal/domain"
	"celo-carmarket/internal/observability"
)

// intent is one mutation in progress.
type intent struct {
	kind     domain.IntentKind
	index    *uint64
	args     map[string]string
	txHashes []string
	wrote    bool // a chain write was attempted
}

func (in *intent) record(hash common.Hash) {
	if hash != (common.Hash{}) {
		in.txHashes = append(in.txHashes, hash.Hex())
	}
}

// AddListing registers a listing. price is a human decimal amount of the settlement token.
func (o *Orchestrator) AddListing(ctx context.Context, brand, model, imageURL, price string, unitsAvailable uint64) error {
	in := &intent{
		kind: domain.IntentAddListing,
		args: map[string]string{
			"brand":           brand,
			"model":           model,
			"image_url":       imageURL,
			"price":           price,
			"units_available": strconv.FormatUint(unitsAvailable, 10),
		},
	}
	return o.run(ctx, in, false, func(ctx context.Context, gw Gateway, _ common.Address) error {
		baseUnits, err := domain.ToBaseUnits(price, o.decimals)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPrice, err)
		}

		in.wrote = true
		hash, err := gw.AddListing(ctx, brand, model, imageURL, baseUnits, unitsAvailable)
		in.record(hash)
		return err
	})
}

// LikeListing records a like. Duplicate votes are left to the contract.
func (o *Orchestrator) LikeListing(ctx context.Context, index uint64) error {
	in := &intent{kind: domain.IntentLike, index: &index}
	return o.run(ctx, in, false, func(ctx context.Context, gw Gateway, identity common.Address) error {
		if err := o.checkOwner(index, identity); err != nil {
			return err
		}

		in.wrote = true
		hash, err := gw.LikeListing(ctx, index)
		in.record(hash)
		return err
	})
}

// DislikeListing records a dislike.
func (o *Orchestrator) DislikeListing(ctx context.Context, index uint64) error {
	in := &intent{kind: domain.IntentDislike, index: &index}
	return o.run(ctx, in, false, func(ctx context.Context, gw Gateway, identity common.Address) error {
		if err := o.checkOwner(index, identity); err != nil {
			return err
		}

		in.wrote = true
		hash, err := gw.DislikeListing(ctx, index)
		in.record(hash)
		return err
	})
}

// AddReview appends a review to a listing.
func (o *Orchestrator) AddReview(ctx context.Context, index uint64, message string) error {
	in := &intent{
		kind:  domain.IntentAddReview,
		index: &index,
		args:  map[string]string{"message": message},
	}
	return o.run(ctx, in, false, func(ctx context.Context, gw Gateway, identity common.Address) error {
		if err := o.checkOwner(index, identity); err != nil {
			return err
		}

		in.wrote = true
		hash, err := gw.AddReview(ctx, index, message)
		in.record(hash)
		return err
	})
}

// Purchase approves the listing price for the marketplace and buys one unit.
// The marketplace call is skipped when the approval fails.
func (o *Orchestrator) Purchase(ctx context.Context, index uint64) error {
	in := &intent{kind: domain.IntentPurchase, index: &index}
	return o.run(ctx, in, true, func(ctx context.Context, gw Gateway, _ common.Address) error {
		l, ok := o.listings.Get(index)
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownListing, index)
		}
		if l.SoldOut() {
			return fmt.Errorf("%w: %d", ErrSoldOut, index)
		}
		in.args = map[string]string{"price": l.Price.String()}

		in.wrote = true
		hash, err := gw.ApproveSpend(ctx, gw.MarketplaceAddress(), l.Price)
		in.record(hash)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrApprovalFailed, err)
		}

		hash, err = gw.Purchase(ctx, index)
		in.record(hash)
		return err
	})
}

func (o *Orchestrator) checkOwner(index uint64, identity common.Address) error {
	if !o.forbidOwnerVotes {
		return nil
	}
	if l, ok := o.listings.Get(index); ok && l.OwnedBy(identity) {
		return fmt.Errorf("%w: %d", ErrOwnListing, index)
	}
	return nil
}

// run serializes an intent, journals it and re-enters the refresh sequence after any write.
// The returned error is the intent's own; refresh failures surface through View.
func (o *Orchestrator) run(ctx context.Context, in *intent, withBalance bool, fn func(ctx context.Context, gw Gateway, identity common.Address) error) error {
	start := o.clock.Now()
	began := time.Now()

	fctx, err := o.acquire(ctx)
	if err != nil {
		return err
	}
	defer o.release()

	identity, gw, err := o.ready()
	if err == nil {
		err = fn(fctx, gw, identity)
	}

	status := domain.JournalSucceeded
	switch {
	case err != nil && in.wrote:
		status = domain.JournalFailed
	case err != nil:
		status = domain.JournalRejected
	}

	if err != nil {
		o.logger.Printf("[orchestrator] %s failed: %v", in.kind, err)
	} else {
		o.log("%s succeeded %v", in.kind, in.txHashes)
	}

	o.writeJournal(ctx, in, identity, status, err, start)
	observability.RecordIntent(string(in.kind), string(status), since(began))

	if in.wrote {
		o.reloadAfterWrite(fctx, withBalance)
	}

	return err
}

// reloadAfterWrite re-reads the balance (purchases only) and then always the listings.
// A failed balance read still refreshes the listings but leaves the orchestrator in StateError.
func (o *Orchestrator) reloadAfterWrite(ctx context.Context, withBalance bool) {
	var balanceErr error
	if withBalance {
		balanceErr = o.loadBalance(ctx)
	}
	_ = o.refreshListings(ctx, balanceErr)
}

// ready returns the bound identity and gateway, or why intents are not accepted yet.
func (o *Orchestrator) ready() (common.Address, Gateway, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sess == nil {
		return common.Address{}, nil, ErrNotConnected
	}
	if o.gateway == nil {
		return o.sess.Identity, nil, ErrNotReady
	}
	if o.state != StateReady && o.state != StateError {
		return o.sess.Identity, nil, ErrNotReady
	}
	return o.sess.Identity, o.gateway, nil
}

func (o *Orchestrator) writeJournal(ctx context.Context, in *intent, identity common.Address, status domain.JournalStatus, cause error, start time.Time) {
	if o.journal == nil {
		return
	}

	entry := &domain.JournalEntry{
		EntryID:      o.ids.New(),
		Intent:       in.kind,
		ListingIndex: in.index,
		Args:         in.args,
		TxHashes:     in.txHashes,
		Status:       status,
		StartedAt:    start.UnixMilli(),
		FinishedAt:   o.clock.Now().UnixMilli(),
	}
	if identity != (common.Address{}) {
		entry.Identity = identity.Hex()
	}
	if cause != nil {
		entry.Error = cause.Error()
	}

	if err := o.journal.Insert(ctx, entry); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		o.logger.Printf("[orchestrator] journal %s: %v", in.kind, err)
	}
}
