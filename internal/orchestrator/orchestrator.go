// Package orchestrator sequences wallet connect, balance load, contract binding and listing refresh.
// It is the only component that knows about the others.
//
// Flow: Connect → BalanceLoading → ContractReady → ListingsLoading → Ready
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"celo-carmarket/internal/balance"
	"celo-carmarket/internal/domain"
	"celo-carmarket/internal/idhash"
	"celo-carmarket/internal/listing"
	"celo-carmarket/internal/observability"
	"celo-carmarket/internal/session"
	"celo-carmarket/internal/storage"
)

// Gateway is the contract surface the orchestrator drives.
// *contract.Gateway satisfies it.
type Gateway interface {
	listing.Reader
	balance.Reader

	MarketplaceAddress() common.Address
	AddListing(ctx context.Context, brand, model, imageURL string, price *big.Int, unitsAvailable uint64) (common.Hash, error)
	LikeListing(ctx context.Context, index uint64) (common.Hash, error)
	DislikeListing(ctx context.Context, index uint64) (common.Hash, error)
	AddReview(ctx context.Context, index uint64, message string) (common.Hash, error)
	ApproveSpend(ctx context.Context, spender common.Address, amount *big.Int) (common.Hash, error)
	Purchase(ctx context.Context, index uint64) (common.Hash, error)
}

// GatewayFactory binds a gateway to a connected session.
type GatewayFactory func(sess *session.Session) Gateway

// Connector establishes and drops the wallet session.
// *session.ChainSession satisfies it.
type Connector interface {
	Connect(ctx context.Context) (*session.Session, error)
	Disconnect()
}

// Options for creating Orchestrator.
type Options struct {
	// Required
	Session  Connector
	Gateways GatewayFactory

	// Defaults: NewCache(0), NewTracker(0)
	Listings *listing.Cache
	Balance  *balance.Tracker

	// Optional persistence; nil disables it
	Journal   storage.JournalStore
	Snapshots storage.SnapshotStore

	// Token decimals used to scale human prices. 0 means domain.TokenDecimals.
	Decimals int32

	// ForbidOwnerVotes rejects like/dislike/review on the caller's own listing.
	ForbidOwnerVotes bool

	Clock       Clock
	IDGenerator IDGenerator
	Logger      *log.Logger
	Verbose     bool
}

// View is the read model handed to the presentation layer.
type View struct {
	Connected bool
	Identity  common.Address
	Balance   *domain.Balance // nil until the first successful balance read
	Listings  []domain.Listing
	State     State
	LastError error
}

// Orchestrator owns the state machine. All methods are safe for concurrent use.
type Orchestrator struct {
	session  Connector
	gateways GatewayFactory
	listings *listing.Cache
	balance  *balance.Tracker

	journal   storage.JournalStore
	snapshots storage.SnapshotStore

	decimals         int32
	forbidOwnerVotes bool

	clock   Clock
	ids     IDGenerator
	logger  *log.Logger
	verbose bool

	mu       sync.Mutex
	state    State
	lastErr  error
	sess     *session.Session
	gateway  Gateway
	inFlight *flight

	subMu  sync.Mutex
	subs   map[int]chan Transition
	nextID int
}

// New creates an Orchestrator in StateDisconnected.
func New(opts Options) *Orchestrator {
	if opts.Listings == nil {
		opts.Listings = listing.NewCache(0)
	}
	if opts.Balance == nil {
		opts.Balance = balance.NewTracker(opts.Decimals)
	}
	if opts.Decimals == 0 {
		opts.Decimals = domain.TokenDecimals
	}
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	if opts.IDGenerator == nil {
		opts.IDGenerator = UUIDGenerator{}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}

	o := &Orchestrator{
		session:          opts.Session,
		gateways:         opts.Gateways,
		listings:         opts.Listings,
		balance:          opts.Balance,
		journal:          opts.Journal,
		snapshots:        opts.Snapshots,
		decimals:         opts.Decimals,
		forbidOwnerVotes: opts.ForbidOwnerVotes,
		clock:            opts.Clock,
		ids:              opts.IDGenerator,
		logger:           opts.Logger,
		verbose:          opts.Verbose,
		state:            StateDisconnected,
		subs:             make(map[int]chan Transition),
	}
	observability.SetState("", string(StateDisconnected))
	return o
}

// Connect requests a wallet session, then loads the balance and the listings.
// A failure at any stage leaves the orchestrator in StateError and is returned.
func (o *Orchestrator) Connect(ctx context.Context) error {
	ctx, err := o.acquire(ctx)
	if err != nil {
		return err
	}
	defer o.release()

	o.transition(StateConnecting, nil)

	sess, err := o.session.Connect(ctx)
	if err != nil {
		o.transition(StateError, err)
		return err
	}

	o.mu.Lock()
	o.sess = sess
	o.gateway = nil
	o.mu.Unlock()
	o.balance.Reset()

	o.log("connected as %s", sess.Identity.Hex())

	if err := o.loadBalance(ctx); err != nil {
		return err
	}
	return o.loadListings(ctx)
}

// Disconnect drops the session and everything derived from it. Work in flight is
// canceled and waited for, so nothing it loads survives the disconnect.
func (o *Orchestrator) Disconnect() {
	o.takeOver()
	defer o.release()

	o.session.Disconnect()
	o.balance.Reset()
	o.listings.Reset()

	o.mu.Lock()
	o.sess = nil
	o.gateway = nil
	o.mu.Unlock()

	o.transition(StateDisconnected, nil)
}

// RefreshBalance re-reads the balance, binding the contract handle if needed, and
// continues with a listing refresh. It is the retry for a failed BalanceLoading.
func (o *Orchestrator) RefreshBalance(ctx context.Context) error {
	ctx, err := o.acquire(ctx)
	if err != nil {
		return err
	}
	defer o.release()

	if err := o.loadBalance(ctx); err != nil {
		return err
	}
	return o.loadListings(ctx)
}

// RefreshListings re-reads the listing collection. It is the retry for a failed ListingsLoading.
func (o *Orchestrator) RefreshListings(ctx context.Context) error {
	ctx, err := o.acquire(ctx)
	if err != nil {
		return err
	}
	defer o.release()

	return o.loadListings(ctx)
}

// View returns the current read model. Listings is a copy.
func (o *Orchestrator) View() View {
	o.mu.Lock()
	v := View{
		State:     o.state,
		LastError: o.lastErr,
	}
	if o.sess != nil {
		v.Connected = true
		v.Identity = o.sess.Identity
	}
	o.mu.Unlock()

	if bal, ok := o.balance.Current(); ok {
		v.Balance = &bal
	}
	if listings, ok := o.listings.Snapshot(); ok {
		v.Listings = listings
	} else {
		v.Listings = []domain.Listing{}
	}
	return v
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Subscribe returns a channel of state transitions and a cancel func.
// Transitions are dropped for a subscriber whose buffer is full.
func (o *Orchestrator) Subscribe(buffer int) (<-chan Transition, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Transition, buffer)

	o.subMu.Lock()
	id := o.nextID
	o.nextID++
	o.subs[id] = ch
	o.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			o.subMu.Lock()
			delete(o.subs, id)
			o.subMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// loadBalance runs BalanceLoading → ContractReady. Identity is kept on failure.
func (o *Orchestrator) loadBalance(ctx context.Context) error {
	o.mu.Lock()
	sess := o.sess
	gw := o.gateway
	o.mu.Unlock()

	if sess == nil {
		return ErrNotConnected
	}
	if gw == nil {
		gw = o.gateways(sess)
	}

	o.transition(StateBalanceLoading, nil)

	bal, err := o.balance.Refresh(ctx, gw, sess.Identity)
	if err != nil {
		err = fmt.Errorf("load balance: %w", err)
		o.transition(StateError, err)
		return err
	}
	o.log("balance %s", bal.Display)

	o.mu.Lock()
	o.gateway = gw
	o.mu.Unlock()

	o.transition(StateContractReady, nil)
	return nil
}

// loadListings runs ListingsLoading → Ready. The gateway is kept on failure.
func (o *Orchestrator) loadListings(ctx context.Context) error {
	return o.refreshListings(ctx, nil)
}

// refreshListings runs ListingsLoading. On success it settles in Ready, or back in
// StateError when pending carries an earlier failure of the same refresh sequence.
func (o *Orchestrator) refreshListings(ctx context.Context, pending error) error {
	o.mu.Lock()
	sess := o.sess
	gw := o.gateway
	o.mu.Unlock()

	if sess == nil {
		return ErrNotConnected
	}
	if gw == nil {
		return ErrNotReady
	}

	o.transition(StateListingsLoading, nil)

	listings, err := o.listings.Refresh(ctx, gw)
	if err != nil {
		err = fmt.Errorf("load listings: %w", err)
		o.transition(StateError, err)
		return err
	}
	o.log("loaded %d listings", len(listings))

	o.persistSnapshots(ctx, listings)

	if pending != nil {
		o.transition(StateError, pending)
		return pending
	}
	o.transition(StateReady, nil)
	return nil
}

// persistSnapshots appends one reputation snapshot per listing. Failures are only logged.
func (o *Orchestrator) persistSnapshots(ctx context.Context, listings []domain.Listing) {
	if o.snapshots == nil || len(listings) == 0 {
		return
	}

	takenAt := o.clock.Now().UnixMilli()
	snaps := make([]*domain.ReputationSnapshot, 0, len(listings))
	for _, l := range listings {
		owner := l.Owner.Hex()
		price := l.Price.String()
		snaps = append(snaps, &domain.ReputationSnapshot{
			SnapshotID:     idhash.ComputeSnapshotID(l.Index, owner, l.Likes, l.Dislikes, l.ReviewCount, l.UnitsAvailable, price, takenAt),
			ListingIndex:   l.Index,
			Owner:          owner,
			Likes:          l.Likes,
			Dislikes:       l.Dislikes,
			Reviews:        l.ReviewCount,
			UnitsAvailable: l.UnitsAvailable,
			PriceBaseUnits: price,
			TakenAt:        takenAt,
		})
	}

	if err := o.snapshots.InsertBulk(ctx, snaps); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		o.logger.Printf("[orchestrator] persist snapshots: %v", err)
	}
}

// flight is the single mutation or refresh in progress.
type flight struct {
	cancel context.CancelFunc
	done   chan struct{} // closed by release
}

// acquire marks a mutation or refresh as in flight and returns a context that
// Disconnect can cancel.
func (o *Orchestrator) acquire(ctx context.Context) (context.Context, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight != nil {
		return nil, ErrIntentInFlight
	}
	ctx, cancel := context.WithCancel(ctx)
	o.inFlight = &flight{cancel: cancel, done: make(chan struct{})}
	return ctx, nil
}

// takeOver cancels any work in flight, waits for it to finish and holds the guard.
func (o *Orchestrator) takeOver() {
	for {
		o.mu.Lock()
		f := o.inFlight
		if f == nil {
			o.inFlight = &flight{cancel: func() {}, done: make(chan struct{})}
			o.mu.Unlock()
			return
		}
		o.mu.Unlock()

		f.cancel()
		<-f.done
	}
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	f := o.inFlight
	o.inFlight = nil
	o.mu.Unlock()

	if f != nil {
		f.cancel()
		close(f.done)
	}
}

func (o *Orchestrator) transition(to State, err error) {
	o.mu.Lock()
	from := o.state
	o.state = to
	if to == StateError {
		o.lastErr = err
	} else if to == StateReady || to == StateDisconnected {
		o.lastErr = nil
	}
	o.mu.Unlock()

	observability.SetState(string(from), string(to))
	if err != nil {
		o.log("%s -> %s: %v", from, to, err)
	} else {
		o.log("%s -> %s", from, to)
	}

	o.publish(Transition{From: from, To: to, Err: err})
}

func (o *Orchestrator) publish(t Transition) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	for _, ch := range o.subs {
		select {
		case ch <- t:
		default:
		}
	}
}

func (o *Orchestrator) log(format string, args ...interface{}) {
	if o.verbose {
		o.logger.Printf("[orchestrator] "+format, args...)
	}
}

// since returns elapsed seconds from start for metrics.
func since(start time.Time) float64 {
	return time.Since(start).Seconds()
}
