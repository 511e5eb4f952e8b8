package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"celo-carmarket/internal/contract"
	"celo-carmarket/internal/contract/contracttest"
	"celo-carmarket/internal/domain"
	"celo-carmarket/internal/session"
	"celo-carmarket/internal/storage/memory"
)

var (
	alice = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

// fakeConnector hands out a fixed identity.
type fakeConnector struct {
	identity common.Address
	err      error

	mu           sync.Mutex
	disconnected bool
}

func (c *fakeConnector) Connect(context.Context) (*session.Session, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &session.Session{Identity: c.identity}, nil
}

func (c *fakeConnector) Disconnect() {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}

// seqIDs returns "id-1", "id-2", ...
type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type harness struct {
	market    *contracttest.Market
	conn      *fakeConnector
	journal   *memory.JournalStore
	snapshots *memory.SnapshotStore
	orch      *Orchestrator
}

func newHarness(t *testing.T, identity common.Address, mutate func(*Options)) *harness {
	t.Helper()

	h := &harness{
		market:    contracttest.NewMarket(),
		conn:      &fakeConnector{identity: identity},
		journal:   memory.NewJournalStore(),
		snapshots: memory.NewSnapshotStore(),
	}

	opts := Options{
		Session: h.conn,
		Gateways: func(sess *session.Session) Gateway {
			return h.market.Gateway(sess.Identity, contract.Options{PollInterval: 5 * time.Millisecond})
		},
		Journal:     h.journal,
		Snapshots:   h.snapshots,
		Clock:       fixedClock{t: time.UnixMilli(1700000000000)},
		IDGenerator: &seqIDs{},
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.orch = New(opts)
	return h
}

func (h *harness) journalFor(t *testing.T, identity common.Address) []*domain.JournalEntry {
	t.Helper()
	entries, err := h.journal.GetByIdentity(context.Background(), identity.Hex(), 0)
	require.NoError(t, err)
	return entries
}

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func TestOrchestrator_ConnectEmptyMarketplace(t *testing.T) {
	h := newHarness(t, alice, nil)

	events, cancel := h.orch.Subscribe(16)
	defer cancel()

	require.NoError(t, h.orch.Connect(context.Background()))

	v := h.orch.View()
	assert.Equal(t, StateReady, v.State)
	assert.True(t, v.Connected)
	assert.Equal(t, alice, v.Identity)
	require.NotNil(t, v.Balance)
	assert.Equal(t, "0.00", v.Balance.Display)
	assert.NotNil(t, v.Listings)
	assert.Empty(t, v.Listings)
	assert.NoError(t, v.LastError)

	var got []State
	for len(events) > 0 {
		got = append(got, (<-events).To)
	}
	assert.Equal(t, []State{
		StateConnecting,
		StateBalanceLoading,
		StateContractReady,
		StateListingsLoading,
		StateReady,
	}, got)
}

func TestOrchestrator_ConnectFailure(t *testing.T) {
	h := newHarness(t, alice, nil)
	h.conn.err = session.ErrUserRejected

	err := h.orch.Connect(context.Background())
	assert.ErrorIs(t, err, session.ErrUserRejected)

	v := h.orch.View()
	assert.Equal(t, StateError, v.State)
	assert.False(t, v.Connected)
	assert.ErrorIs(t, v.LastError, session.ErrUserRejected)

	assert.ErrorIs(t, h.orch.LikeListing(context.Background(), 0), ErrNotConnected)
	assert.ErrorIs(t, h.orch.RefreshListings(context.Background()), ErrNotConnected)

	// A new Connect is the retry
	h.conn.err = nil
	require.NoError(t, h.orch.Connect(context.Background()))
	assert.Equal(t, StateReady, h.orch.State())
}

func TestOrchestrator_BalanceFailureKeepsIdentity(t *testing.T) {
	h := newHarness(t, alice, nil)
	h.market.Node.Fail("eth_getBalance", errors.New("node down"))

	err := h.orch.Connect(context.Background())
	require.Error(t, err)

	v := h.orch.View()
	assert.Equal(t, StateError, v.State)
	assert.True(t, v.Connected)
	assert.Equal(t, alice, v.Identity)
	assert.ErrorIs(t, h.orch.LikeListing(context.Background(), 0), ErrNotReady)

	h.market.Node.Fail("eth_getBalance", nil)
	require.NoError(t, h.orch.RefreshBalance(context.Background()))
	assert.Equal(t, StateReady, h.orch.State())
}

func TestOrchestrator_ListingsFailureKeepsGateway(t *testing.T) {
	h := newHarness(t, alice, nil)
	h.market.AddCar(bob, "Toyota", "Corolla", "", eth(1), 1)
	h.market.FailRead(0, contracttest.ErrExecutionReverted)

	err := h.orch.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateError, h.orch.State())

	h.market.FailRead(0, nil)
	require.NoError(t, h.orch.RefreshListings(context.Background()))

	v := h.orch.View()
	assert.Equal(t, StateReady, v.State)
	require.Len(t, v.Listings, 1)
	assert.Equal(t, "Toyota", v.Listings[0].Brand)
}

func TestOrchestrator_LikeFailureThenRetry(t *testing.T) {
	h := newHarness(t, alice, nil)
	for i := 0; i < 4; i++ {
		h.market.AddCar(bob, "brand", "model", "", eth(1), 1)
	}
	require.NoError(t, h.orch.Connect(context.Background()))

	h.market.Revert(contract.MethodLikeCar, true)
	err := h.orch.LikeListing(context.Background(), 3)
	require.Error(t, err)

	var callErr *contract.ChainCallError
	assert.True(t, errors.As(err, &callErr))

	// Refresh after the failed write still ran; counts are unchanged
	v := h.orch.View()
	assert.Equal(t, StateReady, v.State)
	assert.Equal(t, uint64(0), v.Listings[3].Likes)

	h.market.Revert(contract.MethodLikeCar, false)
	require.NoError(t, h.orch.LikeListing(context.Background(), 3))

	v = h.orch.View()
	assert.Equal(t, uint64(1), v.Listings[3].Likes)

	entries := h.journalFor(t, alice)
	require.Len(t, entries, 2)
	statuses := []domain.JournalStatus{entries[0].Status, entries[1].Status}
	assert.ElementsMatch(t, []domain.JournalStatus{domain.JournalFailed, domain.JournalSucceeded}, statuses)
	for _, e := range entries {
		require.NotNil(t, e.ListingIndex)
		assert.Equal(t, uint64(3), *e.ListingIndex)
		assert.Len(t, e.TxHashes, 1)
	}
}

func TestOrchestrator_AddListingRefreshes(t *testing.T) {
	h := newHarness(t, alice, nil)
	require.NoError(t, h.orch.Connect(context.Background()))

	err := h.orch.AddListing(context.Background(), "Tesla", "Model 3", "https://img/t.png", "12.5", 2)
	require.NoError(t, err)

	v := h.orch.View()
	require.Len(t, v.Listings, 1)
	l := v.Listings[0]
	assert.Equal(t, alice, l.Owner)
	assert.Equal(t, "Tesla", l.Brand)
	assert.Equal(t, uint64(2), l.UnitsAvailable)
	assert.Equal(t, "12500000000000000000", l.Price.String())

	entries := h.journalFor(t, alice)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.IntentAddListing, entries[0].Intent)
	assert.Nil(t, entries[0].ListingIndex)
	assert.Equal(t, "12.5", entries[0].Args["price"])
	assert.Equal(t, "id-1", entries[0].EntryID)
	assert.Equal(t, int64(1700000000000), entries[0].StartedAt)
}

func TestOrchestrator_AddListingInvalidPrice(t *testing.T) {
	h := newHarness(t, alice, nil)
	require.NoError(t, h.orch.Connect(context.Background()))

	for _, price := range []string{"", "abc", "0", "-1", "0.0000000000000000001"} {
		err := h.orch.AddListing(context.Background(), "b", "m", "", price, 1)
		assert.ErrorIs(t, err, ErrInvalidPrice, price)
		assert.ErrorIs(t, err, domain.ErrInvalidAmount, price)
	}

	assert.Empty(t, h.market.Writes())
	for _, e := range h.journalFor(t, alice) {
		assert.Equal(t, domain.JournalRejected, e.Status)
		assert.Empty(t, e.TxHashes)
	}
}

func TestOrchestrator_PurchaseApprovesThenBuys(t *testing.T) {
	h := newHarness(t, alice, nil)
	h.market.AddCar(bob, "Toyota", "Corolla", "", eth(2), 1)
	h.market.SetTokenBalance(alice, eth(5))
	require.NoError(t, h.orch.Connect(context.Background()))
	assert.Equal(t, "5.00", h.orch.View().Balance.Display)

	require.NoError(t, h.orch.Purchase(context.Background(), 0))

	assert.Equal(t, []string{contract.MethodApprove, contract.MethodBuyCar}, h.market.Writes())

	v := h.orch.View()
	assert.Equal(t, StateReady, v.State)
	assert.Equal(t, "3.00", v.Balance.Display, "balance re-read after purchase")
	assert.Equal(t, uint64(0), v.Listings[0].UnitsAvailable, "listings re-read after purchase")

	entries := h.journalFor(t, alice)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.JournalSucceeded, entries[0].Status)
	assert.Len(t, entries[0].TxHashes, 2)
	assert.Equal(t, eth(2).String(), entries[0].Args["price"])

	err := h.orch.Purchase(context.Background(), 0)
	assert.ErrorIs(t, err, ErrSoldOut)
}

// flakyBalance fails TotalBalance while failing is set.
type flakyBalance struct {
	*contract.Gateway
	failing *atomic.Bool
}

var errBalanceDown = errors.New("balance node down")

func (g flakyBalance) TotalBalance(ctx context.Context, identity common.Address) (domain.BalanceBreakdown, error) {
	if g.failing.Load() {
		return domain.BalanceBreakdown{}, errBalanceDown
	}
	return g.Gateway.TotalBalance(ctx, identity)
}

func TestOrchestrator_PurchaseRefreshesListingsWhenBalanceFails(t *testing.T) {
	failing := &atomic.Bool{}
	var h *harness
	h = newHarness(t, alice, func(o *Options) {
		o.Gateways = func(sess *session.Session) Gateway {
			gw := h.market.Gateway(sess.Identity, contract.Options{PollInterval: 5 * time.Millisecond})
			return flakyBalance{Gateway: gw, failing: failing}
		}
	})
	h.market.AddCar(bob, "Toyota", "Corolla", "", eth(2), 1)
	h.market.SetTokenBalance(alice, eth(5))
	require.NoError(t, h.orch.Connect(context.Background()))

	failing.Store(true)
	require.NoError(t, h.orch.Purchase(context.Background(), 0), "the purchase itself succeeded")
	assert.Equal(t, []string{contract.MethodApprove, contract.MethodBuyCar}, h.market.Writes())

	v := h.orch.View()
	assert.Equal(t, StateError, v.State, "balance failure stays visible")
	assert.ErrorIs(t, v.LastError, errBalanceDown)
	require.Len(t, v.Listings, 1)
	assert.Equal(t, uint64(0), v.Listings[0].UnitsAvailable, "listings re-read despite the balance failure")
	assert.Equal(t, "5.00", v.Balance.Display, "previous balance kept")

	failing.Store(false)
	require.NoError(t, h.orch.RefreshBalance(context.Background()))
	v = h.orch.View()
	assert.Equal(t, StateReady, v.State)
	assert.Equal(t, "3.00", v.Balance.Display)
}

func TestOrchestrator_PurchaseSkipsBuyWhenApprovalFails(t *testing.T) {
	h := newHarness(t, alice, nil)
	h.market.AddCar(bob, "Toyota", "Corolla", "", eth(2), 1)
	h.market.SetTokenBalance(alice, eth(5))
	require.NoError(t, h.orch.Connect(context.Background()))

	h.market.Revert(contract.MethodApprove, true)
	err := h.orch.Purchase(context.Background(), 0)
	assert.ErrorIs(t, err, ErrApprovalFailed)
	assert.ErrorIs(t, err, contract.ErrReverted)

	for _, w := range h.market.Writes() {
		assert.NotEqual(t, contract.MethodBuyCar, w, "marketplace must not be called without approval")
	}

	entries := h.journalFor(t, alice)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.JournalFailed, entries[0].Status)
	assert.Equal(t, "5.00", h.orch.View().Balance.Display)
}

func TestOrchestrator_PurchaseUnknownListing(t *testing.T) {
	h := newHarness(t, alice, nil)
	require.NoError(t, h.orch.Connect(context.Background()))

	err := h.orch.Purchase(context.Background(), 7)
	assert.ErrorIs(t, err, ErrUnknownListing)
	assert.Empty(t, h.market.Writes())
}

func TestOrchestrator_OwnerGuard(t *testing.T) {
	h := newHarness(t, alice, func(o *Options) { o.ForbidOwnerVotes = true })
	h.market.AddCar(alice, "mine", "m", "", eth(1), 1)
	h.market.AddCar(bob, "theirs", "m", "", eth(1), 1)
	require.NoError(t, h.orch.Connect(context.Background()))

	assert.ErrorIs(t, h.orch.LikeListing(context.Background(), 0), ErrOwnListing)
	assert.ErrorIs(t, h.orch.DislikeListing(context.Background(), 0), ErrOwnListing)
	assert.ErrorIs(t, h.orch.AddReview(context.Background(), 0, "great"), ErrOwnListing)
	assert.Empty(t, h.market.Writes())

	require.NoError(t, h.orch.AddReview(context.Background(), 1, "great"))
	require.NoError(t, h.orch.DislikeListing(context.Background(), 1))

	v := h.orch.View()
	assert.Equal(t, uint64(1), v.Listings[1].Dislikes)
	require.Len(t, v.Listings[1].Reviews, 1)
	assert.Equal(t, "great", v.Listings[1].Reviews[0].AuthorMessage)
}

func TestOrchestrator_IntentInFlight(t *testing.T) {
	h := newHarness(t, alice, nil)
	h.market.AddCar(bob, "b", "m", "", eth(1), 1)
	require.NoError(t, h.orch.Connect(context.Background()))
	// A pending transaction keeps the first intent in flight until ctx is canceled
	h.market.Hold(contract.MethodLikeCar, true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.orch.LikeListing(ctx, 0) }()

	require.Eventually(t, func() bool {
		return len(h.market.Writes()) == 1
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, h.orch.DislikeListing(context.Background(), 0), ErrIntentInFlight)

	cancel()
	require.Error(t, <-done)

	h.market.Hold(contract.MethodLikeCar, false)
	require.NoError(t, h.orch.RefreshListings(context.Background()))
	require.NoError(t, h.orch.DislikeListing(context.Background(), 0))
}

func TestOrchestrator_PersistsSnapshots(t *testing.T) {
	h := newHarness(t, alice, nil)
	h.market.AddCar(bob, "a", "m", "", eth(1), 3)
	h.market.AddCar(bob, "b", "m", "", eth(2), 1)
	require.NoError(t, h.orch.Connect(context.Background()))

	snaps, err := h.snapshots.GetByTimeRange(context.Background(), 0, 1<<62)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, uint64(0), snaps[0].ListingIndex)
	assert.Equal(t, uint64(3), snaps[0].UnitsAvailable)
	assert.Equal(t, eth(2).String(), snaps[1].PriceBaseUnits)
	assert.Len(t, snaps[0].SnapshotID, 64)

	// Same content at the same instant hashes to the same IDs; the refresh still succeeds
	require.NoError(t, h.orch.RefreshListings(context.Background()))
	assert.Equal(t, StateReady, h.orch.State())
}

func TestOrchestrator_Disconnect(t *testing.T) {
	h := newHarness(t, alice, nil)
	require.NoError(t, h.orch.Connect(context.Background()))

	h.orch.Disconnect()

	v := h.orch.View()
	assert.Equal(t, StateDisconnected, v.State)
	assert.False(t, v.Connected)
	assert.Nil(t, v.Balance)
	assert.True(t, h.conn.disconnected)
	assert.ErrorIs(t, h.orch.Purchase(context.Background(), 0), ErrNotConnected)
}

func TestOrchestrator_DisconnectClearsListings(t *testing.T) {
	h := newHarness(t, alice, nil)
	h.market.AddCar(bob, "b", "m", "", eth(1), 1)
	require.NoError(t, h.orch.Connect(context.Background()))
	require.Len(t, h.orch.View().Listings, 1)

	h.orch.Disconnect()

	v := h.orch.View()
	assert.NotNil(t, v.Listings)
	assert.Empty(t, v.Listings)
	_, ok := h.orch.listings.Get(0)
	assert.False(t, ok)
}

func TestOrchestrator_DisconnectCancelsInFlight(t *testing.T) {
	h := newHarness(t, alice, nil)
	h.market.AddCar(bob, "b", "m", "", eth(1), 1)
	require.NoError(t, h.orch.Connect(context.Background()))
	h.market.Hold(contract.MethodLikeCar, true)

	done := make(chan error, 1)
	go func() { done <- h.orch.LikeListing(context.Background(), 0) }()

	require.Eventually(t, func() bool {
		return len(h.market.Writes()) == 1
	}, time.Second, time.Millisecond)

	disconnected := make(chan struct{})
	go func() {
		h.orch.Disconnect()
		close(disconnected)
	}()

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect did not cancel the pending intent")
	}
	require.Error(t, <-done)

	v := h.orch.View()
	assert.Equal(t, StateDisconnected, v.State)
	assert.False(t, v.Connected)
	assert.Nil(t, v.Balance)
	assert.Empty(t, v.Listings)

	h.orch.mu.Lock()
	assert.Nil(t, h.orch.gateway, "no gateway rebound after disconnect")
	assert.Nil(t, h.orch.inFlight)
	h.orch.mu.Unlock()

	h.market.Hold(contract.MethodLikeCar, false)
	require.NoError(t, h.orch.Connect(context.Background()))
	assert.Equal(t, StateReady, h.orch.State())
}

func TestOrchestrator_SubscribeCancel(t *testing.T) {
	h := newHarness(t, alice, nil)

	events, cancel := h.orch.Subscribe(1)
	require.NoError(t, h.orch.Connect(context.Background()))

	// Buffer of one keeps only the first transition
	first := <-events
	assert.Equal(t, StateConnecting, first.To)
	assert.Equal(t, StateDisconnected, first.From)

	cancel()
	cancel()
	_, open := <-events
	assert.False(t, open)
}
