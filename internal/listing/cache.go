// Package listing materializes the full listing collection from the marketplace.
package listing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"celo-carmarket/internal/contract"
	"celo-carmarket/internal/domain"
	"celo-carmarket/internal/observability"
)

const (
	// DefaultConcurrency bounds in-flight getCar reads per refresh.
	DefaultConcurrency = 8
	// DefaultMaxListings bounds the listing count accepted from the chain.
	DefaultMaxListings = 10000
)

// ErrTooManyListings is wrapped in a count PartialFetchError when getCarLength exceeds the limit.
var ErrTooManyListings = errors.New("listing count exceeds limit")

// Reader is the subset of the gateway a refresh needs.
type Reader interface {
	ListingCount(ctx context.Context) (uint64, error)
	ListingAt(ctx context.Context, index uint64) (contract.RawListing, error)
}

// PartialFetchError reports the first failed read of a refresh. No collection is returned with it.
type PartialFetchError struct {
	Index uint64 // failing listing index; Count is set instead when the count read failed
	Count bool
	Err   error
}

func (e *PartialFetchError) Error() string {
	if e.Count {
		return fmt.Sprintf("listing refresh: read count: %v", e.Err)
	}
	return fmt.Sprintf("listing refresh: read index %d: %v", e.Index, e.Err)
}

func (e *PartialFetchError) Unwrap() error {
	return e.Err
}

// Cache holds the last successful snapshot.
type Cache struct {
	concurrency int
	maxListings uint64

	mu       sync.RWMutex
	snapshot []domain.Listing
	loaded   bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxListings sets the largest listing count a refresh accepts. n <= 0 keeps the default.
func WithMaxListings(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxListings = uint64(n)
		}
	}
}

// NewCache creates an empty cache. concurrency <= 0 means DefaultConcurrency.
func NewCache(concurrency int, opts ...Option) *Cache {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	c := &Cache{concurrency: concurrency, maxListings: DefaultMaxListings}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Refresh reads every listing concurrently and replaces the snapshot on full success.
// The result is ordered by index. Any failed read fails the whole refresh.
func (c *Cache) Refresh(ctx context.Context, r Reader) ([]domain.Listing, error) {
	start := time.Now()

	listings, err := c.fetch(ctx, r)
	observability.RecordListingRefresh(len(listings), time.Since(start).Seconds(), err, time.Now().Unix())
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.snapshot = listings
	c.loaded = true
	c.mu.Unlock()

	return cloneAll(listings), nil
}

func (c *Cache) fetch(ctx context.Context, r Reader) ([]domain.Listing, error) {
	count, err := r.ListingCount(ctx)
	if err != nil {
		return nil, &PartialFetchError{Count: true, Err: err}
	}
	if count > c.maxListings {
		return nil, &PartialFetchError{Count: true, Err: fmt.Errorf("%w: %d > %d", ErrTooManyListings, count, c.maxListings)}
	}

	// Each goroutine owns one slot
	results := make([]domain.Listing, count)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i := uint64(0); i < count; i++ {
		index := i
		g.Go(func() error {
			raw, err := r.ListingAt(gctx, index)
			if err != nil {
				return &PartialFetchError{Index: index, Err: err}
			}
			results[index] = FromRaw(index, raw)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Slots are index-addressed; the sort guards the ordering invariant
	sort.Slice(results, func(a, b int) bool { return results[a].Index < results[b].Index })
	return results, nil
}

// Snapshot returns a copy of the last successful refresh and whether one exists.
func (c *Cache) Snapshot() ([]domain.Listing, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneAll(c.snapshot), c.loaded
}

// Reset forgets the snapshot.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.snapshot = nil
	c.loaded = false
	c.mu.Unlock()
}

// Get returns the listing at index from the current snapshot.
func (c *Cache) Get(index uint64) (domain.Listing, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if index >= uint64(len(c.snapshot)) {
		return domain.Listing{}, false
	}
	return c.snapshot[index].Clone(), true
}

// FromRaw converts a decoded getCar result into a Listing.
func FromRaw(index uint64, raw contract.RawListing) domain.Listing {
	l := domain.Listing{
		Index:          index,
		Owner:          raw.Owner,
		Brand:          raw.Brand,
		Model:          raw.Model,
		ImageURL:       raw.Image,
		Price:          bigOrZero(raw.Price),
		UnitsAvailable: uint64OrZero(raw.CarsAvailable),
		Likes:          uint64OrZero(raw.Likes),
		Dislikes:       uint64OrZero(raw.Dislikes),
		ReviewCount:    uint64OrZero(raw.NumberOfReviews),
		Reviews:        make([]domain.Review, 0, len(raw.Reviews)),
	}
	for _, rv := range raw.Reviews {
		l.Reviews = append(l.Reviews, domain.Review{
			ID:            uint64OrZero(rv.PostId),
			AuthorMessage: rv.ReviewerMessage,
		})
	}
	return l
}

func cloneAll(in []domain.Listing) []domain.Listing {
	if in == nil {
		return nil
	}
	out := make([]domain.Listing, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// uint64OrZero saturates values that do not fit.
func uint64OrZero(v *big.Int) uint64 {
	switch {
	case v == nil || v.Sign() < 0:
		return 0
	case !v.IsUint64():
		return math.MaxUint64
	default:
		return v.Uint64()
	}
}
