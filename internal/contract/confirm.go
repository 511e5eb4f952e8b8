package contract

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"celo-carmarket/internal/chain"
	"celo-carmarket/internal/observability"
)

// PolicyKind selects when a write is considered done.
type PolicyKind int

const (
	// PolicyMined waits for a receipt. It is the zero value and the default.
	PolicyMined PolicyKind = iota
	// PolicySubmitted returns as soon as the node accepts the transaction.
	PolicySubmitted
	// PolicyConfirmations waits until the inclusion block is Depth blocks deep.
	PolicyConfirmations
)

// ConfirmationPolicy controls how long write operations wait.
type ConfirmationPolicy struct {
	Kind  PolicyKind
	Depth uint64 // only for PolicyConfirmations; the inclusion block counts as 1
}

// ParsePolicy parses "submitted", "mined" or "confirmations:N". Empty means mined.
func ParsePolicy(s string) (ConfirmationPolicy, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch {
	case s == "" || s == "mined":
		return ConfirmationPolicy{Kind: PolicyMined}, nil
	case s == "submitted":
		return ConfirmationPolicy{Kind: PolicySubmitted}, nil
	case strings.HasPrefix(s, "confirmations:"):
		n, err := strconv.ParseUint(strings.TrimPrefix(s, "confirmations:"), 10, 64)
		if err != nil || n == 0 {
			return ConfirmationPolicy{}, fmt.Errorf("invalid confirmation depth in %q", s)
		}
		return ConfirmationPolicy{Kind: PolicyConfirmations, Depth: n}, nil
	default:
		return ConfirmationPolicy{}, fmt.Errorf("unknown confirmation policy %q", s)
	}
}

func (p ConfirmationPolicy) String() string {
	switch p.Kind {
	case PolicySubmitted:
		return "submitted"
	case PolicyConfirmations:
		return fmt.Sprintf("confirmations:%d", p.Depth)
	default:
		return "mined"
	}
}

// headWatcher tracks the latest head seen on a newHeads subscription.
type headWatcher struct {
	latest atomic.Uint64

	mu     sync.Mutex
	notify chan struct{} // closed on every new head
	done   chan struct{} // closed when the subscription ends
}

func newHeadWatcher() *headWatcher {
	return &headWatcher{notify: make(chan struct{}), done: make(chan struct{})}
}

func (w *headWatcher) run(heads <-chan chain.Header) {
	for h := range heads {
		observability.RecordHead()
		if h.Number > w.latest.Load() {
			w.latest.Store(h.Number)
		}
		w.wake()
	}

	// A dead subscription must not report a frozen height
	w.latest.Store(0)
	close(w.done)
	w.wake()
}

func (w *headWatcher) wake() {
	w.mu.Lock()
	close(w.notify)
	w.notify = make(chan struct{})
	w.mu.Unlock()
}

func (w *headWatcher) closed() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func (w *headWatcher) next() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.notify
}

// confirmer waits for transactions according to a ConfirmationPolicy.
type confirmer struct {
	rpc          chain.RPCClient
	heads        chain.HeadSubscriber
	policy       ConfirmationPolicy
	pollInterval time.Duration
	logger       *log.Logger

	watchMu      sync.Mutex
	watcher      *headWatcher
	subscribeErr error // set once a subscription attempt failed; polling from then on
}

// watch returns a live head watcher, subscribing again when the previous subscription ended.
// Subscription failure falls back to polling.
func (c *confirmer) watch(ctx context.Context) *headWatcher {
	if c.heads == nil {
		return nil
	}

	c.watchMu.Lock()
	defer c.watchMu.Unlock()

	if c.subscribeErr != nil {
		return nil
	}
	if c.watcher != nil && !c.watcher.closed() {
		return c.watcher
	}

	ch, err := c.heads.SubscribeNewHeads(ctx)
	if err != nil {
		c.subscribeErr = err
		c.watcher = nil
		c.logger.Printf("newHeads subscription failed, polling eth_blockNumber: %v", err)
		return nil
	}
	w := newHeadWatcher()
	go w.run(ch)
	c.watcher = w
	return w
}

// head returns the current head height, preferring a live subscription.
func (c *confirmer) head(ctx context.Context, w *headWatcher) (uint64, error) {
	if w != nil && !w.closed() {
		if h := w.latest.Load(); h > 0 {
			return h, nil
		}
	}
	return c.rpc.BlockNumber(ctx)
}

// wait blocks until hash satisfies the policy. It returns nil receipt for PolicySubmitted.
func (c *confirmer) wait(ctx context.Context, hash common.Hash) (*chain.Receipt, error) {
	if c.policy.Kind == PolicySubmitted {
		return nil, nil
	}

	start := time.Now()
	var w *headWatcher
	if c.policy.Kind == PolicyConfirmations {
		w = c.watch(ctx)
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		// Taken before reading state so a head arriving mid-check still wakes us
		var wake <-chan struct{}
		if w != nil {
			wake = w.next()
		}

		receipt, err := c.rpc.TransactionReceipt(ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
		}

		if receipt != nil {
			if !receipt.Succeeded() {
				return receipt, fmt.Errorf("%w: %s in block %d", ErrReverted, hash.Hex(), receipt.BlockNumber)
			}
			if c.policy.Kind == PolicyMined {
				observability.RecordConfirmation(c.policy.String(), time.Since(start).Seconds())
				return receipt, nil
			}

			head, err := c.head(ctx, w)
			if err != nil {
				return nil, fmt.Errorf("block number: %w", err)
			}
			if head >= receipt.BlockNumber && head-receipt.BlockNumber+1 >= c.policy.Depth {
				observability.RecordConfirmation(c.policy.String(), time.Since(start).Seconds())
				return receipt, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		case <-wake:
		}
	}
}
