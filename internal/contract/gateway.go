// Package contract provides a typed façade over the car marketplace and its
// settlement token (cUSD). Reads are eth_call; writes are submitted through a
// Sender and confirmed according to a ConfirmationPolicy.
package contract

import (
	"context"
	"io"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"celo-carmarket/internal/chain"
	"celo-carmarket/internal/domain"
)

// Default gateway settings.
const (
	DefaultCallTimeout    = 30 * time.Second
	DefaultConfirmTimeout = 2 * time.Minute
	DefaultPollInterval   = 2 * time.Second
)

// Sender submits transactions on behalf of a connected identity.
type Sender interface {
	Address() common.Address
	Send(ctx context.Context, to common.Address, data []byte) (common.Hash, error)
}

// Options configures a Gateway.
type Options struct {
	Marketplace common.Address
	Token       common.Address

	Policy         ConfirmationPolicy
	CallTimeout    time.Duration // per chain call, including each write submission
	ConfirmTimeout time.Duration // bound on waiting for the policy after submission
	PollInterval   time.Duration

	// Heads is optional. When set, confirmation depth follows newHeads instead of polling.
	Heads chain.HeadSubscriber

	Logger  *log.Logger
	Verbose bool
}

// Gateway is bound to one identity for its lifetime.
type Gateway struct {
	rpc    chain.RPCClient
	sender Sender

	marketplace    common.Address
	token          common.Address
	callTimeout    time.Duration
	confirmTimeout time.Duration
	confirmer      *confirmer

	logger  *log.Logger
	verbose bool
}

// New creates a Gateway that reads through rpc and writes through sender.
func New(rpc chain.RPCClient, sender Sender, opts Options) *Gateway {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = DefaultConfirmTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}

	return &Gateway{
		rpc:            rpc,
		sender:         sender,
		marketplace:    opts.Marketplace,
		token:          opts.Token,
		callTimeout:    opts.CallTimeout,
		confirmTimeout: opts.ConfirmTimeout,
		confirmer: &confirmer{
			rpc:          rpc,
			heads:        opts.Heads,
			policy:       opts.Policy,
			pollInterval: opts.PollInterval,
			logger:       opts.Logger,
		},
		logger:  opts.Logger,
		verbose: opts.Verbose,
	}
}

// MarketplaceAddress returns the spender used for token approvals.
func (g *Gateway) MarketplaceAddress() common.Address {
	return g.marketplace
}

// Identity returns the address the gateway is bound to.
func (g *Gateway) Identity() common.Address {
	return g.sender.Address()
}

// Policy returns the confirmation policy writes wait for.
func (g *Gateway) Policy() ConfirmationPolicy {
	return g.confirmer.policy
}

// ListingCount returns the number of listings registered on the marketplace.
func (g *Gateway) ListingCount(ctx context.Context) (uint64, error) {
	out, err := g.call(ctx, MethodGetCarLength, g.marketplace, marketplaceABI)
	if err != nil {
		return 0, err
	}
	n, err := decodeUint(marketplaceABI, MethodGetCarLength, out)
	if err != nil {
		return 0, newCallError(MethodGetCarLength, err)
	}
	if !n.IsUint64() {
		return 0, &ChainCallError{Op: MethodGetCarLength, Reason: "listing count overflows uint64"}
	}
	return n.Uint64(), nil
}

// ListingAt reads the listing at index.
func (g *Gateway) ListingAt(ctx context.Context, index uint64) (RawListing, error) {
	out, err := g.call(ctx, MethodGetCar, g.marketplace, marketplaceABI, new(big.Int).SetUint64(index))
	if err != nil {
		return RawListing{}, err
	}
	raw, err := decodeListing(out)
	if err != nil {
		return RawListing{}, newCallError(MethodGetCar, err)
	}
	return raw, nil
}

// AddListing registers a new listing. price is in token base units.
func (g *Gateway) AddListing(ctx context.Context, brand, model, imageURL string, price *big.Int, unitsAvailable uint64) (common.Hash, error) {
	return g.transact(ctx, MethodAddCar, g.marketplace, marketplaceABI,
		brand, model, imageURL, price, new(big.Int).SetUint64(unitsAvailable))
}

// LikeListing casts a like vote.
func (g *Gateway) LikeListing(ctx context.Context, index uint64) (common.Hash, error) {
	return g.transact(ctx, MethodLikeCar, g.marketplace, marketplaceABI, new(big.Int).SetUint64(index))
}

// DislikeListing casts a dislike vote.
func (g *Gateway) DislikeListing(ctx context.Context, index uint64) (common.Hash, error) {
	return g.transact(ctx, MethodDislikeCar, g.marketplace, marketplaceABI, new(big.Int).SetUint64(index))
}

// AddReview appends a review message to a listing.
func (g *Gateway) AddReview(ctx context.Context, index uint64, message string) (common.Hash, error) {
	return g.transact(ctx, MethodAddReview, g.marketplace, marketplaceABI, new(big.Int).SetUint64(index), message)
}

// ApproveSpend authorizes spender to transfer amount token base units from the identity.
func (g *Gateway) ApproveSpend(ctx context.Context, spender common.Address, amount *big.Int) (common.Hash, error) {
	return g.transact(ctx, MethodApprove, g.token, tokenABI, spender, amount)
}

// Purchase buys one unit of the listing at index. The spend must be approved first.
func (g *Gateway) Purchase(ctx context.Context, index uint64) (common.Hash, error) {
	return g.transact(ctx, MethodBuyCar, g.marketplace, marketplaceABI, new(big.Int).SetUint64(index))
}

// TotalBalance returns the native and settlement token balances of identity.
func (g *Gateway) TotalBalance(ctx context.Context, identity common.Address) (domain.BalanceBreakdown, error) {
	out, err := g.call(ctx, MethodBalanceOf, g.token, tokenABI, identity)
	if err != nil {
		return domain.BalanceBreakdown{}, err
	}
	token, err := decodeUint(tokenABI, MethodBalanceOf, out)
	if err != nil {
		return domain.BalanceBreakdown{}, newCallError(MethodBalanceOf, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	native, err := g.rpc.BalanceAt(callCtx, identity)
	if err != nil {
		return domain.BalanceBreakdown{}, newCallError("getBalance", err)
	}

	return domain.BalanceBreakdown{Native: native, Token: token}, nil
}

// call packs and executes a read-only call under the per-call timeout.
func (g *Gateway) call(ctx context.Context, method string, to common.Address, a abi.ABI, args ...interface{}) ([]byte, error) {
	data, err := a.Pack(method, args...)
	if err != nil {
		return nil, newCallError(method, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	from := g.sender.Address()
	out, err := g.rpc.CallContract(callCtx, chain.CallMsg{From: &from, To: &to, Data: data})
	if err != nil {
		return nil, newCallError(method, err)
	}
	return out, nil
}

// transact packs, submits and confirms a write.
func (g *Gateway) transact(ctx context.Context, method string, to common.Address, a abi.ABI, args ...interface{}) (common.Hash, error) {
	data, err := a.Pack(method, args...)
	if err != nil {
		return common.Hash{}, newCallError(method, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	hash, err := g.sender.Send(sendCtx, to, data)
	cancel()
	if err != nil {
		return common.Hash{}, newCallError(method, err)
	}
	g.log("%s submitted: %s", method, hash.Hex())

	waitCtx, cancel := context.WithTimeout(ctx, g.confirmTimeout)
	defer cancel()

	receipt, err := g.confirmer.wait(waitCtx, hash)
	if err != nil {
		return hash, newCallError(method, err)
	}
	if receipt != nil {
		g.log("%s confirmed in block %d (gas %d)", method, receipt.BlockNumber, receipt.GasUsed)
	}
	return hash, nil
}

func (g *Gateway) log(format string, args ...interface{}) {
	if g.verbose {
		g.logger.Printf("[contract] "+format, args...)
	}
}
