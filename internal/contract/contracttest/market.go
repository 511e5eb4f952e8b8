// Package contracttest provides an in-memory marketplace and cUSD token served
// by the stub node, for tests that exercise the real Gateway.
package contracttest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"celo-carmarket/internal/chain"
	"celo-carmarket/internal/chain/stub"
	"celo-carmarket/internal/contract"
)

// Default addresses used by NewMarket.
var (
	MarketplaceAddress = common.HexToAddress("0x121DdfbECe10b653e14F397fe0B9535905b93853")
	TokenAddress       = common.HexToAddress("0x874069Fa1Eb16D44d622F2e0Ca25eeA172369bC1")
)

// ErrExecutionReverted mimics the node error for a reverting eth_call.
var ErrExecutionReverted = &chain.RPCError{Code: 3, Message: "execution reverted"}

// Market is a marketplace contract and ERC20 token living inside a stub node.
type Market struct {
	Node *stub.RPCClient

	mu         sync.Mutex
	cars       []contract.RawListing
	balances   map[common.Address]*big.Int
	allowances map[common.Address]*big.Int // owner -> allowance granted to the marketplace
	readErrs   map[uint64]error
	reverts    map[string]bool
	pending    map[string]bool
	writes     []string
}

// NewMarket creates an empty marketplace on a fresh stub node.
func NewMarket() *Market {
	m := &Market{
		Node:       stub.NewRPCClient(),
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]*big.Int),
		readErrs:   make(map[uint64]error),
		reverts:    make(map[string]bool),
		pending:    make(map[string]bool),
	}

	mkt := contract.MarketplaceABI()
	tok := contract.TokenABI()

	m.Node.Handle(mkt.Methods[contract.MethodGetCarLength].ID, m.getCarLength)
	m.Node.Handle(mkt.Methods[contract.MethodGetCar].ID, m.getCar)
	m.Node.Handle(tok.Methods[contract.MethodBalanceOf].ID, m.balanceOf)
	m.Node.OnSend = m.onSend

	return m
}

// AddCar registers a listing directly, bypassing transactions.
func (m *Market) AddCar(owner common.Address, brand, model, image string, price *big.Int, units uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cars = append(m.cars, contract.RawListing{
		Owner:           owner,
		Brand:           brand,
		Model:           model,
		Image:           image,
		Likes:           new(big.Int),
		Dislikes:        new(big.Int),
		Price:           new(big.Int).Set(price),
		CarsAvailable:   new(big.Int).SetUint64(units),
		NumberOfReviews: new(big.Int),
		Reviews:         []contract.RawReview{},
	})
	return uint64(len(m.cars) - 1)
}

// Car returns a copy of the listing at index.
func (m *Market) Car(index uint64) contract.RawListing {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.cars[index]
	c.Reviews = append([]contract.RawReview(nil), c.Reviews...)
	return c
}

// SetTokenBalance sets the cUSD balance of addr in base units.
func (m *Market) SetTokenBalance(addr common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[addr] = new(big.Int).Set(amount)
}

// TokenBalance returns the cUSD balance of addr.
func (m *Market) TokenBalance(addr common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceLocked(addr)
}

// FailRead makes getCar(index) fail with err. A nil err clears the failure.
func (m *Market) FailRead(index uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.readErrs, index)
		return
	}
	m.readErrs[index] = err
}

// Revert makes subsequent transactions calling method mine with status 0.
func (m *Market) Revert(method string, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reverts[method] = on
}

// Hold leaves subsequent transactions calling method pending.
func (m *Market) Hold(method string, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[method] = on
}

// Writes returns the method names of all submitted transactions in order.
func (m *Market) Writes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.writes...)
}

func (m *Market) balanceLocked(addr common.Address) *big.Int {
	if b, ok := m.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (m *Market) getCarLength(_ []byte) ([]byte, error) {
	m.mu.Lock()
	n := len(m.cars)
	m.mu.Unlock()
	return contract.MarketplaceABI().Methods[contract.MethodGetCarLength].Outputs.Pack(big.NewInt(int64(n)))
}

func (m *Market) getCar(args []byte) ([]byte, error) {
	method := contract.MarketplaceABI().Methods[contract.MethodGetCar]
	in, err := method.Inputs.Unpack(args)
	if err != nil {
		return nil, err
	}
	idx := in[0].(*big.Int).Uint64()

	m.mu.Lock()
	if err := m.readErrs[idx]; err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if idx >= uint64(len(m.cars)) {
		m.mu.Unlock()
		return nil, ErrExecutionReverted
	}
	c := m.cars[idx]
	m.mu.Unlock()

	return method.Outputs.Pack(c.Owner, c.Brand, c.Model, c.Image, c.Likes, c.Dislikes,
		c.Price, c.CarsAvailable, c.NumberOfReviews, c.Reviews)
}

func (m *Market) balanceOf(args []byte) ([]byte, error) {
	method := contract.TokenABI().Methods[contract.MethodBalanceOf]
	in, err := method.Inputs.Unpack(args)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(m.TokenBalance(in[0].(common.Address)))
}

// onSend applies a transaction to contract state and decides its receipt.
func (m *Market) onSend(tx stub.SentTx) (*chain.Receipt, error) {
	var a abi.ABI
	switch tx.To {
	case MarketplaceAddress:
		a = contract.MarketplaceABI()
	case TokenAddress:
		a = contract.TokenABI()
	default:
		return nil, fmt.Errorf("unknown contract %s", tx.To.Hex())
	}

	if len(tx.Data) < 4 {
		return nil, fmt.Errorf("short calldata")
	}
	method, err := a.MethodById(tx.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(tx.Data[4:])
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.writes = append(m.writes, method.Name)

	if m.pending[method.Name] {
		return nil, nil
	}
	if m.reverts[method.Name] || !m.applyLocked(tx.From, method.Name, args) {
		return &chain.Receipt{Status: 0, GasUsed: 21000}, nil
	}
	return &chain.Receipt{Status: 1, GasUsed: 50000}, nil
}

// applyLocked mutates state for a write. It returns false when the contract would revert.
func (m *Market) applyLocked(from common.Address, name string, args []interface{}) bool {
	index := func() (uint64, bool) {
		i := args[0].(*big.Int).Uint64()
		return i, i < uint64(len(m.cars))
	}

	switch name {
	case contract.MethodAddCar:
		m.cars = append(m.cars, contract.RawListing{
			Owner:           from,
			Brand:           args[0].(string),
			Model:           args[1].(string),
			Image:           args[2].(string),
			Likes:           new(big.Int),
			Dislikes:        new(big.Int),
			Price:           new(big.Int).Set(args[3].(*big.Int)),
			CarsAvailable:   new(big.Int).Set(args[4].(*big.Int)),
			NumberOfReviews: new(big.Int),
			Reviews:         []contract.RawReview{},
		})
	case contract.MethodLikeCar:
		i, ok := index()
		if !ok {
			return false
		}
		m.cars[i].Likes = new(big.Int).Add(m.cars[i].Likes, big.NewInt(1))
	case contract.MethodDislikeCar:
		i, ok := index()
		if !ok {
			return false
		}
		m.cars[i].Dislikes = new(big.Int).Add(m.cars[i].Dislikes, big.NewInt(1))
	case contract.MethodAddReview:
		i, ok := index()
		if !ok {
			return false
		}
		c := &m.cars[i]
		c.Reviews = append(c.Reviews, contract.RawReview{
			PostId:          big.NewInt(int64(len(c.Reviews))),
			ReviewerMessage: args[1].(string),
		})
		c.NumberOfReviews = big.NewInt(int64(len(c.Reviews)))
	case contract.MethodApprove:
		if args[0].(common.Address) != MarketplaceAddress {
			return true
		}
		m.allowances[from] = new(big.Int).Set(args[1].(*big.Int))
	case contract.MethodBuyCar:
		i, ok := index()
		if !ok {
			return false
		}
		c := &m.cars[i]
		allowance := m.allowances[from]
		buyerBal := m.balanceLocked(from)
		if c.CarsAvailable.Sign() == 0 || allowance == nil || allowance.Cmp(c.Price) < 0 || buyerBal.Cmp(c.Price) < 0 {
			return false
		}
		m.balances[from] = new(big.Int).Sub(buyerBal, c.Price)
		m.balances[c.Owner] = new(big.Int).Add(m.balanceLocked(c.Owner), c.Price)
		m.allowances[from] = new(big.Int).Sub(allowance, c.Price)
		c.CarsAvailable = new(big.Int).Sub(c.CarsAvailable, big.NewInt(1))
	}
	return true
}

// Sender submits transactions from a node-managed account on the stub node.
type Sender struct {
	Node *stub.RPCClient
	From common.Address
}

// Address returns the sending account.
func (s *Sender) Address() common.Address {
	return s.From
}

// Send submits data to the contract at to via eth_sendTransaction.
func (s *Sender) Send(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	from := s.From
	return s.Node.SendTransaction(ctx, chain.CallMsg{From: &from, To: &to, Data: data})
}

// Gateway returns a Gateway bound to from with the default addresses.
func (m *Market) Gateway(from common.Address, opts contract.Options) *contract.Gateway {
	opts.Marketplace = MarketplaceAddress
	opts.Token = TokenAddress
	return contract.New(m.Node, &Sender{Node: m.Node, From: from}, opts)
}
