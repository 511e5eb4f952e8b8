package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"celo-carmarket/internal/chain"
)

// NodeProvider uses accounts managed by the RPC node. The node signs writes.
type NodeProvider struct {
	rpc chain.RPCClient

	// Account selects one of the node's accounts. Zero means the first one.
	Account common.Address
}

// NewNodeProvider creates a provider backed by node-managed accounts.
func NewNodeProvider(rpc chain.RPCClient) *NodeProvider {
	return &NodeProvider{rpc: rpc}
}

// Name identifies the provider in logs.
func (p *NodeProvider) Name() string {
	return "node"
}

// Connect calls eth_requestAccounts, falling back to eth_accounts on nodes without it.
func (p *NodeProvider) Connect(ctx context.Context) (Handle, error) {
	accounts, err := p.rpc.RequestAccounts(ctx)
	var rpcErr *chain.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == chain.CodeMethodNotFound {
		accounts, err = p.rpc.Accounts(ctx)
	}
	if err != nil {
		return nil, classify(err)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("%w: no accounts exposed", ErrUserRejected)
	}

	addr := accounts[0]
	if p.Account != (common.Address{}) {
		found := false
		for _, a := range accounts {
			if a == p.Account {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: account %s not exposed by node", ErrUserRejected, p.Account.Hex())
		}
		addr = p.Account
	}

	return &nodeHandle{rpc: p.rpc, addr: addr}, nil
}

// classify maps provider errors onto the session taxonomy.
func classify(err error) error {
	var rpcErr *chain.RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case chain.CodeUserRejected, chain.CodeUnauthorized:
			return fmt.Errorf("%w: %v", ErrUserRejected, err)
		case chain.CodeMethodNotFound:
			return fmt.Errorf("%w: %v", ErrNoProvider, err)
		}
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// Transport failure: nothing answering at the endpoint
	return fmt.Errorf("%w: %v", ErrNoProvider, err)
}

type nodeHandle struct {
	rpc  chain.RPCClient
	addr common.Address
}

func (h *nodeHandle) Address() common.Address {
	return h.addr
}

func (h *nodeHandle) Send(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	from := h.addr
	hash, err := h.rpc.SendTransaction(ctx, chain.CallMsg{From: &from, To: &to, Data: data})
	if err != nil {
		var rpcErr *chain.RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == chain.CodeUserRejected {
			return common.Hash{}, fmt.Errorf("%w: %w", ErrUserRejected, err)
		}
		return common.Hash{}, err
	}
	return hash, nil
}
