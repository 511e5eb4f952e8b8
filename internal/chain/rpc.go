package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RPCClient defines the EVM JSON-RPC HTTP interface used by the client.
type RPCClient interface {
	// ChainID returns the EIP-155 chain id.
	ChainID(ctx context.Context) (*big.Int, error)

	// BlockNumber returns the current head height.
	BlockNumber(ctx context.Context) (uint64, error)

	// CallContract executes a read-only call against the latest block.
	CallContract(ctx context.Context, msg CallMsg) ([]byte, error)

	// BalanceAt returns the native balance of addr at the latest block.
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)

	// PendingNonceAt returns the next nonce for addr, including pending transactions.
	PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error)

	// GasPrice returns the node's suggested gas price.
	GasPrice(ctx context.Context) (*big.Int, error)

	// EstimateGas estimates gas for msg.
	EstimateGas(ctx context.Context, msg CallMsg) (uint64, error)

	// SendRawTransaction submits a signed, RLP encoded transaction.
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)

	// SendTransaction asks the node to sign and submit msg with a node-managed account.
	SendTransaction(ctx context.Context, msg CallMsg) (common.Hash, error)

	// TransactionReceipt returns the receipt of a mined transaction, or nil if still pending.
	TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error)

	// Accounts lists node-managed accounts without prompting.
	Accounts(ctx context.Context) ([]common.Address, error)

	// RequestAccounts asks the provider for account access (EIP-1102), which may prompt the user.
	RequestAccounts(ctx context.Context) ([]common.Address, error)
}
