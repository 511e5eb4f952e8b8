package stub

import (
	"context"
	"encoding/binary"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"celo-carmarket/internal/chain"
)

// ErrNoHandler is returned when eth_call hits a selector without a registered handler.
var ErrNoHandler = errors.New("no handler for selector")

// CallHandler answers eth_call for one 4-byte selector. args excludes the selector.
type CallHandler func(args []byte) ([]byte, error)

// SentTx is a transaction observed by the stub node.
type SentTx struct {
	Hash  common.Hash
	From  common.Address
	To    common.Address
	Data  []byte
	Nonce uint64
	Raw   bool // submitted with eth_sendRawTransaction
}

// Selector returns the hex selector of calldata, used as the Handlers key.
func Selector(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	return hexutil.Encode(data[:4])
}

// RPCClient implements chain.RPCClient for testing.
// Sent transactions are mined immediately into the next block unless OnSend says otherwise.
type RPCClient struct {
	mu sync.Mutex

	ChainIDValue *big.Int
	Height       uint64
	GasPriceWei  *big.Int
	GasLimit     uint64

	Balances    map[common.Address]*big.Int
	Nonces      map[common.Address]uint64
	AccountList []common.Address
	Handlers    map[string]CallHandler
	Receipts    map[common.Hash]*chain.Receipt

	// Errors injects a failure per JSON-RPC method name (e.g. "eth_call").
	Errors map[string]error

	// OnSend decides the fate of a sent transaction. Returning a nil receipt
	// leaves the transaction pending. Returning an error rejects the submission.
	OnSend func(tx SentTx) (*chain.Receipt, error)

	Sent []SentTx
}

// NewRPCClient creates a new stub RPC client on chain id 44787 (Celo Alfajores).
func NewRPCClient() *RPCClient {
	return &RPCClient{
		ChainIDValue: big.NewInt(44787),
		Height:       100,
		GasPriceWei:  big.NewInt(5_000_000_000),
		GasLimit:     300_000,
		Balances:     make(map[common.Address]*big.Int),
		Nonces:       make(map[common.Address]uint64),
		Handlers:     make(map[string]CallHandler),
		Receipts:     make(map[common.Hash]*chain.Receipt),
		Errors:       make(map[string]error),
	}
}

// Compile-time interface check.
var _ chain.RPCClient = (*RPCClient)(nil)

// Handle registers a handler for a 4-byte selector.
func (c *RPCClient) Handle(selector []byte, h CallHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Handlers[hexutil.Encode(selector)] = h
}

// Fail injects an error for a JSON-RPC method. A nil err clears it.
func (c *RPCClient) Fail(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.Errors, method)
		return
	}
	c.Errors[method] = err
}

// SentTxs returns a copy of the transactions observed so far.
func (c *RPCClient) SentTxs() []SentTx {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SentTx, len(c.Sent))
	copy(out, c.Sent)
	return out
}

// Mine advances the head by n blocks.
func (c *RPCClient) Mine(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Height += n
}

func (c *RPCClient) injected(method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Errors[method]
}

// ChainID returns the configured chain id.
func (c *RPCClient) ChainID(_ context.Context) (*big.Int, error) {
	if err := c.injected("eth_chainId"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(c.ChainIDValue), nil
}

// BlockNumber returns the stub head height.
func (c *RPCClient) BlockNumber(_ context.Context) (uint64, error) {
	if err := c.injected("eth_blockNumber"); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Height, nil
}

// CallContract dispatches to the handler registered for the calldata selector.
func (c *RPCClient) CallContract(_ context.Context, msg chain.CallMsg) ([]byte, error) {
	if err := c.injected("eth_call"); err != nil {
		return nil, err
	}

	c.mu.Lock()
	h, ok := c.Handlers[Selector(msg.Data)]
	c.mu.Unlock()

	if !ok {
		return nil, ErrNoHandler
	}
	return h(msg.Data[4:])
}

// BalanceAt returns the native balance of addr, zero if unknown.
func (c *RPCClient) BalanceAt(_ context.Context, addr common.Address) (*big.Int, error) {
	if err := c.injected("eth_getBalance"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.Balances[addr]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

// PendingNonceAt returns the next nonce for addr.
func (c *RPCClient) PendingNonceAt(_ context.Context, addr common.Address) (uint64, error) {
	if err := c.injected("eth_getTransactionCount"); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Nonces[addr], nil
}

// GasPrice returns the configured gas price.
func (c *RPCClient) GasPrice(_ context.Context) (*big.Int, error) {
	if err := c.injected("eth_gasPrice"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(c.GasPriceWei), nil
}

// EstimateGas returns the configured gas limit.
func (c *RPCClient) EstimateGas(_ context.Context, _ chain.CallMsg) (uint64, error) {
	if err := c.injected("eth_estimateGas"); err != nil {
		return 0, err
	}
	return c.GasLimit, nil
}

// SendRawTransaction decodes and records a signed transaction.
func (c *RPCClient) SendRawTransaction(_ context.Context, raw []byte) (common.Hash, error) {
	if err := c.injected("eth_sendRawTransaction"); err != nil {
		return common.Hash{}, err
	}

	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, err
	}
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), &tx)
	if err != nil {
		return common.Hash{}, err
	}

	sent := SentTx{
		Hash:  tx.Hash(),
		From:  from,
		Data:  tx.Data(),
		Nonce: tx.Nonce(),
		Raw:   true,
	}
	if tx.To() != nil {
		sent.To = *tx.To()
	}
	return c.accept(sent)
}

// SendTransaction records a node-signed transaction.
func (c *RPCClient) SendTransaction(_ context.Context, msg chain.CallMsg) (common.Hash, error) {
	if err := c.injected("eth_sendTransaction"); err != nil {
		return common.Hash{}, err
	}

	sent := SentTx{Data: msg.Data}
	if msg.From != nil {
		sent.From = *msg.From
	}
	if msg.To != nil {
		sent.To = *msg.To
	}

	c.mu.Lock()
	sent.Nonce = c.Nonces[sent.From]
	c.mu.Unlock()

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], sent.Nonce)
	sent.Hash = crypto.Keccak256Hash(sent.From.Bytes(), buf[:], sent.Data)

	return c.accept(sent)
}

// accept applies OnSend, records the transaction and bumps the sender nonce.
func (c *RPCClient) accept(sent SentTx) (common.Hash, error) {
	c.mu.Lock()
	onSend := c.OnSend
	c.mu.Unlock()

	var receipt *chain.Receipt
	if onSend != nil {
		r, err := onSend(sent)
		if err != nil {
			return common.Hash{}, err
		}
		receipt = r
	} else {
		receipt = &chain.Receipt{Status: 1}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.Sent = append(c.Sent, sent)
	c.Nonces[sent.From] = sent.Nonce + 1

	if receipt != nil {
		c.Height++
		r := *receipt
		r.TxHash = sent.Hash
		if r.BlockNumber == 0 {
			r.BlockNumber = c.Height
		}
		c.Receipts[sent.Hash] = &r
	}

	return sent.Hash, nil
}

// TransactionReceipt returns the stored receipt, nil while pending.
func (c *RPCClient) TransactionReceipt(_ context.Context, hash common.Hash) (*chain.Receipt, error) {
	if err := c.injected("eth_getTransactionReceipt"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.Receipts[hash]
	if !ok {
		return nil, nil
	}
	out := *r
	return &out, nil
}

// Accounts returns AccountList.
func (c *RPCClient) Accounts(_ context.Context) ([]common.Address, error) {
	if err := c.injected("eth_accounts"); err != nil {
		return nil, err
	}
	return c.AccountList, nil
}

// RequestAccounts returns AccountList unless an eth_requestAccounts error is injected.
func (c *RPCClient) RequestAccounts(_ context.Context) ([]common.Address, error) {
	if err := c.injected("eth_requestAccounts"); err != nil {
		return nil, err
	}
	return c.AccountList, nil
}

// SetReceipt stores a receipt for hash, used to complete pending transactions.
func (c *RPCClient) SetReceipt(hash common.Hash, r *chain.Receipt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := *r
	out.TxHash = hash
	c.Receipts[hash] = &out
}
