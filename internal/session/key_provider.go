package session

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"celo-carmarket/internal/chain"
)

// gasHeadroomPct is added on top of eth_estimateGas.
const gasHeadroomPct = 20

// PassphraseFunc prompts for a keystore passphrase. Returning an error means the user declined.
type PassphraseFunc func() (string, error)

// KeyProvider signs locally with a secp256k1 key and submits raw transactions.
type KeyProvider struct {
	rpc chain.RPCClient

	// HexKey is a hex private key, with or without 0x. It takes precedence over KeystoreJSON.
	HexKey string

	// KeystoreJSON is an encrypted key file unlocked with Passphrase.
	KeystoreJSON []byte
	Passphrase   PassphraseFunc
}

// NewKeyProvider creates a provider for locally held keys.
func NewKeyProvider(rpc chain.RPCClient) *KeyProvider {
	return &KeyProvider{rpc: rpc}
}

// Name identifies the provider in logs.
func (p *KeyProvider) Name() string {
	return "key"
}

// Connect unlocks the key and binds it to the node's chain id.
func (p *KeyProvider) Connect(ctx context.Context) (Handle, error) {
	key, err := p.unlock()
	if err != nil {
		return nil, err
	}

	chainID, err := p.rpc.ChainID(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: chain id: %v", ErrNoProvider, err)
	}

	return &keyHandle{
		rpc:    p.rpc,
		key:    key,
		addr:   crypto.PubkeyToAddress(key.PublicKey),
		signer: types.LatestSignerForChainID(chainID),
	}, nil
}

func (p *KeyProvider) unlock() (*ecdsa.PrivateKey, error) {
	switch {
	case p.HexKey != "":
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(p.HexKey), "0x"))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid private key: %v", ErrNoProvider, err)
		}
		return key, nil

	case len(p.KeystoreJSON) > 0:
		if p.Passphrase == nil {
			return nil, fmt.Errorf("%w: keystore requires a passphrase prompt", ErrNoProvider)
		}
		pass, err := p.Passphrase()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUserRejected, err)
		}
		k, err := keystore.DecryptKey(p.KeystoreJSON, pass)
		if err != nil {
			if errors.Is(err, keystore.ErrDecrypt) {
				return nil, fmt.Errorf("%w: %v", ErrUserRejected, err)
			}
			return nil, fmt.Errorf("%w: keystore: %v", ErrNoProvider, err)
		}
		return k.PrivateKey, nil

	default:
		return nil, fmt.Errorf("%w: no private key or keystore configured", ErrNoProvider)
	}
}

type keyHandle struct {
	rpc    chain.RPCClient
	key    *ecdsa.PrivateKey
	addr   common.Address
	signer types.Signer

	// mu serializes nonce allocation
	mu sync.Mutex
}

func (h *keyHandle) Address() common.Address {
	return h.addr
}

func (h *keyHandle) Send(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	nonce, err := h.rpc.PendingNonceAt(ctx, h.addr)
	if err != nil {
		return common.Hash{}, fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := h.rpc.GasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("gas price: %w", err)
	}
	from := h.addr
	gas, err := h.rpc.EstimateGas(ctx, chain.CallMsg{From: &from, To: &to, Data: data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}
	gas += gas * gasHeadroomPct / 100

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    new(big.Int),
		Data:     data,
	})

	signed, err := types.SignTx(tx, h.signer, h.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode: %w", err)
	}

	return h.rpc.SendRawTransaction(ctx, raw)
}
