package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Block tags accepted by read methods.
const (
	BlockLatest  = "latest"
	BlockPending = "pending"
)

// CallMsg describes a contract call or an unsigned transaction.
type CallMsg struct {
	From  *common.Address
	To    *common.Address
	Data  []byte
	Value *big.Int
	Gas   uint64
}

// Receipt is the subset of a transaction receipt the client acts on.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	Status      uint64 // 1 success, 0 reverted
	GasUsed     uint64
}

// Succeeded reports whether the transaction executed without revert.
func (r *Receipt) Succeeded() bool {
	return r.Status == 1
}

// Header is a new chain head delivered by a newHeads subscription.
type Header struct {
	Number uint64
	Hash   common.Hash
}
