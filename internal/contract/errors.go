package contract

import (
	"context"
	"errors"
	"fmt"

	"celo-carmarket/internal/chain"
	"celo-carmarket/internal/observability"
)

// Failure reasons that callers may match on.
const (
	ReasonTimeout  = "timeout"
	ReasonReverted = "reverted"
	ReasonCanceled = "canceled"
)

// ErrReverted is wrapped when a mined transaction has status 0.
var ErrReverted = errors.New("transaction reverted")

// ChainCallError is returned by every gateway operation that fails on chain or in transport.
type ChainCallError struct {
	Op     string // gateway operation, e.g. "likeCar"
	Reason string // human readable failure reason
	Err    error
}

func (e *ChainCallError) Error() string {
	return fmt.Sprintf("chain call %s: %s", e.Op, e.Reason)
}

func (e *ChainCallError) Unwrap() error {
	return e.Err
}

// newCallError classifies err and counts it.
func newCallError(op string, err error) *ChainCallError {
	observability.RecordChainCallError(op)

	var rpcErr *chain.RPCError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &ChainCallError{Op: op, Reason: ReasonTimeout, Err: err}
	case errors.Is(err, context.Canceled):
		return &ChainCallError{Op: op, Reason: ReasonCanceled, Err: err}
	case errors.Is(err, ErrReverted):
		return &ChainCallError{Op: op, Reason: ReasonReverted, Err: err}
	case errors.As(err, &rpcErr):
		return &ChainCallError{Op: op, Reason: rpcErr.Message, Err: err}
	default:
		return &ChainCallError{Op: op, Reason: err.Error(), Err: err}
	}
}
