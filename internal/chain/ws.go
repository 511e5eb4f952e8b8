package chain

import "context"

// HeadSubscriber defines the EVM WebSocket new-head subscription interface.
type HeadSubscriber interface {
	// SubscribeNewHeads delivers every new chain head observed by the node.
	SubscribeNewHeads(ctx context.Context) (<-chan Header, error)

	// Close closes the WebSocket connection.
	Close() error
}
