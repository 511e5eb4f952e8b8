// Package session owns the wallet connection and the signing identity.
package session

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Handle signs and submits transactions for one identity.
type Handle interface {
	Address() common.Address
	Send(ctx context.Context, to common.Address, data []byte) (common.Hash, error)
}

// Provider obtains consent for an identity. Connect may prompt the user.
type Provider interface {
	Name() string
	Connect(ctx context.Context) (Handle, error)
}

// Session is the result of a successful connect.
type Session struct {
	Identity common.Address
	Handle   Handle
}

// ChainSession holds at most one live Session.
type ChainSession struct {
	provider Provider
	logger   *log.Logger

	mu      sync.RWMutex
	current *Session
}

// New creates a ChainSession. A nil provider makes every Connect fail with ErrNoProvider.
func New(provider Provider, logger *log.Logger) *ChainSession {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &ChainSession{provider: provider, logger: logger}
}

// Connect requests account access from the provider. It never retries.
// On failure any previous session is kept.
func (s *ChainSession) Connect(ctx context.Context) (*Session, error) {
	if s.provider == nil {
		return nil, ErrNoProvider
	}

	h, err := s.provider.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", s.provider.Name(), err)
	}

	sess := &Session{Identity: h.Address(), Handle: h}

	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()

	s.logger.Printf("[session] connected %s via %s", sess.Identity.Hex(), s.provider.Name())
	return sess, nil
}

// Current returns the live session, if any.
func (s *ChainSession) Current() (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.current != nil
}

// Disconnect drops the identity and handle.
func (s *ChainSession) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
}
