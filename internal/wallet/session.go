package wallet

import (
	"fmt"
	"sync"

	"github.com/rapidfund/settlement-service/internal/domain"
)

// SessionState is the connection lifecycle of a wallet session.
type SessionState string

const (
	StateDisconnected SessionState = "disconnected"
	StateConnecting   SessionState = "connecting"
	StateConnected    SessionState = "connected"
	StateFailed       SessionState = "failed"
)

// Session is an ephemeral connection to one wallet. It is not persisted and
// is not meant to be shared between callers.
type Session struct {
	mu       sync.RWMutex
	family   domain.ChainFamily
	provider Provider
	address  string
	state    SessionState
	err      error
}

func newSession(family domain.ChainFamily, provider Provider) *Session {
	return &Session{family: family, provider: provider, state: StateDisconnected}
}

func (s *Session) Family() domain.ChainFamily {
	return s.family
}

func (s *Session) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.address
}

func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err returns the error that moved the session to failed, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *Session) Connected() bool {
	return s.State() == StateConnected
}

// Provider returns the provider handle of a connected session.
func (s *Session) Provider() (Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateConnected || s.provider == nil {
		return nil, fmt.Errorf("%w: %s session is %s", domain.ErrSessionNotConnected, s.family, s.state)
	}
	return s.provider, nil
}

func (s *Session) beginConnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateConnecting
	s.err = nil
}

func (s *Session) connected(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.address = address
	s.state = StateConnected
}

func (s *Session) fail(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.address = ""
	s.state = StateFailed
	s.err = err
	return err
}

func (s *Session) disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.address = ""
	s.state = StateDisconnected
	s.err = nil
}
