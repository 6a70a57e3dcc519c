package wallet

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/rapidfund/settlement-service/internal/domain"
)

// Manager detects and connects wallet providers.
type Manager struct {
	registry *Registry
}

func NewManager(registry *Registry) *Manager {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Manager{registry: registry}
}

// DetectProvider reports whether a usable provider exists for family.
func (m *Manager) DetectProvider(family domain.ChainFamily) bool {
	p, ok := m.registry.Lookup(family)
	return ok && p.Detected()
}

// Connect requests account access and returns a connected session. The call
// waits for the user's answer in the wallet; cancel ctx to abandon it. When the
// wallet refuses, the returned session is in StateFailed and carries the error.
func (m *Manager) Connect(ctx context.Context, family domain.ChainFamily) (*Session, error) {
	p, ok := m.registry.Lookup(family)
	if !ok || !p.Detected() {
		return nil, fmt.Errorf("%w: no %s wallet detected", domain.ErrProviderUnavailable, family)
	}

	session := newSession(family, p)
	session.beginConnect()

	accounts, err := p.RequestAccounts(ctx)
	if err != nil {
		log.Printf("level=warn component=wallet op=connect family=%s err=%v", family, err)
		return session, session.fail(err)
	}
	address := firstAccount(accounts)
	if address == "" {
		return session, session.fail(fmt.Errorf("%w: %s wallet", domain.ErrNoAccounts, family))
	}

	session.connected(address)
	log.Printf("level=info component=wallet op=connect family=%s address=%s", family, address)
	return session, nil
}

// GetConnectedAddress returns an already-authorized address without prompting.
func (m *Manager) GetConnectedAddress(ctx context.Context, family domain.ChainFamily) (string, bool) {
	p, ok := m.registry.Lookup(family)
	if !ok || !p.Detected() {
		return "", false
	}
	accounts, err := p.Accounts(ctx)
	if err != nil {
		log.Printf("level=warn component=wallet op=get_connected_address family=%s err=%v", family, err)
		return "", false
	}
	address := firstAccount(accounts)
	return address, address != ""
}

// Restore rebuilds a connected session from existing authorization, if any.
func (m *Manager) Restore(ctx context.Context, family domain.ChainFamily) (*Session, bool) {
	address, ok := m.GetConnectedAddress(ctx, family)
	if !ok {
		return nil, false
	}
	p, _ := m.registry.Lookup(family)
	session := newSession(family, p)
	session.connected(address)
	return session, true
}

// Disconnect drops the local session. Provider-side permissions are left alone.
func (m *Manager) Disconnect(session *Session) {
	if session == nil {
		return
	}
	session.disconnect()
}

func firstAccount(accounts []string) string {
	for _, a := range accounts {
		if a = strings.TrimSpace(a); a != "" {
			return a
		}
	}
	return ""
}
