/**
 * @description
 * Wallet provider abstraction. Each chain family has one concrete Provider,
 * selected at call time through a Registry instead of probing wallet objects
 * at runtime.
 *
 * @notes
 * - RequestAccounts and Send are the only calls that may wait on the user.
 * - Amounts crossing this boundary are atomic integer units.
 */
package wallet

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/rapidfund/settlement-service/internal/domain"
)

// ErrTransferNotFound is returned when a provider has no record of a settlement proof.
var ErrTransferNotFound = errors.New("transfer not found")

// Provider is the per-family wallet integration.
type Provider interface {
	Family() domain.ChainFamily
	// Detected is a local capability check. It never touches the network.
	Detected() bool
	RequestAccounts(ctx context.Context) ([]string, error)
	Accounts(ctx context.Context) ([]string, error)
	Send(ctx context.Context, req SendRequest) (string, error)
	Balance(ctx context.Context, owner string, asset domain.Asset) (*big.Int, error)
	LookupTransfer(ctx context.Context, proof string, asset domain.Asset) (*ObservedTransfer, error)
}

// SendRequest is a fully resolved transfer ready for signing.
type SendRequest struct {
	From   string
	To     string
	Asset  domain.Asset
	Atomic *big.Int
}

// ObservedTransfer is what a provider reports about a submitted transfer.
type ObservedTransfer struct {
	Proof   string
	From    string
	To      string
	Atomic  *big.Int
	Pending bool
}

// Registry maps a chain family to its provider.
type Registry struct {
	mu        sync.RWMutex
	providers map[domain.ChainFamily]Provider
}

// NewRegistry registers the given providers, later entries replacing earlier ones.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[domain.ChainFamily]Provider, len(providers))}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

func (r *Registry) Register(p Provider) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Family()] = p
}

func (r *Registry) Lookup(family domain.ChainFamily) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[family]
	return p, ok
}

// Families lists registered families in no particular order.
func (r *Registry) Families() []domain.ChainFamily {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ChainFamily, 0, len(r.providers))
	for family := range r.providers {
		out = append(out, family)
	}
	return out
}
