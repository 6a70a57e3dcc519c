// Package wallettest provides an in-memory wallet.Provider for tests.
package wallettest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/rapidfund/settlement-service/internal/domain"
	"github.com/rapidfund/settlement-service/internal/wallet"
)

// Provider records every call and answers from its fields.
type Provider struct {
	mu sync.Mutex

	Chain       domain.ChainFamily
	Available   bool
	AccountList []string
	ConnectErr  error
	SendErr     error
	BalanceErr  error
	// Balances is keyed by asset symbol; a missing entry means unlimited funds.
	Balances  map[string]*big.Int
	Transfers map[string]*wallet.ObservedTransfer

	Sent          []wallet.SendRequest
	ConnectCalls  int
	AccountsCalls int
	BalanceCalls  int
}

// New returns a detected provider exposing one account.
func New(family domain.ChainFamily, account string) *Provider {
	return &Provider{
		Chain:       family,
		Available:   true,
		AccountList: []string{account},
		Balances:    map[string]*big.Int{},
		Transfers:   map[string]*wallet.ObservedTransfer{},
	}
}

func (p *Provider) Family() domain.ChainFamily { return p.Chain }

func (p *Provider) Detected() bool { return p.Available }

func (p *Provider) RequestAccounts(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls++
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	return append([]string(nil), p.AccountList...), nil
}

func (p *Provider) Accounts(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.AccountsCalls++
	return append([]string(nil), p.AccountList...), nil
}

func (p *Provider) Send(ctx context.Context, req wallet.SendRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SendErr != nil {
		return "", p.SendErr
	}
	p.Sent = append(p.Sent, req)
	proof := fmt.Sprintf("0x%064x", len(p.Sent))
	p.Transfers[proof] = &wallet.ObservedTransfer{
		Proof:  proof,
		From:   req.From,
		To:     req.To,
		Atomic: new(big.Int).Set(req.Atomic),
	}
	return proof, nil
}

func (p *Provider) Balance(ctx context.Context, owner string, asset domain.Asset) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.BalanceCalls++
	if p.BalanceErr != nil {
		return nil, p.BalanceErr
	}
	if b, ok := p.Balances[asset.Symbol]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int).Lsh(big.NewInt(1), 200), nil
}

func (p *Provider) LookupTransfer(ctx context.Context, proof string, asset domain.Asset) (*wallet.ObservedTransfer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.Transfers[proof]
	if !ok {
		return nil, wallet.ErrTransferNotFound
	}
	copied := *t
	return &copied, nil
}

// SentCount returns the number of successful Send calls.
func (p *Provider) SentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Sent)
}
