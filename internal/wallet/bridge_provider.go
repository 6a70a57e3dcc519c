package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/rapidfund/settlement-service/internal/domain"
	"github.com/rapidfund/settlement-service/pkg/walletbridge"
)

// BridgeProvider drives a wallet through the local wallet bridge.
type BridgeProvider struct {
	family domain.ChainFamily
	client *walletbridge.Client
}

func NewBridgeProvider(family domain.ChainFamily, client *walletbridge.Client) *BridgeProvider {
	return &BridgeProvider{family: family, client: client}
}

func (p *BridgeProvider) Family() domain.ChainFamily {
	return p.family
}

func (p *BridgeProvider) Detected() bool {
	return p.client != nil && p.client.BaseURL != ""
}

func (p *BridgeProvider) RequestAccounts(ctx context.Context) ([]string, error) {
	resp, err := p.client.Connect(ctx)
	if err != nil {
		return nil, mapBridgeError(err, domain.ErrProviderUnavailable)
	}
	return resp.Accounts, nil
}

func (p *BridgeProvider) Accounts(ctx context.Context) ([]string, error) {
	resp, err := p.client.Accounts(ctx)
	if err != nil {
		return nil, mapBridgeError(err, domain.ErrProviderUnavailable)
	}
	return resp.Accounts, nil
}

func (p *BridgeProvider) Send(ctx context.Context, req SendRequest) (string, error) {
	transfer := walletbridge.TransferRequest{
		From:   req.From,
		To:     req.To,
		Amount: req.Atomic.String(),
	}
	if !req.Asset.IsNative() {
		transfer.Mint = req.Asset.ContractAddress
	}
	resp, err := p.client.Transfer(ctx, transfer)
	if err != nil {
		return "", mapBridgeError(err, domain.ErrNetwork)
	}
	return resp.Signature, nil
}

func (p *BridgeProvider) Balance(ctx context.Context, owner string, asset domain.Asset) (*big.Int, error) {
	mint := ""
	if !asset.IsNative() {
		mint = asset.ContractAddress
	}
	resp, err := p.client.Balance(ctx, owner, mint)
	if err != nil {
		return nil, mapBridgeError(err, domain.ErrNetwork)
	}
	amount, ok := new(big.Int).SetString(resp.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("bridge returned malformed balance %q", resp.Amount)
	}
	return amount, nil
}

func (p *BridgeProvider) LookupTransfer(ctx context.Context, proof string, asset domain.Asset) (*ObservedTransfer, error) {
	resp, err := p.client.Transaction(ctx, proof)
	if err != nil {
		var apiErr *walletbridge.APIError
		if errors.As(err, &apiErr) && apiErr.Status == 404 {
			return nil, ErrTransferNotFound
		}
		return nil, mapBridgeError(err, domain.ErrNetwork)
	}
	if !resp.Found {
		return nil, ErrTransferNotFound
	}
	if resp.Failed() {
		return nil, fmt.Errorf("%w: transaction %s failed: %s", domain.ErrUnverifiedSettlement, proof, resp.Err)
	}
	if !asset.IsNative() && resp.Mint != asset.ContractAddress {
		return nil, fmt.Errorf("%w: transfer mint %q is not %s", domain.ErrUnverifiedSettlement, resp.Mint, asset.Symbol)
	}
	amount, ok := new(big.Int).SetString(resp.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("bridge returned malformed amount %q", resp.Amount)
	}
	return &ObservedTransfer{
		Proof:   proof,
		From:    resp.From,
		To:      resp.To,
		Atomic:  amount,
		Pending: !resp.Confirmed,
	}, nil
}

// mapBridgeError translates bridge codes; unreachable maps to transportKind.
func mapBridgeError(err error, transportKind error) error {
	if errors.Is(err, walletbridge.ErrTransport) {
		return fmt.Errorf("%w: %v", transportKind, err)
	}
	var apiErr *walletbridge.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case walletbridge.CodeUserRejected:
			return fmt.Errorf("%w: %s", domain.ErrUserRejected, apiErr.Message)
		case walletbridge.CodeInsufficientFunds:
			return fmt.Errorf("%w: %s", domain.ErrInsufficientFunds, apiErr.Message)
		case walletbridge.CodeNotConnected:
			return fmt.Errorf("%w: %s", domain.ErrSessionNotConnected, apiErr.Message)
		case walletbridge.CodeUnsupported:
			return fmt.Errorf("%w: %s", domain.ErrUnsupportedAsset, apiErr.Message)
		}
	}
	return err
}
