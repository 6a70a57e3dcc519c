/**
 * @description
 * The payment rail adapter executes a value transfer from a connected wallet
 * session and returns the settlement proof once the transfer is submitted.
 * It does not wait for finality and never retries.
 *
 * @notes
 * - Every validation (asset, amount precision, session, destination) runs
 *   before the provider is contacted.
 * - A NetworkError from Transfer means nothing was submitted.
 */
package rail

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/rapidfund/settlement-service/internal/assets"
	"github.com/rapidfund/settlement-service/internal/domain"
	"github.com/rapidfund/settlement-service/internal/wallet"
	"github.com/shopspring/decimal"
)

// Receipt is returned for a submitted transfer.
type Receipt struct {
	Family          domain.ChainFamily `json:"chain_family"`
	Asset           string             `json:"token_type"`
	Amount          decimal.Decimal    `json:"amount"`
	Atomic          string             `json:"atomic_amount"`
	From            string             `json:"from"`
	To              string             `json:"to"`
	SettlementProof string             `json:"settlement_proof"`
	SubmittedAt     time.Time          `json:"submitted_at"`
}

// variant builds the provider request for one asset kind.
type variant interface {
	build(asset domain.Asset, from, to string, atomic *big.Int) (wallet.SendRequest, error)
}

type nativeTransfer struct{}

func (nativeTransfer) build(asset domain.Asset, from, to string, atomic *big.Int) (wallet.SendRequest, error) {
	return wallet.SendRequest{From: from, To: to, Asset: asset, Atomic: atomic}, nil
}

type tokenTransfer struct{}

func (tokenTransfer) build(asset domain.Asset, from, to string, atomic *big.Int) (wallet.SendRequest, error) {
	if strings.TrimSpace(asset.ContractAddress) == "" {
		return wallet.SendRequest{}, fmt.Errorf("%w: %s has no contract address", domain.ErrUnsupportedAsset, asset.Symbol)
	}
	return wallet.SendRequest{From: from, To: to, Asset: asset, Atomic: atomic}, nil
}

func variantFor(asset domain.Asset) (variant, error) {
	switch asset.Kind {
	case domain.AssetNative:
		return nativeTransfer{}, nil
	case domain.AssetToken:
		return tokenTransfer{}, nil
	}
	return nil, fmt.Errorf("%w: %s has unknown kind %q", domain.ErrUnsupportedAsset, asset.Symbol, asset.Kind)
}

// Adapter executes transfers against the supported-asset table.
type Adapter struct {
	assets *assets.Table
	now    func() time.Time
}

func NewAdapter(table *assets.Table) *Adapter {
	if table == nil {
		table = assets.Default()
	}
	return &Adapter{assets: table, now: time.Now}
}

// Transfer sends amount of symbol to destination from the session's wallet.
func (a *Adapter) Transfer(ctx context.Context, family domain.ChainFamily, symbol, amount, destination string, session *wallet.Session) (*Receipt, error) {
	asset, err := a.assets.Lookup(family, symbol)
	if err != nil {
		return nil, err
	}
	human, err := ParseAmount(amount)
	if err != nil {
		return nil, err
	}
	atomic, err := ToAtomic(human, asset.Decimals)
	if err != nil {
		return nil, err
	}
	if session == nil || session.Family() != family {
		return nil, fmt.Errorf("%w: no %s session", domain.ErrSessionNotConnected, family)
	}
	provider, err := session.Provider()
	if err != nil {
		return nil, err
	}
	destination = strings.TrimSpace(destination)
	if err := wallet.ValidateAddress(family, destination); err != nil {
		return nil, err
	}

	v, err := variantFor(asset)
	if err != nil {
		return nil, err
	}
	from := session.Address()
	req, err := v.build(asset, from, destination, atomic)
	if err != nil {
		return nil, err
	}

	balance, err := provider.Balance(ctx, from, asset)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(atomic) < 0 {
		return nil, fmt.Errorf("%w: balance %s %s is below %s", domain.ErrInsufficientFunds, FromAtomic(balance, asset.Decimals).String(), asset.Symbol, human.String())
	}

	proof, err := provider.Send(ctx, req)
	if err != nil {
		log.Printf("level=warn component=rail op=transfer family=%s asset=%s from=%s err=%v", family, asset.Symbol, from, err)
		return nil, err
	}
	proof = strings.TrimSpace(proof)
	if proof == "" {
		return nil, fmt.Errorf("provider returned an empty settlement proof")
	}

	log.Printf("level=info component=rail op=transfer family=%s asset=%s amount=%s from=%s to=%s proof=%s", family, asset.Symbol, human.String(), from, destination, proof)
	return &Receipt{
		Family:          family,
		Asset:           asset.Symbol,
		Amount:          human,
		Atomic:          atomic.String(),
		From:            from,
		To:              destination,
		SettlementProof: proof,
		SubmittedAt:     a.now().UTC(),
	}, nil
}
