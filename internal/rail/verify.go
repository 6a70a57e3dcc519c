package rail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rapidfund/settlement-service/internal/assets"
	"github.com/rapidfund/settlement-service/internal/domain"
	"github.com/rapidfund/settlement-service/internal/wallet"
	"github.com/shopspring/decimal"
)

// Claim is a transfer someone says they made. Verify checks it against the chain.
type Claim struct {
	Family      domain.ChainFamily
	Asset       string
	Amount      decimal.Decimal
	Proof       string
	Destination string
}

// Verifier reads submitted transfers back through the read-only provider calls.
type Verifier struct {
	registry *wallet.Registry
	assets   *assets.Table
}

func NewVerifier(registry *wallet.Registry, table *assets.Table) *Verifier {
	if table == nil {
		table = assets.Default()
	}
	return &Verifier{registry: registry, assets: table}
}

// Verify confirms that proof moved exactly Amount of Asset to Destination.
// Pending transfers are accepted; finality is not awaited.
func (v *Verifier) Verify(ctx context.Context, claim Claim) (*wallet.ObservedTransfer, error) {
	asset, err := v.assets.Lookup(claim.Family, claim.Asset)
	if err != nil {
		return nil, err
	}
	expected, err := ToAtomic(claim.Amount, asset.Decimals)
	if err != nil {
		return nil, err
	}
	provider, ok := v.registry.Lookup(claim.Family)
	if !ok || !provider.Detected() {
		return nil, fmt.Errorf("%w: cannot verify %s transfers", domain.ErrProviderUnavailable, claim.Family)
	}

	observed, err := provider.LookupTransfer(ctx, strings.TrimSpace(claim.Proof), asset)
	if errors.Is(err, wallet.ErrTransferNotFound) {
		return nil, fmt.Errorf("%w: %s not found on %s", domain.ErrUnverifiedSettlement, claim.Proof, claim.Family)
	}
	if err != nil {
		return nil, err
	}
	if !wallet.SameAddress(claim.Family, observed.To, claim.Destination) {
		return nil, fmt.Errorf("%w: recipient %s is not %s", domain.ErrUnverifiedSettlement, observed.To, claim.Destination)
	}
	if observed.Atomic == nil || observed.Atomic.Cmp(expected) != 0 {
		return nil, fmt.Errorf("%w: transferred amount does not match %s %s", domain.ErrUnverifiedSettlement, claim.Amount.String(), asset.Symbol)
	}
	return observed, nil
}
