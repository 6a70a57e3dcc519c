package rail

import (
	"fmt"
	"math/big"
	"net/url"

	"github.com/rapidfund/settlement-service/internal/domain"
	"github.com/shopspring/decimal"
)

// PaymentURI builds the wallet deep link for a donation: EIP-681 on the EVM family
// and a Solana Pay transfer request on Solana. A zero amount leaves the amount for
// the donor to fill in.
func PaymentURI(asset domain.Asset, destination string, amount decimal.Decimal, label string) (string, error) {
	if amount.IsNegative() {
		return "", fmt.Errorf("%w: amount must not be negative", domain.ErrInvalidAmount)
	}
	atomic := new(big.Int)
	if amount.IsPositive() {
		var err error
		if atomic, err = ToAtomic(amount, asset.Decimals); err != nil {
			return "", err
		}
	}

	switch asset.Family {
	case domain.ChainEVM:
		if asset.IsNative() {
			uri := "ethereum:" + destination
			if atomic.Sign() > 0 {
				uri += "?value=" + atomic.String()
			}
			return uri, nil
		}
		q := url.Values{}
		q.Set("address", destination)
		if atomic.Sign() > 0 {
			q.Set("uint256", atomic.String())
		}
		return "ethereum:" + asset.ContractAddress + "/transfer?" + q.Encode(), nil
	case domain.ChainSolana:
		q := url.Values{}
		if amount.IsPositive() {
			q.Set("amount", amount.String())
		}
		if label != "" {
			q.Set("label", label)
		}
		uri := "solana:" + destination
		if encoded := q.Encode(); encoded != "" {
			uri += "?" + encoded
		}
		return uri, nil
	default:
		return "", fmt.Errorf("%w: no payment uri scheme for %s", domain.ErrUnsupportedAsset, asset.Family)
	}
}
