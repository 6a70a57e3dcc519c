package rail

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/rapidfund/settlement-service/internal/domain"
	"github.com/shopspring/decimal"
)

const maxAtomicBits = 256

// ParseAmount parses a human-readable decimal amount. It must be positive.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%w: amount is required", domain.ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", domain.ErrInvalidAmount, raw)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: amount must be greater than zero", domain.ErrInvalidAmount)
	}
	return d, nil
}

// ToAtomic converts a human-readable amount into integer base units.
func ToAtomic(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be greater than zero", domain.ErrInvalidAmount)
	}
	shifted := amount.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("%w: %s has more than %d decimal places", domain.ErrInvalidAmount, amount.String(), decimals)
	}
	atomic := shifted.BigInt()
	if atomic.BitLen() > maxAtomicBits {
		return nil, fmt.Errorf("%w: %s overflows the asset's integer range", domain.ErrInvalidAmount, amount.String())
	}
	return atomic, nil
}

// FromAtomic converts base units back into the human-readable amount.
func FromAtomic(atomic *big.Int, decimals int32) decimal.Decimal {
	if atomic == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(atomic, -decimals)
}
