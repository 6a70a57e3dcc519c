package rail_test

import (
	"testing"

	"github.com/rapidfund/settlement-service/internal/assets"
	"github.com/rapidfund/settlement-service/internal/domain"
	"github.com/rapidfund/settlement-service/internal/rail"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestPaymentURI(t *testing.T) {
	table := assets.Default()
	lookup := func(family domain.ChainFamily, symbol string) domain.Asset {
		asset, err := table.Lookup(family, symbol)
		require.NoError(t, err)
		return asset
	}
	const solTreasury = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

	tests := []struct {
		name   string
		asset  domain.Asset
		to     string
		amount string
		want   string
	}{
		{"native eth", lookup(domain.ChainEVM, "ETH"), treasury, "0.5", "ethereum:" + treasury + "?value=500000000000000000"},
		{"open amount", lookup(domain.ChainEVM, "ETH"), treasury, "0", "ethereum:" + treasury},
		{"erc20", lookup(domain.ChainEVM, "USDC"), treasury, "25", "ethereum:0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48/transfer?address=" + treasury + "&uint256=25000000"},
		{"solana pay", lookup(domain.ChainSolana, "SOL"), solTreasury, "1.25", "solana:" + solTreasury + "?amount=1.25&label=Clean+water"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rail.PaymentURI(tt.asset, tt.to, decimal.RequireFromString(tt.amount), "Clean water")
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	_, err := rail.PaymentURI(lookup(domain.ChainEVM, "USDC"), treasury, decimal.RequireFromString("0.0000001"), "")
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = rail.PaymentURI(lookup(domain.ChainEVM, "ETH"), treasury, decimal.RequireFromString("-1"), "")
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}
