package assets

import (
	"errors"
	"testing"

	"github.com/rapidfund/settlement-service/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestDefaultTableCarriesOriginalAssets(t *testing.T) {
	table := Default()

	eth, err := table.Lookup(domain.ChainEVM, "eth")
	require.NoError(t, err)
	require.Equal(t, int32(18), eth.Decimals)
	require.True(t, eth.IsNative())

	usdc, err := table.Lookup(domain.ChainEVM, "USDC")
	require.NoError(t, err)
	require.Equal(t, int32(6), usdc.Decimals)
	require.Equal(t, domain.AssetToken, usdc.Kind)
	require.NotEmpty(t, usdc.ContractAddress)

	sol, err := table.Lookup(domain.ChainSolana, "SOL")
	require.NoError(t, err)
	require.Equal(t, int32(9), sol.Decimals)
}

func TestLookupRejectsWrongFamily(t *testing.T) {
	_, err := Default().Lookup(domain.ChainSolana, "USDC")
	require.True(t, errors.Is(err, domain.ErrUnsupportedAsset))

	_, err = Default().BySymbol("DOGE")
	require.True(t, errors.Is(err, domain.ErrUnsupportedAsset))
}

func TestParseValidatesRows(t *testing.T) {
	cases := map[string]string{
		"empty":                  "assets: []",
		"unknown family":         "assets:\n  - {symbol: X, family: cosmos, kind: native, decimals: 6}",
		"token without contract": "assets:\n  - {symbol: X, family: evm, kind: token, decimals: 6}",
		"duplicate": "assets:\n  - {symbol: X, family: evm, kind: native, decimals: 6}\n" +
			"  - {symbol: x, family: evm, kind: native, decimals: 6}",
		"decimals": "assets:\n  - {symbol: X, family: evm, kind: native, decimals: 99}",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			require.Error(t, err)
		})
	}
}

func TestFamilyOrdering(t *testing.T) {
	evm := Default().Family(domain.ChainEVM)
	require.Len(t, evm, 3)
	require.Equal(t, "ETH", evm[0].Symbol)
	require.Equal(t, "USDC", evm[1].Symbol)
	require.Equal(t, "USDT", evm[2].Symbol)
}
