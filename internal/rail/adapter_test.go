package rail_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/rapidfund/settlement-service/internal/domain"
	"github.com/rapidfund/settlement-service/internal/rail"
	"github.com/rapidfund/settlement-service/internal/wallet"
	"github.com/rapidfund/settlement-service/internal/wallet/wallettest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	donor    = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	treasury = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
)

func connected(t *testing.T, p *wallettest.Provider) *wallet.Session {
	t.Helper()
	session, err := wallet.NewManager(wallet.NewRegistry(p)).Connect(context.Background(), p.Chain)
	require.NoError(t, err)
	return session
}

func TestTransferNative(t *testing.T) {
	p := wallettest.New(domain.ChainEVM, donor)
	session := connected(t, p)

	receipt, err := rail.NewAdapter(nil).Transfer(context.Background(), domain.ChainEVM, "eth", "0.5", treasury, session)
	require.NoError(t, err)
	require.NotEmpty(t, receipt.SettlementProof)
	require.Equal(t, "ETH", receipt.Asset)
	require.Equal(t, "500000000000000000", receipt.Atomic)
	require.True(t, receipt.Amount.Equal(decimal.RequireFromString("0.5")))

	require.Len(t, p.Sent, 1)
	require.Equal(t, donor, p.Sent[0].From)
	require.Equal(t, domain.AssetNative, p.Sent[0].Asset.Kind)
}

func TestTransferToken(t *testing.T) {
	p := wallettest.New(domain.ChainEVM, donor)
	session := connected(t, p)

	receipt, err := rail.NewAdapter(nil).Transfer(context.Background(), domain.ChainEVM, "USDC", "12.34", treasury, session)
	require.NoError(t, err)
	require.Equal(t, "12340000", receipt.Atomic)
	require.Equal(t, domain.AssetToken, p.Sent[0].Asset.Kind)
	require.NotEmpty(t, p.Sent[0].Asset.ContractAddress)
}

func TestTransferValidatesBeforeNetwork(t *testing.T) {
	cases := []struct {
		name    string
		family  domain.ChainFamily
		symbol  string
		amount  string
		dest    string
		wantErr error
	}{
		{"non-numeric", domain.ChainEVM, "ETH", "abc", treasury, domain.ErrInvalidAmount},
		{"zero", domain.ChainEVM, "ETH", "0", treasury, domain.ErrInvalidAmount},
		{"negative", domain.ChainEVM, "ETH", "-1", treasury, domain.ErrInvalidAmount},
		{"too precise", domain.ChainEVM, "USDC", "1.0000001", treasury, domain.ErrInvalidAmount},
		{"unknown asset", domain.ChainEVM, "DOGE", "1", treasury, domain.ErrUnsupportedAsset},
		{"wrong family", domain.ChainEVM, "SOL", "1", treasury, domain.ErrUnsupportedAsset},
		{"bad destination", domain.ChainEVM, "ETH", "1", "0x1234", domain.ErrInvalidDestination},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := wallettest.New(domain.ChainEVM, donor)
			session := connected(t, p)

			_, err := rail.NewAdapter(nil).Transfer(context.Background(), tc.family, tc.symbol, tc.amount, tc.dest, session)
			require.True(t, errors.Is(err, tc.wantErr), "got %v", err)
			require.Zero(t, p.BalanceCalls)
			require.Zero(t, p.SentCount())
		})
	}
}

func TestTransferRequiresConnectedSession(t *testing.T) {
	p := wallettest.New(domain.ChainEVM, donor)
	m := wallet.NewManager(wallet.NewRegistry(p))
	session, err := m.Connect(context.Background(), domain.ChainEVM)
	require.NoError(t, err)
	m.Disconnect(session)

	adapter := rail.NewAdapter(nil)
	_, err = adapter.Transfer(context.Background(), domain.ChainEVM, "ETH", "1", treasury, session)
	require.True(t, errors.Is(err, domain.ErrSessionNotConnected))

	_, err = adapter.Transfer(context.Background(), domain.ChainEVM, "ETH", "1", treasury, nil)
	require.True(t, errors.Is(err, domain.ErrSessionNotConnected))
	require.Zero(t, p.SentCount())
}

func TestTransferInsufficientFunds(t *testing.T) {
	p := wallettest.New(domain.ChainEVM, donor)
	p.Balances["USDC"] = big.NewInt(999_999)
	session := connected(t, p)

	_, err := rail.NewAdapter(nil).Transfer(context.Background(), domain.ChainEVM, "USDC", "1", treasury, session)
	require.True(t, errors.Is(err, domain.ErrInsufficientFunds))
	require.Zero(t, p.SentCount())
}

func TestTransferPropagatesProviderErrorsWithoutRetry(t *testing.T) {
	for _, sendErr := range []error{domain.ErrUserRejected, domain.ErrNetwork} {
		p := wallettest.New(domain.ChainEVM, donor)
		p.SendErr = sendErr
		session := connected(t, p)

		_, err := rail.NewAdapter(nil).Transfer(context.Background(), domain.ChainEVM, "ETH", "1", treasury, session)
		require.True(t, errors.Is(err, sendErr))
		require.Equal(t, 1, p.BalanceCalls)
	}
}

func TestAtomicConversion(t *testing.T) {
	atomic, err := rail.ToAtomic(decimal.RequireFromString("1.000000000000000001"), 18)
	require.NoError(t, err)
	require.Equal(t, "1000000000000000001", atomic.String())

	atomic, err = rail.ToAtomic(decimal.RequireFromString("0.10"), 6)
	require.NoError(t, err)
	require.Equal(t, "100000", atomic.String())

	_, err = rail.ToAtomic(decimal.RequireFromString("1e80"), 0)
	require.True(t, errors.Is(err, domain.ErrInvalidAmount))

	require.True(t, rail.FromAtomic(big.NewInt(1_500_000), 6).Equal(decimal.RequireFromString("1.5")))
}
