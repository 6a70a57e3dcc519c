package wallet_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rapidfund/settlement-service/internal/domain"
	"github.com/rapidfund/settlement-service/internal/wallet"
	"github.com/rapidfund/settlement-service/internal/wallet/wallettest"
	"github.com/stretchr/testify/require"
)

const donor = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"

func TestConnectHappyPath(t *testing.T) {
	p := wallettest.New(domain.ChainEVM, donor)
	m := wallet.NewManager(wallet.NewRegistry(p))

	require.True(t, m.DetectProvider(domain.ChainEVM))
	require.False(t, m.DetectProvider(domain.ChainSolana))

	session, err := m.Connect(context.Background(), domain.ChainEVM)
	require.NoError(t, err)
	require.Equal(t, wallet.StateConnected, session.State())
	require.Equal(t, donor, session.Address())

	handle, err := session.Provider()
	require.NoError(t, err)
	require.Equal(t, domain.ChainEVM, handle.Family())

	m.Disconnect(session)
	require.Equal(t, wallet.StateDisconnected, session.State())
	_, err = session.Provider()
	require.True(t, errors.Is(err, domain.ErrSessionNotConnected))
}

func TestConnectFailures(t *testing.T) {
	t.Run("not detected", func(t *testing.T) {
		p := wallettest.New(domain.ChainEVM, donor)
		p.Available = false
		m := wallet.NewManager(wallet.NewRegistry(p))

		session, err := m.Connect(context.Background(), domain.ChainEVM)
		require.True(t, errors.Is(err, domain.ErrProviderUnavailable))
		require.Nil(t, session)
		require.Zero(t, p.ConnectCalls)
	})

	t.Run("unregistered family", func(t *testing.T) {
		m := wallet.NewManager(nil)
		_, err := m.Connect(context.Background(), domain.ChainSolana)
		require.True(t, errors.Is(err, domain.ErrProviderUnavailable))
	})

	t.Run("user rejected", func(t *testing.T) {
		p := wallettest.New(domain.ChainEVM, donor)
		p.ConnectErr = domain.ErrUserRejected
		m := wallet.NewManager(wallet.NewRegistry(p))

		session, err := m.Connect(context.Background(), domain.ChainEVM)
		require.True(t, errors.Is(err, domain.ErrUserRejected))
		require.NotNil(t, session)
		require.Equal(t, wallet.StateFailed, session.State())
		require.ErrorIs(t, session.Err(), domain.ErrUserRejected)
		require.False(t, session.Connected())
	})

	t.Run("no accounts", func(t *testing.T) {
		p := wallettest.New(domain.ChainEVM, donor)
		p.AccountList = []string{" "}
		m := wallet.NewManager(wallet.NewRegistry(p))

		session, err := m.Connect(context.Background(), domain.ChainEVM)
		require.True(t, errors.Is(err, domain.ErrNoAccounts))
		require.Equal(t, wallet.StateFailed, session.State())
		require.ErrorIs(t, session.Err(), domain.ErrNoAccounts)
	})
}

func TestGetConnectedAddressDoesNotPrompt(t *testing.T) {
	p := wallettest.New(domain.ChainEVM, donor)
	m := wallet.NewManager(wallet.NewRegistry(p))

	address, ok := m.GetConnectedAddress(context.Background(), domain.ChainEVM)
	require.True(t, ok)
	require.Equal(t, donor, address)
	require.Zero(t, p.ConnectCalls)
	require.Equal(t, 1, p.AccountsCalls)

	p.AccountList = nil
	_, ok = m.GetConnectedAddress(context.Background(), domain.ChainEVM)
	require.False(t, ok)

	_, ok = m.Restore(context.Background(), domain.ChainEVM)
	require.False(t, ok)
}

func TestRestoreBuildsConnectedSession(t *testing.T) {
	p := wallettest.New(domain.ChainSolana, "11111111111111111111111111111111")
	m := wallet.NewManager(wallet.NewRegistry(p))

	session, ok := m.Restore(context.Background(), domain.ChainSolana)
	require.True(t, ok)
	require.True(t, session.Connected())
	require.Zero(t, p.ConnectCalls)
}
