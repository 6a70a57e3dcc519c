package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rapidfund/settlement-service/internal/app"
	"github.com/rapidfund/settlement-service/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestHTTPSinkPostsSubmission(t *testing.T) {
	campaignID := uuid.New()
	var got submitPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/donations/crypto", r.URL.Path)
		require.Equal(t, "Bearer donor-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"donation":{"id":"` + uuid.NewString() + `","settlement_proof":"0xabc"},"duplicate":true}`))
	}))
	defer server.Close()

	sink := newHTTPSink(server.URL+"/", "donor-token")
	result, err := sink.SubmitCryptoDonation(context.Background(), app.CryptoSubmission{
		CampaignID:    campaignID,
		Family:        domain.ChainEVM,
		Asset:         "ETH",
		Amount:        "0.5",
		Proof:         "0xabc",
		WalletAddress: "0xdbf03b407c01e7cd3cbea99509d93f8dddc8c6fb",
	})
	require.NoError(t, err)
	require.True(t, result.Duplicate)
	require.Equal(t, "0xabc", result.Donation.SettlementProof)
	require.Equal(t, campaignID.String(), got.CampaignID)
	require.Equal(t, "0xabc", got.SettlementProof)
	require.Equal(t, domain.ChainEVM, got.Family)
}

func TestHTTPSinkErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"server error", http.StatusBadGateway, true},
		{"throttled", http.StatusTooManyRequests, true},
		{"rejected", http.StatusBadRequest, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				w.Write([]byte(`{"error":"UnverifiedSettlement","message":"no"}`))
			}))
			defer server.Close()

			_, err := newHTTPSink(server.URL, "").SubmitCryptoDonation(context.Background(), app.CryptoSubmission{CampaignID: uuid.New()})
			require.Error(t, err)
			require.Equal(t, tc.retryable, errors.Is(err, domain.ErrNetwork))
		})
	}
}

func TestHTTPSinkUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := newHTTPSink(url, "").SubmitCryptoDonation(context.Background(), app.CryptoSubmission{CampaignID: uuid.New()})
	require.ErrorIs(t, err, domain.ErrNetwork)
}
