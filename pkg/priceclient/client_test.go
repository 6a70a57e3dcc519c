package priceclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestPricesDecodesExactly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/simple/price", r.URL.Path)
		require.Equal(t, "ethereum,usd-coin", r.URL.Query().Get("ids"))
		require.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		require.Equal(t, "k", r.Header.Get("x-cg-demo-api-key"))
		_, _ = w.Write([]byte(`{"ethereum":{"usd":3012.123456789},"usd-coin":{"usd":0.9998}}`))
	}))
	defer server.Close()

	prices, err := NewClient(server.URL, "k").Prices(context.Background(), []string{"ethereum", "usd-coin"}, "USD")
	require.NoError(t, err)
	require.True(t, prices["ethereum"].Equal(decimal.RequireFromString("3012.123456789")))
	require.True(t, prices["usd-coin"].Equal(decimal.RequireFromString("0.9998")))
}

func TestPricesSurfacesHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "").Prices(context.Background(), []string{"ethereum"}, "usd")
	require.Error(t, err)
}
