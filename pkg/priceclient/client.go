/**
 * @description
 * This package provides a client for a CoinGecko-compatible simple price API.
 * Prices are decoded from the JSON numbers directly into decimals so no float
 * rounding is introduced.
 *
 * @dependencies
 * - github.com/shopspring/decimal: exact decimal prices.
 */
package priceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultBaseURL = "https://api.coingecko.com"

// Client fetches spot prices.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a price client with a short timeout; pricing must never hold up a donation.
func NewClient(baseURL, apiKey string) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL: baseURL,
		APIKey:  strings.TrimSpace(apiKey),
		HTTPClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Prices returns the price of each id in fiat. Ids the API does not know are omitted.
func (c *Client) Prices(ctx context.Context, ids []string, fiat string) (map[string]decimal.Decimal, error) {
	if len(ids) == 0 {
		return map[string]decimal.Decimal{}, nil
	}
	fiat = strings.ToLower(strings.TrimSpace(fiat))

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", fiat)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/v3/simple/price?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create price request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute price request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read price response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("level=warn component=price_client op=simple_price status=%d", resp.StatusCode)
		return nil, fmt.Errorf("price api returned status %d", resp.StatusCode)
	}

	var raw map[string]map[string]json.Number
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode price response: %w", err)
	}

	out := make(map[string]decimal.Decimal, len(raw))
	for id, quotes := range raw {
		n, ok := quotes[fiat]
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(n.String())
		if err != nil {
			return nil, fmt.Errorf("price for %s is not numeric: %w", id, err)
		}
		out[id] = price
	}
	return out, nil
}
