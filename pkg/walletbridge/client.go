/**
 * @description
 * This package provides a client for a local wallet bridge: a small HTTP daemon
 * that fronts a non-EVM wallet (Phantom-style Solana wallets) and exposes account
 * permission, transfer signing, balance and transaction lookups over REST.
 * Connect and transfer calls block until the user answers the wallet prompt.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http: Standard Go libraries.
 */
package walletbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
)

// Error codes returned by the bridge in APIError.Code.
const (
	CodeUserRejected      = "user_rejected"
	CodeInsufficientFunds = "insufficient_funds"
	CodeNotConnected      = "not_connected"
	CodeUnsupported       = "unsupported"
	CodeInvalidRequest    = "invalid_request"
)

// ErrTransport marks requests that never produced a bridge response.
var ErrTransport = errors.New("wallet bridge unreachable")

// Client is a client for the wallet bridge API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a bridge client. There is no client-side timeout because
// connect and transfer wait on the user; bound them through the context.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		HTTPClient: &http.Client{},
	}
}

// APIError is a non-2xx bridge response.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wallet bridge error %d %s: %s", e.Status, e.Code, e.Message)
}

// AccountsResponse lists the addresses the wallet has authorized.
type AccountsResponse struct {
	Accounts []string `json:"accounts"`
}

// TransferRequest moves Amount atomic units. Mint is empty for the native asset.
type TransferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
	Mint   string `json:"mint,omitempty"`
}

// TransferResponse carries the transaction signature.
type TransferResponse struct {
	Signature string `json:"signature"`
}

// BalanceResponse is an atomic-unit balance.
type BalanceResponse struct {
	Amount   string `json:"amount"`
	Decimals int32  `json:"decimals"`
}

// TransactionResponse describes a transfer found on chain.
type TransactionResponse struct {
	Found     bool   `json:"found"`
	Signature string `json:"signature"`
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    string `json:"amount"`
	Mint      string `json:"mint,omitempty"`
	Confirmed bool   `json:"confirmed"`
	// Err carries the runtime error of a transaction that landed but failed.
	Err string `json:"err,omitempty"`
}

// Failed reports whether the transaction landed with an error.
func (r *TransactionResponse) Failed() bool {
	return r.Err != ""
}

// Connect asks the wallet to authorize this client. It prompts the user.
func (c *Client) Connect(ctx context.Context) (*AccountsResponse, error) {
	var out AccountsResponse
	if err := c.do(ctx, http.MethodPost, "/v1/connect", struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Accounts returns already-authorized accounts without prompting.
func (c *Client) Accounts(ctx context.Context) (*AccountsResponse, error) {
	var out AccountsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/accounts", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Disconnect revokes the bridge's authorization.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/disconnect", struct{}{}, nil)
}

// Transfer asks the wallet to sign and send a transfer.
func (c *Client) Transfer(ctx context.Context, req TransferRequest) (*TransferResponse, error) {
	var out TransferResponse
	if err := c.do(ctx, http.MethodPost, "/v1/transfer", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Balance returns the atomic balance of address; mint selects a token account.
func (c *Client) Balance(ctx context.Context, address, mint string) (*BalanceResponse, error) {
	q := url.Values{}
	q.Set("address", address)
	if mint != "" {
		q.Set("mint", mint)
	}
	var out BalanceResponse
	if err := c.do(ctx, http.MethodGet, "/v1/balance?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transaction looks up a transfer by signature.
func (c *Client) Transaction(ctx context.Context, signature string) (*TransactionResponse, error) {
	var out TransactionResponse
	if err := c.do(ctx, http.MethodGet, "/v1/transactions/"+url.PathEscape(signature), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base url not configured", ErrTransport)
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal bridge request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create bridge request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, apiErr); err != nil {
			log.Printf("level=warn component=wallet_bridge op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", path, resp.StatusCode)
		}
		if resp.StatusCode >= 500 && apiErr.Code == "" {
			return fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode)
		}
		return apiErr
	}

	if out == nil || len(bodyBytes) == 0 {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode bridge response: %w", err)
	}
	return nil
}
