/**
 * @description
 * This package provides a minimal JSON-RPC 2.0 client for EVM wallet providers
 * (an account-managing signer such as Clef or Frame, or a development node with
 * unlocked accounts). It follows the EIP-1193 method names used by browser
 * wallets so the same semantics apply: eth_requestAccounts prompts the user,
 * eth_accounts does not, and eth_sendTransaction suspends until the user confirms.
 *
 * @dependencies
 * - bytes, context, encoding/json, net/http: Standard Go libraries.
 */
package evmrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// EIP-1193 provider error codes.
const (
	CodeUserRejected    = 4001
	CodeUnauthorized    = 4100
	CodeUnsupported     = 4200
	CodeDisconnected    = 4900
	CodeServerError     = -32000
	CodeMethodNotFound  = -32601
	CodeInvalidParams   = -32602
	CodeInternalJSONRPC = -32603
)

// Client talks JSON-RPC to an EVM wallet endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	nextID     atomic.Int64
}

// NewClient creates a client. Interactive methods have no client-side deadline;
// callers bound them through the context.
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint:   strings.TrimSpace(endpoint),
		httpClient: &http.Client{},
	}
}

// Endpoint returns the configured URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// RPCError is an error object returned by the endpoint.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("json-rpc error %d: %s", e.Code, e.Message)
}

// TransportError marks failures where no response was received from the endpoint.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("json-rpc transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// Call invokes method and decodes the result into out (which may be nil).
func (c *Client) Call(ctx context.Context, method string, out interface{}, params ...interface{}) error {
	if c.endpoint == "" {
		return &TransportError{Err: fmt.Errorf("endpoint not configured")}
	}
	if params == nil {
		params = []interface{}{}
	}

	body, err := json.Marshal(request{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &TransportError{Err: err}
	}
	if resp.StatusCode >= 500 {
		return &TransportError{Err: fmt.Errorf("endpoint returned status %d", resp.StatusCode)}
	}

	var decoded response
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("failed to decode %s response (status %d): %w", method, resp.StatusCode, err)
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if out == nil || len(decoded.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// TxRequest is the eth_sendTransaction parameter object.
type TxRequest struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Value string `json:"value,omitempty"`
	Data  string `json:"data,omitempty"`
}

// TxObject is the subset of eth_getTransactionByHash this service reads.
type TxObject struct {
	Hash        string  `json:"hash"`
	From        string  `json:"from"`
	To          *string `json:"to"`
	Value       string  `json:"value"`
	Input       string  `json:"input"`
	BlockNumber *string `json:"blockNumber"`
}

// Receipt is the subset of eth_getTransactionReceipt the service reads.
// Status is 0x1 for success and 0x0 for a reverted transaction.
type Receipt struct {
	TransactionHash string  `json:"transactionHash"`
	BlockNumber     *string `json:"blockNumber"`
	Status          string  `json:"status"`
}

// Reverted reports whether the node marked the transaction as failed.
func (r *Receipt) Reverted() bool {
	return r != nil && r.Status == "0x0"
}

// RequestAccounts asks the wallet for account access. This prompts the user.
func (c *Client) RequestAccounts(ctx context.Context) ([]string, error) {
	var accounts []string
	err := c.Call(ctx, "eth_requestAccounts", &accounts)
	return accounts, err
}

// Accounts returns already-authorized accounts without prompting.
func (c *Client) Accounts(ctx context.Context) ([]string, error) {
	var accounts []string
	err := c.Call(ctx, "eth_accounts", &accounts)
	return accounts, err
}

// SendTransaction submits a transaction for signing and returns its hash.
func (c *Client) SendTransaction(ctx context.Context, tx TxRequest) (string, error) {
	var hash string
	err := c.Call(ctx, "eth_sendTransaction", &hash, tx)
	return hash, err
}

// GetBalance returns the hex-encoded wei balance at the latest block.
func (c *Client) GetBalance(ctx context.Context, address string) (string, error) {
	var balance string
	err := c.Call(ctx, "eth_getBalance", &balance, address, "latest")
	return balance, err
}

// EthCall runs a read-only contract call at the latest block.
func (c *Client) EthCall(ctx context.Context, to, data string) (string, error) {
	var result string
	err := c.Call(ctx, "eth_call", &result, map[string]string{"to": to, "data": data}, "latest")
	return result, err
}

// TransactionByHash returns nil when the node does not know the hash.
func (c *Client) TransactionByHash(ctx context.Context, hash string) (*TxObject, error) {
	var tx *TxObject
	if err := c.Call(ctx, "eth_getTransactionByHash", &tx, hash); err != nil {
		return nil, err
	}
	return tx, nil
}

// TransactionReceipt returns nil while the transaction is unmined.
func (c *Client) TransactionReceipt(ctx context.Context, hash string) (*Receipt, error) {
	var receipt *Receipt
	if err := c.Call(ctx, "eth_getTransactionReceipt", &receipt, hash); err != nil {
		return nil, err
	}
	return receipt, nil
}

// ClientVersion doubles as a liveness check.
func (c *Client) ClientVersion(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var version string
	err := c.Call(ctx, "web3_clientVersion", &version)
	return version, err
}
