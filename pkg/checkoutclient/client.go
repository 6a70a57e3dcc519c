/**
 * @description
 * This package provides a client for a Stripe-compatible hosted checkout API.
 * It creates card payment sessions, retrieves them for confirmation and verifies
 * webhook signatures.
 *
 * @notes
 * - Requests are form-encoded with bearer authentication, as the checkout API expects.
 * - Amounts are in minor units (cents).
 *
 * @dependencies
 * - context, net/http, net/url, crypto/hmac: Standard Go libraries.
 */
package checkoutclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the production checkout API.
const DefaultBaseURL = "https://api.stripe.com"

// PaymentStatusPaid is the only status that settles a donation.
const PaymentStatusPaid = "paid"

// Client is a client for the checkout API.
type Client struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
}

// NewClient creates a new checkout API client.
func NewClient(baseURL, secretKey string) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		SecretKey: secretKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreateSessionRequest describes a single-item card payment.
type CreateSessionRequest struct {
	Currency    string
	AmountMinor int64
	ProductName string
	Description string
	SuccessURL  string
	CancelURL   string
	Metadata    map[string]string
}

// Session is the subset of the checkout session object this service reads.
type Session struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	PaymentStatus string            `json:"payment_status"`
	Status        string            `json:"status"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
}

// APIError represents an error returned by the checkout API.
type APIError struct {
	StatusCode int
	Body       struct {
		Error struct {
			Type    string `json:"type"`
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
}

func (e *APIError) Error() string {
	if e.Body.Error.Message != "" {
		return fmt.Sprintf("checkout api error (status %d): %s", e.StatusCode, e.Body.Error.Message)
	}
	return fmt.Sprintf("checkout api error (status %d)", e.StatusCode)
}

// Temporary reports whether the request may succeed when retried.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// CreateSession creates a hosted checkout session and returns its redirect URL.
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("payment_method_types[0]", "card")
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(req.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(req.AmountMinor, 10))
	form.Set("line_items[0][price_data][product_data][name]", req.ProductName)
	if req.Description != "" {
		form.Set("line_items[0][price_data][product_data][description]", req.Description)
	}
	form.Set("success_url", req.SuccessURL)
	form.Set("cancel_url", req.CancelURL)
	for key, value := range req.Metadata {
		form.Set("metadata["+key+"]", value)
	}

	var session Session
	if err := c.do(ctx, http.MethodPost, "/v1/checkout/sessions", form, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSession retrieves a checkout session by id.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	var session Session
	if err := c.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(sessionID), nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create checkout request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute checkout request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read checkout response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(raw, &apiErr.Body)
		return apiErr
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode checkout response: %w", err)
	}
	return nil
}
