package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rapidfund/settlement-service/internal/app"
	"github.com/rapidfund/settlement-service/internal/domain"
)

// httpSink submits settlement proofs to a running settlement-service.
type httpSink struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func newHTTPSink(baseURL, token string) *httpSink {
	return &httpSink{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type submitPayload struct {
	CampaignID      string             `json:"campaign_id"`
	Family          domain.ChainFamily `json:"chain_family"`
	Asset           string             `json:"token_type"`
	Amount          string             `json:"amount"`
	SettlementProof string             `json:"settlement_proof"`
	WalletAddress   string             `json:"wallet_address,omitempty"`
	Message         string             `json:"message,omitempty"`
	Anonymous       bool               `json:"is_anonymous"`
}

type submitResponse struct {
	Donation  domain.DonationRecord `json:"donation"`
	Duplicate bool                  `json:"duplicate"`
}

type apiError struct {
	Error   domain.ErrorKind `json:"error"`
	Message string           `json:"message"`
}

// SubmitCryptoDonation implements app.ProofSink. Transport failures, throttling and
// server errors wrap domain.ErrNetwork so the caller knows to resubmit the proof.
func (s *httpSink) SubmitCryptoDonation(ctx context.Context, sub app.CryptoSubmission) (*domain.RecordDonationResult, error) {
	body, err := json.Marshal(submitPayload{
		CampaignID:      sub.CampaignID.String(),
		Family:          sub.Family,
		Asset:           sub.Asset,
		Amount:          sub.Amount,
		SettlementProof: sub.Proof,
		WalletAddress:   sub.WalletAddress,
		Message:         sub.Message,
		Anonymous:       sub.Anonymous,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/donations/crypto", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", domain.ErrNetwork, err)
	}

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		var out submitResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return &domain.RecordDonationResult{Donation: &out.Donation, Duplicate: out.Duplicate}, nil
	}

	var apiErr apiError
	_ = json.Unmarshal(raw, &apiErr)
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: api returned %d %s: %s", domain.ErrNetwork, resp.StatusCode, apiErr.Error, apiErr.Message)
	}
	return nil, fmt.Errorf("api rejected submission with %d %s: %s", resp.StatusCode, apiErr.Error, apiErr.Message)
}
