package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rapidfund/settlement-service/internal/app"
	"github.com/rapidfund/settlement-service/internal/domain"
)

type withdrawalRequest struct {
	Rail        domain.Rail        `json:"rail"`
	Amount      amountField        `json:"amount"`
	Asset       string             `json:"token_type"`
	Destination domain.Destination `json:"destination"`
	// Flattened destination fields, accepted for clients that post the form as-is.
	BankName      string             `json:"bank_name"`
	AccountNumber string             `json:"account_number"`
	AccountName   string             `json:"account_name"`
	WalletAddress string             `json:"wallet_address"`
	Family        domain.ChainFamily `json:"chain_family"`
}

func (req withdrawalRequest) destination() domain.Destination {
	d := req.Destination
	if d.BankName == "" {
		d.BankName = req.BankName
	}
	if d.AccountNumber == "" {
		d.AccountNumber = req.AccountNumber
	}
	if d.AccountName == "" {
		d.AccountName = req.AccountName
	}
	if d.WalletAddress == "" {
		d.WalletAddress = req.WalletAddress
	}
	if d.Family == "" {
		d.Family = req.Family
	}
	return d
}

// RequestWithdrawalHandler creates a pending withdrawal. The rail defaults to fiat.
func (h *Handlers) RequestWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	h.requestWithdrawal(w, r, "")
}

// RequestCryptoWithdrawalHandler creates a pending crypto withdrawal.
func (h *Handlers) RequestCryptoWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	h.requestWithdrawal(w, r, domain.RailCrypto)
}

func (h *Handlers) requestWithdrawal(w http.ResponseWriter, r *http.Request, forced domain.Rail) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	campaignID, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req withdrawalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeDomainError(w, "request_withdrawal", err)
		return
	}

	railKind := domain.Rail(strings.ToLower(strings.TrimSpace(string(req.Rail))))
	switch {
	case forced != "":
		railKind = forced
	case railKind == "":
		railKind = domain.RailFiat
	case railKind != domain.RailFiat && railKind != domain.RailCrypto:
		h.writeError(w, http.StatusBadRequest, domain.KindValidation, "rail must be fiat or crypto")
		return
	}

	request, err := h.ledger.RequestWithdrawal(r.Context(), app.WithdrawalInput{
		CampaignID:  campaignID,
		RequesterID: userID,
		Rail:        railKind,
		Amount:      string(req.Amount),
		Asset:       req.Asset,
		Destination: req.destination(),
	})
	if err != nil {
		h.writeDomainError(w, "request_withdrawal", err)
		return
	}
	writeJSON(w, http.StatusCreated, request)
}

// ListMyWithdrawalsHandler lists withdrawals the caller requested.
func (h *Handlers) ListMyWithdrawalsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	opts, ok := h.listOptions(w, r)
	if !ok {
		return
	}
	requests, err := h.ledger.ListMyWithdrawals(r.Context(), userID, opts)
	if err != nil {
		h.writeDomainError(w, "list_my_withdrawals", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"withdrawals": requests})
}

// ListCampaignWithdrawalsHandler lists a campaign's withdrawals for its owner.
func (h *Handlers) ListCampaignWithdrawalsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	campaignID, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	opts, ok := h.listOptions(w, r)
	if !ok {
		return
	}
	requests, err := h.ledger.ListCampaignWithdrawals(r.Context(), userID, campaignID, opts)
	if err != nil {
		h.writeDomainError(w, "list_campaign_withdrawals", err)
		return
	}
	available, err := h.ledger.AvailableFunds(r.Context(), campaignID)
	if err != nil {
		h.writeDomainError(w, "list_campaign_withdrawals", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"withdrawals":     requests,
		"available_funds": available,
	})
}

// ListAllWithdrawalsHandler is the admin review queue. Filters: status, rail, campaign_id.
func (h *Handlers) ListAllWithdrawalsHandler(w http.ResponseWriter, r *http.Request) {
	opts, ok := h.listOptions(w, r)
	if !ok {
		return
	}
	var filter domain.WithdrawalFilter
	if raw := strings.TrimSpace(r.URL.Query().Get("campaign_id")); raw != "" {
		campaignID, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, domain.KindValidation, "Invalid campaign_id")
			return
		}
		filter.CampaignID = &campaignID
	}
	filter.Rail = domain.Rail(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("rail"))))

	requests, err := h.ledger.ListAllWithdrawals(r.Context(), filter, opts)
	if err != nil {
		h.writeDomainError(w, "list_all_withdrawals", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"withdrawals": requests})
}

type resolveRequest struct {
	Decision        domain.Decision `json:"decision"`
	Notes           string          `json:"notes"`
	SettlementProof string          `json:"settlement_proof"`
	TxHash          string          `json:"tx_hash"`
}

// ResolveWithdrawalHandler approves or rejects a pending request.
func (h *Handlers) ResolveWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	reviewerID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	requestID, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req resolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeDomainError(w, "resolve_withdrawal", err)
		return
	}
	proof := req.SettlementProof
	if strings.TrimSpace(proof) == "" {
		proof = req.TxHash
	}

	resolved, err := h.ledger.ResolveWithdrawal(r.Context(), domain.ResolveWithdrawalParams{
		RequestID:       requestID,
		ReviewerID:      &reviewerID,
		Decision:        req.Decision,
		ReviewerNotes:   req.Notes,
		SettlementProof: proof,
	})
	if err != nil {
		h.writeDomainError(w, "resolve_withdrawal", err)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}

// PayoutCryptoWithdrawalHandler sends a pending crypto withdrawal from the treasury
// wallet and approves it with the resulting proof.
func (h *Handlers) PayoutCryptoWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	reviewerID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	requestID, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Notes string `json:"notes"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			h.writeDomainError(w, "payout_crypto_withdrawal", err)
			return
		}
	}

	resolved, err := h.settler.PayoutCryptoWithdrawal(r.Context(), requestID, &reviewerID, req.Notes)
	if err != nil {
		h.writeDomainError(w, "payout_crypto_withdrawal", err)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}
