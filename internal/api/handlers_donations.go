package api

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rapidfund/settlement-service/internal/app"
	"github.com/rapidfund/settlement-service/internal/domain"
	"github.com/rapidfund/settlement-service/internal/rail"
	"github.com/rapidfund/settlement-service/pkg/checkoutclient"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
)

const donationRateScope = "crypto_donation"

type cryptoDonationRequest struct {
	CampaignID      uuid.UUID          `json:"campaign_id"`
	Family          domain.ChainFamily `json:"chain_family"`
	Asset           string             `json:"token_type"`
	Amount          amountField        `json:"amount"`
	SettlementProof string             `json:"settlement_proof"`
	TxHash          string             `json:"tx_hash"`
	WalletAddress   string             `json:"wallet_address"`
	Message         string             `json:"message"`
	Anonymous       bool               `json:"is_anonymous"`
}

type donationResponse struct {
	Donation  domain.DonationRecord `json:"donation"`
	Duplicate bool                  `json:"duplicate"`
}

// SubmitCryptoDonationHandler records a donation whose transfer the donor's wallet
// already submitted. Replays of a proof return the original record with 200.
func (h *Handlers) SubmitCryptoDonationHandler(w http.ResponseWriter, r *http.Request) {
	contributor := optionalUser(r)
	subject := clientIP(r)
	if contributor != nil {
		subject = contributor.String()
	}
	count, retryAfter, err := h.limiter.ConsumeRateLimit(r.Context(), donationRateScope, subject, h.donationLimit, time.Minute)
	if err != nil {
		log.Printf("level=warn component=api endpoint=submit_crypto_donation msg=\"rate limiter unavailable; failing open\" err=%v", err)
	} else if h.donationLimit > 0 && count > h.donationLimit {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		h.writeDomainError(w, "submit_crypto_donation", domain.ErrRateLimited)
		return
	}

	var req cryptoDonationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeDomainError(w, "submit_crypto_donation", err)
		return
	}
	proof := req.SettlementProof
	if strings.TrimSpace(proof) == "" {
		proof = req.TxHash
	}
	family := req.Family
	if family == "" {
		if asset, err := h.ledger.Assets().BySymbol(req.Asset); err == nil {
			family = asset.Family
		}
	}

	result, err := h.settler.SubmitCryptoDonation(r.Context(), app.CryptoSubmission{
		CampaignID:    req.CampaignID,
		ContributorID: contributor,
		Family:        family,
		Asset:         req.Asset,
		Amount:        string(req.Amount),
		Proof:         proof,
		WalletAddress: req.WalletAddress,
		Message:       req.Message,
		Anonymous:     req.Anonymous,
	})
	if err != nil {
		h.writeDomainError(w, "submit_crypto_donation", err)
		return
	}
	h.writeDonationResult(w, result)
}

func (h *Handlers) writeDonationResult(w http.ResponseWriter, result *domain.RecordDonationResult) {
	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, donationResponse{Donation: *result.Donation, Duplicate: result.Duplicate})
}

type checkoutSessionRequest struct {
	CampaignID uuid.UUID   `json:"campaign_id"`
	Amount     amountField `json:"amount"`
	Message    string      `json:"message"`
	Anonymous  bool        `json:"is_anonymous"`
}

// CreateCheckoutSessionHandler opens a hosted card payment and returns its redirect URL.
func (h *Handlers) CreateCheckoutSessionHandler(w http.ResponseWriter, r *http.Request) {
	if h.checkout == nil {
		h.writeError(w, http.StatusServiceUnavailable, domain.KindProviderUnavailable, "Card payments are not enabled")
		return
	}
	var req checkoutSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeDomainError(w, "create_checkout_session", err)
		return
	}
	session, err := h.checkout.CreateSession(r.Context(), app.CheckoutInput{
		CampaignID: req.CampaignID,
		UserID:     optionalUser(r),
		Amount:     string(req.Amount),
		Message:    req.Message,
		Anonymous:  req.Anonymous,
	})
	if err != nil {
		h.writeDomainError(w, "create_checkout_session", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": session.ID, "url": session.URL})
}

// ConfirmCheckoutHandler records the donation for a session id returned to the
// success page. Confirming twice is harmless.
func (h *Handlers) ConfirmCheckoutHandler(w http.ResponseWriter, r *http.Request) {
	if h.checkout == nil {
		h.writeError(w, http.StatusServiceUnavailable, domain.KindProviderUnavailable, "Card payments are not enabled")
		return
	}
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeDomainError(w, "confirm_checkout", err)
		return
	}
	result, err := h.checkout.ConfirmSession(r.Context(), req.SessionID)
	if err != nil {
		h.writeDomainError(w, "confirm_checkout", err)
		return
	}
	h.writeDonationResult(w, result)
}

// CheckoutWebhookHandler receives signed checkout events.
func (h *Handlers) CheckoutWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if h.checkout == nil {
		h.writeError(w, http.StatusServiceUnavailable, domain.KindProviderUnavailable, "Card payments are not enabled")
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, domain.KindValidation, "Could not read body")
		return
	}
	err = h.checkout.HandleWebhook(r.Context(), payload, r.Header.Get(checkoutclient.SignatureHeader))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	case errors.Is(err, checkoutclient.ErrMissingSignature),
		errors.Is(err, checkoutclient.ErrInvalidSignature),
		errors.Is(err, checkoutclient.ErrStaleSignature):
		h.writeError(w, http.StatusBadRequest, domain.KindValidation, err.Error())
	default:
		h.writeDomainError(w, "checkout_webhook", err)
	}
}

// ListCampaignDonationsHandler lists a campaign's donations with anonymous donors hidden.
func (h *Handlers) ListCampaignDonationsHandler(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	opts, ok := h.listOptions(w, r)
	if !ok {
		return
	}
	donations, err := h.ledger.ListCampaignDonations(r.Context(), campaignID, opts)
	if err != nil {
		h.writeDomainError(w, "list_campaign_donations", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"donations": donations})
}

// ListMyDonationsHandler lists the caller's own donations.
func (h *Handlers) ListMyDonationsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	opts, ok := h.listOptions(w, r)
	if !ok {
		return
	}
	donations, err := h.ledger.ListUserDonations(r.Context(), userID, opts)
	if err != nil {
		h.writeDomainError(w, "list_my_donations", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"donations": donations})
}

// DonationQRHandler renders a wallet deep link to the treasury as a PNG QR code.
func (h *Handlers) DonationQRHandler(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := h.pathUUID(w, r, "id")
	if !ok {
		return
	}
	campaign, err := h.ledger.GetCampaign(r.Context(), campaignID)
	if err != nil {
		h.writeDomainError(w, "donation_qr", err)
		return
	}

	q := r.URL.Query()
	symbol := q.Get("asset")
	if symbol == "" {
		symbol = "ETH"
	}
	asset, err := h.ledger.Assets().BySymbol(symbol)
	if err != nil {
		h.writeDomainError(w, "donation_qr", err)
		return
	}
	amount := decimal.Zero
	if raw := strings.TrimSpace(q.Get("amount")); raw != "" {
		if amount, err = rail.ParseAmount(raw); err != nil {
			h.writeDomainError(w, "donation_qr", err)
			return
		}
	}
	treasury, ok := h.settler.TreasuryAddress(asset.Family)
	if !ok {
		h.writeError(w, http.StatusServiceUnavailable, domain.KindProviderUnavailable, "No treasury configured for "+string(asset.Family))
		return
	}

	uri, err := rail.PaymentURI(asset, treasury, amount, campaign.Title)
	if err != nil {
		h.writeDomainError(w, "donation_qr", err)
		return
	}
	png, err := qrcode.Encode(uri, qrcode.Medium, 256)
	if err != nil {
		h.writeDomainError(w, "donation_qr", err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Payment-URI", uri)
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}
