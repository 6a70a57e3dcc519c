/**
 * @description
 * Core ledger models for the settlement service: campaigns and their aggregate totals,
 * donation records (card and crypto) and withdrawal requests.
 *
 * @notes
 * - Every money value is a shopspring decimal. Fiat values are in the configured
 *   fiat currency; crypto amounts are in the asset's human-readable unit.
 * - RaisedAmount and DonorsCount are written only by the ledger recorder's
 *   reconciliation step; request payloads never carry them.
 */

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Rail distinguishes card (hosted checkout) from on-chain settlement.
type Rail string

const (
	RailFiat   Rail = "fiat"
	RailCrypto Rail = "crypto"
)

// Campaign is a fundraising campaign together with its ledger aggregates.
type Campaign struct {
	ID           uuid.UUID       `json:"id"`
	OwnerID      uuid.UUID       `json:"user_id"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Category     string          `json:"category"`
	ImageURL     *string         `json:"image_url,omitempty"`
	TargetAmount decimal.Decimal `json:"target_amount"`
	RaisedAmount decimal.Decimal `json:"raised_amount"`
	DonorsCount  int             `json:"donors_count"`
	IsUrgent     bool            `json:"is_urgent"`
	IsVerified   bool            `json:"is_verified"`
	ExpiresAt    time.Time       `json:"expires_at"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Active reports whether the campaign still accepts donations.
func (c Campaign) Active(now time.Time) bool {
	return now.Before(c.ExpiresAt)
}

// CreateCampaignRequest is the owner-facing creation payload.
type CreateCampaignRequest struct {
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Category     string          `json:"category"`
	ImageURL     *string         `json:"image_url,omitempty"`
	TargetAmount decimal.Decimal `json:"target_amount"`
	IsUrgent     bool            `json:"is_urgent"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

// Profile carries the per-user donation totals kept by update_user_donation_stats.
type Profile struct {
	ID               uuid.UUID       `json:"id"`
	FullName         *string         `json:"full_name,omitempty"`
	TotalDonated     decimal.Decimal `json:"total_donated"`
	CampaignsCreated int             `json:"campaigns_created"`
}

// DonationRecord is a single settled contribution. It is immutable once written.
type DonationRecord struct {
	ID              uuid.UUID       `json:"id"`
	CampaignID      uuid.UUID       `json:"campaign_id"`
	ContributorID   *uuid.UUID      `json:"user_id,omitempty"`
	Rail            Rail            `json:"rail"`
	Amount          decimal.Decimal `json:"amount"`
	Asset           string          `json:"token_type"`
	FiatEquivalent  decimal.Decimal `json:"usd_value_at_time"`
	SettlementProof string          `json:"settlement_proof"`
	WalletAddress   *string         `json:"wallet_address,omitempty"`
	Message         *string         `json:"message,omitempty"`
	Anonymous       bool            `json:"is_anonymous"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Public strips the contributor identity from anonymous donations.
func (d DonationRecord) Public() DonationRecord {
	if d.Anonymous {
		d.ContributorID = nil
		d.WalletAddress = nil
	}
	return d
}

// RecordDonationParams carries everything the recorder needs to persist a donation.
type RecordDonationParams struct {
	CampaignID      uuid.UUID
	ContributorID   *uuid.UUID
	Rail            Rail
	Amount          decimal.Decimal
	Asset           string
	SettlementProof string
	FiatEquivalent  decimal.Decimal
	WalletAddress   *string
	Message         *string
	Anonymous       bool
}

// NormalizeProof returns the stored form of a settlement proof. Hex transaction
// hashes on the crypto rail are case-insensitive on chain, so they are lowercased;
// every other proof is only trimmed.
func NormalizeProof(rail Rail, proof string) string {
	proof = strings.TrimSpace(proof)
	if rail == RailCrypto && isHexProof(proof) {
		return strings.ToLower(proof)
	}
	return proof
}

func isHexProof(proof string) bool {
	if len(proof) < 3 || (proof[:2] != "0x" && proof[:2] != "0X") {
		return false
	}
	for _, c := range proof[2:] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// RecordDonationResult reports whether the proof had already been credited.
type RecordDonationResult struct {
	Donation  *DonationRecord
	Duplicate bool
}

// WithdrawalStatus is one-way: pending moves to exactly one terminal state.
type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalApproved WithdrawalStatus = "approved"
	WithdrawalRejected WithdrawalStatus = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s WithdrawalStatus) Terminal() bool {
	return s == WithdrawalApproved || s == WithdrawalRejected
}

// Decision is the administrator's verdict on a pending request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Destination is where released funds are sent: bank details for fiat, a wallet for crypto.
type Destination struct {
	BankName      string      `json:"bank_name,omitempty"`
	AccountNumber string      `json:"account_number,omitempty"`
	AccountName   string      `json:"account_name,omitempty"`
	WalletAddress string      `json:"wallet_address,omitempty"`
	Family        ChainFamily `json:"chain_family,omitempty"`
}

// WithdrawalRequest is a campaign owner's request to release raised funds.
type WithdrawalRequest struct {
	ID              uuid.UUID        `json:"id"`
	CampaignID      uuid.UUID        `json:"campaign_id"`
	RequesterID     uuid.UUID        `json:"user_id"`
	Rail            Rail             `json:"rail"`
	Amount          decimal.Decimal  `json:"amount"`
	Asset           string           `json:"token_type"`
	FiatValue       decimal.Decimal  `json:"fiat_value"`
	Destination     Destination      `json:"destination"`
	Status          WithdrawalStatus `json:"status"`
	ReviewerNotes   *string          `json:"notes,omitempty"`
	SettlementProof *string          `json:"tx_hash,omitempty"`
	ReviewerID      *uuid.UUID       `json:"reviewer_id,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	ResolvedAt      *time.Time       `json:"resolved_at,omitempty"`
}

// RequestWithdrawalParams is the validated input for a new withdrawal request.
type RequestWithdrawalParams struct {
	CampaignID  uuid.UUID
	RequesterID uuid.UUID
	Rail        Rail
	Amount      decimal.Decimal
	Asset       string
	FiatValue   decimal.Decimal
	Destination Destination
}

// ResolveWithdrawalParams is the administrator's resolution input.
type ResolveWithdrawalParams struct {
	RequestID       uuid.UUID
	ReviewerID      *uuid.UUID
	Decision        Decision
	ReviewerNotes   string
	SettlementProof string
}

// ListOptions bounds list queries.
type ListOptions struct {
	Limit  int
	Offset int
	Status string
}

// Normalize clamps pagination the same way every list endpoint does.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// WithdrawalFilter narrows withdrawal listings. Zero values match everything.
type WithdrawalFilter struct {
	CampaignID  *uuid.UUID
	RequesterID *uuid.UUID
	Rail        Rail
}

// CampaignDrift describes a campaign whose stored aggregates disagreed with its donation rows.
type CampaignDrift struct {
	CampaignID     uuid.UUID       `json:"campaign_id"`
	StoredRaised   decimal.Decimal `json:"stored_raised"`
	ComputedRaised decimal.Decimal `json:"computed_raised"`
	StoredDonors   int             `json:"stored_donors"`
	ComputedDonors int             `json:"computed_donors"`
}
