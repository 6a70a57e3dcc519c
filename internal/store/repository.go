/**
 * @description
 * This file defines the `Repository` interface: the data access contract of the
 * ledger recorder. The PostgreSQL implementation is used in production; the
 * in-memory implementation backs tests and single-process development runs.
 *
 * @notes
 * - raised_amount and donors_count are written only by RecordDonation and by
 *   ReconcileCampaigns. No other method touches them.
 * - Not-found is reported with the domain sentinels, never a driver error.
 */

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/rapidfund/settlement-service/internal/domain"
	"github.com/shopspring/decimal"
)

// Repository defines the set of methods for interacting with the ledger store.
type Repository interface {
	// Campaign and profile methods
	CreateCampaign(ctx context.Context, ownerID uuid.UUID, req domain.CreateCampaignRequest) (*domain.Campaign, error)
	GetCampaign(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error)
	GetProfile(ctx context.Context, userID uuid.UUID) (*domain.Profile, error)
	IsAdmin(ctx context.Context, userID uuid.UUID) (bool, error)

	// Donation methods
	// RecordDonation inserts the donation and applies the aggregate increment in one
	// transaction. A previously seen settlement proof returns the stored record with
	// Duplicate set and leaves the aggregates untouched.
	RecordDonation(ctx context.Context, params domain.RecordDonationParams) (*domain.RecordDonationResult, error)
	FindDonationByProof(ctx context.Context, rail domain.Rail, proof string) (*domain.DonationRecord, error)
	ListCampaignDonations(ctx context.Context, campaignID uuid.UUID, opts domain.ListOptions) ([]domain.DonationRecord, error)
	ListUserDonations(ctx context.Context, userID uuid.UUID, opts domain.ListOptions) ([]domain.DonationRecord, error)

	// Withdrawal methods
	AvailableFunds(ctx context.Context, campaignID uuid.UUID) (decimal.Decimal, error)
	// CreateWithdrawal fails with ErrExceedsAvailableFunds when the fiat value is
	// above the campaign's available funds at insert time.
	CreateWithdrawal(ctx context.Context, params domain.RequestWithdrawalParams) (*domain.WithdrawalRequest, error)
	GetWithdrawal(ctx context.Context, requestID uuid.UUID) (*domain.WithdrawalRequest, error)
	// ResolveWithdrawal moves a pending request to its terminal state under a row lock.
	// Approvals re-check available funds.
	ResolveWithdrawal(ctx context.Context, params domain.ResolveWithdrawalParams) (*domain.WithdrawalRequest, error)
	ListWithdrawals(ctx context.Context, filter domain.WithdrawalFilter, opts domain.ListOptions) ([]domain.WithdrawalRequest, error)

	// Reconciliation
	// ReconcileCampaigns recomputes every campaign's aggregates from its donation rows
	// and returns the campaigns that were corrected.
	ReconcileCampaigns(ctx context.Context) ([]domain.CampaignDrift, error)
}

// proofKey namespaces settlement proofs by rail; each rail has its own unique index.
func proofKey(rail domain.Rail, proof string) string {
	return string(rail) + ":" + domain.NormalizeProof(rail, proof)
}

// contributorKey is the identity used for donors_count: the user, else the
// donor wallet, else the proof itself.
func contributorKey(d domain.DonationRecord) string {
	switch {
	case d.ContributorID != nil:
		return "user:" + d.ContributorID.String()
	case d.WalletAddress != nil && *d.WalletAddress != "":
		return "wallet:" + normalizeWallet(*d.WalletAddress)
	default:
		return "proof:" + d.SettlementProof
	}
}
