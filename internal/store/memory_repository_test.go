package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rapidfund/settlement-service/internal/domain"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptrString(s string) *string { return &s }

func newCampaign(t *testing.T, repo *MemoryRepository) *domain.Campaign {
	t.Helper()
	c, err := repo.CreateCampaign(context.Background(), uuid.New(), domain.CreateCampaignRequest{
		Title:        "Clean water",
		Description:  "Wells for the valley",
		Category:     "community",
		TargetAmount: dec("1000"),
		ExpiresAt:    time.Now().Add(30 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	return c
}

func cryptoDonation(campaignID uuid.UUID, proof, wallet, fiat string) domain.RecordDonationParams {
	return domain.RecordDonationParams{
		CampaignID:      campaignID,
		Rail:            domain.RailCrypto,
		Amount:          dec("0.5"),
		Asset:           "ETH",
		SettlementProof: proof,
		FiatEquivalent:  dec(fiat),
		WalletAddress:   ptrString(wallet),
	}
}

func TestMemoryRecordDonationIsIdempotent(t *testing.T) {
	repo := NewMemoryRepository()
	c := newCampaign(t, repo)
	ctx := context.Background()

	first, err := repo.RecordDonation(ctx, cryptoDonation(c.ID, "0xabc", "0xDonor", "1500"))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if first.Duplicate {
		t.Fatalf("first insert reported duplicate")
	}

	second, err := repo.RecordDonation(ctx, cryptoDonation(c.ID, "0xabc", "0xDonor", "1500"))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !second.Duplicate || second.Donation.ID != first.Donation.ID {
		t.Fatalf("expected replay to return the stored record, got %+v", second)
	}

	got, _ := repo.GetCampaign(ctx, c.ID)
	if !got.RaisedAmount.Equal(dec("1500")) || got.DonorsCount != 1 {
		t.Fatalf("expected raised=1500 donors=1, got raised=%s donors=%d", got.RaisedAmount, got.DonorsCount)
	}
	donations, _ := repo.ListCampaignDonations(ctx, c.ID, domain.ListOptions{})
	if len(donations) != 1 {
		t.Fatalf("expected one row, got %d", len(donations))
	}
}

func TestMemoryRecordDonationFoldsHashCase(t *testing.T) {
	repo := NewMemoryRepository()
	c := newCampaign(t, repo)
	ctx := context.Background()
	hash := "0x" + strings.Repeat("cd", 32)

	first, err := repo.RecordDonation(ctx, cryptoDonation(c.ID, "0x"+strings.Repeat("CD", 32), "0xDonor", "1500"))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if first.Donation.SettlementProof != hash {
		t.Fatalf("expected stored proof %s, got %s", hash, first.Donation.SettlementProof)
	}

	second, err := repo.RecordDonation(ctx, cryptoDonation(c.ID, hash, "0xDonor", "1500"))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !second.Duplicate || second.Donation.ID != first.Donation.ID {
		t.Fatalf("expected case variant to be a replay, got %+v", second)
	}

	found, err := repo.FindDonationByProof(ctx, domain.RailCrypto, "0X"+strings.Repeat("Cd", 32))
	if err != nil || found.ID != first.Donation.ID {
		t.Fatalf("lookup by case variant: %v %+v", err, found)
	}

	got, _ := repo.GetCampaign(ctx, c.ID)
	if !got.RaisedAmount.Equal(dec("1500")) {
		t.Fatalf("expected raised=1500, got %s", got.RaisedAmount)
	}
}

func TestMemoryProofsAreScopedByRail(t *testing.T) {
	repo := NewMemoryRepository()
	c := newCampaign(t, repo)
	ctx := context.Background()

	if _, err := repo.RecordDonation(ctx, cryptoDonation(c.ID, "cs_1", "0xa", "10")); err != nil {
		t.Fatalf("crypto: %v", err)
	}
	res, err := repo.RecordDonation(ctx, domain.RecordDonationParams{
		CampaignID: c.ID, Rail: domain.RailFiat, Amount: dec("25"), SettlementProof: "cs_1",
	})
	if err != nil || res.Duplicate {
		t.Fatalf("fiat donation with same opaque id should be distinct: res=%+v err=%v", res, err)
	}
	if res.Donation.Asset != domain.FiatAsset || !res.Donation.FiatEquivalent.Equal(dec("25")) {
		t.Fatalf("fiat donation should be recorded at face value: %+v", res.Donation)
	}
}

func TestMemoryConcurrentDonationsAreNotLost(t *testing.T) {
	repo := NewMemoryRepository()
	c := newCampaign(t, repo)

	var wg sync.WaitGroup
	for i, amount := range []string{"100", "200"} {
		wg.Add(1)
		go func(i int, amount string) {
			defer wg.Done()
			_, err := repo.RecordDonation(context.Background(), domain.RecordDonationParams{
				CampaignID: c.ID, Rail: domain.RailFiat, Amount: dec(amount), SettlementProof: fmt.Sprintf("cs_%d", i),
			})
			if err != nil {
				t.Errorf("record %s: %v", amount, err)
			}
		}(i, amount)
	}
	wg.Wait()

	got, _ := repo.GetCampaign(context.Background(), c.ID)
	if !got.RaisedAmount.Equal(dec("300")) {
		t.Fatalf("expected 300, got %s", got.RaisedAmount)
	}
	if got.DonorsCount != 2 {
		t.Fatalf("anonymous card donations count once each, got %d", got.DonorsCount)
	}
}

func TestMemoryDonorsCountUsesDistinctContributors(t *testing.T) {
	repo := NewMemoryRepository()
	c := newCampaign(t, repo)
	ctx := context.Background()
	user := uuid.New()

	steps := []domain.RecordDonationParams{
		cryptoDonation(c.ID, "0x1", "0xAbC", "10"),
		cryptoDonation(c.ID, "0x2", "0xabc", "10"),
		{CampaignID: c.ID, ContributorID: &user, Rail: domain.RailFiat, Amount: dec("5"), SettlementProof: "cs_a"},
		{CampaignID: c.ID, ContributorID: &user, Rail: domain.RailFiat, Amount: dec("5"), SettlementProof: "cs_b"},
	}
	for _, p := range steps {
		if _, err := repo.RecordDonation(ctx, p); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, _ := repo.GetCampaign(ctx, c.ID)
	if got.DonorsCount != 2 {
		t.Fatalf("expected 2 distinct donors, got %d", got.DonorsCount)
	}
	profile, err := repo.GetProfile(ctx, user)
	if err != nil || !profile.TotalDonated.Equal(dec("10")) {
		t.Fatalf("expected donor total 10, got %+v err=%v", profile, err)
	}
}

func TestMemoryWithdrawalLifecycle(t *testing.T) {
	repo := NewMemoryRepository()
	c := newCampaign(t, repo)
	ctx := context.Background()
	if _, err := repo.RecordDonation(ctx, domain.RecordDonationParams{
		CampaignID: c.ID, Rail: domain.RailFiat, Amount: dec("30"), SettlementProof: "cs_1",
	}); err != nil {
		t.Fatalf("donate: %v", err)
	}

	_, err := repo.CreateWithdrawal(ctx, domain.RequestWithdrawalParams{
		CampaignID: c.ID, RequesterID: c.OwnerID, Rail: domain.RailFiat, Amount: dec("50"), FiatValue: dec("50"),
	})
	if !errors.Is(err, domain.ErrExceedsAvailableFunds) {
		t.Fatalf("expected ErrExceedsAvailableFunds, got %v", err)
	}
	all, _ := repo.ListWithdrawals(ctx, domain.WithdrawalFilter{}, domain.ListOptions{})
	if len(all) != 0 {
		t.Fatalf("rejected request must not be stored")
	}

	first, err := repo.CreateWithdrawal(ctx, domain.RequestWithdrawalParams{
		CampaignID: c.ID, RequesterID: c.OwnerID, Rail: domain.RailFiat, Amount: dec("20"), FiatValue: dec("20"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := repo.CreateWithdrawal(ctx, domain.RequestWithdrawalParams{
		CampaignID: c.ID, RequesterID: c.OwnerID, Rail: domain.RailFiat, Amount: dec("20"), FiatValue: dec("20"),
	})
	if err != nil {
		t.Fatalf("pending requests do not reserve funds: %v", err)
	}

	if _, err := repo.ResolveWithdrawal(ctx, domain.ResolveWithdrawalParams{RequestID: first.ID, Decision: domain.DecisionApprove}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := repo.ResolveWithdrawal(ctx, domain.ResolveWithdrawalParams{RequestID: second.ID, Decision: domain.DecisionApprove}); !errors.Is(err, domain.ErrExceedsAvailableFunds) {
		t.Fatalf("approval must re-check funds, got %v", err)
	}
	if _, err := repo.ResolveWithdrawal(ctx, domain.ResolveWithdrawalParams{RequestID: first.ID, Decision: domain.DecisionReject, ReviewerNotes: "late"}); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}

	available, _ := repo.AvailableFunds(ctx, c.ID)
	if !available.Equal(dec("10")) {
		t.Fatalf("expected 10 available, got %s", available)
	}
	pending, _ := repo.ListWithdrawals(ctx, domain.WithdrawalFilter{CampaignID: &c.ID}, domain.ListOptions{Status: "pending"})
	if len(pending) != 1 || pending[0].ID != second.ID {
		t.Fatalf("expected only the second request pending, got %+v", pending)
	}
}

func TestMemoryReconcileCorrectsDrift(t *testing.T) {
	repo := NewMemoryRepository()
	c := newCampaign(t, repo)
	ctx := context.Background()
	if _, err := repo.RecordDonation(ctx, cryptoDonation(c.ID, "0x1", "0xa", "75.5")); err != nil {
		t.Fatalf("donate: %v", err)
	}

	drifts, _ := repo.ReconcileCampaigns(ctx)
	if len(drifts) != 0 {
		t.Fatalf("consistent campaign reported drift: %+v", drifts)
	}

	if err := repo.SetAggregates(c.ID, dec("999"), 7); err != nil {
		t.Fatalf("set aggregates: %v", err)
	}
	drifts, _ = repo.ReconcileCampaigns(ctx)
	if len(drifts) != 1 || !drifts[0].ComputedRaised.Equal(dec("75.5")) || drifts[0].ComputedDonors != 1 {
		t.Fatalf("unexpected drift report: %+v", drifts)
	}
	got, _ := repo.GetCampaign(ctx, c.ID)
	if !got.RaisedAmount.Equal(dec("75.5")) || got.DonorsCount != 1 {
		t.Fatalf("reconcile did not correct aggregates: %+v", got)
	}
}

func TestContributorKey(t *testing.T) {
	user := uuid.New()
	tests := []struct {
		name string
		in   domain.DonationRecord
		want string
	}{
		{"user wins", domain.DonationRecord{ContributorID: &user, WalletAddress: ptrString("0xA")}, "user:" + user.String()},
		{"evm wallet lowercased", domain.DonationRecord{WalletAddress: ptrString("0xAbC")}, "wallet:0xabc"},
		{"solana wallet kept", domain.DonationRecord{WalletAddress: ptrString("AbC")}, "wallet:AbC"},
		{"empty wallet falls back to proof", domain.DonationRecord{WalletAddress: ptrString(""), SettlementProof: "p"}, "proof:p"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := contributorKey(tt.in); got != tt.want {
				t.Fatalf("contributorKey() = %q, want %q", got, tt.want)
			}
		})
	}
}
