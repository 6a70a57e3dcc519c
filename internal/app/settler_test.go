package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rapidfund/settlement-service/internal/domain"
	"github.com/rapidfund/settlement-service/internal/rail"
	"github.com/rapidfund/settlement-service/internal/wallet"
	"github.com/rapidfund/settlement-service/internal/wallet/wallettest"
)

type settlerFixture struct {
	ledger   *Ledger
	settler  *Settler
	donor    *wallettest.Provider
	campaign *domain.Campaign
	owner    uuid.UUID
}

// newSettlerFixture wires one fake EVM wallet that plays both the donor's provider
// and the chain the verifier reads back from.
func newSettlerFixture(t *testing.T, opts SettlerOptions) *settlerFixture {
	t.Helper()
	ledger, _, _ := newTestLedger(t)
	donor := wallettest.New(domain.ChainEVM, donorEVM)
	registry := wallet.NewRegistry(donor)
	if opts.Treasury == nil {
		opts.Treasury = map[domain.ChainFamily]string{domain.ChainEVM: treasuryEVM}
	}
	settler := NewSettler(ledger, ledger.oracle, rail.NewVerifier(registry, nil), wallet.NewManager(registry), rail.NewAdapter(nil), opts)
	owner := uuid.New()
	return &settlerFixture{
		ledger:   ledger,
		settler:  settler,
		donor:    donor,
		campaign: newTestCampaign(t, ledger, owner),
		owner:    owner,
	}
}

func TestDonationFlow_HalfEthAtThreeThousand(t *testing.T) {
	f := newSettlerFixture(t, SettlerOptions{VerifyDonations: true})
	ctx := context.Background()
	registry := wallet.NewRegistry(f.donor)
	flow := NewDonationFlow(wallet.NewManager(registry), rail.NewAdapter(nil), f.settler)

	outcome, err := flow.Donate(ctx, CryptoDonation{
		CampaignID:  f.campaign.ID,
		Family:      domain.ChainEVM,
		Asset:       "ETH",
		Amount:      "0.5",
		Destination: treasuryEVM,
	})
	if err != nil {
		t.Fatalf("Donate returned error: %v", err)
	}
	if outcome.Receipt.SettlementProof == "" {
		t.Fatalf("expected a settlement proof")
	}
	donation := outcome.Result.Donation
	if !donation.FiatEquivalent.Equal(dec("1500")) {
		t.Fatalf("expected fiat equivalent 1500, got %s", donation.FiatEquivalent)
	}
	if donation.WalletAddress == nil || *donation.WalletAddress != donorEVM {
		t.Fatalf("donor wallet not recorded: %+v", donation.WalletAddress)
	}

	campaign, _ := f.ledger.GetCampaign(ctx, f.campaign.ID)
	if !campaign.RaisedAmount.Equal(dec("1500")) || campaign.DonorsCount != 1 {
		t.Fatalf("expected raised 1500 and 1 donor, got %s/%d", campaign.RaisedAmount, campaign.DonorsCount)
	}
	if f.donor.SentCount() != 1 {
		t.Fatalf("expected exactly one transfer, got %d", f.donor.SentCount())
	}
}

func TestDonationFlow_UserRejectionRecordsNothing(t *testing.T) {
	f := newSettlerFixture(t, SettlerOptions{VerifyDonations: true})
	f.donor.SendErr = domain.ErrUserRejected
	registry := wallet.NewRegistry(f.donor)
	flow := NewDonationFlow(wallet.NewManager(registry), rail.NewAdapter(nil), f.settler)

	_, err := flow.Donate(context.Background(), CryptoDonation{
		CampaignID:  f.campaign.ID,
		Family:      domain.ChainEVM,
		Asset:       "ETH",
		Amount:      "0.5",
		Destination: treasuryEVM,
	})
	if domain.KindOf(err) != domain.KindUserRejected {
		t.Fatalf("expected UserRejected, got %v", err)
	}
	campaign, _ := f.ledger.GetCampaign(context.Background(), f.campaign.ID)
	if !campaign.RaisedAmount.IsZero() {
		t.Fatalf("rejected transfer must not credit the campaign")
	}
}

func TestSubmitCryptoDonation_Replay(t *testing.T) {
	f := newSettlerFixture(t, SettlerOptions{VerifyDonations: true})
	ctx := context.Background()
	proof := evmHash(0xfeed)
	f.donor.Transfers[proof] = &wallet.ObservedTransfer{Proof: proof, From: donorEVM, To: treasuryEVM, Atomic: big.NewInt(2_000_000)}

	sub := CryptoSubmission{CampaignID: f.campaign.ID, Family: domain.ChainEVM, Asset: "USDC", Amount: "2", Proof: proof, WalletAddress: donorEVM}
	first, err := f.settler.SubmitCryptoDonation(ctx, sub)
	if err != nil {
		t.Fatalf("first submission returned error: %v", err)
	}
	second, err := f.settler.SubmitCryptoDonation(ctx, sub)
	if err != nil {
		t.Fatalf("replayed submission returned error: %v", err)
	}
	if !second.Duplicate || second.Donation.ID != first.Donation.ID {
		t.Fatalf("replay should be idempotent, got %+v", second)
	}
	campaign, _ := f.ledger.GetCampaign(ctx, f.campaign.ID)
	if !campaign.RaisedAmount.Equal(dec("2")) {
		t.Fatalf("expected raised 2, got %s", campaign.RaisedAmount)
	}
}

func TestSubmitCryptoDonation_ReplayWithDifferentHashCase(t *testing.T) {
	f := newSettlerFixture(t, SettlerOptions{VerifyDonations: true})
	ctx := context.Background()
	proof := "0x" + strings.Repeat("ab", 32)
	f.donor.Transfers[proof] = &wallet.ObservedTransfer{Proof: proof, From: donorEVM, To: treasuryEVM, Atomic: big.NewInt(2_000_000)}

	sub := CryptoSubmission{CampaignID: f.campaign.ID, Family: domain.ChainEVM, Asset: "USDC", Amount: "2", Proof: proof, WalletAddress: donorEVM}
	first, err := f.settler.SubmitCryptoDonation(ctx, sub)
	if err != nil {
		t.Fatalf("first submission returned error: %v", err)
	}

	sub.Proof = "0X" + strings.ToUpper(proof[2:])
	second, err := f.settler.SubmitCryptoDonation(ctx, sub)
	if err != nil {
		t.Fatalf("upper-case submission returned error: %v", err)
	}
	if !second.Duplicate || second.Donation.ID != first.Donation.ID {
		t.Fatalf("hash case must not create a second donation, got %+v", second)
	}
	if second.Donation.SettlementProof != proof {
		t.Fatalf("expected stored proof %s, got %s", proof, second.Donation.SettlementProof)
	}
	campaign, _ := f.ledger.GetCampaign(ctx, f.campaign.ID)
	if !campaign.RaisedAmount.Equal(dec("2")) || campaign.DonorsCount != 1 {
		t.Fatalf("expected raised 2 from 1 donor, got %s/%d", campaign.RaisedAmount, campaign.DonorsCount)
	}
}

func TestSubmitCryptoDonation_RejectsUnverifiedProofs(t *testing.T) {
	f := newSettlerFixture(t, SettlerOptions{VerifyDonations: true})
	ctx := context.Background()
	short, elsewhere, stranger := evmHash(1), evmHash(2), evmHash(3)
	f.donor.Transfers[short] = &wallet.ObservedTransfer{Proof: short, From: donorEVM, To: treasuryEVM, Atomic: big.NewInt(1)}
	f.donor.Transfers[elsewhere] = &wallet.ObservedTransfer{Proof: elsewhere, From: donorEVM, To: ownerEVM, Atomic: big.NewInt(1_000_000)}
	f.donor.Transfers[stranger] = &wallet.ObservedTransfer{Proof: stranger, From: ownerEVM, To: treasuryEVM, Atomic: big.NewInt(1_000_000)}

	cases := map[string]CryptoSubmission{
		"unknown proof":    {Proof: evmHash(4), WalletAddress: donorEVM},
		"amount mismatch":  {Proof: short, WalletAddress: donorEVM},
		"wrong recipient":  {Proof: elsewhere, WalletAddress: donorEVM},
		"different sender": {Proof: stranger, WalletAddress: donorEVM},
		"malformed hash":   {Proof: "0xfeed", WalletAddress: donorEVM},
	}
	for name, sub := range cases {
		t.Run(name, func(t *testing.T) {
			sub.CampaignID = f.campaign.ID
			sub.Family = domain.ChainEVM
			sub.Asset = "USDC"
			sub.Amount = "1"
			_, err := f.settler.SubmitCryptoDonation(ctx, sub)
			if !errors.Is(err, domain.ErrUnverifiedSettlement) {
				t.Fatalf("expected ErrUnverifiedSettlement, got %v", err)
			}
		})
	}

	campaign, _ := f.ledger.GetCampaign(ctx, f.campaign.ID)
	if !campaign.RaisedAmount.IsZero() {
		t.Fatalf("unverified proofs must not credit the campaign, got %s", campaign.RaisedAmount)
	}
}

func TestSubmitCryptoDonation_WithoutVerification(t *testing.T) {
	f := newSettlerFixture(t, SettlerOptions{VerifyDonations: false})
	result, err := f.settler.SubmitCryptoDonation(context.Background(), CryptoSubmission{
		CampaignID: f.campaign.ID,
		Family:     "ethereum",
		Asset:      "eth",
		Amount:     "0.1",
		Proof:      evmHash(0xc0ffee),
		Message:    "  good luck  ",
	})
	if err != nil {
		t.Fatalf("SubmitCryptoDonation returned error: %v", err)
	}
	if !result.Donation.FiatEquivalent.Equal(dec("300")) {
		t.Fatalf("expected fiat equivalent 300, got %s", result.Donation.FiatEquivalent)
	}
	if result.Donation.Message == nil || *result.Donation.Message != "good luck" {
		t.Fatalf("message not trimmed: %v", result.Donation.Message)
	}
}

func TestSubmitCryptoDonation_InputErrors(t *testing.T) {
	f := newSettlerFixture(t, SettlerOptions{})
	ctx := context.Background()
	cases := []struct {
		name string
		sub  CryptoSubmission
		want error
	}{
		{"unknown family", CryptoSubmission{Family: "cosmos", Asset: "ATOM", Amount: "1", Proof: "p"}, domain.ErrUnsupportedAsset},
		{"asset on other family", CryptoSubmission{Family: domain.ChainSolana, Asset: "USDC", Amount: "1", Proof: "p"}, domain.ErrUnsupportedAsset},
		{"negative amount", CryptoSubmission{Family: domain.ChainEVM, Asset: "ETH", Amount: "-1", Proof: "p"}, domain.ErrInvalidAmount},
		{"non numeric", CryptoSubmission{Family: domain.ChainEVM, Asset: "ETH", Amount: "lots", Proof: "p"}, domain.ErrInvalidAmount},
		{"missing proof", CryptoSubmission{Family: domain.ChainEVM, Asset: "ETH", Amount: "1"}, domain.ErrSettlementProofRequired},
		{"bad donor wallet", CryptoSubmission{Family: domain.ChainEVM, Asset: "ETH", Amount: "1", Proof: evmHash(9), WalletAddress: "0xnope"}, domain.ErrInvalidDestination},
		{"truncated hash", CryptoSubmission{Family: domain.ChainEVM, Asset: "ETH", Amount: "1", Proof: "0x1234"}, domain.ErrUnverifiedSettlement},
		{"hash without prefix", CryptoSubmission{Family: domain.ChainEVM, Asset: "ETH", Amount: "1", Proof: strings.Repeat("ab", 32)}, domain.ErrUnverifiedSettlement},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.sub.CampaignID = f.campaign.ID
			if _, err := f.settler.SubmitCryptoDonation(ctx, tc.sub); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSubmitCryptoDonation_VerificationNeedsTreasury(t *testing.T) {
	f := newSettlerFixture(t, SettlerOptions{VerifyDonations: true, Treasury: map[domain.ChainFamily]string{}})
	_, err := f.settler.SubmitCryptoDonation(context.Background(), CryptoSubmission{
		CampaignID: f.campaign.ID,
		Family:     domain.ChainEVM,
		Asset:      "ETH",
		Amount:     "1",
		Proof:      evmHash(1),
	})
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

// evmHash returns a well-formed 32-byte transaction hash.
func evmHash(n int) string {
	return fmt.Sprintf("0x%064x", n)
}

func newPayoutFixture(t *testing.T) (*settlerFixture, *wallettest.Provider, *domain.WithdrawalRequest) {
	t.Helper()
	ledger, _, _ := newTestLedger(t)
	treasury := wallettest.New(domain.ChainEVM, treasuryEVM)
	registry := wallet.NewRegistry(treasury)
	settler := NewSettler(ledger, ledger.oracle, rail.NewVerifier(registry, nil), wallet.NewManager(registry), rail.NewAdapter(nil), SettlerOptions{
		Treasury:       map[domain.ChainFamily]string{domain.ChainEVM: treasuryEVM},
		TreasuryWallet: true,
	})
	owner := uuid.New()
	campaign := newTestCampaign(t, ledger, owner)
	if _, err := ledger.RecordDonation(context.Background(), fiatDonation(campaign.ID, "100", "cs_seed")); err != nil {
		t.Fatalf("seed donation: %v", err)
	}
	request, err := ledger.RequestWithdrawal(context.Background(), WithdrawalInput{
		CampaignID:  campaign.ID,
		RequesterID: owner,
		Rail:        domain.RailCrypto,
		Amount:      "0.01",
		Asset:       "ETH",
		Destination: domain.Destination{WalletAddress: ownerEVM, Family: domain.ChainEVM},
	})
	if err != nil {
		t.Fatalf("RequestWithdrawal returned error: %v", err)
	}
	return &settlerFixture{ledger: ledger, settler: settler, campaign: campaign, owner: owner}, treasury, request
}

func TestPayoutCryptoWithdrawal_SendsThenApproves(t *testing.T) {
	f, treasury, request := newPayoutFixture(t)
	reviewer := uuid.New()

	resolved, err := f.settler.PayoutCryptoWithdrawal(context.Background(), request.ID, &reviewer, "paid from treasury")
	if err != nil {
		t.Fatalf("PayoutCryptoWithdrawal returned error: %v", err)
	}
	if resolved.Status != domain.WithdrawalApproved || resolved.SettlementProof == nil || *resolved.SettlementProof != evmHash(1) {
		t.Fatalf("unexpected resolved request %+v", resolved)
	}
	if len(treasury.Sent) != 1 || treasury.Sent[0].To != ownerEVM {
		t.Fatalf("expected one transfer to the owner, got %+v", treasury.Sent)
	}
	if treasury.Sent[0].Atomic.String() != "10000000000000000" {
		t.Fatalf("unexpected atomic amount %s", treasury.Sent[0].Atomic)
	}

	_, err = f.settler.PayoutCryptoWithdrawal(context.Background(), request.ID, &reviewer, "")
	if !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Fatalf("second payout: expected ErrAlreadyResolved, got %v", err)
	}
	if treasury.SentCount() != 1 {
		t.Fatalf("second payout must not transfer again")
	}
}

func TestPayoutCryptoWithdrawal_TransferFailureLeavesPending(t *testing.T) {
	f, treasury, request := newPayoutFixture(t)
	treasury.SendErr = domain.ErrNetwork

	_, err := f.settler.PayoutCryptoWithdrawal(context.Background(), request.ID, nil, "")
	if !domain.Retryable(err) {
		t.Fatalf("expected retryable network error, got %v", err)
	}
	current, _ := f.ledger.GetWithdrawal(context.Background(), request.ID)
	if current.Status != domain.WithdrawalPending {
		t.Fatalf("failed payout changed status to %s", current.Status)
	}
}

func TestPayoutCryptoWithdrawal_Disabled(t *testing.T) {
	f := newSettlerFixture(t, SettlerOptions{})
	if _, err := f.settler.PayoutCryptoWithdrawal(context.Background(), uuid.New(), nil, ""); !errors.Is(err, domain.ErrTreasuryDisabled) {
		t.Fatalf("expected ErrTreasuryDisabled, got %v", err)
	}
}
