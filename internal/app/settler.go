/**
 * @description
 * Crypto settlement use cases. The `Settler` accepts settlement proofs submitted by a
 * donor's wallet, checks them against the chain when verification is on, values them
 * through the pricing oracle and records them. It also pays out approved crypto
 * withdrawals from the treasury wallet.
 *
 * @notes
 * - A fiat valuation never blocks a donation; an unpriced asset records zero.
 * - Once a payout transfer returns a proof, money has moved. A failure to record the
 *   approval afterwards is logged with the proof and returned so an administrator can
 *   approve manually with it.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rapidfund/settlement-service/internal/domain"
	"github.com/rapidfund/settlement-service/internal/pricing"
	"github.com/rapidfund/settlement-service/internal/rail"
	"github.com/rapidfund/settlement-service/internal/wallet"
)

// TransferVerifier checks a submitted proof against the chain.
type TransferVerifier interface {
	Verify(ctx context.Context, claim rail.Claim) (*wallet.ObservedTransfer, error)
}

// CryptoSubmission is what a donor's client posts after its wallet returned a proof.
type CryptoSubmission struct {
	CampaignID    uuid.UUID
	ContributorID *uuid.UUID
	Family        domain.ChainFamily
	Asset         string
	Amount        string
	Proof         string
	WalletAddress string
	Message       string
	Anonymous     bool
}

// SettlerOptions configures the crypto rail.
type SettlerOptions struct {
	// Treasury maps each chain family to the address donations are sent to.
	Treasury map[domain.ChainFamily]string
	// VerifyDonations rejects proofs that do not match the declared transfer.
	VerifyDonations bool
	// TreasuryWallet enables server-side payouts through the wallet manager.
	TreasuryWallet bool
}

// Settler records crypto donations and executes crypto payouts.
type Settler struct {
	ledger   *Ledger
	oracle   PriceOracle
	verifier TransferVerifier
	wallets  *wallet.Manager
	rail     *rail.Adapter
	opts     SettlerOptions

	mu       sync.Mutex
	inflight map[uuid.UUID]struct{}
}

func NewSettler(ledger *Ledger, oracle PriceOracle, verifier TransferVerifier, wallets *wallet.Manager, adapter *rail.Adapter, opts SettlerOptions) *Settler {
	if opts.Treasury == nil {
		opts.Treasury = map[domain.ChainFamily]string{}
	}
	return &Settler{
		ledger:   ledger,
		oracle:   oracle,
		verifier: verifier,
		wallets:  wallets,
		rail:     adapter,
		opts:     opts,
		inflight: make(map[uuid.UUID]struct{}),
	}
}

// TreasuryAddress returns the configured receiving address for family.
func (s *Settler) TreasuryAddress(family domain.ChainFamily) (string, bool) {
	addr, ok := s.opts.Treasury[family]
	return addr, ok && strings.TrimSpace(addr) != ""
}

// SubmitCryptoDonation records a donation whose transfer the donor's wallet already
// submitted. Replays of the same proof return the stored record.
func (s *Settler) SubmitCryptoDonation(ctx context.Context, sub CryptoSubmission) (*domain.RecordDonationResult, error) {
	family, ok := domain.ParseChainFamily(string(sub.Family))
	if !ok {
		return nil, fmt.Errorf("%w: unknown chain family %q", domain.ErrUnsupportedAsset, sub.Family)
	}
	asset, err := s.ledger.Assets().Lookup(family, sub.Asset)
	if err != nil {
		return nil, err
	}
	amount, err := rail.ParseAmount(sub.Amount)
	if err != nil {
		return nil, err
	}
	if _, err := rail.ToAtomic(amount, asset.Decimals); err != nil {
		return nil, err
	}
	proof := strings.TrimSpace(sub.Proof)
	if proof == "" {
		return nil, domain.ErrSettlementProofRequired
	}
	if proof, err = wallet.CanonicalProof(family, proof); err != nil {
		return nil, err
	}
	donor := strings.TrimSpace(sub.WalletAddress)
	if donor != "" {
		if err := wallet.ValidateAddress(family, donor); err != nil {
			return nil, err
		}
	}

	treasury, hasTreasury := s.TreasuryAddress(family)
	if s.opts.VerifyDonations {
		if !hasTreasury || s.verifier == nil {
			return nil, fmt.Errorf("%w: no treasury configured for %s", domain.ErrProviderUnavailable, family)
		}
		observed, err := s.verifier.Verify(ctx, rail.Claim{
			Family:      family,
			Asset:       asset.Symbol,
			Amount:      amount,
			Proof:       proof,
			Destination: treasury,
		})
		if err != nil {
			log.Printf("level=warn component=settler op=submit_crypto msg=\"settlement proof rejected\" campaign_id=%s family=%s proof=%s err=%v", sub.CampaignID, family, proof, err)
			return nil, err
		}
		if donor == "" {
			donor = observed.From
		} else if observed.From != "" && !wallet.SameAddress(family, observed.From, donor) {
			return nil, fmt.Errorf("%w: transfer was sent from %s", domain.ErrUnverifiedSettlement, observed.From)
		}
	}

	quote := s.oracle.Quote(ctx, asset.Symbol)
	params := domain.RecordDonationParams{
		CampaignID:      sub.CampaignID,
		ContributorID:   sub.ContributorID,
		Rail:            domain.RailCrypto,
		Amount:          amount,
		Asset:           asset.Symbol,
		SettlementProof: proof,
		FiatEquivalent:  pricing.FiatEquivalent(amount, quote.Price),
		Anonymous:       sub.Anonymous,
	}
	if donor != "" {
		params.WalletAddress = &donor
	}
	if msg := strings.TrimSpace(sub.Message); msg != "" {
		params.Message = &msg
	}
	if quote.Source != pricing.SourceLive && quote.Source != pricing.SourceMemory {
		log.Printf("level=warn component=settler op=submit_crypto msg=\"recording with fallback price\" asset=%s source=%s price=%s", asset.Symbol, quote.Source, quote.Price.String())
	}

	return s.ledger.RecordDonation(ctx, params)
}

// PayoutCryptoWithdrawal sends an approved-to-be crypto withdrawal from the treasury
// wallet and then approves the request with the resulting proof.
func (s *Settler) PayoutCryptoWithdrawal(ctx context.Context, requestID uuid.UUID, reviewerID *uuid.UUID, notes string) (*domain.WithdrawalRequest, error) {
	if !s.opts.TreasuryWallet || s.wallets == nil || s.rail == nil {
		return nil, domain.ErrTreasuryDisabled
	}
	if !s.claim(requestID) {
		return nil, fmt.Errorf("%w: payout for %s already in progress", domain.ErrAlreadyResolved, requestID)
	}
	defer s.release(requestID)

	request, err := s.ledger.GetWithdrawal(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status.Terminal() {
		return nil, fmt.Errorf("%w: request %s is %s", domain.ErrAlreadyResolved, request.ID, request.Status)
	}
	if request.Rail != domain.RailCrypto {
		return nil, fmt.Errorf("%w: fiat withdrawals are paid out by bank transfer", domain.ErrInvalidDecision)
	}
	available, err := s.ledger.AvailableFunds(ctx, request.CampaignID)
	if err != nil {
		return nil, err
	}
	if request.FiatValue.GreaterThan(available) {
		return nil, fmt.Errorf("%w: approving %s, available %s", domain.ErrExceedsAvailableFunds, request.FiatValue.String(), available.String())
	}

	family := request.Destination.Family
	session, restored := s.wallets.Restore(ctx, family)
	if !restored {
		session, err = s.wallets.Connect(ctx, family)
		if err != nil {
			return nil, err
		}
	}

	receipt, err := s.rail.Transfer(ctx, family, request.Asset, request.Amount.String(), request.Destination.WalletAddress, session)
	if err != nil {
		log.Printf("level=error component=settler op=payout msg=\"treasury transfer failed\" request_id=%s err=%v", request.ID, err)
		return nil, err
	}

	// The transfer is irreversible; record it even if the caller has gone away.
	resolved, err := s.ledger.ResolveWithdrawal(context.WithoutCancel(ctx), domain.ResolveWithdrawalParams{
		RequestID:       request.ID,
		ReviewerID:      reviewerID,
		Decision:        domain.DecisionApprove,
		ReviewerNotes:   notes,
		SettlementProof: receipt.SettlementProof,
	})
	if err != nil {
		log.Printf("level=error component=settler op=payout msg=\"funds sent but approval not recorded\" request_id=%s proof=%s err=%v", request.ID, receipt.SettlementProof, err)
		return nil, fmt.Errorf("payout %s sent but not recorded: %w", receipt.SettlementProof, err)
	}
	log.Printf("level=info component=settler op=payout msg=\"crypto withdrawal paid\" request_id=%s proof=%s", resolved.ID, receipt.SettlementProof)
	return resolved, nil
}

func (s *Settler) claim(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Settler) release(id uuid.UUID) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

// ProofSink receives settlement proofs from the donor side of the flow. *Settler is
// the in-process sink; the donor CLI posts to the HTTP API instead.
type ProofSink interface {
	SubmitCryptoDonation(ctx context.Context, sub CryptoSubmission) (*domain.RecordDonationResult, error)
}

// CryptoDonation is the donor's intent before any wallet interaction.
type CryptoDonation struct {
	CampaignID    uuid.UUID
	ContributorID *uuid.UUID
	Family        domain.ChainFamily
	Asset         string
	Amount        string
	Destination   string
	Message       string
	Anonymous     bool
}

// DonationOutcome carries the receipt even when recording failed, since the
// transfer can no longer be cancelled and the proof must be resubmitted.
type DonationOutcome struct {
	Receipt *rail.Receipt
	Result  *domain.RecordDonationResult
}

// DonationFlow runs the donor half of a crypto donation: connect, transfer, submit.
type DonationFlow struct {
	wallets *wallet.Manager
	rail    *rail.Adapter
	sink    ProofSink
}

func NewDonationFlow(wallets *wallet.Manager, adapter *rail.Adapter, sink ProofSink) *DonationFlow {
	return &DonationFlow{wallets: wallets, rail: adapter, sink: sink}
}

// Donate suspends on the wallet's approval prompts. Cancel ctx to abandon before the
// transfer is submitted.
func (f *DonationFlow) Donate(ctx context.Context, d CryptoDonation) (*DonationOutcome, error) {
	session, ok := f.wallets.Restore(ctx, d.Family)
	if !ok {
		var err error
		session, err = f.wallets.Connect(ctx, d.Family)
		if err != nil {
			return nil, err
		}
	}

	receipt, err := f.rail.Transfer(ctx, d.Family, d.Asset, d.Amount, d.Destination, session)
	if err != nil {
		return nil, err
	}
	outcome := &DonationOutcome{Receipt: receipt}

	result, err := f.sink.SubmitCryptoDonation(context.WithoutCancel(ctx), CryptoSubmission{
		CampaignID:    d.CampaignID,
		ContributorID: d.ContributorID,
		Family:        d.Family,
		Asset:         receipt.Asset,
		Amount:        receipt.Amount.String(),
		Proof:         receipt.SettlementProof,
		WalletAddress: receipt.From,
		Message:       d.Message,
		Anonymous:     d.Anonymous,
	})
	if err != nil {
		if errors.Is(err, domain.ErrNetwork) {
			log.Printf("level=warn component=donation_flow msg=\"proof submission failed; resubmit\" proof=%s err=%v", receipt.SettlementProof, err)
		}
		return outcome, err
	}
	outcome.Result = result
	return outcome, nil
}
