/**
 * @description
 * This file contains the ledger recorder use cases. The `Ledger` struct validates
 * donation and withdrawal input, delegates the atomic writes to the repository and
 * publishes best-effort notifications afterwards.
 *
 * Key features:
 * - recordDonation is idempotent per settlement proof; a replay returns the stored record.
 * - Withdrawal requests are checked against available funds at request time and again
 *   at approval time, inside the repository's campaign row lock.
 * - Resolution is a one-way state machine: pending -> approved | rejected.
 *
 * @dependencies
 * - internal/store: data access.
 * - internal/pricing: fiat valuation of crypto withdrawals.
 * - pkg/rabbitmq: event publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rapidfund/settlement-service/internal/assets"
	"github.com/rapidfund/settlement-service/internal/domain"
	"github.com/rapidfund/settlement-service/internal/pricing"
	"github.com/rapidfund/settlement-service/internal/rail"
	"github.com/rapidfund/settlement-service/internal/store"
	"github.com/rapidfund/settlement-service/internal/wallet"
	"github.com/rapidfund/settlement-service/pkg/rabbitmq"
	"github.com/shopspring/decimal"
)

// PriceOracle is the subset of the pricing oracle the ledger needs.
type PriceOracle interface {
	Quote(ctx context.Context, symbol string) pricing.Quote
}

// Broadcaster pushes a feed hint to local websocket subscribers of a campaign.
type Broadcaster interface {
	Broadcast(campaignID uuid.UUID, payload []byte)
}

// Ledger records donations and manages withdrawal requests.
type Ledger struct {
	repo     store.Repository
	oracle   PriceOracle
	assets   *assets.Table
	events   rabbitmq.Publisher
	exchange string
	feed     Broadcaster
	now      func() time.Time
}

// NewLedger creates a ledger service. A nil publisher falls back to the logging no-op.
func NewLedger(repo store.Repository, oracle PriceOracle, table *assets.Table, events rabbitmq.Publisher, exchange string) *Ledger {
	if table == nil {
		table = assets.Default()
	}
	if events == nil {
		events = &rabbitmq.EventProducerFallback{}
	}
	if strings.TrimSpace(exchange) == "" {
		exchange = rabbitmq.DefaultExchange
	}
	return &Ledger{
		repo:     repo,
		oracle:   oracle,
		assets:   table,
		events:   events,
		exchange: exchange,
		now:      time.Now,
	}
}

// UseLocalFeed makes the ledger broadcast donation hints directly to b. It is used
// when no broker is available to relay them.
func (l *Ledger) UseLocalFeed(b Broadcaster) {
	l.feed = b
}

// Assets exposes the supported-asset table.
func (l *Ledger) Assets() *assets.Table {
	return l.assets
}

// CreateCampaign validates and stores a new campaign. Aggregates always start at zero.
func (l *Ledger) CreateCampaign(ctx context.Context, ownerID uuid.UUID, req domain.CreateCampaignRequest) (*domain.Campaign, error) {
	req.Title = strings.TrimSpace(req.Title)
	req.Category = strings.TrimSpace(req.Category)
	switch {
	case req.Title == "":
		return nil, fmt.Errorf("%w: title is required", domain.ErrInvalidCampaign)
	case !req.TargetAmount.IsPositive():
		return nil, fmt.Errorf("%w: target amount must be positive", domain.ErrInvalidCampaign)
	case !req.ExpiresAt.After(l.now()):
		return nil, fmt.Errorf("%w: expiry must be in the future", domain.ErrInvalidCampaign)
	}

	campaign, err := l.repo.CreateCampaign(ctx, ownerID, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}
	log.Printf("level=info component=ledger op=create_campaign msg=\"campaign created\" campaign_id=%s owner_id=%s", campaign.ID, ownerID)
	return campaign, nil
}

func (l *Ledger) GetCampaign(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error) {
	return l.repo.GetCampaign(ctx, campaignID)
}

func (l *Ledger) GetProfile(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	return l.repo.GetProfile(ctx, userID)
}

func (l *Ledger) IsAdmin(ctx context.Context, userID uuid.UUID) (bool, error) {
	return l.repo.IsAdmin(ctx, userID)
}

// ListCampaignDonations returns fiat and crypto donations newest first, with
// anonymous donors stripped.
func (l *Ledger) ListCampaignDonations(ctx context.Context, campaignID uuid.UUID, opts domain.ListOptions) ([]domain.DonationRecord, error) {
	if _, err := l.repo.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	donations, err := l.repo.ListCampaignDonations(ctx, campaignID, opts.Normalize())
	if err != nil {
		return nil, fmt.Errorf("failed to list campaign donations: %w", err)
	}
	for i := range donations {
		donations[i] = donations[i].Public()
	}
	return donations, nil
}

// ListUserDonations returns the caller's own donations, anonymous ones included.
func (l *Ledger) ListUserDonations(ctx context.Context, userID uuid.UUID, opts domain.ListOptions) ([]domain.DonationRecord, error) {
	donations, err := l.repo.ListUserDonations(ctx, userID, opts.Normalize())
	if err != nil {
		return nil, fmt.Errorf("failed to list user donations: %w", err)
	}
	return donations, nil
}

// RecordDonation persists a settled donation and applies the campaign increment.
// Replaying a settlement proof returns the existing record with Duplicate set.
func (l *Ledger) RecordDonation(ctx context.Context, params domain.RecordDonationParams) (*domain.RecordDonationResult, error) {
	params.SettlementProof = domain.NormalizeProof(params.Rail, params.SettlementProof)
	if params.SettlementProof == "" {
		return nil, domain.ErrSettlementProofRequired
	}
	if !params.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be greater than zero", domain.ErrInvalidAmount)
	}

	switch params.Rail {
	case domain.RailFiat:
		params.Asset = domain.FiatAsset
		params.FiatEquivalent = params.Amount
	case domain.RailCrypto:
		asset, err := l.assets.BySymbol(params.Asset)
		if err != nil {
			return nil, err
		}
		params.Asset = asset.Symbol
		if params.FiatEquivalent.IsNegative() {
			params.FiatEquivalent = decimal.Zero
		}
	default:
		return nil, fmt.Errorf("%w: unknown rail %q", domain.ErrInvalidAmount, params.Rail)
	}
	if params.Message != nil && strings.TrimSpace(*params.Message) == "" {
		params.Message = nil
	}

	result, err := l.repo.RecordDonation(ctx, params)
	if err != nil {
		log.Printf("level=error component=ledger op=record_donation msg=\"record failed\" campaign_id=%s rail=%s proof=%s err=%v", params.CampaignID, params.Rail, params.SettlementProof, err)
		return nil, fmt.Errorf("failed to record donation: %w", err)
	}
	if result.Duplicate {
		log.Printf("level=info component=ledger op=record_donation msg=\"settlement proof already credited\" campaign_id=%s rail=%s proof=%s donation_id=%s", params.CampaignID, params.Rail, params.SettlementProof, result.Donation.ID)
		return result, nil
	}

	log.Printf("level=info component=ledger op=record_donation msg=\"donation recorded\" campaign_id=%s rail=%s asset=%s amount=%s fiat=%s proof=%s", params.CampaignID, params.Rail, params.Asset, params.Amount.String(), params.FiatEquivalent.String(), params.SettlementProof)
	l.publishDonation(ctx, result.Donation)
	return result, nil
}

// WithdrawalInput is the owner's withdrawal request as received from the API.
type WithdrawalInput struct {
	CampaignID  uuid.UUID
	RequesterID uuid.UUID
	Rail        domain.Rail
	Amount      string
	Asset       string
	Destination domain.Destination
}

// RequestWithdrawal creates a pending request. Crypto requests are valued in fiat at
// request time and that value is what the available-funds check uses.
func (l *Ledger) RequestWithdrawal(ctx context.Context, in WithdrawalInput) (*domain.WithdrawalRequest, error) {
	campaign, err := l.repo.GetCampaign(ctx, in.CampaignID)
	if err != nil {
		return nil, err
	}
	if campaign.OwnerID != in.RequesterID {
		return nil, domain.ErrNotCampaignOwner
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(in.Amount))
	if err != nil || !amount.IsPositive() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidAmount, in.Amount)
	}

	params := domain.RequestWithdrawalParams{
		CampaignID:  in.CampaignID,
		RequesterID: in.RequesterID,
		Rail:        in.Rail,
		Amount:      amount,
		Destination: in.Destination,
	}

	switch in.Rail {
	case domain.RailFiat:
		dest := in.Destination
		if strings.TrimSpace(dest.BankName) == "" || strings.TrimSpace(dest.AccountNumber) == "" || strings.TrimSpace(dest.AccountName) == "" {
			return nil, fmt.Errorf("%w: bank name, account number and account name are required", domain.ErrInvalidDestination)
		}
		params.Asset = domain.FiatAsset
		params.FiatValue = amount
		params.Destination = domain.Destination{
			BankName:      strings.TrimSpace(dest.BankName),
			AccountNumber: strings.TrimSpace(dest.AccountNumber),
			AccountName:   strings.TrimSpace(dest.AccountName),
		}
	case domain.RailCrypto:
		family, ok := domain.ParseChainFamily(string(in.Destination.Family))
		if !ok {
			asset, lookupErr := l.assets.BySymbol(in.Asset)
			if lookupErr != nil {
				return nil, lookupErr
			}
			family = asset.Family
		}
		asset, err := l.assets.Lookup(family, in.Asset)
		if err != nil {
			return nil, err
		}
		address := strings.TrimSpace(in.Destination.WalletAddress)
		if err := wallet.ValidateAddress(family, address); err != nil {
			return nil, err
		}
		if _, err := rail.ToAtomic(amount, asset.Decimals); err != nil {
			return nil, err
		}

		quote := l.oracle.Quote(ctx, asset.Symbol)
		if !quote.Price.IsPositive() {
			return nil, fmt.Errorf("%w: no %s price available to value the withdrawal", domain.ErrNetwork, asset.Symbol)
		}
		params.Asset = asset.Symbol
		params.FiatValue = pricing.FiatEquivalent(amount, quote.Price)
		params.Destination = domain.Destination{WalletAddress: address, Family: family}
	default:
		return nil, fmt.Errorf("%w: unknown rail %q", domain.ErrInvalidAmount, in.Rail)
	}

	request, err := l.repo.CreateWithdrawal(ctx, params)
	if err != nil {
		if errors.Is(err, domain.ErrExceedsAvailableFunds) {
			log.Printf("level=warn component=ledger op=request_withdrawal msg=\"exceeds available funds\" campaign_id=%s fiat_value=%s", in.CampaignID, params.FiatValue.String())
			return nil, err
		}
		return nil, fmt.Errorf("failed to create withdrawal request: %w", err)
	}

	log.Printf("level=info component=ledger op=request_withdrawal msg=\"withdrawal requested\" request_id=%s campaign_id=%s rail=%s amount=%s asset=%s fiat_value=%s", request.ID, request.CampaignID, request.Rail, request.Amount.String(), request.Asset, request.FiatValue.String())
	l.publishWithdrawal(ctx, domain.EventWithdrawalRequested, request)
	return request, nil
}

// ResolveWithdrawal applies an administrator's decision. Terminal requests fail with
// ErrAlreadyResolved before any other validation, so a stale view is reported as such.
func (l *Ledger) ResolveWithdrawal(ctx context.Context, params domain.ResolveWithdrawalParams) (*domain.WithdrawalRequest, error) {
	params.Decision = domain.Decision(strings.ToLower(strings.TrimSpace(string(params.Decision))))
	if params.Decision != domain.DecisionApprove && params.Decision != domain.DecisionReject {
		return nil, domain.ErrInvalidDecision
	}
	params.ReviewerNotes = strings.TrimSpace(params.ReviewerNotes)
	params.SettlementProof = strings.TrimSpace(params.SettlementProof)

	current, err := l.repo.GetWithdrawal(ctx, params.RequestID)
	if err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		return nil, fmt.Errorf("%w: request %s is %s", domain.ErrAlreadyResolved, current.ID, current.Status)
	}

	switch {
	case params.Decision == domain.DecisionReject && params.ReviewerNotes == "":
		return nil, domain.ErrReviewerNotesRequired
	case params.Decision == domain.DecisionApprove && current.Rail == domain.RailCrypto && params.SettlementProof == "":
		return nil, domain.ErrSettlementProofRequired
	}
	if current.Rail == domain.RailFiat || params.Decision == domain.DecisionReject {
		// Only crypto approvals carry a payout proof.
		params.SettlementProof = ""
	}

	resolved, err := l.repo.ResolveWithdrawal(ctx, params)
	if err != nil {
		log.Printf("level=error component=ledger op=resolve_withdrawal msg=\"resolve failed\" request_id=%s decision=%s err=%v", params.RequestID, params.Decision, err)
		return nil, err
	}

	log.Printf("level=info component=ledger op=resolve_withdrawal msg=\"withdrawal resolved\" request_id=%s status=%s", resolved.ID, resolved.Status)
	l.publishWithdrawal(ctx, domain.EventWithdrawalResolved, resolved)
	return resolved, nil
}

func (l *Ledger) GetWithdrawal(ctx context.Context, requestID uuid.UUID) (*domain.WithdrawalRequest, error) {
	return l.repo.GetWithdrawal(ctx, requestID)
}

// AvailableFunds is raised amount less approved withdrawals.
func (l *Ledger) AvailableFunds(ctx context.Context, campaignID uuid.UUID) (decimal.Decimal, error) {
	return l.repo.AvailableFunds(ctx, campaignID)
}

// ListMyWithdrawals lists the requester's own withdrawal requests.
func (l *Ledger) ListMyWithdrawals(ctx context.Context, userID uuid.UUID, opts domain.ListOptions) ([]domain.WithdrawalRequest, error) {
	return l.repo.ListWithdrawals(ctx, domain.WithdrawalFilter{RequesterID: &userID}, opts.Normalize())
}

// ListCampaignWithdrawals is restricted to the campaign owner.
func (l *Ledger) ListCampaignWithdrawals(ctx context.Context, callerID, campaignID uuid.UUID, opts domain.ListOptions) ([]domain.WithdrawalRequest, error) {
	campaign, err := l.repo.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.OwnerID != callerID {
		return nil, domain.ErrNotCampaignOwner
	}
	return l.repo.ListWithdrawals(ctx, domain.WithdrawalFilter{CampaignID: &campaignID}, opts.Normalize())
}

// ListAllWithdrawals backs the admin review queue.
func (l *Ledger) ListAllWithdrawals(ctx context.Context, filter domain.WithdrawalFilter, opts domain.ListOptions) ([]domain.WithdrawalRequest, error) {
	return l.repo.ListWithdrawals(ctx, filter, opts.Normalize())
}

// Reconcile corrects aggregate drift in the store.
func (l *Ledger) Reconcile(ctx context.Context) ([]domain.CampaignDrift, error) {
	return l.repo.ReconcileCampaigns(ctx)
}

func (l *Ledger) publishDonation(ctx context.Context, d *domain.DonationRecord) {
	event := domain.DonationRecordedEvent{
		EventID:        uuid.NewString(),
		CampaignID:     d.CampaignID,
		DonationID:     d.ID,
		Rail:           d.Rail,
		Asset:          d.Asset,
		Amount:         d.Amount,
		FiatEquivalent: d.FiatEquivalent,
		Anonymous:      d.Anonymous,
		OccurredAt:     d.CreatedAt,
	}
	if err := l.events.Publish(ctx, l.exchange, domain.EventDonationRecorded, event); err != nil {
		log.Printf("level=warn component=ledger msg=\"donation event publish failed\" donation_id=%s err=%v", d.ID, err)
	}
	if l.feed != nil {
		if payload, err := marshalFeedHint(event); err == nil {
			l.feed.Broadcast(d.CampaignID, payload)
		}
	}
}

func (l *Ledger) publishWithdrawal(ctx context.Context, routingKey string, w *domain.WithdrawalRequest) {
	event := domain.WithdrawalEvent{
		EventID:     uuid.NewString(),
		RequestID:   w.ID,
		CampaignID:  w.CampaignID,
		RequesterID: w.RequesterID,
		Rail:        w.Rail,
		Status:      w.Status,
		Amount:      w.Amount,
		Asset:       w.Asset,
		OccurredAt:  l.now().UTC(),
	}
	if err := l.events.Publish(ctx, l.exchange, routingKey, event); err != nil {
		log.Printf("level=warn component=ledger msg=\"withdrawal event publish failed\" request_id=%s routing_key=%s err=%v", w.ID, routingKey, err)
	}
}
