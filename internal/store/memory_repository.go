package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rapidfund/settlement-service/internal/domain"
	"github.com/shopspring/decimal"
)

// MemoryRepository is a process-local Repository. A single mutex serializes every
// write, which gives the same per-campaign atomicity as the Postgres row locks.
type MemoryRepository struct {
	mu          sync.Mutex
	now         func() time.Time
	campaigns   map[uuid.UUID]*domain.Campaign
	profiles    map[uuid.UUID]*domain.Profile
	admins      map[uuid.UUID]bool
	donations   map[uuid.UUID]*domain.DonationRecord
	proofs      map[string]uuid.UUID
	withdrawals map[uuid.UUID]*domain.WithdrawalRequest
	payouts     map[string]uuid.UUID
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		now:         time.Now,
		campaigns:   make(map[uuid.UUID]*domain.Campaign),
		profiles:    make(map[uuid.UUID]*domain.Profile),
		admins:      make(map[uuid.UUID]bool),
		donations:   make(map[uuid.UUID]*domain.DonationRecord),
		proofs:      make(map[string]uuid.UUID),
		withdrawals: make(map[uuid.UUID]*domain.WithdrawalRequest),
		payouts:     make(map[string]uuid.UUID),
	}
}

// GrantAdmin marks userID as an administrator.
func (m *MemoryRepository) GrantAdmin(userID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admins[userID] = true
}

// SetAggregates overwrites a campaign's aggregates. Used to simulate drift.
func (m *MemoryRepository) SetAggregates(campaignID uuid.UUID, raised decimal.Decimal, donors int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[campaignID]
	if !ok {
		return domain.ErrCampaignNotFound
	}
	c.RaisedAmount = raised
	c.DonorsCount = donors
	return nil
}

func (m *MemoryRepository) CreateCampaign(ctx context.Context, ownerID uuid.UUID, req domain.CreateCampaignRequest) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := &domain.Campaign{
		ID:           uuid.New(),
		OwnerID:      ownerID,
		Title:        req.Title,
		Description:  req.Description,
		Category:     req.Category,
		ImageURL:     req.ImageURL,
		TargetAmount: req.TargetAmount,
		RaisedAmount: decimal.Zero,
		IsUrgent:     req.IsUrgent,
		ExpiresAt:    req.ExpiresAt,
		CreatedAt:    m.now().UTC(),
	}
	m.campaigns[c.ID] = c
	m.profile(ownerID).CampaignsCreated++

	copied := *c
	return &copied, nil
}

func (m *MemoryRepository) GetCampaign(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[campaignID]
	if !ok {
		return nil, domain.ErrCampaignNotFound
	}
	copied := *c
	return &copied, nil
}

func (m *MemoryRepository) GetProfile(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	copied := *p
	return &copied, nil
}

func (m *MemoryRepository) IsAdmin(ctx context.Context, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.admins[userID], nil
}

func (m *MemoryRepository) RecordDonation(ctx context.Context, params domain.RecordDonationParams) (*domain.RecordDonationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	campaign, ok := m.campaigns[params.CampaignID]
	if !ok {
		return nil, domain.ErrCampaignNotFound
	}
	if params.Rail != domain.RailFiat && params.Rail != domain.RailCrypto {
		return nil, fmt.Errorf("unknown rail %q", params.Rail)
	}

	params.SettlementProof = domain.NormalizeProof(params.Rail, params.SettlementProof)
	key := proofKey(params.Rail, params.SettlementProof)
	if id, seen := m.proofs[key]; seen {
		copied := *m.donations[id]
		return &domain.RecordDonationResult{Donation: &copied, Duplicate: true}, nil
	}

	record := recordFromParams(params)
	record.ID = uuid.New()
	record.CreatedAt = m.now().UTC()
	m.donations[record.ID] = record
	m.proofs[key] = record.ID

	campaign.RaisedAmount = campaign.RaisedAmount.Add(record.FiatEquivalent)
	if params.ContributorID != nil {
		p := m.profile(*params.ContributorID)
		p.TotalDonated = p.TotalDonated.Add(record.FiatEquivalent)
	}
	campaign.DonorsCount = m.countContributors(campaign.ID)

	copied := *record
	return &domain.RecordDonationResult{Donation: &copied}, nil
}

func (m *MemoryRepository) FindDonationByProof(ctx context.Context, rail domain.Rail, proof string) (*domain.DonationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.proofs[proofKey(rail, proof)]
	if !ok {
		return nil, domain.ErrDonationNotFound
	}
	copied := *m.donations[id]
	return &copied, nil
}

func (m *MemoryRepository) ListCampaignDonations(ctx context.Context, campaignID uuid.UUID, opts domain.ListOptions) ([]domain.DonationRecord, error) {
	return m.listDonations(func(d *domain.DonationRecord) bool { return d.CampaignID == campaignID }, opts), nil
}

func (m *MemoryRepository) ListUserDonations(ctx context.Context, userID uuid.UUID, opts domain.ListOptions) ([]domain.DonationRecord, error) {
	return m.listDonations(func(d *domain.DonationRecord) bool {
		return d.ContributorID != nil && *d.ContributorID == userID
	}, opts), nil
}

func (m *MemoryRepository) listDonations(match func(*domain.DonationRecord) bool, opts domain.ListOptions) []domain.DonationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.DonationRecord
	for _, d := range m.donations {
		if match(d) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return page(out, opts)
}

func (m *MemoryRepository) AvailableFunds(ctx context.Context, campaignID uuid.UUID) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available(campaignID)
}

func (m *MemoryRepository) available(campaignID uuid.UUID) (decimal.Decimal, error) {
	campaign, ok := m.campaigns[campaignID]
	if !ok {
		return decimal.Zero, domain.ErrCampaignNotFound
	}
	available := campaign.RaisedAmount
	for _, w := range m.withdrawals {
		if w.CampaignID == campaignID && w.Status == domain.WithdrawalApproved {
			available = available.Sub(w.FiatValue)
		}
	}
	return available, nil
}

func (m *MemoryRepository) CreateWithdrawal(ctx context.Context, params domain.RequestWithdrawalParams) (*domain.WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	available, err := m.available(params.CampaignID)
	if err != nil {
		return nil, err
	}
	if params.FiatValue.GreaterThan(available) {
		return nil, fmt.Errorf("%w: requested %s, available %s", domain.ErrExceedsAvailableFunds, params.FiatValue.String(), available.String())
	}

	now := m.now().UTC()
	w := &domain.WithdrawalRequest{
		ID:          uuid.New(),
		CampaignID:  params.CampaignID,
		RequesterID: params.RequesterID,
		Rail:        params.Rail,
		Amount:      params.Amount,
		Asset:       params.Asset,
		FiatValue:   params.FiatValue,
		Destination: params.Destination,
		Status:      domain.WithdrawalPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if w.Rail == domain.RailFiat {
		w.Asset = domain.FiatAsset
		w.FiatValue = w.Amount
	}
	m.withdrawals[w.ID] = w

	copied := *w
	return &copied, nil
}

func (m *MemoryRepository) GetWithdrawal(ctx context.Context, requestID uuid.UUID) (*domain.WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawals[requestID]
	if !ok {
		return nil, domain.ErrWithdrawalNotFound
	}
	copied := *w
	return &copied, nil
}

func (m *MemoryRepository) ResolveWithdrawal(ctx context.Context, params domain.ResolveWithdrawalParams) (*domain.WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.withdrawals[params.RequestID]
	if !ok {
		return nil, domain.ErrWithdrawalNotFound
	}
	if w.Status != domain.WithdrawalPending {
		return nil, fmt.Errorf("%w: request %s is %s", domain.ErrAlreadyResolved, w.ID, w.Status)
	}

	next := domain.WithdrawalRejected
	proof := strings.TrimSpace(params.SettlementProof)
	if params.Decision == domain.DecisionApprove {
		next = domain.WithdrawalApproved
		available, err := m.available(w.CampaignID)
		if err != nil {
			return nil, err
		}
		if w.FiatValue.GreaterThan(available) {
			return nil, fmt.Errorf("%w: approving %s, available %s", domain.ErrExceedsAvailableFunds, w.FiatValue.String(), available.String())
		}
	}
	if next == domain.WithdrawalApproved && w.Rail == domain.RailCrypto && proof != "" {
		if other, taken := m.payouts[proof]; taken && other != w.ID {
			return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateSettlement, proof)
		}
		m.payouts[proof] = w.ID
		w.SettlementProof = &proof
	}

	now := m.now().UTC()
	w.Status = next
	w.ReviewerNotes = nullableString(params.ReviewerNotes)
	w.ReviewerID = params.ReviewerID
	w.ResolvedAt = &now
	w.UpdatedAt = now

	copied := *w
	return &copied, nil
}

func (m *MemoryRepository) ListWithdrawals(ctx context.Context, filter domain.WithdrawalFilter, opts domain.ListOptions) ([]domain.WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.WithdrawalRequest
	for _, w := range m.withdrawals {
		switch {
		case filter.CampaignID != nil && w.CampaignID != *filter.CampaignID:
			continue
		case filter.RequesterID != nil && w.RequesterID != *filter.RequesterID:
			continue
		case filter.Rail != "" && w.Rail != filter.Rail:
			continue
		case opts.Status != "" && string(w.Status) != opts.Status:
			continue
		}
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return page(out, opts), nil
}

func (m *MemoryRepository) ReconcileCampaigns(ctx context.Context) ([]domain.CampaignDrift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var drifts []domain.CampaignDrift
	for id, campaign := range m.campaigns {
		raised := decimal.Zero
		for _, d := range m.donations {
			if d.CampaignID == id {
				raised = raised.Add(d.FiatEquivalent)
			}
		}
		donors := m.countContributors(id)
		if raised.Equal(campaign.RaisedAmount) && donors == campaign.DonorsCount {
			continue
		}
		drifts = append(drifts, domain.CampaignDrift{
			CampaignID:     id,
			StoredRaised:   campaign.RaisedAmount,
			ComputedRaised: raised,
			StoredDonors:   campaign.DonorsCount,
			ComputedDonors: donors,
		})
		campaign.RaisedAmount = raised
		campaign.DonorsCount = donors
	}
	return drifts, nil
}

func (m *MemoryRepository) countContributors(campaignID uuid.UUID) int {
	seen := make(map[string]struct{})
	for _, d := range m.donations {
		if d.CampaignID == campaignID {
			seen[contributorKey(*d)] = struct{}{}
		}
	}
	return len(seen)
}

func (m *MemoryRepository) profile(userID uuid.UUID) *domain.Profile {
	p, ok := m.profiles[userID]
	if !ok {
		p = &domain.Profile{ID: userID, TotalDonated: decimal.Zero}
		m.profiles[userID] = p
	}
	return p
}

func page[T any](items []T, opts domain.ListOptions) []T {
	opts = opts.Normalize()
	if opts.Offset >= len(items) {
		return []T{}
	}
	end := opts.Offset + opts.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[opts.Offset:end]
}
