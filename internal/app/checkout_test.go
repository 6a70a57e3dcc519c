package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rapidfund/settlement-service/internal/domain"
	"github.com/rapidfund/settlement-service/pkg/checkoutclient"
)

const testWebhookSecret = "whsec_test"

type checkoutStub struct {
	mu        sync.Mutex
	created   []checkoutclient.CreateSessionRequest
	sessions  map[string]*checkoutclient.Session
	createErr error
	getErr    error
}

func newCheckoutStub() *checkoutStub {
	return &checkoutStub{sessions: map[string]*checkoutclient.Session{}}
}

func (s *checkoutStub) CreateSession(ctx context.Context, req checkoutclient.CreateSessionRequest) (*checkoutclient.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = append(s.created, req)
	return &checkoutclient.Session{ID: "cs_test_1", URL: "https://checkout.example/cs_test_1", PaymentStatus: "unpaid"}, nil
}

func (s *checkoutStub) GetSession(ctx context.Context, sessionID string) (*checkoutclient.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, &checkoutclient.APIError{StatusCode: 404}
	}
	return session, nil
}

func (s *checkoutStub) paid(id string, campaignID uuid.UUID, cents int64, metadata map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	md := map[string]string{metaCampaignID: campaignID.String()}
	for k, v := range metadata {
		md[k] = v
	}
	s.sessions[id] = &checkoutclient.Session{ID: id, PaymentStatus: checkoutclient.PaymentStatusPaid, AmountTotal: cents, Currency: "usd", Metadata: md}
}

func newTestCheckout(t *testing.T, events *publisherStub) (*Checkout, *checkoutStub, *Ledger, *domain.Campaign) {
	t.Helper()
	ledger, _, _ := newTestLedger(t)
	campaign := newTestCampaign(t, ledger, uuid.New())
	api := newCheckoutStub()
	opts := CheckoutOptions{SiteURL: "https://rapidfund.example/", WebhookSecret: testWebhookSecret}
	var checkout *Checkout
	if events == nil {
		checkout = NewCheckout(api, ledger, nil, opts)
	} else {
		checkout = NewCheckout(api, ledger, events, opts)
	}
	return checkout, api, ledger, campaign
}

func TestCheckout_CreateSession(t *testing.T) {
	checkout, api, _, campaign := newTestCheckout(t, nil)
	donor := uuid.New()

	session, err := checkout.CreateSession(context.Background(), CheckoutInput{
		CampaignID: campaign.ID,
		UserID:     &donor,
		Amount:     "25.50",
		Message:    " keep going ",
		Anonymous:  true,
	})
	if err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}
	if session.URL == "" {
		t.Fatalf("expected redirect url")
	}
	if len(api.created) != 1 {
		t.Fatalf("expected one session request, got %d", len(api.created))
	}
	req := api.created[0]
	if req.AmountMinor != 2550 || req.Currency != "usd" {
		t.Fatalf("unexpected amount %d %s", req.AmountMinor, req.Currency)
	}
	wantSuccess := "https://rapidfund.example/donation-success?session_id={CHECKOUT_SESSION_ID}&campaign_id=" + campaign.ID.String()
	if req.SuccessURL != wantSuccess {
		t.Fatalf("success url = %s", req.SuccessURL)
	}
	if req.CancelURL != "https://rapidfund.example/campaigns/"+campaign.ID.String() {
		t.Fatalf("cancel url = %s", req.CancelURL)
	}
	if req.Metadata[metaCampaignID] != campaign.ID.String() || req.Metadata[metaUserID] != donor.String() ||
		req.Metadata[metaIsAnonymous] != "true" || req.Metadata[metaMessage] != "keep going" {
		t.Fatalf("unexpected metadata %+v", req.Metadata)
	}
}

func TestCheckout_CreateSessionValidation(t *testing.T) {
	checkout, api, _, campaign := newTestCheckout(t, nil)
	ctx := context.Background()

	for _, amount := range []string{"", "0", "-5", "10.001", "ten"} {
		if _, err := checkout.CreateSession(ctx, CheckoutInput{CampaignID: campaign.ID, Amount: amount}); !errors.Is(err, domain.ErrInvalidAmount) {
			t.Fatalf("amount %q: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
	if _, err := checkout.CreateSession(ctx, CheckoutInput{CampaignID: uuid.New(), Amount: "5"}); !errors.Is(err, domain.ErrCampaignNotFound) {
		t.Fatalf("expected ErrCampaignNotFound, got %v", err)
	}

	api.createErr = &checkoutclient.APIError{StatusCode: 503}
	if _, err := checkout.CreateSession(ctx, CheckoutInput{CampaignID: campaign.ID, Amount: "5"}); !domain.Retryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestCheckout_ConfirmSession(t *testing.T) {
	checkout, api, ledger, campaign := newTestCheckout(t, nil)
	ctx := context.Background()
	donor := uuid.New()
	api.paid("cs_paid", campaign.ID, 2550, map[string]string{metaUserID: donor.String(), metaMessage: "hi"})
	api.sessions["cs_open"] = &checkoutclient.Session{ID: "cs_open", PaymentStatus: "unpaid", Metadata: map[string]string{metaCampaignID: campaign.ID.String()}}

	if _, err := checkout.ConfirmSession(ctx, "cs_open"); !errors.Is(err, domain.ErrPaymentNotCompleted) {
		t.Fatalf("unpaid session: expected ErrPaymentNotCompleted, got %v", err)
	}
	if _, err := checkout.ConfirmSession(ctx, "cs_unknown"); !errors.Is(err, domain.ErrPaymentNotCompleted) {
		t.Fatalf("unknown session: expected ErrPaymentNotCompleted, got %v", err)
	}
	if _, err := checkout.ConfirmSession(ctx, "  "); !errors.Is(err, domain.ErrSettlementProofRequired) {
		t.Fatalf("blank session: expected ErrSettlementProofRequired, got %v", err)
	}

	result, err := checkout.ConfirmSession(ctx, "cs_paid")
	if err != nil {
		t.Fatalf("ConfirmSession returned error: %v", err)
	}
	donation := result.Donation
	if !donation.Amount.Equal(dec("25.50")) || donation.Asset != domain.FiatAsset || donation.SettlementProof != "cs_paid" {
		t.Fatalf("unexpected donation %+v", donation)
	}
	if donation.ContributorID == nil || *donation.ContributorID != donor {
		t.Fatalf("contributor not taken from metadata")
	}

	again, err := checkout.ConfirmSession(ctx, "cs_paid")
	if err != nil || !again.Duplicate {
		t.Fatalf("second confirm should be a duplicate, got %+v err=%v", again, err)
	}
	current, _ := ledger.GetCampaign(ctx, campaign.ID)
	if !current.RaisedAmount.Equal(dec("25.5")) || current.DonorsCount != 1 {
		t.Fatalf("expected 25.5 from 1 donor, got %s/%d", current.RaisedAmount, current.DonorsCount)
	}
}

func TestCheckout_ConfirmSessionWithoutCampaign(t *testing.T) {
	checkout, api, _, _ := newTestCheckout(t, nil)
	api.sessions["cs_orphan"] = &checkoutclient.Session{ID: "cs_orphan", PaymentStatus: checkoutclient.PaymentStatusPaid, AmountTotal: 100}
	if _, err := checkout.ConfirmSession(context.Background(), "cs_orphan"); !errors.Is(err, domain.ErrInvalidCampaign) {
		t.Fatalf("expected ErrInvalidCampaign, got %v", err)
	}
}

func completedPayload(sessionID string) []byte {
	return []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"` + sessionID + `","payment_status":"paid"}}}`)
}

func TestCheckout_WebhookInlineWithoutBroker(t *testing.T) {
	checkout, api, ledger, campaign := newTestCheckout(t, nil)
	api.paid("cs_hook", campaign.ID, 1000, nil)
	payload := completedPayload("cs_hook")
	signature := checkoutclient.Sign(payload, testWebhookSecret, time.Now())

	if err := checkout.HandleWebhook(context.Background(), payload, signature); err != nil {
		t.Fatalf("HandleWebhook returned error: %v", err)
	}
	current, _ := ledger.GetCampaign(context.Background(), campaign.ID)
	if !current.RaisedAmount.Equal(dec("10")) {
		t.Fatalf("expected inline settlement of 10, got %s", current.RaisedAmount)
	}
}

func TestCheckout_WebhookQueuesWithBroker(t *testing.T) {
	events := &publisherStub{}
	checkout, api, ledger, campaign := newTestCheckout(t, events)
	api.paid("cs_queued", campaign.ID, 1000, nil)
	payload := completedPayload("cs_queued")

	if err := checkout.HandleWebhook(context.Background(), payload, checkoutclient.Sign(payload, testWebhookSecret, time.Now())); err != nil {
		t.Fatalf("HandleWebhook returned error: %v", err)
	}
	keys := events.keys()
	if len(keys) != 1 || keys[0] != domain.EventCheckoutSessionComplete {
		t.Fatalf("expected one queued event, got %v", keys)
	}
	queued, ok := events.events[0].body.(domain.CheckoutCompletedEvent)
	if !ok || queued.SessionID != "cs_queued" || queued.EventID != "evt_1" {
		t.Fatalf("unexpected queued body %+v", events.events[0].body)
	}
	current, _ := ledger.GetCampaign(context.Background(), campaign.ID)
	if !current.RaisedAmount.IsZero() {
		t.Fatalf("queued webhook must not settle inline")
	}
}

func TestCheckout_WebhookRejectsBadSignature(t *testing.T) {
	checkout, _, _, _ := newTestCheckout(t, nil)
	payload := completedPayload("cs_forged")

	err := checkout.HandleWebhook(context.Background(), payload, checkoutclient.Sign(payload, "whsec_other", time.Now()))
	if !errors.Is(err, checkoutclient.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	stale := checkoutclient.Sign(payload, testWebhookSecret, time.Now().Add(-time.Hour))
	if err := checkout.HandleWebhook(context.Background(), payload, stale); !errors.Is(err, checkoutclient.ErrStaleSignature) {
		t.Fatalf("expected ErrStaleSignature, got %v", err)
	}
	if err := checkout.HandleWebhook(context.Background(), payload, ""); !errors.Is(err, checkoutclient.ErrMissingSignature) {
		t.Fatalf("expected ErrMissingSignature, got %v", err)
	}
}

func TestCheckout_WebhookIgnoresOtherEvents(t *testing.T) {
	events := &publisherStub{}
	checkout, _, _, _ := newTestCheckout(t, events)
	payload := []byte(`{"id":"evt_2","type":"charge.refunded","data":{"object":{}}}`)
	if err := checkout.HandleWebhook(context.Background(), payload, checkoutclient.Sign(payload, testWebhookSecret, time.Now())); err != nil {
		t.Fatalf("HandleWebhook returned error: %v", err)
	}
	if len(events.keys()) != 0 {
		t.Fatalf("unexpected events %v", events.keys())
	}
}
