package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rapidfund/settlement-service/internal/domain"
	"github.com/rapidfund/settlement-service/pkg/checkoutclient"
	"github.com/rapidfund/settlement-service/pkg/rabbitmq"
	"github.com/shopspring/decimal"
)

// CheckoutAPI is the hosted checkout service.
type CheckoutAPI interface {
	CreateSession(ctx context.Context, req checkoutclient.CreateSessionRequest) (*checkoutclient.Session, error)
	GetSession(ctx context.Context, sessionID string) (*checkoutclient.Session, error)
}

// Metadata keys written on every checkout session.
const (
	metaCampaignID  = "campaignId"
	metaMessage     = "message"
	metaIsAnonymous = "isAnonymous"
	metaUserID      = "userId"
)

// CheckoutInput is a donor's request to pay by card.
type CheckoutInput struct {
	CampaignID uuid.UUID
	UserID     *uuid.UUID
	Amount     string
	Message    string
	Anonymous  bool
}

// CheckoutOptions configures the fiat rail.
type CheckoutOptions struct {
	SiteURL       string
	Currency      string
	WebhookSecret string
	Exchange      string
}

// Checkout creates hosted payment sessions and records paid ones as fiat donations.
type Checkout struct {
	api    CheckoutAPI
	ledger *Ledger
	events rabbitmq.Publisher
	opts   CheckoutOptions
	now    func() time.Time
}

func NewCheckout(api CheckoutAPI, ledger *Ledger, events rabbitmq.Publisher, opts CheckoutOptions) *Checkout {
	if events == nil {
		events = &rabbitmq.EventProducerFallback{}
	}
	if strings.TrimSpace(opts.Currency) == "" {
		opts.Currency = "usd"
	}
	if strings.TrimSpace(opts.Exchange) == "" {
		opts.Exchange = rabbitmq.DefaultExchange
	}
	opts.SiteURL = strings.TrimRight(strings.TrimSpace(opts.SiteURL), "/")
	return &Checkout{api: api, ledger: ledger, events: events, opts: opts, now: time.Now}
}

// CreateSession opens a hosted card payment for a campaign and returns the redirect.
func (c *Checkout) CreateSession(ctx context.Context, in CheckoutInput) (*checkoutclient.Session, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(in.Amount))
	if err != nil || !amount.IsPositive() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidAmount, in.Amount)
	}
	minor := amount.Shift(2)
	if !minor.Equal(minor.Truncate(0)) {
		return nil, fmt.Errorf("%w: card amounts support two decimal places", domain.ErrInvalidAmount)
	}

	campaign, err := c.ledger.GetCampaign(ctx, in.CampaignID)
	if err != nil {
		return nil, err
	}

	metadata := map[string]string{
		metaCampaignID:  campaign.ID.String(),
		metaIsAnonymous: strconv.FormatBool(in.Anonymous),
	}
	if msg := strings.TrimSpace(in.Message); msg != "" {
		metadata[metaMessage] = msg
	}
	if in.UserID != nil {
		metadata[metaUserID] = in.UserID.String()
	}

	session, err := c.api.CreateSession(ctx, checkoutclient.CreateSessionRequest{
		Currency:    c.opts.Currency,
		AmountMinor: minor.IntPart(),
		ProductName: "Donation to " + campaign.Title,
		Description: campaign.Category,
		SuccessURL:  c.opts.SiteURL + "/donation-success?session_id={CHECKOUT_SESSION_ID}&campaign_id=" + url.QueryEscape(campaign.ID.String()),
		CancelURL:   c.opts.SiteURL + "/campaigns/" + campaign.ID.String(),
		Metadata:    metadata,
	})
	if err != nil {
		log.Printf("level=error component=checkout op=create_session msg=\"checkout session failed\" campaign_id=%s err=%v", campaign.ID, err)
		return nil, mapCheckoutError(err)
	}

	log.Printf("level=info component=checkout op=create_session msg=\"checkout session created\" campaign_id=%s session_id=%s amount=%s", campaign.ID, session.ID, amount.String())
	return session, nil
}

// ConfirmSession resolves a checkout session id into a fiat donation. The session id
// is the settlement proof, so confirming the same session twice credits it once.
func (c *Checkout) ConfirmSession(ctx context.Context, sessionID string) (*domain.RecordDonationResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, domain.ErrSettlementProofRequired
	}

	session, err := c.api.GetSession(ctx, sessionID)
	if err != nil {
		return nil, mapCheckoutError(err)
	}
	if session.PaymentStatus != checkoutclient.PaymentStatusPaid {
		return nil, fmt.Errorf("%w: session %s is %s", domain.ErrPaymentNotCompleted, session.ID, session.PaymentStatus)
	}

	campaignID, err := uuid.Parse(session.Metadata[metaCampaignID])
	if err != nil {
		return nil, fmt.Errorf("%w: session %s has no campaign", domain.ErrInvalidCampaign, session.ID)
	}

	params := domain.RecordDonationParams{
		CampaignID:      campaignID,
		Rail:            domain.RailFiat,
		Amount:          decimal.New(session.AmountTotal, -2),
		SettlementProof: session.ID,
		Anonymous:       session.Metadata[metaIsAnonymous] == "true",
	}
	if raw := session.Metadata[metaUserID]; raw != "" {
		if userID, parseErr := uuid.Parse(raw); parseErr == nil {
			params.ContributorID = &userID
		}
	}
	if msg := strings.TrimSpace(session.Metadata[metaMessage]); msg != "" {
		params.Message = &msg
	}

	return c.ledger.RecordDonation(ctx, params)
}

// HandleWebhook verifies a checkout webhook. Completed sessions are queued for the
// recorder, or confirmed inline when no broker is configured.
func (c *Checkout) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := checkoutclient.ParseEvent(payload, signature, c.opts.WebhookSecret, c.now())
	if err != nil {
		return err
	}
	if event.Type != checkoutclient.EventCheckoutSessionCompleted {
		log.Printf("level=info component=checkout op=webhook msg=\"ignoring event\" event_id=%s type=%s", event.ID, event.Type)
		return nil
	}
	session, err := event.Session()
	if err != nil {
		return err
	}

	if rabbitmq.IsFallback(c.events) {
		_, err := c.ConfirmSession(ctx, session.ID)
		if errors.Is(err, domain.ErrPaymentNotCompleted) {
			return nil
		}
		return err
	}

	queued := domain.CheckoutCompletedEvent{EventID: event.ID, SessionID: session.ID, Received: c.now().UTC()}
	if err := c.events.Publish(ctx, c.opts.Exchange, domain.EventCheckoutSessionComplete, queued); err != nil {
		return fmt.Errorf("failed to queue checkout session %s: %w", session.ID, err)
	}
	log.Printf("level=info component=checkout op=webhook msg=\"checkout session queued\" event_id=%s session_id=%s", event.ID, session.ID)
	return nil
}

func mapCheckoutError(err error) error {
	var apiErr *checkoutclient.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Temporary() {
			return fmt.Errorf("%w: %v", domain.ErrNetwork, err)
		}
		if apiErr.StatusCode == 404 {
			return fmt.Errorf("%w: %v", domain.ErrPaymentNotCompleted, err)
		}
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrNetwork, err)
}
