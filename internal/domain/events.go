package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Routing keys on the events exchange.
const (
	EventDonationRecorded        = "donation.recorded"
	EventWithdrawalRequested     = "withdrawal.requested"
	EventWithdrawalResolved      = "withdrawal.resolved"
	EventCheckoutSessionComplete = "checkout.session.completed"
)

// DonationRecordedEvent is a cache-invalidation hint for campaign owners. Subscribers
// re-pull the campaign and its donations; the event itself is not authoritative.
type DonationRecordedEvent struct {
	EventID        string          `json:"event_id"`
	CampaignID     uuid.UUID       `json:"campaign_id"`
	DonationID     uuid.UUID       `json:"donation_id"`
	Rail           Rail            `json:"rail"`
	Asset          string          `json:"token_type"`
	Amount         decimal.Decimal `json:"amount"`
	FiatEquivalent decimal.Decimal `json:"usd_value_at_time"`
	Anonymous      bool            `json:"is_anonymous"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// WithdrawalEvent is published on request and on resolution.
type WithdrawalEvent struct {
	EventID     string           `json:"event_id"`
	RequestID   uuid.UUID        `json:"request_id"`
	CampaignID  uuid.UUID        `json:"campaign_id"`
	RequesterID uuid.UUID        `json:"user_id"`
	Rail        Rail             `json:"rail"`
	Status      WithdrawalStatus `json:"status"`
	Amount      decimal.Decimal  `json:"amount"`
	Asset       string           `json:"token_type"`
	OccurredAt  time.Time        `json:"occurred_at"`
}

// CheckoutCompletedEvent is queued by the webhook receiver and consumed by the recorder.
type CheckoutCompletedEvent struct {
	EventID   string    `json:"event_id"`
	SessionID string    `json:"session_id"`
	Received  time.Time `json:"received_at"`
}
