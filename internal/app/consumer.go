package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/rapidfund/settlement-service/internal/domain"
)

// CheckoutEventConsumer records card donations queued by the webhook receiver.
type CheckoutEventConsumer struct {
	checkout *Checkout
}

func NewCheckoutEventConsumer(checkout *Checkout) *CheckoutEventConsumer {
	return &CheckoutEventConsumer{checkout: checkout}
}

// HandleMessage returns false only for failures worth redelivering.
func (c *CheckoutEventConsumer) HandleMessage(body []byte) bool {
	var event domain.CheckoutCompletedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=checkout_consumer msg=\"failed to unmarshal payload\" err=%v", err)
		return true
	}
	if event.SessionID == "" {
		log.Printf("level=warn component=checkout_consumer msg=\"missing session id\" event_id=%s", event.EventID)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	result, err := c.checkout.ConfirmSession(ctx, event.SessionID)
	switch {
	case err == nil:
		log.Printf("level=info component=checkout_consumer msg=\"session settled\" session_id=%s donation_id=%s duplicate=%t", event.SessionID, result.Donation.ID, result.Duplicate)
		return true
	case errors.Is(err, domain.ErrNetwork):
		log.Printf("level=warn component=checkout_consumer msg=\"transient failure; re-queuing\" session_id=%s err=%v", event.SessionID, err)
		return false
	case domain.KindOf(err) == domain.KindInternal:
		log.Printf("level=error component=checkout_consumer msg=\"processing error; re-queuing\" session_id=%s err=%v", event.SessionID, err)
		return false
	default:
		log.Printf("level=warn component=checkout_consumer msg=\"session not recordable; dropping\" session_id=%s kind=%s err=%v", event.SessionID, domain.KindOf(err), err)
		return true
	}
}

// feedHint is the websocket message sent to campaign subscribers. It carries no
// identity; clients re-fetch the campaign and donation list on receipt.
type feedHint struct {
	Type       string `json:"type"`
	CampaignID string `json:"campaign_id"`
	DonationID string `json:"donation_id"`
	Rail       string `json:"rail"`
	Asset      string `json:"token_type"`
	Amount     string `json:"amount"`
	Fiat       string `json:"usd_value_at_time"`
	OccurredAt string `json:"occurred_at"`
}

func marshalFeedHint(event domain.DonationRecordedEvent) ([]byte, error) {
	return json.Marshal(feedHint{
		Type:       domain.EventDonationRecorded,
		CampaignID: event.CampaignID.String(),
		DonationID: event.DonationID.String(),
		Rail:       string(event.Rail),
		Asset:      event.Asset,
		Amount:     event.Amount.String(),
		Fiat:       event.FiatEquivalent.String(),
		OccurredAt: event.OccurredAt.UTC().Format(time.RFC3339),
	})
}

// FeedRelay forwards donation events from the broker to this instance's websocket hub.
type FeedRelay struct {
	hub Broadcaster
}

func NewFeedRelay(hub Broadcaster) *FeedRelay {
	return &FeedRelay{hub: hub}
}

func (r *FeedRelay) HandleMessage(body []byte) bool {
	var event domain.DonationRecordedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=feed_relay msg=\"failed to unmarshal payload\" err=%v", err)
		return true
	}
	payload, err := marshalFeedHint(event)
	if err != nil {
		return true
	}
	r.hub.Broadcast(event.CampaignID, payload)
	return true
}
