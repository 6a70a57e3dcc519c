package checkoutclient

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries "t=<unix>,v1=<hex hmac>" pairs.
const SignatureHeader = "Stripe-Signature"

// DefaultTolerance bounds the age of a signed webhook.
const DefaultTolerance = 5 * time.Minute

// EventCheckoutSessionCompleted is the webhook type that confirms a card donation.
const EventCheckoutSessionCompleted = "checkout.session.completed"

var (
	ErrMissingSignature = errors.New("webhook signature header missing")
	ErrInvalidSignature = errors.New("webhook signature mismatch")
	ErrStaleSignature   = errors.New("webhook timestamp outside tolerance")
)

// Event is a webhook envelope.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// Session decodes the event's data object as a checkout session.
func (e Event) Session() (*Session, error) {
	var s Session
	if err := json.Unmarshal(e.Data.Object, &s); err != nil {
		return nil, fmt.Errorf("decode session object: %w", err)
	}
	return &s, nil
}

// Sign produces a signature header for payload. Used by tests and local tooling.
func Sign(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + computeSignature(ts, payload, secret)
}

func computeSignature(ts string, payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against payload. Any v1 entry may match, which
// allows secret rotation.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingSignature
	}

	var ts string
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts = value
		case "v1":
			candidates = append(candidates, value)
		}
	}
	if ts == "" || len(candidates) == 0 {
		return ErrInvalidSignature
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(unix, 0))
		if age > tolerance || age < -tolerance {
			return ErrStaleSignature
		}
	}

	expected := computeSignature(ts, payload, secret)
	for _, candidate := range candidates {
		if hmac.Equal([]byte(expected), []byte(strings.ToLower(candidate))) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// ParseEvent verifies and decodes a webhook body.
func ParseEvent(payload []byte, header, secret string, now time.Time) (*Event, error) {
	if err := VerifySignature(payload, header, secret, DefaultTolerance, now); err != nil {
		return nil, err
	}
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode webhook event: %w", err)
	}
	return &event, nil
}
