// Package payments talks to payment service providers on behalf of team cart members. Each
// member share becomes one payment intent; the provider later reports the outcome by webhook.
package payments

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	ErrInvalidSignature    = errors.New("payments: invalid webhook signature")
)

// Status is the provider-neutral state of a payment intent.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// IntentRequest asks the provider to collect Amount minor units from one member.
type IntentRequest struct {
	Amount         int64
	Currency       string
	CustomerID     string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// PaymentIntent is what the member's client needs to complete payment.
type PaymentIntent struct {
	ID           string
	Provider     string
	ClientSecret string
	Status       Status
	Amount       int64
	Currency     string
	Metadata     map[string]string
	CreatedAt    time.Time
}

type CancelRequest struct {
	IntentID       string
	Reason         string
	IdempotencyKey string
}

type LookupRequest struct {
	IntentID string
}

// PaymentDetails is the provider's current view of an intent.
type PaymentDetails struct {
	Provider string
	IntentID string
	Status   Status
	Amount   int64
	Currency string
	Metadata map[string]string
}

// WebhookEventType is the outcome a webhook carries.
type WebhookEventType string

const (
	WebhookPaymentSucceeded WebhookEventType = "payment.succeeded"
	WebhookPaymentFailed    WebhookEventType = "payment.failed"
	// WebhookIgnored is any notification without a payment outcome.
	WebhookIgnored WebhookEventType = "ignored"
)

// WebhookEvent is a verified notification. ID is the provider's event id and is what the inbox
// deduplicates on.
type WebhookEvent struct {
	ID         string
	Provider   string
	Type       WebhookEventType
	RawType    string
	IntentID   string
	Amount     int64
	Currency   string
	Metadata   map[string]string
	OccurredAt time.Time
}

// Provider is implemented by each PSP adapter.
type Provider interface {
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, req CancelRequest) (PaymentDetails, error)
	LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error)
	// ParseWebhook must reject payloads whose signature does not verify with ErrInvalidSignature.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (WebhookEvent, error)
}
