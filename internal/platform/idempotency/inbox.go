package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ClaimState is the outcome of claiming an inbound event.
type ClaimState int

const (
	// ClaimAcquired means the caller owns the event and must Complete or Abandon it.
	ClaimAcquired ClaimState = iota
	// ClaimProcessed means the event was already handled; the caller should acknowledge and skip it.
	ClaimProcessed
	// ClaimInFlight means another worker currently holds the event.
	ClaimInFlight
)

const (
	// DefaultInboxTTL is how long processed events are remembered.
	DefaultInboxTTL = 7 * 24 * time.Hour
	// DefaultInboxLease is how long a claim blocks redeliveries before another worker may take over.
	DefaultInboxLease = 5 * time.Minute
)

// Inbox records which inbound events a handler has processed so side effects happen at most
// once per (handler, event id) even under at-least-once delivery.
type Inbox struct {
	store Store
	ttl   time.Duration
	lease time.Duration
	clock func() time.Time
}

// InboxOption customises an Inbox.
type InboxOption func(*Inbox)

// WithInboxTTL overrides how long processed events are remembered.
func WithInboxTTL(ttl time.Duration) InboxOption {
	return func(i *Inbox) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithInboxLease overrides how long an unfinished claim is honoured.
func WithInboxLease(lease time.Duration) InboxOption {
	return func(i *Inbox) {
		if lease > 0 {
			i.lease = lease
		}
	}
}

// WithInboxClock overrides the inbox time source.
func WithInboxClock(clock func() time.Time) InboxOption {
	return func(i *Inbox) {
		if clock != nil {
			i.clock = clock
		}
	}
}

// NewInbox builds an inbox on top of an idempotency store.
func NewInbox(store Store, opts ...InboxOption) (*Inbox, error) {
	if store == nil {
		return nil, errors.New("idempotency: inbox store is required")
	}
	inbox := &Inbox{store: store, ttl: DefaultInboxTTL, lease: DefaultInboxLease, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(inbox)
		}
	}
	return inbox, nil
}

// Claim reserves the event for processing. A fingerprint differing from the one first seen for
// the same event id yields ErrFingerprintMismatch.
func (i *Inbox) Claim(ctx context.Context, handler, eventID, fingerprint string) (ClaimState, error) {
	reservation, err := i.store.Reserve(ctx, inboxKey(handler, eventID), fingerprint, i.clock(), i.lease)
	if err != nil {
		return ClaimInFlight, err
	}
	switch reservation.State {
	case ReservationStateNew:
		return ClaimAcquired, nil
	case ReservationStateCompleted:
		return ClaimProcessed, nil
	default:
		return ClaimInFlight, nil
	}
}

// Complete marks a claimed event processed.
func (i *Inbox) Complete(ctx context.Context, handler, eventID, fingerprint string) error {
	return i.store.SaveResponse(ctx, inboxKey(handler, eventID), fingerprint, Response{Status: 200}, i.clock(), i.ttl)
}

// Abandon releases a claim so a redelivery can process the event again.
func (i *Inbox) Abandon(ctx context.Context, handler, eventID, fingerprint string) error {
	return i.store.Release(ctx, inboxKey(handler, eventID), fingerprint)
}

func inboxKey(handler, eventID string) string {
	return "inbox:" + strings.TrimSpace(handler) + ":" + strings.TrimSpace(eventID)
}
