package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInboxClaimCompleteAndAbandon(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	inbox, err := NewInbox(NewMemoryStore(), WithInboxClock(func() time.Time { return current }), WithInboxLease(time.Minute))
	if err != nil {
		t.Fatalf("new inbox: %v", err)
	}

	state, err := inbox.Claim(ctx, "stripe", "evt_1", "pi_1|succeeded")
	if err != nil || state != ClaimAcquired {
		t.Fatalf("expected first claim to be acquired, got %v (%v)", state, err)
	}
	if state, _ := inbox.Claim(ctx, "stripe", "evt_1", "pi_1|succeeded"); state != ClaimInFlight {
		t.Fatalf("expected concurrent claim to be in flight, got %v", state)
	}

	if err := inbox.Abandon(ctx, "stripe", "evt_1", "pi_1|succeeded"); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if state, _ := inbox.Claim(ctx, "stripe", "evt_1", "pi_1|succeeded"); state != ClaimAcquired {
		t.Fatalf("expected claim after abandon to be acquired, got %v", state)
	}

	if err := inbox.Complete(ctx, "stripe", "evt_1", "pi_1|succeeded"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	current = current.Add(time.Hour)
	if state, _ := inbox.Claim(ctx, "stripe", "evt_1", "pi_1|succeeded"); state != ClaimProcessed {
		t.Fatalf("expected processed event to stay processed past the lease, got %v", state)
	}

	if _, err := inbox.Claim(ctx, "stripe", "evt_1", "pi_1|failed"); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected fingerprint mismatch for a different outcome, got %v", err)
	}
	if state, _ := inbox.Claim(ctx, "other-handler", "evt_1", "pi_1|failed"); state != ClaimAcquired {
		t.Fatalf("expected handlers to be isolated, got %v", state)
	}
}

func TestInboxStaleClaimCanBeRetaken(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	inbox, err := NewInbox(NewMemoryStore(), WithInboxClock(func() time.Time { return current }), WithInboxLease(time.Minute))
	if err != nil {
		t.Fatalf("new inbox: %v", err)
	}

	if state, _ := inbox.Claim(ctx, "stripe", "evt_2", "pi_2|failed"); state != ClaimAcquired {
		t.Fatalf("expected claim, got %v", state)
	}
	current = current.Add(2 * time.Minute)
	if state, _ := inbox.Claim(ctx, "stripe", "evt_2", "pi_2|failed"); state != ClaimAcquired {
		t.Fatalf("expected expired claim to be retaken, got %v", state)
	}
}

func TestNewInboxRequiresStore(t *testing.T) {
	if _, err := NewInbox(nil); err == nil {
		t.Fatalf("expected error without store")
	}
}
