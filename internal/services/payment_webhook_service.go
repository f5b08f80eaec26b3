package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/groupdine/api/internal/domain"
	"github.com/groupdine/api/internal/payments"
	"github.com/groupdine/api/internal/platform/idempotency"
	"github.com/groupdine/api/internal/repositories"
)

var (
	errWebhookRepositoryRequired = errors.New("payment webhook service: repository is required")
	errWebhookParserRequired     = errors.New("payment webhook service: webhook parser is required")
	errWebhookInboxRequired      = errors.New("payment webhook service: inbox is required")
	errWebhookClockRequired      = errors.New("payment webhook service: clock is required")
)

var (
	// ErrWebhookInvalidSignature indicates the payload could not be authenticated.
	ErrWebhookInvalidSignature = errors.New("payment webhook service: invalid signature")
	// ErrWebhookUnsupportedProvider indicates the webhook targets an unknown payment provider.
	ErrWebhookUnsupportedProvider = errors.New("payment webhook service: unsupported provider")
	// ErrWebhookInvalidPayload indicates the payload was authentic but unreadable.
	ErrWebhookInvalidPayload = errors.New("payment webhook service: invalid payload")
	// ErrWebhookInFlight indicates another delivery of the same event is being processed.
	ErrWebhookInFlight = errors.New("payment webhook service: event in flight")
)

// WebhookParser authenticates and normalises PSP payloads. payments.Manager satisfies it.
type WebhookParser interface {
	ParseWebhook(ctx context.Context, providerKey string, payload []byte, signature string) (payments.WebhookEvent, error)
}

// WebhookInbox deduplicates deliveries per handler and event id. idempotency.Inbox satisfies it.
type WebhookInbox interface {
	Claim(ctx context.Context, handler, eventID, fingerprint string) (idempotency.ClaimState, error)
	Complete(ctx context.Context, handler, eventID, fingerprint string) error
	Abandon(ctx context.Context, handler, eventID, fingerprint string) error
}

// WebhookOutcome summarises what a delivery did.
type WebhookOutcome string

const (
	WebhookOutcomeApplied   WebhookOutcome = "applied"
	WebhookOutcomeNoop      WebhookOutcome = "noop"
	WebhookOutcomeDuplicate WebhookOutcome = "duplicate"
	WebhookOutcomeIgnored   WebhookOutcome = "ignored"
	WebhookOutcomeRejected  WebhookOutcome = "rejected"
)

// WebhookResult describes the handling of one webhook delivery.
type WebhookResult struct {
	Provider   string
	EventID    string
	EventType  payments.WebhookEventType
	IntentID   string
	CartID     string
	UserID     string
	Outcome    WebhookOutcome
	CartStatus domain.TeamCartStatus
}

// PaymentWebhookServiceDeps wires the webhook handler.
type PaymentWebhookServiceDeps struct {
	Repository       repositories.TeamCartRepository
	Parser           WebhookParser
	Inbox            WebhookInbox
	Events           TeamCartEventPublisher
	Clock            func() time.Time
	Logger           func(context.Context, string, map[string]any)
	IDGenerator      func() string
	MutationAttempts int
}

type paymentWebhookService struct {
	cartWriter
	parser WebhookParser
	inbox  WebhookInbox
	newID  func() string
}

var _ PaymentWebhookService = (*paymentWebhookService)(nil)

// NewPaymentWebhookService constructs the webhook handler.
func NewPaymentWebhookService(deps PaymentWebhookServiceDeps) (PaymentWebhookService, error) {
	if deps.Repository == nil {
		return nil, errWebhookRepositoryRequired
	}
	if deps.Parser == nil {
		return nil, errWebhookParserRequired
	}
	if deps.Inbox == nil {
		return nil, errWebhookInboxRequired
	}
	if deps.Clock == nil {
		return nil, errWebhookClockRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	attempts := deps.MutationAttempts
	if attempts <= 0 {
		attempts = defaultMutationAttempts
	}
	return &paymentWebhookService{
		cartWriter: cartWriter{
			repo:     deps.Repository,
			events:   deps.Events,
			now:      func() time.Time { return deps.Clock().UTC() },
			logger:   logger,
			attempts: attempts,
		},
		parser: deps.Parser,
		inbox:  deps.Inbox,
		newID:  idGen,
	}, nil
}

// HandleWebhook verifies the payload and applies it.
func (s *paymentWebhookService) HandleWebhook(ctx context.Context, provider string, payload []byte, signature string) (WebhookResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	evt, err := s.parser.ParseWebhook(ctx, provider, payload, signature)
	if err != nil {
		result := WebhookResult{Provider: provider, Outcome: WebhookOutcomeRejected}
		switch {
		case errors.Is(err, payments.ErrInvalidSignature):
			s.logger(ctx, "payment_webhook.signature_rejected", map[string]any{"provider": provider})
			return result, fmt.Errorf("%w: %v", ErrWebhookInvalidSignature, err)
		case errors.Is(err, payments.ErrUnsupportedProvider):
			return result, fmt.Errorf("%w: %s", ErrWebhookUnsupportedProvider, provider)
		default:
			return result, fmt.Errorf("%w: %v", ErrWebhookInvalidPayload, err)
		}
	}
	if evt.Provider == "" {
		evt.Provider = provider
	}
	return s.HandleEvent(ctx, evt)
}

// HandleEvent applies an authenticated gateway event. Unknown event types and intents that do not
// belong to a team cart are acknowledged without effect. Duplicate deliveries are no-ops.
// Failures that redelivery cannot fix are recorded in the inbox and still returned so they
// surface in monitoring.
func (s *paymentWebhookService) HandleEvent(ctx context.Context, evt payments.WebhookEvent) (WebhookResult, error) {
	result := WebhookResult{
		Provider:  evt.Provider,
		EventID:   evt.ID,
		EventType: evt.Type,
		IntentID:  evt.IntentID,
	}
	if evt.Type != payments.WebhookPaymentSucceeded && evt.Type != payments.WebhookPaymentFailed {
		result.Outcome = WebhookOutcomeIgnored
		return result, nil
	}

	meta, ok, err := payments.ParseTeamCartMetadata(evt.Metadata)
	if !ok || err != nil {
		fields := map[string]any{"provider": evt.Provider, "eventId": evt.ID, "intentId": evt.IntentID}
		if err != nil {
			fields["error"] = err.Error()
		}
		s.logger(ctx, "payment_webhook.metadata_ignored", fields)
		result.Outcome = WebhookOutcomeIgnored
		return result, nil
	}
	result.CartID = meta.CartID
	result.UserID = meta.MemberUserID

	eventID := strings.TrimSpace(evt.ID)
	fingerprint := evt.IntentID + "|" + string(evt.Type)
	if eventID == "" {
		eventID = fingerprint
	}
	state, err := s.inbox.Claim(ctx, evt.Provider, eventID, fingerprint)
	if err != nil {
		if errors.Is(err, idempotency.ErrFingerprintMismatch) {
			return result, fmt.Errorf("%w: event %s was first seen with a different outcome", ErrWebhookInvalidPayload, eventID)
		}
		return result, fmt.Errorf("%w: inbox claim: %v", ErrTeamCartUnavailable, err)
	}
	switch state {
	case idempotency.ClaimProcessed:
		result.Outcome = WebhookOutcomeDuplicate
		return result, nil
	case idempotency.ClaimInFlight:
		return result, ErrWebhookInFlight
	}

	cart, changed, err := s.apply(ctx, evt, meta)
	if err != nil {
		if retryable(err) {
			if abandonErr := s.inbox.Abandon(ctx, evt.Provider, eventID, fingerprint); abandonErr != nil {
				s.logger(ctx, "payment_webhook.inbox_abandon_failed", map[string]any{"eventId": eventID, "error": abandonErr.Error()})
			}
		} else {
			s.complete(ctx, evt.Provider, eventID, fingerprint)
		}
		s.logger(ctx, "payment_webhook.apply_failed", map[string]any{
			"provider":     evt.Provider,
			"eventId":      eventID,
			"eventType":    string(evt.Type),
			"intentId":     evt.IntentID,
			"cartId":       meta.CartID,
			"userId":       meta.MemberUserID,
			"quoteVersion": meta.QuoteVersion,
			"error":        err.Error(),
		})
		result.Outcome = WebhookOutcomeRejected
		return result, err
	}

	s.complete(ctx, evt.Provider, eventID, fingerprint)
	result.CartStatus = cart.Status
	result.Outcome = WebhookOutcomeNoop
	if changed {
		result.Outcome = WebhookOutcomeApplied
	}
	return result, nil
}

func (s *paymentWebhookService) apply(ctx context.Context, evt payments.WebhookEvent, meta payments.TeamCartMetadata) (TeamCart, bool, error) {
	changed := false
	cart, err := s.mutate(ctx, meta.CartID, "payment_webhook.applied", func(cart *TeamCart, now time.Time) ([]domain.Event, error) {
		var (
			events []domain.Event
			err    error
		)
		switch evt.Type {
		case payments.WebhookPaymentSucceeded:
			currency := strings.TrimSpace(evt.Currency)
			if currency == "" {
				currency = cart.Currency
			}
			amount, convErr := domain.MoneyFromMinorUnits(evt.Amount, currency)
			if convErr != nil {
				return nil, convErr
			}
			if evt.Amount != meta.QuotedMinorUnits {
				return nil, domain.ErrQuoteAmountMismatch.WithMessage(fmt.Sprintf("paid %d minor units, intent quoted %d", evt.Amount, meta.QuotedMinorUnits))
			}
			paymentID := meta.PaymentID
			if paymentID == "" {
				paymentID = s.newID()
			}
			events, err = cart.RecordOnlinePaymentSucceeded(domain.OnlinePaymentConfirmation{
				PaymentID:     paymentID,
				UserID:        meta.MemberUserID,
				TransactionID: evt.IntentID,
				QuoteVersion:  meta.QuoteVersion,
				Amount:        amount,
			}, now)
		default:
			events, err = cart.RecordOnlinePaymentFailed(meta.MemberUserID, evt.IntentID, now)
		}
		changed = len(events) > 0
		return events, err
	})
	if err != nil {
		return TeamCart{}, false, err
	}
	return cart, changed, nil
}

func (s *paymentWebhookService) complete(ctx context.Context, provider, eventID, fingerprint string) {
	if err := s.inbox.Complete(ctx, provider, eventID, fingerprint); err != nil {
		s.logger(ctx, "payment_webhook.inbox_complete_failed", map[string]any{
			"provider": provider,
			"eventId":  eventID,
			"error":    err.Error(),
		})
	}
}

// retryable reports whether redelivering the event could succeed.
func retryable(err error) bool {
	return errors.Is(err, ErrTeamCartUnavailable) || errors.Is(err, ErrTeamCartConflict)
}
