package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/groupdine/api/internal/domain"
	"github.com/groupdine/api/internal/platform/httpx"
	"github.com/groupdine/api/internal/platform/requestctx"
	"github.com/groupdine/api/internal/services"
)

const maxWebhookBodySize = 256 * 1024

var signatureHeaders = map[string]string{
	"stripe": "Stripe-Signature",
}

// PaymentWebhookHandlers receives PSP notifications. Authenticity comes from the provider
// signature, so the routes carry no Firebase or OIDC middleware.
type PaymentWebhookHandlers struct {
	webhooks services.PaymentWebhookService
}

// NewPaymentWebhookHandlers constructs webhook handlers backed by the payment webhook service.
func NewPaymentWebhookHandlers(webhooks services.PaymentWebhookService) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{webhooks: webhooks}
}

// Routes registers the /webhooks endpoints.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/{provider}", h.receive)
}

type webhookAckResponse struct {
	Received   bool   `json:"received"`
	EventID    string `json:"event_id,omitempty"`
	Outcome    string `json:"outcome,omitempty"`
	CartID     string `json:"cart_id,omitempty"`
	CartStatus string `json:"cart_status,omitempty"`
}

func (h *PaymentWebhookHandlers) receive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.webhooks == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_service_unavailable", "payment webhook service is unavailable", http.StatusServiceUnavailable))
		return
	}

	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	header, ok := signatureHeaders[provider]
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_provider", "payment provider is not supported", http.StatusNotFound))
		return
	}
	signature := strings.TrimSpace(r.Header.Get(header))
	if signature == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "signature header missing", http.StatusBadRequest))
		return
	}

	payload, ok := readBody(w, r, maxWebhookBodySize)
	if !ok {
		return
	}

	result, err := h.webhooks.HandleWebhook(ctx, provider, payload, signature)
	if err != nil {
		writeWebhookError(ctx, w, err)
		return
	}
	requestctx.Annotate(ctx, "webhook_event_id", result.EventID)
	requestctx.Annotate(ctx, "webhook_outcome", string(result.Outcome))
	writeJSONResponse(w, http.StatusOK, webhookAckResponse{
		Received:   true,
		EventID:    result.EventID,
		Outcome:    string(result.Outcome),
		CartID:     result.CartID,
		CartStatus: string(result.CartStatus),
	})
}

// writeWebhookError chooses between statuses the PSP retries (5xx) and statuses it records as
// delivered-but-rejected (4xx). Permanent failures are already completed in the inbox, so a
// redelivery would be acknowledged as a duplicate.
func writeWebhookError(ctx context.Context, w http.ResponseWriter, err error) {
	var details map[string]any
	var domainErr *domain.Error
	if errors.As(err, &domainErr) {
		details = map[string]any{"code": string(domainErr.Code)}
		requestctx.Annotate(ctx, "domain_code", string(domainErr.Code))
	}
	var apiErr httpx.Error
	switch {
	case errors.Is(err, services.ErrWebhookInvalidSignature):
		apiErr = httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest)
	case errors.Is(err, services.ErrWebhookUnsupportedProvider):
		apiErr = httpx.NewError("unsupported_provider", "payment provider is not supported", http.StatusNotFound)
	case errors.Is(err, services.ErrWebhookInvalidPayload):
		apiErr = httpx.NewError("invalid_payload", "webhook payload could not be parsed", http.StatusBadRequest)
	case errors.Is(err, services.ErrWebhookInFlight),
		errors.Is(err, services.ErrTeamCartConflict),
		errors.Is(err, services.ErrTeamCartUnavailable):
		apiErr = httpx.NewError("webhook_retry", "event could not be applied yet; retry later", http.StatusServiceUnavailable).WithRetryAfter(5 * time.Second)
	default:
		apiErr = httpx.NewError("webhook_rejected", errorMessage(domainErr, err), http.StatusUnprocessableEntity)
	}
	httpx.WriteError(ctx, w, apiErr.WithDetails(details))
}
