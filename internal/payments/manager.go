package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// PaymentContext carries the hints used to pick a provider for one call.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

// Manager routes calls to registered providers. An explicit provider wins, then the currency
// route, then the default. A manager with a single provider always uses it.
type Manager struct {
	providers  map[string]Provider
	byCurrency map[string]string
	fallback   string
}

type ManagerOption func(*Manager)

func WithDefaultProvider(key string) ManagerOption {
	return func(m *Manager) { m.fallback = providerKey(key) }
}

// WithCurrencyRoutes maps ISO currency codes to provider keys.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		for currency, key := range routes {
			m.byCurrency[strings.ToUpper(strings.TrimSpace(currency))] = providerKey(key)
		}
	}
}

func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: no providers registered")
	}
	m := &Manager{
		providers:  make(map[string]Provider, len(providers)),
		byCurrency: make(map[string]string),
	}
	for key, p := range providers {
		normalised := providerKey(key)
		if normalised == "" || p == nil {
			return nil, fmt.Errorf("payments: bad registration %q", key)
		}
		m.providers[normalised] = p
		if len(providers) == 1 {
			m.fallback = normalised
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

func (m *Manager) CreatePaymentIntent(ctx context.Context, pc PaymentContext, req IntentRequest) (PaymentIntent, error) {
	key, p, err := m.pick(pc)
	if err != nil {
		return PaymentIntent{}, err
	}
	intent, err := p.CreatePaymentIntent(ctx, req)
	if err != nil {
		return PaymentIntent{}, err
	}
	intent.Provider = key
	return intent, nil
}

func (m *Manager) CancelPaymentIntent(ctx context.Context, pc PaymentContext, req CancelRequest) (PaymentDetails, error) {
	key, p, err := m.pick(pc)
	if err != nil {
		return PaymentDetails{}, err
	}
	details, err := p.CancelPaymentIntent(ctx, req)
	details.Provider = key
	return details, err
}

func (m *Manager) LookupPayment(ctx context.Context, pc PaymentContext, req LookupRequest) (PaymentDetails, error) {
	key, p, err := m.pick(pc)
	if err != nil {
		return PaymentDetails{}, err
	}
	details, err := p.LookupPayment(ctx, req)
	details.Provider = key
	return details, err
}

// ParseWebhook verifies payload with the provider named in the webhook route. Currency and
// default routing do not apply: a webhook for an unknown provider is rejected.
func (m *Manager) ParseWebhook(ctx context.Context, provider string, payload []byte, signature string) (WebhookEvent, error) {
	key := providerKey(provider)
	p, ok := m.providers[key]
	if !ok {
		return WebhookEvent{}, fmt.Errorf("%w: %q", ErrUnsupportedProvider, provider)
	}
	evt, err := p.ParseWebhook(ctx, payload, signature)
	if err != nil {
		return WebhookEvent{}, err
	}
	evt.Provider = key
	return evt, nil
}

func (m *Manager) pick(pc PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, ErrUnsupportedProvider
	}
	if key := providerKey(pc.PreferredProvider); key != "" {
		if p, ok := m.providers[key]; ok {
			return key, p, nil
		}
		return "", nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, pc.PreferredProvider)
	}
	candidates := []string{m.byCurrency[strings.ToUpper(strings.TrimSpace(pc.Currency))], m.fallback}
	for _, key := range candidates {
		if p, ok := m.providers[key]; ok {
			return key, p, nil
		}
	}
	return "", nil, fmt.Errorf("%w: no route for currency %q", ErrUnsupportedProvider, pc.Currency)
}

func providerKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
