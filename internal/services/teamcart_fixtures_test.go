package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	domain "github.com/groupdine/api/internal/domain"
	"github.com/groupdine/api/internal/payments"
	"github.com/groupdine/api/internal/repositories/memory"
)

const (
	fixtureRestaurant = "rest_1"
	fixtureHost       = "host"
	fixtureGuest      = "guest"
)

var fixtureStart = time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: fixtureStart} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func sequentialIDs(prefix string) func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s_%03d", prefix, n)
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (p *recordingPublisher) PublishTeamCartEvents(_ context.Context, events []domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return p.err
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, 0, len(p.events))
	for _, evt := range p.events {
		out = append(out, evt.Type)
	}
	return out
}

type fakeGateway struct {
	mu        sync.Mutex
	requests  []payments.IntentRequest
	cancelled []string
	byKey     map[string]payments.PaymentIntent
	err       error
	next      int
}

func (g *fakeGateway) CreatePaymentIntent(_ context.Context, _ payments.PaymentContext, req payments.IntentRequest) (payments.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return payments.PaymentIntent{}, g.err
	}
	g.requests = append(g.requests, req)
	if intent, ok := g.byKey[req.IdempotencyKey]; ok {
		return intent, nil
	}
	g.next++
	id := fmt.Sprintf("pi_%d", g.next)
	intent := payments.PaymentIntent{
		ID:           id,
		Provider:     "stripe",
		ClientSecret: id + "_secret",
		Status:       payments.StatusPending,
		Amount:       req.Amount,
		Currency:     req.Currency,
		Metadata:     req.Metadata,
	}
	if g.byKey == nil {
		g.byKey = make(map[string]payments.PaymentIntent)
	}
	g.byKey[req.IdempotencyKey] = intent
	return intent, nil
}

func (g *fakeGateway) CancelPaymentIntent(_ context.Context, _ payments.PaymentContext, req payments.CancelRequest) (payments.PaymentDetails, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, req.IntentID)
	return payments.PaymentDetails{IntentID: req.IntentID, Status: payments.StatusCanceled}, nil
}

type teamCartHarness struct {
	store     *memory.Store
	clock     *fakeClock
	events    *recordingPublisher
	gateway   *fakeGateway
	financial OrderFinancialService
	svc       TeamCartService
}

type harnessOption func(*TeamCartServiceDeps)

func withSettings(settings TeamCartSettings) harnessOption {
	return func(d *TeamCartServiceDeps) { d.Settings = settings }
}

func newTeamCartHarness(t *testing.T, opts ...harnessOption) *teamCartHarness {
	t.Helper()
	store := memory.NewStore()
	seedMenu(store)

	financial, err := NewOrderFinancialService(OrderFinancialServiceDeps{DefaultCurrency: "USD"})
	require.NoError(t, err)

	h := &teamCartHarness{
		store:     store,
		clock:     newFakeClock(),
		events:    &recordingPublisher{},
		gateway:   &fakeGateway{},
		financial: financial,
	}
	deps := TeamCartServiceDeps{
		Repository:     store.TeamCarts(),
		Coupons:        store.Coupons(),
		CouponUsage:    store.CouponUsage(),
		Menu:           store.Menu(),
		Financial:      financial,
		Payments:       h.gateway,
		Events:         h.events,
		Settings:       TeamCartSettings{DefaultCurrency: "USD", TTL: 2 * time.Hour},
		Clock:          h.clock.Now,
		IDGenerator:    sequentialIDs("id"),
		TokenGenerator: func() string { return "share-token" },
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h.svc, err = NewTeamCartService(deps)
	require.NoError(t, err)
	return h
}

func seedMenu(store *memory.Store) {
	usd := func(v string) domain.Money { return domain.MustMoney(v, "USD") }
	store.PutMenuItem(domain.MenuItem{
		ID: "pizza", RestaurantID: fixtureRestaurant, CategoryID: "mains",
		Name: "Margherita", Price: usd("15.99"), Available: true,
		CustomizationGroups: []domain.MenuCustomizationGroup{{
			ID: "size", Name: "Size", MinSelect: 0, MaxSelect: 1,
			Choices: []domain.MenuCustomizationChoice{
				{ID: "large", Name: "Large", PriceAdjustment: usd("2.00")},
				{ID: "xl", Name: "Extra large", PriceAdjustment: usd("4.00")},
			},
		}},
	})
	store.PutMenuItem(domain.MenuItem{ID: "salad", RestaurantID: fixtureRestaurant, CategoryID: "sides", Name: "Caesar", Price: usd("8.50"), Available: true})
	store.PutMenuItem(domain.MenuItem{ID: "soda", RestaurantID: fixtureRestaurant, CategoryID: "drinks", Name: "Soda", Price: usd("2.25"), Available: true})
	store.PutMenuItem(domain.MenuItem{ID: "gone", RestaurantID: fixtureRestaurant, CategoryID: "mains", Name: "Seasonal", Price: usd("9.00"), Available: false})
}

// openCart creates a cart with the host and one guest, each owning one item.
func (h *teamCartHarness) openCart(t *testing.T) TeamCart {
	t.Helper()
	ctx := context.Background()
	cart, err := h.svc.CreateTeamCart(ctx, CreateTeamCartCommand{UserID: fixtureHost, HostName: "Hana", RestaurantID: fixtureRestaurant})
	require.NoError(t, err)
	_, err = h.svc.JoinTeamCart(ctx, JoinTeamCartCommand{CartID: cart.ID, UserID: fixtureGuest, Name: "Gus", ShareToken: cart.ShareToken})
	require.NoError(t, err)
	_, err = h.svc.AddItem(ctx, AddTeamCartItemCommand{CartID: cart.ID, UserID: fixtureHost, MenuItemID: "pizza", Quantity: 1})
	require.NoError(t, err)
	cart, err = h.svc.AddItem(ctx, AddTeamCartItemCommand{CartID: cart.ID, UserID: fixtureGuest, MenuItemID: "salad", Quantity: 2})
	require.NoError(t, err)
	return cart
}

// finalizedCart locks and prices a cart opened by openCart.
func (h *teamCartHarness) finalizedCart(t *testing.T) TeamCart {
	t.Helper()
	ctx := context.Background()
	cart := h.openCart(t)
	_, err := h.svc.LockTeamCart(ctx, cart.ID, fixtureHost)
	require.NoError(t, err)
	cart, err = h.svc.FinalizePricing(ctx, cart.ID, fixtureHost)
	require.NoError(t, err)
	return cart
}

func (h *teamCartHarness) reload(t *testing.T, cartID string) TeamCart {
	t.Helper()
	cart, err := h.store.TeamCarts().FindByID(context.Background(), cartID)
	require.NoError(t, err)
	return cart
}

func usd(v string) domain.Money { return domain.MustMoney(v, "USD") }

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }
