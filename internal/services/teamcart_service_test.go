package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/groupdine/api/internal/domain"
	"github.com/groupdine/api/internal/repositories"
)

func TestNewTeamCartServiceRequiresDependencies(t *testing.T) {
	_, err := NewTeamCartService(TeamCartServiceDeps{})
	require.ErrorIs(t, err, errTeamCartRepositoryRequired)

	h := newTeamCartHarness(t)
	_, err = NewTeamCartService(TeamCartServiceDeps{Repository: h.store.TeamCarts(), Financial: h.financial})
	require.ErrorIs(t, err, errTeamCartClockRequired)

	_, err = NewTeamCartService(TeamCartServiceDeps{Repository: h.store.TeamCarts(), Clock: time.Now})
	require.ErrorIs(t, err, errTeamCartFinancialRequired)
}

func TestCreateTeamCart(t *testing.T) {
	h := newTeamCartHarness(t)
	ctx := context.Background()

	cart, err := h.svc.CreateTeamCart(ctx, CreateTeamCartCommand{UserID: fixtureHost, HostName: "<b>Hana</b>", RestaurantID: fixtureRestaurant})
	require.NoError(t, err)
	require.Equal(t, domain.TeamCartOpen, cart.Status)
	require.Equal(t, "USD", cart.Currency)
	require.Equal(t, fixtureStart.Add(2*time.Hour), cart.ExpiresAt)
	require.EqualValues(t, 1, cart.Revision)
	require.Len(t, cart.Members, 1)
	require.Equal(t, "Hana", cart.Members[0].Name)
	require.Equal(t, []domain.EventType{domain.EventTeamCartCreated}, h.events.types())

	_, err = h.svc.CreateTeamCart(ctx, CreateTeamCartCommand{UserID: fixtureHost, HostName: "Hana", RestaurantID: fixtureRestaurant, Currency: "US"})
	require.ErrorIs(t, err, ErrTeamCartInvalidInput)

	_, err = h.svc.CreateTeamCart(ctx, CreateTeamCartCommand{UserID: fixtureHost, HostName: "Hana"})
	require.ErrorIs(t, err, ErrTeamCartInvalidInput)
}

func TestJoinTeamCart(t *testing.T) {
	h := newTeamCartHarness(t)
	ctx := context.Background()
	cart, err := h.svc.CreateTeamCart(ctx, CreateTeamCartCommand{UserID: fixtureHost, HostName: "Hana", RestaurantID: fixtureRestaurant})
	require.NoError(t, err)

	_, err = h.svc.JoinTeamCart(ctx, JoinTeamCartCommand{CartID: cart.ID, UserID: fixtureGuest, Name: "Gus", ShareToken: "wrong"})
	require.ErrorIs(t, err, ErrTeamCartForbidden)

	joined, err := h.svc.JoinTeamCart(ctx, JoinTeamCartCommand{CartID: cart.ID, UserID: fixtureGuest, Name: "Gus", ShareToken: cart.ShareToken})
	require.NoError(t, err)
	require.Len(t, joined.Members, 2)
	require.EqualValues(t, 2, joined.Revision)

	again, err := h.svc.JoinTeamCart(ctx, JoinTeamCartCommand{CartID: cart.ID, UserID: fixtureGuest, Name: "Gus", ShareToken: "ignored for members"})
	require.NoError(t, err)
	require.EqualValues(t, 2, again.Revision, "rejoining must not write")

	_, err = h.svc.JoinTeamCart(ctx, JoinTeamCartCommand{CartID: "missing", UserID: "u", Name: "U", ShareToken: cart.ShareToken})
	require.ErrorIs(t, err, ErrTeamCartNotFound)
}

func TestJoinTeamCartEnforcesMemberLimit(t *testing.T) {
	h := newTeamCartHarness(t, withSettings(TeamCartSettings{DefaultCurrency: "USD", MaxMembers: 2}))
	ctx := context.Background()
	cart, err := h.svc.CreateTeamCart(ctx, CreateTeamCartCommand{UserID: fixtureHost, HostName: "Hana", RestaurantID: fixtureRestaurant})
	require.NoError(t, err)

	_, err = h.svc.JoinTeamCart(ctx, JoinTeamCartCommand{CartID: cart.ID, UserID: "g1", Name: "One", ShareToken: cart.ShareToken})
	require.NoError(t, err)
	_, err = h.svc.JoinTeamCart(ctx, JoinTeamCartCommand{CartID: cart.ID, UserID: "g2", Name: "Two", ShareToken: cart.ShareToken})
	require.ErrorIs(t, err, ErrTeamCartInvalidState)
	require.ErrorIs(t, err, domain.ErrMemberLimitReached)
}

func TestGetTeamCartRequiresMembership(t *testing.T) {
	h := newTeamCartHarness(t)
	cart := h.openCart(t)

	got, err := h.svc.GetTeamCart(context.Background(), cart.ID, fixtureGuest)
	require.NoError(t, err)
	require.Equal(t, cart.ID, got.ID)

	_, err = h.svc.GetTeamCart(context.Background(), cart.ID, "stranger")
	require.ErrorIs(t, err, ErrTeamCartForbidden)
}

func TestAddItemSnapshotsCatalog(t *testing.T) {
	h := newTeamCartHarness(t)
	ctx := context.Background()
	cart := h.openCart(t)

	updated, err := h.svc.AddItem(ctx, AddTeamCartItemCommand{
		CartID:         cart.ID,
		UserID:         fixtureGuest,
		MenuItemID:     "pizza",
		Quantity:       2,
		Customizations: []CustomizationSelection{{GroupID: "size", ChoiceID: "large"}},
	})
	require.NoError(t, err)
	item := updated.Items[len(updated.Items)-1]
	require.Equal(t, "Margherita", item.Name)
	require.Equal(t, "mains", item.MenuCategoryID)
	require.True(t, item.LineItemTotal().Equal(usd("35.98")))

	cases := []struct {
		name string
		cmd  AddTeamCartItemCommand
		want error
	}{
		{name: "unavailable", cmd: AddTeamCartItemCommand{UserID: fixtureGuest, MenuItemID: "gone", Quantity: 1}, want: ErrTeamCartInvalidInput},
		{name: "unknown item", cmd: AddTeamCartItemCommand{UserID: fixtureGuest, MenuItemID: "sushi", Quantity: 1}, want: ErrTeamCartNotFound},
		{name: "zero quantity", cmd: AddTeamCartItemCommand{UserID: fixtureGuest, MenuItemID: "soda", Quantity: 0}, want: ErrTeamCartInvalidInput},
		{name: "unknown choice", cmd: AddTeamCartItemCommand{UserID: fixtureGuest, MenuItemID: "pizza", Quantity: 1, Customizations: []CustomizationSelection{{GroupID: "size", ChoiceID: "tiny"}}}, want: ErrTeamCartInvalidInput},
		{name: "too many choices", cmd: AddTeamCartItemCommand{UserID: fixtureGuest, MenuItemID: "pizza", Quantity: 1, Customizations: []CustomizationSelection{{GroupID: "size", ChoiceID: "large"}, {GroupID: "size", ChoiceID: "xl"}}}, want: ErrTeamCartInvalidInput},
		{name: "not a member", cmd: AddTeamCartItemCommand{UserID: "stranger", MenuItemID: "soda", Quantity: 1}, want: ErrTeamCartForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.cmd.CartID = cart.ID
			_, err := h.svc.AddItem(ctx, tc.cmd)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestItemOwnership(t *testing.T) {
	h := newTeamCartHarness(t)
	ctx := context.Background()
	cart := h.openCart(t)
	guestItem := cart.Items[1].ID

	_, err := h.svc.UpdateItemQuantity(ctx, UpdateTeamCartItemCommand{CartID: cart.ID, UserID: fixtureHost, ItemID: guestItem, Quantity: 5})
	require.ErrorIs(t, err, ErrTeamCartForbidden)

	updated, err := h.svc.UpdateItemQuantity(ctx, UpdateTeamCartItemCommand{CartID: cart.ID, UserID: fixtureGuest, ItemID: guestItem, Quantity: 3})
	require.NoError(t, err)
	require.Equal(t, 3, updated.Items[1].Quantity)

	removed, err := h.svc.RemoveItem(ctx, RemoveTeamCartItemCommand{CartID: cart.ID, UserID: fixtureHost, ItemID: guestItem})
	require.NoError(t, err, "the host may remove any item")
	require.Len(t, removed.Items, 1)

	_, err = h.svc.RemoveItem(ctx, RemoveTeamCartItemCommand{CartID: cart.ID, UserID: fixtureGuest, ItemID: cart.Items[0].ID})
	require.ErrorIs(t, err, ErrTeamCartForbidden)
}

func TestLockTeamCart(t *testing.T) {
	h := newTeamCartHarness(t)
	ctx := context.Background()

	empty, err := h.svc.CreateTeamCart(ctx, CreateTeamCartCommand{UserID: fixtureHost, HostName: "Hana", RestaurantID: fixtureRestaurant})
	require.NoError(t, err)
	_, err = h.svc.LockTeamCart(ctx, empty.ID, fixtureHost)
	require.ErrorIs(t, err, domain.ErrCartEmpty)

	cart := h.openCart(t)
	_, err = h.svc.LockTeamCart(ctx, cart.ID, fixtureGuest)
	require.ErrorIs(t, err, ErrTeamCartForbidden)

	locked, err := h.svc.LockTeamCart(ctx, cart.ID, fixtureHost)
	require.NoError(t, err)
	require.Equal(t, domain.TeamCartLocked, locked.Status)

	_, err = h.svc.AddItem(ctx, AddTeamCartItemCommand{CartID: cart.ID, UserID: fixtureGuest, MenuItemID: "soda", Quantity: 1})
	require.ErrorIs(t, err, ErrTeamCartInvalidState)
}

func TestFinalizePricingSplitsQuote(t *testing.T) {
	h := newTeamCartHarness(t, withSettings(TeamCartSettings{
		DefaultCurrency: "USD",
		DeliveryFee:     dec("3.00"),
		TaxRate:         dec("0.08"),
	}))
	ctx := context.Background()
	cart := h.openCart(t)

	_, err := h.svc.FinalizePricing(ctx, cart.ID, fixtureHost)
	require.ErrorIs(t, err, ErrTeamCartInvalidState, "an open cart cannot be priced")

	_, err = h.svc.LockTeamCart(ctx, cart.ID, fixtureHost)
	require.NoError(t, err)
	_, err = h.svc.FinalizePricing(ctx, cart.ID, fixtureGuest)
	require.ErrorIs(t, err, ErrTeamCartForbidden)

	final, err := h.svc.FinalizePricing(ctx, cart.ID, fixtureHost)
	require.NoError(t, err)
	require.Equal(t, domain.TeamCartFinalized, final.Status)
	require.EqualValues(t, 1, final.QuoteVersion)
	require.NotNil(t, final.Quote)
	require.True(t, final.Quote.Subtotal.Equal(usd("32.99")))
	require.True(t, final.Quote.Tax.Equal(usd("2.64")))
	require.True(t, final.Quote.Total.Equal(usd("38.63")))
	require.True(t, final.MemberTotals[fixtureHost].Equal(usd("18.72")))
	require.True(t, final.MemberTotals[fixtureGuest].Equal(usd("19.91")))
}

func TestTipRequotesFinalizedCart(t *testing.T) {
	h := newTeamCartHarness(t)
	ctx := context.Background()
	cart := h.finalizedCart(t)
	require.True(t, cart.Quote.Total.Equal(usd("32.99")))

	_, err := h.svc.ApplyTip(ctx, ApplyTipCommand{CartID: cart.ID, UserID: fixtureGuest, Amount: dec("5")})
	require.ErrorIs(t, err, ErrTeamCartForbidden)

	tipped, err := h.svc.ApplyTip(ctx, ApplyTipCommand{CartID: cart.ID, UserID: fixtureHost, Amount: dec("5")})
	require.NoError(t, err)
	require.EqualValues(t, 2, tipped.QuoteVersion)
	require.False(t, tipped.QuoteStale)
	require.True(t, tipped.Quote.Total.Equal(usd("37.99")))

	_, err = h.svc.ApplyTip(ctx, ApplyTipCommand{CartID: cart.ID, UserID: fixtureHost, Amount: dec("-1")})
	require.ErrorIs(t, err, ErrTeamCartInvalidInput)
}

func TestFinancialEditsBlockedOncePaymentsStart(t *testing.T) {
	h := newTeamCartHarness(t)
	ctx := context.Background()
	cart := h.finalizedCart(t)

	_, err := h.svc.CommitToCashOnDelivery(ctx, cart.ID, fixtureGuest)
	require.NoError(t, err)

	_, err = h.svc.ApplyTip(ctx, ApplyTipCommand{CartID: cart.ID, UserID: fixtureHost, Amount: dec("5")})
	require.ErrorIs(t, err, domain.ErrPaymentsInProgress)
	_, err = h.svc.FinalizePricing(ctx, cart.ID, fixtureHost)
	require.ErrorIs(t, err, domain.ErrPaymentsInProgress)
}

func TestApplyCoupon(t *testing.T) {
	h := newTeamCartHarness(t)
	ctx := context.Background()
	h.store.PutCoupon(domain.Coupon{
		ID: "cpn_10", Code: "SAVE10", RestaurantID: fixtureRestaurant,
		Type: domain.CouponTypePercentage, Scope: domain.CouponScopeWholeOrder,
		PercentOff: dec("10"), Enabled: true,
	})
	h.store.PutCoupon(domain.Coupon{
		ID: "cpn_used", Code: "ONCE", RestaurantID: fixtureRestaurant,
		Type: domain.CouponTypeFixedAmount, Scope: domain.CouponScopeWholeOrder,
		FixedAmount: usd("1.00"), Enabled: true, TotalUsageLimit: 1, UsageCount: 1,
	})
	cart := h.openCart(t)

	_, err := h.svc.ApplyCoupon(ctx, ApplyCouponCommand{CartID: cart.ID, UserID: fixtureHost, Code: "save10"})
	require.ErrorIs(t, err, domain.ErrLockedOnly)

	_, err = h.svc.LockTeamCart(ctx, cart.ID, fixtureHost)
	require.NoError(t, err)

	_, err = h.svc.ApplyCoupon(ctx, ApplyCouponCommand{CartID: cart.ID, UserID: fixtureHost, Code: "nope"})
	require.ErrorIs(t, err, ErrTeamCartInvalidInput)
	require.ErrorIs(t, err, domain.ErrCouponNotApplicable)

	_, err = h.svc.ApplyCoupon(ctx, ApplyCouponCommand{CartID: cart.ID, UserID: fixtureHost, Code: "once"})
	require.ErrorIs(t, err, domain.ErrCouponUsageLimit)

	applied, err := h.svc.ApplyCoupon(ctx, ApplyCouponCommand{CartID: cart.ID, UserID: fixtureHost, Code: " save10 "})
	require.NoError(t, err)
	require.Equal(t, "cpn_10", applied.AppliedCouponID)

	final, err := h.svc.FinalizePricing(ctx, cart.ID, fixtureHost)
	require.NoError(t, err)
	require.True(t, final.Quote.Discount.Equal(usd("3.30")))
	require.True(t, final.Quote.Total.Equal(usd("29.69")))

	removed, err := h.svc.RemoveCoupon(ctx, cart.ID, fixtureHost)
	require.NoError(t, err)
	require.Empty(t, removed.AppliedCouponID)
	require.EqualValues(t, 2, removed.QuoteVersion)
	require.True(t, removed.Quote.Total.Equal(usd("32.99")))
}

func TestCommitToCashOnDeliveryReachesReadyToConfirm(t *testing.T) {
	h := newTeamCartHarness(t)
	ctx := context.Background()
	cart := h.finalizedCart(t)

	_, err := h.svc.CommitToCashOnDelivery(ctx, cart.ID, "stranger")
	require.ErrorIs(t, err, ErrTeamCartForbidden)

	partial, err := h.svc.CommitToCashOnDelivery(ctx, cart.ID, fixtureHost)
	require.NoError(t, err)
	require.Equal(t, domain.TeamCartFinalized, partial.Status)

	ready, err := h.svc.CommitToCashOnDelivery(ctx, cart.ID, fixtureGuest)
	require.NoError(t, err)
	require.Equal(t, domain.TeamCartReadyToConfirm, ready.Status)
	require.Contains(t, h.events.types(), domain.EventReadyToConfirm)

	again, err := h.svc.CommitToCashOnDelivery(ctx, cart.ID, fixtureGuest)
	require.NoError(t, err)
	require.Equal(t, ready.Revision, again.Revision)
}

func TestInitiateOnlinePayment(t *testing.T) {
	h := newTeamCartHarness(t)
	ctx := context.Background()
	cart := h.finalizedCart(t)

	session, err := h.svc.InitiateOnlinePayment(ctx, cart.ID, fixtureGuest)
	require.NoError(t, err)
	require.Equal(t, "pi_1", session.IntentID)
	require.Equal(t, 1, session.Attempt)
	require.EqualValues(t, 1, session.QuoteVersion)
	require.True(t, session.Amount.Equal(usd("17.00")))

	require.Len(t, h.gateway.requests, 1)
	req := h.gateway.requests[0]
	require.EqualValues(t, 1700, req.Amount)
	require.Equal(t, "teamcart:"+cart.ID+":guest:q1:a1", req.IdempotencyKey)
	require.Equal(t, cart.ID, req.Metadata["cartId"])
	require.Equal(t, "1700", req.Metadata["quotedAmountMinorUnits"])
	require.Equal(t, session.PaymentID, req.Metadata["paymentId"])

	retry, err := h.svc.InitiateOnlinePayment(ctx, cart.ID, fixtureGuest)
	require.NoError(t, err)
	require.Equal(t, session.IntentID, retry.IntentID)
	require.Equal(t, session.PaymentID, retry.PaymentID)
	require.Empty(t, h.gateway.cancelled)

	stored := h.reload(t, cart.ID)
	require.Len(t, stored.MemberPayments, 1)
	require.Equal(t, domain.MemberPaymentPending, stored.MemberPayments[0].Status)
}

func TestInitiateOnlinePaymentGatewayFailure(t *testing.T) {
	h := newTeamCartHarness(t)
	cart := h.finalizedCart(t)
	h.gateway.err = errors.New("card network down")

	_, err := h.svc.InitiateOnlinePayment(context.Background(), cart.ID, fixtureHost)
	require.ErrorIs(t, err, ErrTeamCartPaymentFailed)
	require.Empty(t, h.reload(t, cart.ID).MemberPayments)
}

func TestInitiateOnlinePaymentRejectsUnpricedCart(t *testing.T) {
	h := newTeamCartHarness(t)
	cart := h.openCart(t)

	_, err := h.svc.InitiateOnlinePayment(context.Background(), cart.ID, fixtureHost)
	require.Error(t, err)
	require.Empty(t, h.gateway.requests)
}

type conflictingRepository struct {
	repositories.TeamCartRepository
	conflicts int
}

func (r *conflictingRepository) Update(ctx context.Context, cart domain.TeamCart, expected int64) (domain.TeamCart, error) {
	if r.conflicts > 0 {
		r.conflicts--
		return domain.TeamCart{}, repositories.NewConflictError("teamcarts.update", "injected")
	}
	return r.TeamCartRepository.Update(ctx, cart, expected)
}

func TestMutationsRetryRevisionConflicts(t *testing.T) {
	h := newTeamCartHarness(t)
	cart := h.openCart(t)

	repo := &conflictingRepository{TeamCartRepository: h.store.TeamCarts(), conflicts: 2}
	svc, err := NewTeamCartService(TeamCartServiceDeps{
		Repository: repo,
		Financial:  h.financial,
		Clock:      h.clock.Now,
	})
	require.NoError(t, err)

	locked, err := svc.LockTeamCart(context.Background(), cart.ID, fixtureHost)
	require.NoError(t, err)
	require.Equal(t, domain.TeamCartLocked, locked.Status)

	repo.conflicts = 3
	_, err = svc.FinalizePricing(context.Background(), cart.ID, fixtureHost)
	require.ErrorIs(t, err, ErrTeamCartConflict)
	require.Equal(t, domain.TeamCartLocked, h.reload(t, cart.ID).Status)
}

func TestEventPublishFailureDoesNotFailCommand(t *testing.T) {
	h := newTeamCartHarness(t)
	h.events.err = errors.New("broker unavailable")

	cart, err := h.svc.CreateTeamCart(context.Background(), CreateTeamCartCommand{UserID: fixtureHost, HostName: "Hana", RestaurantID: fixtureRestaurant})
	require.NoError(t, err)
	require.Equal(t, domain.TeamCartOpen, h.reload(t, cart.ID).Status)
}

func TestConvertToOrderRequiresHost(t *testing.T) {
	h := newTeamCartHarness(t)
	ctx := context.Background()
	cart := h.finalizedCart(t)
	for _, uid := range []string{fixtureHost, fixtureGuest} {
		_, err := h.svc.CommitToCashOnDelivery(ctx, cart.ID, uid)
		require.NoError(t, err)
	}
	address := DeliveryAddress{Street: "1 Main St", City: "Springfield", State: "IL", ZipCode: "62701", Country: "US"}

	_, err := h.svc.ConvertToOrder(ctx, ConvertTeamCartCommand{CartID: cart.ID, UserID: fixtureGuest, DeliveryAddress: address})
	require.ErrorIs(t, err, ErrTeamCartForbidden)
	_, err = h.svc.ConvertToOrder(ctx, ConvertTeamCartCommand{CartID: cart.ID, UserID: fixtureHost})
	require.ErrorIs(t, err, domain.ErrInvalidAddress)

	order, err := h.svc.ConvertToOrder(ctx, ConvertTeamCartCommand{CartID: cart.ID, UserID: fixtureHost, DeliveryAddress: address, SpecialInstructions: "<i>ring twice</i>"})
	require.NoError(t, err)
	require.Equal(t, "ring twice", order.SpecialInstructions)
	require.Equal(t, fixtureHost, order.CustomerID)
	require.True(t, order.Total.Equal(usd("32.99")))

	stored := h.reload(t, cart.ID)
	require.Equal(t, domain.TeamCartConverted, stored.Status)
	require.Equal(t, order.ID, stored.ConvertedOrderID)
	_, ok := h.store.Order(order.ID)
	require.True(t, ok)

	_, err = h.svc.ConvertToOrder(ctx, ConvertTeamCartCommand{CartID: cart.ID, UserID: fixtureHost, DeliveryAddress: address})
	require.ErrorIs(t, err, ErrTeamCartInvalidState)
}
