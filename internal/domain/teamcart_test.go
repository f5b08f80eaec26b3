package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var cartNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestCart(t *testing.T) TeamCart {
	t.Helper()
	cart, events, err := NewTeamCart(NewTeamCartParams{
		ID:           "tc_1",
		RestaurantID: "rest_1",
		HostUserID:   "host",
		HostMemberID: "mem_host",
		HostName:     "Hana",
		ShareToken:   "share_1",
		Currency:     "usd",
		ExpiresAt:    cartNow.Add(2 * time.Hour),
		Now:          cartNow,
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, EventTeamCartCreated, events[0].Type)
	return cart
}

func addTestItem(t *testing.T, cart *TeamCart, id, userID, price string, qty int) {
	t.Helper()
	item, err := NewCartItem(NewCartItemParams{
		ID:            id,
		AddedByUserID: userID,
		MenuItemID:    "menu_" + id,
		Name:          "Item " + id,
		BasePrice:     MustMoney(price, "USD"),
		Quantity:      qty,
		AddedAt:       cartNow,
	})
	require.NoError(t, err)
	_, err = cart.AddItem(item, cartNow)
	require.NoError(t, err)
}

func testQuote(cart *TeamCart, fee, tax string) Quote {
	subtotal := cart.Subtotal()
	feeMoney := MustMoney(fee, cart.Currency)
	taxMoney := MustMoney(tax, cart.Currency)
	total := subtotal.Amount.Add(feeMoney.Amount).Add(taxMoney.Amount).Add(cart.TipAmount.Amount)
	return Quote{
		Subtotal:    subtotal,
		Discount:    Zero(cart.Currency),
		DeliveryFee: feeMoney,
		Tip:         cart.TipAmount,
		Tax:         taxMoney,
		Total:       Money{Amount: total, Currency: cart.Currency},
	}
}

func lockedCartWithGuest(t *testing.T) TeamCart {
	t.Helper()
	cart := newTestCart(t)
	_, err := cart.AddMember("mem_guest", "guest", "Gin", 10, cartNow)
	require.NoError(t, err)
	addTestItem(t, &cart, "i1", "host", "10.00", 1)
	addTestItem(t, &cart, "i2", "guest", "10.00", 2)
	_, err = cart.Lock("host", cartNow)
	require.NoError(t, err)
	return cart
}

func TestTeamCartStatusTransitions(t *testing.T) {
	require.True(t, TeamCartOpen.CanTransitionTo(TeamCartLocked))
	require.True(t, TeamCartFinalized.CanTransitionTo(TeamCartExpired))
	require.False(t, TeamCartLocked.CanTransitionTo(TeamCartOpen))
	require.False(t, TeamCartReadyToConfirm.CanTransitionTo(TeamCartExpired))
	require.False(t, TeamCartConverted.CanTransitionTo(TeamCartExpired))
	require.True(t, TeamCartExpired.IsTerminal())
}

func TestAddMemberIsIdempotentAndBounded(t *testing.T) {
	cart := newTestCart(t)

	events, err := cart.AddMember("mem_2", "guest", "Gin", 2, cartNow)
	require.NoError(t, err)
	require.Len(t, events, 1)

	events, err = cart.AddMember("mem_3", "guest", "Gin", 2, cartNow)
	require.NoError(t, err)
	require.Empty(t, events)

	_, err = cart.AddMember("mem_4", "other", "Oto", 2, cartNow)
	require.ErrorIs(t, err, ErrMemberLimitReached)
}

func TestItemEditsRequireOwnership(t *testing.T) {
	cart := newTestCart(t)
	_, err := cart.AddMember("mem_guest", "guest", "Gin", 10, cartNow)
	require.NoError(t, err)
	addTestItem(t, &cart, "i1", "guest", "4.50", 1)

	_, err = cart.UpdateItemQuantity("host", "i1", 3, cartNow)
	require.ErrorIs(t, err, ErrNotItemOwner)

	_, err = cart.UpdateItemQuantity("guest", "i1", 0, cartNow)
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = cart.UpdateItemQuantity("guest", "i1", 3, cartNow)
	require.NoError(t, err)
	require.True(t, cart.Subtotal().Equal(MustMoney("13.50", "USD")))

	// host may remove any item
	_, err = cart.RemoveItem("host", "i1", cartNow)
	require.NoError(t, err)
	require.Empty(t, cart.Items)
}

func TestAddItemRejectsForeignCurrency(t *testing.T) {
	cart := newTestCart(t)
	item, err := NewCartItem(NewCartItemParams{
		ID: "i1", AddedByUserID: "host", MenuItemID: "m1", Name: "Ramen",
		BasePrice: MustMoney("900", "JPY"), Quantity: 1,
	})
	require.NoError(t, err)
	_, err = cart.AddItem(item, cartNow)
	require.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestLockRules(t *testing.T) {
	cart := newTestCart(t)

	_, err := cart.Lock("host", cartNow)
	require.ErrorIs(t, err, ErrCartEmpty)

	addTestItem(t, &cart, "i1", "host", "1.00", 1)
	_, err = cart.AddMember("mem_guest", "guest", "Gin", 10, cartNow)
	require.NoError(t, err)

	_, err = cart.Lock("guest", cartNow)
	require.ErrorIs(t, err, ErrNotHost)

	events, err := cart.Lock("host", cartNow)
	require.NoError(t, err)
	require.Equal(t, TeamCartLocked, events[0].Status)

	_, err = cart.AddMember("mem_late", "late", "Lee", 10, cartNow)
	require.ErrorIs(t, err, ErrInvalidStatus)
	_, err = cart.RemoveItem("host", "i1", cartNow)
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestFinancialEditsRequireLockedCart(t *testing.T) {
	cart := newTestCart(t)
	addTestItem(t, &cart, "i1", "host", "10.00", 1)

	_, err := cart.ApplyTip("host", MustMoney("2.00", "USD"), cartNow)
	require.ErrorIs(t, err, ErrLockedOnly)
	_, err = cart.ApplyCoupon("host", "cpn_1", cartNow)
	require.ErrorIs(t, err, ErrLockedOnly)

	_, err = cart.Lock("host", cartNow)
	require.NoError(t, err)

	_, err = cart.ApplyTip("host", MustMoney("2.00", "USD"), cartNow)
	require.NoError(t, err)
	_, err = cart.ApplyCoupon("host", "cpn_1", cartNow)
	require.NoError(t, err)
	require.Equal(t, "cpn_1", cart.AppliedCouponID)
}

func TestFinalizeSplitsQuoteAcrossMembers(t *testing.T) {
	cart := lockedCartWithGuest(t)

	events, err := cart.Finalize("host", false, testQuote(&cart, "3.00", "0"), cartNow)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, EventPricingFinalized, events[0].Type)
	require.Equal(t, int64(1), cart.QuoteVersion)
	require.Equal(t, TeamCartFinalized, cart.Status)

	require.True(t, cart.MemberTotals["host"].Equal(MustMoney("11.00", "USD")), "host %s", cart.MemberTotals["host"])
	require.True(t, cart.MemberTotals["guest"].Equal(MustMoney("22.00", "USD")), "guest %s", cart.MemberTotals["guest"])
}

func TestFinalizeAssignsRoundingDriftToLargestShare(t *testing.T) {
	cart := newTestCart(t)
	_, err := cart.AddMember("mem_a", "a", "Aki", 10, cartNow)
	require.NoError(t, err)
	_, err = cart.AddMember("mem_b", "b", "Ben", 10, cartNow)
	require.NoError(t, err)
	addTestItem(t, &cart, "i1", "host", "10.00", 1)
	addTestItem(t, &cart, "i2", "a", "10.00", 1)
	addTestItem(t, &cart, "i3", "b", "10.00", 1)
	_, err = cart.Lock("host", cartNow)
	require.NoError(t, err)

	_, err = cart.Finalize("host", false, testQuote(&cart, "1.00", "0"), cartNow)
	require.NoError(t, err)

	sum := Zero("USD")
	for _, share := range cart.MemberTotals {
		sum, err = sum.Add(share)
		require.NoError(t, err)
	}
	require.True(t, sum.Equal(MustMoney("31.00", "USD")), "sum %s", sum)
	require.True(t, cart.MemberTotals["host"].Equal(MustMoney("10.34", "USD")))
	require.True(t, cart.MemberTotals["a"].Equal(MustMoney("10.33", "USD")))
}

func TestFinalizeRejectsMismatchedSubtotal(t *testing.T) {
	cart := lockedCartWithGuest(t)
	q := testQuote(&cart, "0", "0")
	q.Subtotal = MustMoney("1.00", "USD")
	_, err := cart.Finalize("host", false, q, cartNow)
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Equal(t, TeamCartLocked, cart.Status)
}

func TestCashOnDeliveryCompletesSingleMemberCart(t *testing.T) {
	cart := newTestCart(t)
	addTestItem(t, &cart, "i1", "host", "15.99", 2)
	_, err := cart.Lock("host", cartNow)
	require.NoError(t, err)
	_, err = cart.Finalize("host", false, testQuote(&cart, "0", "0"), cartNow)
	require.NoError(t, err)

	events, err := cart.CommitToCashOnDelivery("pay_1", "host", cartNow)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, EventMemberCommittedToCOD, events[0].Type)
	require.Equal(t, EventReadyToConfirm, events[1].Type)
	require.Equal(t, TeamCartReadyToConfirm, cart.Status)

	events, err = cart.CommitToCashOnDelivery("pay_2", "host", cartNow)
	require.NoError(t, err)
	require.Empty(t, events)
	require.Len(t, cart.MemberPayments, 1)
}

func TestOnlinePaymentLifecycle(t *testing.T) {
	cart := lockedCartWithGuest(t)
	_, err := cart.Finalize("host", false, testQuote(&cart, "0", "0"), cartNow)
	require.NoError(t, err)

	_, err = cart.RecordOnlinePaymentIntent("pay_1", "guest", "pi_1", 0, cartNow)
	require.ErrorIs(t, err, ErrQuoteVersionMismatch)

	_, err = cart.RecordOnlinePaymentIntent("pay_1", "guest", "pi_1", cart.QuoteVersion, cartNow)
	require.NoError(t, err)

	// recording the same intent again is a no-op
	events, err := cart.RecordOnlinePaymentIntent("pay_1b", "guest", "pi_1", cart.QuoteVersion, cartNow)
	require.NoError(t, err)
	require.Empty(t, events)

	_, err = cart.RecordOnlinePaymentIntent("pay_2", "guest", "pi_2", cart.QuoteVersion, cartNow)
	require.ErrorIs(t, err, ErrPaymentsInProgress)

	// financial edits are frozen once a payment is active
	_, err = cart.ApplyTip("host", MustMoney("1.00", "USD"), cartNow)
	require.ErrorIs(t, err, ErrPaymentsInProgress)

	confirm := OnlinePaymentConfirmation{
		PaymentID:     "pay_x",
		UserID:        "guest",
		TransactionID: "pi_1",
		QuoteVersion:  cart.QuoteVersion,
		Amount:        cart.MemberTotals["guest"],
	}
	events, err = cart.RecordOnlinePaymentSucceeded(confirm, cartNow)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, EventOnlinePaymentSucceeded, events[0].Type)

	// duplicate success changes nothing
	events, err = cart.RecordOnlinePaymentSucceeded(confirm, cartNow)
	require.NoError(t, err)
	require.Empty(t, events)

	// late failure never downgrades the success
	events, err = cart.RecordOnlinePaymentFailed("guest", "pi_1", cartNow)
	require.NoError(t, err)
	require.Empty(t, events)
	require.Equal(t, MemberPaymentPaidOnline, cart.MemberPayments[0].Status)

	events, err = cart.CommitToCashOnDelivery("pay_3", "host", cartNow)
	require.NoError(t, err)
	require.Equal(t, EventReadyToConfirm, events[len(events)-1].Type)
	require.Len(t, cart.CompletedPayments(), 2)
}

func TestOnlinePaymentSucceededWithoutRecordedIntent(t *testing.T) {
	cart := lockedCartWithGuest(t)
	_, err := cart.Finalize("host", false, testQuote(&cart, "0", "0"), cartNow)
	require.NoError(t, err)

	_, err = cart.RecordOnlinePaymentSucceeded(OnlinePaymentConfirmation{
		PaymentID: "pay_1", UserID: "host", TransactionID: "pi_9",
		QuoteVersion: cart.QuoteVersion, Amount: MustMoney("1.00", "USD"),
	}, cartNow)
	require.ErrorIs(t, err, ErrQuoteAmountMismatch)

	_, err = cart.RecordOnlinePaymentSucceeded(OnlinePaymentConfirmation{
		PaymentID: "pay_1", UserID: "host", TransactionID: "pi_9",
		QuoteVersion: cart.QuoteVersion, Amount: cart.MemberTotals["host"],
	}, cartNow)
	require.NoError(t, err)
	require.Len(t, cart.MemberPayments, 1)
	require.Equal(t, MemberPaymentPaidOnline, cart.MemberPayments[0].Status)
}

func TestFailedAttemptAllowsRetry(t *testing.T) {
	cart := lockedCartWithGuest(t)
	_, err := cart.Finalize("host", false, testQuote(&cart, "0", "0"), cartNow)
	require.NoError(t, err)

	_, err = cart.RecordOnlinePaymentIntent("pay_1", "guest", "pi_1", cart.QuoteVersion, cartNow)
	require.NoError(t, err)
	events, err := cart.RecordOnlinePaymentFailed("guest", "pi_1", cartNow)
	require.NoError(t, err)
	require.Equal(t, EventOnlinePaymentFailed, events[0].Type)

	attempt, pending := cart.NextPaymentAttempt("guest")
	require.Equal(t, 2, attempt)
	require.Empty(t, pending)

	_, err = cart.RecordOnlinePaymentIntent("pay_2", "guest", "pi_2", cart.QuoteVersion, cartNow)
	require.NoError(t, err)
	require.Len(t, cart.MemberPayments, 2)
	require.Equal(t, 2, cart.MemberPayments[1].Attempt)
}

func TestReQuoteInFinalizedRequiresNoActivePayments(t *testing.T) {
	cart := lockedCartWithGuest(t)
	_, err := cart.Finalize("host", false, testQuote(&cart, "0", "0"), cartNow)
	require.NoError(t, err)

	_, err = cart.ApplyTip("host", MustMoney("3.00", "USD"), cartNow)
	require.NoError(t, err)
	require.True(t, cart.QuoteStale)

	_, err = cart.CommitToCashOnDelivery("pay_1", "host", cartNow)
	require.ErrorIs(t, err, ErrQuoteVersionMismatch)

	_, err = cart.Finalize("", true, testQuote(&cart, "0", "0"), cartNow)
	require.NoError(t, err)
	require.Equal(t, int64(2), cart.QuoteVersion)
	require.False(t, cart.QuoteStale)
	require.True(t, cart.MemberTotals["host"].Equal(MustMoney("11.00", "USD")))
	require.True(t, cart.MemberTotals["guest"].Equal(MustMoney("22.00", "USD")))
}

func TestExpireGuards(t *testing.T) {
	cart := newTestCart(t)

	_, err := cart.Expire(cartNow, cartNow)
	require.ErrorIs(t, err, ErrCartNotExpirable)

	events, err := cart.Expire(cart.ExpiresAt, cartNow)
	require.NoError(t, err)
	require.Equal(t, EventTeamCartExpired, events[0].Type)

	_, err = cart.AddMember("mem_2", "guest", "Gin", 10, cartNow)
	require.ErrorIs(t, err, ErrCartExpired)
	_, err = cart.Expire(cart.ExpiresAt, cartNow)
	require.ErrorIs(t, err, ErrCartExpired)
}

func TestWebhookOnClosedCartFails(t *testing.T) {
	cart := lockedCartWithGuest(t)
	_, err := cart.Finalize("host", false, testQuote(&cart, "0", "0"), cartNow)
	require.NoError(t, err)
	_, err = cart.Expire(cart.ExpiresAt, cartNow)
	require.NoError(t, err)

	_, err = cart.RecordOnlinePaymentSucceeded(OnlinePaymentConfirmation{
		PaymentID: "p", UserID: "guest", TransactionID: "pi_1", QuoteVersion: 1, Amount: MustMoney("20", "USD"),
	}, cartNow)
	require.ErrorIs(t, err, ErrCartExpired)

	_, err = cart.RecordOnlinePaymentFailed("guest", "pi_1", cartNow)
	require.ErrorIs(t, err, ErrCartExpired)
}

func TestMarkConvertedRequiresReadyToConfirm(t *testing.T) {
	cart := newTestCart(t)
	addTestItem(t, &cart, "i1", "host", "5.00", 1)

	_, err := cart.MarkConverted("ord_1", cartNow)
	require.ErrorIs(t, err, ErrInvalidStatus)

	_, err = cart.Lock("host", cartNow)
	require.NoError(t, err)
	_, err = cart.Finalize("host", false, testQuote(&cart, "0", "0"), cartNow)
	require.NoError(t, err)
	_, err = cart.CommitToCashOnDelivery("pay_1", "host", cartNow)
	require.NoError(t, err)

	events, err := cart.MarkConverted("ord_1", cartNow)
	require.NoError(t, err)
	require.Equal(t, EventTeamCartConverted, events[0].Type)
	require.Equal(t, "ord_1", cart.ConvertedOrderID)

	_, err = cart.Expire(cart.ExpiresAt, cartNow)
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestCloneIsDeep(t *testing.T) {
	cart := lockedCartWithGuest(t)
	_, err := cart.Finalize("host", false, testQuote(&cart, "0", "0"), cartNow)
	require.NoError(t, err)

	dup := cart.Clone()
	dup.Items[0].Quantity = 99
	dup.MemberTotals["host"] = Zero("USD")
	dup.Quote.Total = Zero("USD")

	require.Equal(t, 1, cart.Items[0].Quantity)
	require.True(t, cart.MemberTotals["host"].IsPositive())
	require.True(t, cart.Quote.Total.IsPositive())
}

func TestApplyTipRejectsAmountsBelowMinorUnit(t *testing.T) {
	cart := lockedCartWithGuest(t)

	_, err := cart.ApplyTip("host", MustMoney("1.005", "USD"), cartNow)
	require.ErrorIs(t, err, ErrInvalidAmount)
	require.True(t, cart.TipAmount.IsZero())

	_, err = cart.ApplyTip("host", MustMoney("1.500", "USD"), cartNow)
	require.NoError(t, err)
	require.True(t, cart.TipAmount.Equal(MustMoney("1.50", "USD")))
}

func TestFinalizeRejectsTotalBelowMinorUnit(t *testing.T) {
	cart := lockedCartWithGuest(t)

	_, err := cart.Finalize("host", false, testQuote(&cart, "0", "0.005"), cartNow)
	require.ErrorIs(t, err, ErrInvalidAmount)
	require.Equal(t, TeamCartLocked, cart.Status)
	require.Empty(t, cart.MemberTotals)
}

func TestRecordIntentAfterWebhookSettledIt(t *testing.T) {
	cart := newTestCart(t)
	addTestItem(t, &cart, "i1", "host", "15.99", 2)
	_, err := cart.Lock("host", cartNow)
	require.NoError(t, err)
	_, err = cart.Finalize("host", false, testQuote(&cart, "0", "0"), cartNow)
	require.NoError(t, err)

	_, err = cart.RecordOnlinePaymentSucceeded(OnlinePaymentConfirmation{
		PaymentID: "pay_1", UserID: "host", TransactionID: "pi_1",
		QuoteVersion: cart.QuoteVersion, Amount: cart.MemberTotals["host"],
	}, cartNow)
	require.NoError(t, err)
	require.Equal(t, TeamCartReadyToConfirm, cart.Status)

	events, err := cart.RecordOnlinePaymentIntent("pay_1", "host", "pi_1", cart.QuoteVersion, cartNow)
	require.NoError(t, err)
	require.Empty(t, events)
	require.Len(t, cart.MemberPayments, 1)
	require.Equal(t, MemberPaymentPaidOnline, cart.MemberPayments[0].Status)
}

func TestRecordIntentOwnedByAnotherMember(t *testing.T) {
	cart := lockedCartWithGuest(t)
	_, err := cart.Finalize("host", false, testQuote(&cart, "0", "0"), cartNow)
	require.NoError(t, err)
	_, err = cart.RecordOnlinePaymentIntent("pay_1", "guest", "pi_1", cart.QuoteVersion, cartNow)
	require.NoError(t, err)

	_, err = cart.RecordOnlinePaymentIntent("pay_2", "host", "pi_1", cart.QuoteVersion, cartNow)
	require.ErrorIs(t, err, ErrPaymentTransactionClash)
}
