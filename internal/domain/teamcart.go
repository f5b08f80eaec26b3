package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TeamCartStatus is the lifecycle state of a team cart.
type TeamCartStatus string

const (
	TeamCartOpen           TeamCartStatus = "open"
	TeamCartLocked         TeamCartStatus = "locked"
	TeamCartFinalized      TeamCartStatus = "finalized"
	TeamCartReadyToConfirm TeamCartStatus = "ready_to_confirm"
	TeamCartConverted      TeamCartStatus = "converted"
	TeamCartExpired        TeamCartStatus = "expired"
)

var teamCartTransitions = map[TeamCartStatus][]TeamCartStatus{
	TeamCartOpen:           {TeamCartLocked, TeamCartExpired},
	TeamCartLocked:         {TeamCartFinalized, TeamCartExpired},
	TeamCartFinalized:      {TeamCartFinalized, TeamCartReadyToConfirm, TeamCartExpired},
	TeamCartReadyToConfirm: {TeamCartConverted},
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s TeamCartStatus) CanTransitionTo(next TeamCartStatus) bool {
	for _, candidate := range teamCartTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s TeamCartStatus) IsTerminal() bool {
	return s == TeamCartConverted || s == TeamCartExpired
}

// ExpirableStatuses lists the states the expiration sweeper may act on.
func ExpirableStatuses() []TeamCartStatus {
	return []TeamCartStatus{TeamCartOpen, TeamCartLocked, TeamCartFinalized}
}

// Quote is the priced breakdown frozen by pricing finalisation.
type Quote struct {
	Subtotal    Money
	Discount    Money
	DeliveryFee Money
	Tip         Money
	Tax         Money
	Total       Money
	QuotedAt    time.Time
}

// TeamCart is a cart shared by several members who each pay their own share before it becomes one order.
type TeamCart struct {
	ID               string
	RestaurantID     string
	HostUserID       string
	ShareToken       string
	Currency         string
	Status           TeamCartStatus
	Items            []CartItem
	Members          []CartMember
	MemberPayments   []MemberPayment
	MemberTotals     map[string]Money
	QuoteVersion     int64
	Quote            *Quote
	QuoteStale       bool
	AppliedCouponID  string
	TipAmount        Money
	ConvertedOrderID string
	ExpiresAt        time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	// Revision is maintained by repositories for optimistic concurrency.
	Revision int64
}

// NewTeamCartParams captures the inputs required to open a team cart.
type NewTeamCartParams struct {
	ID           string
	RestaurantID string
	HostUserID   string
	HostMemberID string
	HostName     string
	ShareToken   string
	Currency     string
	ExpiresAt    time.Time
	Now          time.Time
}

// NewTeamCart opens a cart with the host as its only member.
func NewTeamCart(p NewTeamCartParams) (TeamCart, []Event, error) {
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.RestaurantID) == "" || strings.TrimSpace(p.ShareToken) == "" {
		return TeamCart{}, nil, ErrInvalidInput.WithMessage("cart id, restaurant and share token are required")
	}
	currency, err := NormalizeCurrency(p.Currency)
	if err != nil {
		return TeamCart{}, nil, err
	}
	now := p.Now.UTC()
	if !p.ExpiresAt.After(now) {
		return TeamCart{}, nil, ErrInvalidInput.WithMessage("expiry must be in the future")
	}
	host, err := newCartMember(p.HostMemberID, p.HostUserID, p.HostName, MemberRoleHost, now)
	if err != nil {
		return TeamCart{}, nil, err
	}

	cart := TeamCart{
		ID:           strings.TrimSpace(p.ID),
		RestaurantID: strings.TrimSpace(p.RestaurantID),
		HostUserID:   host.UserID,
		ShareToken:   strings.TrimSpace(p.ShareToken),
		Currency:     currency,
		Status:       TeamCartOpen,
		Members:      []CartMember{host},
		MemberTotals: map[string]Money{},
		TipAmount:    Zero(currency),
		ExpiresAt:    p.ExpiresAt.UTC(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	evt := cart.event(EventTeamCartCreated, now)
	evt.UserID = host.UserID
	return cart, []Event{evt}, nil
}

// Member returns the member with the given user id.
func (c *TeamCart) Member(userID string) (CartMember, bool) {
	for _, m := range c.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return CartMember{}, false
}

// IsMember reports whether the user belongs to the cart.
func (c *TeamCart) IsMember(userID string) bool {
	_, ok := c.Member(userID)
	return ok
}

// IsHost reports whether the user is the cart host.
func (c *TeamCart) IsHost(userID string) bool {
	return userID != "" && c.HostUserID == userID
}

// AddMember adds a guest. Joining twice is a no-op.
func (c *TeamCart) AddMember(memberID, userID, name string, maxMembers int, now time.Time) ([]Event, error) {
	if err := c.requireStatus(TeamCartOpen); err != nil {
		return nil, err
	}
	if c.IsMember(strings.TrimSpace(userID)) {
		return nil, nil
	}
	if maxMembers > 0 && len(c.Members) >= maxMembers {
		return nil, ErrMemberLimitReached
	}
	member, err := newCartMember(memberID, userID, name, MemberRoleGuest, now)
	if err != nil {
		return nil, err
	}
	c.Members = append(c.Members, member)
	c.touch(now)
	evt := c.event(EventMemberJoined, now)
	evt.UserID = member.UserID
	return []Event{evt}, nil
}

// AddItem appends an item added by a member of an open cart.
func (c *TeamCart) AddItem(item CartItem, now time.Time) ([]Event, error) {
	if err := c.requireStatus(TeamCartOpen); err != nil {
		return nil, err
	}
	if !c.IsMember(item.AddedByUserID) {
		return nil, ErrNotMember
	}
	if item.BasePrice.Currency != c.Currency {
		return nil, ErrCurrencyMismatch.WithMessage(fmt.Sprintf("item priced in %s, cart uses %s", item.BasePrice.Currency, c.Currency))
	}
	if c.indexOfItem(item.ID) >= 0 {
		return nil, ErrInvalidInput.WithMessage("item id already present")
	}
	c.Items = append(c.Items, item.clone())
	c.touch(now)
	evt := c.event(EventItemAdded, now)
	evt.UserID = item.AddedByUserID
	evt.ItemID = item.ID
	return []Event{evt}, nil
}

// UpdateItemQuantity changes the quantity of an item owned by the caller.
func (c *TeamCart) UpdateItemQuantity(userID, itemID string, quantity int, now time.Time) ([]Event, error) {
	if err := c.requireStatus(TeamCartOpen); err != nil {
		return nil, err
	}
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	idx := c.indexOfItem(itemID)
	if idx < 0 {
		return nil, ErrItemNotFound
	}
	if c.Items[idx].AddedByUserID != userID {
		return nil, ErrNotItemOwner
	}
	if c.Items[idx].Quantity == quantity {
		return nil, nil
	}
	c.Items[idx].Quantity = quantity
	c.touch(now)
	evt := c.event(EventItemQuantityUpdated, now)
	evt.UserID = userID
	evt.ItemID = itemID
	return []Event{evt}, nil
}

// RemoveItem removes an item. The owner or the host may remove it.
func (c *TeamCart) RemoveItem(userID, itemID string, now time.Time) ([]Event, error) {
	if err := c.requireStatus(TeamCartOpen); err != nil {
		return nil, err
	}
	idx := c.indexOfItem(itemID)
	if idx < 0 {
		return nil, ErrItemNotFound
	}
	if c.Items[idx].AddedByUserID != userID && !c.IsHost(userID) {
		return nil, ErrNotItemOwner
	}
	c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	c.touch(now)
	evt := c.event(EventItemRemoved, now)
	evt.UserID = userID
	evt.ItemID = itemID
	return []Event{evt}, nil
}

// Lock freezes membership and items. Host only; the cart must contain items.
func (c *TeamCart) Lock(userID string, now time.Time) ([]Event, error) {
	if err := c.requireStatus(TeamCartOpen); err != nil {
		return nil, err
	}
	if !c.IsHost(userID) {
		return nil, ErrNotHost
	}
	if len(c.Items) == 0 {
		return nil, ErrCartEmpty
	}
	c.Status = TeamCartLocked
	c.touch(now)
	evt := c.event(EventTeamCartLocked, now)
	evt.UserID = userID
	return []Event{evt}, nil
}

// ApplyTip sets the tip. Allowed only once the cart is locked and before any payment starts.
func (c *TeamCart) ApplyTip(userID string, tip Money, now time.Time) ([]Event, error) {
	if err := c.requireFinancialEdit(userID); err != nil {
		return nil, err
	}
	if tip.Currency != c.Currency {
		return nil, ErrCurrencyMismatch.WithMessage(fmt.Sprintf("tip in %s, cart uses %s", tip.Currency, c.Currency))
	}
	if tip.IsNegative() {
		return nil, ErrInvalidAmount.WithMessage("tip must not be negative")
	}
	if !tip.Equal(tip.Round()) {
		return nil, ErrInvalidAmount.WithMessage(fmt.Sprintf("tip %s is finer than the %s minor unit", tip, c.Currency))
	}
	c.TipAmount = tip
	c.markQuoteStale()
	c.touch(now)
	evt := c.event(EventTipApplied, now)
	evt.UserID = userID
	evt.Amount = moneyPtr(tip)
	return []Event{evt}, nil
}

// ApplyCoupon records the coupon chosen by the host. Discount is priced at finalisation.
func (c *TeamCart) ApplyCoupon(userID, couponID string, now time.Time) ([]Event, error) {
	if err := c.requireFinancialEdit(userID); err != nil {
		return nil, err
	}
	couponID = strings.TrimSpace(couponID)
	if couponID == "" {
		return nil, ErrInvalidInput.WithMessage("coupon id is required")
	}
	if c.AppliedCouponID == couponID {
		return nil, nil
	}
	c.AppliedCouponID = couponID
	c.markQuoteStale()
	c.touch(now)
	evt := c.event(EventCouponApplied, now)
	evt.UserID = userID
	evt.CouponID = couponID
	return []Event{evt}, nil
}

// RemoveCoupon clears the applied coupon.
func (c *TeamCart) RemoveCoupon(userID string, now time.Time) ([]Event, error) {
	if err := c.requireFinancialEdit(userID); err != nil {
		return nil, err
	}
	if c.AppliedCouponID == "" {
		return nil, nil
	}
	removed := c.AppliedCouponID
	c.AppliedCouponID = ""
	c.markQuoteStale()
	c.touch(now)
	evt := c.event(EventCouponRemoved, now)
	evt.UserID = userID
	evt.CouponID = removed
	return []Event{evt}, nil
}

// Subtotal sums the line totals of all items in the cart currency.
func (c *TeamCart) Subtotal() Money {
	total := Zero(c.Currency)
	for _, item := range c.Items {
		total.Amount = total.Amount.Add(item.LineItemTotal().Amount)
	}
	return total
}

// Finalize freezes the quote, splits it into per-member totals and bumps the quote version.
// The host or a system actor may finalise a locked cart; a finalized cart may be re-quoted
// only while no member has an active payment.
func (c *TeamCart) Finalize(actorUserID string, systemActor bool, quote Quote, now time.Time) ([]Event, error) {
	switch c.Status {
	case TeamCartLocked:
	case TeamCartFinalized:
		if c.hasActivePayments() {
			return nil, ErrPaymentsInProgress
		}
	default:
		return nil, c.statusError()
	}
	if !systemActor && !c.IsHost(actorUserID) {
		return nil, ErrNotHost
	}
	if err := c.validateQuote(quote); err != nil {
		return nil, err
	}

	totals, err := c.splitQuote(quote)
	if err != nil {
		return nil, err
	}

	quote.QuotedAt = now.UTC()
	c.Quote = &quote
	c.MemberTotals = totals
	c.QuoteVersion++
	c.QuoteStale = false
	c.Status = TeamCartFinalized
	c.touch(now)

	evt := c.event(EventPricingFinalized, now)
	evt.UserID = actorUserID
	evt.Amount = moneyPtr(quote.Total)
	return []Event{evt}, nil
}

// NextPaymentAttempt returns the attempt number the member's next online payment should use
// and the intent of a still-pending attempt when one exists.
func (c *TeamCart) NextPaymentAttempt(userID string) (int, string) {
	attempts := 0
	for _, p := range c.MemberPayments {
		if p.UserID != userID {
			continue
		}
		attempts++
		if p.Status == MemberPaymentPending && p.Method == PaymentMethodOnline && p.QuoteVersion == c.QuoteVersion {
			return p.Attempt, p.OnlineTransactionID
		}
	}
	return attempts + 1, ""
}

// MemberShare returns the amount the member owes under the current quote.
func (c *TeamCart) MemberShare(userID string) (Money, error) {
	if !c.IsMember(userID) {
		return Money{}, ErrNotMember
	}
	share, ok := c.MemberTotals[userID]
	if !ok || !share.IsPositive() {
		return Money{}, ErrMemberQuoteMissing
	}
	return share, nil
}

// CommitToCashOnDelivery records a synchronous cash-on-delivery commitment. Re-committing is a no-op.
func (c *TeamCart) CommitToCashOnDelivery(paymentID, userID string, now time.Time) ([]Event, error) {
	if c.Status == TeamCartReadyToConfirm {
		if active := c.activePayment(userID); active != nil && active.Status == MemberPaymentCommittedToCOD {
			return nil, nil
		}
	}
	if err := c.requirePayable(); err != nil {
		return nil, err
	}
	share, err := c.MemberShare(userID)
	if err != nil {
		return nil, err
	}
	if active := c.activePayment(userID); active != nil {
		switch {
		case active.Status == MemberPaymentCommittedToCOD:
			return nil, nil
		case active.IsComplete():
			return nil, ErrMemberAlreadyCommitted
		default:
			return nil, ErrMemberAlreadyCommitted.WithMessage("an online payment is pending for this member")
		}
	}

	attempt := c.countPayments(userID) + 1
	payment, err := NewCashOnDeliveryPayment(paymentID, userID, share, c.QuoteVersion, attempt, now)
	if err != nil {
		return nil, err
	}
	c.MemberPayments = append(c.MemberPayments, payment)
	c.touch(now)

	evt := c.event(EventMemberCommittedToCOD, now)
	evt.UserID = userID
	evt.Amount = moneyPtr(share)
	return append([]Event{evt}, c.evaluateReadiness(now)...), nil
}

// RecordOnlinePaymentIntent records a pending online attempt for the intent issued by the gateway.
// The quote version must still be current. An intent the gateway already settled through a
// webhook is left as it is.
func (c *TeamCart) RecordOnlinePaymentIntent(paymentID, userID, intentID string, quoteVersion int64, now time.Time) ([]Event, error) {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return nil, ErrPaymentTransactionMissing
	}
	if idx := c.indexOfTransaction(intentID); idx >= 0 {
		if c.MemberPayments[idx].UserID != userID {
			return nil, ErrPaymentTransactionClash.WithMessage("transaction belongs to another member")
		}
		if c.MemberPayments[idx].Status == MemberPaymentPaidOnline {
			return nil, nil
		}
		if err := c.requirePayable(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err := c.requirePayable(); err != nil {
		return nil, err
	}
	if quoteVersion != c.QuoteVersion {
		return nil, ErrQuoteVersionMismatch.WithMessage(fmt.Sprintf("intent quoted at version %d, cart is at %d", quoteVersion, c.QuoteVersion))
	}
	share, err := c.MemberShare(userID)
	if err != nil {
		return nil, err
	}
	if active := c.activePayment(userID); active != nil {
		if active.IsComplete() {
			return nil, ErrMemberAlreadyCommitted
		}
		return nil, ErrPaymentsInProgress.WithMessage("another online payment is pending for this member")
	}

	attempt := c.countPayments(userID) + 1
	payment, err := NewOnlinePayment(paymentID, userID, share, intentID, c.QuoteVersion, attempt, now)
	if err != nil {
		return nil, err
	}
	c.MemberPayments = append(c.MemberPayments, payment)
	c.touch(now)

	evt := c.event(EventOnlinePaymentInitiated, now)
	evt.UserID = userID
	evt.TransactionID = intentID
	evt.Amount = moneyPtr(share)
	return []Event{evt}, nil
}

// OnlinePaymentConfirmation carries a gateway success notification.
type OnlinePaymentConfirmation struct {
	PaymentID     string
	UserID        string
	TransactionID string
	QuoteVersion  int64
	Amount        Money
}

// RecordOnlinePaymentSucceeded applies a gateway success. Re-applying the same transaction is a no-op.
func (c *TeamCart) RecordOnlinePaymentSucceeded(in OnlinePaymentConfirmation, now time.Time) ([]Event, error) {
	if err := c.requireSettleable(); err != nil {
		return nil, err
	}
	if !c.IsMember(in.UserID) {
		return nil, ErrNotMember
	}
	if strings.TrimSpace(in.TransactionID) == "" {
		return nil, ErrPaymentTransactionMissing
	}

	idx := c.indexOfTransaction(in.TransactionID)
	if idx >= 0 && c.MemberPayments[idx].UserID != in.UserID {
		return nil, ErrPaymentNotFound.WithMessage("transaction belongs to another member")
	}
	if idx >= 0 && c.MemberPayments[idx].Status == MemberPaymentPaidOnline {
		return nil, nil
	}
	if in.QuoteVersion != c.QuoteVersion {
		return nil, ErrQuoteVersionMismatch.WithMessage(fmt.Sprintf("payment quoted at version %d, cart is at %d", in.QuoteVersion, c.QuoteVersion))
	}
	share, err := c.MemberShare(in.UserID)
	if err != nil {
		return nil, err
	}
	if !in.Amount.Equal(share) {
		return nil, ErrQuoteAmountMismatch.WithMessage(fmt.Sprintf("paid %s, quoted %s", in.Amount, share))
	}

	active := c.activePayment(in.UserID)
	switch {
	case idx < 0:
		if active != nil {
			return nil, ErrPaymentTransactionClash.WithMessage("member already has an active payment")
		}
		attempt := c.countPayments(in.UserID) + 1
		payment, err := NewOnlinePayment(in.PaymentID, in.UserID, share, in.TransactionID, c.QuoteVersion, attempt, now)
		if err != nil {
			return nil, err
		}
		c.MemberPayments = append(c.MemberPayments, payment)
		idx = len(c.MemberPayments) - 1
	case c.MemberPayments[idx].HasFailed():
		if active != nil {
			return nil, ErrPaymentTransactionClash.WithMessage("member already has another active payment")
		}
		if err := c.MemberPayments[idx].Reopen(now); err != nil {
			return nil, err
		}
	}

	if _, err := c.MemberPayments[idx].MarkAsPaidOnline(in.TransactionID, now); err != nil {
		return nil, err
	}
	c.touch(now)

	evt := c.event(EventOnlinePaymentSucceeded, now)
	evt.UserID = in.UserID
	evt.TransactionID = in.TransactionID
	evt.Amount = moneyPtr(share)
	return append([]Event{evt}, c.evaluateReadiness(now)...), nil
}

// RecordOnlinePaymentFailed applies a gateway failure. A payment that already succeeded is never
// downgraded, and unknown or already failed transactions are ignored.
func (c *TeamCart) RecordOnlinePaymentFailed(userID, transactionID string, now time.Time) ([]Event, error) {
	if err := c.requireSettleable(); err != nil {
		return nil, err
	}
	idx := c.indexOfTransaction(transactionID)
	if idx < 0 {
		return nil, nil
	}
	payment := &c.MemberPayments[idx]
	if payment.UserID != userID {
		return nil, ErrPaymentNotFound.WithMessage("transaction belongs to another member")
	}
	if payment.Status != MemberPaymentPending {
		return nil, nil
	}
	changed, err := payment.MarkAsFailed(now)
	if err != nil || !changed {
		return nil, err
	}
	c.touch(now)

	evt := c.event(EventOnlinePaymentFailed, now)
	evt.UserID = userID
	evt.TransactionID = transactionID
	return []Event{evt}, nil
}

// Expire force-expires an overdue cart. The cart deadline must not be after the cutoff.
func (c *TeamCart) Expire(cutoff time.Time, now time.Time) ([]Event, error) {
	if !c.Status.CanTransitionTo(TeamCartExpired) {
		return nil, c.statusError()
	}
	if c.ExpiresAt.After(cutoff) {
		return nil, ErrCartNotExpirable
	}
	c.Status = TeamCartExpired
	c.touch(now)
	return []Event{c.event(EventTeamCartExpired, now)}, nil
}

// MarkConverted records the order produced from the cart. The cart becomes immutable.
func (c *TeamCart) MarkConverted(orderID string, now time.Time) ([]Event, error) {
	if err := c.requireStatus(TeamCartReadyToConfirm); err != nil {
		return nil, err
	}
	if strings.TrimSpace(orderID) == "" {
		return nil, ErrInvalidInput.WithMessage("order id is required")
	}
	c.Status = TeamCartConverted
	c.ConvertedOrderID = orderID
	c.touch(now)
	evt := c.event(EventTeamCartConverted, now)
	evt.OrderID = orderID
	evt.UserID = c.HostUserID
	return []Event{evt}, nil
}

// CompletedPayments returns the active completed payment of every member, in member order.
func (c *TeamCart) CompletedPayments() []MemberPayment {
	var out []MemberPayment
	for _, m := range c.Members {
		if p := c.activePayment(m.UserID); p != nil && p.IsComplete() {
			out = append(out, *p)
		}
	}
	return out
}

// Clone returns a deep copy of the cart.
func (c TeamCart) Clone() TeamCart {
	dup := c
	if c.Items != nil {
		dup.Items = make([]CartItem, len(c.Items))
		for i, item := range c.Items {
			dup.Items[i] = item.clone()
		}
	}
	if c.Members != nil {
		dup.Members = append([]CartMember(nil), c.Members...)
	}
	if c.MemberPayments != nil {
		dup.MemberPayments = append([]MemberPayment(nil), c.MemberPayments...)
	}
	if c.MemberTotals != nil {
		dup.MemberTotals = make(map[string]Money, len(c.MemberTotals))
		for k, v := range c.MemberTotals {
			dup.MemberTotals[k] = v
		}
	}
	if c.Quote != nil {
		q := *c.Quote
		dup.Quote = &q
	}
	return dup
}

func (c *TeamCart) evaluateReadiness(now time.Time) []Event {
	if c.Status != TeamCartFinalized || len(c.MemberTotals) == 0 {
		return nil
	}
	for userID, share := range c.MemberTotals {
		if !share.IsPositive() {
			continue
		}
		active := c.activePayment(userID)
		if active == nil || !active.IsComplete() {
			return nil
		}
	}
	c.Status = TeamCartReadyToConfirm
	c.touch(now)
	return []Event{c.event(EventReadyToConfirm, now)}
}

// splitQuote assigns each member their item subtotal plus a proportional share of
// fees, tip, tax and discount. Rounding drift goes to the largest payer so the shares sum
// exactly to the quote total.
func (c *TeamCart) splitQuote(q Quote) (map[string]Money, error) {
	scale := currencyScale(c.Currency)
	subtotal := q.Subtotal.Amount
	extras := q.Total.Amount.Sub(subtotal)

	perMember := make(map[string]decimal.Decimal)
	for _, item := range c.Items {
		perMember[item.AddedByUserID] = perMember[item.AddedByUserID].Add(item.LineItemTotal().Amount)
	}

	totals := make(map[string]Money)
	if !q.Total.IsPositive() {
		return totals, nil
	}
	if subtotal.IsZero() {
		totals[c.HostUserID] = q.Total
		return totals, nil
	}

	users := make([]string, 0, len(perMember))
	for userID := range perMember {
		users = append(users, userID)
	}
	sort.SliceStable(users, func(i, j int) bool { return c.memberIndex(users[i]) < c.memberIndex(users[j]) })

	allocated := decimal.Zero
	largest := ""
	for _, userID := range users {
		own := perMember[userID]
		if !own.IsPositive() {
			continue
		}
		share := own.Add(extras.Mul(own).Div(subtotal)).Round(scale)
		if share.IsNegative() {
			share = decimal.Zero
		}
		totals[userID] = Money{Amount: share, Currency: c.Currency}
		allocated = allocated.Add(share)
		if largest == "" || share.GreaterThan(totals[largest].Amount) {
			largest = userID
		}
	}
	if largest == "" {
		totals[c.HostUserID] = q.Total
		return totals, nil
	}

	if drift := q.Total.Amount.Sub(allocated); !drift.IsZero() {
		adjusted := totals[largest].Amount.Add(drift)
		if adjusted.IsNegative() {
			return nil, ErrInvalidAmount.WithMessage("quote cannot be split across members")
		}
		totals[largest] = Money{Amount: adjusted, Currency: c.Currency}
	}
	for userID, share := range totals {
		if share.IsZero() {
			delete(totals, userID)
		}
	}
	return totals, nil
}

func (c *TeamCart) validateQuote(q Quote) error {
	for _, m := range []Money{q.Subtotal, q.Discount, q.DeliveryFee, q.Tip, q.Tax, q.Total} {
		if m.Currency != c.Currency {
			return ErrCurrencyMismatch.WithMessage(fmt.Sprintf("quote amount in %s, cart uses %s", m.Currency, c.Currency))
		}
		if m.IsNegative() {
			return ErrInvalidAmount.WithMessage("quote amounts must not be negative")
		}
	}
	if !q.Total.Equal(q.Total.Round()) {
		return ErrInvalidAmount.WithMessage(fmt.Sprintf("quote total %s is finer than the %s minor unit", q.Total, c.Currency))
	}
	if !q.Subtotal.Equal(c.Subtotal()) {
		return ErrInvalidInput.WithMessage(fmt.Sprintf("quote subtotal %s does not match cart subtotal %s", q.Subtotal, c.Subtotal()))
	}
	if !q.Tip.Equal(c.TipAmount) {
		return ErrInvalidInput.WithMessage("quote tip does not match the cart tip")
	}
	return nil
}

func (c *TeamCart) requireStatus(allowed ...TeamCartStatus) error {
	for _, s := range allowed {
		if c.Status == s {
			return nil
		}
	}
	return c.statusError()
}

func (c *TeamCart) statusError() error {
	if c.Status == TeamCartExpired {
		return ErrCartExpired
	}
	return ErrInvalidStatus.WithMessage(fmt.Sprintf("cart is %s", c.Status))
}

func (c *TeamCart) requireFinancialEdit(userID string) error {
	switch c.Status {
	case TeamCartLocked:
	case TeamCartFinalized:
		if c.hasActivePayments() {
			return ErrPaymentsInProgress
		}
	case TeamCartOpen:
		return ErrLockedOnly
	default:
		return c.statusError()
	}
	if !c.IsHost(userID) {
		return ErrNotHost
	}
	return nil
}

func (c *TeamCart) requirePayable() error {
	if err := c.requireStatus(TeamCartFinalized); err != nil {
		return err
	}
	if c.QuoteStale {
		return ErrQuoteVersionMismatch.WithMessage("cart must be re-finalized before payment")
	}
	return nil
}

func (c *TeamCart) requireSettleable() error {
	return c.requireStatus(TeamCartFinalized, TeamCartReadyToConfirm)
}

func (c *TeamCart) markQuoteStale() {
	if c.Status == TeamCartFinalized {
		c.QuoteStale = true
	}
}

func (c *TeamCart) hasActivePayments() bool {
	for _, p := range c.MemberPayments {
		if !p.HasFailed() {
			return true
		}
	}
	return false
}

func (c *TeamCart) activePayment(userID string) *MemberPayment {
	for i := len(c.MemberPayments) - 1; i >= 0; i-- {
		p := &c.MemberPayments[i]
		if p.UserID == userID && !p.HasFailed() {
			return p
		}
	}
	return nil
}

func (c *TeamCart) countPayments(userID string) int {
	count := 0
	for _, p := range c.MemberPayments {
		if p.UserID == userID {
			count++
		}
	}
	return count
}

func (c *TeamCart) indexOfTransaction(transactionID string) int {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return -1
	}
	for i, p := range c.MemberPayments {
		if p.OnlineTransactionID == transactionID {
			return i
		}
	}
	return -1
}

func (c *TeamCart) indexOfItem(itemID string) int {
	for i, item := range c.Items {
		if item.ID == itemID {
			return i
		}
	}
	return -1
}

func (c *TeamCart) memberIndex(userID string) int {
	for i, m := range c.Members {
		if m.UserID == userID {
			return i
		}
	}
	return len(c.Members)
}

func (c *TeamCart) touch(now time.Time) {
	c.UpdatedAt = now.UTC()
}
