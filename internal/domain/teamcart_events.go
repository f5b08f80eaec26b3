package domain

import "time"

// EventType names a team cart domain event.
type EventType string

const (
	EventTeamCartCreated        EventType = "teamcart.created"
	EventMemberJoined           EventType = "teamcart.member_joined"
	EventItemAdded              EventType = "teamcart.item_added"
	EventItemQuantityUpdated    EventType = "teamcart.item_quantity_updated"
	EventItemRemoved            EventType = "teamcart.item_removed"
	EventTeamCartLocked         EventType = "teamcart.locked"
	EventTipApplied             EventType = "teamcart.tip_applied"
	EventCouponApplied          EventType = "teamcart.coupon_applied"
	EventCouponRemoved          EventType = "teamcart.coupon_removed"
	EventPricingFinalized       EventType = "teamcart.pricing_finalized"
	EventMemberCommittedToCOD   EventType = "teamcart.member_committed_cod"
	EventOnlinePaymentInitiated EventType = "teamcart.online_payment_initiated"
	EventOnlinePaymentSucceeded EventType = "teamcart.online_payment_succeeded"
	EventOnlinePaymentFailed    EventType = "teamcart.online_payment_failed"
	EventReadyToConfirm         EventType = "teamcart.ready_to_confirm"
	EventTeamCartConverted      EventType = "teamcart.converted"
	EventTeamCartExpired        EventType = "teamcart.expired"
	EventOrderPlaced            EventType = "order.placed"
)

// Event describes a state change on a team cart. Fields irrelevant to the type are left empty.
type Event struct {
	Type          EventType
	CartID        string
	UserID        string
	ItemID        string
	CouponID      string
	OrderID       string
	TransactionID string
	QuoteVersion  int64
	Status        TeamCartStatus
	Amount        *Money
	OccurredAt    time.Time
}

func (c *TeamCart) event(t EventType, now time.Time) Event {
	return Event{
		Type:         t,
		CartID:       c.ID,
		QuoteVersion: c.QuoteVersion,
		Status:       c.Status,
		OccurredAt:   now.UTC(),
	}
}

func moneyPtr(m Money) *Money {
	return &m
}
