package services

import (
	"context"
	"time"

	domain "github.com/groupdine/api/internal/domain"
	"github.com/groupdine/api/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Money           = domain.Money
	TeamCart        = domain.TeamCart
	CartItem        = domain.CartItem
	Coupon          = domain.Coupon
	Order           = domain.Order
	DeliveryAddress = domain.DeliveryAddress
	HealthReport    = domain.HealthReport
)

// OrderFinancialService performs the stateless money calculations shared by pricing and conversion.
type OrderFinancialService interface {
	CalculateSubtotal(items []CartItem) (Money, error)
	ValidateAndCalculateDiscount(coupon Coupon, items []CartItem, subtotal Money, now time.Time) (Money, error)
	CalculateFinalTotal(subtotal, discount, deliveryFee, tip, tax Money) (Money, error)
}

// TeamCartService exposes the member and host commands on a team cart.
type TeamCartService interface {
	CreateTeamCart(ctx context.Context, cmd CreateTeamCartCommand) (TeamCart, error)
	GetTeamCart(ctx context.Context, cartID string, userID string) (TeamCart, error)
	JoinTeamCart(ctx context.Context, cmd JoinTeamCartCommand) (TeamCart, error)
	AddItem(ctx context.Context, cmd AddTeamCartItemCommand) (TeamCart, error)
	UpdateItemQuantity(ctx context.Context, cmd UpdateTeamCartItemCommand) (TeamCart, error)
	RemoveItem(ctx context.Context, cmd RemoveTeamCartItemCommand) (TeamCart, error)
	LockTeamCart(ctx context.Context, cartID string, userID string) (TeamCart, error)
	ApplyTip(ctx context.Context, cmd ApplyTipCommand) (TeamCart, error)
	ApplyCoupon(ctx context.Context, cmd ApplyCouponCommand) (TeamCart, error)
	RemoveCoupon(ctx context.Context, cartID string, userID string) (TeamCart, error)
	FinalizePricing(ctx context.Context, cartID string, userID string) (TeamCart, error)
	CommitToCashOnDelivery(ctx context.Context, cartID string, userID string) (TeamCart, error)
	InitiateOnlinePayment(ctx context.Context, cartID string, userID string) (OnlinePaymentSession, error)
	ConvertToOrder(ctx context.Context, cmd ConvertTeamCartCommand) (Order, error)
}

// PaymentWebhookService applies PSP notifications to team carts.
type PaymentWebhookService interface {
	HandleWebhook(ctx context.Context, provider string, payload []byte, signature string) (WebhookResult, error)
	HandleEvent(ctx context.Context, evt payments.WebhookEvent) (WebhookResult, error)
}

// TeamCartExpirationService force-expires carts whose deadline has passed.
type TeamCartExpirationService interface {
	ExpireOverdue(ctx context.Context, cutoff time.Time, batchSize int) (int, error)
	Sweep(ctx context.Context) (int, error)
}

// TeamCartEventPublisher delivers domain events after the state change that produced them has committed.
type TeamCartEventPublisher interface {
	PublishTeamCartEvents(ctx context.Context, events []domain.Event) error
}

// SystemService reports readiness and runs scheduled maintenance.
type SystemService interface {
	Readiness(ctx context.Context) (HealthReport, error)
	RunExpirationSweep(ctx context.Context) (SweepSummary, error)
}
