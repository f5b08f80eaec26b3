package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/groupdine/api/internal/domain"
)

var errConversionFinancialRequired = errors.New("team cart conversion: financial service is required")

// DefaultReconciliationTolerance is the largest difference, in currency units, allowed between the
// reconciled payment transactions and the recomputed order total.
var DefaultReconciliationTolerance = decimal.RequireFromString("0.01")

// TeamCartConversionDeps configures the conversion engine.
type TeamCartConversionDeps struct {
	Financial OrderFinancialService
	// Tolerance defaults to DefaultReconciliationTolerance.
	Tolerance decimal.Decimal
	// MaxAdjustmentDeviation bounds |factor - 1|. Zero disables the bound.
	MaxAdjustmentDeviation decimal.Decimal
	IDGenerator            func() string
}

// TeamCartConversion turns a ReadyToConfirm cart into an order. It performs no I/O; the caller
// persists the returned order and cart together.
type TeamCartConversion struct {
	financial    OrderFinancialService
	tolerance    decimal.Decimal
	maxDeviation decimal.Decimal
	newID        func() string
}

// ConversionInput carries everything the conversion needs besides the cart itself.
type ConversionInput struct {
	Cart                TeamCart
	DeliveryAddress     DeliveryAddress
	SpecialInstructions string
	// Coupon is the coupon recorded on the cart, nil when none is applied or it no longer exists.
	Coupon           *Coupon
	CouponUsageCount int
	DeliveryFee      Money
	Tax              Money
	Now              time.Time
}

// ConversionResult is the outcome of a successful conversion. Cart is a converted copy of the
// input cart; the input is never modified.
type ConversionResult struct {
	Order            Order
	Cart             TeamCart
	Redemption       *domain.CouponRedemption
	Events           []domain.Event
	AdjustmentFactor decimal.Decimal
}

// NewTeamCartConversion constructs the conversion engine.
func NewTeamCartConversion(deps TeamCartConversionDeps) (*TeamCartConversion, error) {
	if deps.Financial == nil {
		return nil, errConversionFinancialRequired
	}
	tolerance := deps.Tolerance
	if !tolerance.IsPositive() {
		tolerance = DefaultReconciliationTolerance
	}
	maxDeviation := deps.MaxAdjustmentDeviation
	if maxDeviation.IsNegative() {
		maxDeviation = decimal.Zero
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &TeamCartConversion{
		financial:    deps.Financial,
		tolerance:    tolerance,
		maxDeviation: maxDeviation,
		newID:        idGen,
	}, nil
}

// Convert builds the order, reconciles member payments against the recomputed total and marks
// a copy of the cart converted. Any failure leaves nothing changed.
func (c *TeamCartConversion) Convert(in ConversionInput) (ConversionResult, error) {
	if in.Cart.Status != domain.TeamCartReadyToConfirm {
		return ConversionResult{}, domain.ErrInvalidStatus.WithMessage(fmt.Sprintf("cart is %s, conversion requires %s", in.Cart.Status, domain.TeamCartReadyToConfirm))
	}
	if err := in.DeliveryAddress.Validate(); err != nil {
		return ConversionResult{}, err
	}
	now := in.Now.UTC()
	cart := in.Cart.Clone()

	orderItems, pricedItems := c.mapItems(cart)
	if len(orderItems) == 0 {
		return ConversionResult{}, domain.ErrConversionNoItems
	}

	subtotal, err := c.financial.CalculateSubtotal(pricedItems)
	if err != nil {
		return ConversionResult{}, err
	}

	discount := domain.Zero(subtotal.Currency)
	var appliedCoupon *Coupon
	// A coupon other than the one the cart carries earns no discount.
	if in.Coupon != nil && cart.AppliedCouponID != "" && in.Coupon.ID == cart.AppliedCouponID {
		if in.Coupon.UserLimitReached(in.CouponUsageCount) {
			return ConversionResult{}, domain.ErrCouponUsageLimit
		}
		if discount, err = c.financial.ValidateAndCalculateDiscount(*in.Coupon, pricedItems, subtotal, now); err != nil {
			return ConversionResult{}, err
		}
		appliedCoupon = in.Coupon
	}

	total, err := c.financial.CalculateFinalTotal(subtotal, discount, in.DeliveryFee, cart.TipAmount, in.Tax)
	if err != nil {
		return ConversionResult{}, err
	}

	transactions, factor, err := c.reconcile(cart.CompletedPayments(), total, now)
	if err != nil {
		return ConversionResult{}, err
	}

	order := Order{
		ID:                  c.newID(),
		CustomerID:          cart.HostUserID,
		RestaurantID:        cart.RestaurantID,
		SourceTeamCartID:    cart.ID,
		Status:              domain.OrderStatusPlaced,
		Items:               orderItems,
		Subtotal:            subtotal,
		Discount:            discount,
		DeliveryFee:         in.DeliveryFee,
		Tip:                 cart.TipAmount,
		Tax:                 in.Tax,
		Total:               total,
		DeliveryAddress:     in.DeliveryAddress,
		SpecialInstructions: in.SpecialInstructions,
		PaymentTransactions: transactions,
		PlacedAt:            now,
	}
	var redemption *domain.CouponRedemption
	if appliedCoupon != nil {
		order.AppliedCouponIDs = []string{appliedCoupon.ID}
		redemption = &domain.CouponRedemption{
			ID:         c.newID(),
			CouponID:   appliedCoupon.ID,
			UserID:     cart.HostUserID,
			OrderID:    order.ID,
			RedeemedAt: now,
		}
	}

	events, err := cart.MarkConverted(order.ID, now)
	if err != nil {
		return ConversionResult{}, err
	}
	events = append(events, domain.Event{
		Type:         domain.EventOrderPlaced,
		CartID:       cart.ID,
		UserID:       cart.HostUserID,
		OrderID:      order.ID,
		QuoteVersion: cart.QuoteVersion,
		Status:       cart.Status,
		Amount:       &total,
		OccurredAt:   now,
	})

	return ConversionResult{
		Order:            order,
		Cart:             cart,
		Redemption:       redemption,
		Events:           events,
		AdjustmentFactor: factor,
	}, nil
}

// mapItems converts cart items to order lines, dropping any that cannot be priced in the cart
// currency. The second slice holds the cart items that survived, for recomputing the subtotal.
func (c *TeamCartConversion) mapItems(cart TeamCart) ([]domain.OrderItem, []CartItem) {
	orderItems := make([]domain.OrderItem, 0, len(cart.Items))
	priced := make([]CartItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		line, ok := mapOrderItem(c.newID(), item, cart.Currency)
		if !ok {
			continue
		}
		orderItems = append(orderItems, line)
		priced = append(priced, item)
	}
	return orderItems, priced
}

func mapOrderItem(id string, item CartItem, currency string) (domain.OrderItem, bool) {
	if item.Quantity <= 0 || strings.TrimSpace(item.Name) == "" || item.BasePrice.Currency != currency || item.BasePrice.IsNegative() {
		return domain.OrderItem{}, false
	}
	customizations := make([]domain.OrderItemCustomization, 0, len(item.Customizations))
	for _, cz := range item.Customizations {
		if cz.PriceAdjustment.Currency != currency || strings.TrimSpace(cz.ChoiceName) == "" {
			return domain.OrderItem{}, false
		}
		customizations = append(customizations, domain.OrderItemCustomization{
			GroupName:       cz.GroupName,
			ChoiceName:      cz.ChoiceName,
			PriceAdjustment: cz.PriceAdjustment,
		})
	}
	return domain.OrderItem{
		ID:             id,
		MenuItemID:     item.MenuItemID,
		MenuCategoryID: item.MenuCategoryID,
		Name:           item.Name,
		AddedByUserID:  item.AddedByUserID,
		Quantity:       item.Quantity,
		UnitPrice:      item.UnitPrice(),
		LineTotal:      item.LineItemTotal(),
		Customizations: customizations,
	}, true
}

// reconcile scales every completed member payment by total/Σpayments. Amounts are rounded to
// the currency scale and the rounding residual is carried by the largest transaction.
func (c *TeamCartConversion) reconcile(payments []domain.MemberPayment, total Money, now time.Time) ([]domain.PaymentTransaction, decimal.Decimal, error) {
	if len(payments) == 0 {
		return nil, decimal.Zero, domain.ErrConversionNoPayments
	}

	sum := decimal.Zero
	for _, p := range payments {
		if p.Amount.Currency != total.Currency || !p.Amount.IsPositive() {
			return nil, decimal.Zero, domain.ErrConversionInvalidPayment.WithMessage(fmt.Sprintf("payment %s of %s has amount %s", p.ID, p.UserID, p.Amount))
		}
		sum = sum.Add(p.Amount.Amount)
	}

	factor := decimal.NewFromInt(1)
	if !sum.IsZero() {
		factor = total.Amount.DivRound(sum, 16)
	}
	if c.maxDeviation.IsPositive() && factor.Sub(decimal.NewFromInt(1)).Abs().GreaterThan(c.maxDeviation) {
		return nil, factor, domain.ErrConversionAdjustmentBounds.WithMessage(fmt.Sprintf("factor %s exceeds deviation %s (collected %s, total %s)", factor, c.maxDeviation, sum, total))
	}

	transactions := make([]domain.PaymentTransaction, 0, len(payments))
	adjustedSum := decimal.Zero
	largest := 0
	for i, p := range payments {
		amount := p.Amount.Mul(factor).Round()
		adjustedSum = adjustedSum.Add(amount.Amount)
		transactions = append(transactions, domain.PaymentTransaction{
			ID:               c.newID(),
			Method:           transactionMethod(p.Method),
			Amount:           amount,
			Status:           domain.PaymentTransactionSucceeded,
			PaidByUserID:     p.UserID,
			GatewayReference: p.OnlineTransactionID,
			CreatedAt:        now,
		})
		if amount.Amount.GreaterThan(transactions[largest].Amount.Amount) {
			largest = i
		}
	}

	residual := total.Amount.Sub(adjustedSum)
	unit := decimal.New(1, -domain.CurrencyScale(total.Currency))
	if !residual.IsZero() && residual.Abs().LessThanOrEqual(unit.Mul(decimal.NewFromInt(int64(len(payments))))) {
		transactions[largest].Amount.Amount = transactions[largest].Amount.Amount.Add(residual)
		adjustedSum = adjustedSum.Add(residual)
	}

	if adjustedSum.Sub(total.Amount).Abs().GreaterThan(c.tolerance) {
		return nil, factor, domain.ErrConversionPaymentMismatch.WithMessage(fmt.Sprintf("reconciled %s, order total %s", adjustedSum, total))
	}
	return transactions, factor, nil
}

func transactionMethod(method domain.PaymentMethod) domain.PaymentTransactionMethod {
	if method == domain.PaymentMethodCashOnDelivery {
		return domain.TransactionMethodCashOnDelivery
	}
	return domain.TransactionMethodCreditCard
}
