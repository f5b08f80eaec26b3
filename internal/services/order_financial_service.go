package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/groupdine/api/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// OrderFinancialServiceDeps configures the financial calculator.
type OrderFinancialServiceDeps struct {
	DefaultCurrency string
}

type orderFinancialService struct {
	defaultCurrency string
}

var _ OrderFinancialService = (*orderFinancialService)(nil)

// NewOrderFinancialService constructs the stateless financial calculator.
func NewOrderFinancialService(deps OrderFinancialServiceDeps) (OrderFinancialService, error) {
	currency := strings.TrimSpace(deps.DefaultCurrency)
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	normalized, err := domain.NormalizeCurrency(currency)
	if err != nil {
		return nil, fmt.Errorf("order financial service: %w", err)
	}
	return &orderFinancialService{defaultCurrency: normalized}, nil
}

// CalculateSubtotal sums line totals in the currency of the first item. An empty list yields
// zero in the default currency; mixed currencies are rejected.
func (s *orderFinancialService) CalculateSubtotal(items []CartItem) (Money, error) {
	if len(items) == 0 {
		return domain.Zero(s.defaultCurrency), nil
	}
	total := domain.Zero(items[0].BasePrice.Currency)
	for _, item := range items {
		next, err := total.Add(item.LineItemTotal())
		if err != nil {
			return Money{}, err
		}
		total = next
	}
	return total, nil
}

// ValidateAndCalculateDiscount checks the coupon against the order and prices it. Usage limits
// are not checked here.
func (s *orderFinancialService) ValidateAndCalculateDiscount(coupon Coupon, items []CartItem, subtotal Money, now time.Time) (Money, error) {
	if !coupon.Enabled {
		return Money{}, domain.ErrCouponDisabled
	}
	if !coupon.ValidFrom.IsZero() && now.Before(coupon.ValidFrom) {
		return Money{}, domain.ErrCouponNotYetValid
	}
	if !coupon.ValidUntil.IsZero() && now.After(coupon.ValidUntil) {
		return Money{}, domain.ErrCouponExpired
	}
	if coupon.MinOrderAmount != nil {
		if coupon.MinOrderAmount.Currency != subtotal.Currency {
			return Money{}, domain.ErrCurrencyMismatch.WithMessage("coupon minimum is in another currency")
		}
		if subtotal.Amount.LessThan(coupon.MinOrderAmount.Amount) {
			return Money{}, domain.ErrCouponMinimumNotMet.WithMessage(fmt.Sprintf("order subtotal %s is below the minimum %s", subtotal, *coupon.MinOrderAmount))
		}
	}

	base, err := s.discountBase(coupon, items, subtotal)
	if err != nil {
		return Money{}, err
	}
	if !base.IsPositive() {
		return Money{}, domain.ErrCouponNotApplicable
	}

	var discount Money
	switch coupon.Type {
	case domain.CouponTypePercentage:
		if coupon.PercentOff.IsNegative() {
			return Money{}, domain.ErrCouponMismatch.WithMessage("percentage must not be negative")
		}
		discount = base.Mul(coupon.PercentOff.Div(hundred)).Round()
	case domain.CouponTypeFixedAmount:
		if coupon.FixedAmount.IsNegative() {
			return Money{}, domain.ErrCouponMismatch.WithMessage("fixed amount must not be negative")
		}
		discount, err = base.Min(coupon.FixedAmount)
		if err != nil {
			return Money{}, err
		}
	case domain.CouponTypeFreeItem:
		cheapest, ok := cheapestMatchingItem(coupon, items)
		if !ok {
			return Money{}, domain.ErrCouponNotApplicable
		}
		line := cheapest.LineItemTotal()
		discount = Money{Amount: line.Amount.Div(decimal.NewFromInt(int64(cheapest.Quantity))), Currency: line.Currency}.Round()
	default:
		return Money{}, domain.ErrCouponUnsupportedType.WithMessage(fmt.Sprintf("coupon type %q is not supported", coupon.Type))
	}

	if discount.Currency != base.Currency {
		return Money{}, domain.ErrCurrencyMismatch
	}
	if discount.Amount.GreaterThan(base.Amount) {
		discount = base
	}
	return discount.ClampZero(), nil
}

// CalculateFinalTotal returns subtotal - discount + fee + tip + tax, never below zero.
func (s *orderFinancialService) CalculateFinalTotal(subtotal, discount, deliveryFee, tip, tax Money) (Money, error) {
	total, err := subtotal.Sub(discount)
	if err != nil {
		return Money{}, err
	}
	for _, addend := range []Money{deliveryFee, tip, tax} {
		if total, err = total.Add(addend); err != nil {
			return Money{}, err
		}
	}
	return total.ClampZero(), nil
}

func (s *orderFinancialService) discountBase(coupon Coupon, items []CartItem, subtotal Money) (Money, error) {
	switch coupon.Scope {
	case domain.CouponScopeWholeOrder, "":
		return subtotal, nil
	case domain.CouponScopeSpecificItems, domain.CouponScopeSpecificCategories:
		base := domain.Zero(subtotal.Currency)
		for _, item := range items {
			if !coupon.AppliesToItem(item) {
				continue
			}
			next, err := base.Add(item.LineItemTotal())
			if err != nil {
				return Money{}, err
			}
			base = next
		}
		return base, nil
	default:
		return Money{}, domain.ErrCouponNotApplicable.WithMessage(fmt.Sprintf("coupon scope %q is not supported", coupon.Scope))
	}
}

// cheapestMatchingItem picks the in-scope item with the lowest unit price; ties keep the first.
func cheapestMatchingItem(coupon Coupon, items []CartItem) (CartItem, bool) {
	var (
		best  CartItem
		found bool
	)
	for _, item := range items {
		if item.Quantity <= 0 || !coupon.AppliesToItem(item) {
			continue
		}
		if !found || item.UnitPrice().Amount.LessThan(best.UnitPrice().Amount) {
			best = item
			found = true
		}
	}
	return best, found
}
