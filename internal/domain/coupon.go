package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CouponType selects how a coupon discount is computed.
type CouponType string

const (
	CouponTypePercentage  CouponType = "percentage"
	CouponTypeFixedAmount CouponType = "fixed_amount"
	CouponTypeFreeItem    CouponType = "free_item"
)

// CouponScope selects which part of an order a coupon discounts.
type CouponScope string

const (
	CouponScopeWholeOrder         CouponScope = "whole_order"
	CouponScopeSpecificItems      CouponScope = "specific_items"
	CouponScopeSpecificCategories CouponScope = "specific_categories"
)

// Coupon is a restaurant promotion. Usage limits are enforced by the coupon usage store, not here.
type Coupon struct {
	ID                string
	Code              string
	RestaurantID      string
	Description       string
	Type              CouponType
	Scope             CouponScope
	PercentOff        decimal.Decimal // percent, e.g. 10 for 10%
	FixedAmount       Money
	MenuItemIDs       []string
	MenuCategoryIDs   []string
	MinOrderAmount    *Money
	Enabled           bool
	ValidFrom         time.Time
	ValidUntil        time.Time
	TotalUsageLimit   int
	PerUserUsageLimit int
	UsageCount        int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NormalizeCouponCode upper-cases and trims a customer-entered coupon code.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// AppliesToItem reports whether a cart item falls within the coupon scope.
func (c Coupon) AppliesToItem(item CartItem) bool {
	switch c.Scope {
	case CouponScopeWholeOrder, "":
		return true
	case CouponScopeSpecificItems:
		return containsString(c.MenuItemIDs, item.MenuItemID)
	case CouponScopeSpecificCategories:
		return item.MenuCategoryID != "" && containsString(c.MenuCategoryIDs, item.MenuCategoryID)
	default:
		return false
	}
}

// UserLimitReached reports whether a user who has redeemed the coupon usageCount times may not redeem it again.
func (c Coupon) UserLimitReached(usageCount int) bool {
	return c.PerUserUsageLimit > 0 && usageCount >= c.PerUserUsageLimit
}

// TotalLimitReached reports whether the coupon has been redeemed as often as allowed overall.
func (c Coupon) TotalLimitReached() bool {
	return c.TotalUsageLimit > 0 && c.UsageCount >= c.TotalUsageLimit
}

// CouponRedemption records one use of a coupon by a user for an order.
type CouponRedemption struct {
	ID         string
	CouponID   string
	UserID     string
	OrderID    string
	RedeemedAt time.Time
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
