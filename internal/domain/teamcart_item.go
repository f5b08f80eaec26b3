package domain

import (
	"fmt"
	"strings"
	"time"
)

// CartItemCustomization records a selected option and its price adjustment at the time it was added.
type CartItemCustomization struct {
	GroupName       string
	ChoiceName      string
	PriceAdjustment Money
}

// CartItem is an immutable snapshot of a catalog item added to a team cart by one member.
type CartItem struct {
	ID             string
	AddedByUserID  string
	MenuItemID     string
	MenuCategoryID string
	Name           string
	BasePrice      Money
	Quantity       int
	Customizations []CartItemCustomization
	AddedAt        time.Time
}

// NewCartItemParams captures the catalog snapshot used to create an item.
type NewCartItemParams struct {
	ID             string
	AddedByUserID  string
	MenuItemID     string
	MenuCategoryID string
	Name           string
	BasePrice      Money
	Quantity       int
	Customizations []CartItemCustomization
	AddedAt        time.Time
}

// NewCartItem validates the snapshot. Customisation adjustments must share the base price currency.
func NewCartItem(p NewCartItemParams) (CartItem, error) {
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.AddedByUserID) == "" || strings.TrimSpace(p.MenuItemID) == "" {
		return CartItem{}, ErrInvalidInput.WithMessage("item id, member and menu item are required")
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return CartItem{}, ErrInvalidName.WithMessage("item name is required")
	}
	if p.Quantity <= 0 {
		return CartItem{}, ErrInvalidQuantity
	}
	if p.BasePrice.IsNegative() {
		return CartItem{}, ErrInvalidAmount.WithMessage("base price must not be negative")
	}
	if _, err := NormalizeCurrency(p.BasePrice.Currency); err != nil {
		return CartItem{}, err
	}

	customizations := make([]CartItemCustomization, 0, len(p.Customizations))
	for _, c := range p.Customizations {
		if strings.TrimSpace(c.GroupName) == "" || strings.TrimSpace(c.ChoiceName) == "" {
			return CartItem{}, ErrInvalidInput.WithMessage("customization group and choice are required")
		}
		if c.PriceAdjustment.Currency != p.BasePrice.Currency {
			return CartItem{}, ErrCurrencyMismatch.WithMessage(fmt.Sprintf("customization %q priced in %s, item in %s", c.ChoiceName, c.PriceAdjustment.Currency, p.BasePrice.Currency))
		}
		customizations = append(customizations, CartItemCustomization{
			GroupName:       strings.TrimSpace(c.GroupName),
			ChoiceName:      strings.TrimSpace(c.ChoiceName),
			PriceAdjustment: c.PriceAdjustment,
		})
	}

	return CartItem{
		ID:             strings.TrimSpace(p.ID),
		AddedByUserID:  strings.TrimSpace(p.AddedByUserID),
		MenuItemID:     strings.TrimSpace(p.MenuItemID),
		MenuCategoryID: strings.TrimSpace(p.MenuCategoryID),
		Name:           name,
		BasePrice:      p.BasePrice,
		Quantity:       p.Quantity,
		Customizations: customizations,
		AddedAt:        p.AddedAt.UTC(),
	}, nil
}

// UnitPrice is the base price plus all customisation adjustments.
func (i CartItem) UnitPrice() Money {
	unit := i.BasePrice
	for _, c := range i.Customizations {
		unit.Amount = unit.Amount.Add(c.PriceAdjustment.Amount)
	}
	return unit
}

// LineItemTotal is (base price + Σ adjustments) × quantity, exact and unrounded.
func (i CartItem) LineItemTotal() Money {
	return i.UnitPrice().MulInt(int64(i.Quantity))
}

func (i CartItem) clone() CartItem {
	dup := i
	if len(i.Customizations) > 0 {
		dup.Customizations = append([]CartItemCustomization(nil), i.Customizations...)
	}
	return dup
}
