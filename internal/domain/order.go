package domain

import (
	"strings"
	"time"
)

// OrderStatus is the lifecycle state of an order. Orders produced here start as placed.
type OrderStatus string

const OrderStatusPlaced OrderStatus = "placed"

// PaymentTransactionMethod is the settlement class of an order payment.
type PaymentTransactionMethod string

const (
	TransactionMethodCreditCard     PaymentTransactionMethod = "credit_card"
	TransactionMethodCashOnDelivery PaymentTransactionMethod = "cash_on_delivery"
)

// PaymentTransactionStatus tracks an order payment.
type PaymentTransactionStatus string

const PaymentTransactionSucceeded PaymentTransactionStatus = "succeeded"

// PaymentTransaction is a reconciled payment attached to an order.
type PaymentTransaction struct {
	ID               string
	Method           PaymentTransactionMethod
	Amount           Money
	Status           PaymentTransactionStatus
	PaidByUserID     string
	GatewayReference string
	CreatedAt        time.Time
}

// DeliveryAddress is where the order is delivered.
type DeliveryAddress struct {
	Street  string
	City    string
	State   string
	ZipCode string
	Country string
}

// Validate requires street, city and country.
func (a DeliveryAddress) Validate() error {
	if strings.TrimSpace(a.Street) == "" || strings.TrimSpace(a.City) == "" || strings.TrimSpace(a.Country) == "" {
		return ErrInvalidAddress
	}
	return nil
}

// OrderItemCustomization is a priced option on an order line.
type OrderItemCustomization struct {
	GroupName       string
	ChoiceName      string
	PriceAdjustment Money
}

// OrderItem is an order line built from a cart item.
type OrderItem struct {
	ID             string
	MenuItemID     string
	MenuCategoryID string
	Name           string
	AddedByUserID  string
	Quantity       int
	UnitPrice      Money
	LineTotal      Money
	Customizations []OrderItemCustomization
}

// Order is the immutable result of converting a team cart.
type Order struct {
	ID                  string
	CustomerID          string
	RestaurantID        string
	SourceTeamCartID    string
	Status              OrderStatus
	Items               []OrderItem
	Subtotal            Money
	Discount            Money
	DeliveryFee         Money
	Tip                 Money
	Tax                 Money
	Total               Money
	AppliedCouponIDs    []string
	DeliveryAddress     DeliveryAddress
	SpecialInstructions string
	PaymentTransactions []PaymentTransaction
	PlacedAt            time.Time
}
