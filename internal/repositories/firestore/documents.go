package firestore

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/groupdine/api/internal/domain"
)

// Amounts are stored as decimal strings so that no precision is lost in Firestore doubles.
type moneyDocument struct {
	Amount   string `firestore:"amount"`
	Currency string `firestore:"currency"`
}

func encodeMoney(m domain.Money) moneyDocument {
	return moneyDocument{Amount: m.Amount.String(), Currency: strings.ToUpper(strings.TrimSpace(m.Currency))}
}

func (d moneyDocument) toDomain() (domain.Money, error) {
	if strings.TrimSpace(d.Amount) == "" {
		return domain.Zero(d.Currency), nil
	}
	amount, err := decimal.NewFromString(d.Amount)
	if err != nil {
		return domain.Money{}, fmt.Errorf("decode amount %q: %w", d.Amount, err)
	}
	return domain.Money{Amount: amount, Currency: strings.ToUpper(strings.TrimSpace(d.Currency))}, nil
}

func (d *moneyDocument) toDomainPtr() (*domain.Money, error) {
	if d == nil {
		return nil, nil
	}
	m, err := d.toDomain()
	if err != nil {
		return nil, err
	}
	return &m, nil
}

type customizationDocument struct {
	GroupName       string        `firestore:"groupName"`
	ChoiceName      string        `firestore:"choiceName"`
	PriceAdjustment moneyDocument `firestore:"priceAdjustment"`
}

func encodeCustomizations[T domain.CartItemCustomization | domain.OrderItemCustomization](values []T) []customizationDocument {
	if len(values) == 0 {
		return nil
	}
	out := make([]customizationDocument, 0, len(values))
	for _, v := range values {
		c := domain.CartItemCustomization(v)
		out = append(out, customizationDocument{
			GroupName:       c.GroupName,
			ChoiceName:      c.ChoiceName,
			PriceAdjustment: encodeMoney(c.PriceAdjustment),
		})
	}
	return out
}

func decodeCustomizations(docs []customizationDocument) ([]domain.CartItemCustomization, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	out := make([]domain.CartItemCustomization, 0, len(docs))
	for _, d := range docs {
		adj, err := d.PriceAdjustment.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, domain.CartItemCustomization{GroupName: d.GroupName, ChoiceName: d.ChoiceName, PriceAdjustment: adj})
	}
	return out, nil
}

type orderItemDocument struct {
	ID             string                  `firestore:"id"`
	MenuItemID     string                  `firestore:"menuItemId"`
	MenuCategoryID string                  `firestore:"menuCategoryId,omitempty"`
	Name           string                  `firestore:"name"`
	AddedByUserID  string                  `firestore:"addedByUserId"`
	Quantity       int                     `firestore:"quantity"`
	UnitPrice      moneyDocument           `firestore:"unitPrice"`
	LineTotal      moneyDocument           `firestore:"lineTotal"`
	Customizations []customizationDocument `firestore:"customizations,omitempty"`
}

type paymentTransactionDocument struct {
	ID               string        `firestore:"id"`
	Method           string        `firestore:"method"`
	Amount           moneyDocument `firestore:"amount"`
	Status           string        `firestore:"status"`
	PaidByUserID     string        `firestore:"paidByUserId"`
	GatewayReference string        `firestore:"gatewayReference,omitempty"`
	CreatedAt        time.Time     `firestore:"createdAt"`
}

type addressDocument struct {
	Street  string `firestore:"street"`
	City    string `firestore:"city"`
	State   string `firestore:"state,omitempty"`
	ZipCode string `firestore:"zipCode,omitempty"`
	Country string `firestore:"country"`
}

// orderDocument is written once on conversion and never updated by this service.
type orderDocument struct {
	CustomerID          string                       `firestore:"customerId"`
	RestaurantID        string                       `firestore:"restaurantId"`
	SourceTeamCartID    string                       `firestore:"sourceTeamCartId"`
	Status              string                       `firestore:"status"`
	Items               []orderItemDocument          `firestore:"items"`
	Subtotal            moneyDocument                `firestore:"subtotal"`
	Discount            moneyDocument                `firestore:"discount"`
	DeliveryFee         moneyDocument                `firestore:"deliveryFee"`
	Tip                 moneyDocument                `firestore:"tip"`
	Tax                 moneyDocument                `firestore:"tax"`
	Total               moneyDocument                `firestore:"total"`
	AppliedCouponIDs    []string                     `firestore:"appliedCouponIds,omitempty"`
	DeliveryAddress     addressDocument              `firestore:"deliveryAddress"`
	SpecialInstructions string                       `firestore:"specialInstructions,omitempty"`
	PaymentTransactions []paymentTransactionDocument `firestore:"paymentTransactions"`
	PlacedAt            time.Time                    `firestore:"placedAt"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ID:             item.ID,
			MenuItemID:     item.MenuItemID,
			MenuCategoryID: item.MenuCategoryID,
			Name:           item.Name,
			AddedByUserID:  item.AddedByUserID,
			Quantity:       item.Quantity,
			UnitPrice:      encodeMoney(item.UnitPrice),
			LineTotal:      encodeMoney(item.LineTotal),
			Customizations: encodeCustomizations(item.Customizations),
		})
	}
	txs := make([]paymentTransactionDocument, 0, len(order.PaymentTransactions))
	for _, tx := range order.PaymentTransactions {
		txs = append(txs, paymentTransactionDocument{
			ID:               tx.ID,
			Method:           string(tx.Method),
			Amount:           encodeMoney(tx.Amount),
			Status:           string(tx.Status),
			PaidByUserID:     tx.PaidByUserID,
			GatewayReference: tx.GatewayReference,
			CreatedAt:        tx.CreatedAt.UTC(),
		})
	}
	return orderDocument{
		CustomerID:       order.CustomerID,
		RestaurantID:     order.RestaurantID,
		SourceTeamCartID: order.SourceTeamCartID,
		Status:           string(order.Status),
		Items:            items,
		Subtotal:         encodeMoney(order.Subtotal),
		Discount:         encodeMoney(order.Discount),
		DeliveryFee:      encodeMoney(order.DeliveryFee),
		Tip:              encodeMoney(order.Tip),
		Tax:              encodeMoney(order.Tax),
		Total:            encodeMoney(order.Total),
		AppliedCouponIDs: append([]string(nil), order.AppliedCouponIDs...),
		DeliveryAddress: addressDocument{
			Street:  order.DeliveryAddress.Street,
			City:    order.DeliveryAddress.City,
			State:   order.DeliveryAddress.State,
			ZipCode: order.DeliveryAddress.ZipCode,
			Country: order.DeliveryAddress.Country,
		},
		SpecialInstructions: order.SpecialInstructions,
		PaymentTransactions: txs,
		PlacedAt:            order.PlacedAt.UTC(),
	}
}

type redemptionDocument struct {
	CouponID   string    `firestore:"couponId"`
	UserID     string    `firestore:"userId"`
	OrderID    string    `firestore:"orderId"`
	RedeemedAt time.Time `firestore:"redeemedAt"`
}
