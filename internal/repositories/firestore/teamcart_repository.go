package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/groupdine/api/internal/domain"
	pfirestore "github.com/groupdine/api/internal/platform/firestore"
	"github.com/groupdine/api/internal/repositories"
)

const (
	teamCartCollection   = "teamCarts"
	orderCollection      = "orders"
	redemptionCollection = "couponRedemptions"
)

// TeamCartRepository persists team carts as single documents guarded by a revision counter.
type TeamCartRepository struct {
	carts    *pfirestore.Collection[teamCartDocument]
	provider *pfirestore.Provider
}

var _ repositories.TeamCartRepository = (*TeamCartRepository)(nil)

// NewTeamCartRepository constructs a Firestore-backed team cart repository.
func NewTeamCartRepository(provider *pfirestore.Provider) (*TeamCartRepository, error) {
	if provider == nil {
		return nil, errors.New("team cart repository requires firestore provider")
	}
	return &TeamCartRepository{
		carts:    pfirestore.NewCollection[teamCartDocument](provider, teamCartCollection),
		provider: provider,
	}, nil
}

func (r *TeamCartRepository) Insert(ctx context.Context, cart domain.TeamCart) (domain.TeamCart, error) {
	if r == nil || r.carts == nil {
		return domain.TeamCart{}, errors.New("team cart repository not initialised")
	}
	cartID := strings.TrimSpace(cart.ID)
	if cartID == "" {
		return domain.TeamCart{}, errors.New("team cart repository: cart id is required")
	}

	saved := cart.Clone()
	saved.Revision = 1
	ref, err := r.carts.Doc(ctx, cartID)
	if err != nil {
		return domain.TeamCart{}, err
	}
	if _, err := ref.Create(ctx, newTeamCartDocument(saved)); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return domain.TeamCart{}, repositories.NewConflictError("teamCarts.insert", fmt.Sprintf("team cart %s already exists", cartID))
		}
		return domain.TeamCart{}, pfirestore.WrapError("teamCarts.insert", err)
	}
	return saved, nil
}

func (r *TeamCartRepository) FindByID(ctx context.Context, cartID string) (domain.TeamCart, error) {
	if r == nil || r.carts == nil {
		return domain.TeamCart{}, errors.New("team cart repository not initialised")
	}
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return domain.TeamCart{}, errors.New("team cart repository: cart id is required")
	}
	doc, err := r.carts.Get(ctx, cartID)
	if err != nil {
		return domain.TeamCart{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

func (r *TeamCartRepository) Update(ctx context.Context, cart domain.TeamCart, expectedRevision int64) (domain.TeamCart, error) {
	if r == nil || r.provider == nil {
		return domain.TeamCart{}, errors.New("team cart repository not initialised")
	}
	var saved domain.TeamCart
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.carts.Doc(ctx, cart.ID)
		if err != nil {
			return err
		}
		next, err := r.checkRevision(tx, ref, cart, expectedRevision, "teamCarts.update")
		if err != nil {
			return err
		}
		if err := tx.Set(ref, newTeamCartDocument(next)); err != nil {
			return err
		}
		saved = next
		return nil
	}, pfirestore.WithTxAttempts(1))
	if err != nil {
		return domain.TeamCart{}, err
	}
	return saved, nil
}

// ListExpirable relies on the composite index (status ASC, expiresAt ASC).
func (r *TeamCartRepository) ListExpirable(ctx context.Context, cutoff time.Time, limit int) ([]domain.TeamCart, error) {
	if r == nil || r.carts == nil {
		return nil, errors.New("team cart repository not initialised")
	}
	statuses := make([]string, 0, 3)
	for _, s := range domain.ExpirableStatuses() {
		statuses = append(statuses, string(s))
	}
	docs, err := r.carts.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("status", "in", statuses).
			Where("expiresAt", "<=", cutoff.UTC()).
			OrderBy("expiresAt", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	carts := make([]domain.TeamCart, 0, len(docs))
	for _, doc := range docs {
		cart, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return nil, err
		}
		carts = append(carts, cart)
	}
	return carts, nil
}

// SaveConversion writes the converted cart, the order and the coupon redemption in one transaction.
func (r *TeamCartRepository) SaveConversion(ctx context.Context, cart domain.TeamCart, expectedRevision int64, order domain.Order, redemption *domain.CouponRedemption) (domain.TeamCart, error) {
	if r == nil || r.provider == nil {
		return domain.TeamCart{}, errors.New("team cart repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return domain.TeamCart{}, errors.New("team cart repository: order id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.TeamCart{}, err
	}

	var saved domain.TeamCart
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		cartRef, err := r.carts.Doc(ctx, cart.ID)
		if err != nil {
			return err
		}
		next, err := r.checkRevision(tx, cartRef, cart, expectedRevision, "teamCarts.saveConversion")
		if err != nil {
			return err
		}

		if err := tx.Create(client.Collection(orderCollection).Doc(order.ID), newOrderDocument(order)); err != nil {
			return err
		}
		if redemption != nil {
			if err := tx.Create(client.Collection(redemptionCollection).Doc(redemption.ID), redemptionDocument{
				CouponID:   redemption.CouponID,
				UserID:     redemption.UserID,
				OrderID:    redemption.OrderID,
				RedeemedAt: redemption.RedeemedAt.UTC(),
			}); err != nil {
				return err
			}
			if err := tx.Update(client.Collection(couponCollection).Doc(redemption.CouponID), []firestore.Update{
				{Path: "usageCount", Value: firestore.Increment(1)},
				{Path: "updatedAt", Value: redemption.RedeemedAt.UTC()},
			}); err != nil {
				return err
			}
		}
		if err := tx.Set(cartRef, newTeamCartDocument(next)); err != nil {
			return err
		}
		saved = next
		return nil
	}, pfirestore.WithTxAttempts(1))
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return domain.TeamCart{}, repositories.NewConflictError("teamCarts.saveConversion", fmt.Sprintf("order %s already exists", order.ID))
		}
		return domain.TeamCart{}, err
	}
	return saved, nil
}

func (r *TeamCartRepository) checkRevision(tx *firestore.Transaction, ref *firestore.DocumentRef, cart domain.TeamCart, expectedRevision int64, op string) (domain.TeamCart, error) {
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.TeamCart{}, repositories.NewNotFoundError(op, fmt.Sprintf("team cart %s not found", cart.ID))
		}
		return domain.TeamCart{}, err
	}
	var current teamCartDocument
	if err := snap.DataTo(&current); err != nil {
		return domain.TeamCart{}, fmt.Errorf("decode team cart %s: %w", cart.ID, err)
	}
	if current.Revision != expectedRevision {
		return domain.TeamCart{}, repositories.NewConflictError(op, fmt.Sprintf("team cart %s revision %d, expected %d", cart.ID, current.Revision, expectedRevision))
	}
	next := cart.Clone()
	next.Revision = expectedRevision + 1
	return next, nil
}

type teamCartDocument struct {
	RestaurantID     string                   `firestore:"restaurantId"`
	HostUserID       string                   `firestore:"hostUserId"`
	ShareToken       string                   `firestore:"shareToken"`
	Currency         string                   `firestore:"currency"`
	Status           string                   `firestore:"status"`
	Items            []cartItemDocument       `firestore:"items"`
	Members          []cartMemberDocument     `firestore:"members"`
	MemberUserIDs    []string                 `firestore:"memberUserIds"`
	MemberPayments   []memberPaymentDocument  `firestore:"memberPayments"`
	MemberTotals     map[string]moneyDocument `firestore:"memberTotals,omitempty"`
	QuoteVersion     int64                    `firestore:"quoteVersion"`
	Quote            *quoteDocument           `firestore:"quote,omitempty"`
	QuoteStale       bool                     `firestore:"quoteStale"`
	AppliedCouponID  string                   `firestore:"appliedCouponId,omitempty"`
	TipAmount        moneyDocument            `firestore:"tipAmount"`
	ConvertedOrderID string                   `firestore:"convertedOrderId,omitempty"`
	ExpiresAt        time.Time                `firestore:"expiresAt"`
	CreatedAt        time.Time                `firestore:"createdAt"`
	UpdatedAt        time.Time                `firestore:"updatedAt"`
	Revision         int64                    `firestore:"revision"`
}

type cartItemDocument struct {
	ID             string                  `firestore:"id"`
	AddedByUserID  string                  `firestore:"addedByUserId"`
	MenuItemID     string                  `firestore:"menuItemId"`
	MenuCategoryID string                  `firestore:"menuCategoryId,omitempty"`
	Name           string                  `firestore:"name"`
	BasePrice      moneyDocument           `firestore:"basePrice"`
	Quantity       int                     `firestore:"quantity"`
	Customizations []customizationDocument `firestore:"customizations,omitempty"`
	AddedAt        time.Time               `firestore:"addedAt"`
}

type cartMemberDocument struct {
	ID       string    `firestore:"id"`
	UserID   string    `firestore:"userId"`
	Name     string    `firestore:"name"`
	Role     string    `firestore:"role"`
	JoinedAt time.Time `firestore:"joinedAt"`
}

type memberPaymentDocument struct {
	ID                  string        `firestore:"id"`
	UserID              string        `firestore:"userId"`
	Amount              moneyDocument `firestore:"amount"`
	Method              string        `firestore:"method"`
	Status              string        `firestore:"status"`
	OnlineTransactionID string        `firestore:"onlineTransactionId,omitempty"`
	QuoteVersion        int64         `firestore:"quoteVersion"`
	Attempt             int           `firestore:"attempt"`
	CreatedAt           time.Time     `firestore:"createdAt"`
	UpdatedAt           time.Time     `firestore:"updatedAt"`
}

type quoteDocument struct {
	Subtotal    moneyDocument `firestore:"subtotal"`
	Discount    moneyDocument `firestore:"discount"`
	DeliveryFee moneyDocument `firestore:"deliveryFee"`
	Tip         moneyDocument `firestore:"tip"`
	Tax         moneyDocument `firestore:"tax"`
	Total       moneyDocument `firestore:"total"`
	QuotedAt    time.Time     `firestore:"quotedAt"`
}

func newTeamCartDocument(cart domain.TeamCart) teamCartDocument {
	doc := teamCartDocument{
		RestaurantID:     cart.RestaurantID,
		HostUserID:       cart.HostUserID,
		ShareToken:       cart.ShareToken,
		Currency:         cart.Currency,
		Status:           string(cart.Status),
		Items:            make([]cartItemDocument, 0, len(cart.Items)),
		Members:          make([]cartMemberDocument, 0, len(cart.Members)),
		MemberUserIDs:    make([]string, 0, len(cart.Members)),
		MemberPayments:   make([]memberPaymentDocument, 0, len(cart.MemberPayments)),
		QuoteVersion:     cart.QuoteVersion,
		QuoteStale:       cart.QuoteStale,
		AppliedCouponID:  cart.AppliedCouponID,
		TipAmount:        encodeMoney(cart.TipAmount),
		ConvertedOrderID: cart.ConvertedOrderID,
		ExpiresAt:        cart.ExpiresAt.UTC(),
		CreatedAt:        cart.CreatedAt.UTC(),
		UpdatedAt:        cart.UpdatedAt.UTC(),
		Revision:         cart.Revision,
	}
	for _, item := range cart.Items {
		doc.Items = append(doc.Items, cartItemDocument{
			ID:             item.ID,
			AddedByUserID:  item.AddedByUserID,
			MenuItemID:     item.MenuItemID,
			MenuCategoryID: item.MenuCategoryID,
			Name:           item.Name,
			BasePrice:      encodeMoney(item.BasePrice),
			Quantity:       item.Quantity,
			Customizations: encodeCustomizations(item.Customizations),
			AddedAt:        item.AddedAt.UTC(),
		})
	}
	for _, m := range cart.Members {
		doc.Members = append(doc.Members, cartMemberDocument{
			ID:       m.ID,
			UserID:   m.UserID,
			Name:     m.Name,
			Role:     string(m.Role),
			JoinedAt: m.JoinedAt.UTC(),
		})
		doc.MemberUserIDs = append(doc.MemberUserIDs, m.UserID)
	}
	for _, p := range cart.MemberPayments {
		doc.MemberPayments = append(doc.MemberPayments, memberPaymentDocument{
			ID:                  p.ID,
			UserID:              p.UserID,
			Amount:              encodeMoney(p.Amount),
			Method:              string(p.Method),
			Status:              string(p.Status),
			OnlineTransactionID: p.OnlineTransactionID,
			QuoteVersion:        p.QuoteVersion,
			Attempt:             p.Attempt,
			CreatedAt:           p.CreatedAt.UTC(),
			UpdatedAt:           p.UpdatedAt.UTC(),
		})
	}
	if len(cart.MemberTotals) > 0 {
		doc.MemberTotals = make(map[string]moneyDocument, len(cart.MemberTotals))
		for uid, total := range cart.MemberTotals {
			doc.MemberTotals[uid] = encodeMoney(total)
		}
	}
	if q := cart.Quote; q != nil {
		doc.Quote = &quoteDocument{
			Subtotal:    encodeMoney(q.Subtotal),
			Discount:    encodeMoney(q.Discount),
			DeliveryFee: encodeMoney(q.DeliveryFee),
			Tip:         encodeMoney(q.Tip),
			Tax:         encodeMoney(q.Tax),
			Total:       encodeMoney(q.Total),
			QuotedAt:    q.QuotedAt.UTC(),
		}
	}
	return doc
}

func (d teamCartDocument) toDomain(id string) (domain.TeamCart, error) {
	tip, err := d.TipAmount.toDomain()
	if err != nil {
		return domain.TeamCart{}, err
	}
	cart := domain.TeamCart{
		ID:               id,
		RestaurantID:     d.RestaurantID,
		HostUserID:       d.HostUserID,
		ShareToken:       d.ShareToken,
		Currency:         d.Currency,
		Status:           domain.TeamCartStatus(d.Status),
		QuoteVersion:     d.QuoteVersion,
		QuoteStale:       d.QuoteStale,
		AppliedCouponID:  d.AppliedCouponID,
		TipAmount:        tip,
		ConvertedOrderID: d.ConvertedOrderID,
		ExpiresAt:        d.ExpiresAt.UTC(),
		CreatedAt:        d.CreatedAt.UTC(),
		UpdatedAt:        d.UpdatedAt.UTC(),
		Revision:         d.Revision,
	}
	for _, item := range d.Items {
		base, err := item.BasePrice.toDomain()
		if err != nil {
			return domain.TeamCart{}, err
		}
		customizations, err := decodeCustomizations(item.Customizations)
		if err != nil {
			return domain.TeamCart{}, err
		}
		cart.Items = append(cart.Items, domain.CartItem{
			ID:             item.ID,
			AddedByUserID:  item.AddedByUserID,
			MenuItemID:     item.MenuItemID,
			MenuCategoryID: item.MenuCategoryID,
			Name:           item.Name,
			BasePrice:      base,
			Quantity:       item.Quantity,
			Customizations: customizations,
			AddedAt:        item.AddedAt.UTC(),
		})
	}
	for _, m := range d.Members {
		cart.Members = append(cart.Members, domain.CartMember{
			ID:       m.ID,
			UserID:   m.UserID,
			Name:     m.Name,
			Role:     domain.MemberRole(m.Role),
			JoinedAt: m.JoinedAt.UTC(),
		})
	}
	for _, p := range d.MemberPayments {
		amount, err := p.Amount.toDomain()
		if err != nil {
			return domain.TeamCart{}, err
		}
		cart.MemberPayments = append(cart.MemberPayments, domain.MemberPayment{
			ID:                  p.ID,
			UserID:              p.UserID,
			Amount:              amount,
			Method:              domain.PaymentMethod(p.Method),
			Status:              domain.MemberPaymentStatus(p.Status),
			OnlineTransactionID: p.OnlineTransactionID,
			QuoteVersion:        p.QuoteVersion,
			Attempt:             p.Attempt,
			CreatedAt:           p.CreatedAt.UTC(),
			UpdatedAt:           p.UpdatedAt.UTC(),
		})
	}
	if len(d.MemberTotals) > 0 {
		cart.MemberTotals = make(map[string]domain.Money, len(d.MemberTotals))
		for uid, total := range d.MemberTotals {
			m, err := total.toDomain()
			if err != nil {
				return domain.TeamCart{}, err
			}
			cart.MemberTotals[uid] = m
		}
	}
	if q := d.Quote; q != nil {
		quote := domain.Quote{QuotedAt: q.QuotedAt.UTC()}
		fields := []struct {
			src moneyDocument
			dst *domain.Money
		}{
			{q.Subtotal, &quote.Subtotal},
			{q.Discount, &quote.Discount},
			{q.DeliveryFee, &quote.DeliveryFee},
			{q.Tip, &quote.Tip},
			{q.Tax, &quote.Tax},
			{q.Total, &quote.Total},
		}
		for _, f := range fields {
			m, err := f.src.toDomain()
			if err != nil {
				return domain.TeamCart{}, err
			}
			*f.dst = m
		}
		cart.Quote = &quote
	}
	return cart, nil
}
