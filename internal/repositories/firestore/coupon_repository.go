package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/shopspring/decimal"

	domain "github.com/groupdine/api/internal/domain"
	pfirestore "github.com/groupdine/api/internal/platform/firestore"
	"github.com/groupdine/api/internal/repositories"
)

const couponCollection = "coupons"

// CouponRepository reads coupons maintained by the restaurant back office.
type CouponRepository struct {
	coupons *pfirestore.Collection[couponDocument]
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	return &CouponRepository{
		coupons: pfirestore.NewCollection[couponDocument](provider, couponCollection),
	}, nil
}

func (r *CouponRepository) FindByID(ctx context.Context, couponID string) (domain.Coupon, error) {
	if r == nil || r.coupons == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	couponID = strings.TrimSpace(couponID)
	if couponID == "" {
		return domain.Coupon{}, errors.New("coupon repository: coupon id is required")
	}
	doc, err := r.coupons.Get(ctx, couponID)
	if err != nil {
		return domain.Coupon{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

func (r *CouponRepository) FindByCode(ctx context.Context, code string, restaurantID string) (domain.Coupon, error) {
	if r == nil || r.coupons == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	normalized := domain.NormalizeCouponCode(code)
	if normalized == "" {
		return domain.Coupon{}, errors.New("coupon repository: code is required")
	}
	docs, err := r.coupons.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", normalized).
			Where("restaurantId", "==", strings.TrimSpace(restaurantID)).
			Limit(1)
	})
	if err != nil {
		return domain.Coupon{}, err
	}
	if len(docs) == 0 {
		return domain.Coupon{}, repositories.NewNotFoundError("coupons.findByCode", fmt.Sprintf("coupon %s not found", normalized))
	}
	return docs[0].Data.toDomain(docs[0].ID)
}

// CouponUsageRepository counts redemptions written by team cart conversions.
type CouponUsageRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.CouponUsageRepository = (*CouponUsageRepository)(nil)

// NewCouponUsageRepository constructs a Firestore-backed coupon usage repository.
func NewCouponUsageRepository(provider *pfirestore.Provider) (*CouponUsageRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon usage repository requires firestore provider")
	}
	return &CouponUsageRepository{provider: provider}, nil
}

func (r *CouponUsageRepository) CountByUser(ctx context.Context, couponID string, userID string) (int, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("coupon usage repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	query := client.Collection(redemptionCollection).
		Where("couponId", "==", strings.TrimSpace(couponID)).
		Where("userId", "==", strings.TrimSpace(userID))
	result, err := query.
		NewAggregationQuery().
		WithCount("redemptions").
		Get(ctx)
	if err != nil {
		return 0, pfirestore.WrapError("couponRedemptions.count", err)
	}
	value, ok := result["redemptions"].(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("couponRedemptions.count: unexpected aggregation result %T", result["redemptions"])
	}
	return int(value.GetIntegerValue()), nil
}

type couponDocument struct {
	Code              string         `firestore:"code"`
	RestaurantID      string         `firestore:"restaurantId"`
	Description       string         `firestore:"description,omitempty"`
	Type              string         `firestore:"type"`
	Scope             string         `firestore:"scope"`
	PercentOff        string         `firestore:"percentOff,omitempty"`
	FixedAmount       moneyDocument  `firestore:"fixedAmount"`
	MenuItemIDs       []string       `firestore:"menuItemIds,omitempty"`
	MenuCategoryIDs   []string       `firestore:"menuCategoryIds,omitempty"`
	MinOrderAmount    *moneyDocument `firestore:"minOrderAmount,omitempty"`
	Enabled           bool           `firestore:"enabled"`
	ValidFrom         time.Time      `firestore:"validFrom,omitempty"`
	ValidUntil        time.Time      `firestore:"validUntil,omitempty"`
	TotalUsageLimit   int            `firestore:"totalUsageLimit"`
	PerUserUsageLimit int            `firestore:"perUserUsageLimit"`
	UsageCount        int            `firestore:"usageCount"`
	CreatedAt         time.Time      `firestore:"createdAt"`
	UpdatedAt         time.Time      `firestore:"updatedAt"`
}

func (d couponDocument) toDomain(id string) (domain.Coupon, error) {
	fixed, err := d.FixedAmount.toDomain()
	if err != nil {
		return domain.Coupon{}, err
	}
	minOrder, err := d.MinOrderAmount.toDomainPtr()
	if err != nil {
		return domain.Coupon{}, err
	}
	percent := decimal.Zero
	if strings.TrimSpace(d.PercentOff) != "" {
		percent, err = decimal.NewFromString(d.PercentOff)
		if err != nil {
			return domain.Coupon{}, fmt.Errorf("decode coupon %s percentOff: %w", id, err)
		}
	}
	return domain.Coupon{
		ID:                id,
		Code:              domain.NormalizeCouponCode(d.Code),
		RestaurantID:      d.RestaurantID,
		Description:       d.Description,
		Type:              domain.CouponType(d.Type),
		Scope:             domain.CouponScope(d.Scope),
		PercentOff:        percent,
		FixedAmount:       fixed,
		MenuItemIDs:       append([]string(nil), d.MenuItemIDs...),
		MenuCategoryIDs:   append([]string(nil), d.MenuCategoryIDs...),
		MinOrderAmount:    minOrder,
		Enabled:           d.Enabled,
		ValidFrom:         d.ValidFrom.UTC(),
		ValidUntil:        d.ValidUntil.UTC(),
		TotalUsageLimit:   d.TotalUsageLimit,
		PerUserUsageLimit: d.PerUserUsageLimit,
		UsageCount:        d.UsageCount,
		CreatedAt:         d.CreatedAt.UTC(),
		UpdatedAt:         d.UpdatedAt.UTC(),
	}, nil
}
