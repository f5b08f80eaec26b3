// Package memory provides process-local repositories for tests and local development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/groupdine/api/internal/domain"
	"github.com/groupdine/api/internal/repositories"
)

// Store keeps every aggregate in maps guarded by one mutex. Reads and writes copy values so
// callers never share state with the store.
type Store struct {
	mu          sync.Mutex
	carts       map[string]domain.TeamCart
	orders      map[string]domain.Order
	coupons     map[string]domain.Coupon
	redemptions []domain.CouponRedemption
	menu        map[string]domain.MenuItem
}

var _ repositories.Registry = (*Store)(nil)

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		carts:   make(map[string]domain.TeamCart),
		orders:  make(map[string]domain.Order),
		coupons: make(map[string]domain.Coupon),
		menu:    make(map[string]domain.MenuItem),
	}
}

// Close implements repositories.Registry.
func (s *Store) Close(context.Context) error { return nil }

// TeamCarts implements repositories.Registry.
func (s *Store) TeamCarts() repositories.TeamCartRepository { return teamCartRepository{s} }

// Coupons implements repositories.Registry.
func (s *Store) Coupons() repositories.CouponRepository { return couponRepository{s} }

// CouponUsage implements repositories.Registry.
func (s *Store) CouponUsage() repositories.CouponUsageRepository { return couponUsageRepository{s} }

// Menu implements repositories.Registry.
func (s *Store) Menu() repositories.MenuRepository { return menuRepository{s} }

// Health implements repositories.Registry.
func (s *Store) Health() repositories.HealthRepository { return healthRepository{} }

// PutCoupon seeds or replaces a coupon.
func (s *Store) PutCoupon(coupon domain.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coupons[coupon.ID] = coupon
}

// PutMenuItem seeds or replaces a catalog item.
func (s *Store) PutMenuItem(item domain.MenuItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.menu[menuKey(item.RestaurantID, item.ID)] = item
}

// Order returns a stored order.
func (s *Store) Order(orderID string) (domain.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	return order, ok
}

// Redemptions returns the recorded coupon redemptions.
func (s *Store) Redemptions() []domain.CouponRedemption {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.CouponRedemption(nil), s.redemptions...)
}

type teamCartRepository struct{ s *Store }

func (r teamCartRepository) Insert(_ context.Context, cart domain.TeamCart) (domain.TeamCart, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.carts[cart.ID]; exists {
		return domain.TeamCart{}, repositories.NewConflictError("teamcarts.insert", "cart "+cart.ID+" already exists")
	}
	stored := cart.Clone()
	stored.Revision = 1
	r.s.carts[cart.ID] = stored
	return stored.Clone(), nil
}

func (r teamCartRepository) FindByID(_ context.Context, cartID string) (domain.TeamCart, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cart, ok := r.s.carts[cartID]
	if !ok {
		return domain.TeamCart{}, repositories.NewNotFoundError("teamcarts.find", "cart "+cartID+" not found")
	}
	return cart.Clone(), nil
}

func (r teamCartRepository) Update(_ context.Context, cart domain.TeamCart, expectedRevision int64) (domain.TeamCart, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.updateLocked("teamcarts.update", cart, expectedRevision)
}

func (r teamCartRepository) ListExpirable(_ context.Context, cutoff time.Time, limit int) ([]domain.TeamCart, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []domain.TeamCart
	for _, cart := range r.s.carts {
		if cart.ExpiresAt.After(cutoff) || !cart.Status.CanTransitionTo(domain.TeamCartExpired) {
			continue
		}
		out = append(out, cart.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r teamCartRepository) SaveConversion(_ context.Context, cart domain.TeamCart, expectedRevision int64, order domain.Order, redemption *domain.CouponRedemption) (domain.TeamCart, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.orders[order.ID]; exists {
		return domain.TeamCart{}, repositories.NewConflictError("teamcarts.save_conversion", "order "+order.ID+" already exists")
	}
	saved, err := r.s.updateLocked("teamcarts.save_conversion", cart, expectedRevision)
	if err != nil {
		return domain.TeamCart{}, err
	}
	r.s.orders[order.ID] = order
	if redemption != nil {
		r.s.redemptions = append(r.s.redemptions, *redemption)
		if coupon, ok := r.s.coupons[redemption.CouponID]; ok {
			coupon.UsageCount++
			r.s.coupons[coupon.ID] = coupon
		}
	}
	return saved, nil
}

func (s *Store) updateLocked(op string, cart domain.TeamCart, expectedRevision int64) (domain.TeamCart, error) {
	current, ok := s.carts[cart.ID]
	if !ok {
		return domain.TeamCart{}, repositories.NewNotFoundError(op, "cart "+cart.ID+" not found")
	}
	if current.Revision != expectedRevision {
		return domain.TeamCart{}, repositories.NewConflictError(op, "cart "+cart.ID+" was modified concurrently")
	}
	stored := cart.Clone()
	stored.Revision = expectedRevision + 1
	s.carts[cart.ID] = stored
	return stored.Clone(), nil
}

type couponRepository struct{ s *Store }

func (r couponRepository) FindByID(_ context.Context, couponID string) (domain.Coupon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	coupon, ok := r.s.coupons[couponID]
	if !ok {
		return domain.Coupon{}, repositories.NewNotFoundError("coupons.find", "coupon "+couponID+" not found")
	}
	return coupon, nil
}

func (r couponRepository) FindByCode(_ context.Context, code string, restaurantID string) (domain.Coupon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	normalized := domain.NormalizeCouponCode(code)
	for _, coupon := range r.s.coupons {
		if domain.NormalizeCouponCode(coupon.Code) == normalized && coupon.RestaurantID == restaurantID {
			return coupon, nil
		}
	}
	return domain.Coupon{}, repositories.NewNotFoundError("coupons.find_by_code", "coupon "+normalized+" not found")
}

type couponUsageRepository struct{ s *Store }

func (r couponUsageRepository) CountByUser(_ context.Context, couponID string, userID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for _, redemption := range r.s.redemptions {
		if redemption.CouponID == couponID && redemption.UserID == userID {
			count++
		}
	}
	return count, nil
}

type menuRepository struct{ s *Store }

func (r menuRepository) FindMenuItem(_ context.Context, restaurantID string, menuItemID string) (domain.MenuItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	item, ok := r.s.menu[menuKey(restaurantID, menuItemID)]
	if !ok {
		return domain.MenuItem{}, repositories.NewNotFoundError("menu.find", "menu item "+menuItemID+" not found")
	}
	return item, nil
}

func menuKey(restaurantID, menuItemID string) string {
	return strings.TrimSpace(restaurantID) + "/" + strings.TrimSpace(menuItemID)
}

type healthRepository struct{}

func (healthRepository) Collect(context.Context) (domain.HealthReport, error) {
	now := time.Now().UTC()
	report := domain.HealthReport{GeneratedAt: now}
	report.Add(domain.DependencyProbe{Name: "memory", State: domain.HealthOK, Critical: true, CheckedAt: now})
	return report, nil
}
