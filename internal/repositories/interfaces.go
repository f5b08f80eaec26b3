package repositories

import (
	"context"
	"time"

	domain "github.com/groupdine/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	TeamCarts() TeamCartRepository
	Coupons() CouponRepository
	CouponUsage() CouponUsageRepository
	Menu() MenuRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// TeamCartRepository persists the team cart aggregate. Writes are guarded by the cart revision:
// an update whose expected revision differs from the stored one must fail with IsConflict.
type TeamCartRepository interface {
	// Insert stores a new cart at revision 1.
	Insert(ctx context.Context, cart domain.TeamCart) (domain.TeamCart, error)
	FindByID(ctx context.Context, cartID string) (domain.TeamCart, error)
	// Update replaces the cart when the stored revision equals expectedRevision and returns it with the next revision.
	Update(ctx context.Context, cart domain.TeamCart, expectedRevision int64) (domain.TeamCart, error)
	// ListExpirable returns carts in open, locked or finalized status whose deadline is at or before cutoff,
	// ordered by deadline ascending.
	ListExpirable(ctx context.Context, cutoff time.Time, limit int) ([]domain.TeamCart, error)
	// SaveConversion atomically updates the cart, inserts the order and records the coupon redemption when present.
	SaveConversion(ctx context.Context, cart domain.TeamCart, expectedRevision int64, order domain.Order, redemption *domain.CouponRedemption) (domain.TeamCart, error)
}

// CouponRepository resolves coupons.
type CouponRepository interface {
	FindByID(ctx context.Context, couponID string) (domain.Coupon, error)
	FindByCode(ctx context.Context, code string, restaurantID string) (domain.Coupon, error)
}

// CouponUsageRepository exposes per-user redemption counts.
type CouponUsageRepository interface {
	CountByUser(ctx context.Context, couponID string, userID string) (int, error)
}

// MenuRepository resolves catalog items used to snapshot cart items.
type MenuRepository interface {
	FindMenuItem(ctx context.Context, restaurantID string, menuItemID string) (domain.MenuItem, error)
}

// HealthRepository probes the dependencies behind the API.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
