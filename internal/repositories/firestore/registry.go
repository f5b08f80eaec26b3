package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/groupdine/api/internal/platform/firestore"
	"github.com/groupdine/api/internal/repositories"
)

// Registry bundles the Firestore repositories behind repositories.Registry.
type Registry struct {
	provider    *pfirestore.Provider
	teamCarts   *TeamCartRepository
	coupons     *CouponRepository
	couponUsage *CouponUsageRepository
	menu        *MenuRepository
	health      repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs every repository on top of the shared provider. When health is nil a
// probe of the Firestore client alone is used.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	teamCarts, err := NewTeamCartRepository(provider)
	if err != nil {
		return nil, err
	}
	coupons, err := NewCouponRepository(provider)
	if err != nil {
		return nil, err
	}
	usage, err := NewCouponUsageRepository(provider)
	if err != nil {
		return nil, err
	}
	menu, err := NewMenuRepository(provider)
	if err != nil {
		return nil, err
	}
	if health == nil {
		health, err = repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
			FirestoreCheck(provider),
		})
		if err != nil {
			return nil, fmt.Errorf("firestore registry: %w", err)
		}
	}
	return &Registry{
		provider:    provider,
		teamCarts:   teamCarts,
		coupons:     coupons,
		couponUsage: usage,
		menu:        menu,
		health:      health,
	}, nil
}

// FirestoreCheck returns a critical readiness probe for the provider's client.
func FirestoreCheck(provider *pfirestore.Provider) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name:     "firestore",
		Critical: true,
		Check:    provider.Ping,
	}
}

func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) TeamCarts() repositories.TeamCartRepository { return r.teamCarts }

func (r *Registry) Coupons() repositories.CouponRepository { return r.coupons }

func (r *Registry) CouponUsage() repositories.CouponUsageRepository { return r.couponUsage }

func (r *Registry) Menu() repositories.MenuRepository { return r.menu }

func (r *Registry) Health() repositories.HealthRepository { return r.health }
