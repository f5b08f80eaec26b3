package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/groupdine/api/internal/domain"
	pfirestore "github.com/groupdine/api/internal/platform/firestore"
	"github.com/groupdine/api/internal/repositories"
)

const (
	restaurantCollection = "restaurants"
	menuItemCollection   = "menuItems"
)

// MenuRepository reads menu items stored under restaurants/{restaurantId}/menuItems.
type MenuRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.MenuRepository = (*MenuRepository)(nil)

// NewMenuRepository constructs a Firestore-backed menu repository.
func NewMenuRepository(provider *pfirestore.Provider) (*MenuRepository, error) {
	if provider == nil {
		return nil, errors.New("menu repository requires firestore provider")
	}
	return &MenuRepository{provider: provider}, nil
}

func (r *MenuRepository) FindMenuItem(ctx context.Context, restaurantID string, menuItemID string) (domain.MenuItem, error) {
	if r == nil || r.provider == nil {
		return domain.MenuItem{}, errors.New("menu repository not initialised")
	}
	restaurantID = strings.TrimSpace(restaurantID)
	menuItemID = strings.TrimSpace(menuItemID)
	if restaurantID == "" || menuItemID == "" {
		return domain.MenuItem{}, errors.New("menu repository: restaurant id and menu item id are required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.MenuItem{}, err
	}
	snap, err := client.Collection(restaurantCollection).Doc(restaurantID).
		Collection(menuItemCollection).Doc(menuItemID).Get(ctx)
	if err != nil {
		return domain.MenuItem{}, pfirestore.WrapError("menuItems.get", err)
	}
	var doc menuItemDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.MenuItem{}, fmt.Errorf("decode menu item %s: %w", menuItemID, err)
	}
	return doc.toDomain(snap.Ref.ID, restaurantID)
}

type menuItemDocument struct {
	CategoryID          string                   `firestore:"categoryId"`
	Name                string                   `firestore:"name"`
	Price               moneyDocument            `firestore:"price"`
	Available           bool                     `firestore:"available"`
	CustomizationGroups []menuCustomizationGroup `firestore:"customizationGroups,omitempty"`
}

type menuCustomizationGroup struct {
	ID        string                    `firestore:"id"`
	Name      string                    `firestore:"name"`
	MinSelect int                       `firestore:"minSelect"`
	MaxSelect int                       `firestore:"maxSelect"`
	Choices   []menuCustomizationChoice `firestore:"choices"`
}

type menuCustomizationChoice struct {
	ID              string        `firestore:"id"`
	Name            string        `firestore:"name"`
	PriceAdjustment moneyDocument `firestore:"priceAdjustment"`
}

func (d menuItemDocument) toDomain(id, restaurantID string) (domain.MenuItem, error) {
	price, err := d.Price.toDomain()
	if err != nil {
		return domain.MenuItem{}, err
	}
	item := domain.MenuItem{
		ID:           id,
		RestaurantID: restaurantID,
		CategoryID:   d.CategoryID,
		Name:         d.Name,
		Price:        price,
		Available:    d.Available,
	}
	for _, g := range d.CustomizationGroups {
		group := domain.MenuCustomizationGroup{ID: g.ID, Name: g.Name, MinSelect: g.MinSelect, MaxSelect: g.MaxSelect}
		for _, c := range g.Choices {
			adj, err := c.PriceAdjustment.toDomain()
			if err != nil {
				return domain.MenuItem{}, err
			}
			group.Choices = append(group.Choices, domain.MenuCustomizationChoice{ID: c.ID, Name: c.Name, PriceAdjustment: adj})
		}
		item.CustomizationGroups = append(item.CustomizationGroups, group)
	}
	return item, nil
}
