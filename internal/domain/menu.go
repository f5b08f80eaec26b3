package domain

// MenuCustomizationChoice is a selectable option within a customisation group.
type MenuCustomizationChoice struct {
	ID              string
	Name            string
	PriceAdjustment Money
}

// MenuCustomizationGroup groups the choices a customer may pick for an item.
type MenuCustomizationGroup struct {
	ID        string
	Name      string
	MinSelect int
	MaxSelect int
	Choices   []MenuCustomizationChoice
}

// MenuItem is the catalog entry a cart item is snapshotted from.
type MenuItem struct {
	ID                  string
	RestaurantID        string
	CategoryID          string
	Name                string
	Price               Money
	Available           bool
	CustomizationGroups []MenuCustomizationGroup
}

// Choice looks up a choice by group and choice id.
func (m MenuItem) Choice(groupID, choiceID string) (MenuCustomizationGroup, MenuCustomizationChoice, bool) {
	for _, g := range m.CustomizationGroups {
		if g.ID != groupID {
			continue
		}
		for _, c := range g.Choices {
			if c.ID == choiceID {
				return g, c, true
			}
		}
	}
	return MenuCustomizationGroup{}, MenuCustomizationChoice{}, false
}
