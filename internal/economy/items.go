// Package economy provides the consumable item catalog, demand
// modeling, and the deterministic market price index.
package economy

import "github.com/shopspring/decimal"

// ItemEffect describes how consuming one unit moves an agent's needs.
// Deltas are applied then clamped to [0, 100].
type ItemEffect struct {
	Energy float64
	Hunger float64
	Health float64
	Social float64
	Fun    float64
}

// Item is a catalog entry for a consumable good.
type Item struct {
	Type      string
	BasePrice decimal.Decimal
	Effect    ItemEffect
}

// catalog holds the closed set of consumables.
var catalog = map[string]Item{
	"MEAL": {
		Type:      "MEAL",
		BasePrice: decimal.NewFromInt(12),
		Effect:    ItemEffect{Hunger: 40, Energy: 5},
	},
	"SNACK": {
		Type:      "SNACK",
		BasePrice: decimal.NewFromInt(4),
		Effect:    ItemEffect{Hunger: 15},
	},
	"COFFEE": {
		Type:      "COFFEE",
		BasePrice: decimal.NewFromInt(5),
		Effect:    ItemEffect{Energy: 20, Hunger: 2},
	},
	"MEDICINE": {
		Type:      "MEDICINE",
		BasePrice: decimal.NewFromInt(30),
		Effect:    ItemEffect{Health: 35},
	},
	"DRINK": {
		Type:      "DRINK",
		BasePrice: decimal.NewFromInt(8),
		Effect:    ItemEffect{Fun: 20, Social: 10, Health: -3},
	},
	"TICKET": {
		Type:      "TICKET",
		BasePrice: decimal.NewFromInt(20),
		Effect:    ItemEffect{Fun: 35, Social: 15},
	},
}

// LookupItem returns the catalog entry for an item type.
func LookupItem(itemType string) (Item, bool) {
	it, ok := catalog[itemType]
	return it, ok
}
