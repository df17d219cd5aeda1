package economy

import (
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"
	"github.com/shopspring/decimal"
)

// DemandFactor returns the fraction of the local population that
// considers a business type on a given day, before quality and
// competition adjustments.
func DemandFactor(businessType string) float64 {
	switch businessType {
	case "RESTAURANT":
		return 0.30
	case "SHOP":
		return 0.25
	case "GYM":
		return 0.10
	case "CLINIC":
		return 0.08
	case "BANK":
		return 0.05
	case "WORKSHOP":
		return 0.12
	default:
		return 0.05
	}
}

// BaseMarketPrice is the reference price customers expect per business
// type, before the daily index.
func BaseMarketPrice(businessType string) decimal.Decimal {
	switch businessType {
	case "RESTAURANT":
		return decimal.NewFromInt(15)
	case "SHOP":
		return decimal.NewFromInt(20)
	case "GYM":
		return decimal.NewFromInt(10)
	case "CLINIC":
		return decimal.NewFromInt(40)
	case "BANK":
		return decimal.NewFromInt(25)
	case "WORKSHOP":
		return decimal.NewFromInt(30)
	default:
		return decimal.NewFromInt(10)
	}
}

// MarketIndex produces the deterministic daily price multiplier for a
// business type. Smooth noise over the day number keeps prices moving
// without a random walk that would break replay.
type MarketIndex struct {
	noise opensimplex.Noise
}

// NewMarketIndex builds an index seeded from the world seed.
func NewMarketIndex(seed int64) *MarketIndex {
	return &MarketIndex{noise: opensimplex.NewNormalized(seed)}
}

// typeChannel spreads business types across the noise field so their
// indices move independently.
func typeChannel(businessType string) float64 {
	ch := 0.0
	for _, r := range businessType {
		ch += float64(r)
	}
	return math.Mod(ch, 97) * 10
}

// Multiplier returns the price multiplier for a type on a sim day,
// in [0.8, 1.2].
func (m *MarketIndex) Multiplier(businessType string, day uint64) float64 {
	n := m.noise.Eval2(float64(day)*0.15, typeChannel(businessType)) // 0..1
	return 0.8 + 0.4*n
}

// MarketPrice is the expected price for a type on a sim day.
func (m *MarketIndex) MarketPrice(businessType string, day uint64) decimal.Decimal {
	base := BaseMarketPrice(businessType)
	mult := decimal.NewFromFloat(m.Multiplier(businessType, day))
	return base.Mul(mult).Round(2)
}

// PriceElasticity compares the market price with a business's effective
// price: cheap businesses attract up to 1.25×, expensive ones keep at
// least 0.5× of baseline demand.
func PriceElasticity(marketPrice, effectivePrice decimal.Decimal) float64 {
	if effectivePrice.IsZero() || effectivePrice.IsNegative() {
		return 1.25
	}
	ratio, _ := marketPrice.Div(effectivePrice).Float64()
	if ratio < 0.5 {
		return 0.5
	}
	if ratio > 1.25 {
		return 1.25
	}
	return ratio
}

// ReputationFactor maps 0–1000 reputation to a 0.5–1.5 demand multiplier.
func ReputationFactor(reputation int) float64 {
	if reputation < 0 {
		reputation = 0
	}
	if reputation > 1000 {
		reputation = 1000
	}
	return 0.5 + float64(reputation)/1000.0
}
