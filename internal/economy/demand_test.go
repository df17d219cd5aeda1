package economy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPriceElasticityClamps(t *testing.T) {
	market := decimal.NewFromInt(10)

	// Very expensive business: floor at 0.5.
	assert.Equal(t, 0.5, PriceElasticity(market, decimal.NewFromInt(100)))
	// Very cheap business: ceiling at 1.25.
	assert.Equal(t, 1.25, PriceElasticity(market, decimal.NewFromInt(1)))
	// At parity: 1.0.
	assert.InDelta(t, 1.0, PriceElasticity(market, market), 1e-9)
	// Zero price is treated as maximally attractive, not a divide by zero.
	assert.Equal(t, 1.25, PriceElasticity(market, decimal.Zero))
}

func TestMarketIndexDeterministic(t *testing.T) {
	a := NewMarketIndex(42)
	b := NewMarketIndex(42)

	for day := uint64(0); day < 30; day++ {
		assert.Equal(t, a.Multiplier("RESTAURANT", day), b.Multiplier("RESTAURANT", day))
	}
}

func TestMarketIndexBounded(t *testing.T) {
	idx := NewMarketIndex(7)
	for day := uint64(0); day < 365; day++ {
		m := idx.Multiplier("SHOP", day)
		assert.GreaterOrEqual(t, m, 0.8)
		assert.LessOrEqual(t, m, 1.2)
	}
}

func TestReputationFactorRange(t *testing.T) {
	assert.Equal(t, 0.5, ReputationFactor(-50))
	assert.Equal(t, 1.5, ReputationFactor(2000))
	assert.InDelta(t, 1.0, ReputationFactor(500), 1e-9)
}

func TestCatalogLookup(t *testing.T) {
	it, ok := LookupItem("MEAL")
	assert.True(t, ok)
	assert.Equal(t, 40.0, it.Effect.Hunger)

	_, ok = LookupItem("PLUTONIUM")
	assert.False(t, ok)
}
