package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStaticPricingHolder(t *testing.T) {
	holder := NewStaticPricingConfigHolder(PricingConfig{
		DefaultUnitPrices: map[string]float64{"generate": 0.05},
		InviteReward:      500,
	})

	cfg := holder.Get()
	assert.Equal(t, int64(500), cfg.InviteReward)
	assert.Equal(t, 0.05, cfg.DefaultUnitPrices["generate"])
}

func TestUnitPriceFor(t *testing.T) {
	holder := NewStaticPricingConfigHolder(PricingConfig{
		DefaultUnitPrices: map[string]float64{"generate": 0.05, "transcribe": 0.10},
	})

	assert.Equal(t, 0.05, holder.UnitPriceFor("generate"))
	assert.Equal(t, 0.10, holder.UnitPriceFor("  transcribe "))
	assert.Equal(t, 0.0, holder.UnitPriceFor("unknown"))
}

func TestValidatePricingConfig(t *testing.T) {
	assert.NoError(t, validatePricingConfig(DefaultPricingConfig()))
	assert.NoError(t, validatePricingConfig(PricingConfig{
		DefaultUnitPrices: map[string]float64{"generate": 0.05},
		InviteReward:      100,
	}))

	assert.Error(t, validatePricingConfig(PricingConfig{
		DefaultUnitPrices: map[string]float64{"generate": -0.01},
	}))
	assert.Error(t, validatePricingConfig(PricingConfig{
		DefaultUnitPrices: map[string]float64{"  ": 0.05},
	}))
	assert.Error(t, validatePricingConfig(PricingConfig{InviteReward: -1}))
}
