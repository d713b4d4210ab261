package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PricingConfig carries the default unit prices applied when a caller does not
// supply one, plus the default invite reward.
type PricingConfig struct {
	// DefaultUnitPrices maps an operation tag to its unit price in major
	// currency units (e.g. 0.05 per generated image).
	DefaultUnitPrices map[string]float64 `mapstructure:"defaultUnitPrices"`

	// InviteReward is the default reward in minor units credited to an
	// inviter when no explicit amount is given at registration.
	InviteReward int64 `mapstructure:"inviteReward"`
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		DefaultUnitPrices: map[string]float64{},
		InviteReward:      500,
	}
}

// PricingConfigHolder exposes the current pricing config and hot-reloads it
// when the backing file changes.
type PricingConfigHolder struct {
	current atomic.Value // holds PricingConfig
}

func NewPricingConfigHolder() (*PricingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/tally/config") // Volume-mounted config
	v.AddConfigPath("/etc/tally")            // System config
	v.AddConfigPath(".")                     // Current directory (dev mode)

	v.SetEnvPrefix("TALLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultPricingConfig()
		v.SetDefault("pricing.defaultUnitPrices", defaults.DefaultUnitPrices)
		v.SetDefault("pricing.inviteReward", defaults.InviteReward)
	}

	var cfg PricingConfig
	if err := v.UnmarshalKey("pricing", &cfg); err != nil {
		return nil, err
	}
	if err := validatePricingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &PricingConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PricingConfig
		if err := v.UnmarshalKey("pricing", &updated); err != nil {
			log.Printf("[pricing-config] reload failed: %v", err)
			return
		}
		if err := validatePricingConfig(updated); err != nil {
			log.Printf("[pricing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[pricing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticPricingConfigHolder wraps a fixed config, bypassing file watching.
func NewStaticPricingConfigHolder(cfg PricingConfig) *PricingConfigHolder {
	holder := &PricingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *PricingConfigHolder) Get() PricingConfig {
	return h.current.Load().(PricingConfig)
}

// UnitPriceFor returns the configured default price for an operation, 0 when
// the operation is not listed.
func (h *PricingConfigHolder) UnitPriceFor(operation string) float64 {
	cfg := h.Get()
	return cfg.DefaultUnitPrices[strings.TrimSpace(operation)]
}

func validatePricingConfig(cfg PricingConfig) error {
	for operation, price := range cfg.DefaultUnitPrices {
		if strings.TrimSpace(operation) == "" {
			return errors.New("pricing.defaultUnitPrices contains an empty operation")
		}
		if price < 0 {
			return errors.New("pricing.defaultUnitPrices cannot be negative")
		}
	}
	if cfg.InviteReward < 0 {
		return errors.New("pricing.inviteReward cannot be negative")
	}
	return nil
}
