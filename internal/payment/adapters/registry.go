// Package adapters assembles the configured payment provider integrations.
// A provider whose credentials are absent from the config is simply not
// registered; webhooks addressed to it are rejected as unknown.
package adapters

import (
	"strings"

	"github.com/tallyhq/tally/internal/config"
	"github.com/tallyhq/tally/internal/payment/adapters/alipay"
	"github.com/tallyhq/tally/internal/payment/adapters/xorpay"
	"github.com/tallyhq/tally/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Registry struct {
	adapters map[string]domain.Adapter
}

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

func NewRegistry(p Params) *Registry {
	log := p.Log.Named("payment.adapters")
	r := &Registry{adapters: map[string]domain.Adapter{}}

	if p.Cfg.XorPay.AppSecret != "" {
		r.register(xorpay.New(p.Cfg.XorPay))
		log.Info("payment adapter registered", zap.String("provider", xorpay.ProviderName))
	}
	if p.Cfg.Alipay.AlipayPublicKey != "" {
		adapter, err := alipay.New(p.Cfg.Alipay)
		if err != nil {
			log.Error("alipay adapter disabled", zap.Error(err))
		} else {
			r.register(adapter)
			log.Info("payment adapter registered", zap.String("provider", alipay.ProviderName))
		}
	}

	if len(r.adapters) == 0 {
		log.Warn("no payment adapters configured; webhook endpoint will reject all providers")
	}
	return r
}

func (r *Registry) register(a domain.Adapter) {
	r.adapters[a.Provider()] = a
}

// Lookup returns the adapter for a provider name, nil when not configured.
func (r *Registry) Lookup(provider string) domain.Adapter {
	return r.adapters[strings.ToLower(strings.TrimSpace(provider))]
}

// Providers lists the configured provider names.
func (r *Registry) Providers() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
