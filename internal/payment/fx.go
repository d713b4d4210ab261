package payment

import (
	"github.com/tallyhq/tally/internal/payment/adapters"
	"github.com/tallyhq/tally/internal/payment/repository"
	"github.com/tallyhq/tally/internal/payment/service"
	"github.com/tallyhq/tally/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(adapters.NewRegistry),
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(webhook.NewService),
)
