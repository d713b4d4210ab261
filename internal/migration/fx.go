package migration

import (
	"github.com/tallyhq/tally/internal/config"
	inviterdomain "github.com/tallyhq/tally/internal/invite/domain"
	ledgerdomain "github.com/tallyhq/tally/internal/ledger/domain"
	paymentdomain "github.com/tallyhq/tally/internal/payment/domain"
	usagedomain "github.com/tallyhq/tally/internal/usage/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType != "postgres" {
			// Dev and test databases are created from the models directly.
			return conn.AutoMigrate(
				&ledgerdomain.BillingAccount{},
				&ledgerdomain.LedgerEvent{},
				&usagedomain.UsageLog{},
				&paymentdomain.PaymentTransaction{},
				&inviterdomain.InviteRelation{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
