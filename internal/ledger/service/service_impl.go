package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/tallyhq/tally/internal/config"
	ledgerdomain "github.com/tallyhq/tally/internal/ledger/domain"
	obsmetrics "github.com/tallyhq/tally/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Cfg        config.Config
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	currency   string
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	currency := strings.ToUpper(strings.TrimSpace(p.Cfg.Currency))
	if currency == "" {
		currency = "CNY"
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		currency:   currency,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) ApplyDelta(ctx context.Context, req ledgerdomain.ApplyDeltaRequest) (int64, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return 0, ledgerdomain.ErrInvalidUser
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return 0, ledgerdomain.ErrInvalidReason
	}

	var newBalance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		// Lazy account creation; a no-op when the row already exists.
		if err := tx.WithContext(ctx).Exec(
			`INSERT INTO billing_accounts (user_id, balance, currency, updated_at)
			 VALUES (?, 0, ?, ?)
			 ON CONFLICT (user_id) DO NOTHING`,
			userID,
			s.currency,
			now,
		).Error; err != nil {
			return err
		}

		// The guarded update is the whole concurrency story: the row lock
		// linearizes deltas per user, and the balance floor is enforced in
		// the same statement that moves the money.
		result := tx.WithContext(ctx).Exec(
			`UPDATE billing_accounts
			 SET balance = balance + ?, updated_at = ?
			 WHERE user_id = ? AND balance + ? >= 0`,
			req.Delta,
			now,
			userID,
			req.Delta,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var current int64
			if err := tx.WithContext(ctx).Raw(
				`SELECT balance FROM billing_accounts WHERE user_id = ?`,
				userID,
			).Scan(&current).Error; err != nil {
				return err
			}
			return &ledgerdomain.InsufficientFundsError{Balance: current}
		}

		if err := tx.WithContext(ctx).Raw(
			`SELECT balance FROM billing_accounts WHERE user_id = ?`,
			userID,
		).Scan(&newBalance).Error; err != nil {
			return err
		}

		var metadata datatypes.JSONMap
		if req.Metadata != nil {
			metadata = datatypes.JSONMap(req.Metadata)
		}
		return tx.WithContext(ctx).Create(&ledgerdomain.LedgerEvent{
			ID:           s.genID.Generate(),
			UserID:       userID,
			Delta:        req.Delta,
			BalanceAfter: newBalance,
			Actor:        strings.TrimSpace(req.Actor),
			Reason:       reason,
			Metadata:     metadata,
			CreatedAt:    now,
		}).Error
	})
	if err != nil {
		var insufficient *ledgerdomain.InsufficientFundsError
		if errors.As(err, &insufficient) {
			return insufficient.Balance, err
		}
		return 0, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordLedgerDelta(ctx, reason)
	}
	return newBalance, nil
}

func (s *Service) GetBalance(ctx context.Context, userID string) (int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, ledgerdomain.ErrInvalidUser
	}

	var account ledgerdomain.BillingAccount
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return account.Balance, nil
}
