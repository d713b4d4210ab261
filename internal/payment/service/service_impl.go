package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tallyhq/tally/internal/payment/adapters"
	"github.com/tallyhq/tally/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultListLimit = 50

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Repo     domain.Repository
	Registry *adapters.Registry
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     domain.Repository
	registry *adapters.Registry
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.service"),
		repo:     p.Repo,
		registry: p.Registry,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (domain.CreateResult, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return domain.CreateResult{}, domain.ErrInvalidUser
	}
	if req.Amount <= 0 {
		return domain.CreateResult{}, domain.ErrInvalidAmount
	}

	adapter := s.registry.Lookup(req.Provider)
	if adapter == nil {
		return domain.CreateResult{}, domain.ErrInvalidProvider
	}

	tx := domain.PaymentTransaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Provider:  adapter.Provider(),
		Amount:    req.Amount,
		Status:    domain.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if req.Metadata != nil {
		tx.Metadata = datatypes.JSONMap(req.Metadata)
	}
	if err := s.repo.Insert(ctx, s.db, &tx); err != nil {
		return domain.CreateResult{}, err
	}

	result := domain.CreateResult{Transaction: tx}
	if creator, ok := adapter.(domain.ChargeCreator); ok {
		charge, err := creator.CreateCharge(ctx, tx)
		if err != nil {
			// Checkout never opened, so the pending row can never
			// settle. Close it out before reporting the failure.
			if _, ferr := s.repo.Transition(ctx, s.db, tx.ID, domain.StatusFailed, "", nil); ferr != nil {
				s.log.Error("failed to close transaction after checkout error",
					zap.String("transaction_id", tx.ID),
					zap.Error(ferr),
				)
			}
			return domain.CreateResult{}, err
		}
		result.Charge = charge
	}

	s.log.Info("payment transaction created",
		zap.String("transaction_id", tx.ID),
		zap.String("user_id", userID),
		zap.String("provider", tx.Provider),
		zap.Int64("amount", tx.Amount),
	)
	return result, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.PaymentTransaction, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.PaymentTransaction{}, domain.ErrTransactionNotFound
	}
	tx, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.PaymentTransaction{}, err
	}
	if tx == nil {
		return domain.PaymentTransaction{}, domain.ErrTransactionNotFound
	}
	return *tx, nil
}

func (s *Service) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.PaymentTransaction, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrInvalidUser
	}
	if limit <= 0 || limit > 500 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByUser(ctx, s.db, userID, limit, offset)
}

func (s *Service) TransitionStatus(ctx context.Context, id string, to domain.Status, providerTxnID string, meta map[string]any) (domain.PaymentTransaction, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.PaymentTransaction{}, false, domain.ErrTransactionNotFound
	}
	if !to.Valid() || to == domain.StatusPending {
		return domain.PaymentTransaction{}, false, domain.ErrInvalidStatus
	}

	transitioned, err := s.repo.Transition(ctx, s.db, id, to, providerTxnID, meta)
	if err != nil {
		return domain.PaymentTransaction{}, false, err
	}

	tx, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.PaymentTransaction{}, false, err
	}
	if tx == nil {
		return domain.PaymentTransaction{}, false, domain.ErrTransactionNotFound
	}
	return *tx, transitioned, nil
}
