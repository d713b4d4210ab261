package service

import (
	"context"
	"strings"
	"time"

	"github.com/tallyhq/tally/internal/config"
	invitedomain "github.com/tallyhq/tally/internal/invite/domain"
	ledgerdomain "github.com/tallyhq/tally/internal/ledger/domain"
	obsmetrics "github.com/tallyhq/tally/internal/observability/metrics"
	"github.com/tallyhq/tally/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultListLimit = 100

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Ledger     ledgerdomain.Service
	Pricing    *config.PricingConfigHolder
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	ledger     ledgerdomain.Service
	pricing    *config.PricingConfigHolder
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) invitedomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("invite.service"),
		ledger:     p.Ledger,
		pricing:    p.Pricing,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Register(ctx context.Context, req invitedomain.RegisterRequest) (invitedomain.InviteRelation, error) {
	inviterID := strings.TrimSpace(req.InviterID)
	inviteeID := strings.TrimSpace(req.InviteeID)
	if inviterID == "" || inviteeID == "" {
		return invitedomain.InviteRelation{}, invitedomain.ErrInvalidUser
	}
	if inviterID == inviteeID {
		return invitedomain.InviteRelation{}, invitedomain.ErrSelfInvite
	}

	reward := s.pricing.Get().InviteReward
	if req.RewardAmount != nil {
		if *req.RewardAmount <= 0 {
			return invitedomain.InviteRelation{}, invitedomain.ErrInvalidReward
		}
		reward = *req.RewardAmount
	}

	relation := invitedomain.InviteRelation{
		InviterID:    inviterID,
		InviteeID:    inviteeID,
		RewardAmount: reward,
		Status:       invitedomain.StatusPending,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&relation).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return invitedomain.InviteRelation{}, invitedomain.ErrDuplicateRelation
		}
		return invitedomain.InviteRelation{}, err
	}

	s.log.Info("invite relation registered",
		zap.String("inviter_id", inviterID),
		zap.String("invitee_id", inviteeID),
		zap.Int64("reward_amount", reward),
	)
	return relation, nil
}

func (s *Service) Reward(ctx context.Context, req invitedomain.RewardRequest) (invitedomain.RewardResult, error) {
	inviterID := strings.TrimSpace(req.InviterID)
	inviteeID := strings.TrimSpace(req.InviteeID)
	if inviterID == "" || inviteeID == "" {
		return invitedomain.RewardResult{}, invitedomain.ErrInvalidUser
	}
	if req.Amount <= 0 {
		return invitedomain.RewardResult{}, invitedomain.ErrInvalidReward
	}

	now := time.Now().UTC()

	// The status guard makes the payout one-shot; the amount given here
	// wins over whatever was recorded at registration.
	result := s.db.WithContext(ctx).Exec(
		`UPDATE invite_relations
		 SET status = ?, rewarded_at = ?, reward_amount = ?
		 WHERE inviter_id = ? AND invitee_id = ? AND status = ?`,
		invitedomain.StatusRewarded,
		now,
		req.Amount,
		inviterID,
		inviteeID,
		invitedomain.StatusPending,
	)
	if result.Error != nil {
		return invitedomain.RewardResult{}, result.Error
	}
	if result.RowsAffected == 0 {
		return invitedomain.RewardResult{}, invitedomain.ErrRelationNotFound
	}

	var relation invitedomain.InviteRelation
	if err := s.db.WithContext(ctx).
		Where("inviter_id = ? AND invitee_id = ?", inviterID, inviteeID).
		Take(&relation).Error; err != nil {
		return invitedomain.RewardResult{}, err
	}

	metadata := map[string]any{
		"invitee_id": inviteeID,
	}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	balance, err := s.ledger.ApplyDelta(ctx, ledgerdomain.ApplyDeltaRequest{
		UserID:   inviterID,
		Delta:    req.Amount,
		Actor:    strings.TrimSpace(req.Actor),
		Reason:   ledgerdomain.ReasonInviteReward,
		Metadata: metadata,
	})
	if err != nil {
		// The relation already flipped to rewarded; a missing credit is
		// an operator reconciliation case, not a retry loop.
		s.log.Error("invite reward credit failed after payout marked",
			zap.String("inviter_id", inviterID),
			zap.String("invitee_id", inviteeID),
			zap.Int64("reward_amount", req.Amount),
			zap.Error(err),
		)
		return invitedomain.RewardResult{Relation: relation}, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordInviteReward(ctx)
	}
	s.log.Info("invite reward paid",
		zap.String("inviter_id", inviterID),
		zap.String("invitee_id", inviteeID),
		zap.Int64("reward_amount", req.Amount),
	)
	return invitedomain.RewardResult{Relation: relation, InviterBalance: balance}, nil
}

func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]invitedomain.InviteRelation, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invitedomain.ErrInvalidUser
	}
	if limit <= 0 || limit > 1000 {
		limit = defaultListLimit
	}

	var relations []invitedomain.InviteRelation
	err := s.db.WithContext(ctx).
		Where("inviter_id = ? OR invitee_id = ?", userID, userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&relations).Error
	if err != nil {
		return nil, err
	}
	return relations, nil
}
