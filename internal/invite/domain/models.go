// Package domain models the invite reward ledger. One row per
// (inviter, invitee) pair, paid out at most once.
package domain

import (
	"context"
	"errors"
	"time"
)

const (
	StatusPending  = "pending"
	StatusRewarded = "rewarded"
	StatusExpired  = "expired"
)

// InviteRelation links an invitee to the inviter who referred them. The
// composite key makes the pairing unique. The reward amount recorded at
// registration is advisory; the payout locks in the amount passed to Reward.
type InviteRelation struct {
	InviterID    string     `json:"inviter_id" gorm:"primaryKey;type:text"`
	InviteeID    string     `json:"invitee_id" gorm:"primaryKey;type:text;index:ix_invite_relations_invitee"`
	RewardAmount int64      `json:"reward_amount" gorm:"not null"`
	Status       string     `json:"status" gorm:"type:text;not null;default:pending"`
	CreatedAt    time.Time  `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	RewardedAt   *time.Time `json:"rewarded_at,omitempty"`
}

// TableName sets the database table name.
func (InviteRelation) TableName() string { return "invite_relations" }

var (
	ErrInvalidUser       = errors.New("invite: user id is required")
	ErrInvalidReward     = errors.New("invite: reward amount must be positive")
	ErrSelfInvite        = errors.New("invite: inviter and invitee are the same user")
	ErrDuplicateRelation = errors.New("invite: relation already registered")
	ErrRelationNotFound  = errors.New("invite: no pending relation for pair")
)

// RegisterRequest records a referral at invitee signup time.
type RegisterRequest struct {
	InviterID string `json:"inviter_id"`
	InviteeID string `json:"invitee_id"`

	// RewardAmount in minor units; nil takes the configured default.
	RewardAmount *int64 `json:"reward_amount,omitempty"`
}

// RewardRequest pays out one registered referral.
type RewardRequest struct {
	InviterID string `json:"inviter_id"`
	InviteeID string `json:"invitee_id"`

	// Amount in minor units, locked onto the relation at payout. May
	// differ from the amount recorded at registration.
	Amount int64 `json:"amount"`

	Actor    string         `json:"actor"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RewardResult reports a paid-out referral.
type RewardResult struct {
	Relation InviteRelation `json:"relation"`

	// InviterBalance is the inviter's balance after the credit.
	InviterBalance int64 `json:"inviter_balance"`
}

// Service manages invite relations and their one-shot payout.
type Service interface {
	// Register stores the referral pairing. A pair can be registered
	// once; re-registration fails with ErrDuplicateRelation.
	Register(ctx context.Context, req RegisterRequest) (InviteRelation, error)

	// Reward flips the pair's relation from pending to rewarded and
	// credits the inviter. At most one payout per pair; a relation that
	// was never registered or already paid fails with
	// ErrRelationNotFound.
	Reward(ctx context.Context, req RewardRequest) (RewardResult, error)

	// ListByUser returns the relations a user appears in, as inviter or
	// invitee, newest first.
	ListByUser(ctx context.Context, userID string, limit int) ([]InviteRelation, error)
}
