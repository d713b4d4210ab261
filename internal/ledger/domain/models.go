// Package domain contains the balance ledger models. The balance row is the
// single source of truth; ledger events are an append-only trail of the
// deltas that produced it.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// BillingAccount is the per-user balance row, created lazily on first
// mutation. Balance is in minor currency units and never goes negative.
type BillingAccount struct {
	UserID    string    `json:"user_id" gorm:"primaryKey"`
	Balance   int64     `json:"balance" gorm:"not null;default:0"`
	Currency  string    `json:"currency" gorm:"type:text;not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BillingAccount) TableName() string { return "billing_accounts" }

// LedgerEvent records one applied delta. Immutable once written.
type LedgerEvent struct {
	ID           snowflake.ID      `json:"id" gorm:"primaryKey"`
	UserID       string            `json:"user_id" gorm:"not null;index:ix_ledger_events_user_created,priority:1"`
	Delta        int64             `json:"delta" gorm:"not null"`
	BalanceAfter int64             `json:"balance_after" gorm:"not null"`
	Actor        string            `json:"actor" gorm:"type:text;not null;default:''"`
	Reason       string            `json:"reason" gorm:"type:text;not null"`
	Metadata     datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`
	CreatedAt    time.Time         `json:"created_at" gorm:"not null;index:ix_ledger_events_user_created,priority:2;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (LedgerEvent) TableName() string { return "ledger_events" }

const (
	ReasonUsageDeduction = "usage_deduction"
	ReasonPaymentTopUp   = "payment_top_up"
	ReasonInviteReward   = "invite_reward"
	ReasonAdjustment     = "adjustment"
)
