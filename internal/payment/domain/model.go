// Package domain holds the payment transaction model and the contracts the
// payment service and webhook reconciler are built on.
package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
)

// Status is the lifecycle state of a payment transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// Terminal reports whether a transaction in this status can still move.
// Terminal transactions are never transitioned again; replayed webhooks for
// them are acknowledged without effect.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// Valid reports whether the status is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSucceeded, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// PaymentTransaction is one top-up attempt. The row is created pending when
// the user initiates payment and transitioned exactly once by the webhook
// reconciler.
type PaymentTransaction struct {
	ID                    string            `json:"id" gorm:"primaryKey;type:text"`
	UserID                string            `json:"user_id" gorm:"not null;index:ix_payment_transactions_user_created,priority:1"`
	Provider              string            `json:"provider" gorm:"type:text;not null"`
	ProviderTransactionID string            `json:"provider_transaction_id" gorm:"type:text"`
	Amount                int64             `json:"amount" gorm:"not null"`
	Status                Status            `json:"status" gorm:"type:text;not null;default:pending"`
	Metadata              datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`
	CreatedAt             time.Time         `json:"created_at" gorm:"not null;index:ix_payment_transactions_user_created,priority:2;default:CURRENT_TIMESTAMP"`
	CompletedAt           *time.Time        `json:"completed_at,omitempty"`
}

// TableName sets the database table name.
func (PaymentTransaction) TableName() string { return "payment_transactions" }

var (
	ErrInvalidUser         = errors.New("payment: user id is required")
	ErrInvalidAmount       = errors.New("payment: amount must be positive")
	ErrInvalidProvider     = errors.New("payment: unknown provider")
	ErrInvalidStatus       = errors.New("payment: invalid status")
	ErrTransactionNotFound = errors.New("payment: transaction not found")

	// ErrVerificationFailed is returned when a webhook payload does not
	// carry a valid provider signature.
	ErrVerificationFailed = errors.New("payment: webhook verification failed")

	// ErrMalformedPayload is returned when a verified payload cannot be
	// mapped to a transaction update.
	ErrMalformedPayload = errors.New("payment: malformed webhook payload")
)

// CreateRequest starts a new pending payment transaction.
type CreateRequest struct {
	UserID   string `json:"user_id"`
	Provider string `json:"provider"`

	// Amount to credit on success, in minor units.
	Amount int64 `json:"amount"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// CreateResult is the pending transaction plus whatever the provider needs
// the client to show, e.g. a QR code URL.
type CreateResult struct {
	Transaction PaymentTransaction `json:"transaction"`
	// Charge carries provider-specific checkout material. Nil when the
	// provider has no interactive step.
	Charge map[string]any `json:"charge,omitempty"`
}

// Service manages the payment transaction lifecycle.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (CreateResult, error)
	GetByID(ctx context.Context, id string) (PaymentTransaction, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]PaymentTransaction, error)

	// TransitionStatus moves a transaction out of pending. It is a
	// compare-and-set: transitioned is false when the transaction was
	// already terminal, in which case tx reflects the stored row. Non-nil
	// meta is merged into the transaction metadata by the winning call.
	TransitionStatus(ctx context.Context, id string, to Status, providerTxnID string, meta map[string]any) (tx PaymentTransaction, transitioned bool, err error)
}

// WebhookEvent is the provider-neutral result of parsing a verified webhook
// payload.
type WebhookEvent struct {
	// TransactionID is our transaction id as echoed back by the provider.
	TransactionID string

	ProviderTransactionID string
	Status                Status

	// Amount reported by the provider in minor units, 0 when absent.
	Amount int64

	// Raw keeps the decoded payload for audit metadata.
	Raw map[string]any
}

// Adapter is one payment provider integration.
type Adapter interface {
	// Provider is the stable name used in URLs and stored on transactions.
	Provider() string

	// Verify authenticates the payload against the provider's signature
	// scheme. Returns ErrVerificationFailed on mismatch.
	Verify(ctx context.Context, body []byte, header map[string]string) error

	// Parse maps a verified payload to a WebhookEvent.
	Parse(ctx context.Context, body []byte) (*WebhookEvent, error)
}

// ChargeCreator is implemented by adapters that can open a checkout with the
// provider at transaction creation time.
type ChargeCreator interface {
	// CreateCharge registers the pending transaction with the provider and
	// returns client-facing checkout material.
	CreateCharge(ctx context.Context, tx PaymentTransaction) (map[string]any, error)
}

// Reconciler applies verified webhook notifications to stored transactions.
type Reconciler interface {
	// Reconcile verifies, parses and applies one webhook delivery. It is
	// idempotent: redelivery of a settled notification is a no-op.
	Reconcile(ctx context.Context, provider string, body []byte, header map[string]string) (PaymentTransaction, error)
}
