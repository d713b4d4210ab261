package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, tx *PaymentTransaction) error
	FindByID(ctx context.Context, db *gorm.DB, id string) (*PaymentTransaction, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID string, limit, offset int) ([]PaymentTransaction, error)

	// Transition is a compare-and-set from pending to a terminal status.
	// Returns false without error when the row exists but is no longer
	// pending. Non-empty meta is merged into the row's metadata by the
	// winning call.
	Transition(ctx context.Context, db *gorm.DB, id string, to Status, providerTxnID string, meta map[string]any) (bool, error)
}
