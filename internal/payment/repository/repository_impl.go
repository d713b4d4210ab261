package repository

import (
	"context"
	"time"

	"github.com/tallyhq/tally/internal/payment/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, tx *domain.PaymentTransaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_transactions
		 (id, user_id, provider, provider_transaction_id, amount, status, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID,
		tx.UserID,
		tx.Provider,
		tx.ProviderTransactionID,
		tx.Amount,
		tx.Status,
		tx.Metadata,
		tx.CreatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*domain.PaymentTransaction, error) {
	var tx domain.PaymentTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, provider, provider_transaction_id, amount, status, metadata, created_at, completed_at
		 FROM payment_transactions WHERE id = ?`,
		id,
	).Scan(&tx).Error
	if err != nil {
		return nil, err
	}
	if tx.ID == "" {
		return nil, nil
	}
	return &tx, nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID string, limit, offset int) ([]domain.PaymentTransaction, error) {
	var txs []domain.PaymentTransaction
	err := db.WithContext(ctx).
		Model(&domain.PaymentTransaction{}).
		Where("user_id = ?", userID).
		Order("created_at desc, id desc").
		Limit(limit).
		Offset(offset).
		Find(&txs).Error
	if err != nil {
		return nil, err
	}
	return txs, nil
}

func (r *repo) Transition(ctx context.Context, db *gorm.DB, id string, to domain.Status, providerTxnID string, meta map[string]any) (bool, error) {
	now := time.Now().UTC()
	result := db.WithContext(ctx).Exec(
		`UPDATE payment_transactions
		 SET status = ?,
		     provider_transaction_id = CASE WHEN ? <> '' THEN ? ELSE provider_transaction_id END,
		     completed_at = ?
		 WHERE id = ? AND status = ?`,
		to,
		providerTxnID,
		providerTxnID,
		now,
		id,
		domain.StatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	// Only the winning call reaches here, and the row is terminal now, so
	// the read-merge-write on metadata is race-free.
	if len(meta) > 0 {
		tx, err := r.FindByID(ctx, db, id)
		if err != nil {
			return true, err
		}
		merged := datatypes.JSONMap{}
		for k, v := range tx.Metadata {
			merged[k] = v
		}
		for k, v := range meta {
			merged[k] = v
		}
		if err := db.WithContext(ctx).Exec(
			`UPDATE payment_transactions SET metadata = ? WHERE id = ?`,
			merged, id,
		).Error; err != nil {
			return true, err
		}
	}
	return true, nil
}
