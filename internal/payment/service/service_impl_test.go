package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/tallyhq/tally/internal/config"
	"github.com/tallyhq/tally/internal/payment/adapters"
	"github.com/tallyhq/tally/internal/payment/domain"
	"github.com/tallyhq/tally/internal/payment/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func testPublicKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func setupPaymentService(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error

	if err := db.Exec(`CREATE TABLE payment_transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		provider_transaction_id TEXT,
		amount BIGINT NOT NULL,
		status TEXT NOT NULL,
		metadata JSON,
		created_at DATETIME NOT NULL,
		completed_at DATETIME
	)`).Error; err != nil {
		t.Fatalf("create payment_transactions: %v", err)
	}

	// Alipay has no checkout precreate step, so Create stays offline.
	registry := adapters.NewRegistry(adapters.Params{
		Cfg: config.Config{
			Alipay: config.AlipayConfig{AppID: "app-1", AlipayPublicKey: testPublicKeyPEM(t)},
		},
		Log: zap.NewNop(),
	})

	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		Repo:     repository.Provide(),
		Registry: registry,
	})
	return svc, db
}

func TestCreatePendingTransaction(t *testing.T) {
	svc, db := setupPaymentService(t)

	result, err := svc.Create(context.Background(), domain.CreateRequest{
		UserID:   "user-1",
		Provider: "alipay",
		Amount:   5000,
		Metadata: map[string]any{"note": "top up"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	tx := result.Transaction
	if tx.ID == "" {
		t.Fatalf("expected generated transaction id")
	}
	if tx.Status != domain.StatusPending {
		t.Fatalf("expected pending, got %s", tx.Status)
	}

	var stored domain.PaymentTransaction
	if err := db.Raw(`SELECT * FROM payment_transactions WHERE id = ?`, tx.ID).Scan(&stored).Error; err != nil {
		t.Fatalf("read back: %v", err)
	}
	if stored.UserID != "user-1" || stored.Amount != 5000 || stored.Provider != "alipay" {
		t.Fatalf("unexpected stored transaction: %+v", stored)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _ := setupPaymentService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, domain.CreateRequest{Provider: "alipay", Amount: 100}); !errors.Is(err, domain.ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser, got %v", err)
	}
	if _, err := svc.Create(ctx, domain.CreateRequest{UserID: "u", Provider: "alipay"}); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := svc.Create(ctx, domain.CreateRequest{UserID: "u", Provider: "stripe", Amount: 100}); !errors.Is(err, domain.ErrInvalidProvider) {
		t.Fatalf("expected ErrInvalidProvider, got %v", err)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	svc, _ := setupPaymentService(t)

	if _, err := svc.GetByID(context.Background(), "missing"); !errors.Is(err, domain.ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestTransitionStatusIsOneShot(t *testing.T) {
	svc, _ := setupPaymentService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, domain.CreateRequest{UserID: "user-1", Provider: "alipay", Amount: 1000})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := created.Transaction.ID

	tx, transitioned, err := svc.TransitionStatus(ctx, id, domain.StatusSucceeded, "prov-1", map[string]any{"channel": "qr"})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if !transitioned {
		t.Fatalf("expected first transition to land")
	}
	if tx.Status != domain.StatusSucceeded || tx.ProviderTransactionID != "prov-1" {
		t.Fatalf("unexpected transaction after transition: %+v", tx)
	}
	if tx.CompletedAt == nil {
		t.Fatalf("expected completed_at to be set")
	}
	if tx.Metadata["channel"] != "qr" {
		t.Fatalf("expected transition metadata to be merged, got %+v", tx.Metadata)
	}

	// The second settle attempt must not move a terminal row.
	tx, transitioned, err = svc.TransitionStatus(ctx, id, domain.StatusFailed, "prov-2", nil)
	if err != nil {
		t.Fatalf("second transition: %v", err)
	}
	if transitioned {
		t.Fatalf("expected second transition to be a no-op")
	}
	if tx.Status != domain.StatusSucceeded || tx.ProviderTransactionID != "prov-1" {
		t.Fatalf("terminal row changed: %+v", tx)
	}
}

func TestTransitionStatusValidation(t *testing.T) {
	svc, _ := setupPaymentService(t)
	ctx := context.Background()

	if _, _, err := svc.TransitionStatus(ctx, "tx", domain.Status("weird"), "", nil); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if _, _, err := svc.TransitionStatus(ctx, "tx", domain.StatusPending, "", nil); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus for pending target, got %v", err)
	}
	if _, _, err := svc.TransitionStatus(ctx, "missing", domain.StatusFailed, "", nil); !errors.Is(err, domain.ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestListByUser(t *testing.T) {
	svc, _ := setupPaymentService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Create(ctx, domain.CreateRequest{UserID: "user-1", Provider: "alipay", Amount: 100}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, err := svc.Create(ctx, domain.CreateRequest{UserID: "user-2", Provider: "alipay", Amount: 100}); err != nil {
		t.Fatalf("create other: %v", err)
	}

	txs, err := svc.ListByUser(ctx, "user-1", 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(txs))
	}
	for _, tx := range txs {
		if tx.UserID != "user-1" {
			t.Fatalf("expected only user-1 transactions, got %s", tx.UserID)
		}
	}
}
