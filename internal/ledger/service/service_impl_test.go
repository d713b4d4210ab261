package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/tallyhq/tally/internal/config"
	ledgerdomain "github.com/tallyhq/tally/internal/ledger/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupLedgerService(t *testing.T) (ledgerdomain.Service, *gorm.DB) {
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
	prepareLedgerSchema(t, db)

	service := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: mustNode(t),
		Cfg:   config.Config{Currency: "CNY"},
	})
	return service, db
}

func prepareLedgerSchema(t *testing.T, db *gorm.DB) {
	t.Helper()
	if err := db.Exec(`CREATE TABLE billing_accounts (
		user_id TEXT PRIMARY KEY,
		balance BIGINT NOT NULL DEFAULT 0,
		currency TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	)`).Error; err != nil {
		t.Fatalf("create billing_accounts: %v", err)
	}
	if err := db.Exec(`CREATE TABLE ledger_events (
		id BIGINT PRIMARY KEY,
		user_id TEXT NOT NULL,
		delta BIGINT NOT NULL,
		balance_after BIGINT NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL,
		metadata JSON,
		created_at DATETIME NOT NULL
	)`).Error; err != nil {
		t.Fatalf("create ledger_events: %v", err)
	}
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}

func countLedgerEvents(t *testing.T, db *gorm.DB, userID string) int {
	t.Helper()
	var count int
	if err := db.Raw(
		`SELECT COUNT(1) FROM ledger_events WHERE user_id = ?`, userID,
	).Scan(&count).Error; err != nil {
		t.Fatalf("count ledger events: %v", err)
	}
	return count
}

func TestApplyDeltaCreatesAccountLazily(t *testing.T) {
	service, db := setupLedgerService(t)
	ctx := context.Background()

	balance, err := service.ApplyDelta(ctx, ledgerdomain.ApplyDeltaRequest{
		UserID: "user-1",
		Delta:  1000,
		Actor:  "user-1",
		Reason: ledgerdomain.ReasonPaymentTopUp,
	})
	if err != nil {
		t.Fatalf("apply delta: %v", err)
	}
	if balance != 1000 {
		t.Fatalf("expected balance 1000, got %d", balance)
	}

	var currency string
	if err := db.Raw(
		`SELECT currency FROM billing_accounts WHERE user_id = ?`, "user-1",
	).Scan(&currency).Error; err != nil {
		t.Fatalf("read account: %v", err)
	}
	if currency != "CNY" {
		t.Fatalf("expected currency CNY, got %q", currency)
	}

	if count := countLedgerEvents(t, db, "user-1"); count != 1 {
		t.Fatalf("expected 1 ledger event, got %d", count)
	}
}

func TestApplyDeltaRecordsBalanceAfter(t *testing.T) {
	service, db := setupLedgerService(t)
	ctx := context.Background()

	deltas := []int64{1000, -300, 250}
	for _, delta := range deltas {
		if _, err := service.ApplyDelta(ctx, ledgerdomain.ApplyDeltaRequest{
			UserID: "user-1",
			Delta:  delta,
			Reason: ledgerdomain.ReasonAdjustment,
		}); err != nil {
			t.Fatalf("apply delta %d: %v", delta, err)
		}
	}

	var balances []int64
	if err := db.Raw(
		`SELECT balance_after FROM ledger_events WHERE user_id = ? ORDER BY id`, "user-1",
	).Scan(&balances).Error; err != nil {
		t.Fatalf("read events: %v", err)
	}
	want := []int64{1000, 700, 950}
	if len(balances) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(balances))
	}
	for i, b := range balances {
		if b != want[i] {
			t.Fatalf("event %d: expected balance_after %d, got %d", i, want[i], b)
		}
	}
}

func TestApplyDeltaRejectsOverdraft(t *testing.T) {
	service, db := setupLedgerService(t)
	ctx := context.Background()

	if _, err := service.ApplyDelta(ctx, ledgerdomain.ApplyDeltaRequest{
		UserID: "user-1",
		Delta:  500,
		Reason: ledgerdomain.ReasonPaymentTopUp,
	}); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	balance, err := service.ApplyDelta(ctx, ledgerdomain.ApplyDeltaRequest{
		UserID: "user-1",
		Delta:  -700,
		Reason: ledgerdomain.ReasonUsageDeduction,
	})
	if !errors.Is(err, ledgerdomain.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if balance != 500 {
		t.Fatalf("expected rejection to report balance 500, got %d", balance)
	}

	var insufficient *ledgerdomain.InsufficientFundsError
	if !errors.As(err, &insufficient) || insufficient.Balance != 500 {
		t.Fatalf("expected typed error carrying balance 500, got %v", err)
	}

	// The failed debit must leave no trace.
	if count := countLedgerEvents(t, db, "user-1"); count != 1 {
		t.Fatalf("expected 1 ledger event, got %d", count)
	}
	current, err := service.GetBalance(ctx, "user-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if current != 500 {
		t.Fatalf("expected balance unchanged at 500, got %d", current)
	}
}

func TestApplyDeltaOverdraftOnMissingAccount(t *testing.T) {
	service, _ := setupLedgerService(t)

	balance, err := service.ApplyDelta(context.Background(), ledgerdomain.ApplyDeltaRequest{
		UserID: "ghost",
		Delta:  -100,
		Reason: ledgerdomain.ReasonUsageDeduction,
	})
	if !errors.Is(err, ledgerdomain.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected reported balance 0, got %d", balance)
	}
}

func TestApplyDeltaConcurrentDebits(t *testing.T) {
	service, db := setupLedgerService(t)
	ctx := context.Background()

	if _, err := service.ApplyDelta(ctx, ledgerdomain.ApplyDeltaRequest{
		UserID: "user-1",
		Delta:  1000,
		Reason: ledgerdomain.ReasonPaymentTopUp,
	}); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.ApplyDelta(ctx, ledgerdomain.ApplyDeltaRequest{
				UserID: "user-1",
				Delta:  -200,
				Reason: ledgerdomain.ReasonUsageDeduction,
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, ledgerdomain.ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 5 {
		t.Fatalf("expected exactly 5 debits to land, got %d", succeeded)
	}
	balance, err := service.GetBalance(ctx, "user-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected balance 0 after concurrent debits, got %d", balance)
	}
	// Seed credit plus the five landed debits.
	if count := countLedgerEvents(t, db, "user-1"); count != 6 {
		t.Fatalf("expected 6 ledger events, got %d", count)
	}
}

func TestGetBalanceMissingAccount(t *testing.T) {
	service, _ := setupLedgerService(t)

	balance, err := service.GetBalance(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected 0 for missing account, got %d", balance)
	}
}

func TestApplyDeltaValidation(t *testing.T) {
	service, _ := setupLedgerService(t)
	ctx := context.Background()

	if _, err := service.ApplyDelta(ctx, ledgerdomain.ApplyDeltaRequest{
		Delta:  100,
		Reason: ledgerdomain.ReasonAdjustment,
	}); !errors.Is(err, ledgerdomain.ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser, got %v", err)
	}
	if _, err := service.ApplyDelta(ctx, ledgerdomain.ApplyDeltaRequest{
		UserID: "user-1",
		Delta:  100,
	}); !errors.Is(err, ledgerdomain.ErrInvalidReason) {
		t.Fatalf("expected ErrInvalidReason, got %v", err)
	}
}
