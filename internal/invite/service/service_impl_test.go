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
	invitedomain "github.com/tallyhq/tally/internal/invite/domain"
	ledgerdomain "github.com/tallyhq/tally/internal/ledger/domain"
	ledgerservice "github.com/tallyhq/tally/internal/ledger/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupInviteService(t *testing.T) (invitedomain.Service, ledgerdomain.Service, *gorm.DB) {
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
	prepareInviteSchema(t, db)

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Cfg:   config.Config{Currency: "CNY"},
	})
	inviteSvc := NewService(Params{
		DB:     db,
		Log:    zap.NewNop(),
		Ledger: ledgerSvc,
		Pricing: config.NewStaticPricingConfigHolder(config.PricingConfig{
			InviteReward: 500,
		}),
	})
	return inviteSvc, ledgerSvc, db
}

func prepareInviteSchema(t *testing.T, db *gorm.DB) {
	t.Helper()
	stmts := []string{
		`CREATE TABLE billing_accounts (
			user_id TEXT PRIMARY KEY,
			balance BIGINT NOT NULL DEFAULT 0,
			currency TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE ledger_events (
			id BIGINT PRIMARY KEY,
			user_id TEXT NOT NULL,
			delta BIGINT NOT NULL,
			balance_after BIGINT NOT NULL,
			actor TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL,
			metadata JSON,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE invite_relations (
			inviter_id TEXT NOT NULL,
			invitee_id TEXT NOT NULL,
			reward_amount BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at DATETIME NOT NULL,
			rewarded_at DATETIME,
			PRIMARY KEY (inviter_id, invitee_id)
		)`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("prepare schema: %v", err)
		}
	}
}

func TestRegisterDefaultsRewardFromConfig(t *testing.T) {
	inviteSvc, _, _ := setupInviteService(t)

	relation, err := inviteSvc.Register(context.Background(), invitedomain.RegisterRequest{
		InviterID: "alice",
		InviteeID: "bob",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if relation.RewardAmount != 500 {
		t.Fatalf("expected configured default 500, got %d", relation.RewardAmount)
	}
	if relation.Status != invitedomain.StatusPending {
		t.Fatalf("expected pending, got %s", relation.Status)
	}
}

func TestRegisterRejectsSelfInvite(t *testing.T) {
	inviteSvc, _, _ := setupInviteService(t)

	_, err := inviteSvc.Register(context.Background(), invitedomain.RegisterRequest{
		InviterID: "alice",
		InviteeID: "alice",
	})
	if !errors.Is(err, invitedomain.ErrSelfInvite) {
		t.Fatalf("expected ErrSelfInvite, got %v", err)
	}
}

func TestRegisterRejectsDuplicatePair(t *testing.T) {
	inviteSvc, _, _ := setupInviteService(t)
	ctx := context.Background()

	if _, err := inviteSvc.Register(ctx, invitedomain.RegisterRequest{InviterID: "alice", InviteeID: "bob"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := inviteSvc.Register(ctx, invitedomain.RegisterRequest{InviterID: "alice", InviteeID: "bob"})
	if !errors.Is(err, invitedomain.ErrDuplicateRelation) {
		t.Fatalf("expected ErrDuplicateRelation, got %v", err)
	}
}

func TestRewardCreditsInviterOnce(t *testing.T) {
	inviteSvc, ledgerSvc, _ := setupInviteService(t)
	ctx := context.Background()

	if _, err := inviteSvc.Register(ctx, invitedomain.RegisterRequest{InviterID: "alice", InviteeID: "bob"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	result, err := inviteSvc.Reward(ctx, invitedomain.RewardRequest{
		InviterID: "alice",
		InviteeID: "bob",
		Amount:    800,
	})
	if err != nil {
		t.Fatalf("reward: %v", err)
	}
	if result.Relation.Status != invitedomain.StatusRewarded {
		t.Fatalf("expected rewarded, got %s", result.Relation.Status)
	}
	// The payout amount wins over the amount recorded at registration.
	if result.Relation.RewardAmount != 800 {
		t.Fatalf("expected locked amount 800, got %d", result.Relation.RewardAmount)
	}
	if result.Relation.RewardedAt == nil {
		t.Fatalf("expected rewarded_at set")
	}
	if result.InviterBalance != 800 {
		t.Fatalf("expected inviter balance 800, got %d", result.InviterBalance)
	}

	balance, err := ledgerSvc.GetBalance(ctx, "alice")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance != 800 {
		t.Fatalf("expected balance 800, got %d", balance)
	}

	// Second payout for the same pair fails and pays nothing.
	_, err = inviteSvc.Reward(ctx, invitedomain.RewardRequest{InviterID: "alice", InviteeID: "bob", Amount: 800})
	if !errors.Is(err, invitedomain.ErrRelationNotFound) {
		t.Fatalf("expected ErrRelationNotFound, got %v", err)
	}
	balance, _ = ledgerSvc.GetBalance(ctx, "alice")
	if balance != 800 {
		t.Fatalf("expected balance unchanged at 800, got %d", balance)
	}
}

func TestRewardUnregisteredPair(t *testing.T) {
	inviteSvc, _, _ := setupInviteService(t)

	_, err := inviteSvc.Reward(context.Background(), invitedomain.RewardRequest{
		InviterID: "alice",
		InviteeID: "ghost",
		Amount:    100,
	})
	if !errors.Is(err, invitedomain.ErrRelationNotFound) {
		t.Fatalf("expected ErrRelationNotFound, got %v", err)
	}
}

func TestRewardConcurrentPaysExactlyOnce(t *testing.T) {
	inviteSvc, ledgerSvc, db := setupInviteService(t)
	ctx := context.Background()

	if _, err := inviteSvc.Register(ctx, invitedomain.RegisterRequest{InviterID: "alice", InviteeID: "bob"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := inviteSvc.Reward(ctx, invitedomain.RewardRequest{
				InviterID: "alice",
				InviteeID: "bob",
				Amount:    500,
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, invitedomain.ErrRelationNotFound) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("expected exactly one payout, got %d", succeeded)
	}
	balance, err := ledgerSvc.GetBalance(ctx, "alice")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance != 500 {
		t.Fatalf("expected balance 500, got %d", balance)
	}

	var events int
	if err := db.Raw(`SELECT COUNT(1) FROM ledger_events WHERE user_id = ?`, "alice").Scan(&events).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 1 {
		t.Fatalf("expected 1 ledger event, got %d", events)
	}
}

func TestRewardValidation(t *testing.T) {
	inviteSvc, _, _ := setupInviteService(t)
	ctx := context.Background()

	if _, err := inviteSvc.Reward(ctx, invitedomain.RewardRequest{InviteeID: "bob", Amount: 100}); !errors.Is(err, invitedomain.ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser, got %v", err)
	}
	if _, err := inviteSvc.Reward(ctx, invitedomain.RewardRequest{InviterID: "alice", InviteeID: "bob"}); !errors.Is(err, invitedomain.ErrInvalidReward) {
		t.Fatalf("expected ErrInvalidReward, got %v", err)
	}
}

func TestListByUserCoversBothSides(t *testing.T) {
	inviteSvc, _, _ := setupInviteService(t)
	ctx := context.Background()

	pairs := [][2]string{
		{"alice", "bob"},
		{"alice", "carol"},
		{"dave", "alice"},
		{"dave", "erin"},
	}
	for _, p := range pairs {
		if _, err := inviteSvc.Register(ctx, invitedomain.RegisterRequest{InviterID: p[0], InviteeID: p[1]}); err != nil {
			t.Fatalf("register %v: %v", p, err)
		}
	}

	relations, err := inviteSvc.ListByUser(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	// Two as inviter, one as invitee.
	if len(relations) != 3 {
		t.Fatalf("expected 3 relations, got %d", len(relations))
	}
}
