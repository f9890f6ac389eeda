package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	accountrepository "github.com/marahq/tally/internal/account/repository"
	"github.com/marahq/tally/internal/clock"
	"github.com/marahq/tally/internal/config"
	ledgerrepository "github.com/marahq/tally/internal/ledger/repository"
	ledgerservice "github.com/marahq/tally/internal/ledger/service"
	meteringdomain "github.com/marahq/tally/internal/metering/domain"
	meteringrepository "github.com/marahq/tally/internal/metering/repository"
	"github.com/marahq/tally/internal/pricing"
	promotionservice "github.com/marahq/tally/internal/promotion/service"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var testStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestSettleFirstTokenInsideWindow(t *testing.T) {
	node := mustNode(t)
	svc, db, fc := setupMeteringService(t, node, config.SettlementPolicyAllow)
	accountID := seedAccount(t, db, node, testStart)
	ctx := context.Background()

	fc.Set(testStart.Add(60 * time.Second))
	result, err := svc.Settle(ctx, meteringdomain.SettleRequest{
		AccountID:  accountID,
		Model:      "llama-2-70b",
		TokensUsed: 1000,
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	if !result.PromotionGranted {
		t.Fatal("expected first token inside window to grant the bonus")
	}
	if math.Abs(result.Cost-2.56) > 1e-9 {
		t.Fatalf("expected cost 2.56, got %v", result.Cost)
	}
	if !result.PaidWithCredits {
		t.Fatal("expected debit to collect from granted bonus")
	}
	if math.Abs(result.ResultingBalance-17.44) > 1e-9 {
		t.Fatalf("expected balance 17.44, got %v", result.ResultingBalance)
	}
	if result.Record == nil || !result.Record.Paid {
		t.Fatalf("expected paid usage record, got %+v", result.Record)
	}
}

func TestSettleAfterWindowGoesUnpaid(t *testing.T) {
	node := mustNode(t)
	svc, db, fc := setupMeteringService(t, node, config.SettlementPolicyAllow)
	accountID := seedAccount(t, db, node, testStart)
	ctx := context.Background()

	fc.Set(testStart.Add(200 * time.Second))
	result, err := svc.Settle(ctx, meteringdomain.SettleRequest{
		AccountID:  accountID,
		Model:      "llama-2-70b",
		TokensUsed: 1000,
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	if result.PromotionGranted {
		t.Fatal("expected no grant after window")
	}
	if result.PaidWithCredits {
		t.Fatal("expected unpaid settlement with empty balance")
	}
	if result.ResultingBalance != 0 {
		t.Fatalf("expected balance 0, got %v", result.ResultingBalance)
	}
	if count := countUsageRecords(t, db, accountID); count != 1 {
		t.Fatalf("expected usage record despite unpaid debit, got %d", count)
	}
}

func TestSettleUnknownModelUsesDefaultRate(t *testing.T) {
	node := mustNode(t)
	svc, db, fc := setupMeteringService(t, node, config.SettlementPolicyAllow)
	accountID := seedAccount(t, db, node, testStart)
	ctx := context.Background()

	fc.Set(testStart.Add(30 * time.Second))
	result, err := svc.Settle(ctx, meteringdomain.SettleRequest{
		AccountID:  accountID,
		Model:      "some-unknown-model",
		TokensUsed: 1000,
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if math.Abs(result.Cost-2.0) > 1e-9 {
		t.Fatalf("expected default rate cost 2.0, got %v", result.Cost)
	}
}

func TestSettleZeroRateModel(t *testing.T) {
	node := mustNode(t)
	pricingCfg := config.DefaultPricingConfig()
	pricingCfg.Models["free-model"] = 0
	svc, db, fc := setupMeteringServiceWithPricing(t, node, config.SettlementPolicyReject, pricingCfg)
	accountID := seedAccount(t, db, node, testStart)
	ctx := context.Background()

	// Past the window with an empty balance: a free model still settles.
	fc.Set(testStart.Add(300 * time.Second))
	result, err := svc.Settle(ctx, meteringdomain.SettleRequest{
		AccountID:  accountID,
		Model:      "free-model",
		TokensUsed: 1000,
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	if result.Cost != 0 {
		t.Fatalf("expected cost 0, got %v", result.Cost)
	}
	if !result.PaidWithCredits {
		t.Fatal("expected zero-cost settlement to report paid")
	}
	if result.ResultingBalance != 0 {
		t.Fatalf("expected balance untouched at 0, got %v", result.ResultingBalance)
	}
	if result.Record == nil || !result.Record.Paid {
		t.Fatalf("expected paid usage record, got %+v", result.Record)
	}
	if count := countUsageRecords(t, db, accountID); count != 1 {
		t.Fatalf("expected one usage record, got %d", count)
	}

	var entries int
	if err := db.Raw(
		`SELECT COUNT(*) FROM credit_transactions WHERE account_id = ?`,
		accountID,
	).Scan(&entries).Error; err != nil {
		t.Fatalf("count entries: %v", err)
	}
	if entries != 0 {
		t.Fatalf("expected no ledger entry for a zero-cost settlement, got %d", entries)
	}
}

func TestSettleRejectPolicy(t *testing.T) {
	node := mustNode(t)
	svc, db, fc := setupMeteringService(t, node, config.SettlementPolicyReject)
	accountID := seedAccount(t, db, node, testStart)
	ctx := context.Background()

	// Past the window, so no bonus softens the empty balance.
	fc.Set(testStart.Add(300 * time.Second))
	_, err := svc.Settle(ctx, meteringdomain.SettleRequest{
		AccountID:  accountID,
		Model:      "mixtral-8x7b",
		TokensUsed: 500,
	})
	if !errors.Is(err, meteringdomain.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}

	// The audit record survives the rejection.
	if count := countUsageRecords(t, db, accountID); count != 1 {
		t.Fatalf("expected usage record under reject policy, got %d", count)
	}
}

func TestSettleValidation(t *testing.T) {
	node := mustNode(t)
	svc, db, _ := setupMeteringService(t, node, config.SettlementPolicyAllow)
	accountID := seedAccount(t, db, node, testStart)
	ctx := context.Background()

	if _, err := svc.Settle(ctx, meteringdomain.SettleRequest{
		AccountID:  accountID,
		Model:      "",
		TokensUsed: 10,
	}); !errors.Is(err, meteringdomain.ErrInvalidModel) {
		t.Fatalf("expected ErrInvalidModel, got %v", err)
	}
	if _, err := svc.Settle(ctx, meteringdomain.SettleRequest{
		AccountID:  accountID,
		Model:      "llama-2-13b",
		TokensUsed: 0,
	}); !errors.Is(err, meteringdomain.ErrInvalidTokens) {
		t.Fatalf("expected ErrInvalidTokens, got %v", err)
	}
	if _, err := svc.Settle(ctx, meteringdomain.SettleRequest{
		Model:      "llama-2-13b",
		TokensUsed: 10,
	}); !errors.Is(err, meteringdomain.ErrInvalidAccount) {
		t.Fatalf("expected ErrInvalidAccount, got %v", err)
	}
}

func TestListByAccount(t *testing.T) {
	node := mustNode(t)
	svc, db, fc := setupMeteringService(t, node, config.SettlementPolicyAllow)
	accountID := seedAccount(t, db, node, testStart)
	ctx := context.Background()

	fc.Set(testStart.Add(10 * time.Second))
	for i := 0; i < 3; i++ {
		fc.Advance(time.Second)
		if _, err := svc.Settle(ctx, meteringdomain.SettleRequest{
			AccountID:  accountID,
			Model:      "codellama-34b",
			TokensUsed: int64(100 * (i + 1)),
		}); err != nil {
			t.Fatalf("settle %d: %v", i, err)
		}
	}

	records, err := svc.ListByAccount(ctx, accountID, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].TokensUsed != 300 {
		t.Fatalf("expected most recent settlement first, got tokens %d", records[0].TokensUsed)
	}
}

func setupMeteringService(t *testing.T, node *snowflake.Node, policy config.SettlementPolicy) (meteringdomain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	return setupMeteringServiceWithPricing(t, node, policy, config.DefaultPricingConfig())
}

func setupMeteringServiceWithPricing(t *testing.T, node *snowflake.Node, policy config.SettlementPolicy, pricingCfg config.PricingConfig) (meteringdomain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	db := openTestDB(t)
	fc := clock.NewFakeClock(testStart)

	cfg := config.Config{
		Promotion: config.PromotionConfig{
			BonusAmount:   20.0,
			WindowSeconds: 180,
			CreditTTLDays: 30,
		},
		Settlement: config.SettlementConfig{Policy: policy},
	}

	ledgerSvc := ledgerservice.New(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fc,
		Repo:  ledgerrepository.Provide(),
	})
	promoSvc := promotionservice.New(promotionservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		Clock:     fc,
		Config:    cfg,
		Accounts:  accountrepository.Provide(),
		LedgerSvc: ledgerSvc,
	})
	pricingSvc := pricing.New(pricing.Params{
		Log:     zap.NewNop(),
		Pricing: config.NewStaticPricingHolder(pricingCfg),
	})

	svc := New(Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     fc,
		Config:    cfg,
		Repo:      meteringrepository.Provide(),
		LedgerSvc: ledgerSvc,
		PromoSvc:  promoSvc,
		Pricing:   pricingSvc,
	})
	return svc, db, fc
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
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
	_ = db.Exec("PRAGMA journal_mode = WAL").Error

	statements := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id INTEGER PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			credit_balance REAL NOT NULL DEFAULT 0,
			promotion_eligible BOOLEAN NOT NULL DEFAULT TRUE,
			promotion_claimed BOOLEAN NOT NULL DEFAULT FALSE,
			first_token_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS credit_transactions (
			id INTEGER PRIMARY KEY,
			account_id INTEGER NOT NULL,
			amount REAL NOT NULL,
			kind TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			applied_at DATETIME NOT NULL,
			expires_at DATETIME,
			expired_at DATETIME,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS usage_records (
			id INTEGER PRIMARY KEY,
			account_id INTEGER NOT NULL,
			model TEXT NOT NULL,
			tokens_used INTEGER NOT NULL,
			computed_cost REAL NOT NULL,
			paid BOOLEAN NOT NULL DEFAULT FALSE,
			metadata TEXT,
			settled_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("prepare schema: %v", err)
		}
	}
	return db
}

func seedAccount(t *testing.T, db *gorm.DB, node *snowflake.Node, createdAt time.Time) snowflake.ID {
	t.Helper()

	id := node.Generate()
	err := db.Exec(
		`INSERT INTO accounts (id, email, name, credit_balance, promotion_eligible, promotion_claimed, created_at, updated_at)
		 VALUES (?, ?, ?, 0, TRUE, FALSE, ?, ?)`,
		id,
		fmt.Sprintf("%s@example.com", id.String()),
		"Test",
		createdAt,
		createdAt,
	).Error
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return id
}

func countUsageRecords(t *testing.T, db *gorm.DB, accountID snowflake.ID) int {
	t.Helper()

	var count int
	if err := db.Raw(
		`SELECT COUNT(*) FROM usage_records WHERE account_id = ?`,
		accountID,
	).Scan(&count).Error; err != nil {
		t.Fatalf("count usage records: %v", err)
	}
	return count
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}
