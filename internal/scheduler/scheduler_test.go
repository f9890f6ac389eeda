package scheduler

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/marahq/tally/internal/clock"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var testStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestExpireCreditsClawsBackFullBonus(t *testing.T) {
	node := mustNode(t)
	sched, db, fc := setupScheduler(t, node)
	accountID := seedAccountWithPromo(t, db, node, 20.0, 20.0, testStart)

	fc.Set(testStart.Add(31 * 24 * time.Hour))
	if err := sched.ExpireCreditsJob(context.Background()); err != nil {
		t.Fatalf("expire job: %v", err)
	}

	if balance := accountBalance(t, db, accountID); balance != 0 {
		t.Fatalf("expected balance 0 after expiry, got %v", balance)
	}
	if amount := adjustmentTotal(t, db, accountID); math.Abs(amount+20.0) > 1e-9 {
		t.Fatalf("expected -20.0 adjustment, got %v", amount)
	}
	if n := unexpiredPromoCount(t, db, accountID); n != 0 {
		t.Fatalf("expected promo entry marked expired, %d still pending", n)
	}
}

func TestExpireCreditsCapsAtRemainingBalance(t *testing.T) {
	node := mustNode(t)
	sched, db, fc := setupScheduler(t, node)
	// Part of the bonus was already spent on usage.
	accountID := seedAccountWithPromo(t, db, node, 20.0, 17.44, testStart)

	fc.Set(testStart.Add(31 * 24 * time.Hour))
	if err := sched.ExpireCreditsJob(context.Background()); err != nil {
		t.Fatalf("expire job: %v", err)
	}

	if balance := accountBalance(t, db, accountID); math.Abs(balance) > 1e-9 {
		t.Fatalf("expected balance 0, got %v", balance)
	}
	if amount := adjustmentTotal(t, db, accountID); math.Abs(amount+17.44) > 1e-9 {
		t.Fatalf("expected clawback capped at -17.44, got %v", amount)
	}
}

func TestExpireCreditsIsIdempotent(t *testing.T) {
	node := mustNode(t)
	sched, db, fc := setupScheduler(t, node)
	accountID := seedAccountWithPromo(t, db, node, 20.0, 20.0, testStart)

	fc.Set(testStart.Add(31 * 24 * time.Hour))
	if err := sched.ExpireCreditsJob(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := sched.ExpireCreditsJob(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if balance := accountBalance(t, db, accountID); balance != 0 {
		t.Fatalf("expected balance 0, got %v", balance)
	}
	if amount := adjustmentTotal(t, db, accountID); math.Abs(amount+20.0) > 1e-9 {
		t.Fatalf("expected a single -20.0 adjustment, got total %v", amount)
	}
}

func TestClawbackGuardNeverOverdraws(t *testing.T) {
	node := mustNode(t)
	sched, db, _ := setupScheduler(t, node)
	accountID := seedAccountWithPromo(t, db, node, 20.0, 3.25, testStart)

	credit := expiringCredit{ID: node.Generate(), AccountID: accountID, Amount: 20.0}
	err := db.Transaction(func(tx *gorm.DB) error {
		clawback, err := sched.clawbackBalance(context.Background(), tx, credit, testStart)
		if err != nil {
			return err
		}
		if math.Abs(clawback-3.25) > 1e-9 {
			t.Fatalf("expected clawback capped at 3.25, got %v", clawback)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("clawback: %v", err)
	}
	if balance := accountBalance(t, db, accountID); math.Abs(balance) > 1e-9 {
		t.Fatalf("expected balance 0, got %v", balance)
	}

	// Nothing left to collect; the guard must not touch the account.
	err = db.Transaction(func(tx *gorm.DB) error {
		clawback, err := sched.clawbackBalance(context.Background(), tx, credit, testStart)
		if err != nil {
			return err
		}
		if clawback != 0 {
			t.Fatalf("expected no clawback on empty balance, got %v", clawback)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("clawback: %v", err)
	}
	if balance := accountBalance(t, db, accountID); math.Abs(balance) > 1e-9 {
		t.Fatalf("expected balance still 0, got %v", balance)
	}
}

func TestExpireCreditsConcurrentWithDebits(t *testing.T) {
	node := mustNode(t)
	sched, db, fc := setupScheduler(t, node)
	accountID := seedAccountWithPromo(t, db, node, 20.0, 20.0, testStart)

	fc.Set(testStart.Add(31 * 24 * time.Hour))
	now := fc.Now()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			_ = db.Transaction(func(tx *gorm.DB) error {
				res := tx.Exec(
					`UPDATE accounts SET credit_balance = credit_balance - ?, updated_at = ? WHERE id = ? AND credit_balance >= ?`,
					2.5, now, accountID, 2.5,
				)
				if res.Error != nil || res.RowsAffected == 0 {
					return res.Error
				}
				return tx.Exec(
					`INSERT INTO credit_transactions (id, account_id, amount, kind, description, applied_at, created_at)
					 VALUES (?, ?, ?, 'usage', 'usage', ?, ?)`,
					node.Generate(), accountID, -2.5, now, now,
				).Error
			})
		}
	}()

	if err := sched.ExpireCreditsJob(context.Background()); err != nil {
		t.Fatalf("expire job: %v", err)
	}
	wg.Wait()

	balance := accountBalance(t, db, accountID)
	if balance < 0 {
		t.Fatalf("balance went negative: %v", balance)
	}

	var sum float64
	if err := db.Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE account_id = ?`,
		accountID,
	).Scan(&sum).Error; err != nil {
		t.Fatalf("sum entries: %v", err)
	}
	if math.Abs(balance-sum) > 1e-9 {
		t.Fatalf("balance %v diverged from entry sum %v", balance, sum)
	}
}

func TestExpireCreditsSkipsUnexpired(t *testing.T) {
	node := mustNode(t)
	sched, db, fc := setupScheduler(t, node)
	accountID := seedAccountWithPromo(t, db, node, 20.0, 20.0, testStart)

	fc.Set(testStart.Add(10 * 24 * time.Hour))
	if err := sched.ExpireCreditsJob(context.Background()); err != nil {
		t.Fatalf("expire job: %v", err)
	}

	if balance := accountBalance(t, db, accountID); math.Abs(balance-20.0) > 1e-9 {
		t.Fatalf("expected balance untouched at 20.0, got %v", balance)
	}
	if n := unexpiredPromoCount(t, db, accountID); n != 1 {
		t.Fatalf("expected promo entry still pending, got %d", n)
	}
}

func setupScheduler(t *testing.T, node *snowflake.Node) (*Scheduler, *gorm.DB, *clock.FakeClock) {
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
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("prepare schema: %v", err)
		}
	}

	fc := clock.NewFakeClock(testStart)
	sched, err := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fc,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return sched, db, fc
}

// seedAccountWithPromo inserts an account holding a claimed bonus of
// grantAmount, with balance reflecting whatever was already spent.
func seedAccountWithPromo(t *testing.T, db *gorm.DB, node *snowflake.Node, grantAmount, balance float64, grantedAt time.Time) snowflake.ID {
	t.Helper()

	id := node.Generate()
	err := db.Exec(
		`INSERT INTO accounts (id, email, name, credit_balance, promotion_eligible, promotion_claimed, first_token_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, FALSE, TRUE, ?, ?, ?)`,
		id,
		fmt.Sprintf("%s@example.com", id.String()),
		"Test",
		balance,
		grantedAt,
		grantedAt,
		grantedAt,
	).Error
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}

	expiresAt := grantedAt.Add(30 * 24 * time.Hour)
	err = db.Exec(
		`INSERT INTO credit_transactions (id, account_id, amount, kind, description, applied_at, expires_at, created_at)
		 VALUES (?, ?, ?, 'promotional', 'welcome bonus', ?, ?, ?)`,
		node.Generate(),
		id,
		grantAmount,
		grantedAt,
		expiresAt,
		grantedAt,
	).Error
	if err != nil {
		t.Fatalf("seed promo entry: %v", err)
	}
	return id
}

func accountBalance(t *testing.T, db *gorm.DB, accountID snowflake.ID) float64 {
	t.Helper()

	var balance float64
	if err := db.Raw(
		`SELECT credit_balance FROM accounts WHERE id = ?`,
		accountID,
	).Scan(&balance).Error; err != nil {
		t.Fatalf("load balance: %v", err)
	}
	return balance
}

func adjustmentTotal(t *testing.T, db *gorm.DB, accountID snowflake.ID) float64 {
	t.Helper()

	var total float64
	if err := db.Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE account_id = ? AND kind = 'adjustment'`,
		accountID,
	).Scan(&total).Error; err != nil {
		t.Fatalf("sum adjustments: %v", err)
	}
	return total
}

func unexpiredPromoCount(t *testing.T, db *gorm.DB, accountID snowflake.ID) int {
	t.Helper()

	var count int
	if err := db.Raw(
		`SELECT COUNT(*) FROM credit_transactions
		 WHERE account_id = ? AND expires_at IS NOT NULL AND expired_at IS NULL`,
		accountID,
	).Scan(&count).Error; err != nil {
		t.Fatalf("count pending promos: %v", err)
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
