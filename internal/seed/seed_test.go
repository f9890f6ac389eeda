package seed

import (
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/marahq/tally/internal/account/domain"
	accountrepository "github.com/marahq/tally/internal/account/repository"
	accountservice "github.com/marahq/tally/internal/account/service"
	"github.com/marahq/tally/internal/clock"
	"github.com/marahq/tally/internal/config"
	ledgerrepository "github.com/marahq/tally/internal/ledger/repository"
	ledgerservice "github.com/marahq/tally/internal/ledger/service"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestEnsureDemoAccountIsIdempotent(t *testing.T) {
	accounts, db := setupAccounts(t)
	cfg := config.Config{
		SeedDemoAccount:  true,
		DemoAccountEmail: "demo@mara.ai",
	}

	for i := 0; i < 2; i++ {
		if err := EnsureDemoAccount(cfg, zap.NewNop(), accounts); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	var count int
	if err := db.Raw(`SELECT COUNT(*) FROM accounts`).Scan(&count).Error; err != nil {
		t.Fatalf("count accounts: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one demo account, got %d", count)
	}
}

func TestEnsureDemoAccountSkipsWhenDisabled(t *testing.T) {
	accounts, db := setupAccounts(t)
	cfg := config.Config{
		SeedDemoAccount:  false,
		DemoAccountEmail: "demo@mara.ai",
	}

	if err := EnsureDemoAccount(cfg, zap.NewNop(), accounts); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var count int
	if err := db.Raw(`SELECT COUNT(*) FROM accounts`).Scan(&count).Error; err != nil {
		t.Fatalf("count accounts: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no accounts, got %d", count)
	}
}

func setupAccounts(t *testing.T) (accountdomain.Service, *gorm.DB) {
	t.Helper()

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

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

	fc := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ledgerSvc := ledgerservice.New(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fc,
		Repo:  ledgerrepository.Provide(),
	})
	accounts := accountservice.New(accountservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     fc,
		Repo:      accountrepository.Provide(),
		LedgerSvc: ledgerSvc,
	})
	return accounts, db
}
