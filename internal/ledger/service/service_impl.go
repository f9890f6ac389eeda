package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/marahq/tally/internal/clock"
	ledgerdomain "github.com/marahq/tally/internal/ledger/domain"
	"github.com/marahq/tally/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    ledgerdomain.Repository
	Metrics *metrics.Metrics
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    ledgerdomain.Repository
	metrics *metrics.Metrics
}

func New(p Params) ledgerdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("ledger.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

func (s *Service) Credit(ctx context.Context, req ledgerdomain.CreditRequest) (*ledgerdomain.CreditTransaction, error) {
	var entry *ledgerdomain.CreditTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		entry, txErr = s.CreditTx(ctx, tx, req)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) CreditTx(ctx context.Context, tx *gorm.DB, req ledgerdomain.CreditRequest) (*ledgerdomain.CreditTransaction, error) {
	if req.AccountID == 0 {
		return nil, ledgerdomain.ErrInvalidAccount
	}
	if req.Amount <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}
	if err := ledgerdomain.ValidateKind(req.Kind); err != nil {
		return nil, err
	}

	res := tx.WithContext(ctx).Exec(
		`UPDATE accounts SET credit_balance = credit_balance + ?, updated_at = ? WHERE id = ?`,
		req.Amount,
		s.clock.Now(),
		req.AccountID,
	)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ledgerdomain.ErrAccountNotFound
	}

	entry := s.newEntry(req.AccountID, req.Amount, req.Kind, req.Description, req.ExpiresAt)
	if err := s.repo.Insert(ctx, tx, entry); err != nil {
		return nil, err
	}

	s.metrics.RecordLedgerEntry(ctx, string(req.Kind))
	s.log.Debug("credit applied",
		zap.Int64("account_id", req.AccountID.Int64()),
		zap.Float64("amount", req.Amount),
		zap.String("kind", string(req.Kind)),
	)
	return entry, nil
}

func (s *Service) Debit(ctx context.Context, req ledgerdomain.DebitRequest) (*ledgerdomain.DebitResult, error) {
	var result *ledgerdomain.DebitResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		result, txErr = s.DebitTx(ctx, tx, req)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DebitTx charges the account only when the full amount is covered. The
// balance check and the decrement are one conditional UPDATE, so two
// concurrent debits can never both succeed against the same funds.
func (s *Service) DebitTx(ctx context.Context, tx *gorm.DB, req ledgerdomain.DebitRequest) (*ledgerdomain.DebitResult, error) {
	if req.AccountID == 0 {
		return nil, ledgerdomain.ErrInvalidAccount
	}
	if req.Amount <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}
	if err := ledgerdomain.ValidateKind(req.Kind); err != nil {
		return nil, err
	}

	res := tx.WithContext(ctx).Exec(
		`UPDATE accounts SET credit_balance = credit_balance - ?, updated_at = ? WHERE id = ? AND credit_balance >= ?`,
		req.Amount,
		s.clock.Now(),
		req.AccountID,
		req.Amount,
	)
	if res.Error != nil {
		return nil, res.Error
	}

	if res.RowsAffected == 0 {
		balance, err := s.balanceIn(ctx, tx, req.AccountID)
		if err != nil {
			return nil, err
		}
		return &ledgerdomain.DebitResult{Paid: false, Balance: balance}, nil
	}

	entry := s.newEntry(req.AccountID, -req.Amount, req.Kind, req.Description, nil)
	if err := s.repo.Insert(ctx, tx, entry); err != nil {
		return nil, err
	}

	balance, err := s.balanceIn(ctx, tx, req.AccountID)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordLedgerEntry(ctx, string(req.Kind))
	s.log.Debug("debit applied",
		zap.Int64("account_id", req.AccountID.Int64()),
		zap.Float64("amount", req.Amount),
		zap.Float64("balance", balance),
	)
	return &ledgerdomain.DebitResult{Paid: true, Balance: balance, Transaction: entry}, nil
}

func (s *Service) Balance(ctx context.Context, accountID snowflake.ID) (float64, error) {
	if accountID == 0 {
		return 0, ledgerdomain.ErrInvalidAccount
	}
	return s.balanceIn(ctx, s.db, accountID)
}

func (s *Service) BalanceTx(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) (float64, error) {
	if accountID == 0 {
		return 0, ledgerdomain.ErrInvalidAccount
	}
	return s.balanceIn(ctx, tx, accountID)
}

func (s *Service) History(ctx context.Context, accountID snowflake.ID, limit int) ([]ledgerdomain.CreditTransaction, error) {
	if accountID == 0 {
		return nil, ledgerdomain.ErrInvalidAccount
	}
	if limit <= 0 {
		limit = 10
	}
	return s.repo.ListByAccount(ctx, s.db, accountID, limit)
}

func (s *Service) balanceIn(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (float64, error) {
	var row struct {
		ID      snowflake.ID
		Balance float64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT id, credit_balance AS balance FROM accounts WHERE id = ?`,
		accountID,
	).Scan(&row).Error
	if err != nil {
		return 0, err
	}
	if row.ID == 0 {
		return 0, ledgerdomain.ErrAccountNotFound
	}
	return row.Balance, nil
}

func (s *Service) newEntry(accountID snowflake.ID, amount float64, kind ledgerdomain.TransactionKind, description string, expiresAt *time.Time) *ledgerdomain.CreditTransaction {
	now := s.clock.Now()
	return &ledgerdomain.CreditTransaction{
		ID:          s.genID.Generate(),
		AccountID:   accountID,
		Amount:      amount,
		Kind:        kind,
		Description: description,
		AppliedAt:   now,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
	}
}
