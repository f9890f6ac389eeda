package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/marahq/tally/internal/clock"
	ledgerdomain "github.com/marahq/tally/internal/ledger/domain"
	"github.com/marahq/tally/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler requires db, logger, id node and clock")

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Metrics *metrics.Metrics
	Config  Config `optional:"true"`
}

// Scheduler runs periodic maintenance jobs. The only job today is the
// promotional credit expiry sweep.
type Scheduler struct {
	db      *gorm.DB
	log     *zap.Logger
	cfg     Config
	genID   *snowflake.Node
	clock   clock.Clock
	metrics *metrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:      p.DB,
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     p.Config.withDefaults(),
		genID:   p.GenID,
		clock:   p.Clock,
		metrics: p.Metrics,
	}, nil
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()
	return s.ExpireCreditsJob(ctx)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ExpireCreditsJob claws back promotional credits whose TTL has lapsed. Each
// expired grant is offset by a negative adjustment entry capped at the
// account's remaining balance, so the balance never goes negative and still
// equals the sum of its ledger entries.
func (s *Scheduler) ExpireCreditsJob(ctx context.Context) error {
	var jobErr error
	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		processed, err := s.expireCreditsBatch(ctx)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
		}
		if processed == 0 {
			return jobErr
		}
	}
}

type expiringCredit struct {
	ID        snowflake.ID
	AccountID snowflake.ID
	Amount    float64
}

func (s *Scheduler) expireCreditsBatch(ctx context.Context) (int, error) {
	now := s.clock.Now()
	processed := 0

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		credits, err := s.claimExpiringCredits(ctx, tx, now)
		if err != nil {
			return err
		}

		for _, credit := range credits {
			if err := s.expireCredit(ctx, tx, credit, now); err != nil {
				return err
			}
			processed++
		}
		return nil
	})
	return processed, err
}

func (s *Scheduler) claimExpiringCredits(ctx context.Context, tx *gorm.DB, now time.Time) ([]expiringCredit, error) {
	query := `SELECT id, account_id, amount
		 FROM credit_transactions
		 WHERE expires_at IS NOT NULL AND expires_at <= ? AND expired_at IS NULL
		 ORDER BY id`
	// Row claims only serialize across instances on postgres; sqlite runs
	// single-writer anyway.
	if tx.Dialector.Name() == "postgres" {
		query += " FOR UPDATE SKIP LOCKED"
	}
	query += " LIMIT ?"

	var credits []expiringCredit
	if err := tx.WithContext(ctx).Raw(query, now, s.cfg.BatchSize).Scan(&credits).Error; err != nil {
		return nil, err
	}
	return credits, nil
}

// clawbackBalance deducts the expired grant from the account, capped at the
// remaining balance. The decrement is guarded with credit_balance >= ? so a
// usage debit committing between the read and the write cannot push the
// balance negative; on a guard miss the cap is recomputed from the fresh
// balance.
func (s *Scheduler) clawbackBalance(ctx context.Context, tx *gorm.DB, credit expiringCredit, now time.Time) (float64, error) {
	for {
		var row struct {
			ID      snowflake.ID
			Balance float64
		}
		err := tx.WithContext(ctx).Raw(
			`SELECT id, credit_balance AS balance FROM accounts WHERE id = ?`,
			credit.AccountID,
		).Scan(&row).Error
		if err != nil {
			return 0, err
		}

		clawback := credit.Amount
		if row.Balance < clawback {
			clawback = row.Balance
		}
		if clawback <= 0 {
			return 0, nil
		}

		res := tx.WithContext(ctx).Exec(
			`UPDATE accounts SET credit_balance = credit_balance - ?, updated_at = ? WHERE id = ? AND credit_balance >= ?`,
			clawback,
			now,
			credit.AccountID,
			clawback,
		)
		if res.Error != nil {
			return 0, res.Error
		}
		if res.RowsAffected > 0 {
			return clawback, nil
		}
	}
}

func (s *Scheduler) expireCredit(ctx context.Context, tx *gorm.DB, credit expiringCredit, now time.Time) error {
	clawback, err := s.clawbackBalance(ctx, tx, credit, now)
	if err != nil {
		return err
	}

	if clawback > 0 {
		entry := &ledgerdomain.CreditTransaction{
			ID:          s.genID.Generate(),
			AccountID:   credit.AccountID,
			Amount:      -clawback,
			Kind:        ledgerdomain.KindAdjustment,
			Description: "Promotional credit expired",
			AppliedAt:   now,
			CreatedAt:   now,
		}
		err = tx.WithContext(ctx).Exec(
			`INSERT INTO credit_transactions (id, account_id, amount, kind, description, applied_at, expires_at, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ID,
			entry.AccountID,
			entry.Amount,
			entry.Kind,
			entry.Description,
			entry.AppliedAt,
			entry.ExpiresAt,
			entry.CreatedAt,
		).Error
		if err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.RecordLedgerEntry(ctx, string(ledgerdomain.KindAdjustment))
		}
	}

	err = tx.WithContext(ctx).Exec(
		`UPDATE credit_transactions SET expired_at = ? WHERE id = ? AND expired_at IS NULL`,
		now,
		credit.ID,
	).Error
	if err != nil {
		return err
	}

	s.log.Info("promotional credit expired",
		zap.Int64("account_id", credit.AccountID.Int64()),
		zap.Float64("granted", credit.Amount),
		zap.Float64("clawback", clawback),
	)
	return nil
}
