package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/marahq/tally/internal/account/domain"
	"github.com/marahq/tally/internal/clock"
	"github.com/marahq/tally/internal/config"
	ledgerdomain "github.com/marahq/tally/internal/ledger/domain"
	"github.com/marahq/tally/internal/observability/metrics"
	promotiondomain "github.com/marahq/tally/internal/promotion/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const bonusDescription = "Welcome bonus: First token generated within 3 minutes!"

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Config    config.Config
	Accounts  accountdomain.Repository
	LedgerSvc ledgerdomain.Service
	Metrics   *metrics.Metrics
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	cfg       config.PromotionConfig
	accounts  accountdomain.Repository
	ledgersvc ledgerdomain.Service
	metrics   *metrics.Metrics
}

func New(p Params) promotiondomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("promotion.service"),
		clock:     p.Clock,
		cfg:       p.Config.Promotion,
		accounts:  p.Accounts,
		ledgersvc: p.LedgerSvc,
		metrics:   p.Metrics,
	}
}

func (s *Service) EvaluateFirstToken(ctx context.Context, accountID snowflake.ID, at time.Time) (*promotiondomain.GrantResult, error) {
	var result *promotiondomain.GrantResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		result, txErr = s.EvaluateFirstTokenTx(ctx, tx, accountID, at)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) EvaluateFirstTokenTx(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, at time.Time) (*promotiondomain.GrantResult, error) {
	if accountID == 0 {
		return nil, promotiondomain.ErrInvalidAccount
	}

	account, err := s.accounts.FindByID(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, promotiondomain.ErrAccountNotFound
	}
	if account.PromotionClaimed || !account.PromotionEligible {
		return &promotiondomain.GrantResult{}, nil
	}

	deadline := account.CreatedAt.Add(s.window())
	if at.After(deadline) {
		// The window closed before the first token. Record the miss so later
		// tokens never re-open it.
		err := tx.WithContext(ctx).Exec(
			`UPDATE accounts SET promotion_eligible = FALSE, first_token_at = ?, updated_at = ?
			 WHERE id = ? AND promotion_claimed = FALSE`,
			at,
			s.clock.Now(),
			accountID,
		).Error
		if err != nil {
			return nil, err
		}
		s.log.Info("promotion window expired",
			zap.Int64("account_id", accountID.Int64()),
			zap.Time("deadline", deadline),
			zap.Time("first_token_at", at),
		)
		return &promotiondomain.GrantResult{}, nil
	}

	// Claim is a compare-and-swap on promotion_claimed. Of any number of
	// concurrent first tokens, exactly one update sticks.
	res := tx.WithContext(ctx).Exec(
		`UPDATE accounts SET first_token_at = ?, promotion_claimed = TRUE, promotion_eligible = FALSE, updated_at = ?
		 WHERE id = ? AND promotion_claimed = FALSE AND promotion_eligible = TRUE`,
		at,
		s.clock.Now(),
		accountID,
	)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return &promotiondomain.GrantResult{}, nil
	}

	expiresAt := at.Add(time.Duration(s.cfg.CreditTTLDays) * 24 * time.Hour)
	if _, err := s.ledgersvc.CreditTx(ctx, tx, ledgerdomain.CreditRequest{
		AccountID:   accountID,
		Amount:      s.cfg.BonusAmount,
		Kind:        ledgerdomain.KindPromotional,
		Description: bonusDescription,
		ExpiresAt:   &expiresAt,
	}); err != nil {
		return nil, err
	}

	s.metrics.RecordPromotionGrant(ctx)
	s.log.Info("promotion granted",
		zap.Int64("account_id", accountID.Int64()),
		zap.Float64("amount", s.cfg.BonusAmount),
		zap.Time("first_token_at", at),
	)
	return &promotiondomain.GrantResult{Granted: true, Amount: s.cfg.BonusAmount}, nil
}

func (s *Service) CheckEligibility(ctx context.Context, accountID snowflake.ID) (*promotiondomain.Eligibility, error) {
	if accountID == 0 {
		return nil, promotiondomain.ErrInvalidAccount
	}

	account, err := s.accounts.FindByID(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, promotiondomain.ErrAccountNotFound
	}

	if account.PromotionClaimed {
		return &promotiondomain.Eligibility{Claimed: true}, nil
	}
	if !account.PromotionEligible {
		return &promotiondomain.Eligibility{}, nil
	}

	remaining := account.CreatedAt.Add(s.window()).Sub(s.clock.Now())
	if remaining <= 0 {
		return &promotiondomain.Eligibility{}, nil
	}
	return &promotiondomain.Eligibility{Eligible: true, TimeRemaining: remaining}, nil
}

func (s *Service) window() time.Duration {
	return time.Duration(s.cfg.WindowSeconds) * time.Second
}
