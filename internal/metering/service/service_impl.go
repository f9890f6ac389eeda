package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/marahq/tally/internal/clock"
	"github.com/marahq/tally/internal/config"
	ledgerdomain "github.com/marahq/tally/internal/ledger/domain"
	meteringdomain "github.com/marahq/tally/internal/metering/domain"
	"github.com/marahq/tally/internal/observability/metrics"
	"github.com/marahq/tally/internal/pricing"
	promotiondomain "github.com/marahq/tally/internal/promotion/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Config    config.Config
	Repo      meteringdomain.Repository
	LedgerSvc ledgerdomain.Service
	PromoSvc  promotiondomain.Service
	Pricing   pricing.Service
	Metrics   *metrics.Metrics
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	policy    config.SettlementPolicy
	repo      meteringdomain.Repository
	ledgersvc ledgerdomain.Service
	promosvc  promotiondomain.Service
	pricing   pricing.Service
	metrics   *metrics.Metrics
}

func New(p Params) meteringdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("metering.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		policy:    p.Config.Settlement.Policy,
		repo:      p.Repo,
		ledgersvc: p.LedgerSvc,
		promosvc:  p.PromoSvc,
		pricing:   p.Pricing,
		metrics:   p.Metrics,
	}
}

// Settle runs the whole pipeline in one transaction: promotion evaluation,
// pricing, the debit attempt, and the usage record. Either all of it commits
// or none of it does.
func (s *Service) Settle(ctx context.Context, req meteringdomain.SettleRequest) (*meteringdomain.SettlementResult, error) {
	if req.AccountID == 0 {
		return nil, meteringdomain.ErrInvalidAccount
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, meteringdomain.ErrInvalidModel
	}
	if req.TokensUsed <= 0 {
		return nil, meteringdomain.ErrInvalidTokens
	}

	settledAt := s.clock.Now()
	cost := s.pricing.Cost(req.Model, req.TokensUsed)

	var result *meteringdomain.SettlementResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		grant, err := s.promosvc.EvaluateFirstTokenTx(ctx, tx, req.AccountID, settledAt)
		if err != nil {
			return err
		}

		// A zero-rate model has nothing to collect; settle as paid without a
		// ledger entry so the balance stays equal to the entry sum.
		var debit *ledgerdomain.DebitResult
		if cost == 0 {
			balance, err := s.ledgersvc.BalanceTx(ctx, tx, req.AccountID)
			if err != nil {
				return err
			}
			debit = &ledgerdomain.DebitResult{Paid: true, Balance: balance}
		} else {
			debit, err = s.ledgersvc.DebitTx(ctx, tx, ledgerdomain.DebitRequest{
				AccountID:   req.AccountID,
				Amount:      cost,
				Kind:        ledgerdomain.KindUsage,
				Description: fmt.Sprintf("Usage: %s (%d tokens)", req.Model, req.TokensUsed),
			})
			if err != nil {
				return err
			}
		}

		record := &meteringdomain.UsageRecord{
			ID:           s.genID.Generate(),
			AccountID:    req.AccountID,
			Model:        req.Model,
			TokensUsed:   req.TokensUsed,
			ComputedCost: cost,
			Paid:         debit.Paid,
			Metadata:     datatypes.JSONMap(req.Metadata),
			SettledAt:    settledAt,
			CreatedAt:    settledAt,
		}
		if err := s.repo.Insert(ctx, tx, record); err != nil {
			return err
		}

		result = &meteringdomain.SettlementResult{
			Cost:             cost,
			PromotionGranted: grant.Granted,
			PaidWithCredits:  debit.Paid,
			ResultingBalance: debit.Balance,
			Record:           record,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordSettlement(ctx, req.Model, result.PaidWithCredits)
	if !result.PaidWithCredits {
		s.metrics.RecordInsufficientFunds(ctx, req.Model)
	}
	s.log.Info("usage settled",
		zap.Int64("account_id", req.AccountID.Int64()),
		zap.String("model", req.Model),
		zap.Int64("tokens_used", req.TokensUsed),
		zap.Float64("cost", cost),
		zap.Bool("paid", result.PaidWithCredits),
		zap.Bool("promotion_granted", result.PromotionGranted),
	)

	// Under the reject policy an uncollected debit fails the request, but the
	// usage record above has already committed for the audit trail.
	if !result.PaidWithCredits && s.policy == config.SettlementPolicyReject {
		return nil, meteringdomain.ErrInsufficientCredits
	}
	return result, nil
}

func (s *Service) ListByAccount(ctx context.Context, accountID snowflake.ID, limit int) ([]meteringdomain.UsageRecord, error) {
	if accountID == 0 {
		return nil, meteringdomain.ErrInvalidAccount
	}
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListByAccount(ctx, s.db, accountID, limit)
}
