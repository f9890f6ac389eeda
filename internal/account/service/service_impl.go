package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/marahq/tally/internal/account/domain"
	"github.com/marahq/tally/internal/clock"
	ledgerdomain "github.com/marahq/tally/internal/ledger/domain"
	"github.com/marahq/tally/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const creditHistoryLimit = 10

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      accountdomain.Repository
	LedgerSvc ledgerdomain.Service
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      accountdomain.Repository
	ledgersvc ledgerdomain.Service
}

func New(p Params) accountdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("account.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		ledgersvc: p.LedgerSvc,
	}
}

func (s *Service) Create(ctx context.Context, req accountdomain.CreateRequest) (*accountdomain.Response, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, accountdomain.ErrInvalidEmail
	}

	now := s.clock.Now()
	account := &accountdomain.Account{
		ID:                s.genID.Generate(),
		Email:             email,
		Name:              strings.TrimSpace(req.Name),
		CreditBalance:     0,
		PromotionEligible: true,
		PromotionClaimed:  false,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.repo.Insert(ctx, s.db, account); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, accountdomain.ErrEmailTaken
		}
		return nil, err
	}

	s.log.Info("account created",
		zap.String("account_id", account.ID.String()),
	)

	return s.toResponse(account), nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*accountdomain.Response, error) {
	accountID, err := accountdomain.ParseID(strings.TrimSpace(id))
	if err != nil {
		return nil, accountdomain.ErrInvalidID
	}

	account, err := s.repo.FindByID(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, accountdomain.ErrNotFound
	}

	return s.toResponse(account), nil
}

func (s *Service) GetByEmail(ctx context.Context, email string) (*accountdomain.Response, error) {
	account, err := s.repo.FindByEmail(ctx, s.db, email)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, accountdomain.ErrNotFound
	}

	return s.toResponse(account), nil
}

func (s *Service) GetCredits(ctx context.Context, id string) (*accountdomain.CreditsView, error) {
	accountID, err := accountdomain.ParseID(strings.TrimSpace(id))
	if err != nil {
		return nil, accountdomain.ErrInvalidID
	}

	account, err := s.repo.FindByID(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, accountdomain.ErrNotFound
	}

	history, err := s.ledgersvc.History(ctx, accountID, creditHistoryLimit)
	if err != nil {
		return nil, err
	}

	return &accountdomain.CreditsView{
		Balance: account.CreditBalance,
		Promotion: accountdomain.PromotionStatus{
			Eligible:     account.PromotionEligible,
			Claimed:      account.PromotionClaimed,
			FirstTokenAt: account.FirstTokenAt,
		},
		History: history,
	}, nil
}

func (s *Service) toResponse(a *accountdomain.Account) *accountdomain.Response {
	return &accountdomain.Response{
		ID:                a.ID.String(),
		Email:             a.Email,
		Name:              a.Name,
		CreditBalance:     a.CreditBalance,
		PromotionEligible: a.PromotionEligible,
		PromotionClaimed:  a.PromotionClaimed,
		FirstTokenAt:      a.FirstTokenAt,
		CreatedAt:         a.CreatedAt,
	}
}
