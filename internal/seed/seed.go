package seed

import (
	"context"
	"errors"

	accountdomain "github.com/marahq/tally/internal/account/domain"
	"github.com/marahq/tally/internal/config"
	"go.uber.org/zap"
)

const demoAccountName = "Demo User"

// EnsureDemoAccount creates the demo account on startup so a fresh
// deployment is usable immediately. Safe to run on every boot.
func EnsureDemoAccount(cfg config.Config, log *zap.Logger, accounts accountdomain.Service) error {
	if !cfg.SeedDemoAccount {
		return nil
	}

	logger := log.Named("seed")
	ctx := context.Background()

	if existing, err := accounts.GetByEmail(ctx, cfg.DemoAccountEmail); err == nil && existing != nil {
		logger.Debug("demo account already present", zap.String("email", cfg.DemoAccountEmail))
		return nil
	} else if err != nil && !errors.Is(err, accountdomain.ErrNotFound) {
		return err
	}

	account, err := accounts.Create(ctx, accountdomain.CreateRequest{
		Email: cfg.DemoAccountEmail,
		Name:  demoAccountName,
	})
	if err != nil {
		if errors.Is(err, accountdomain.ErrEmailTaken) {
			logger.Debug("demo account already present", zap.String("email", cfg.DemoAccountEmail))
			return nil
		}
		return err
	}

	logger.Info("demo account seeded",
		zap.String("account_id", account.ID),
		zap.String("email", cfg.DemoAccountEmail),
	)
	return nil
}
