package migration

import (
	"github.com/marahq/tally/internal/config"
	"github.com/marahq/tally/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		// Schema migrations target postgres; sqlite and mysql deployments
		// are expected to manage schema out of band.
		if cfg.DBType != "postgres" {
			return nil
		}
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
	fx.Invoke(seed.EnsureDemoAccount),
)
