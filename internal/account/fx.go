package account

import (
	"github.com/marahq/tally/internal/account/repository"
	"github.com/marahq/tally/internal/account/service"
	"go.uber.org/fx"
)

var Module = fx.Module("account.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
