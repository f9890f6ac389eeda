package ledger

import (
	"github.com/marahq/tally/internal/ledger/repository"
	"github.com/marahq/tally/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
