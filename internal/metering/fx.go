package metering

import (
	"github.com/marahq/tally/internal/metering/repository"
	"github.com/marahq/tally/internal/metering/service"
	"go.uber.org/fx"
)

var Module = fx.Module("metering.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
