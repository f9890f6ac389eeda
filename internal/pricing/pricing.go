package pricing

import (
	"github.com/marahq/tally/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Service answers how much a model invocation costs. Rates are quoted per
// 1000 tokens and come from the hot-reloaded pricing config, so a rate change
// takes effect without a restart.
type Service interface {
	Cost(model string, tokens int64) float64
	RatePerThousand(model string) float64
	Models() map[string]float64
}

type Params struct {
	fx.In

	Log     *zap.Logger
	Pricing *config.PricingConfigHolder
}

type service struct {
	log     *zap.Logger
	pricing *config.PricingConfigHolder
}

func New(p Params) Service {
	return &service{
		log:     p.Log.Named("pricing.service"),
		pricing: p.Pricing,
	}
}

func (s *service) Cost(model string, tokens int64) float64 {
	if tokens <= 0 {
		return 0
	}
	return float64(tokens) / 1000 * s.RatePerThousand(model)
}

func (s *service) RatePerThousand(model string) float64 {
	cfg := s.pricing.Get()
	if rate, ok := cfg.Models[model]; ok {
		return rate
	}
	return cfg.DefaultRate
}

func (s *service) Models() map[string]float64 {
	cfg := s.pricing.Get()
	out := make(map[string]float64, len(cfg.Models))
	for model, rate := range cfg.Models {
		out[model] = rate
	}
	return out
}

var Module = fx.Module("pricing.service",
	fx.Provide(New),
)
