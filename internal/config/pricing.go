package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PricingConfig maps model identifiers to a price per 1000 tokens.
// Unknown models fall back to DefaultRate.
type PricingConfig struct {
	Models      map[string]float64 `mapstructure:"models"`
	DefaultRate float64            `mapstructure:"defaultRate"`
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		Models: map[string]float64{
			"llama-2-70b":   2.56,
			"llama-2-13b":   1.23,
			"mixtral-8x7b":  1.90,
			"codellama-34b": 1.78,
		},
		DefaultRate: 2.0,
	}
}

type PricingConfigHolder struct {
	current atomic.Value // holds PricingConfig
}

// NewPricingHolder loads the price table from pricing.yml when present and
// keeps it hot-reloadable; defaults cover local and self-hosted setups.
func NewPricingHolder() (*PricingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/tally/config")
	v.AddConfigPath("/etc/tally")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TALLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultPricingConfig()
		v.SetDefault("pricing.models", defaults.Models)
		v.SetDefault("pricing.defaultRate", defaults.DefaultRate)
	}

	var cfg PricingConfig
	if err := v.UnmarshalKey("pricing", &cfg); err != nil {
		return nil, err
	}
	applyPricingDefaults(&cfg)
	if err := validatePricingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &PricingConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PricingConfig
		if err := v.UnmarshalKey("pricing", &updated); err != nil {
			log.Printf("[pricing-config] reload failed: %v", err)
			return
		}
		applyPricingDefaults(&updated)
		if err := validatePricingConfig(updated); err != nil {
			log.Printf("[pricing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[pricing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func NewStaticPricingHolder(cfg PricingConfig) *PricingConfigHolder {
	applyPricingDefaults(&cfg)
	holder := &PricingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *PricingConfigHolder) Get() PricingConfig {
	return h.current.Load().(PricingConfig)
}

func applyPricingDefaults(cfg *PricingConfig) {
	defaults := DefaultPricingConfig()
	if cfg.Models == nil {
		cfg.Models = defaults.Models
	}
	if cfg.DefaultRate == 0 {
		cfg.DefaultRate = defaults.DefaultRate
	}
}

func validatePricingConfig(cfg PricingConfig) error {
	if cfg.DefaultRate <= 0 {
		return errors.New("pricing.defaultRate must be positive")
	}
	for model, rate := range cfg.Models {
		if strings.TrimSpace(model) == "" {
			return errors.New("pricing.models contains an empty model name")
		}
		if rate < 0 {
			return errors.New("pricing.models rates cannot be negative")
		}
	}
	return nil
}
