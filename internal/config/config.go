package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module wires application configuration into the fx graph.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPricingHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	HTTPAddr string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string

	Promotion  PromotionConfig
	Settlement SettlementConfig
	RateLimit  RateLimitConfig

	SeedDemoAccount  bool
	DemoAccountEmail string
}

// PromotionConfig controls the first-token welcome bonus.
type PromotionConfig struct {
	BonusAmount   float64
	WindowSeconds int64
	CreditTTLDays int
}

// SettlementPolicy decides what happens when a debit cannot be collected.
type SettlementPolicy string

const (
	// SettlementPolicyAllow returns the inference result even when the
	// account cannot cover the cost; the usage record is flagged unpaid.
	SettlementPolicyAllow SettlementPolicy = "allow"
	// SettlementPolicyReject surfaces insufficient funds to the caller
	// after the usage record is written.
	SettlementPolicyReject SettlementPolicy = "reject"
)

// SettlementConfig controls usage settlement behaviour.
type SettlementConfig struct {
	Policy SettlementPolicy
}

// RateLimitConfig controls the per-account inference rate limit.
type RateLimitConfig struct {
	Enabled bool
	Rate    float64
	Burst   int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "tally"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: environment,

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "tally"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		Promotion: PromotionConfig{
			BonusAmount:   getenvFloat("PROMOTION_BONUS_AMOUNT", 20.0),
			WindowSeconds: getenvInt64("PROMOTION_WINDOW_SECONDS", 180),
			CreditTTLDays: getenvInt("PROMOTION_CREDIT_TTL_DAYS", 30),
		},
		Settlement: SettlementConfig{
			Policy: normalizePolicy(getenv("SETTLEMENT_POLICY", string(SettlementPolicyAllow))),
		},
		RateLimit: RateLimitConfig{
			Enabled: getenvBool("RATE_LIMIT_ENABLED", true),
			Rate:    getenvFloat("RATE_LIMIT_RATE", 10),
			Burst:   getenvInt("RATE_LIMIT_BURST", 20),
		},

		SeedDemoAccount:  getenvBool("SEED_DEMO_ACCOUNT", environment != "production"),
		DemoAccountEmail: getenv("DEMO_ACCOUNT_EMAIL", "demo@mara.ai"),
	}

	return cfg
}

func normalizePolicy(raw string) SettlementPolicy {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(SettlementPolicyReject):
		return SettlementPolicyReject
	default:
		return SettlementPolicyAllow
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
