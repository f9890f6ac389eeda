package ratelimit

import (
	"context"

	"github.com/marahq/tally/internal/config"
	"github.com/marahq/tally/internal/observability/metrics"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Limiter enforces the per-account inference rate limit. It fails open: when
// the limiter is disabled, Redis is not configured, or Redis is unreachable,
// requests pass.
type Limiter struct {
	log     *zap.Logger
	cfg     config.RateLimitConfig
	bucket  *TokenBucket
	metrics *metrics.Metrics
}

type Params struct {
	fx.In

	Log     *zap.Logger
	Config  config.Config
	Redis   *redis.Client `optional:"true"`
	Metrics *metrics.Metrics
}

func New(p Params) *Limiter {
	l := &Limiter{
		log:     p.Log.Named("ratelimit"),
		cfg:     p.Config.RateLimit,
		metrics: p.Metrics,
	}
	if p.Redis != nil {
		l.bucket = NewTokenBucket(p.Redis)
	}
	return l
}

func (l *Limiter) Allow(ctx context.Context, key string) *Result {
	if !l.cfg.Enabled || l.bucket == nil {
		return &Result{Allowed: true, Limit: l.cfg.Burst, Remaining: l.cfg.Burst}
	}

	res, err := l.bucket.Allow(ctx, "ratelimit:"+key, l.cfg.Rate, l.cfg.Burst)
	if err != nil {
		l.log.Warn("rate limit check failed, allowing request", zap.Error(err))
		return &Result{Allowed: true, Limit: l.cfg.Burst, Remaining: l.cfg.Burst}
	}

	if res.Allowed {
		l.metrics.RecordRateLimitAllowed(ctx, "inference")
	} else {
		l.metrics.RecordRateLimitDenied(ctx, "inference", "bucket_empty")
	}
	return res
}

func NewRedisClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn("redis unreachable, rate limiting disabled", zap.Error(err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client
}

var Module = fx.Module("rate.limit",
	fx.Provide(NewRedisClient),
	fx.Provide(New),
)
