package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/marahq/tally/internal/config"
	"github.com/marahq/tally/internal/inference"
	meteringdomain "github.com/marahq/tally/internal/metering/domain"
	"github.com/marahq/tally/internal/observability"
	obsmiddleware "github.com/marahq/tally/internal/observability/logger"
	obsmetrics "github.com/marahq/tally/internal/observability/metrics"
	obstracing "github.com/marahq/tally/internal/observability/tracing"
	"github.com/marahq/tally/internal/pricing"
	"github.com/marahq/tally/internal/ratelimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	accountdomain "github.com/marahq/tally/internal/account/domain"
	ledgerdomain "github.com/marahq/tally/internal/ledger/domain"
	promotiondomain "github.com/marahq/tally/internal/promotion/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	accountSvc  accountdomain.Service
	ledgerSvc   ledgerdomain.Service
	promoSvc    promotiondomain.Service
	meteringSvc meteringdomain.Service
	pricingSvc  pricing.Service
	generator   inference.Generator
	limiter     *ratelimit.Limiter
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	AccountSvc  accountdomain.Service
	LedgerSvc   ledgerdomain.Service
	PromoSvc    promotiondomain.Service
	MeteringSvc meteringdomain.Service
	PricingSvc  pricing.Service
	Generator   inference.Generator
	Limiter     *ratelimit.Limiter
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		accountSvc:  p.AccountSvc,
		ledgerSvc:   p.LedgerSvc,
		promoSvc:    p.PromoSvc,
		meteringSvc: p.MeteringSvc,
		pricingSvc:  p.PricingSvc,
		generator:   p.Generator,
		limiter:     p.Limiter,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/accounts", s.CreateAccount)
	v1.GET("/accounts/:id", s.GetAccount)
	v1.GET("/accounts/:id/credits", s.GetAccountCredits)
	v1.POST("/accounts/:id/credits", s.CreateAdjustmentCredit)
	v1.GET("/accounts/:id/promotion", s.GetPromotionEligibility)
	v1.GET("/accounts/:id/usage", s.ListUsage)

	v1.GET("/models", s.ListModels)
	v1.POST("/inference", s.RateLimitByAccount(), s.RunInference)
}
