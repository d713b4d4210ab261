package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tallyhq/tally/internal/config"
	"github.com/tallyhq/tally/internal/invite"
	invitedomain "github.com/tallyhq/tally/internal/invite/domain"
	"github.com/tallyhq/tally/internal/ledger"
	ledgerdomain "github.com/tallyhq/tally/internal/ledger/domain"
	"github.com/tallyhq/tally/internal/observability"
	obsmiddleware "github.com/tallyhq/tally/internal/observability/logger"
	obsmetrics "github.com/tallyhq/tally/internal/observability/metrics"
	obstracing "github.com/tallyhq/tally/internal/observability/tracing"
	"github.com/tallyhq/tally/internal/payment"
	paymentdomain "github.com/tallyhq/tally/internal/payment/domain"
	"github.com/tallyhq/tally/internal/usage"
	usagedomain "github.com/tallyhq/tally/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	config.Module,
	ledger.Module,
	usage.Module,
	payment.Module,
	invite.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	engine         *gin.Engine
	cfg            config.Config
	db             *gorm.DB
	log            *zap.Logger
	ledgerSvc      ledgerdomain.Service
	usageSvc       usagedomain.Service
	paymentSvc     paymentdomain.Service
	reconciler     paymentdomain.Reconciler
	inviteSvc      invitedomain.Service
	obsMetrics     *obsmetrics.Metrics
	webhookLimiter *rateLimiter
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	DB         *gorm.DB
	Log        *zap.Logger
	LedgerSvc  ledgerdomain.Service
	UsageSvc   usagedomain.Service
	PaymentSvc paymentdomain.Service
	Reconciler paymentdomain.Reconciler
	InviteSvc  invitedomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		db:             p.DB,
		log:            p.Log.Named("http.server"),
		ledgerSvc:      p.LedgerSvc,
		usageSvc:       p.UsageSvc,
		paymentSvc:     p.PaymentSvc,
		reconciler:     p.Reconciler,
		inviteSvc:      p.InviteSvc,
		obsMetrics:     p.ObsMetrics,
		webhookLimiter: newRateLimiter(60, time.Minute),
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	billing := api.Group("/billing")
	billing.POST("/deduct", s.InternalAuthRequired(), s.DeductBalance)
	billing.GET("/summary", s.UserRequired(), s.BillingSummary)

	usageGroup := api.Group("/usage")
	usageGroup.GET("/report", s.UserRequired(), s.UsageReport)

	payments := api.Group("/payments")
	payments.POST("", s.UserRequired(), s.CreatePayment)
	payments.GET("", s.UserRequired(), s.ListPayments)
	payments.GET("/:id", s.UserRequired(), s.GetPayment)
	payments.POST("/webhook/:provider", s.WebhookRateLimit(), s.PaymentWebhook)

	invites := api.Group("/invites")
	invites.POST("/register", s.UserRequired(), s.RegisterInvite)
	invites.POST("/reward", s.InternalAuthRequired(), s.RewardInvite)
	invites.GET("", s.UserRequired(), s.ListInvites)
}
