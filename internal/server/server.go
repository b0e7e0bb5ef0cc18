package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shortyai/creditdesk/internal/authorization"
	"github.com/shortyai/creditdesk/internal/config"
	"github.com/shortyai/creditdesk/internal/credit"
	creditdomain "github.com/shortyai/creditdesk/internal/credit/domain"
	"github.com/shortyai/creditdesk/internal/identity"
	identitydomain "github.com/shortyai/creditdesk/internal/identity/domain"
	"github.com/shortyai/creditdesk/internal/identity/session"
	"github.com/shortyai/creditdesk/internal/liveevents"
	"github.com/shortyai/creditdesk/internal/observability"
	obsmiddleware "github.com/shortyai/creditdesk/internal/observability/logger"
	obsmetrics "github.com/shortyai/creditdesk/internal/observability/metrics"
	obstracing "github.com/shortyai/creditdesk/internal/observability/tracing"
	"github.com/shortyai/creditdesk/internal/payment"
	paymentdomain "github.com/shortyai/creditdesk/internal/payment/domain"
	"github.com/shortyai/creditdesk/internal/profile"
	profiledomain "github.com/shortyai/creditdesk/internal/profile/domain"
	"github.com/shortyai/creditdesk/internal/providers"
	"github.com/shortyai/creditdesk/internal/ratelimit"
	"github.com/shortyai/creditdesk/internal/tier"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	liveevents.Module,
	tier.Module,
	providers.Module,
	profile.Module,
	credit.Module,
	payment.Module,
	identity.Module,
	ratelimit.Module,
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
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
	registerValidators()
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, server *Server, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			// Shutdown does not cancel request contexts; live streams end here.
			server.Close()
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	identitySvc   identitydomain.Service
	sessions      *session.Manager
	authzSvc      authorization.Service
	profileSvc    profiledomain.Service
	paymentSvc    paymentdomain.Service
	creditSvc     creditdomain.Service
	tiers         tier.Source
	hub           *liveevents.Hub
	obsMetrics    *obsmetrics.Metrics
	submitLimiter *ratelimit.SubmitLimiter
	upgrader      websocket.Upgrader
	heartbeat     time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	IdentitySvc   identitydomain.Service
	Sessions      *session.Manager
	AuthzSvc      authorization.Service
	ProfileSvc    profiledomain.Service
	PaymentSvc    paymentdomain.Service
	CreditSvc     creditdomain.Service
	Tiers         tier.Source
	Hub           *liveevents.Hub
	ObsMetrics    *obsmetrics.Metrics      `optional:"true"`
	SubmitLimiter *ratelimit.SubmitLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("http.server"),
		identitySvc:   p.IdentitySvc,
		sessions:      p.Sessions,
		authzSvc:      p.AuthzSvc,
		profileSvc:    p.ProfileSvc,
		paymentSvc:    p.PaymentSvc,
		creditSvc:     p.CreditSvc,
		tiers:         p.Tiers,
		hub:           p.Hub,
		obsMetrics:    p.ObsMetrics,
		submitLimiter: p.SubmitLimiter,
		upgrader:      newUpgrader(),
		heartbeat:     liveHeartbeatInterval,
		done:          make(chan struct{}),
	}

	svc.registerAuthRoutes()
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Close ends every open SSE and websocket stream. Safe to call repeatedly.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Server) registerAuthRoutes() {
	s.engine.GET("/login/:name", s.OAuthLogin)

	auth := s.engine.Group("/auth")
	auth.GET("/providers", s.ListProviders)
	auth.POST("/session", s.CreateSession)
	auth.POST("/logout", s.Logout)
	auth.GET("/me", s.Me)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	api.GET("/tiers", s.ListTiers)

	api.Use(s.AuthRequired())

	// -------- Profile --------
	api.GET("/profile", s.RequireAction(authorization.ObjectProfile, authorization.ActionProfileView), s.GetProfile)
	api.GET("/profile/stream", s.RequireAction(authorization.ObjectProfile, authorization.ActionProfileView), s.StreamProfile)

	// -------- Payments --------
	api.GET("/payments", s.RequireAction(authorization.ObjectPayment, authorization.ActionPaymentViewOwn), s.ListPayments)
	api.POST("/payments", s.RequireAction(authorization.ObjectPayment, authorization.ActionPaymentSubmit), s.SubmitPayment)
	api.GET("/payments/stream", s.RequireAction(authorization.ObjectPayment, authorization.ActionPaymentViewOwn), s.StreamPayments)
	api.GET("/payments/:id", s.RequireAction(authorization.ObjectPayment, authorization.ActionPaymentViewOwn), s.GetPayment)
	api.GET("/payments/:id/receipt", s.RequireAction(authorization.ObjectPayment, authorization.ActionPaymentViewOwn), s.DownloadReceipt)

	// -------- Credits --------
	api.GET("/credits/entries", s.RequireAction(authorization.ObjectCredit, authorization.ActionCreditView), s.ListCreditEntries)
	api.POST("/credits/consume", s.RequireAction(authorization.ObjectCredit, authorization.ActionCreditConsume), s.ConsumeCredit)

	// -------- Live --------
	api.GET("/live/ws", s.LiveWebsocket)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.AuthRequired())

	admin.POST("/payments/:id/approve", s.RequireAction(authorization.ObjectPayment, authorization.ActionPaymentApprove), s.ApprovePayment)
	admin.PATCH("/profiles/:uid/role", s.RequireAction(authorization.ObjectProfile, authorization.ActionProfileManage), s.SetProfileRole)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
