package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/tumblebus/internal/audit"
	auditdomain "github.com/smallbiznis/tumblebus/internal/audit/domain"
	"github.com/smallbiznis/tumblebus/internal/authorization"
	"github.com/smallbiznis/tumblebus/internal/catalog"
	"github.com/smallbiznis/tumblebus/internal/checkout"
	"github.com/smallbiznis/tumblebus/internal/checkout/gateways"
	"github.com/smallbiznis/tumblebus/internal/clock"
	"github.com/smallbiznis/tumblebus/internal/config"
	"github.com/smallbiznis/tumblebus/internal/enrollment"
	enrollmentdomain "github.com/smallbiznis/tumblebus/internal/enrollment/domain"
	"github.com/smallbiznis/tumblebus/internal/observability"
	obscontext "github.com/smallbiznis/tumblebus/internal/observability/context"
	obsmiddleware "github.com/smallbiznis/tumblebus/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/tumblebus/internal/observability/metrics"
	obstracing "github.com/smallbiznis/tumblebus/internal/observability/tracing"
	"github.com/smallbiznis/tumblebus/internal/payment"
	paymentdomain "github.com/smallbiznis/tumblebus/internal/payment/domain"
	"github.com/smallbiznis/tumblebus/internal/providers"
	"github.com/smallbiznis/tumblebus/internal/providers/pdf"
	"github.com/smallbiznis/tumblebus/internal/ratelimit"
	"github.com/smallbiznis/tumblebus/internal/reminder"
	reminderdomain "github.com/smallbiznis/tumblebus/internal/reminder/domain"
	"github.com/smallbiznis/tumblebus/internal/signup"
	signupdomain "github.com/smallbiznis/tumblebus/internal/signup/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	audit.Module,
	catalog.Module,
	enrollment.Module,
	gateways.Module,
	signup.Module,
	payment.Module,
	reminder.Module,
	ratelimit.Module,
	providers.Module,
	fx.Provide(NewServer),
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
	r.Use(httpMetrics.Middleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if obsCfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
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
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	clock         clock.Clock
	catalog       *catalog.Holder
	enrollmentSvc enrollmentdomain.Service
	signupSvc     signupdomain.Service
	paymentSvc    paymentdomain.Service
	gateway       checkout.Gateway
	reminderSvc   reminderdomain.Service
	pdf           pdf.Provider
	authzSvc      authorization.Service
	auditSvc      auditdomain.Service
	limiter       *ratelimit.Limiter
	staff         []staffCredential
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	Clock         clock.Clock
	Catalog       *catalog.Holder
	EnrollmentSvc enrollmentdomain.Service
	SignupSvc     signupdomain.Service
	PaymentSvc    paymentdomain.Service
	Gateway       checkout.Gateway
	ReminderSvc   reminderdomain.Service
	PDF           pdf.Provider
	AuthzSvc      authorization.Service
	AuditSvc      auditdomain.Service `optional:"true"`
	Limiter       *ratelimit.Limiter  `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("http"),
		clock:         clk,
		catalog:       p.Catalog,
		enrollmentSvc: p.EnrollmentSvc,
		signupSvc:     p.SignupSvc,
		paymentSvc:    p.PaymentSvc,
		gateway:       p.Gateway,
		reminderSvc:   p.ReminderSvc,
		pdf:           p.PDF,
		authzSvc:      p.AuthzSvc,
		auditSvc:      p.AuditSvc,
		limiter:       p.Limiter,
		staff:         newStaffCredentials(p.Cfg.StaffTokens),
	}

	svc.registerPublicRoutes()
	svc.registerStaffRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerPublicRoutes() {
	api := s.engine.Group("/api")

	api.GET("/catalog", s.GetCatalog)
	api.POST("/quote", s.QuoteCart)
	api.GET("/lookup", s.LookupRateLimit(), s.Lookup)

	// -------- Sign up wizard --------
	api.POST("/signup/sessions", s.StartSignup)
	session := api.Group("/signup/sessions/:id", tagParam(obscontext.TagSignupSessionID))
	session.GET("", s.GetSignup)
	session.PATCH("", s.UpdateSignup)
	session.POST("/next", s.NextSignupStep)
	session.POST("/back", s.BackSignupStep)
	session.POST("/confirm-trim", s.ConfirmSignupTrim)
	session.POST("/submit", s.SubmitSignup)

	// -------- Checkout --------
	api.GET("/checkout/verify", s.VerifyCheckout)
}

func (s *Server) registerStaffRoutes() {
	staff := s.engine.Group("/api/enrollments", s.StaffRequired())

	staff.GET("", s.authorize(authorization.ObjectEnrollment, authorization.ActionEnrollmentView), s.ListEnrollments)
	staff.POST("", s.authorize(authorization.ObjectEnrollment, authorization.ActionEnrollmentUpdate), s.CreateEnrollment)
	staff.Use(tagParam(obscontext.TagEnrollmentID))
	staff.GET("/:id", s.authorize(authorization.ObjectEnrollment, authorization.ActionEnrollmentView), s.GetEnrollment)
	staff.PATCH("/:id", s.authorize(authorization.ObjectEnrollment, authorization.ActionEnrollmentUpdate), s.UpdateEnrollment)
	staff.DELETE("/:id", s.authorize(authorization.ObjectEnrollment, authorization.ActionEnrollmentDelete), s.DeleteEnrollment)
	staff.POST("/:id/status", s.authorize(authorization.ObjectEnrollment, authorization.ActionEnrollmentStatus), s.ChangeEnrollmentStatus)
	staff.POST("/:id/review", s.authorize(authorization.ObjectEnrollment, authorization.ActionEnrollmentReview), s.ReviewEnrollment)

	staff.GET("/:id/receipt.pdf", s.authorize(authorization.ObjectEnrollment, authorization.ActionEnrollmentExport), s.EnrollmentReceipt)
	staff.GET("/:id/qr.png", s.authorize(authorization.ObjectEnrollment, authorization.ActionEnrollmentView), s.EnrollmentQR)

	staff.GET("/:id/reminders", s.authorize(authorization.ObjectReminder, authorization.ActionReminderView), s.ListReminders)
	staff.POST("/:id/reminders", s.authorize(authorization.ObjectReminder, authorization.ActionReminderSend), s.SendReminder)

	s.engine.GET("/api/audit-logs", s.StaffRequired(), s.authorize(authorization.ObjectAudit, authorization.ActionAuditView), s.ListAuditLogs)
}

// tagParam copies the :id path parameter into a request tag.
func tagParam(tag string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.Param("id"); id != "" {
			c.Set(tag, id)
		}
		c.Next()
	}
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/:provider", s.HandlePaymentWebhook)
}
