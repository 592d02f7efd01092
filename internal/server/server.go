package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/appointly/internal/authorization"
	"github.com/smallbiznis/appointly/internal/booking"
	bookingdomain "github.com/smallbiznis/appointly/internal/booking/domain"
	"github.com/smallbiznis/appointly/internal/booking/lifecycle"
	"github.com/smallbiznis/appointly/internal/business"
	"github.com/smallbiznis/appointly/internal/config"
	"github.com/smallbiznis/appointly/internal/invoice"
	invoicedomain "github.com/smallbiznis/appointly/internal/invoice/domain"
	"github.com/smallbiznis/appointly/internal/notification"
	"github.com/smallbiznis/appointly/internal/observability"
	obsmiddleware "github.com/smallbiznis/appointly/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/appointly/internal/observability/metrics"
	obstracing "github.com/smallbiznis/appointly/internal/observability/tracing"
	"github.com/smallbiznis/appointly/internal/payment"
	paymentdomain "github.com/smallbiznis/appointly/internal/payment/domain"
	"github.com/smallbiznis/appointly/internal/providers"
	"github.com/smallbiznis/appointly/internal/ratelimit"
	"github.com/smallbiznis/appointly/internal/verification"
	verificationdomain "github.com/smallbiznis/appointly/internal/verification/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	business.Module,
	booking.Module,
	invoice.Module,
	payment.Module,
	providers.Module,
	notification.Module,
	verification.Module,
	ratelimit.Module,
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
	r.Use(obstracing.GinMiddleware(obstracing.MiddlewareConfig{UntracedPaths: obsCfg.UntracedPaths}))
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
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
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	authzSvc        authorization.Service
	bookingSvc      bookingdomain.Service
	dispatcher      *lifecycle.Dispatcher
	invoiceSvc      invoicedomain.Service
	paymentSvc      paymentdomain.Service
	webhookSvc      paymentdomain.WebhookService
	verificationSvc verificationdomain.Service
	limiter         *ratelimit.Limiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	AuthzSvc        authorization.Service
	BookingSvc      bookingdomain.Service
	Dispatcher      *lifecycle.Dispatcher
	InvoiceSvc      invoicedomain.Service
	PaymentSvc      paymentdomain.Service
	WebhookSvc      paymentdomain.WebhookService
	VerificationSvc verificationdomain.Service
	Limiter         *ratelimit.Limiter  `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		authzSvc:        p.AuthzSvc,
		bookingSvc:      p.BookingSvc,
		dispatcher:      p.Dispatcher,
		invoiceSvc:      p.InvoiceSvc,
		paymentSvc:      p.PaymentSvc,
		webhookSvc:      p.WebhookSvc,
		verificationSvc: p.VerificationSvc,
		limiter:         p.Limiter,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/", ActorFromHeaders(), CredentialCache())

	// -------- Bookings --------
	bookings := api.Group("/bookings", RequireActor())
	bookings.POST("", s.CreateBooking)
	bookings.GET("/:id", s.GetBooking)
	bookings.POST("/:id/events", s.DispatchBookingEvent)
	bookings.POST("/:id/invoice", s.CreateBookingInvoice)

	// -------- Invoices (payer facing) --------
	invoices := api.Group("/invoices")
	invoices.GET("/public/:id", s.GetPublicInvoice)
	invoices.GET("/public/:id/receipt.pdf", s.GetInvoiceReceipt)
	invoices.GET("/:id/payment-intent", s.RateLimit(ratelimit.ScopeIntent), s.CreatePaymentIntent)
	invoices.POST("/:id/payment-intent", s.ConfirmPaymentIntent)
	invoices.GET("/:id/setup-intent", s.RateLimit(ratelimit.ScopeIntent), s.CreateSetupIntent)
	invoices.POST("/:id/setup-intent", s.ConfirmSetupIntent)

	// -------- Invoices (staff) --------
	invoices.POST("/:id/capture", RequireActor(), s.CaptureAuthorizedPayment)
	invoices.POST("/:id/release", RequireActor(), s.ReleaseInvoice)
	invoices.POST("/:id/cancel", RequireActor(), s.CancelInvoice)

	api.POST("/payments/:id/refund", RequireActor(), s.RefundPayment)

	// -------- Processor callbacks --------
	api.POST("/webhooks/payments", s.HandlePaymentWebhook)

	// -------- Email verification --------
	verify := api.Group("/verify", RequireActor(), s.RateLimit(ratelimit.ScopeOTP))
	verify.POST("", s.VerifyEmail)
	verify.POST("/resend", s.ResendVerification)
	verify.POST("/send", s.SendVerification)
}

// authorize checks the request actor against businessID and aborts on failure.
func (s *Server) authorize(c *gin.Context, businessID, object, action string) bool {
	err := s.authzSvc.Authorize(c.Request.Context(), actorFrom(c), businessID, object, action)
	if err != nil {
		AbortWithError(c, err)
		return false
	}
	return true
}
