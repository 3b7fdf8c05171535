// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	appctx "lotpool/internal/core/context"
	"lotpool/internal/domain/accumulation"
	"lotpool/internal/infrastructure/http/v1/handlers"
	"lotpool/internal/infrastructure/http/v1/middleware"
	"lotpool/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	// Logger for request logging
	Logger *logger.Logger

	// Mode is the gin mode (debug, release, test). Defaults to release.
	Mode string

	// JWTValidator for token validation
	JWTValidator middleware.JWTValidator

	// HealthChecks probed by /health/ready
	HealthChecks map[string]handlers.HealthCheck

	Lots          handlers.LotReader
	Materializer  handlers.OrderMaterializer
	Reservations  handlers.ReservationService
	Notifications handlers.NotificationHandler

	// Anomalies backs payment reconciliation. Nil disables the endpoint.
	Anomalies accumulation.AnomalyReader

	// WebhookSecret verifies payment webhooks. Empty disables verification.
	WebhookSecret string

	// Idempotency store for mutating endpoints. Nil disables the middleware.
	Idempotency middleware.IdempotencyStore

	// CORSOrigins allowed for browser clients; CORSStrict refuses all when empty.
	CORSOrigins []string
	CORSStrict  bool
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	mode := cfg.Mode
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)

	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.CORS(cfg.CORSOrigins, cfg.CORSStrict))
	router.Use(middleware.Logger(log))
	router.Use(middleware.ErrorHandler())

	healthHandler := handlers.NewHealthHandler(cfg.HealthChecks)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
	}

	base := handlers.NewBaseHandler()

	v1 := router.Group("/api/v1")
	{
		// Payment processor callbacks authenticate by signature, not JWT.
		paymentHandler := handlers.NewPaymentHandler(base, cfg.Notifications, cfg.Anomalies, cfg.WebhookSecret)
		v1.POST("/webhooks/payments", paymentHandler.Webhook)

		protected := v1.Group("")
		protected.Use(middleware.Auth(cfg.JWTValidator))
		protected.Use(middleware.Idempotency(cfg.Idempotency))

		registerLotRoutes(protected, base, cfg)
		registerReservationRoutes(protected, base, cfg)

		if cfg.Anomalies != nil {
			protected.GET("/payments/:paymentId/anomalies", middleware.RequireRole(appctx.RoleAdmin), paymentHandler.Anomalies)
		}
	}

	return router
}

func registerLotRoutes(rg *gin.RouterGroup, base *handlers.BaseHandler, cfg RouterConfig) {
	h := handlers.NewLotHandler(base, cfg.Lots, cfg.Materializer)

	lots := rg.Group("/lots")
	lots.GET("/progress", h.Progress)
	lots.GET("/:id", h.Get)
	lots.POST("/:id/materialize", middleware.RequireRole(appctx.RoleAdmin), h.Materialize)
}

func registerReservationRoutes(rg *gin.RouterGroup, base *handlers.BaseHandler, cfg RouterConfig) {
	h := handlers.NewReservationHandler(base, cfg.Reservations)

	reservations := rg.Group("/reservations", middleware.RequireRole(appctx.RoleRetailer))
	reservations.POST("", h.Create)
	reservations.DELETE("/:id", h.Cancel)
	reservations.GET("", h.List)

	products := rg.Group("/products/:productId")
	products.GET("/reservation", middleware.RequireRole(appctx.RoleRetailer), h.Active)
	products.GET("/participation", middleware.RequireRole(appctx.RoleRetailer), h.Participation)
	products.GET("/zone-demand", middleware.RequireRole(appctx.RoleRetailer, appctx.RoleFactory), h.ZoneDemand)
}
