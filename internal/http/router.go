// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// rate limiting, CORS, compression and security headers.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Credentials never reach the logs
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/ucp-shopping-agent/internal/commerce"
	"github.com/tbourn/ucp-shopping-agent/internal/config"
	"github.com/tbourn/ucp-shopping-agent/internal/domain"
	"github.com/tbourn/ucp-shopping-agent/internal/http/handlers"
	"github.com/tbourn/ucp-shopping-agent/internal/http/middleware"
	"github.com/tbourn/ucp-shopping-agent/internal/services"
	"github.com/tbourn/ucp-shopping-agent/internal/signing"
)

// Deps are the collaborators RegisterRoutes builds services from.
type Deps struct {
	DB       *gorm.DB
	Catalog  commerce.Catalog
	Orders   commerce.OrderStore
	Events   services.EventPublisher
	Signing  *signing.Manager
	KeyCache services.KeyCache // nil disables caching
}

// corsHeaders are the request headers browsers may send cross-origin.
var corsHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.APIKeyHeader}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), rate limiting,
// CORS, compression and security headers, health, metrics and docs
// endpoints, the discovery document, and then mounts the versioned API under
// cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with credential scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Rate limiter per client IP, before authentication (a second, per-key
//     limiter runs after RequireAPIKey on every API route)
//  8. CORS, gzip and security headers
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{middleware.APIKeyHeader},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter per client IP; the per-key bucket is
	// charged after authentication below.
	ipLimit := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByIP())
	r.Use(ipLimit.Handler())

	// 8) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Retry-After"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Retry-After"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Compress JSON responses; /metrics negotiates its own encoding.
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/commerce
	checkout := services.NewCheckoutService(deps.DB, deps.Catalog, deps.Orders, deps.Events, cfg.Merchant.Currency)
	checkout.PaymentHandlers = cfg.Commerce.PaymentHandlers
	if cfg.CheckoutTTL > 0 {
		checkout.TTL = cfg.CheckoutTTL
	}
	carts := services.NewCartService(deps.DB, deps.Catalog, checkout, cfg.Merchant.Currency)
	if cfg.CartTTL > 0 {
		carts.TTL = cfg.CartTTL
	}

	h := handlers.New(handlers.Services{
		Carts:       carts,
		Checkouts:   checkout,
		Orders:      services.NewOrderService(deps.Orders),
		Keys:        services.NewKeyService(deps.DB, deps.KeyCache),
		Webhooks:    services.NewWebhookService(deps.DB),
		OrderEvents: services.NewOrderEventService(deps.Events),
		Signing:     deps.Signing,
	}, handlers.Info{
		Version:          cfg.UCPVersion,
		BasePath:         cfg.APIBasePath,
		PublicURL:        cfg.Merchant.URL,
		MerchantName:     cfg.Merchant.Name,
		Currency:         cfg.Merchant.Currency,
		CurrencyDecimals: cfg.CurrencyDecimals(),
		Locale:           cfg.Merchant.Locale,
		RateRPS:          cfg.RateRPS,
		RateBurst:        cfg.RateBurst,
		PaymentHandlers:  cfg.Commerce.PaymentHandlers,
	})

	auth := services.NewAuthenticator(deps.DB, deps.KeyCache)
	keyLimit := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByPrincipal()).Handler()

	// Well-known discovery lives outside the versioned base.
	r.GET("/.well-known/ucp", middleware.RequireAPIKey(auth, domain.PermRead), keyLimit, h.Discovery)

	api := groupWithPrefix(r, cfg.APIBasePath)

	// Discovery and signing keys (anonymous read allowed)
	public := api.Group("", middleware.RequireAPIKey(auth, domain.PermRead), keyLimit)
	{
		public.GET("/discovery", h.Discovery)
		public.GET("/signing-keys", h.SigningKeys)
	}

	read := api.Group("", middleware.RequireKey(auth, domain.PermRead), keyLimit)
	{
		read.GET("/auth/verify", h.VerifyKey)
	}

	write := api.Group("", middleware.RequireAPIKey(auth, domain.PermWrite), keyLimit)
	{
		// Carts
		write.POST("/carts", h.CreateCart)
		write.GET("/carts/:id", h.GetCart)
		write.DELETE("/carts/:id", h.DeleteCart)
		write.POST("/carts/:id/items", h.AddCartItem)
		write.PUT("/carts/:id/items/:item_key", h.UpdateCartItem)
		write.PATCH("/carts/:id/items/:item_key", h.UpdateCartItem)
		write.DELETE("/carts/:id/items/:item_key", h.RemoveCartItem)
		write.POST("/carts/:id/checkout", h.CheckoutCart)

		// Checkout sessions
		write.POST("/checkout/sessions", h.CreateCheckout)
		write.GET("/checkout/sessions/:id", h.GetCheckout)
		write.PATCH("/checkout/sessions/:id", h.UpdateCheckout)
		write.PUT("/checkout/sessions/:id", h.UpdateCheckout)
		write.POST("/checkout/sessions/:id/complete", h.CompleteCheckout)
		write.POST("/checkout/sessions/:id/confirm", h.CompleteCheckout)

		// Orders placed through checkout
		write.GET("/orders/:id", h.GetOrder)

		// Webhooks
		write.GET("/webhooks", h.ListWebhooks)
		write.POST("/webhooks", h.CreateWebhook)
		write.DELETE("/webhooks/:id", h.DeleteWebhook)
	}

	admin := api.Group("", middleware.RequireAPIKey(auth, domain.PermAdmin), keyLimit)
	{
		admin.POST("/signing-keys/rotate", h.RotateSigningKey)

		// API keys
		admin.GET("/auth/keys", h.ListKeys)
		admin.POST("/auth/keys", h.CreateKey)
		admin.DELETE("/auth/keys/:id", h.DeleteKey)

		admin.GET("/webhooks/failed", h.FailedWebhooks)

		// Order lifecycle ingestion
		admin.POST("/order-events", h.IngestOrderEvent)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
