// Command server runs the UCP merchant API: discovery, API keys, carts,
// checkout sessions and signed webhook delivery over a SQLite store.
//
// @title                      UCP Shopping Agent API
// @version                    1.0
// @description                Universal Commerce Protocol merchant endpoints for shopping agents.
// @BasePath                   /ucp/v1
// @securityDefinitions.apikey ApiKeyAuth
// @in                         header
// @name                       X-UCP-API-Key
// @description                key_id:secret
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/ucp-shopping-agent/docs"
	"github.com/tbourn/ucp-shopping-agent/internal/commerce"
	"github.com/tbourn/ucp-shopping-agent/internal/config"
	httpapi "github.com/tbourn/ucp-shopping-agent/internal/http"
	"github.com/tbourn/ucp-shopping-agent/internal/observability"
	"github.com/tbourn/ucp-shopping-agent/internal/repo"
	"github.com/tbourn/ucp-shopping-agent/internal/services"
	"github.com/tbourn/ucp-shopping-agent/internal/signing"
	"github.com/tbourn/ucp-shopping-agent/internal/sysutil"
	"github.com/tbourn/ucp-shopping-agent/internal/webhooks"
)

// cartPurgeInterval is how often expired active carts are deleted.
const cartPurgeInterval = time.Hour

func main() {
	// A missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	setupLogging(cfg)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("server stopped")
}

func setupLogging(cfg config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339
	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = log.With().Str("service", sysutil.FirstNonEmpty(cfg.OTEL.ServiceName, "ucp-shopping-agent")).Logger()
}

func run(ctx context.Context, cfg config.Config) error {
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, cfg.AppVersion)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			return fmt.Errorf("gorm tracing: %w", err)
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	keyCache, closeCache, err := newKeyCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	if err := bootstrapAdmin(ctx, cfg, services.NewKeyService(db, keyCache)); err != nil {
		return fmt.Errorf("bootstrap admin key: %w", err)
	}

	signer := signing.NewManager(db, log.With().Str("component", "signing").Logger())
	if err := signer.EnsureKey(ctx); err != nil {
		// Deliveries still carry the HMAC signature.
		log.Error().Err(err).Msg("ed25519 signing unavailable")
	}

	catalog, orders, err := newCommerce(cfg)
	if err != nil {
		return err
	}

	// Webhook pipeline: dispatcher → sender → dead letters ← sweeper
	hookLog := log.With().Str("component", "webhooks").Logger()
	sender := webhooks.NewSender(cfg.Webhook.Timeout, hookLog)
	sender.MaxRetries = cfg.Webhook.MaxRetries
	sender.RetryDelay = cfg.Webhook.RetryDelay
	sender.APIVersion = cfg.UCPVersion
	sender.Source = cfg.Webhook.Source
	sender.UserAgent = "UCP-Shopping-Agent/" + cfg.AppVersion
	sender.Signer = signer
	sender.DeadLetters = &webhooks.DBDeadLetters{DB: db, Cap: cfg.Webhook.DeadLetterCap, Log: hookLog}
	dispatcher := webhooks.NewDispatcher(db, sender, hookLog)

	sweeper := webhooks.NewSweeper(db, sender, hookLog)
	sweeper.Interval = cfg.Webhook.SweepInterval
	sweeper.MaxAge = cfg.Webhook.MaxAge
	sweeper.MaxAttempts = cfg.Webhook.MaxAttempts
	go sweeper.Run(ctx)

	carts := services.NewCartService(db, catalog, nil, cfg.Merchant.Currency)
	go purgeCarts(ctx, carts, cartPurgeInterval)

	docs.SwaggerInfo.BasePath = cfg.APIBasePath
	docs.SwaggerInfo.Version = cfg.AppVersion

	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:       db,
		Catalog:  catalog,
		Orders:   orders,
		Events:   dispatcher,
		Signing:  signer,
		KeyCache: keyCache,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("base_path", cfg.APIBasePath).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	// In-flight deliveries finish or land in the dead-letter table.
	if err := dispatcher.Wait(sctx); err != nil {
		log.Warn().Err(err).Msg("webhook deliveries still running at shutdown")
	}
	return nil
}

// newKeyCache returns the Redis cache when REDIS_URL is set, otherwise an
// in-process cache. A zero TTL disables caching.
func newKeyCache(ctx context.Context, cfg config.Config) (services.KeyCache, func(), error) {
	if cfg.APIKeyCacheTTL <= 0 {
		return nil, func() {}, nil
	}
	if cfg.RedisURL == "" {
		return services.NewMemoryKeyCache(cfg.APIKeyCacheTTL), func() {}, nil
	}
	client, err := services.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	log.Info().Msg("api key cache backed by redis")
	return services.NewRedisKeyCache(client, cfg.APIKeyCacheTTL), func() { closeRedis(client) }, nil
}

func closeRedis(c *redis.Client) {
	if err := c.Close(); err != nil {
		log.Warn().Err(err).Msg("redis close")
	}
}

// bootstrapAdmin mints the first admin key on an empty key table. The
// credential is printed once to stderr and never logged.
func bootstrapAdmin(ctx context.Context, cfg config.Config, keys *services.KeyService) error {
	if cfg.BootstrapAdminOwner == "" {
		return nil
	}
	k, secret, created, err := keys.EnsureBootstrapAdmin(ctx, cfg.BootstrapAdminOwner)
	if err != nil || !created {
		return err
	}
	log.Warn().Str("key_id", k.KeyID).Str("owner", k.Owner).Msg("bootstrap admin key created")
	fmt.Fprintf(os.Stderr, "\nbootstrap admin credential (shown once): %s:%s\n\n", k.KeyID, secret)
	return nil
}

// newCommerce selects the remote commerce API or the in-memory store.
func newCommerce(cfg config.Config) (commerce.Catalog, commerce.OrderStore, error) {
	if cfg.Commerce.BaseURL != "" {
		c := commerce.NewClient(cfg.Commerce.BaseURL, cfg.Commerce.Timeout)
		return c, c, nil
	}
	var (
		m   *commerce.Memory
		err error
	)
	if cfg.Commerce.CatalogSeedPath != "" {
		if m, err = commerce.LoadMemory(cfg.Commerce.CatalogSeedPath); err != nil {
			return nil, nil, err
		}
	} else {
		m = commerce.NewMemory()
	}
	m.PaymentURLBase = cfg.Merchant.URL
	log.Warn().Str("seed", cfg.Commerce.CatalogSeedPath).Msg("using in-memory catalog and order store")
	return m, m, nil
}

// purgeCarts deletes expired active carts every interval until ctx is done.
func purgeCarts(ctx context.Context, carts *services.CartService, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := carts.PurgeExpired(ctx)
			if err != nil {
				log.Error().Err(err).Msg("cart purge failed")
				continue
			}
			if n > 0 {
				log.Info().Int64("purged", n).Msg("expired carts purged")
			}
		}
	}
}
