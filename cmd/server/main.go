package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	billingapp "github.com/userstack/backend/internal/application/billing"
	identityapp "github.com/userstack/backend/internal/application/identity"
	"github.com/userstack/backend/internal/domain/entitlement"
	"github.com/userstack/backend/internal/domain/identity"
	"github.com/userstack/backend/internal/domain/shared"
	"github.com/userstack/backend/internal/infrastructure/auth"
	infrabilling "github.com/userstack/backend/internal/infrastructure/billing"
	"github.com/userstack/backend/internal/infrastructure/cache"
	"github.com/userstack/backend/internal/infrastructure/config"
	"github.com/userstack/backend/internal/infrastructure/event"
	"github.com/userstack/backend/internal/infrastructure/logger"
	"github.com/userstack/backend/internal/infrastructure/persistence"
	"github.com/userstack/backend/internal/infrastructure/scheduler"
	"github.com/userstack/backend/internal/infrastructure/session"
	"github.com/userstack/backend/internal/interfaces/http/handler"
	"github.com/userstack/backend/internal/interfaces/http/middleware"
	"github.com/userstack/backend/internal/interfaces/http/router"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting Userstack backend",
		zap.String("mode", cfg.Server.Mode),
		zap.String("addr", cfg.Server.Addr()),
	)

	// Initialize database connection
	db, err := persistence.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()

	if err := db.Migrate(); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}
	if err := persistence.SeedDefaultPlans(context.Background(), db.DB); err != nil {
		log.Fatal("Failed to seed plans", zap.Error(err))
	}
	log.Info("Database ready", zap.String("driver", cfg.Database.Driver))

	// Optional Redis backing for sessions, idempotency, and flag fanout
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		cancel()
		defer redisClient.Close()
		log.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
	}

	// Initialize repositories
	groupRepo := persistence.NewGormGroupRepository(db.DB)
	userRepo := persistence.NewGormUserRepository(db.DB)
	planRepo := persistence.NewGormPlanRepository(db.DB)
	planFeatureRepo := persistence.NewGormPlanFeatureRepository(db.DB)
	subscriptionRepo := persistence.NewGormSubscriptionRepository(db.DB)

	// Event bus
	eventBus := event.NewInMemoryEventBus(log)

	// Session store
	var sessionStore identity.SessionStore
	if redisClient != nil {
		sessionStore = session.NewRedisStore(redisClient, session.WithRedisStoreLogger(log))
	} else {
		sessionStore = session.NewInMemoryStore(cfg.Session.SweepInterval, session.WithInMemoryStoreLogger(log))
	}
	defer sessionStore.Close()

	// Entitlement engine behind a read-through flag cache
	engine := entitlement.NewEngine(groupRepo, planFeatureRepo, entitlement.WithEngineLogger(log))
	var flagCache entitlement.FlagCache = cache.NewFlagCache(engine, cfg.Flags.CacheTTL, cache.WithFlagCacheLogger(log))
	if redisClient != nil {
		flagCache = cache.NewInvalidationFanout(flagCache, redisClient, cache.WithFanoutLogger(log))
	}
	defer flagCache.Close()

	// Idempotency store for webhook events
	var idempotencyStore shared.IdempotencyStore
	if redisClient != nil {
		idempotencyStore = cache.NewRedisIdempotencyStore(redisClient)
	} else {
		idempotencyStore = cache.NewInMemoryIdempotencyStore(log)
	}
	defer idempotencyStore.Close()

	// Token verification against the identity provider's published keys
	jwks := auth.NewJWKSCache(cfg.Auth.JWKSURL, cfg.Auth.FetchTimeout, auth.WithJWKSLogger(log))
	verifier := auth.NewTokenVerifier(cfg.Auth.Issuer, cfg.Auth.Audience, jwks,
		auth.WithClockSkew(cfg.Auth.ClockSkew),
		auth.WithVerifierLogger(log),
	)

	// Application services
	identifyService := identityapp.NewIdentifyService(identityapp.IdentifyServiceConfig{
		Verifier:   verifier,
		Users:      userRepo,
		Groups:     groupRepo,
		Sessions:   sessionStore,
		Flags:      flagCache,
		EventBus:   eventBus,
		SessionTTL: cfg.Session.TTL,
		Logger:     log,
	})

	// Checkout is only wired when Stripe credentials are configured;
	// without them the upgrade endpoint is not registered.
	var upgradeService *billingapp.UpgradeService
	if cfg.Billing.StripeSecretKey != "" {
		stripeConfig := &infrabilling.StripeConfig{
			SecretKey:     cfg.Billing.StripeSecretKey,
			WebhookSecret: cfg.Billing.StripeWebhookSecret,
			IsTestMode:    strings.HasPrefix(cfg.Billing.StripeSecretKey, "sk_test"),
			SuccessURL:    cfg.Billing.SuccessURL,
			CancelURL:     cfg.Billing.CancelURL,
		}
		stripeAdapter, err := infrabilling.NewStripeAdapter(stripeConfig, log)
		if err != nil {
			log.Fatal("Failed to initialize Stripe", zap.Error(err))
		}
		upgradeService = billingapp.NewUpgradeService(billingapp.UpgradeServiceConfig{
			Groups:        groupRepo,
			Users:         userRepo,
			Plans:         planRepo,
			Subscriptions: subscriptionRepo,
			Checkout:      stripeAdapter,
			EventBus:      eventBus,
			Logger:        log,
		})
	} else {
		log.Warn("Stripe not configured, plan upgrades are disabled")
	}

	reconciler := billingapp.NewReconciler(billingapp.ReconcilerConfig{
		Groups:           groupRepo,
		Subscriptions:    subscriptionRepo,
		IdempotencyStore: idempotencyStore,
		FlagCache:        flagCache,
		EventBus:         eventBus,
		Logger:           log,
	})

	normalizer := infrabilling.NewWebhookNormalizer(cfg.Billing.StripeWebhookSecret, log)

	// Expire upgrade intents whose checkout never completed
	sweeper := scheduler.NewPendingUpgradeSweeper(scheduler.PendingUpgradeSweeperConfig{
		Subscriptions: subscriptionRepo,
		EventBus:      eventBus,
		Window:        cfg.Billing.PendingWindow,
		Interval:      cfg.Billing.SweepInterval,
		Logger:        log,
	})
	sweeper.Start()
	defer sweeper.Stop()

	// HTTP surface
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	ginEngine := gin.New()
	ginEngine.Use(middleware.RequestID())
	ginEngine.Use(logger.Recovery(log))
	ginEngine.Use(logger.GinMiddleware(log))
	ginEngine.Use(middleware.CORS())

	r := router.NewRouter(ginEngine, router.WithAPIVersion("v1"))
	r.Register(handler.NewSessionHandler(identifyService))
	if upgradeService != nil {
		r.Register(handler.NewUpgradeHandler(identifyService, upgradeService))
	}
	r.RegisterDirect(handler.NewWebhookHandler(normalizer, reconciler))
	r.RegisterDirect(handler.NewSystemHandler(db))
	r.Setup()

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      ginEngine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}
