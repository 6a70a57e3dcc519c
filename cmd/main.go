/**
 * @description
 * This is the main entry point for the settlement-service. It loads configuration,
 * opens the ledger store, connects the optional infrastructure (Redis, RabbitMQ),
 * builds the wallet, rail and pricing components, and serves the HTTP API until
 * SIGINT or SIGTERM.
 *
 * @dependencies
 * - github.com/joho/godotenv: .env loading for local development.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: rate limiter and price cache backend.
 * - internal/api, internal/app, internal/config, internal/store: service packages.
 * - pkg/rabbitmq, pkg/realtime, pkg/checkoutclient, pkg/priceclient, pkg/evmrpc, pkg/walletbridge.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rapidfund/settlement-service/internal/api"
	"github.com/rapidfund/settlement-service/internal/app"
	"github.com/rapidfund/settlement-service/internal/assets"
	"github.com/rapidfund/settlement-service/internal/config"
	"github.com/rapidfund/settlement-service/internal/domain"
	"github.com/rapidfund/settlement-service/internal/pricing"
	"github.com/rapidfund/settlement-service/internal/rail"
	"github.com/rapidfund/settlement-service/internal/store"
	"github.com/rapidfund/settlement-service/internal/wallet"
	"github.com/rapidfund/settlement-service/pkg/checkoutclient"
	"github.com/rapidfund/settlement-service/pkg/evmrpc"
	"github.com/rapidfund/settlement-service/pkg/priceclient"
	rmrabbit "github.com/rapidfund/settlement-service/pkg/rabbitmq"
	"github.com/rapidfund/settlement-service/pkg/realtime"
	"github.com/rapidfund/settlement-service/pkg/walletbridge"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	log.Printf("level=info component=bootstrap msg=\"starting settlement-service\" port=%s store=%s", cfg.ServerPort, cfg.StoreDriver)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	table := assets.Default()
	if path := strings.TrimSpace(cfg.AssetTablePath); path != "" {
		table, err = assets.Load(path)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"asset table load failed\" path=%s err=%v", path, err)
		}
	}

	var repository store.Repository
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		log.Println("level=warn component=bootstrap msg=\"using in-memory store; data is lost on restart\"")
		repository = store.NewMemoryRepository()
	default:
		dbpool := connectPostgres(cfg)
		defer dbpool.Close()
		if cfg.RunMigration {
			migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), time.Minute)
			if err := store.RunMigrations(migrateCtx, dbpool); err != nil {
				cancelMigrate()
				log.Fatalf("level=fatal component=bootstrap msg=\"migrations failed\" err=%v", err)
			}
			cancelMigrate()
			log.Println("level=info component=bootstrap msg=\"migrations applied\"")
		}
		repository = store.NewPostgresRepository(dbpool)
	}

	redisClient := connectRedis(cfg)
	if redisClient != nil {
		defer redisClient.Close()
	}

	var events rmrabbit.Publisher = &rmrabbit.EventProducerFallback{}
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
	} else {
		defer rabbitProducer.Close()
		events = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	allowed := cfg.AllowedOrigins()
	hub := realtime.NewHub(realtime.Options{CheckOrigin: originChecker(allowed)})
	defer hub.Close()

	priceTTL := time.Duration(cfg.PriceCacheTTLSeconds) * time.Second
	oracleOpts := pricing.Options{
		Assets: table,
		Source: priceclient.NewClient(cfg.PriceAPIBaseURL, cfg.PriceAPIKey),
		Fiat:   cfg.PriceFiatCurrency,
		TTL:    priceTTL,
	}
	if redisClient != nil {
		oracleOpts.Cache = pricing.NewRedisCache(redisClient, cfg.RedisKeyPrefix+":price", priceTTL)
	}
	oracle := pricing.NewOracle(oracleOpts)

	registry := wallet.NewRegistry()
	if url := strings.TrimSpace(cfg.EVMRPCURL); url != "" {
		registry.Register(wallet.NewEVMProvider(evmrpc.NewClient(url)))
	}
	if url := strings.TrimSpace(cfg.SolanaBridgeURL); url != "" {
		registry.Register(wallet.NewBridgeProvider(domain.ChainSolana, walletbridge.NewClient(url)))
	}
	log.Printf("level=info component=bootstrap msg=\"wallet providers registered\" families=%v", registry.Families())

	ledger := app.NewLedger(repository, oracle, table, events, cfg.EventsExchange)
	if rmrabbit.IsFallback(events) {
		ledger.UseLocalFeed(hub)
	}

	treasury := map[domain.ChainFamily]string{}
	if addr := strings.TrimSpace(cfg.TreasuryEVMAddress); addr != "" {
		treasury[domain.ChainEVM] = addr
	}
	if addr := strings.TrimSpace(cfg.TreasurySolanaAddress); addr != "" {
		treasury[domain.ChainSolana] = addr
	}
	settler := app.NewSettler(ledger, oracle, rail.NewVerifier(registry, table), wallet.NewManager(registry), rail.NewAdapter(table), app.SettlerOptions{
		Treasury:        treasury,
		VerifyDonations: cfg.VerifyCryptoDonations,
		TreasuryWallet:  cfg.TreasuryWalletEnabled,
	})

	var checkout *app.Checkout
	if strings.TrimSpace(cfg.CheckoutSecretKey) == "" {
		log.Println("level=warn component=bootstrap msg=\"checkout secret key missing; card payments disabled\" env=CHECKOUT_SECRET_KEY")
	} else {
		checkout = app.NewCheckout(checkoutclient.NewClient(cfg.CheckoutAPIBaseURL, cfg.CheckoutSecretKey), ledger, events, app.CheckoutOptions{
			SiteURL:       cfg.PublicSiteURL,
			Currency:      cfg.CheckoutCurrency,
			WebhookSecret: cfg.CheckoutWebhookSecret,
			Exchange:      cfg.EventsExchange,
		})
	}

	if !rmrabbit.IsFallback(events) {
		rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
		}
		defer rabbitConsumer.Close()

		if checkout != nil {
			checkoutConsumer := app.NewCheckoutEventConsumer(checkout)
			if err := rabbitConsumer.ConsumeWithBindings(cfg.EventsExchange, cfg.CheckoutEventQueue, map[string]rmrabbit.Handler{
				domain.EventCheckoutSessionComplete: checkoutConsumer.HandleMessage,
			}); err != nil {
				log.Fatalf("level=fatal component=bootstrap msg=\"checkout consumer start failed\" err=%v", err)
			}
		}

		// Every instance relays donations to its own websocket subscribers.
		feedRelay := app.NewFeedRelay(hub)
		if err := rabbitConsumer.ConsumeWithBindings(cfg.EventsExchange, cfg.FeedEventQueue, map[string]rmrabbit.Handler{
			domain.EventDonationRecorded: feedRelay.HandleMessage,
		}); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"feed relay start failed\" err=%v", err)
		}
	}

	var limiter app.RateLimiter = app.NewMemoryRateLimiter()
	if redisClient != nil {
		limiter = app.NewRedisRateLimiter(redisClient, cfg.RedisKeyPrefix)
	}

	jobs := app.NewJobs(ledger, oracle, logger)
	scheduler := app.NewScheduler(jobs, logger, app.Schedules{
		Reconcile:    cfg.ReconcileSchedule,
		PriceRefresh: cfg.PriceRefreshSchedule,
	})
	scheduled := scheduler.Start()
	logger.Info("scheduler started", "jobs", scheduled)

	handlers := api.NewHandlers(api.Deps{
		Ledger:                 ledger,
		Settler:                settler,
		Checkout:               checkout,
		Oracle:                 oracle,
		Limiter:                limiter,
		Feed:                   hub,
		DonationLimitPerMinute: cfg.DonationRateLimitPerMinute,
	})
	auth := api.NewAuthenticator(api.AuthOptions{
		Secret:   cfg.JWTSecret,
		JWKSURL:  cfg.JWKSURL,
		Audience: cfg.JWTAudience,
		Issuer:   cfg.JWTIssuer,
	})
	if !auth.Enabled() {
		log.Println("level=warn component=bootstrap msg=\"no JWT_SECRET or JWKS_URL; authenticated routes will reject every request\"")
	}
	router := api.NewRouter(handlers, auth, ledger, api.RouterOptions{AllowedOrigins: allowed})

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}
	select {
	case <-scheduler.Stop().Done():
	case <-ctx.Done():
		log.Println("level=warn component=scheduler msg=\"jobs still running at shutdown\"")
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}

func connectPostgres(cfg config.Config) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	var dbpool *pgxpool.Pool
	for attempt := 1; attempt <= 5; attempt++ {
		dbpool, err = pgxpool.NewWithConfig(context.Background(), poolConfig)
		if err == nil {
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			err = dbpool.Ping(pingCtx)
			cancelPing()
			if err == nil {
				log.Println("level=info component=bootstrap msg=\"database connected\"")
				return dbpool
			}
			dbpool.Close()
		}
		log.Printf("level=warn component=bootstrap msg=\"database connection failed; retrying\" attempt=%d err=%v", attempt, err)
		time.Sleep(time.Duration(attempt) * time.Second)
	}
	log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	return nil
}

// connectRedis returns nil when Redis is not configured or unreachable; callers
// fall back to in-process state.
func connectRedis(cfg config.Config) *redis.Client {
	if cfg.RedisURL == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; using in-process rate limiting and price cache\" env=REDIS_URL")
		return nil
	}
	redisOptions, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; redis disabled\" err=%v", err)
		return nil
	}
	client := redis.NewClient(redisOptions)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis ping failed; redis disabled\" err=%v", err)
		client.Close()
		return nil
	}
	log.Println("level=info component=bootstrap msg=\"redis connected\"")
	return client
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, candidate := range allowed {
			if candidate == "*" || strings.EqualFold(candidate, origin) {
				return true
			}
		}
		return false
	}
}
