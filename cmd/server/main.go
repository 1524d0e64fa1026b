package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"pharmaflow/backend/internal/billing"
	"pharmaflow/backend/internal/cache"
	"pharmaflow/backend/internal/config"
	"pharmaflow/backend/internal/events"
	"pharmaflow/backend/internal/httpapi"
	"pharmaflow/backend/internal/logging"
	"pharmaflow/backend/internal/metrics"
	"pharmaflow/backend/internal/otp"
	"pharmaflow/backend/internal/service"
	"pharmaflow/backend/internal/store"
	"pharmaflow/backend/internal/store/memory"
	"pharmaflow/backend/internal/store/mongostore"
	pgstore "pharmaflow/backend/internal/store/postgres"
	"pharmaflow/backend/internal/store/seed"
	"pharmaflow/backend/internal/store/sqlite"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger, err := logging.New(cfg.Logger)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 4)

	repo, closeRepo, err := openRepository(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("open repository", zap.String("driver", cfg.Database.ResolveDriver()), zap.Error(err))
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	analyticsCache := cache.AnalyticsCache(cache.NoopAnalyticsCache{})
	var resetStore otp.Store = otp.NewMemoryStore()
	if cfg.Redis.Addr != "" {
		client := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		redisCache := cache.NewRedisAnalyticsCache(client)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using noop cache and in-process reset codes", zap.Error(err))
			_ = client.Close()
		} else {
			analyticsCache = redisCache
			resetStore = otp.NewRedisStore(client)
			closers = append(closers, client.Close)
			logger.Info("cache: redis", zap.String("addr", cfg.Redis.Addr))
		}
	} else {
		logger.Info("cache: noop")
	}

	publisher := events.Publisher(events.NoopPublisher{})
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.BillsTopic)
		publisher = kafkaPublisher
		closers = append(closers, kafkaPublisher.Close)
		logger.Info("events: kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.BillsTopic))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	engine := billing.New(repo, repo, billing.Options{
		Logger:       logger,
		Timeout:      cfg.Billing.CheckoutTimeout,
		OnTransition: func(phase billing.Phase) { m.ObservePhase(string(phase)) },
	})
	svc := service.New(repo, engine, service.Options{
		Cache:             analyticsCache,
		Publisher:         publisher,
		Metrics:           m,
		Logger:            logger,
		LowStockThreshold: cfg.Inventory.LowStockThreshold,
		AnalyticsTTL:      cfg.Reporting.AnalyticsTTL,
	})

	resets := otp.NewManager(resetStore, otp.LogSender{Logger: logger}, otp.Options{
		TTL:    time.Duration(cfg.Auth.OTPTTLMinutes) * time.Minute,
		Logger: logger,
	})
	auth := httpapi.NewAuthManager(cfg.Auth.Secret, time.Duration(cfg.Auth.AccessTokenTTLMinutes)*time.Minute, cfg.Auth.AdminPIN, repo, resets, logger)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:  cfg.Server.AllowedOrigin,
		Logger:         logger,
		Metrics:        m,
		MetricsHandler: metrics.Handler(registry),
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("pharmacy backend listening", zap.String("addr", cfg.Address()), zap.String("env", cfg.Server.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

// openRepository connects the configured backend and seeds demo data when
// enabled. The returned close func is nil for the in-memory store.
func openRepository(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (store.Repository, func() error, error) {
	var (
		repo    store.Repository
		closeFn func() error
	)

	switch driver := cfg.ResolveDriver(); driver {
	case config.DriverMemory:
		repo = memory.New()
	case config.DriverPostgres:
		if cfg.URL == "" {
			return nil, nil, errors.New("DATABASE_URL is required for the postgres driver")
		}
		pg, err := pgstore.New(ctx, cfg.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable: %w", err)
		}
		repo, closeFn = pg, pg.Close
	case config.DriverSQLite:
		path := cfg.SQLitePath
		if path == "" {
			path = "pharmaflow.db"
		}
		lite, err := sqlite.New(ctx, path)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite unavailable: %w", err)
		}
		repo, closeFn = lite, lite.Close
	case config.DriverMongo:
		if cfg.MongoURI == "" {
			return nil, nil, errors.New("MONGODB_URI is required for the mongo driver")
		}
		mg, err := mongostore.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, fmt.Errorf("mongo unavailable: %w", err)
		}
		repo, closeFn = mg, mg.Close
	default:
		return nil, nil, fmt.Errorf("unknown DB_DRIVER %q", driver)
	}
	logger.Info("repository ready", zap.String("driver", cfg.ResolveDriver()))

	if cfg.Seed {
		if err := seed.Apply(ctx, repo, logger); err != nil {
			if closeFn != nil {
				_ = closeFn()
			}
			return nil, nil, fmt.Errorf("seed data: %w", err)
		}
	}
	return repo, closeFn, nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.Auth.Secret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.Auth.AdminPIN) < 6 {
		return fmt.Errorf("ADMIN_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.Auth.AdminPIN); err != nil {
		return fmt.Errorf("ADMIN_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "121212": true,
		"112233": true, "123123": true, "159753": true, "147258": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
