package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/amerfu/bllm/internal/auth"
	"github.com/amerfu/bllm/internal/billing"
	"github.com/amerfu/bllm/internal/config"
	"github.com/amerfu/bllm/internal/exchange"
	"github.com/amerfu/bllm/internal/ledger"
	"github.com/amerfu/bllm/internal/logger"
	"github.com/amerfu/bllm/internal/monitor"
	"github.com/amerfu/bllm/internal/pricing"
	"github.com/amerfu/bllm/internal/router"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// The ledger substrate is the one hard dependency. A billing service
	// cannot run degraded, so a failed ping is fatal.
	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatal("Failed to parse Redis URL", zap.Error(err))
	}
	if cfg.Redis.Password != "" {
		opt.Password = cfg.Redis.Password
	}
	if cfg.Redis.DB != 0 {
		opt.DB = cfg.Redis.DB
	}
	if cfg.Redis.PoolSize != 0 {
		opt.PoolSize = cfg.Redis.PoolSize
	}

	redisClient := redis.NewClient(opt)
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	store := ledger.New(redisClient, log)

	pricingManager := pricing.NewManager(store, log, cfg.Pricing.FeedTimeout)
	if err := pricingManager.Load(context.Background()); err != nil {
		log.Fatal("Failed to load pricing table", zap.Error(err))
	}

	exchangeManager := exchange.NewManager(store, log, cfg.Exchange.FeedURL, cfg.Exchange.FeedTimeout)
	if err := exchangeManager.Load(context.Background()); err != nil {
		log.Fatal("Failed to load exchange rates", zap.Error(err))
	}

	// Periodic rate refresh runs until shutdown.
	refreshCtx, stopRefresh := context.WithCancel(context.Background())
	defer stopRefresh()
	go exchangeManager.Run(refreshCtx, cfg.Exchange.RefreshInterval, cfg.Exchange.RetryInterval)

	mon := monitor.New(store, log, monitor.Thresholds{
		ErrorRate:      cfg.Monitoring.ErrorRateThreshold,
		LowBalance:     decimal.NewFromFloat(cfg.Monitoring.LowBalanceThreshold),
		HighUsage:      cfg.Monitoring.HighUsageThreshold,
		ReservationTTL: cfg.Monitoring.ReservationTTLFloor,
	}, cfg.Monitoring.AlertCooldown)
	mon.CheckReservationTTL(cfg.Billing.ReservationTTL)

	billingService := billing.New(store, pricingManager, exchangeManager, mon, log, billing.Config{
		ReservationTTL: cfg.Billing.ReservationTTL,
		CommittedTTL:   cfg.Billing.CommittedTTL,
	})

	verifier := auth.New(cfg.Auth)

	mainRouter := router.New(cfg, log, router.Dependencies{
		Billing:  billingService,
		Pricing:  pricingManager,
		Exchange: exchangeManager,
		Monitor:  mon,
		Auth:     verifier,
		Store:    store,
	})
	metricsRouter := router.NewMetricsRouter()

	servers := []*http.Server{
		{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      mainRouter,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
		{
			Addr:         fmt.Sprintf(":%d", cfg.Server.MetricsPort),
			Handler:      metricsRouter,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
	}

	names := []string{"Billing API", "Metrics"}
	for i, srv := range servers {
		go func(s *http.Server, name string) {
			log.Info(fmt.Sprintf("%s server starting", name), zap.String("address", s.Addr))
			if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatal(fmt.Sprintf("%s server failed to start", name), zap.Error(err))
			}
		}(srv, names[i])
	}

	log.Info("bllm billing service started",
		zap.Int("api_port", cfg.Server.Port),
		zap.Int("metrics_port", cfg.Server.MetricsPort),
		zap.Duration("reservation_ttl", cfg.Billing.ReservationTTL))

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down servers...")
	stopRefresh()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			log.Error("Server forced to shutdown", zap.Error(err))
		}
	}

	log.Info("Servers shutdown complete")
}
