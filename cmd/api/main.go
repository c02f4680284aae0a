package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/josh-kwaku/wallet-ledger/internal/auth"
	"github.com/josh-kwaku/wallet-ledger/internal/config"
	"github.com/josh-kwaku/wallet-ledger/internal/events"
	"github.com/josh-kwaku/wallet-ledger/internal/handler"
	"github.com/josh-kwaku/wallet-ledger/internal/ledger"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
	"github.com/josh-kwaku/wallet-ledger/internal/middleware"
	"github.com/josh-kwaku/wallet-ledger/internal/repository"
	"github.com/josh-kwaku/wallet-ledger/internal/rewards"
	"github.com/josh-kwaku/wallet-ledger/internal/service"
	"github.com/josh-kwaku/wallet-ledger/internal/service/payment"
	"github.com/josh-kwaku/wallet-ledger/internal/transfer"
	"github.com/josh-kwaku/wallet-ledger/internal/validation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	format := cfg.LogFormat
	if format == "" {
		format = logging.FormatFor(cfg.AppEnv)
	}
	logging.Init(logging.Options{Service: "wallet-ledger", Level: cfg.LogLevel, Format: format})

	if err := run(cfg); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := repository.Migrate(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
		ConnectAttempts:  cfg.DBConnectAttempts,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	rules, err := cfg.ValidationRules()
	if err != nil {
		return err
	}
	validator, err := validation.New(rules)
	if err != nil {
		return err
	}
	ceilings, err := cfg.Ceilings()
	if err != nil {
		return err
	}
	table, err := cfg.RevenueTable()
	if err != nil {
		return err
	}
	rewardRules, err := cfg.RewardRules()
	if err != nil {
		return err
	}

	checks := map[string]handler.Pinger{"database": db}
	dispatcher := events.NewDispatcher(cfg.SideChannelTimeout)

	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(
			events.NewWriter(cfg.KafkaBrokers, cfg.KafkaNotificationTopic),
			events.NewWriter(cfg.KafkaBrokers, cfg.KafkaAuditTopic),
		)
		defer kp.Close()
		dispatcher.AddTransactionSink(kp).AddAuditPublisher(kp)
		slog.Info("kafka publisher enabled", "brokers", cfg.KafkaBrokers)
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		dispatcher.AddTransactionSink(events.NewRedisPublisher(rdb, cfg.RedisChannelPrefix))
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		slog.Info("redis publisher enabled", "addr", cfg.RedisAddr)
	}

	var awarder rewards.PointsAwarder
	if cfg.GamificationURL != "" {
		awarder = rewards.NewClient(rewards.ClientConfig{
			BaseURL:         cfg.GamificationURL,
			Timeout:         cfg.GamificationTimeout,
			MaxRetries:      cfg.GamificationMaxRetries,
			BreakerFailures: cfg.GamificationBreakerFailures,
			BreakerTimeout:  cfg.GamificationBreakerTimeout,
		})
	}
	bridge := rewards.NewBridge(rewardRules, awarder, cfg.GamificationTimeout)

	walletRepo := repository.NewWalletRepository(db)
	store := ledger.NewStore(db, walletRepo, repository.NewTransactionRepository(db), cfg.LockTimeout)
	executor := ledger.NewExecutor(store, validator, ceilings)
	orchestrator := transfer.NewOrchestrator(store, executor, repository.NewTransferRepository(db))

	wallets := service.NewWalletService(walletRepo, store, validator, dispatcher)
	if _, err := wallets.EnsureSystemWallets(ctx, rules.Currencies); err != nil {
		return err
	}
	payments := payment.NewService(executor, orchestrator, wallets, table, bridge, dispatcher)

	health := handler.NewHealthHandler(checks)
	walletHandler := handler.NewWalletHandler(wallets)
	transferHandler := handler.NewTransferHandler(payments)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", health.Liveness)
	mux.HandleFunc("GET /ready", health.Readiness)

	if cfg.OpsJWTSecret != "" {
		ops := http.NewServeMux()
		ops.HandleFunc("GET /ops/wallets/{id}", middleware.RequireScope(auth.ScopeRead, walletHandler.Get))
		ops.HandleFunc("GET /ops/wallets/{id}/reconcile", middleware.RequireScope(auth.ScopeRead, walletHandler.Reconcile))
		ops.HandleFunc("GET /ops/transfers/{id}", middleware.RequireScope(auth.ScopeRead, transferHandler.Get))
		ops.HandleFunc("POST /ops/transfers/{id}/refund", middleware.RequireScope(auth.ScopeReverse, transferHandler.Refund))
		ops.HandleFunc("POST /ops/transfers/{id}/reverse", middleware.RequireScope(auth.ScopeReverse, transferHandler.Reverse))
		ops.HandleFunc("POST /ops/transactions/{id}/reverse", middleware.RequireScope(auth.ScopeReverse, transferHandler.ReverseTransaction))
		mux.Handle("/ops/", middleware.Auth(cfg.OpsJWTSecret)(ops))
	} else {
		slog.Warn("OPS_JWT_SECRET not set, operator routes disabled")
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           middleware.Tracing(middleware.Logging(middleware.Recovery(mux))),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}
