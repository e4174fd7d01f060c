package app

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/seyilabs/chainvault/internal/api"
	"github.com/seyilabs/chainvault/internal/api/middleware"
	"github.com/seyilabs/chainvault/internal/chain"
	"github.com/seyilabs/chainvault/internal/chain/bitcoin"
	"github.com/seyilabs/chainvault/internal/chain/ethereum"
	"github.com/seyilabs/chainvault/internal/config"
	"github.com/seyilabs/chainvault/internal/db"
	"github.com/seyilabs/chainvault/internal/domain"
	"github.com/seyilabs/chainvault/internal/events"
	"github.com/seyilabs/chainvault/internal/idempotency"
	"github.com/seyilabs/chainvault/internal/keystore"
	"github.com/seyilabs/chainvault/internal/observability"
	"github.com/seyilabs/chainvault/internal/repository"
	"github.com/seyilabs/chainvault/internal/service"
	"github.com/seyilabs/chainvault/internal/worker"
)

// Run bootstraps the HTTP server and background workers, blocking until
// shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	keys, err := keystore.New(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("init keystore: %w", err)
	}

	publisher := newPublisher(cfg, logger)
	defer publisher.Close()

	registry, err := buildChainRegistry(cfg)
	if err != nil {
		return fmt.Errorf("init chain adapters: %w", err)
	}

	idemStore := idempotency.NewStore(redisClient, pool, cfg.IdempotencyTTL)
	queries := repository.New(pool)
	store := repository.NewStore(pool)

	ledgerSvc := service.NewLedgerService(store)
	limitSvc := service.NewLimitService(store)
	withdrawalSvc := service.NewWithdrawalService(store, registry, limitSvc, publisher, service.WithdrawalConfig{
		MaxBroadcastAttempts: cfg.BroadcastMaxAttempts,
		RetryBase:            cfg.BroadcastRetryBase,
		RetryMax:             cfg.BroadcastRetryMax,
	})
	// Bitcoin mints blocks roughly every ten minutes; its addresses need far
	// fewer polls than the default cadence tuned for ethereum-speed chains.
	depositSvc := service.NewDepositService(store, registry, ledgerSvc, keys, publisher, cfg.DepositPollInterval).
		WithChainInterval(domain.ChainBitcoin, 10*cfg.DepositPollInterval)
	reconSvc := service.NewReconciliationService(store, registry, publisher)
	rateSource := service.NewAdapterRateSource(store, registry, service.NewStaticRateSource())
	rateSvc := service.NewRateService(rateSource, redisClient, cfg.RateCacheTTL)

	withdrawalWorker := worker.NewWithdrawalWorker(withdrawalSvc).
		WithPollInterval(cfg.WithdrawalPollInterval).
		WithBatchSize(cfg.WithdrawalBatchSize)
	depositWorker := worker.NewDepositWorker(depositSvc).
		WithPollInterval(cfg.DepositPollInterval).
		WithBatchSize(cfg.DepositBatchSize)
	reconWorker := worker.NewReconciliationWorker(reconSvc).
		WithInterval(cfg.ReconciliationInterval).
		WithBatchSize(cfg.ReconciliationBatch)

	stopWithdrawals := withdrawalWorker.Run(ctx)
	stopDeposits := depositWorker.Run(ctx)
	stopRecon := reconWorker.Run(ctx)
	logger.Info("workers started",
		zap.Duration("withdrawal_interval", cfg.WithdrawalPollInterval),
		zap.Duration("deposit_interval", cfg.DepositPollInterval),
		zap.Duration("reconciliation_interval", cfg.ReconciliationInterval))

	go purgeIdempotencyKeys(ctx, idemStore, cfg.IdempotencyTTL, logger)

	router := api.NewRouter(cfg, logger, pool, queries, idemStore, redisClient,
		ledgerSvc, withdrawalSvc, depositSvc, limitSvc, rateSvc)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping workers")
	stopWithdrawals()
	stopDeposits()
	stopRecon()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

// buildChainRegistry registers one adapter per configured chain. The hot
// wallet lock is shared so concurrent sends on the same chain serialize even
// across adapters.
func buildChainRegistry(cfg *config.Config) (*chain.Registry, error) {
	registry := chain.NewRegistry()
	locks := chain.NewAccountLock()

	if cfg.EthereumNode != "" {
		seed, err := hex.DecodeString(cfg.EthereumSeed)
		if err != nil || len(seed) == 0 {
			return nil, fmt.Errorf("ETH_SEED must be non-empty hex")
		}
		eth, err := ethereum.New(ethereum.Config{
			Node:     cfg.EthereumNode,
			Secret:   cfg.EthereumSecret,
			Seed:     seed,
			GasPrice: cfg.EthereumGasPrice,
		}, locks)
		if err != nil {
			return nil, fmt.Errorf("ethereum adapter: %w", err)
		}
		registry.Register(eth)
	}

	if cfg.BitcoinRPCURL != "" {
		btc, err := bitcoin.New(bitcoin.Config{
			URL:      cfg.BitcoinRPCURL,
			User:     cfg.BitcoinRPCUser,
			Password: cfg.BitcoinRPCPass,
			Network:  cfg.BitcoinNetwork,
		}, locks)
		if err != nil {
			return nil, fmt.Errorf("bitcoin adapter: %w", err)
		}
		registry.Register(btc)
	}

	if cfg.EnableMockChain {
		registry.Register(chain.NewMock())
	}

	return registry, nil
}

func newPublisher(cfg *config.Config, logger *zap.Logger) events.Publisher {
	if cfg.AMQPURL == "" {
		return events.LogPublisher{}
	}
	pub, err := events.NewAmqpPublisher(cfg.AMQPURL)
	if err != nil {
		logger.Warn("amqp unavailable, falling back to log publisher", zap.Error(err))
		return events.LogPublisher{}
	}
	return pub
}

func purgeIdempotencyKeys(ctx context.Context, store *idempotency.Store, retention time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := store.Purge(ctx, retention)
			if err != nil {
				logger.Warn("idempotency purge failed", zap.Error(err))
				continue
			}
			if purged > 0 {
				logger.Info("purged idempotency keys", zap.Int64("count", purged))
			}
		}
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
