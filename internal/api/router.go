package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"

	"github.com/seyilabs/chainvault/internal/api/handler"
	"github.com/seyilabs/chainvault/internal/api/middleware"
	"github.com/seyilabs/chainvault/internal/api/spec"
	"github.com/seyilabs/chainvault/internal/config"
	"github.com/seyilabs/chainvault/internal/idempotency"
	"github.com/seyilabs/chainvault/internal/repository"
	"github.com/seyilabs/chainvault/internal/service"
)

// Router wires handlers, middleware, and services into the HTTP surface.
type Router struct {
	cfg         *config.Config
	logger      *zap.Logger
	db          *pgxpool.Pool
	queries     *repository.Queries
	idemStore   *idempotency.Store
	redis       redis.Cmdable
	ledger      *service.LedgerService
	withdrawals *service.WithdrawalService
	deposits    *service.DepositService
	limits      *service.LimitService
	rates       *service.RateService
}

func NewRouter(
	cfg *config.Config,
	logger *zap.Logger,
	db *pgxpool.Pool,
	queries *repository.Queries,
	idemStore *idempotency.Store,
	redisClient redis.Cmdable,
	ledger *service.LedgerService,
	withdrawals *service.WithdrawalService,
	deposits *service.DepositService,
	limits *service.LimitService,
	rates *service.RateService,
) *Router {
	return &Router{
		cfg:         cfg,
		logger:      logger,
		db:          db,
		queries:     queries,
		idemStore:   idemStore,
		redis:       redisClient,
		ledger:      ledger,
		withdrawals: withdrawals,
		deposits:    deposits,
		limits:      limits,
		rates:       rates,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))

	// Handlers
	authHandler := handler.NewAuthHandler(api.queries)
	userHandler := handler.NewUserHandler(api.queries)
	currencyHandler := handler.NewCurrencyHandler(api.queries)
	walletHandler := handler.NewWalletHandler(api.ledger, api.rates)
	withdrawalHandler := handler.NewWithdrawalHandler(api.withdrawals, api.ledger, api.limits)
	depositHandler := handler.NewDepositHandler(api.deposits)
	healthHandler := handler.NewHealthHandler(api.db, api.redis)

	// Operational endpoints
	r.Get("/healthz", healthHandler.Live)
	r.Get("/readyz", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// Public Routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))

		r.Post("/v1/auth/login", authHandler.Login)
		r.Post("/v1/users", userHandler.CreateUser)
		r.Get("/v1/currencies", currencyHandler.ListCurrencies)
		r.Get("/v1/currencies/{code}", currencyHandler.GetCurrency)
		r.Get("/v1/rates/{currency}", walletHandler.GetRate)
	})

	// Protected Routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		// Wallets
		r.Post("/v1/wallets", walletHandler.CreateWallet)
		r.Get("/v1/wallets", walletHandler.ListWallets)
		r.Get("/v1/wallets/{currency}", walletHandler.GetWallet)
		r.Get("/v1/portfolio", walletHandler.GetPortfolio)

		// Deposits
		r.Post("/v1/deposit-addresses", depositHandler.CreateAddress)
		r.Get("/v1/deposit-addresses", depositHandler.ListAddresses)

		// Withdrawals
		r.With(middleware.IdempotencyMiddleware(api.idemStore, api.logger)).
			Post("/v1/withdrawals", withdrawalHandler.CreateWithdrawal)
		r.Post("/v1/withdrawals/{id}/cancel", withdrawalHandler.CancelWithdrawal)
		r.Get("/v1/withdrawals/limits/{currency}", withdrawalHandler.GetLimits)

		// Transactions
		r.Get("/v1/transactions", withdrawalHandler.ListTransactions)
		r.Get("/v1/transactions/{id}", withdrawalHandler.GetTransaction)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handler.RespondError(w, r, http.StatusNotFound, "request/unknown-route", "route not found")
	})

	return r
}
