package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/seyilabs/chainvault/internal/chain"
	"github.com/seyilabs/chainvault/internal/models"
)

// RateSource quotes one unit of a currency in USD.
type RateSource interface {
	GetRate(ctx context.Context, currency string) (decimal.Decimal, error)
}

// StaticRateSource serves operator-configured reference rates. Good enough
// for portfolio display; never used for settlement.
type StaticRateSource struct {
	rates map[string]decimal.Decimal
}

func NewStaticRateSource() *StaticRateSource {
	return &StaticRateSource{rates: map[string]decimal.Decimal{
		"BTC":  decimal.RequireFromString("45000"),
		"ETH":  decimal.RequireFromString("3000"),
		"USDT": decimal.RequireFromString("1"),
		"USD":  decimal.RequireFromString("1"),
	}}
}

func (s *StaticRateSource) GetRate(ctx context.Context, currency string) (decimal.Decimal, error) {
	rate, ok := s.rates[currency]
	if !ok {
		return decimal.Zero, fmt.Errorf("no rate for currency %q", currency)
	}
	return rate, nil
}

// AdapterRateSource asks the currency's chain adapter for a quote first and
// falls back to another source when the adapter has none. Most node drivers
// report ErrNoRate; the mock chain can script quotes for development.
type AdapterRateSource struct {
	store    QueryStore
	chains   *chain.Registry
	fallback RateSource
}

func NewAdapterRateSource(store QueryStore, chains *chain.Registry, fallback RateSource) *AdapterRateSource {
	return &AdapterRateSource{store: store, chains: chains, fallback: fallback}
}

func (s *AdapterRateSource) GetRate(ctx context.Context, currency string) (decimal.Decimal, error) {
	cur, err := s.store.Queries().GetCurrency(ctx, currency)
	if err == nil {
		adapter, err := s.chains.ForCurrency(cur)
		if err == nil {
			rate, err := adapter.GetRate(ctx, currency, "USD")
			if err == nil {
				return rate, nil
			}
			if !errors.Is(err, chain.ErrNoRate) {
				zap.L().Warn("adapter rate lookup failed",
					zap.Error(err), zap.String("currency", currency))
			}
		}
	}
	return s.fallback.GetRate(ctx, currency)
}

// RateService caches source quotes in Redis with a short TTL so the ticker
// endpoint stays cheap under load.
type RateService struct {
	source RateSource
	redis  redis.Cmdable
	ttl    time.Duration
}

func NewRateService(source RateSource, rdb redis.Cmdable, ttl time.Duration) *RateService {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RateService{source: source, redis: rdb, ttl: ttl}
}

func rateKey(currency string) string {
	return "rate:usd:" + currency
}

func (s *RateService) GetRate(ctx context.Context, currency string) (decimal.Decimal, error) {
	if s.redis != nil {
		if val, err := s.redis.Get(ctx, rateKey(currency)).Result(); err == nil {
			if rate, parseErr := decimal.NewFromString(val); parseErr == nil {
				return rate, nil
			}
		} else if err != redis.Nil {
			zap.L().Warn("redis rate lookup failed", zap.Error(err))
		}
	}

	rate, err := s.source.GetRate(ctx, currency)
	if err != nil {
		return decimal.Zero, err
	}

	if s.redis != nil {
		if err := s.redis.Set(ctx, rateKey(currency), rate.String(), s.ttl).Err(); err != nil {
			zap.L().Warn("redis rate cache set failed", zap.Error(err))
		}
	}
	return rate, nil
}

// PortfolioEntry is one wallet valued in USD.
type PortfolioEntry struct {
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	Locked    decimal.Decimal `json:"locked"`
	Available decimal.Decimal `json:"available"`
	Rate      decimal.Decimal `json:"usd_rate"`
	Value     decimal.Decimal `json:"usd_value"`
}

// Portfolio values a set of wallets. Currencies without a rate are listed
// with a zero value rather than dropped.
func (s *RateService) Portfolio(ctx context.Context, userID uuid.UUID, wallets []models.Wallet) ([]PortfolioEntry, decimal.Decimal, error) {
	entries := make([]PortfolioEntry, 0, len(wallets))
	total := decimal.Zero
	for _, w := range wallets {
		entry := PortfolioEntry{
			Currency:  w.Currency,
			Balance:   w.Balance,
			Locked:    w.Locked,
			Available: w.Available(),
		}
		rate, err := s.GetRate(ctx, w.Currency)
		if err != nil {
			zap.L().Debug("portfolio rate missing",
				zap.String("user_id", userID.String()), zap.String("currency", w.Currency))
		} else {
			entry.Rate = rate
			entry.Value = w.Balance.Mul(rate)
			total = total.Add(entry.Value)
		}
		entries = append(entries, entry)
	}
	return entries, total, nil
}
