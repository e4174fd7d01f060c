package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/seyilabs/chainvault/internal/domain"
	"github.com/seyilabs/chainvault/internal/models"
	"github.com/seyilabs/chainvault/internal/repository"
)

// LimitService enforces rolling withdrawal quotas. A user carries one limit
// row per (currency, period); every row must admit the amount or the
// withdrawal is rejected.
type LimitService struct {
	store QueryStore
}

func NewLimitService(store QueryStore) *LimitService {
	return &LimitService{store: store}
}

func periodDuration(period string) time.Duration {
	switch period {
	case domain.LimitPeriod24h:
		return 24 * time.Hour
	case domain.LimitPeriod7d:
		return 7 * 24 * time.Hour
	case domain.LimitPeriod30d:
		return 30 * 24 * time.Hour
	}
	return 24 * time.Hour
}

// Consume charges amount against every limit row for the user and currency,
// rolling expired windows first. Must run inside the withdrawal's own
// transaction so a rejected limit also rolls back the fund lock.
func (s *LimitService) Consume(ctx context.Context, q repository.Querier, userID uuid.UUID, currency string, amount decimal.Decimal) error {
	limits, err := q.ListLimitsForUpdate(ctx, userID, currency)
	if err != nil {
		return fmt.Errorf("load withdrawal limits: %w", err)
	}

	now := time.Now().UTC()
	for _, limit := range limits {
		used := limit.UsedAmount
		resetAt := limit.ResetAt
		if !now.Before(resetAt) {
			used = decimal.Zero
			resetAt = now.Add(periodDuration(limit.Period))
		}

		if used.Add(amount).GreaterThan(limit.LimitAmount) {
			return fmt.Errorf("%s window: %w", limit.Period, domain.ErrLimitExceeded)
		}

		rows, err := q.UpdateLimitUsage(ctx, limit.ID, used.Add(amount), resetAt)
		if err != nil {
			return fmt.Errorf("update %s limit usage: %w", limit.Period, err)
		}
		if err := requireExactlyOne(rows, "update limit usage"); err != nil {
			return err
		}
	}
	return nil
}

// Refund returns amount to limits after a canceled withdrawal. Only windows
// that have not rolled over since the charge get the refund; usage never
// goes negative.
func (s *LimitService) Refund(ctx context.Context, q repository.Querier, userID uuid.UUID, currency string, amount decimal.Decimal) error {
	limits, err := q.ListLimitsForUpdate(ctx, userID, currency)
	if err != nil {
		return fmt.Errorf("load withdrawal limits: %w", err)
	}

	now := time.Now().UTC()
	for _, limit := range limits {
		if !now.Before(limit.ResetAt) {
			continue
		}
		used := limit.UsedAmount.Sub(amount)
		if used.IsNegative() {
			used = decimal.Zero
		}
		rows, err := q.UpdateLimitUsage(ctx, limit.ID, used, limit.ResetAt)
		if err != nil {
			return fmt.Errorf("refund %s limit usage: %w", limit.Period, err)
		}
		if err := requireExactlyOne(rows, "refund limit usage"); err != nil {
			return err
		}
	}
	return nil
}

// Remaining reports the tightest headroom across the user's limit windows,
// treating expired windows as fully refreshed.
func (s *LimitService) Remaining(ctx context.Context, userID uuid.UUID, currency string) (decimal.Decimal, []models.WithdrawalLimit, error) {
	var limits []models.WithdrawalLimit
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		var err error
		limits, err = q.ListLimitsForUpdate(ctx, userID, currency)
		return err
	})
	if err != nil {
		return decimal.Zero, nil, fmt.Errorf("load withdrawal limits: %w", err)
	}
	if len(limits) == 0 {
		zap.L().Debug("no withdrawal limits configured",
			zap.String("user_id", userID.String()), zap.String("currency", currency))
		return decimal.Zero, nil, nil
	}

	now := time.Now().UTC()
	var tightest decimal.Decimal
	for i, limit := range limits {
		remaining := limit.Remaining()
		if !now.Before(limit.ResetAt) {
			remaining = limit.LimitAmount
		}
		if i == 0 || remaining.LessThan(tightest) {
			tightest = remaining
		}
	}
	return tightest, limits, nil
}
