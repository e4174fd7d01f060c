package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/seyilabs/chainvault/internal/domain"
	"github.com/seyilabs/chainvault/internal/repository"
)

func limitTx(t *testing.T, store *fakeStore, fn func(q repository.Querier) error) error {
	t.Helper()
	return store.RunInTx(context.Background(), fn)
}

func TestLimitConsumeChargesEveryWindow(t *testing.T) {
	store := newFakeStore()
	svc := NewLimitService(store)
	userID := uuid.New()

	day := store.seedLimit(userID, "MCK", domain.LimitPeriod24h,
		decimal.RequireFromString("10"), time.Now().Add(24*time.Hour))
	week := store.seedLimit(userID, "MCK", domain.LimitPeriod7d,
		decimal.RequireFromString("50"), time.Now().Add(7*24*time.Hour))

	err := limitTx(t, store, func(q repository.Querier) error {
		return svc.Consume(context.Background(), q, userID, "MCK", decimal.RequireFromString("4"))
	})
	require.NoError(t, err)

	require.True(t, store.limit(day).UsedAmount.Equal(decimal.RequireFromString("4")))
	require.True(t, store.limit(week).UsedAmount.Equal(decimal.RequireFromString("4")))
}

func TestLimitConsumeRejectsWhenAnyWindowFull(t *testing.T) {
	store := newFakeStore()
	svc := NewLimitService(store)
	userID := uuid.New()

	day := store.seedLimit(userID, "MCK", domain.LimitPeriod24h,
		decimal.RequireFromString("3"), time.Now().Add(24*time.Hour))
	week := store.seedLimit(userID, "MCK", domain.LimitPeriod7d,
		decimal.RequireFromString("50"), time.Now().Add(7*24*time.Hour))

	err := limitTx(t, store, func(q repository.Querier) error {
		return svc.Consume(context.Background(), q, userID, "MCK", decimal.RequireFromString("4"))
	})
	require.ErrorIs(t, err, domain.ErrLimitExceeded)
	require.Contains(t, err.Error(), "24h window")

	// The whole transaction rolled back, including any windows charged
	// before the rejecting one.
	require.True(t, store.limit(day).UsedAmount.IsZero())
	require.True(t, store.limit(week).UsedAmount.IsZero())
}

func TestLimitConsumeRollsOverExpiredWindow(t *testing.T) {
	store := newFakeStore()
	svc := NewLimitService(store)
	userID := uuid.New()

	// Window expired an hour ago with usage at the cap. Rollover zeroes it,
	// so the charge goes through.
	id := store.seedLimit(userID, "MCK", domain.LimitPeriod24h,
		decimal.RequireFromString("5"), time.Now().Add(-time.Hour))
	store.setLimitUsage(id, decimal.RequireFromString("5"))

	err := limitTx(t, store, func(q repository.Querier) error {
		return svc.Consume(context.Background(), q, userID, "MCK", decimal.RequireFromString("2"))
	})
	require.NoError(t, err)

	row := store.limit(id)
	require.True(t, row.UsedAmount.Equal(decimal.RequireFromString("2")))
	require.True(t, row.ResetAt.After(time.Now().Add(23*time.Hour)), "fresh window scheduled")
}

func TestLimitRefundClampsAtZero(t *testing.T) {
	store := newFakeStore()
	svc := NewLimitService(store)
	userID := uuid.New()

	id := store.seedLimit(userID, "MCK", domain.LimitPeriod24h,
		decimal.RequireFromString("10"), time.Now().Add(24*time.Hour))
	store.setLimitUsage(id, decimal.RequireFromString("1"))

	err := limitTx(t, store, func(q repository.Querier) error {
		return svc.Refund(context.Background(), q, userID, "MCK", decimal.RequireFromString("5"))
	})
	require.NoError(t, err)
	require.True(t, store.limit(id).UsedAmount.IsZero(), "usage never goes negative")
}

func TestLimitRefundSkipsRolledOverWindow(t *testing.T) {
	store := newFakeStore()
	svc := NewLimitService(store)
	userID := uuid.New()

	// The window the charge sat in has expired; refunding it would grant
	// headroom that was never spent in the new window.
	id := store.seedLimit(userID, "MCK", domain.LimitPeriod24h,
		decimal.RequireFromString("10"), time.Now().Add(-time.Minute))
	store.setLimitUsage(id, decimal.RequireFromString("6"))

	err := limitTx(t, store, func(q repository.Querier) error {
		return svc.Refund(context.Background(), q, userID, "MCK", decimal.RequireFromString("6"))
	})
	require.NoError(t, err)
	require.True(t, store.limit(id).UsedAmount.Equal(decimal.RequireFromString("6")), "expired window untouched")
}

func TestLimitRemainingReportsTightestWindow(t *testing.T) {
	store := newFakeStore()
	svc := NewLimitService(store)
	userID := uuid.New()

	day := store.seedLimit(userID, "MCK", domain.LimitPeriod24h,
		decimal.RequireFromString("10"), time.Now().Add(24*time.Hour))
	store.setLimitUsage(day, decimal.RequireFromString("7"))
	week := store.seedLimit(userID, "MCK", domain.LimitPeriod7d,
		decimal.RequireFromString("50"), time.Now().Add(7*24*time.Hour))
	store.setLimitUsage(week, decimal.RequireFromString("45"))

	remaining, windows, err := svc.Remaining(context.Background(), userID, "MCK")
	require.NoError(t, err)
	require.Len(t, windows, 2)
	require.True(t, remaining.Equal(decimal.RequireFromString("3")), "day window is the binding one, got %s", remaining)
}

func TestLimitRemainingTreatsExpiredAsFresh(t *testing.T) {
	store := newFakeStore()
	svc := NewLimitService(store)
	userID := uuid.New()

	id := store.seedLimit(userID, "MCK", domain.LimitPeriod24h,
		decimal.RequireFromString("10"), time.Now().Add(-time.Hour))
	store.setLimitUsage(id, decimal.RequireFromString("10"))

	remaining, _, err := svc.Remaining(context.Background(), userID, "MCK")
	require.NoError(t, err)
	require.True(t, remaining.Equal(decimal.RequireFromString("10")))
}

func TestLimitRemainingNoLimitsConfigured(t *testing.T) {
	store := newFakeStore()
	svc := NewLimitService(store)

	remaining, windows, err := svc.Remaining(context.Background(), uuid.New(), "MCK")
	require.NoError(t, err)
	require.Empty(t, windows)
	require.True(t, remaining.IsZero())
}

// setLimitUsage writes usage directly, bypassing Consume.
func (f *fakeStore) setLimitUsage(id uuid.UUID, used decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.limits[id]
	l.UsedAmount = used
	f.limits[id] = l
}
