package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/seyilabs/chainvault/internal/chain"
	"github.com/seyilabs/chainvault/internal/domain"
	"github.com/seyilabs/chainvault/internal/events"
	"github.com/seyilabs/chainvault/internal/repository"
)

func newWithdrawalFixture(t *testing.T) (*fakeStore, *chain.Mock, *WithdrawalService) {
	t.Helper()

	store := newFakeStore()
	store.seedCurrency(mockCurrency())

	mock := chain.NewMock()
	registry := chain.NewRegistry()
	registry.Register(mock)

	svc := NewWithdrawalService(store, registry, NewLimitService(store), events.LogPublisher{}, WithdrawalConfig{
		MaxBroadcastAttempts: 3,
		RetryBase:            time.Millisecond,
		RetryMax:             5 * time.Millisecond,
	})
	return store, mock, svc
}

func TestRequestWithdrawalLocksAmountPlusFee(t *testing.T) {
	store, _, svc := newWithdrawalFixture(t)
	userID := uuid.New()
	walletID := store.seedWallet(userID, "MCK", decimal.RequireFromString("1"))

	tx, err := svc.RequestWithdrawal(context.Background(), RequestWithdrawalInput{
		UserID:   userID,
		Currency: "MCK",
		Amount:   decimal.RequireFromString("0.5"),
		Address:  mockAddress(),
	})
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusPending, tx.Status)
	require.True(t, tx.Fee.Equal(decimal.RequireFromString("0.0001")))

	w := store.wallet(walletID)
	require.True(t, w.Balance.Equal(decimal.RequireFromString("1")), "balance untouched until settlement")
	require.True(t, w.Locked.Equal(decimal.RequireFromString("0.5001")), "locked = amount + fee, got %s", w.Locked)
}

func TestRequestWithdrawalInsufficientBalance(t *testing.T) {
	store, _, svc := newWithdrawalFixture(t)
	userID := uuid.New()
	walletID := store.seedWallet(userID, "MCK", decimal.RequireFromString("0.3"))

	_, err := svc.RequestWithdrawal(context.Background(), RequestWithdrawalInput{
		UserID:   userID,
		Currency: "MCK",
		Amount:   decimal.RequireFromString("0.3"), // fee pushes the total over
		Address:  mockAddress(),
	})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	w := store.wallet(walletID)
	require.True(t, w.Locked.IsZero(), "nothing locked after rejection")
}

func TestRequestWithdrawalValidation(t *testing.T) {
	store, _, svc := newWithdrawalFixture(t)
	userID := uuid.New()
	store.seedWallet(userID, "MCK", decimal.RequireFromString("10"))
	ctx := context.Background()

	_, err := svc.RequestWithdrawal(ctx, RequestWithdrawalInput{
		UserID: userID, Currency: "MCK",
		Amount: decimal.RequireFromString("-1"), Address: mockAddress(),
	})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.RequestWithdrawal(ctx, RequestWithdrawalInput{
		UserID: userID, Currency: "MCK",
		Amount: decimal.RequireFromString("0.0001"), Address: mockAddress(),
	})
	require.ErrorIs(t, err, domain.ErrBelowMinimum)

	_, err = svc.RequestWithdrawal(ctx, RequestWithdrawalInput{
		UserID: userID, Currency: "MCK",
		Amount: decimal.RequireFromString("1"), Address: "bogus",
	})
	require.ErrorIs(t, err, domain.ErrInvalidAddress)

	_, err = svc.RequestWithdrawal(ctx, RequestWithdrawalInput{
		UserID: userID, Currency: "MCK",
		Amount: decimal.RequireFromString("1"), Address: mockAddress(), Network: "nonsense",
	})
	require.ErrorIs(t, err, domain.ErrInvalidNetwork)

	_, err = svc.RequestWithdrawal(ctx, RequestWithdrawalInput{
		UserID: userID, Currency: "NOPE",
		Amount: decimal.RequireFromString("1"), Address: mockAddress(),
	})
	require.ErrorIs(t, err, domain.ErrCurrencyNotFound)

	disabled := mockCurrency()
	disabled.Code = "OFF"
	disabled.WithdrawEnabled = false
	store.seedCurrency(disabled)
	store.seedWallet(userID, "OFF", decimal.RequireFromString("10"))
	_, err = svc.RequestWithdrawal(ctx, RequestWithdrawalInput{
		UserID: userID, Currency: "OFF",
		Amount: decimal.RequireFromString("1"), Address: mockAddress(),
	})
	require.ErrorIs(t, err, domain.ErrWithdrawalOff)
}

func TestRequestWithdrawalLimitExceededRollsBackLock(t *testing.T) {
	store, _, svc := newWithdrawalFixture(t)
	userID := uuid.New()
	walletID := store.seedWallet(userID, "MCK", decimal.RequireFromString("10"))
	store.seedLimit(userID, "MCK", domain.LimitPeriod24h,
		decimal.RequireFromString("1"), time.Now().Add(24*time.Hour))

	_, err := svc.RequestWithdrawal(context.Background(), RequestWithdrawalInput{
		UserID:   userID,
		Currency: "MCK",
		Amount:   decimal.RequireFromString("2"),
		Address:  mockAddress(),
	})
	require.ErrorIs(t, err, domain.ErrLimitExceeded)

	// The fund lock happened before the limit check inside the same
	// transaction; rejection must roll it back.
	w := store.wallet(walletID)
	require.True(t, w.Locked.IsZero(), "lock rolled back, got %s", w.Locked)
}

func TestConcurrentWithdrawalsNeverOverlock(t *testing.T) {
	store, _, svc := newWithdrawalFixture(t)
	userID := uuid.New()
	walletID := store.seedWallet(userID, "MCK", decimal.RequireFromString("1"))

	const attempts = 10
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RequestWithdrawal(context.Background(), RequestWithdrawalInput{
				UserID:   userID,
				Currency: "MCK",
				Amount:   decimal.RequireFromString("0.4"),
				Address:  mockAddress(),
			})
		}(i)
	}
	wg.Wait()

	var accepted int
	for _, err := range errs {
		if err == nil {
			accepted++
		} else {
			require.ErrorIs(t, err, domain.ErrInsufficientBalance)
		}
	}
	require.Equal(t, 2, accepted, "balance 1 admits exactly two 0.4001 locks")

	w := store.wallet(walletID)
	require.True(t, w.Locked.LessThanOrEqual(w.Balance), "locked %s exceeds balance %s", w.Locked, w.Balance)
}

func TestCancelWithdrawalReleasesFundsAndLimit(t *testing.T) {
	store, _, svc := newWithdrawalFixture(t)
	userID := uuid.New()
	walletID := store.seedWallet(userID, "MCK", decimal.RequireFromString("1"))
	limitID := store.seedLimit(userID, "MCK", domain.LimitPeriod24h,
		decimal.RequireFromString("5"), time.Now().Add(24*time.Hour))

	tx, err := svc.RequestWithdrawal(context.Background(), RequestWithdrawalInput{
		UserID:   userID,
		Currency: "MCK",
		Amount:   decimal.RequireFromString("0.5"),
		Address:  mockAddress(),
	})
	require.NoError(t, err)
	require.True(t, store.limit(limitID).UsedAmount.Equal(decimal.RequireFromString("0.5")))

	canceled, err := svc.CancelWithdrawal(context.Background(), userID, tx.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusCanceled, canceled.Status)

	w := store.wallet(walletID)
	require.True(t, w.Locked.IsZero())
	require.True(t, w.Balance.Equal(decimal.RequireFromString("1")))
	require.True(t, store.limit(limitID).UsedAmount.IsZero(), "limit usage refunded")
}

func TestCancelWithdrawalTooLateOnceProcessing(t *testing.T) {
	store, _, svc := newWithdrawalFixture(t)
	userID := uuid.New()
	store.seedWallet(userID, "MCK", decimal.RequireFromString("1"))

	tx, err := svc.RequestWithdrawal(context.Background(), RequestWithdrawalInput{
		UserID:   userID,
		Currency: "MCK",
		Amount:   decimal.RequireFromString("0.5"),
		Address:  mockAddress(),
	})
	require.NoError(t, err)

	claimed, err := svc.claimPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	_, err = svc.CancelWithdrawal(context.Background(), userID, tx.ID)
	require.ErrorIs(t, err, domain.ErrTooLateToCancel)
}

func TestCancelWithdrawalWrongUser(t *testing.T) {
	store, _, svc := newWithdrawalFixture(t)
	userID := uuid.New()
	store.seedWallet(userID, "MCK", decimal.RequireFromString("1"))

	tx, err := svc.RequestWithdrawal(context.Background(), RequestWithdrawalInput{
		UserID:   userID,
		Currency: "MCK",
		Amount:   decimal.RequireFromString("0.5"),
		Address:  mockAddress(),
	})
	require.NoError(t, err)

	_, err = svc.CancelWithdrawal(context.Background(), uuid.New(), tx.ID)
	require.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestProcessWithdrawalsUnconfirmedStaysProcessing(t *testing.T) {
	store, mock, svc := newWithdrawalFixture(t)
	mock.HoldConfirmations()
	userID := uuid.New()
	walletID := store.seedWallet(userID, "MCK", decimal.RequireFromString("1"))

	tx, err := svc.RequestWithdrawal(context.Background(), RequestWithdrawalInput{
		UserID:   userID,
		Currency: "MCK",
		Amount:   decimal.RequireFromString("0.5"),
		Address:  mockAddress(),
	})
	require.NoError(t, err)

	require.NoError(t, svc.ProcessWithdrawals(context.Background(), 10))

	row := store.transaction(tx.ID)
	require.Equal(t, domain.TxStatusProcessing, row.Status, "an unconfirmed transfer belongs to the reconciler")
	require.NotEmpty(t, row.TxID)
	require.Len(t, mock.Sent(), 1)
	require.True(t, mock.Sent()[0].Amount.Equal(decimal.RequireFromString("0.5")))

	// Funds stay locked until the chain confirms.
	w := store.wallet(walletID)
	require.True(t, w.Locked.Equal(decimal.RequireFromString("0.5001")))
}

func TestProcessWithdrawalsSettlesConfirmedBroadcast(t *testing.T) {
	store, _, svc := newWithdrawalFixture(t)
	userID := uuid.New()
	walletID := store.seedWallet(userID, "MCK", decimal.RequireFromString("1"))

	tx, err := svc.RequestWithdrawal(context.Background(), RequestWithdrawalInput{
		UserID:   userID,
		Currency: "MCK",
		Amount:   decimal.RequireFromString("0.5"),
		Address:  mockAddress(),
	})
	require.NoError(t, err)

	// The mock chain reports finality at broadcast time, so the worker
	// settles without waiting for a reconciliation pass.
	require.NoError(t, svc.ProcessWithdrawals(context.Background(), 10))

	row := store.transaction(tx.ID)
	require.Equal(t, domain.TxStatusCompleted, row.Status)
	require.NotNil(t, row.CompletedAt)
	require.Equal(t, uint32(3), row.Confirmations)

	w := store.wallet(walletID)
	require.True(t, w.Locked.IsZero())
	require.True(t, w.Balance.Equal(decimal.RequireFromString("0.4999")), "amount plus fee left the wallet, got %s", w.Balance)
}

func TestProcessWithdrawalsRetriesTransientErrors(t *testing.T) {
	store, mock, svc := newWithdrawalFixture(t)
	mock.HoldConfirmations()
	userID := uuid.New()
	store.seedWallet(userID, "MCK", decimal.RequireFromString("1"))

	tx, err := svc.RequestWithdrawal(context.Background(), RequestWithdrawalInput{
		UserID:   userID,
		Currency: "MCK",
		Amount:   decimal.RequireFromString("0.5"),
		Address:  mockAddress(),
	})
	require.NoError(t, err)

	mock.QueueSendError(chain.Transient(errors.New("node flapping")))
	mock.QueueSendError(chain.Transient(errors.New("node flapping")))

	require.NoError(t, svc.ProcessWithdrawals(context.Background(), 10))

	row := store.transaction(tx.ID)
	require.Equal(t, domain.TxStatusProcessing, row.Status)
	require.NotEmpty(t, row.TxID, "third attempt broadcast")
}

func TestProcessWithdrawalsPermanentErrorFailsAndReleases(t *testing.T) {
	store, mock, svc := newWithdrawalFixture(t)
	userID := uuid.New()
	walletID := store.seedWallet(userID, "MCK", decimal.RequireFromString("1"))

	tx, err := svc.RequestWithdrawal(context.Background(), RequestWithdrawalInput{
		UserID:   userID,
		Currency: "MCK",
		Amount:   decimal.RequireFromString("0.5"),
		Address:  mockAddress(),
	})
	require.NoError(t, err)

	mock.QueueSendError(chain.Permanent(errors.New("invalid output script")))

	require.NoError(t, svc.ProcessWithdrawals(context.Background(), 10))

	row := store.transaction(tx.ID)
	require.Equal(t, domain.TxStatusFailed, row.Status)
	require.Contains(t, row.ErrorMessage, "invalid output script")

	w := store.wallet(walletID)
	require.True(t, w.Locked.IsZero(), "locked funds released on permanent failure")
	require.True(t, w.Balance.Equal(decimal.RequireFromString("1")))
}

func TestProcessWithdrawalsExhaustedRetriesFail(t *testing.T) {
	store, mock, svc := newWithdrawalFixture(t)
	userID := uuid.New()
	walletID := store.seedWallet(userID, "MCK", decimal.RequireFromString("1"))

	tx, err := svc.RequestWithdrawal(context.Background(), RequestWithdrawalInput{
		UserID:   userID,
		Currency: "MCK",
		Amount:   decimal.RequireFromString("0.5"),
		Address:  mockAddress(),
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		mock.QueueSendError(chain.Transient(errors.New("node down")))
	}

	require.NoError(t, svc.ProcessWithdrawals(context.Background(), 10))

	row := store.transaction(tx.ID)
	require.Equal(t, domain.TxStatusFailed, row.Status)
	require.Contains(t, row.ErrorMessage, "broadcast retries exhausted")
	require.True(t, store.wallet(walletID).Locked.IsZero())
}

func TestRecoverStaleProcessingRequeues(t *testing.T) {
	store, _, svc := newWithdrawalFixture(t)
	userID := uuid.New()
	store.seedWallet(userID, "MCK", decimal.RequireFromString("1"))

	tx, err := svc.RequestWithdrawal(context.Background(), RequestWithdrawalInput{
		UserID:   userID,
		Currency: "MCK",
		Amount:   decimal.RequireFromString("0.5"),
		Address:  mockAddress(),
	})
	require.NoError(t, err)

	// Simulate a worker that claimed the row and crashed before broadcast.
	_, err = store.UpdateTransactionStatus(context.Background(), updateStatusParams(tx.ID, domain.TxStatusProcessing))
	require.NoError(t, err)
	store.backdateTransaction(tx.ID, 3*time.Minute)

	require.NoError(t, svc.recoverStaleProcessing(context.Background(), 10))
	require.Equal(t, domain.TxStatusPending, store.transaction(tx.ID).Status)
}

func TestRecoverStaleProcessingIgnoresBroadcastRows(t *testing.T) {
	store, _, svc := newWithdrawalFixture(t)
	userID := uuid.New()
	store.seedWallet(userID, "MCK", decimal.RequireFromString("1"))

	tx, err := svc.RequestWithdrawal(context.Background(), RequestWithdrawalInput{
		UserID:   userID,
		Currency: "MCK",
		Amount:   decimal.RequireFromString("0.5"),
		Address:  mockAddress(),
	})
	require.NoError(t, err)

	_, err = store.UpdateTransactionStatus(context.Background(), updateStatusParams(tx.ID, domain.TxStatusProcessing))
	require.NoError(t, err)
	_, err = store.SetTransactionTxID(context.Background(), tx.ID, "mocktxdeadbeef")
	require.NoError(t, err)
	store.backdateTransaction(tx.ID, 3*time.Minute)

	// A row with a txid may already be on the chain; only the reconciler
	// decides what happens to it.
	require.NoError(t, svc.recoverStaleProcessing(context.Background(), 10))
	require.Equal(t, domain.TxStatusProcessing, store.transaction(tx.ID).Status)
}

func TestPendingBacklog(t *testing.T) {
	store, _, svc := newWithdrawalFixture(t)
	userID := uuid.New()
	store.seedWallet(userID, "MCK", decimal.RequireFromString("10"))

	for i := 0; i < 3; i++ {
		_, err := svc.RequestWithdrawal(context.Background(), RequestWithdrawalInput{
			UserID:   userID,
			Currency: "MCK",
			Amount:   decimal.RequireFromString("0.5"),
			Address:  mockAddress(),
		})
		require.NoError(t, err)
	}

	backlog, err := svc.PendingBacklog(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(3), backlog)
}

func updateStatusParams(id uuid.UUID, status string) repository.UpdateTransactionStatusParams {
	return repository.UpdateTransactionStatusParams{ID: id, Status: status}
}

// backdateTransaction ages a row's updated_at for stale-recovery tests.
func (f *fakeStore) backdateTransaction(id uuid.UUID, by time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx := f.txs[id]
	tx.UpdatedAt = tx.UpdatedAt.Add(-by)
	f.txs[id] = tx
}
