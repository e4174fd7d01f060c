package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/seyilabs/chainvault/internal/domain"
	"github.com/seyilabs/chainvault/internal/models"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to string
		ok       bool
	}{
		{domain.TxStatusPending, domain.TxStatusProcessing, true},
		{domain.TxStatusPending, domain.TxStatusFailed, true},
		{domain.TxStatusPending, domain.TxStatusCanceled, true},
		{domain.TxStatusPending, domain.TxStatusCompleted, false},
		{domain.TxStatusProcessing, domain.TxStatusPending, true},
		{domain.TxStatusProcessing, domain.TxStatusCompleted, true},
		{domain.TxStatusProcessing, domain.TxStatusFailed, true},
		{domain.TxStatusProcessing, domain.TxStatusCanceled, false},
		{domain.TxStatusCompleted, domain.TxStatusFailed, false},
		{domain.TxStatusCompleted, domain.TxStatusPending, false},
		{domain.TxStatusFailed, domain.TxStatusPending, false},
		{domain.TxStatusCanceled, domain.TxStatusPending, false},
		{"pending", "processing", true}, // case-insensitive
		{"GARBAGE", domain.TxStatusPending, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.ok, canTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func seedPendingTransaction(t *testing.T, store *fakeStore) uuid.UUID {
	t.Helper()
	tx := &models.Transaction{
		ID:       uuid.New(),
		UserID:   uuid.New(),
		WalletID: uuid.New(),
		Currency: "MCK",
		Amount:   decimal.RequireFromString("1"),
		Type:     domain.TxTypeWithdrawal,
		Status:   domain.TxStatusPending,
	}
	require.NoError(t, store.CreateTransaction(context.Background(), tx))
	return tx.ID
}

func TestTransitionTransactionState(t *testing.T) {
	store := newFakeStore()
	id := seedPendingTransaction(t, store)
	ctx := context.Background()

	changed, err := transitionTransactionState(ctx, store, id, domain.TxStatusProcessing, "")
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, domain.TxStatusProcessing, store.transaction(id).Status)

	// Same-state write reports no change so callers skip ledger effects.
	changed, err = transitionTransactionState(ctx, store, id, domain.TxStatusProcessing, "")
	require.NoError(t, err)
	require.False(t, changed)

	changed, err = transitionTransactionState(ctx, store, id, domain.TxStatusCompleted, "")
	require.NoError(t, err)
	require.True(t, changed)

	row := store.transaction(id)
	require.Equal(t, domain.TxStatusCompleted, row.Status)
	require.NotNil(t, row.CompletedAt, "terminal success stamps completed_at")

	// Terminal states admit nothing.
	_, err = transitionTransactionState(ctx, store, id, domain.TxStatusFailed, "nope")
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid transaction state transition")
}

func TestTransitionRecordsErrorMessage(t *testing.T) {
	store := newFakeStore()
	id := seedPendingTransaction(t, store)

	changed, err := transitionTransactionState(context.Background(), store, id, domain.TxStatusFailed, "broadcast rejected")
	require.NoError(t, err)
	require.True(t, changed)

	row := store.transaction(id)
	require.Equal(t, domain.TxStatusFailed, row.Status)
	require.Equal(t, "broadcast rejected", row.ErrorMessage)
	require.Nil(t, row.CompletedAt)
}

func TestTransitionMissingTransaction(t *testing.T) {
	store := newFakeStore()

	_, err := transitionTransactionState(context.Background(), store, uuid.New(), domain.TxStatusProcessing, "")
	require.Error(t, err)
}
