package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/seyilabs/chainvault/internal/models"
)

// Querier is the data-access contract shared by the Postgres query set and
// the in-memory fakes used in service tests.
type Querier interface {
	// Currencies (reference data)
	GetCurrency(ctx context.Context, code string) (*models.Currency, error)
	ListCurrencies(ctx context.Context) ([]models.Currency, error)

	// Users
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error

	// Wallets
	CreateWallet(ctx context.Context, w *models.Wallet) error
	GetWallet(ctx context.Context, userID uuid.UUID, currency string) (*models.Wallet, error)
	GetWalletForUpdate(ctx context.Context, userID uuid.UUID, currency string) (*models.Wallet, error)
	ListWalletsByUser(ctx context.Context, userID uuid.UUID) ([]models.Wallet, error)
	SetWalletAddress(ctx context.Context, id uuid.UUID, address string) (int64, error)
	// Guarded fund mutations: each returns the number of rows affected so the
	// caller can detect a violated precondition.
	AddWalletBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (int64, error)
	LockWalletFunds(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (int64, error)
	SettleLockedFunds(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (int64, error)
	ReleaseLockedToBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (int64, error)
	ListInconsistentWallets(ctx context.Context, limit int32) ([]models.Wallet, error)

	// Transactions
	CreateTransaction(ctx context.Context, tx *models.Transaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	GetTransactionStatusForUpdate(ctx context.Context, id uuid.UUID) (string, error)
	UpdateTransactionStatus(ctx context.Context, arg UpdateTransactionStatusParams) (int64, error)
	SetTransactionTxID(ctx context.Context, id uuid.UUID, txid string) (int64, error)
	UpdateTransactionConfirmations(ctx context.Context, id uuid.UUID, confirmations uint32) (int64, error)
	ClaimPendingWithdrawals(ctx context.Context, limit int32) ([]models.Transaction, error)
	CountPendingWithdrawals(ctx context.Context) (int64, error)
	ListStaleProcessingWithdrawals(ctx context.Context, cutoff time.Time, limit int32) ([]models.Transaction, error)
	ListBroadcastWithdrawals(ctx context.Context, limit int32) ([]models.Transaction, error)
	ListUserTransactions(ctx context.Context, userID uuid.UUID, limit, offset int32) ([]models.Transaction, error)

	// Deposit addresses
	CreateDepositAddress(ctx context.Context, a *models.DepositAddress) error
	GetDepositAddress(ctx context.Context, id uuid.UUID) (*models.DepositAddress, error)
	ListDueDepositAddresses(ctx context.Context, now time.Time, limit int32) ([]models.DepositAddress, error)
	ListUserDepositAddresses(ctx context.Context, userID uuid.UUID, currency string) ([]models.DepositAddress, error)
	UpdateDepositAddressCheckpoint(ctx context.Context, arg UpdateAddressCheckpointParams) (int64, error)
	DeactivateDepositAddress(ctx context.Context, id uuid.UUID) (int64, error)

	// Withdrawal limits
	ListLimitsForUpdate(ctx context.Context, userID uuid.UUID, currency string) ([]models.WithdrawalLimit, error)
	UpdateLimitUsage(ctx context.Context, id uuid.UUID, used decimal.Decimal, resetAt time.Time) (int64, error)
}

// UpdateTransactionStatusParams carries a status write. SetCompleted stamps
// completed_at; ErrorMessage is stored verbatim for terminal failures.
type UpdateTransactionStatusParams struct {
	ID           uuid.UUID
	Status       string
	ErrorMessage string
	SetCompleted bool
}

// UpdateAddressCheckpointParams advances a watched address after a poll.
type UpdateAddressCheckpointParams struct {
	ID              uuid.UUID
	ObservedBalance decimal.Decimal
	LastChecked     time.Time
	NextCheckAt     time.Time
}

var _ Querier = (*Queries)(nil)
