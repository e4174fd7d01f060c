package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/seyilabs/chainvault/internal/domain"
	"github.com/seyilabs/chainvault/internal/models"
	"github.com/seyilabs/chainvault/internal/repository"
)

// LedgerService owns wallet lifecycle and the guarded fund mutations every
// other service goes through. Funds only ever move inside a database
// transaction holding the wallet row lock.
type LedgerService struct {
	store QueryStore
}

func NewLedgerService(store QueryStore) *LedgerService {
	return &LedgerService{store: store}
}

// CreateWallet provisions a zero-balance wallet for the currency. Idempotent
// from the caller's perspective: an existing wallet is returned as-is.
func (s *LedgerService) CreateWallet(ctx context.Context, userID uuid.UUID, currency string) (*models.Wallet, error) {
	queries := s.store.Queries()

	if _, err := queries.GetCurrency(ctx, currency); err != nil {
		return nil, err
	}

	existing, err := queries.GetWallet(ctx, userID, currency)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrWalletNotFound) {
		return nil, err
	}

	wallet := &models.Wallet{
		ID:       uuid.New(),
		UserID:   userID,
		Currency: currency,
	}
	if err := queries.CreateWallet(ctx, wallet); err != nil {
		return nil, err
	}
	return wallet, nil
}

func (s *LedgerService) GetWallet(ctx context.Context, userID uuid.UUID, currency string) (*models.Wallet, error) {
	return s.store.Queries().GetWallet(ctx, userID, currency)
}

func (s *LedgerService) ListWallets(ctx context.Context, userID uuid.UUID) ([]models.Wallet, error) {
	return s.store.Queries().ListWalletsByUser(ctx, userID)
}

func (s *LedgerService) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int32) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.Queries().ListUserTransactions(ctx, userID, limit, offset)
}

func (s *LedgerService) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return s.store.Queries().GetTransaction(ctx, id)
}

// lockWalletFunds reserves amount out of the available balance. The guarded
// update affects zero rows when available funds are short.
func lockWalletFunds(ctx context.Context, q repository.Querier, walletID uuid.UUID, amount decimal.Decimal) error {
	rows, err := q.LockWalletFunds(ctx, walletID, amount)
	if err != nil {
		return fmt.Errorf("lock wallet funds: %w", err)
	}
	if rows == 0 {
		return domain.ErrInsufficientBalance
	}
	return nil
}

// settleLockedFunds removes amount from both balance and locked after the
// chain transfer is final.
func settleLockedFunds(ctx context.Context, q repository.Querier, walletID uuid.UUID, amount decimal.Decimal) error {
	rows, err := q.SettleLockedFunds(ctx, walletID, amount)
	if err != nil {
		return fmt.Errorf("settle locked funds: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("settle locked funds: %w", domain.ErrLedgerInconsistency)
	}
	return nil
}

// releaseLockedFunds returns amount to the available balance after a failed
// or canceled withdrawal.
func releaseLockedFunds(ctx context.Context, q repository.Querier, walletID uuid.UUID, amount decimal.Decimal) error {
	rows, err := q.ReleaseLockedToBalance(ctx, walletID, amount)
	if err != nil {
		return fmt.Errorf("release locked funds: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("release locked funds: %w", domain.ErrLedgerInconsistency)
	}
	return nil
}

// creditWalletBalance adds a strictly positive deposit amount.
func creditWalletBalance(ctx context.Context, q repository.Querier, walletID uuid.UUID, amount decimal.Decimal) error {
	rows, err := q.AddWalletBalance(ctx, walletID, amount)
	if err != nil {
		return fmt.Errorf("credit wallet: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("credit wallet: %w", domain.ErrInvalidAmount)
	}
	return nil
}
