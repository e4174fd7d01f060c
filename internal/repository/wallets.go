package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/seyilabs/chainvault/internal/domain"
	"github.com/seyilabs/chainvault/internal/models"
)

const walletColumns = `id, user_id, currency, balance::text, locked::text, staked::text, interest_owed::text, COALESCE(address, ''), created_at, updated_at`

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	var w models.Wallet
	var balance, locked, staked, interest string
	if err := row.Scan(&w.ID, &w.UserID, &w.Currency, &balance, &locked, &staked, &interest, &w.Address, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if w.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("parse wallet balance: %w", err)
	}
	if w.Locked, err = decimal.NewFromString(locked); err != nil {
		return nil, fmt.Errorf("parse wallet locked: %w", err)
	}
	if w.Staked, err = decimal.NewFromString(staked); err != nil {
		return nil, fmt.Errorf("parse wallet staked: %w", err)
	}
	if w.InterestOwed, err = decimal.NewFromString(interest); err != nil {
		return nil, fmt.Errorf("parse wallet interest: %w", err)
	}
	return &w, nil
}

func (q *Queries) CreateWallet(ctx context.Context, w *models.Wallet) error {
	query := `INSERT INTO wallets (id, user_id, currency, balance, locked, staked, interest_owed, address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, 0, NULLIF($6, ''), NOW(), NOW()) RETURNING created_at, updated_at`
	err := q.db.QueryRow(ctx, query, w.ID, w.UserID, w.Currency, w.Balance.String(), w.Locked.String(), w.Address).
		Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create wallet: %w", err)
	}
	return nil
}

func (q *Queries) GetWallet(ctx context.Context, userID uuid.UUID, currency string) (*models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 AND currency = $2`
	w, err := scanWallet(q.db.QueryRow(ctx, query, userID, currency))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrWalletNotFound
	}
	return w, err
}

// GetWalletForUpdate takes the row lock that serializes all mutations on one
// (user, currency) wallet for the duration of the enclosing transaction.
func (q *Queries) GetWalletForUpdate(ctx context.Context, userID uuid.UUID, currency string) (*models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 AND currency = $2 FOR UPDATE`
	w, err := scanWallet(q.db.QueryRow(ctx, query, userID, currency))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrWalletNotFound
	}
	return w, err
}

func (q *Queries) ListWalletsByUser(ctx context.Context, userID uuid.UUID) ([]models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 ORDER BY currency`
	rows, err := q.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []models.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		wallets = append(wallets, *w)
	}
	return wallets, rows.Err()
}

func (q *Queries) SetWalletAddress(ctx context.Context, id uuid.UUID, address string) (int64, error) {
	tag, err := q.db.Exec(ctx, `UPDATE wallets SET address = $1, updated_at = NOW() WHERE id = $2`, address, id)
	if err != nil {
		return 0, fmt.Errorf("set wallet address: %w", err)
	}
	return tag.RowsAffected(), nil
}

// AddWalletBalance credits the wallet. Amount must be positive; the guard is
// in the statement so a bad caller cannot debit through this path.
func (q *Queries) AddWalletBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE wallets SET balance = balance + $1::numeric, updated_at = NOW() WHERE id = $2 AND $1::numeric > 0`,
		amount.String(), id)
	if err != nil {
		return 0, fmt.Errorf("add wallet balance: %w", err)
	}
	return tag.RowsAffected(), nil
}

// LockWalletFunds reserves amount; the condition keeps locked <= balance.
func (q *Queries) LockWalletFunds(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE wallets SET locked = locked + $1::numeric, updated_at = NOW()
		 WHERE id = $2 AND balance - locked >= $1::numeric`,
		amount.String(), id)
	if err != nil {
		return 0, fmt.Errorf("lock wallet funds: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SettleLockedFunds removes amount from both locked and balance: the funds
// left the system on-chain.
func (q *Queries) SettleLockedFunds(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE wallets SET balance = balance - $1::numeric, locked = locked - $1::numeric, updated_at = NOW()
		 WHERE id = $2 AND locked >= $1::numeric AND balance >= $1::numeric`,
		amount.String(), id)
	if err != nil {
		return 0, fmt.Errorf("settle locked funds: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ReleaseLockedToBalance returns locked funds to spendable balance on cancel
// or failure. balance is untouched; only the reservation is dropped.
func (q *Queries) ReleaseLockedToBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE wallets SET locked = locked - $1::numeric, updated_at = NOW()
		 WHERE id = $2 AND locked >= $1::numeric`,
		amount.String(), id)
	if err != nil {
		return 0, fmt.Errorf("release locked funds: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListInconsistentWallets finds rows violating the fund invariants. Schema
// CHECK constraints make this unreachable in normal operation; the
// reconciler scans anyway and alarms on hits.
func (q *Queries) ListInconsistentWallets(ctx context.Context, limit int32) ([]models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets
		WHERE balance < 0 OR locked < 0 OR balance < locked
		LIMIT $1`
	rows, err := q.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list inconsistent wallets: %w", err)
	}
	defer rows.Close()

	var wallets []models.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		wallets = append(wallets, *w)
	}
	return wallets, rows.Err()
}
