package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/seyilabs/chainvault/internal/domain"
	"github.com/seyilabs/chainvault/internal/models"
)

const addressColumns = `id, user_id, currency, address, COALESCE(memo, ''), COALESCE(key_blob, ''::bytea),
	COALESCE(derivation_path, ''), COALESCE(label, ''), reusable, is_active, observed_balance::text,
	last_checked, next_check_at, created_at, updated_at`

func scanDepositAddress(row pgx.Row) (*models.DepositAddress, error) {
	var a models.DepositAddress
	var observed string
	if err := row.Scan(&a.ID, &a.UserID, &a.Currency, &a.Address, &a.Memo, &a.KeyBlob,
		&a.DerivationPath, &a.Label, &a.Reusable, &a.IsActive, &observed,
		&a.LastChecked, &a.NextCheckAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if a.ObservedBalance, err = decimal.NewFromString(observed); err != nil {
		return nil, fmt.Errorf("parse observed balance: %w", err)
	}
	return &a, nil
}

func (q *Queries) CreateDepositAddress(ctx context.Context, a *models.DepositAddress) error {
	query := `INSERT INTO deposit_addresses
		(id, user_id, currency, address, memo, key_blob, derivation_path, label, reusable, is_active,
		 observed_balance, next_check_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11, $12, NOW(), NOW())
		RETURNING created_at, updated_at`
	err := q.db.QueryRow(ctx, query,
		a.ID, a.UserID, a.Currency, a.Address, a.Memo, a.KeyBlob, a.DerivationPath, a.Label,
		a.Reusable, a.IsActive, a.ObservedBalance.String(), a.NextCheckAt).
		Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create deposit address: %w", err)
	}
	return nil
}

func (q *Queries) GetDepositAddress(ctx context.Context, id uuid.UUID) (*models.DepositAddress, error) {
	query := `SELECT ` + addressColumns + ` FROM deposit_addresses WHERE id = $1`
	a, err := scanDepositAddress(q.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAddressNotFound
	}
	return a, err
}

// ListDueDepositAddresses returns active addresses whose next poll time has
// arrived, oldest first so a slow chain cannot starve the rest.
func (q *Queries) ListDueDepositAddresses(ctx context.Context, now time.Time, limit int32) ([]models.DepositAddress, error) {
	query := `SELECT ` + addressColumns + ` FROM deposit_addresses
		WHERE is_active AND next_check_at <= $1
		ORDER BY next_check_at
		LIMIT $2`
	rows, err := q.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due deposit addresses: %w", err)
	}
	return collectDepositAddresses(rows)
}

func (q *Queries) ListUserDepositAddresses(ctx context.Context, userID uuid.UUID, currency string) ([]models.DepositAddress, error) {
	query := `SELECT ` + addressColumns + ` FROM deposit_addresses
		WHERE user_id = $1 AND ($2 = '' OR currency = $2) AND is_active
		ORDER BY created_at DESC`
	rows, err := q.db.Query(ctx, query, userID, currency)
	if err != nil {
		return nil, fmt.Errorf("list user deposit addresses: %w", err)
	}
	return collectDepositAddresses(rows)
}

func (q *Queries) UpdateDepositAddressCheckpoint(ctx context.Context, arg UpdateAddressCheckpointParams) (int64, error) {
	query := `UPDATE deposit_addresses
		SET observed_balance = $1, last_checked = $2, next_check_at = $3, updated_at = NOW()
		WHERE id = $4`
	tag, err := q.db.Exec(ctx, query, arg.ObservedBalance.String(), arg.LastChecked, arg.NextCheckAt, arg.ID)
	if err != nil {
		return 0, fmt.Errorf("update deposit address checkpoint: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) DeactivateDepositAddress(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE deposit_addresses SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("deactivate deposit address: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectDepositAddresses(rows pgx.Rows) ([]models.DepositAddress, error) {
	defer rows.Close()
	var addrs []models.DepositAddress
	for rows.Next() {
		a, err := scanDepositAddress(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deposit address: %w", err)
		}
		addrs = append(addrs, *a)
	}
	return addrs, rows.Err()
}
