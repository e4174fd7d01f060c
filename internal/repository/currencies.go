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

const currencyColumns = `code, name, kind, chain, network, COALESCE(contract_address, ''), networks,
	precision, min_withdrawal::text, min_deposit::text, withdrawal_fee::text, withdrawal_fee_type,
	deposit_enabled, withdrawal_enabled, trading_enabled, confirmations_required, is_active, created_at, updated_at`

func scanCurrency(row pgx.Row) (*models.Currency, error) {
	var c models.Currency
	var minW, minD, fee string
	if err := row.Scan(&c.Code, &c.Name, &c.Kind, &c.Chain, &c.Network, &c.ContractAddress, &c.Networks,
		&c.Precision, &minW, &minD, &fee, &c.FeeType,
		&c.DepositEnabled, &c.WithdrawEnabled, &c.TradingEnabled, &c.Confirmations, &c.IsActive,
		&c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if c.MinWithdrawal, err = decimal.NewFromString(minW); err != nil {
		return nil, fmt.Errorf("parse min withdrawal: %w", err)
	}
	if c.MinDeposit, err = decimal.NewFromString(minD); err != nil {
		return nil, fmt.Errorf("parse min deposit: %w", err)
	}
	if c.WithdrawalFee, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("parse withdrawal fee: %w", err)
	}
	return &c, nil
}

func (q *Queries) GetCurrency(ctx context.Context, code string) (*models.Currency, error) {
	query := `SELECT ` + currencyColumns + ` FROM currencies WHERE code = $1 AND is_active`
	c, err := scanCurrency(q.db.QueryRow(ctx, query, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrCurrencyNotFound
	}
	return c, err
}

func (q *Queries) ListCurrencies(ctx context.Context) ([]models.Currency, error) {
	query := `SELECT ` + currencyColumns + ` FROM currencies WHERE is_active ORDER BY code`
	rows, err := q.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list currencies: %w", err)
	}
	defer rows.Close()

	var currencies []models.Currency
	for rows.Next() {
		c, err := scanCurrency(rows)
		if err != nil {
			return nil, fmt.Errorf("scan currency: %w", err)
		}
		currencies = append(currencies, *c)
	}
	return currencies, rows.Err()
}

func (q *Queries) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := q.db.QueryRow(ctx,
		`SELECT id, username, email, role, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (q *Queries) CreateUser(ctx context.Context, user *models.User) error {
	query := `INSERT INTO users (id, username, email, role, created_at) VALUES ($1, $2, $3, $4, NOW()) RETURNING created_at`
	if err := q.db.QueryRow(ctx, query, user.ID, user.Username, user.Email, user.Role).Scan(&user.CreatedAt); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}
