package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/seyilabs/chainvault/internal/models"
)

const limitColumns = `id, user_id, currency, period, tier, limit_amount::text, used_amount::text, reset_at, updated_at`

func scanLimit(row pgx.Row) (*models.WithdrawalLimit, error) {
	var l models.WithdrawalLimit
	var limitAmt, usedAmt string
	if err := row.Scan(&l.ID, &l.UserID, &l.Currency, &l.Period, &l.Tier, &limitAmt, &usedAmt, &l.ResetAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if l.LimitAmount, err = decimal.NewFromString(limitAmt); err != nil {
		return nil, fmt.Errorf("parse limit amount: %w", err)
	}
	if l.UsedAmount, err = decimal.NewFromString(usedAmt); err != nil {
		return nil, fmt.Errorf("parse used amount: %w", err)
	}
	return &l, nil
}

// ListLimitsForUpdate locks every limit row for (user, currency) so usage
// checks and increments across periods happen under one consistent view.
func (q *Queries) ListLimitsForUpdate(ctx context.Context, userID uuid.UUID, currency string) ([]models.WithdrawalLimit, error) {
	query := `SELECT ` + limitColumns + ` FROM withdrawal_limits
		WHERE user_id = $1 AND currency = $2
		ORDER BY period
		FOR UPDATE`
	rows, err := q.db.Query(ctx, query, userID, currency)
	if err != nil {
		return nil, fmt.Errorf("list withdrawal limits: %w", err)
	}
	defer rows.Close()

	var limits []models.WithdrawalLimit
	for rows.Next() {
		l, err := scanLimit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan withdrawal limit: %w", err)
		}
		limits = append(limits, *l)
	}
	return limits, rows.Err()
}

func (q *Queries) UpdateLimitUsage(ctx context.Context, id uuid.UUID, used decimal.Decimal, resetAt time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE withdrawal_limits SET used_amount = $1, reset_at = $2, updated_at = NOW() WHERE id = $3`,
		used.String(), resetAt, id)
	if err != nil {
		return 0, fmt.Errorf("update limit usage: %w", err)
	}
	return tag.RowsAffected(), nil
}
