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

const transactionColumns = `id, user_id, wallet_id, currency, amount::text, fee::text, type, status,
	COALESCE(address, ''), COALESCE(memo, ''), COALESCE(network, ''), COALESCE(txid, ''),
	confirmations, required_confirmations, COALESCE(error_message, ''), created_at, updated_at, completed_at`

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	var amount, fee string
	if err := row.Scan(&t.ID, &t.UserID, &t.WalletID, &t.Currency, &amount, &fee, &t.Type, &t.Status,
		&t.Address, &t.Memo, &t.Network, &t.TxID,
		&t.Confirmations, &t.RequiredConfs, &t.ErrorMessage, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt); err != nil {
		return nil, err
	}
	var err error
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse transaction amount: %w", err)
	}
	if t.Fee, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("parse transaction fee: %w", err)
	}
	return &t, nil
}

func (q *Queries) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	query := `INSERT INTO transactions
		(id, user_id, wallet_id, currency, amount, fee, type, status, address, memo, network, txid,
		 confirmations, required_confirmations, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''), NULLIF($12, ''),
		 $13, $14, NOW(), NOW(), $15)
		RETURNING created_at, updated_at`
	err := q.db.QueryRow(ctx, query,
		tx.ID, tx.UserID, tx.WalletID, tx.Currency, tx.Amount.String(), tx.Fee.String(), tx.Type, tx.Status,
		tx.Address, tx.Memo, tx.Network, tx.TxID, tx.Confirmations, tx.RequiredConfs, tx.CompletedAt).
		Scan(&tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

func (q *Queries) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	t, err := scanTransaction(q.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTransactionNotFound
	}
	return t, err
}

func (q *Queries) GetTransactionStatusForUpdate(ctx context.Context, id uuid.UUID) (string, error) {
	var status string
	err := q.db.QueryRow(ctx, `SELECT status FROM transactions WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrTransactionNotFound
	}
	return status, err
}

func (q *Queries) UpdateTransactionStatus(ctx context.Context, arg UpdateTransactionStatusParams) (int64, error) {
	query := `UPDATE transactions SET status = $1, error_message = NULLIF($2, ''),
		completed_at = CASE WHEN $3 THEN NOW() ELSE completed_at END, updated_at = NOW()
		WHERE id = $4`
	tag, err := q.db.Exec(ctx, query, arg.Status, arg.ErrorMessage, arg.SetCompleted, arg.ID)
	if err != nil {
		return 0, fmt.Errorf("update transaction status: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) SetTransactionTxID(ctx context.Context, id uuid.UUID, txid string) (int64, error) {
	tag, err := q.db.Exec(ctx, `UPDATE transactions SET txid = $1, updated_at = NOW() WHERE id = $2`, txid, id)
	if err != nil {
		return 0, fmt.Errorf("set transaction txid: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) UpdateTransactionConfirmations(ctx context.Context, id uuid.UUID, confirmations uint32) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE transactions SET confirmations = $1, updated_at = NOW() WHERE id = $2`, confirmations, id)
	if err != nil {
		return 0, fmt.Errorf("update transaction confirmations: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ClaimPendingWithdrawals selects a batch of pending withdrawals for a
// worker. SKIP LOCKED keeps concurrent worker instances from claiming the
// same rows.
func (q *Queries) ClaimPendingWithdrawals(ctx context.Context, limit int32) ([]models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE type = $1 AND status = $2
		ORDER BY created_at
		LIMIT $3
		FOR UPDATE SKIP LOCKED`
	return q.listTransactions(ctx, query, domain.TxTypeWithdrawal, domain.TxStatusPending, limit)
}

// ListStaleProcessingWithdrawals finds withdrawals a crashed worker left in
// processing before broadcast (no txid recorded). Anything with a txid is
// the reconciler's responsibility instead.
func (q *Queries) ListStaleProcessingWithdrawals(ctx context.Context, cutoff time.Time, limit int32) ([]models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE type = $1 AND status = $2 AND txid IS NULL AND updated_at < $3
		ORDER BY updated_at
		LIMIT $4
		FOR UPDATE SKIP LOCKED`
	rows, err := q.db.Query(ctx, query, domain.TxTypeWithdrawal, domain.TxStatusProcessing, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale withdrawals: %w", err)
	}
	return collectTransactions(rows)
}

// ListBroadcastWithdrawals returns processing withdrawals that already have
// a chain hash, for the reconciliation scan.
func (q *Queries) ListBroadcastWithdrawals(ctx context.Context, limit int32) ([]models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE type = $1 AND status = $2 AND txid IS NOT NULL
		ORDER BY updated_at
		LIMIT $3`
	return q.listTransactions(ctx, query, domain.TxTypeWithdrawal, domain.TxStatusProcessing, limit)
}

func (q *Queries) ListUserTransactions(ctx context.Context, userID uuid.UUID, limit, offset int32) ([]models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := q.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list user transactions: %w", err)
	}
	return collectTransactions(rows)
}

func (q *Queries) listTransactions(ctx context.Context, query string, args ...any) ([]models.Transaction, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return collectTransactions(rows)
}

func collectTransactions(rows pgx.Rows) ([]models.Transaction, error) {
	defer rows.Close()
	var txs []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

// CountPendingWithdrawals reports the broadcast backlog size.
func (q *Queries) CountPendingWithdrawals(ctx context.Context) (int64, error) {
	query := `SELECT COUNT(*) FROM transactions WHERE type = $1 AND status = $2`
	var count int64
	if err := q.db.QueryRow(ctx, query, domain.TxTypeWithdrawal, domain.TxStatusPending).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending withdrawals: %w", err)
	}
	return count, nil
}
