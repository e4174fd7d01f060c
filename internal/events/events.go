// Package events publishes custody lifecycle events for downstream
// consumers (notification service, accounting exports).
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	TypeDepositCredited     = "deposit.credited"
	TypeWithdrawalSent      = "withdrawal.sent"
	TypeWithdrawalCompleted = "withdrawal.completed"
	TypeWithdrawalFailed    = "withdrawal.failed"
	TypeWithdrawalCanceled  = "withdrawal.canceled"
	TypeLedgerMismatch      = "ledger.mismatch"
)

// Event is the wire payload. Amount carries the user-facing value; fees are
// reported separately.
type Event struct {
	Type          string          `json:"type"`
	UserID        uuid.UUID       `json:"user_id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	Currency      string          `json:"currency"`
	Amount        decimal.Decimal `json:"amount"`
	Fee           decimal.Decimal `json:"fee,omitempty"`
	TxID          string          `json:"txid,omitempty"`
	Detail        string          `json:"detail,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// Publisher delivers events best-effort. Implementations must not block
// ledger transactions; failures are logged, not returned to the caller's
// business flow.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// LogPublisher writes events to the log only. Default when no broker is
// configured.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, ev Event) error {
	zap.L().Info("custody event",
		zap.String("type", ev.Type),
		zap.String("user_id", ev.UserID.String()),
		zap.String("transaction_id", ev.TransactionID.String()),
		zap.String("currency", ev.Currency),
		zap.String("amount", ev.Amount.String()),
		zap.String("txid", ev.TxID),
	)
	return nil
}

func (LogPublisher) Close() error { return nil }
