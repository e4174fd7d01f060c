package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Currency is operator-managed reference data. Immutable from the core's
// point of view.
type Currency struct {
	Code            string          `json:"code"`
	Name            string          `json:"name"`
	Kind            string          `json:"kind"` // fiat | crypto | token
	Chain           string          `json:"chain"`
	Network         string          `json:"network"`
	ContractAddress string          `json:"contract_address,omitempty"`
	Networks        []string        `json:"networks,omitempty"` // multi-network currencies (e.g. a token on two chains)
	Precision       int32           `json:"precision"`
	MinWithdrawal   decimal.Decimal `json:"min_withdrawal"`
	MinDeposit      decimal.Decimal `json:"min_deposit"`
	WithdrawalFee   decimal.Decimal `json:"withdrawal_fee"`
	FeeType         string          `json:"withdrawal_fee_type"` // fixed | percent
	DepositEnabled  bool            `json:"deposit_enabled"`
	WithdrawEnabled bool            `json:"withdrawal_enabled"`
	TradingEnabled  bool            `json:"trading_enabled"`
	Confirmations   uint32          `json:"confirmations_required"`
	IsActive        bool            `json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// SupportsNetwork reports whether net is a valid network selector for the
// currency. An empty selector is always valid and means the default network.
func (c *Currency) SupportsNetwork(net string) bool {
	if net == "" || net == c.Network {
		return true
	}
	for _, n := range c.Networks {
		if n == net {
			return true
		}
	}
	return false
}

// Wallet holds one user's funds in one currency. Mutated only through the
// ledger's guarded operations.
type Wallet struct {
	ID           uuid.UUID       `json:"id"`
	UserID       uuid.UUID       `json:"user_id"`
	Currency     string          `json:"currency"`
	Balance      decimal.Decimal `json:"balance"`
	Locked       decimal.Decimal `json:"locked"`
	Staked       decimal.Decimal `json:"staked"`
	InterestOwed decimal.Decimal `json:"interest_owed"`
	Address      string          `json:"address,omitempty"` // primary deposit address
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Available is always derived, never stored.
func (w *Wallet) Available() decimal.Decimal {
	return w.Balance.Sub(w.Locked)
}

// Transaction is an immutable history record; it is only ever transitioned,
// never deleted.
type Transaction struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	WalletID      uuid.UUID       `json:"wallet_id"`
	Currency      string          `json:"currency"`
	Amount        decimal.Decimal `json:"amount"`
	Fee           decimal.Decimal `json:"fee"`
	Type          string          `json:"type"`
	Status        string          `json:"status"`
	Address       string          `json:"address,omitempty"` // destination (withdrawal) or source (deposit)
	Memo          string          `json:"memo,omitempty"`
	Network       string          `json:"network,omitempty"`
	TxID          string          `json:"txid,omitempty"` // chain transaction hash
	Confirmations uint32          `json:"confirmations"`
	RequiredConfs uint32          `json:"required_confirmations"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// DepositAddress is a watched chain address. Owned by the deposit monitor
// while active.
type DepositAddress struct {
	ID              uuid.UUID       `json:"id"`
	UserID          uuid.UUID       `json:"user_id"`
	Currency        string          `json:"currency"`
	Address         string          `json:"address"`
	Memo            string          `json:"memo,omitempty"`
	KeyBlob         []byte          `json:"-"` // encrypted private key material, may be empty
	DerivationPath  string          `json:"-"`
	Label           string          `json:"label,omitempty"`
	Reusable        bool            `json:"reusable"`
	IsActive        bool            `json:"is_active"`
	ObservedBalance decimal.Decimal `json:"-"` // last credited on-chain balance checkpoint
	LastChecked     *time.Time      `json:"last_checked,omitempty"`
	NextCheckAt     time.Time       `json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// WithdrawalLimit is a per (user, currency, period) quota.
type WithdrawalLimit struct {
	ID          uuid.UUID       `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	Currency    string          `json:"currency"`
	Period      string          `json:"period"` // 24h | 7d | 30d
	Tier        int16           `json:"tier"`
	LimitAmount decimal.Decimal `json:"limit_amount"`
	UsedAmount  decimal.Decimal `json:"used_amount"`
	ResetAt     time.Time       `json:"reset_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Remaining is recomputed on every read.
func (l *WithdrawalLimit) Remaining() decimal.Decimal {
	return l.LimitAmount.Sub(l.UsedAmount)
}

// User carries the identity supplied by the authentication collaborator.
type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}
