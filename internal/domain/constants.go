package domain

// Transaction types
const (
	TxTypeDeposit    = "deposit"
	TxTypeWithdrawal = "withdrawal"
	TxTypeTransfer   = "transfer"
	TxTypeFee        = "fee"
	TxTypeAdjustment = "adjustment"
)

// Transaction statuses
const (
	TxStatusPending    = "PENDING"
	TxStatusProcessing = "PROCESSING"
	TxStatusCompleted  = "COMPLETED"
	TxStatusFailed     = "FAILED"
	TxStatusCanceled   = "CANCELED"
)

// Withdrawal limit periods
const (
	LimitPeriod24h = "24h"
	LimitPeriod7d  = "7d"
	LimitPeriod30d = "30d"
)

// Withdrawal fee policies
const (
	FeeTypeFixed   = "fixed"
	FeeTypePercent = "percent"
)

// Currency kinds
const (
	CurrencyKindFiat   = "fiat"
	CurrencyKindCrypto = "crypto"
	CurrencyKindToken  = "token"
)

// Chain families understood by the adapter registry.
const (
	ChainEthereum = "ethereum"
	ChainBitcoin  = "bitcoin"
	ChainMock     = "mock"
)
