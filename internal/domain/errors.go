package domain

import "errors"

var (
	// ErrInsufficientBalance is returned when a lock or debit exceeds the
	// wallet's available balance.
	ErrInsufficientBalance = errors.New("insufficient available balance")

	// ErrLimitExceeded is returned when a withdrawal would exceed the
	// user's remaining limit for any active period.
	ErrLimitExceeded = errors.New("withdrawal limit exceeded")

	// ErrLedgerInconsistency indicates the locked amount no longer covers a
	// release or settlement. It is never silently corrected.
	ErrLedgerInconsistency = errors.New("ledger inconsistency: locked funds do not cover operation")

	// ErrTooLateToCancel is returned when a cancellation arrives after the
	// withdrawal has entered processing.
	ErrTooLateToCancel = errors.New("withdrawal already processing, too late to cancel")

	ErrCurrencyNotFound    = errors.New("currency not found")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrAddressNotFound     = errors.New("deposit address not found")

	ErrInvalidAmount   = errors.New("amount must be greater than zero")
	ErrBelowMinimum    = errors.New("amount below currency minimum")
	ErrInvalidAddress  = errors.New("destination address failed validation")
	ErrInvalidNetwork  = errors.New("network not valid for currency")
	ErrDepositDisabled = errors.New("deposits disabled for currency")
	ErrWithdrawalOff   = errors.New("withdrawals disabled for currency")
)
