// Package chain abstracts the blockchain networks the custody core moves
// funds on. One Adapter per chain; the registry maps currency reference data
// to the adapter that serves it.
package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/seyilabs/chainvault/internal/models"
)

// TxState is the adapter's view of a broadcast transaction.
type TxState uint8

const (
	TxUnknown TxState = iota
	TxPending
	TxConfirmed
	TxFailed
)

// NewAddress is freshly generated key material. PrivateKey is plaintext and
// must be encrypted by the caller before it is persisted anywhere.
type NewAddress struct {
	Address        string
	Memo           string
	PrivateKey     []byte
	DerivationPath string
}

// SendRequest is a withdrawal to broadcast from the chain's hot wallet.
type SendRequest struct {
	Currency *models.Currency
	To       string
	Amount   decimal.Decimal
	Memo     string
}

// Receipt reports a successful broadcast.
type Receipt struct {
	TxID string
	Fee  decimal.Decimal
}

// Status reports the chain-side progress of a transaction.
type Status struct {
	State         TxState
	Confirmations uint32
}

// ErrNoRate means the adapter has no quote for the requested pair. Callers
// fall back to another rate source.
var ErrNoRate = errors.New("no rate available")

// Adapter is one blockchain connection. Implementations are safe for
// concurrent use; Send serializes internally on the hot wallet account.
type Adapter interface {
	Chain() string
	GenerateAddress(ctx context.Context, currency *models.Currency) (*NewAddress, error)
	Balance(ctx context.Context, currency *models.Currency, address string) (decimal.Decimal, error)
	Send(ctx context.Context, req SendRequest) (*Receipt, error)
	TxStatus(ctx context.Context, currency *models.Currency, txid string) (*Status, error)
	GetRate(ctx context.Context, base, quote string) (decimal.Decimal, error)
	ValidateAddress(currency *models.Currency, address string) error
}

// TransientError marks a failure worth retrying: node unreachable, nonce
// races, mempool congestion.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure retries cannot fix: bad address, dust
// amount, rejected script.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsTransient reports whether err should be retried. Unclassified errors
// count as transient so that an ambiguous node failure never burns funds.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var perm *PermanentError
	return !errors.As(err, &perm)
}

func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

// Registry maps chain names to adapters. Populated once at startup,
// read-only afterwards.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Chain()] = a
}

func (r *Registry) Lookup(chain string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[chain]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for chain %q", chain)
	}
	return a, nil
}

// ForCurrency resolves the adapter serving a currency's home chain.
func (r *Registry) ForCurrency(c *models.Currency) (Adapter, error) {
	return r.Lookup(c.Chain)
}

// AccountLock serializes hot wallet sends per chain. Nonce and UTXO
// selection both break under concurrent broadcasts from one account.
type AccountLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewAccountLock() *AccountLock {
	return &AccountLock{locks: make(map[string]*sync.Mutex)}
}

func (l *AccountLock) Lock(chain string) func() {
	l.mu.Lock()
	m, ok := l.locks[chain]
	if !ok {
		m = &sync.Mutex{}
		l.locks[chain] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
