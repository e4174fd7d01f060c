package chain

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/seyilabs/chainvault/internal/domain"
	"github.com/seyilabs/chainvault/internal/models"
)

// Mock simulates a blockchain for development and tests. Balances and
// transaction states are set by hand; Send always succeeds unless a
// scripted error is queued.
type Mock struct {
	mu       sync.Mutex
	name     string
	balances map[string]decimal.Decimal
	balErrs  map[string]error
	statuses map[string]Status
	sendErrs []error
	sent     []SendRequest
	rates    map[string]decimal.Decimal
	hold     bool
}

var _ Adapter = (*Mock)(nil)

func NewMock() *Mock {
	return &Mock{
		name:     domain.ChainMock,
		balances: make(map[string]decimal.Decimal),
		balErrs:  make(map[string]error),
		statuses: make(map[string]Status),
		rates:    make(map[string]decimal.Decimal),
	}
}

func (m *Mock) Chain() string { return m.name }

func (m *Mock) GenerateAddress(ctx context.Context, currency *models.Currency) (*NewAddress, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return &NewAddress{
		Address:    "mock1" + hex.EncodeToString(buf),
		PrivateKey: key,
	}, nil
}

func (m *Mock) Balance(ctx context.Context, currency *models.Currency, address string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.balErrs[address]; err != nil {
		return decimal.Zero, err
	}
	return m.balances[address], nil
}

func (m *Mock) Send(ctx context.Context, req SendRequest) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sendErrs) > 0 {
		err := m.sendErrs[0]
		m.sendErrs = m.sendErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if err := m.validateAddressLocked(req.To); err != nil {
		return nil, err
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	txid := "mocktx" + hex.EncodeToString(buf)
	m.sent = append(m.sent, req)
	st := Status{State: TxConfirmed, Confirmations: req.Currency.Confirmations}
	if m.hold {
		st = Status{State: TxPending}
	}
	m.statuses[txid] = st
	return &Receipt{TxID: txid, Fee: decimal.Zero}, nil
}

func (m *Mock) TxStatus(ctx context.Context, currency *models.Currency, txid string) (*Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statuses[txid]
	if !ok {
		return nil, Transient(fmt.Errorf("transaction %s not found", txid))
	}
	return &st, nil
}

func (m *Mock) GetRate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rate, ok := m.rates[base+"/"+quote]
	if !ok {
		return decimal.Zero, ErrNoRate
	}
	return rate, nil
}

func (m *Mock) ValidateAddress(currency *models.Currency, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validateAddressLocked(address)
}

func (m *Mock) validateAddressLocked(address string) error {
	if !strings.HasPrefix(address, "mock1") || len(address) != 45 {
		return Permanent(domain.ErrInvalidAddress)
	}
	return nil
}

// SetBalance scripts the on-chain balance Balance returns for address.
func (m *Mock) SetBalance(address string, bal decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[address] = bal
}

// SetBalanceError makes Balance fail for address until cleared with a nil err.
func (m *Mock) SetBalanceError(address string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.balErrs, address)
		return
	}
	m.balErrs[address] = err
}

// SetRate scripts the quote GetRate returns for a base/quote pair.
func (m *Mock) SetRate(base, quote string, rate decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates[base+"/"+quote] = rate
}

// HoldConfirmations makes Send leave its transactions pending instead of
// confirming them instantly. Script the outcome later with SetStatus.
func (m *Mock) HoldConfirmations() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hold = true
}

// SetStatus scripts the outcome TxStatus reports for a txid.
func (m *Mock) SetStatus(txid string, st Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[txid] = st
}

// QueueSendError makes the next Send call fail with err.
func (m *Mock) QueueSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErrs = append(m.sendErrs, err)
}

// Sent returns the broadcast requests seen so far.
func (m *Mock) Sent() []SendRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SendRequest, len(m.sent))
	copy(out, m.sent)
	return out
}
