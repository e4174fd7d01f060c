package chain

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seyilabs/chainvault/internal/domain"
	"github.com/seyilabs/chainvault/internal/models"
)

func TestErrorClassification(t *testing.T) {
	base := errors.New("node unreachable")

	assert.True(t, IsTransient(Transient(base)))
	assert.False(t, IsPermanent(Transient(base)))

	assert.True(t, IsPermanent(Permanent(base)))
	assert.False(t, IsTransient(Permanent(base)))

	// Unclassified errors default to transient.
	assert.True(t, IsTransient(base))
	assert.False(t, IsTransient(nil))

	// Classification survives wrapping.
	wrapped := errors.Join(errors.New("outer"), Permanent(base))
	assert.True(t, IsPermanent(wrapped))

	// The original error stays reachable through the wrapper.
	assert.True(t, errors.Is(Transient(base), base))
	assert.True(t, errors.Is(Permanent(base), base))
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry()
	mock := NewMock()
	reg.Register(mock)

	got, err := reg.Lookup(domain.ChainMock)
	require.NoError(t, err)
	assert.Same(t, Adapter(mock), got)

	_, err = reg.Lookup("solana")
	assert.Error(t, err)

	cur := &models.Currency{Code: "MCK", Chain: domain.ChainMock}
	got, err = reg.ForCurrency(cur)
	require.NoError(t, err)
	assert.Same(t, Adapter(mock), got)
}

func TestAccountLockSerializesPerChain(t *testing.T) {
	locks := NewAccountLock()

	var mu sync.Mutex
	var inFlight, maxInFlight int

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := locks.Lock("ethereum")
			defer release()

			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()

			mu.Lock()
			inFlight--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInFlight)
}

func TestMockAdapter(t *testing.T) {
	ctx := context.Background()
	m := NewMock()
	cur := &models.Currency{Code: "MCK", Chain: domain.ChainMock, Precision: 8, Confirmations: 2}

	addr, err := m.GenerateAddress(ctx, cur)
	require.NoError(t, err)
	require.NoError(t, m.ValidateAddress(cur, addr.Address))
	require.NotEmpty(t, addr.PrivateKey)

	err = m.ValidateAddress(cur, "bogus")
	require.True(t, IsPermanent(err))
	require.ErrorIs(t, err, domain.ErrInvalidAddress)

	m.SetBalance(addr.Address, decimal.RequireFromString("0.5"))
	bal, err := m.Balance(ctx, cur, addr.Address)
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.RequireFromString("0.5")))

	rcpt, err := m.Send(ctx, SendRequest{Currency: cur, To: addr.Address, Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	require.NotEmpty(t, rcpt.TxID)

	st, err := m.TxStatus(ctx, cur, rcpt.TxID)
	require.NoError(t, err)
	assert.Equal(t, TxConfirmed, st.State)
	assert.Equal(t, uint32(2), st.Confirmations)

	require.Len(t, m.Sent(), 1)

	m.QueueSendError(Transient(errors.New("mempool full")))
	_, err = m.Send(ctx, SendRequest{Currency: cur, To: addr.Address, Amount: decimal.NewFromInt(1)})
	require.True(t, IsTransient(err))
}
